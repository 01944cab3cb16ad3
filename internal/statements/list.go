package statements

import (
	"fmt"
	"io"
	"strings"

	"github.com/roach88/homevent/internal/engine"
	"github.com/roach88/homevent/internal/event"
	"github.com/roach88/homevent/internal/interp"
	"github.com/roach88/homevent/internal/ir"
)

func listWord(env *Env) interp.Word {
	return interp.NewSync(ir.NewName("list"), "show the engine's collections",
		func(call *interp.Call) error {
			p, err := params(call, 0, -1)
			if err != nil {
				return err
			}
			return list(call.Ctx.Out(), env.Engine, p)
		}).WithLongDoc(`list
	Shows the names of all collections.
list NAME
	Shows the entries of collection NAME, one per line.
list NAME ENTRY...
	Shows the details of one entry.`)
}

func list(w io.Writer, e *engine.Engine, p ir.Name) error {
	if p.IsEmpty() {
		for _, c := range e.Collections() {
			fmt.Fprintln(w, c.CollectionName())
		}
		return nil
	}
	c, ok := e.Collection(p.Head())
	if !ok {
		return fmt.Errorf("no collection %q", p.Head())
	}
	if p.Len() == 1 {
		for key, item := range c.Items() {
			if d, ok := item.(interface{ Doc() string }); ok && d.Doc() != "" {
				fmt.Fprintf(w, "%s :: %s\n", key, d.Doc())
				continue
			}
			fmt.Fprintln(w, key)
		}
		return nil
	}

	want := p.Drop(1).Words()
	for key, item := range c.Items() {
		if key != want {
			continue
		}
		describe(w, item)
		return nil
	}
	return fmt.Errorf("%s: no entry %q", c.CollectionName(), want)
}

// describe prints one collection entry, preferring its key/value listing.
func describe(w io.Writer, item any) {
	switch v := item.(type) {
	case event.Listable:
		for k, val := range v.List() {
			fmt.Fprintf(w, "%s: %s\n", k, val)
		}
	case event.Reportable:
		for _, line := range event.ReportLines(v, true) {
			fmt.Fprintln(w, line)
		}
	case interp.Word:
		fmt.Fprintf(w, "%s: %s\n", v.Name().Words(), v.Doc())
	default:
		fmt.Fprintf(w, "%v\n", v)
	}
}

func helpWord(env *Env) interp.Word {
	return interp.NewSync(ir.NewName("help"), "show what a statement does",
		func(call *interp.Call) error {
			p, err := params(call, 0, -1)
			if err != nil {
				return err
			}
			return help(call.Ctx.Out(), env.Words, p)
		}).WithLongDoc(`help
	Lists every statement.
help WORD...
	Shows the description of one statement and the statements that may
	be used inside its block.`)
}

func help(w io.Writer, words *interp.Registry, p ir.Name) error {
	if p.IsEmpty() {
		printWords(w, words.Words(), "")
		return nil
	}
	word, n, err := words.Lookup(p)
	if err != nil || n < p.Len() {
		prefixed := words.Prefixed(p)
		if len(prefixed) == 0 {
			return &interp.ResolutionError{Words: p}
		}
		printWords(w, prefixed, "")
		return nil
	}
	fmt.Fprintf(w, "%s: %s\n", word.Name().Words(), word.Doc())
	if d, ok := word.(interp.Documented); ok && d.LongDoc() != "" {
		fmt.Fprintln(w, strings.TrimRight(d.LongDoc(), "\n"))
	}
	if s, ok := word.(interp.Scoped); ok {
		var local []interp.Word
		for _, lw := range s.LocalWords().Words() {
			if _, global := words.Local(lw.Name()); !global {
				local = append(local, lw)
			}
		}
		if len(local) > 0 {
			fmt.Fprintln(w, "Inside the block:")
			printWords(w, local, "\t")
		}
	}
	return nil
}

func printWords(w io.Writer, words []interp.Word, indent string) {
	width := 0
	for _, word := range words {
		width = max(width, len(word.Name().Words()))
	}
	for _, word := range words {
		fmt.Fprintf(w, "%s%-*s  %s\n", indent, width, word.Name().Words(), word.Doc())
	}
}
