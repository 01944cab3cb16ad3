package interp

import (
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/homevent/internal/ir"
)

// Registry maps word sequences to statements.
//
// Lookup tries this scope first and falls back to the parent chain. Within
// one scope the longest matching prefix wins, so "log level" shadows "log"
// for "log level DEBUG" but not for "log DEBUG hello".
type Registry struct {
	name   string
	t      *trie
	parent *Registry
}

type trie struct {
	mu   sync.RWMutex
	root *node
}

type node struct {
	word     Word
	children map[string]*node
}

// NewRegistry creates an empty scope.
func NewRegistry(name string, parent *Registry) *Registry {
	return &Registry{
		name:   name,
		t:      &trie{root: &node{}},
		parent: parent,
	}
}

// Name returns the scope name.
func (r *Registry) Name() string { return r.name }

// Parent returns the enclosing scope, or nil.
func (r *Registry) Parent() *Registry { return r.parent }

// Register adds w under w.Name(). A word already registered at that exact
// path in this scope is an error.
func (r *Registry) Register(w Word) error {
	name := w.Name()
	if name.IsEmpty() {
		return fmt.Errorf("%s: cannot register a word with an empty name", r.name)
	}
	r.t.mu.Lock()
	defer r.t.mu.Unlock()

	n := r.t.root
	for _, a := range name.Atoms() {
		key := ir.AtomString(a)
		child, ok := n.children[key]
		if !ok {
			if n.children == nil {
				n.children = make(map[string]*node)
			}
			child = &node{}
			n.children[key] = child
		}
		n = child
	}
	if n.word != nil {
		return fmt.Errorf("%s: word %q already registered", r.name, name.Words())
	}
	n.word = w
	return nil
}

// MustRegister is Register for static word tables. Panics on error.
func (r *Registry) MustRegister(words ...Word) *Registry {
	for _, w := range words {
		if err := r.Register(w); err != nil {
			panic(err)
		}
	}
	return r
}

// Unregister removes the word at exactly name from this scope.
func (r *Registry) Unregister(name ir.Name) error {
	r.t.mu.Lock()
	defer r.t.mu.Unlock()

	n := r.find(name)
	if n == nil || n.word == nil {
		return fmt.Errorf("%s: word %q is not registered", r.name, name.Words())
	}
	n.word = nil
	return nil
}

// find walks the exact path for name. Caller holds the lock.
func (r *Registry) find(name ir.Name) *node {
	n := r.t.root
	for _, a := range name.Atoms() {
		n = n.children[ir.AtomString(a)]
		if n == nil {
			return nil
		}
	}
	return n
}

// Local returns the word registered at exactly name in this scope.
func (r *Registry) Local(name ir.Name) (Word, bool) {
	r.t.mu.RLock()
	defer r.t.mu.RUnlock()
	n := r.find(name)
	if n == nil || n.word == nil {
		return nil, false
	}
	return n.word, true
}

// Lookup resolves the leading atoms of args to a word and returns it with
// the number of atoms it consumed.
func (r *Registry) Lookup(args ir.Name) (Word, int, error) {
	for s := r; s != nil; s = s.parent {
		if w, n := s.longest(args); w != nil {
			return w, n, nil
		}
	}
	return nil, 0, &ResolutionError{Words: args}
}

func (r *Registry) longest(args ir.Name) (Word, int) {
	r.t.mu.RLock()
	defer r.t.mu.RUnlock()

	var (
		best  Word
		depth int
	)
	n := r.t.root
	for i, a := range args.Atoms() {
		n = n.children[ir.AtomString(a)]
		if n == nil {
			break
		}
		if n.word != nil {
			best, depth = n.word, i+1
		}
	}
	return best, depth
}

// Words returns every word visible from this scope, inner scopes shadowing
// outer ones, ordered by name.
func (r *Registry) Words() []Word {
	seen := make(map[string]bool)
	var out []Word
	for s := r; s != nil; s = s.parent {
		s.t.mu.RLock()
		walk(s.t.root, func(w Word) {
			key := w.Name().Key()
			if !seen[key] {
				seen[key] = true
				out = append(out, w)
			}
		})
		s.t.mu.RUnlock()
	}
	slices.SortFunc(out, func(a, b Word) int { return a.Name().Compare(b.Name()) })
	return out
}

// Prefixed returns the visible words whose name starts with prefix.
func (r *Registry) Prefixed(prefix ir.Name) []Word {
	var out []Word
	for _, w := range r.Words() {
		if w.Name().HasPrefix(prefix) {
			out = append(out, w)
		}
	}
	return out
}

func walk(n *node, fn func(Word)) {
	if n.word != nil {
		fn(n.word)
	}
	for _, c := range n.children {
		walk(c, fn)
	}
}
