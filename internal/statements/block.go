package statements

import (
	"github.com/roach88/homevent/internal/async"
	"github.com/roach88/homevent/internal/interp"
	"github.com/roach88/homevent/internal/ir"
)

type blockStatement struct {
	env *Env
}

func blockWord(env *Env) interp.Word { return &blockStatement{env: env} }

func (b *blockStatement) Name() ir.Name { return ir.NewName("block") }
func (b *blockStatement) Doc() string   { return "run a group of statements" }

func (b *blockStatement) LongDoc() string {
	return `block:
	Collects the indented statements and runs them, in order, once the
	block ends. Input stops until the last of them has finished.`
}

// Open implements interp.ComplexWord.
func (b *blockStatement) Open(call *interp.Call) *async.Future {
	if _, err := params(call, 0, 0); err != nil {
		return async.Failed(err)
	}
	rec := interp.NewRecorder(call.Ctx, b.env.Words, func(body *interp.Block) *async.Future {
		main := interp.NewMain(call.Ctx, b.env.Words)
		return async.Go(func() (any, error) {
			return nil, interp.Replay(call.Ctx.Task(), main, body)
		})
	})
	return async.Resolved(rec)
}
