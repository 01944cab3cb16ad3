package statements

import (
	"github.com/roach88/homevent/internal/async"
	"github.com/roach88/homevent/internal/interp"
	"github.com/roach88/homevent/internal/ir"
)

func shutdownWord(env *Env) interp.Word {
	return interp.NewSimple(ir.NewName("shutdown"), "stop the engine",
		func(call *interp.Call) *async.Future {
			p, err := params(call, 0, 1)
			if err != nil {
				return async.Failed(err)
			}
			if p.Len() == 0 {
				return async.Settled(nil, env.Engine.Shutdown(call.Ctx.Task()))
			}
			if p.Head() != "now" {
				return async.Failed(interp.Errorf(call.Words, "unknown argument %q", p.Words()))
			}
			env.Engine.ShutdownNow()
			return async.Failed(interp.ErrExit)
		}).WithLongDoc(`shutdown
	Sends the shutdown event. The engine stops once every running event
	handler and timer has finished; open inputs are closed.
shutdown now
	Stops at once. Running handlers are abandoned and inputs are cut off.`)
}

func exitWord() interp.Word {
	return interp.NewSync(ir.NewName("exit"), "stop reading this input",
		func(call *interp.Call) error {
			if _, err := params(call, 0, 0); err != nil {
				return err
			}
			return interp.ErrExit
		})
}
