package statements

import (
	"github.com/roach88/homevent/internal/async"
	"github.com/roach88/homevent/internal/event"
	"github.com/roach88/homevent/internal/interp"
	"github.com/roach88/homevent/internal/ir"
)

func newEvent(env *Env, call *interp.Call) (*event.Event, error) {
	p, err := params(call, 1, -1)
	if err != nil {
		return nil, err
	}
	return env.Engine.NewEvent(call.Ctx, p)
}

func triggerWord(env *Env) interp.Word {
	return interp.NewSimple(ir.NewName("trigger"), "send an event",
		func(call *interp.Call) *async.Future {
			ev, err := newEvent(env, call)
			if err != nil {
				return async.Failed(err)
			}
			env.Engine.Trigger(call.Ctx.Task(), ev)
			return async.Resolved(ev)
		}).WithLongDoc(`trigger NAME...
	Queues the event NAME and continues at once. Failures of the
	event's workers are logged, not reported here.`)
}

func syncTriggerWord(env *Env) interp.Word {
	return interp.NewSimple(ir.NewName("sync", "trigger"), "send an event and wait for its dispatch",
		func(call *interp.Call) *async.Future {
			ev, err := newEvent(env, call)
			if err != nil {
				return async.Failed(err)
			}
			return env.Engine.ProcessEvent(call.Ctx.Task(), ev)
		}).WithLongDoc(`sync trigger NAME...
	Queues the event NAME and waits until every worker has seen it.
	Work the workers started in the background is not waited for.`)
}
