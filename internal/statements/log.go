package statements

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/homevent/internal/interp"
	"github.com/roach88/homevent/internal/ir"
	"github.com/roach88/homevent/internal/logging"
)

// outputLoggerName names the logger writing to ctx's output.
func outputLoggerName(call *interp.Call) string {
	if s := call.Ctx.Session(); s != "" {
		return "out:" + s
	}
	return "out:" + call.Ctx.Filename()
}

func logWord(env *Env) interp.Word {
	return interp.NewSync(ir.NewName("log"), "write a log message or set the output's log level",
		func(call *interp.Call) error {
			p, err := params(call, 0, -1)
			if err != nil {
				return err
			}
			if p.IsEmpty() {
				for _, l := range env.Hub.Loggers() {
					fmt.Fprintf(call.Ctx.Out(), "%s: %s\n", l.Name(), l.Level())
				}
				return nil
			}
			lv, err := ir.ParseLevel(p.Head())
			if err != nil {
				return interp.Errorf(call.Words, "%v", err)
			}
			if p.Len() > 1 {
				env.Hub.Log(lv, strings.Join(p.Drop(1).Strings(), " "))
				return nil
			}
			return setOutputLogger(env.Hub, call, lv)
		}).WithLongDoc(`log
	Lists the loggers and their levels.
log LEVEL
	Shows events and messages at LEVEL or above on this input's output.
	"log NONE" turns that off again.
log LEVEL TEXT...
	Sends TEXT to every logger at LEVEL.`)
}

func setOutputLogger(hub *logging.Hub, call *interp.Call, lv ir.Level) error {
	name := outputLoggerName(call)
	if l, ok := hub.Get(name); ok {
		if lv == ir.LevelNone {
			return hub.Remove(context.Background(), name)
		}
		l.SetLevel(lv)
		return nil
	}
	if lv == ir.LevelNone {
		return nil
	}
	return hub.Add(logging.NewLogger(name, lv, logging.NewTextSink(call.Ctx.Out(), false)))
}

func logLevelWord(env *Env) interp.Word {
	return interp.NewSync(ir.NewName("log", "level"), "show or set a subsystem's trace level",
		func(call *interp.Call) error {
			p, err := params(call, 0, 2)
			if err != nil {
				return err
			}
			levels := env.Engine.Levels()
			switch p.Len() {
			case 0:
				for _, sub := range levels.Subsystems() {
					fmt.Fprintf(call.Ctx.Out(), "%s: %s\n", sub, levels.Level(sub))
				}
			case 1:
				fmt.Fprintf(call.Ctx.Out(), "%s: %s\n", p.Head(), levels.Level(p.Head()))
			default:
				lv, err := ir.ParseLevel(ir.AtomString(p.At(1)))
				if err != nil {
					return interp.Errorf(call.Words, "%v", err)
				}
				levels.Set(p.Head(), lv)
			}
			return nil
		}).WithLongDoc(`log level
	Lists the subsystems with their own level.
log level SUBSYSTEM [LEVEL]
	Shows or sets the level of SUBSYSTEM, e.g. "log level parser TRACE".`)
}
