package statements

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/roach88/homevent/internal/async"
	"github.com/roach88/homevent/internal/interp"
	"github.com/roach88/homevent/internal/ir"
)

// ErrWaitCanceled rejects a wait removed with "del wait" or at shutdown.
var ErrWaitCanceled = errors.New("wait canceled")

const attrWait = "wait"

// Wait is one running timer.
type Wait struct {
	name     ir.Name
	duration time.Duration
	started  time.Time
	timer    *time.Timer
	done     *async.Future
}

// Name returns the wait's name.
func (w *Wait) Name() ir.Name { return w.name }

// Done returns the Future resolved when the timer fires.
func (w *Wait) Done() *async.Future { return w.done }

// List implements event.Listable.
func (w *Wait) List() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		remaining := max(w.duration-time.Since(w.started), 0)
		_ = yield("name", w.name.Words()) &&
			yield("duration", w.duration.String()) &&
			yield("remaining", remaining.Round(time.Millisecond).String())
	}
}

// Waits is the "wait" collection. Deleting it cancels every timer.
type Waits struct {
	mu      sync.Mutex
	seq     int
	running map[string]*Wait
}

func newWaits() *Waits {
	return &Waits{running: make(map[string]*Wait)}
}

// CollectionName implements engine.Collection.
func (ws *Waits) CollectionName() string { return "wait" }

// Items implements engine.Collection.
func (ws *Waits) Items() iter.Seq2[string, any] {
	ws.mu.Lock()
	items := make([]*Wait, 0, len(ws.running))
	for _, w := range ws.running {
		items = append(items, w)
	}
	ws.mu.Unlock()
	sortByName(items, (*Wait).Name)

	return func(yield func(string, any) bool) {
		for _, w := range items {
			if !yield(w.name.Words(), w) {
				return
			}
		}
	}
}

// Len returns the number of running waits.
func (ws *Waits) Len() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.running)
}

// start arms a timer for d. An empty name gets a generated one.
func (ws *Waits) start(name ir.Name, d time.Duration) (*Wait, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.seq++
	if name.IsEmpty() {
		name = ir.NewName("_wait", ws.seq)
	}
	if _, ok := ws.running[name.Key()]; ok {
		return nil, fmt.Errorf("wait %q is already running", name.Words())
	}
	w := &Wait{name: name, duration: d, started: time.Now(), done: async.New()}
	ws.running[name.Key()] = w
	w.timer = time.AfterFunc(d, func() {
		if ws.remove(w) {
			w.done.Resolve(nil)
		}
	})
	return w, nil
}

// remove drops w if it is still registered. Exactly one of the timer and
// Cancel wins.
func (ws *Waits) remove(w *Wait) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.running[w.name.Key()] != w {
		return false
	}
	delete(ws.running, w.name.Key())
	return true
}

// Cancel stops the wait called name; it fails with ErrWaitCanceled.
func (ws *Waits) Cancel(name ir.Name) error {
	ws.mu.Lock()
	w, ok := ws.running[name.Key()]
	ws.mu.Unlock()
	if !ok || !ws.remove(w) {
		return fmt.Errorf("no wait %q", name.Words())
	}
	w.timer.Stop()
	w.done.Reject(ErrWaitCanceled)
	return nil
}

// DeleteAll implements engine.Deleter.
func (ws *Waits) DeleteAll(context.Context) error {
	ws.mu.Lock()
	names := make([]ir.Name, 0, len(ws.running))
	for _, w := range ws.running {
		names = append(names, w.name)
	}
	ws.mu.Unlock()
	for _, n := range names {
		_ = ws.Cancel(n)
	}
	return nil
}

// waitSpec collects the parameters of one wait block.
type waitSpec struct {
	d   time.Duration
	set bool
}

type waitStatement struct {
	env   *Env
	local *interp.Registry
}

func newWaitWord(env *Env) interp.Word {
	w := &waitStatement{env: env}
	w.local = interp.NewRegistry("wait", nil).MustRegister(
		interp.NewSync(ir.NewName("for"), "how long to wait", waitFor).
			AsImmediate().
			WithLongDoc("for N [sec|min|hour] ...\n\tAdds to the delay. Units default to seconds."),
	)
	return w
}

func (w *waitStatement) Name() ir.Name                { return ir.NewName("wait") }
func (w *waitStatement) Doc() string                  { return "delay for some time" }
func (w *waitStatement) LocalWords() *interp.Registry { return w.local }

func (w *waitStatement) LongDoc() string {
	return `wait [NAME...]:
	for N [sec|min|hour] ...
Waits until the time given by the "for" lines has passed. The timer
starts when the block ends. A named wait can be stopped with
"del wait NAME...".`
}

// Open implements interp.ComplexWord.
func (w *waitStatement) Open(call *interp.Call) *async.Future {
	name, err := call.Params()
	if err != nil {
		return async.Failed(err)
	}
	spec := &waitSpec{}
	bctx := call.Ctx.With(attrWait, spec)
	rec := interp.NewRecorder(bctx, w.local, func(*interp.Block) *async.Future {
		if !spec.set {
			return async.Failed(interp.Errorf(call.Words, "needs a \"for\" line"))
		}
		wt, err := w.env.waits.start(name, spec.d)
		if err != nil {
			return async.Failed(err)
		}
		return wt.done
	})
	return async.Resolved(rec)
}

func waitFor(call *interp.Call) error {
	v, ok := call.Ctx.Lookup(attrWait)
	spec, _ := v.(*waitSpec)
	if !ok || spec == nil {
		return interp.Errorf(call.Words, "only valid inside wait")
	}
	p, err := params(call, 1, -1)
	if err != nil {
		return err
	}
	d, err := ParseDuration(p)
	if err != nil {
		return interp.Errorf(call.Words, "%v", err)
	}
	spec.d += d
	spec.set = true
	return nil
}

var units = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
}

// ParseDuration reads "N [unit] N [unit] ...". A number without a unit
// counts seconds. Negative totals and delays beyond time.Duration's range
// are an error.
func ParseDuration(p ir.Name) (time.Duration, error) {
	var total time.Duration
	atoms := p.Atoms()
	for i := 0; i < len(atoms); i++ {
		var n float64
		num := atoms[i]
		switch v := num.(type) {
		case int64:
			n = float64(v)
		case float64:
			n = v
		default:
			return 0, fmt.Errorf("expected a number, got %q", ir.AtomString(num))
		}
		unit := time.Second
		if i+1 < len(atoms) {
			if s, ok := atoms[i+1].(string); ok {
				u, ok := units[strings.ToLower(s)]
				if !ok {
					return 0, fmt.Errorf("unknown time unit %q", s)
				}
				unit = u
				i++
			}
		}
		limit := float64(math.MaxInt64) / float64(unit)
		if math.IsNaN(n) || math.Abs(n) >= limit {
			return 0, fmt.Errorf("delay %s is out of range", ir.AtomString(num))
		}
		d := time.Duration(n * float64(unit))
		if (d > 0 && total > math.MaxInt64-d) || (d < 0 && total < math.MinInt64-d) {
			return 0, errors.New("total delay is out of range")
		}
		total += d
	}
	if total < 0 {
		return 0, fmt.Errorf("negative delay %s", total)
	}
	return total, nil
}

func delWaitWord(env *Env) interp.Word {
	return interp.NewSync(ir.NewName("del", "wait"), "cancel a running wait",
		func(call *interp.Call) error {
			p, err := params(call, 1, -1)
			if err != nil {
				return err
			}
			return env.waits.Cancel(p)
		})
}
