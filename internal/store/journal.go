package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/homevent/internal/engine"
	"github.com/roach88/homevent/internal/event"
	"github.com/roach88/homevent/internal/ir"
)

// JournalWorkerName names the worker recording events.
var JournalWorkerName = ir.NewName("journal")

// Journal records one engine run into a Store. Its worker runs at MaxPrio,
// after every user worker has seen the event.
type Journal struct {
	s   *Store
	run string
}

// NewJournal registers run in s. An empty run gets a fresh UUIDv7.
func NewJournal(ctx context.Context, s *Store, run string) (*Journal, error) {
	if run == "" {
		run = engine.UUIDv7Generator{}.Generate()
	}
	if err := s.WriteRun(ctx, run, time.Now()); err != nil {
		return nil, err
	}
	return &Journal{s: s, run: run}, nil
}

// Run returns the run id rows are written under.
func (j *Journal) Run() string { return j.run }

// Worker returns the engine worker that journals every event.
func (j *Journal) Worker() *engine.FuncWorker {
	return engine.NewWorker(JournalWorkerName, engine.MaxPrio, nil, j.record).
		WithDoc("record every event in the journal")
}

// Attach registers the journal worker and failure sink with e.
func (j *Journal) Attach(e *engine.Engine) error {
	if err := e.RegisterSystemWorker(j.Worker()); err != nil {
		return fmt.Errorf("attach journal: %w", err)
	}
	e.AddFailureSink(j)
	return nil
}

func (j *Journal) record(ctx context.Context, ev *event.Event) error {
	var chain int64
	if c, ok := engine.ChainFrom(ctx); ok {
		chain = c.ID
	}
	// the write must land even when the dispatching task was cancelled
	_, err := j.s.WriteEvent(context.WithoutCancel(ctx), EventRecord{
		Run:      j.run,
		EventID:  ev.ID(),
		Name:     ev.Name(),
		Chain:    chain,
		Session:  ev.Context().Session(),
		Filename: ev.Context().Filename(),
		Level:    ev.Level(),
	})
	return err
}

// ProcessFailure implements engine.FailureSink.
func (j *Journal) ProcessFailure(err error) {
	rec := FailureRecord{Run: j.run, Kind: FailureOther, Message: err.Error()}

	var (
		wf *engine.WorkerFailure
		cf *engine.ChainFailure
		sf *engine.FatalShutdownFailure
	)
	switch {
	case errors.As(err, &wf):
		rec.Kind = FailureWorker
		rec.Source = wf.Worker.Words()
		rec.EventID = wf.Event.ID()
		rec.Message = wf.Err.Error()
	case errors.As(err, &cf):
		rec.Kind = FailureChain
		rec.Source = cf.Chain.Label
		rec.EventID = cf.Chain.Event
		rec.Message = cf.Err.Error()
	case errors.As(err, &sf):
		rec.Kind = FailureShutdown
		rec.Source = sf.Step
		rec.Message = sf.Err.Error()
	}

	if werr := j.s.WriteFailure(context.Background(), rec); werr != nil {
		slog.Error("journal failure not recorded", "error", werr, "failure", err)
	}
}
