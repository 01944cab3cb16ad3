package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/homevent/internal/event"
	"github.com/roach88/homevent/internal/ir"
)

// RuntimeError represents a misuse of the engine API.
//
// Runtime errors include:
//   - Engine stopped: work submitted after the synchronizer stopped
//   - Bad priority: a user worker outside [MinPrio, MaxPrio)
//   - Duplicate worker: a worker name registered twice
//   - Unknown worker: unregistering a worker that is not registered
//
// RuntimeError includes structured fields for diagnostics.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Worker names the affected worker, if any.
	Worker string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeStopped indicates the engine no longer accepts work.
	ErrCodeStopped RuntimeErrorCode = "ENGINE_STOPPED"

	// ErrCodeBadPriority indicates a priority outside the user band.
	ErrCodeBadPriority RuntimeErrorCode = "BAD_PRIORITY"

	// ErrCodeDuplicateWorker indicates a worker name is already registered.
	ErrCodeDuplicateWorker RuntimeErrorCode = "DUPLICATE_WORKER"

	// ErrCodeUnknownWorker indicates a worker name is not registered.
	ErrCodeUnknownWorker RuntimeErrorCode = "UNKNOWN_WORKER"

	// ErrCodeEmptyName indicates an event or worker without a name.
	ErrCodeEmptyName RuntimeErrorCode = "EMPTY_NAME"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Worker != "" {
		return fmt.Sprintf("%s: %s (worker=%s)", e.Code, e.Message, e.Worker)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsStoppedError returns true if err reports a stopped engine.
// Uses errors.As to handle wrapped errors.
func IsStoppedError(err error) bool {
	return hasCode(err, ErrCodeStopped)
}

// IsPriorityError returns true if err reports a priority outside the user band.
func IsPriorityError(err error) bool {
	return hasCode(err, ErrCodeBadPriority)
}

// IsDuplicateWorkerError returns true if err reports a duplicate worker name.
func IsDuplicateWorkerError(err error) bool {
	return hasCode(err, ErrCodeDuplicateWorker)
}

// IsUnknownWorkerError returns true if err reports an unregistered worker.
func IsUnknownWorkerError(err error) bool {
	return hasCode(err, ErrCodeUnknownWorker)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// NewStoppedError creates a RuntimeError for work refused after stop.
func NewStoppedError(what string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeStopped,
		Message: what + " refused: engine stopped",
	}
}

// NewPriorityError creates a RuntimeError for a priority outside the user band.
func NewPriorityError(worker ir.Name, prio int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeBadPriority,
		Message: fmt.Sprintf("priority %d outside [%d, %d)", prio, MinPrio, MaxPrio),
		Worker:  worker.Words(),
		Details: map[string]string{"priority": fmt.Sprintf("%d", prio)},
	}
}

// WorkerFailure is the failure of one worker on one event. Dispatch
// isolates it: remaining workers still run and the failure is reported
// once through the failure sinks.
type WorkerFailure struct {
	Worker ir.Name
	Event  *event.Event
	Err    error
}

// Error implements the error interface.
func (f *WorkerFailure) Error() string {
	return fmt.Sprintf("worker %s failed on %s: %v", f.Worker.Words(), f.Event, f.Err)
}

// Unwrap returns the worker's error.
func (f *WorkerFailure) Unwrap() error { return f.Err }

// ChainFailure is the failure of asynchronous work started with Go.
type ChainFailure struct {
	Chain Chain
	Err   error
}

// Error implements the error interface.
func (f *ChainFailure) Error() string {
	return fmt.Sprintf("chain %d (%s) failed: %v", f.Chain.ID, f.Chain.Label, f.Err)
}

// Unwrap returns the chain's error.
func (f *ChainFailure) Unwrap() error { return f.Err }

// FatalShutdownFailure is a failure during teardown. It is logged and never
// blocks process exit.
type FatalShutdownFailure struct {
	Step string
	Err  error
}

// Error implements the error interface.
func (f *FatalShutdownFailure) Error() string {
	return fmt.Sprintf("shutdown step %q failed: %v", f.Step, f.Err)
}

// Unwrap returns the step's error.
func (f *FatalShutdownFailure) Unwrap() error { return f.Err }

// IsWorkerFailure returns true if err is or wraps a WorkerFailure.
func IsWorkerFailure(err error) bool {
	var wf *WorkerFailure
	return errors.As(err, &wf)
}
