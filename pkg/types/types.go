// Package types defines the domain model shared across the worker
// controller: the handful of small value types that cross the
// controller/child boundary, plus the error taxonomy clients observe.
package types

import "fmt"

// WorkerID uniquely identifies a worker record within a pool.
type WorkerID int

// CallID is an opaque tag supplied by the caller of Pool.Call, returned
// verbatim by Handle.CallID so a higher-level scheduler can correlate a
// handle back to its own bookkeeping.
type CallID int64

// Mode selects how a worker services jobs.
type Mode int

const (
	// LongLived workers are pre-spawned once and service many jobs
	// sequentially in the same child process.
	LongLived Mode = iota
	// ClonePerCall workers spawn a fresh child for every job and let the
	// parent record stay dormant between calls.
	ClonePerCall
)

func (m Mode) String() string {
	switch m {
	case LongLived:
		return "longlived"
	case ClonePerCall:
		return "clone-per-call"
	default:
		return "unknown"
	}
}

// GCControl is an opaque control blob forwarded to children untouched.
// The core never interprets it; it only relays whatever the embedding
// application wants its runtime tuned with.
type GCControl struct {
	Opaque []byte
}

// HeapHandle is an opaque token identifying a shared-heap region a worker
// attaches to at spawn. The core only relays it; the shared-heap
// subsystem itself is an external collaborator (spec.md §1).
type HeapHandle struct {
	Opaque []byte
}

// EntryState is handed to every child at spawn time and is immutable
// afterward. Opaque is an application-defined blob — the core never
// interprets it, only relays it, so it is carried as bytes rather than an
// interface value to keep it gob-transparent across the re-exec boundary.
type EntryState struct {
	Opaque    []byte
	GCControl GCControl
	Heap      HeapHandle
	WorkerID  WorkerID
}

// WorkerParams is passed to a long-lived child on startup, or to a clone
// on job dispatch.
type WorkerParams struct {
	LongLived bool
	Entry     EntryState
	HasCtrlFD bool // whether a controller liveness fd was supplied
}

// WorkerFailureKind classifies why a child died, per spec.md §6.
type WorkerFailureKind int

const (
	// WorkerOOMed means the runtime's out-of-memory killer took the child.
	WorkerOOMed WorkerFailureKind = iota
	// WorkerQuit means the child exited or was signaled for any other
	// reason; Status carries the raw exit/signal status.
	WorkerQuit
)

func (k WorkerFailureKind) String() string {
	if k == WorkerOOMed {
		return "oomed"
	}
	return "quit"
}

// ErrWorkerBusy is an assertion-class error: a second call was issued to
// a worker that is already busy. It signals a scheduler bug, never a
// runtime condition, and is never recovered from internally.
var ErrWorkerBusy = fmt.Errorf("worker: busy (scheduler invariant violation)")

// WorkerFailedError is returned by Handle.GetResult when the child died
// or reported an explicit failure. It always identifies the PID so logs
// can be correlated with operating-system records.
type WorkerFailedError struct {
	PID    int
	Kind   WorkerFailureKind
	Status int   // exit status or signal number, meaningful when Kind == WorkerQuit
	Cause  error // wrapped user-side error for an explicit `failed` response
}

func (e *WorkerFailedError) Error() string {
	switch {
	case e.Kind == WorkerOOMed:
		return fmt.Sprintf("worker pid=%d oomed", e.PID)
	case e.Cause != nil:
		return fmt.Sprintf("worker pid=%d failed: %v", e.PID, e.Cause)
	default:
		return fmt.Sprintf("worker pid=%d quit (status=%d)", e.PID, e.Status)
	}
}

func (e *WorkerFailedError) Unwrap() error { return e.Cause }

// SendFailureCause classifies why a request could not be written to a
// worker's channel.
type SendFailureCause struct {
	AlreadyExited bool // true when the channel's peer was already gone
	ExitStatus    int  // meaningful when AlreadyExited is true
	Inner         error
}

func (c *SendFailureCause) Error() string {
	if c.AlreadyExited {
		return fmt.Sprintf("worker already exited (status=%d)", c.ExitStatus)
	}
	return fmt.Sprintf("transport error: %v", c.Inner)
}

func (c *SendFailureCause) Unwrap() error { return c.Inner }

// WorkerFailedToSendJobError is raised synchronously from Pool.Call when
// a request cannot be written to the worker's channel.
type WorkerFailedToSendJobError struct {
	WorkerID WorkerID
	Cause    *SendFailureCause
}

func (e *WorkerFailedToSendJobError) Error() string {
	return fmt.Sprintf("worker %d: failed to send job: %v", e.WorkerID, e.Cause)
}

func (e *WorkerFailedToSendJobError) Unwrap() error { return e.Cause }
