// Package worker implements the in-controller worker record (C3) and the
// job-executor loop that runs inside a spawned child (C4), per
// SPEC_FULL.md §4.2 and §4.3.
package worker

import (
	"fmt"

	"github.com/ChuLiYu/workerpool/internal/spawn"
	"github.com/ChuLiYu/workerpool/pkg/types"
)

// ErasedHandle is the type-erased escape hatch from spec.md §9: a
// worker's current handle with its job/result types erased, reinstated
// only by a caller that already knows them. Per the Open Question in
// spec.md §9, it deliberately exposes metadata only — never the result
// channel — so it cannot be used to bypass the handle's single-consumer
// discipline.
type ErasedHandle struct {
	CallID    types.CallID
	Cancelled bool
	Payload   any // the real *handle.Handle[Arg, Result]; reinstated by the caller
}

// Record is the controller's bookkeeping for one worker. It is exclusively
// owned by the pool controller and, per SPEC_FULL.md §5, mutated only while
// the pool's single mutex is held — it carries no lock of its own.
type Record struct {
	id         types.WorkerID
	longLived  bool
	child      *spawn.Child // present for long-lived workers once spawned
	busy       bool
	current    *ErasedHandle
	forceQuit  bool
}

// NewRecord creates a dormant worker record. For long-lived pools the
// caller spawns immediately and calls AttachChild; for clone-per-call
// pools the record stays empty until the first Call.
func NewRecord(id types.WorkerID, longLived bool) *Record {
	return &Record{id: id, longLived: longLived}
}

// ID returns the worker's id. Pure query, safe from any goroutine.
func (r *Record) ID() types.WorkerID { return r.id }

// LongLived reports the mode this record was created with.
func (r *Record) LongLived() bool { return r.longLived }

// IsForceQuit is a pure query of the terminal flag.
func (r *Record) IsForceQuit() bool { return r.forceQuit }

// IsBusy is a pure query of the busy flag.
func (r *Record) IsBusy() bool { return r.busy }

// Child returns the currently attached child process, if any.
func (r *Record) Child() *spawn.Child { return r.child }

// AttachChild records the child process servicing this worker. For
// clone-per-call workers this is called fresh on every successful Call;
// for long-lived workers it is called once, at pool construction.
func (r *Record) AttachChild(c *spawn.Child) { r.child = c }

// DetachChild clears the attached child, e.g. after a clone-per-call job
// completes and its short-lived child has exited.
func (r *Record) DetachChild() { r.child = nil }

// MarkBusy enforces the precondition ¬busy ∧ ¬force_quit from
// SPEC_FULL.md §4.2. Violating ¬busy is an assertion-class bug in the
// caller (a second Call on a busy worker), never a runtime condition.
func (r *Record) MarkBusy() error {
	if r.forceQuit {
		return fmt.Errorf("worker %d: force-quit, cannot mark busy", r.id)
	}
	if r.busy {
		return types.ErrWorkerBusy
	}
	r.busy = true
	return nil
}

// MarkFree requires the precondition busy and clears the current handle.
func (r *Record) MarkFree() error {
	if !r.busy {
		return fmt.Errorf("worker %d: mark-free on idle worker", r.id)
	}
	r.busy = false
	r.current = nil
	return nil
}

// SetHandle stores the type-erased current handle.
func (r *Record) SetHandle(h *ErasedHandle) { r.current = h }

// GetHandleUnsafe returns the stored type-erased handle, or nil if the
// worker is idle. Scheduler-only utility per spec.md §4.2 — the caller
// reinstates the real type parameters at their own risk.
func (r *Record) GetHandleUnsafe() *ErasedHandle { return r.current }

// MarkForceQuit transitions the record to its terminal state. Idempotent:
// calling it on an already force-quit worker is a no-op.
func (r *Record) MarkForceQuit() {
	r.forceQuit = true
	r.busy = false
}
