// Package handle implements the future abstraction (C5 in SPEC_FULL.md):
// a handle binds a pending call to the worker running it and lazily reads
// the result off the wire the first time GetResult is called.
package handle

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/ChuLiYu/workerpool/internal/wire"
	"github.com/ChuLiYu/workerpool/pkg/types"
)

// AnyHandle is the subset of Handle's surface the readiness multiplexer
// and the pool controller need without knowing its type parameters. Per
// the Open Question in spec.md §9, this deliberately exposes metadata
// only — never the result channel itself.
type AnyHandle interface {
	CallID() types.CallID
	WorkerID() types.WorkerID
	ReadFD() int
	Cancelled() bool
	Cancel()
}

// resultState is the three-way absent/ready/failed slot from
// SPEC_FULL.md §3. It transitions at most once, from absent to one of the
// other two, enforced by sync.Once below.
type resultState int

const (
	stateAbsent resultState = iota
	stateReady
	stateFailed
)

// Conn is the minimal surface Handle needs from a wire connection, so
// tests can fake it without spawning a real child.
type Conn interface {
	ReadResponse() (*wire.Response, error)
	ReadFD() int
}

// Handle is a future bound to one outstanding call, parameterized by the
// job argument type and the result type (spec.md §3/§4.4).
type Handle[Arg any, Result any] struct {
	callID   types.CallID
	workerID types.WorkerID
	jobArg   Arg
	conn     Conn
	pid      int

	once sync.Once
	mu   sync.Mutex

	state     resultState
	value     Result
	err       error
	cancelled bool

	// onConsumed fires exactly once, when the result is first resolved,
	// so the pool can mark the worker free again without internal/handle
	// importing internal/pool (which would be a cycle: pool -> handle). It
	// receives the resolved outcome (nil on success) so the pool can tell
	// a completed call from a failed one without re-reading the channel.
	onConsumed func(err error)
}

// New builds a handle for a pending call. onConsumed is invoked exactly
// once, when the call is finally resolved one way or another, with the
// resolved error (nil on success).
func New[Arg any, Result any](callID types.CallID, workerID types.WorkerID, jobArg Arg, conn Conn, pid int, onConsumed func(err error)) *Handle[Arg, Result] {
	return &Handle[Arg, Result]{
		callID:     callID,
		workerID:   workerID,
		jobArg:     jobArg,
		conn:       conn,
		pid:        pid,
		onConsumed: onConsumed,
	}
}

// CallID returns the caller-supplied correlation tag verbatim.
func (h *Handle[Arg, Result]) CallID() types.CallID { return h.callID }

// WorkerID returns the worker this call is running on.
func (h *Handle[Arg, Result]) WorkerID() types.WorkerID { return h.workerID }

// Job returns the original argument, retained so a scheduler can requeue
// on failure.
func (h *Handle[Arg, Result]) Job() Arg { return h.jobArg }

// ReadFD exposes the underlying channel's file descriptor for use by the
// readiness multiplexer (C6). It is not meant for direct reads.
func (h *Handle[Arg, Result]) ReadFD() int { return h.conn.ReadFD() }

// Cancelled reports whether Cancel has been called on this handle.
func (h *Handle[Arg, Result]) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// Cancel marks the handle cancelled. It does not itself sever the
// channel or touch the worker record — Pool.Cancel does that, since only
// the pool owns the channel and the record (spec.md §4.6).
func (h *Handle[Arg, Result]) Cancel() {
	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()
}

// GetResult blocks until the result is available, per spec.md §4.4. It is
// idempotent: once resolved, further calls return the cached outcome
// without re-reading the channel. onConsumed fires exactly once, on the
// call that actually performs the read.
func (h *Handle[Arg, Result]) GetResult() (Result, error) {
	h.once.Do(func() {
		resp, err := h.conn.ReadResponse()
		h.resolve(resp, err)
		if h.onConsumed != nil {
			h.mu.Lock()
			callErr := h.err
			h.mu.Unlock()
			h.onConsumed(callErr)
		}
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == stateFailed {
		return h.value, h.err
	}
	return h.value, nil
}

func (h *Handle[Arg, Result]) resolve(resp *wire.Response, readErr error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if readErr != nil {
		// A wrapping Conn (internal/pool) that already classified the
		// child's exit (OOM vs. plain quit) hands back a fully-formed
		// WorkerFailedError; pass it through so GetResult never
		// re-guesses a kind it has no basis for.
		if wf, ok := readErr.(*types.WorkerFailedError); ok {
			h.state = stateFailed
			h.err = wf
			return
		}
		h.state = stateFailed
		h.err = &types.WorkerFailedError{PID: h.pid, Kind: types.WorkerQuit, Cause: readErr}
		return
	}
	if !resp.OK {
		h.state = stateFailed
		h.err = &types.WorkerFailedError{PID: h.pid, Kind: types.WorkerQuit, Cause: fmt.Errorf("%s", resp.ErrMsg)}
		return
	}

	var value Result
	if err := gob.NewDecoder(bytes.NewReader(resp.Value)).Decode(&value); err != nil {
		h.state = stateFailed
		h.err = &types.WorkerFailedError{PID: h.pid, Kind: types.WorkerQuit, Cause: fmt.Errorf("decode result: %w", err)}
		return
	}
	h.state = stateReady
	h.value = value
}
