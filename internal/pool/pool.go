// Package pool implements the pool controller (C7 in SPEC_FULL.md): it
// builds the worker arena, enforces the busy/free protocol, and
// implements cancellation and force-quit, per spec.md §4.6.
package pool

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ChuLiYu/workerpool/internal/handle"
	"github.com/ChuLiYu/workerpool/internal/metrics"
	"github.com/ChuLiYu/workerpool/internal/registry"
	"github.com/ChuLiYu/workerpool/internal/spawn"
	"github.com/ChuLiYu/workerpool/internal/wire"
	"github.com/ChuLiYu/workerpool/internal/worker"
	"github.com/ChuLiYu/workerpool/pkg/types"
)

var log = slog.Default()

// ErrPoolClosed mirrors the teacher's ErrPoolClosed: every Call after
// ForceQuitAll fails with this, per spec.md §8 invariant 3.
var ErrPoolClosed = fmt.Errorf("pool: force-quit, no workers available")

// Config configures pool construction (spec.md §4.6's `make`).
type Config struct {
	Mode           types.Mode
	NumWorkers     int
	GCControl      types.GCControl
	Heap           types.HeapHandle
	CallWrapper    registry.Wrapper   // installed in this (controller) process only; spawned children do not receive it
	ExecutablePath string             // defaults to os.Executable() when empty
	Metrics        *metrics.Collector // optional; nil disables instrumentation
}

// Pool is the arena of workers addressed by id, per spec.md §9's
// "pool-owned arena" note: handles store a worker id, not a strong
// reference, so the worker<->handle back-reference cycle never needs a
// real cyclic pointer.
type Pool struct {
	mu      sync.Mutex
	records []*worker.Record
	exePath string
	mode    types.Mode
	gc      types.GCControl
	heap    types.HeapHandle
	closed  bool
	metrics *metrics.Collector
}

// Make allocates nbrProcs worker records with ids 0..nbrProcs-1. For
// LongLived mode each is spawned immediately; for ClonePerCall mode
// records stay dormant until their first Call.
func Make(cfg Config) (*Pool, error) {
	if cfg.NumWorkers <= 0 {
		return nil, fmt.Errorf("pool: NumWorkers must be positive, got %d", cfg.NumWorkers)
	}

	exePath := cfg.ExecutablePath
	if exePath == "" {
		resolved, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("pool: resolve executable: %w", err)
		}
		exePath = resolved
	}

	if cfg.CallWrapper != nil {
		registry.SetWrapper(cfg.CallWrapper)
	}

	p := &Pool{
		exePath: exePath,
		mode:    cfg.Mode,
		gc:      cfg.GCControl,
		heap:    cfg.Heap,
		metrics: cfg.Metrics,
	}

	longLived := cfg.Mode == types.LongLived
	for i := 0; i < cfg.NumWorkers; i++ {
		rec := worker.NewRecord(types.WorkerID(i), longLived)
		p.records = append(p.records, rec)
	}

	if longLived {
		for _, rec := range p.records {
			if err := p.spawnLocked(rec); err != nil {
				p.forceQuitAllLocked()
				return nil, fmt.Errorf("pool: spawn worker %d: %w", rec.ID(), err)
			}
		}
	}

	p.updateOccupancyLocked()
	log.Info("pool started", "workers", cfg.NumWorkers, "mode", cfg.Mode)
	return p, nil
}

// updateOccupancyLocked pushes the current busy/idle/force-quit counts to
// the collector, if one was configured. Callers must hold p.mu.
func (p *Pool) updateOccupancyLocked() {
	if p.metrics == nil {
		return
	}
	var busy, idle, forceQuit int
	for _, rec := range p.records {
		switch {
		case rec.IsForceQuit():
			forceQuit++
		case rec.IsBusy():
			busy++
		default:
			idle++
		}
	}
	p.metrics.UpdateOccupancy(busy, idle, forceQuit)
}

// Records returns the arena, for callers (like internal/scheduler) that
// need to enumerate workers. The slice is a copy, but the records it
// points to are the pool's live records; callers must not mutate them.
func (p *Pool) Records() []*worker.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*worker.Record, len(p.records))
	copy(out, p.records)
	return out
}

func (p *Pool) record(id types.WorkerID) (*worker.Record, error) {
	if int(id) < 0 || int(id) >= len(p.records) {
		return nil, fmt.Errorf("pool: unknown worker id %d", id)
	}
	return p.records[id], nil
}

// Spawn is the lifecycle hook for clone-per-call workers: idempotent,
// safe to call multiply. Long-lived workers are already spawned by Make.
func (p *Pool) Spawn(id types.WorkerID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, err := p.record(id)
	if err != nil {
		return err
	}
	return p.spawnLocked(rec)
}

func (p *Pool) spawnLocked(rec *worker.Record) error {
	if rec.Child() != nil {
		return nil // already spawned; idempotent
	}
	params := types.WorkerParams{
		LongLived: rec.LongLived(),
		Entry: types.EntryState{
			GCControl: p.gc,
			Heap:      p.heap,
			WorkerID:  rec.ID(),
		},
	}
	child, err := spawn.Spawn(p.exePath, params)
	if err != nil {
		return err
	}
	rec.AttachChild(child)
	return nil
}

// Close is the lifecycle hook that tears down a clone-per-call worker's
// channel once its single job is done. Idempotent.
func (p *Pool) Close(id types.WorkerID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, err := p.record(id)
	if err != nil {
		return err
	}
	return p.closeLocked(rec)
}

// closeLocked closes a worker's channel, reaps its child so it never
// lingers as a zombie (spec.md §8 invariant 5), and detaches it. Callers
// that need the child terminated immediately (force-quit, cancel) must
// Kill it before calling this, since Wait otherwise blocks until the
// child exits on its own.
func (p *Pool) closeLocked(rec *worker.Record) error {
	child := rec.Child()
	if child == nil {
		return nil
	}
	err := child.Channel.Close()
	_, _ = child.Wait()
	rec.DetachChild()
	return err
}

// Call dispatches one job to worker id, per spec.md §4.6. It is a
// package-level generic function (Go methods cannot carry extra type
// parameters) parameterized by the job argument and result types.
// Preconditions: ¬busy(w) ∧ ¬force_quit(w); violating busy surfaces
// types.ErrWorkerBusy synchronously.
func Call[Arg any, Result any](p *Pool, callID types.CallID, id types.WorkerID, entryTag string, arg Arg) (*handle.Handle[Arg, Result], error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return nil, &types.WorkerFailedToSendJobError{
			WorkerID: id,
			Cause:    &types.SendFailureCause{AlreadyExited: true, Inner: ErrPoolClosed},
		}
	}

	rec, err := p.record(id)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}

	if err := rec.MarkBusy(); err != nil {
		p.mu.Unlock()
		return nil, err
	}

	if rec.Child() == nil {
		if spawnErr := p.spawnLocked(rec); spawnErr != nil {
			rec.MarkForceQuit()
			p.updateOccupancyLocked()
			p.mu.Unlock()
			return nil, &types.WorkerFailedToSendJobError{
				WorkerID: id,
				Cause:    &types.SendFailureCause{Inner: spawnErr},
			}
		}
	}
	child := rec.Child()
	p.updateOccupancyLocked()
	p.mu.Unlock()

	argBlob, err := encodeValue(arg)
	if err != nil {
		p.mu.Lock()
		_ = rec.MarkFree()
		p.updateOccupancyLocked()
		p.mu.Unlock()
		return nil, fmt.Errorf("pool: encode argument: %w", err)
	}

	conn := wire.NewConn(child.Channel)
	req := &wire.Request{EntryTag: entryTag, Arg: argBlob, ClonePerCall: !rec.LongLived()}
	if err := conn.WriteRequest(req); err != nil {
		p.mu.Lock()
		rec.MarkForceQuit()
		p.updateOccupancyLocked()
		p.mu.Unlock()
		return nil, &types.WorkerFailedToSendJobError{
			WorkerID: id,
			Cause:    classifySendFailure(child, err),
		}
	}
	dispatchedAt := time.Now()
	if p.metrics != nil {
		p.metrics.RecordDispatch()
	}

	// onConsumed runs exactly once, when GetResult first resolves this
	// call. A long-lived worker whose call failed (OOM, crash, or an
	// explicit `failed` response) is force-quit rather than freed: its
	// child is in an unknown state and the stateful wire protocol cannot
	// be trusted to still be in sync, so reusing the record would hand
	// the next Call a broken channel (spec.md §4.4/§7). Clone-per-call
	// workers always free-and-reclone instead, success or failure, since
	// each call gets a brand-new child regardless.
	onConsumed := func(callErr error) {
		p.mu.Lock()
		defer p.mu.Unlock()

		switch {
		case !rec.LongLived():
			_ = rec.MarkFree()
			_ = p.closeLocked(rec)
		case callErr != nil:
			// Force-quit rather than a graceful close: an explicit-failure
			// response leaves the child alive and listening, but a
			// non-negotiable kill bounds how long this takes regardless of
			// what the failed entry left the child doing.
			if c := rec.Child(); c != nil {
				_ = c.Kill()
			}
			_ = p.closeLocked(rec)
			rec.MarkForceQuit()
		default:
			_ = rec.MarkFree()
		}
		p.updateOccupancyLocked()

		if p.metrics == nil {
			return
		}
		if callErr != nil {
			var wf *types.WorkerFailedError
			if errors.As(callErr, &wf) && wf.Kind == types.WorkerOOMed {
				p.metrics.RecordOOMed()
			} else {
				p.metrics.RecordFailed()
			}
			return
		}
		p.metrics.RecordCompleted(time.Since(dispatchedAt).Seconds())
	}

	readConn := &failureClassifyingConn{conn: conn, child: child}
	h := handle.New[Arg, Result](callID, id, arg, readConn, child.PID, onConsumed)

	p.mu.Lock()
	rec.SetHandle(&worker.ErasedHandle{CallID: callID, Payload: h})
	p.mu.Unlock()

	return h, nil
}

// Cancel marks each listed handle cancelled, severs its channel so any
// in-flight read returns EOF promptly, and force-quits the owning worker:
// its child is killed and reaped, and the record accepts no further calls,
// in either mode (spec.md §4.6).
func Cancel(p *Pool, handles []handle.AnyHandle) {
	for _, h := range handles {
		h.Cancel()

		p.mu.Lock()
		rec, err := p.record(h.WorkerID())
		if err != nil {
			p.mu.Unlock()
			continue
		}
		if child := rec.Child(); child != nil {
			_ = child.Kill()
		}
		_ = p.closeLocked(rec)
		rec.MarkForceQuit()
		p.updateOccupancyLocked()
		p.mu.Unlock()
	}
}

// ForceQuitAll iterates every live worker, closes its channel, kills its
// child, and marks every record terminal. Idempotent.
func (p *Pool) ForceQuitAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forceQuitAllLocked()
}

func (p *Pool) forceQuitAllLocked() {
	if p.closed {
		return
	}
	for _, rec := range p.records {
		if child := rec.Child(); child != nil {
			_ = child.Kill()
		}
		_ = p.closeLocked(rec)
		rec.MarkForceQuit()
	}
	p.closed = true
	p.updateOccupancyLocked()
	log.Info("pool force-quit", "workers", len(p.records))
}

// failureClassifyingConn wraps a wire.Conn so a read failure is turned
// into a fully-formed *types.WorkerFailedError carrying the child's real
// exit classification (OOM vs. ordinary quit), instead of a bare
// transport error — see internal/handle's note on this.
type failureClassifyingConn struct {
	conn  *wire.Conn
	child *spawn.Child
}

func (c *failureClassifyingConn) ReadFD() int { return c.child.Channel.ReadFD() }

func (c *failureClassifyingConn) ReadResponse() (*wire.Response, error) {
	resp, err := c.conn.ReadResponse()
	if err == nil {
		return resp, nil
	}

	state, waitErr := c.child.Wait()
	kind, status := worker.ClassifyExit(state)
	if waitErr != nil && state == nil {
		// Process handle itself is gone (e.g. double-Wait); fall back to
		// a generic quit classification rather than losing the PID.
		kind, status = types.WorkerQuit, -1
	}
	return nil, &types.WorkerFailedError{PID: c.child.PID, Kind: kind, Status: status, Cause: err}
}

func classifySendFailure(child *spawn.Child, err error) *types.SendFailureCause {
	state, waitErr := child.Wait()
	if waitErr == nil && state != nil {
		_, status := worker.ClassifyExit(state)
		return &types.SendFailureCause{AlreadyExited: true, ExitStatus: status, Inner: err}
	}
	return &types.SendFailureCause{Inner: err}
}

func encodeValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
