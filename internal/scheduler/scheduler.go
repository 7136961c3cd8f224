// Package scheduler is an example external collaborator for the worker
// controller: the core pool deliberately treats task scheduling as
// out-of-scope and only exposes Call/Select/Cancel for a caller to build
// on. This package is that caller, built the way the teacher's
// internal/jobmanager builds its pending/in-flight/completed/dead job
// state machine, but driven by pool.Call and internal/ready.Select
// instead of an internal dispatch channel.
//
// This is demo/example code, not part of the pool controller itself.
package scheduler

import (
	"fmt"
	"sync"

	"github.com/ChuLiYu/workerpool/internal/handle"
	"github.com/ChuLiYu/workerpool/internal/pool"
	"github.com/ChuLiYu/workerpool/internal/ready"
	"github.com/ChuLiYu/workerpool/pkg/types"
)

// Job is one unit of work the scheduler tracks from submission through
// its terminal state.
type Job[Arg any] struct {
	CallID  types.CallID
	Entry   string
	Arg     Arg
	Attempt int
}

type inflight[Arg any, Result any] struct {
	job    *Job[Arg]
	handle *handle.Handle[Arg, Result]
}

// Scheduler maintains a pending queue and per-worker in-flight slots,
// requeuing failed calls up to MaxRetry before dead-lettering them —
// the same three-outcome shape as the teacher's Requeue/MarkCompleted/
// MarkDead, applied to calls instead of durable jobs.
type Scheduler[Arg any, Result any] struct {
	mu       sync.Mutex
	p        *pool.Pool
	maxRetry int
	nextID   int64

	pending   []*Job[Arg]
	inFlight  map[types.WorkerID]*inflight[Arg, Result]
	completed []Result
	dead      []*Job[Arg]
}

// New builds a scheduler atop an already-constructed pool. maxRetry
// bounds how many times a failed call is requeued before it is
// dead-lettered.
func New[Arg any, Result any](p *pool.Pool, maxRetry int) *Scheduler[Arg, Result] {
	return &Scheduler[Arg, Result]{
		p:        p,
		maxRetry: maxRetry,
		inFlight: make(map[types.WorkerID]*inflight[Arg, Result]),
	}
}

// Submit enqueues a job and returns the call id a caller can use to
// correlate it with an eventual result.
func (s *Scheduler[Arg, Result]) Submit(entry string, arg Arg) types.CallID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	job := &Job[Arg]{CallID: types.CallID(s.nextID), Entry: entry, Arg: arg}
	s.pending = append(s.pending, job)
	return job.CallID
}

// Dispatch assigns pending jobs to idle worker slots 0..numWorkers-1. A
// Call that fails synchronously (e.g. the worker failed to start) is
// retried or dead-lettered immediately, the same as an in-flight call
// that later fails in Drain.
func (s *Scheduler[Arg, Result]) Dispatch(numWorkers int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := types.WorkerID(0); int(id) < numWorkers && len(s.pending) > 0; id++ {
		if _, busy := s.inFlight[id]; busy {
			continue
		}

		job := s.pending[0]
		s.pending = s.pending[1:]

		h, err := pool.Call[Arg, Result](s.p, job.CallID, id, job.Entry, job.Arg)
		if err != nil {
			s.retryOrDeadLocked(job)
			continue
		}
		s.inFlight[id] = &inflight[Arg, Result]{job: job, handle: h}
	}
}

// Drain blocks on a single internal/ready.Select over every in-flight
// handle, then resolves each ready one: a successful result is
// collected, a failure is requeued or dead-lettered. It returns the
// results that became ready on this call.
func (s *Scheduler[Arg, Result]) Drain() ([]Result, error) {
	s.mu.Lock()
	handles := make([]handle.AnyHandle, 0, len(s.inFlight))
	for _, inf := range s.inFlight {
		handles = append(handles, inf.handle)
	}
	s.mu.Unlock()

	if len(handles) == 0 {
		return nil, nil
	}

	sel, err := ready.Select(handles, nil)
	if err != nil {
		return nil, fmt.Errorf("scheduler: select: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var results []Result
	for _, h := range sel.Ready {
		workerID := h.WorkerID()
		inf, ok := s.inFlight[workerID]
		if !ok || inf.handle.CallID() != h.CallID() {
			continue
		}
		delete(s.inFlight, workerID)

		value, err := inf.handle.GetResult()
		if err != nil {
			s.retryOrDeadLocked(inf.job)
			continue
		}
		s.completed = append(s.completed, value)
		results = append(results, value)
	}
	return results, nil
}

// CancelAll cancels every in-flight call and force-quits its worker,
// for callers giving up on the remaining work (e.g. on shutdown).
func (s *Scheduler[Arg, Result]) CancelAll() {
	s.mu.Lock()
	handles := make([]handle.AnyHandle, 0, len(s.inFlight))
	for _, inf := range s.inFlight {
		handles = append(handles, inf.handle)
	}
	s.inFlight = make(map[types.WorkerID]*inflight[Arg, Result])
	s.mu.Unlock()

	pool.Cancel(s.p, handles)
}

// Stats reports pending/in-flight/completed/dead counts, echoing the
// teacher's own job-queue status breakdown.
func (s *Scheduler[Arg, Result]) Stats() (pending, inFlight, completed, dead int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending), len(s.inFlight), len(s.completed), len(s.dead)
}

func (s *Scheduler[Arg, Result]) retryOrDeadLocked(job *Job[Arg]) {
	job.Attempt++
	if job.Attempt > s.maxRetry {
		s.dead = append(s.dead, job)
		return
	}
	s.pending = append(s.pending, job)
}
