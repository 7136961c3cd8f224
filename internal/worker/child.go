package worker

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/ChuLiYu/workerpool/internal/registry"
	"github.com/ChuLiYu/workerpool/internal/spawn"
	"github.com/ChuLiYu/workerpool/internal/wire"
	"github.com/ChuLiYu/workerpool/pkg/types"
)

// stdioChannel adapts the process's own stdin/stdout into the duplex byte
// channel wire.NewConn expects. A child process never needs to close its
// end explicitly — exiting does that — so Close is a no-op.
type stdioChannel struct {
	r io.Reader
	w io.Writer
}

func (s stdioChannel) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s stdioChannel) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s stdioChannel) Close() error                 { return nil }

// RunChild is the job executor loop (C4): it reads WorkerParams from the
// environment spawn.Spawn set up, then services requests on stdin/stdout
// until the channel closes or, for a clone-per-call worker, after exactly
// one request.
//
// Unlike the source system's fork-per-call inside an already-running
// supervisor, here the Pool already re-execs a brand-new OS process per
// call for clone-per-call workers (see internal/spawn), so RunChild never
// forks a grandchild itself — Go's threaded runtime makes a bare fork(2)
// unsafe, and re-exec already gives each call a pristine address space.
func RunChild() error {
	encoded := os.Getenv(spawn.ParamsEnv)
	params, err := spawn.DecodeParams(encoded)
	if err != nil {
		return fmt.Errorf("worker child: %w", err)
	}

	conn := wire.NewConn(stdioChannel{r: os.Stdin, w: os.Stdout})

	for {
		req, err := conn.ReadRequest()
		if err != nil {
			if errors.Is(err, wire.ErrShortFrame) {
				return nil // controller closed the channel; ordinary shutdown
			}
			return fmt.Errorf("worker child: read request: %w", err)
		}

		resp := execute(req)
		if err := conn.WriteResponse(resp); err != nil {
			return fmt.Errorf("worker child: write response: %w", err)
		}

		if !params.LongLived {
			return nil
		}
	}
}

func execute(req *wire.Request) (resp *wire.Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = &wire.Response{OK: false, ErrMsg: fmt.Sprintf("panic in entry %q: %v", req.EntryTag, r)}
		}
	}()

	value, err := registry.Dispatch(req.EntryTag, req.Arg)
	if err != nil {
		return &wire.Response{OK: false, ErrMsg: err.Error()}
	}
	return &wire.Response{OK: true, Value: value}
}

// ClassifyExit maps an observed child exit into the process-exit status
// taxonomy from spec.md §6. A terminating SIGKILL is treated as the
// platform's out-of-memory signature — the same heuristic container
// runtimes use absent a cgroup OOM event to consult, and the open design
// question in spec.md §9 leaves this mapping to implementers.
func ClassifyExit(state *os.ProcessState) (types.WorkerFailureKind, int) {
	if state == nil {
		return types.WorkerQuit, -1
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok {
		if status.Signaled() {
			if status.Signal() == syscall.SIGKILL {
				return types.WorkerOOMed, int(status.Signal())
			}
			return types.WorkerQuit, int(status.Signal())
		}
		return types.WorkerQuit, status.ExitStatus()
	}
	return types.WorkerQuit, state.ExitCode()
}
