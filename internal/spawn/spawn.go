// Package spawn is the daemon primitive (C1 in SPEC_FULL.md): it forks and
// execs a child from the current executable, wiring up a duplex byte
// channel to it, and hands back that channel plus the child's PID. The
// rest of the core treats this as a given capability, the same way
// spec.md §1 scopes it out as "a given capability" rather than core
// design surface.
//
// A worker child is just the controller's own binary re-exec'd with the
// internal env var set below; internal/worker.RunChild is what a process
// started this way runs instead of its normal main().
package spawn

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/ChuLiYu/workerpool/pkg/types"
)

// ChildModeEnv, when set in a process's environment, tells it to run the
// job-executor loop instead of its ordinary entry point. cmd/workerpool
// checks this first thing in main().
const ChildModeEnv = "WORKERPOOL_CHILD_MODE"

// ParamsEnv carries the base64-encoded, gob-serialized types.WorkerParams
// a child needs at startup. Environment variables are the simplest
// channel available before the pipe-based Channel exists (the child has
// to know whether it's long-lived before it can even open its loop).
const ParamsEnv = "WORKERPOOL_PARAMS"

// Channel is a duplex byte channel to a child process: writes go down its
// stdin, reads come back up its stdout.
type Channel struct {
	w io.WriteCloser
	r io.ReadCloser
}

func (c *Channel) Write(p []byte) (int, error) { return c.w.Write(p) }
func (c *Channel) Read(p []byte) (int, error)   { return c.r.Read(p) }

// Close closes both halves of the channel. Safe to call more than once.
func (c *Channel) Close() error {
	errW := c.w.Close()
	errR := c.r.Close()
	if errW != nil {
		return errW
	}
	return errR
}

// ReadFD returns the file descriptor the readiness multiplexer (C6)
// should watch for this channel becoming readable.
func (c *Channel) ReadFD() int {
	if f, ok := c.r.(*os.File); ok {
		return int(f.Fd())
	}
	return -1
}

// Child is a spawned child process: its duplex channel plus enough
// process-handle to signal or wait on it.
type Child struct {
	Channel *Channel
	Process *os.Process
	PID     int

	cmd       *exec.Cmd
	waitOnce  sync.Once
	waitState *os.ProcessState
	waitErr   error
}

// EncodeParams serializes params for ParamsEnv.
func EncodeParams(params types.WorkerParams) (string, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(params); err != nil {
		return "", fmt.Errorf("spawn: encode worker params: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeParams is the inverse of EncodeParams, called by the child at
// startup.
func DecodeParams(encoded string) (types.WorkerParams, error) {
	var params types.WorkerParams
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return params, fmt.Errorf("spawn: decode worker params: %w", err)
	}
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&params); err != nil {
		return params, fmt.Errorf("spawn: unmarshal worker params: %w", err)
	}
	return params, nil
}

// Spawn execs the current executable in child mode with params, wiring up
// a fresh duplex channel. executablePath is typically os.Args[0] resolved
// through os.Executable by the caller, so re-exec works even if the
// process was started via a relative path or $PATH lookup.
func Spawn(executablePath string, params types.WorkerParams) (*Child, error) {
	encoded, err := EncodeParams(params)
	if err != nil {
		return nil, err
	}

	// controllerRead/childWrite form the child->controller direction;
	// childRead/controllerWrite form the controller->child direction.
	childRead, controllerWrite, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("spawn: create stdin pipe: %w", err)
	}
	controllerRead, childWrite, err := os.Pipe()
	if err != nil {
		childRead.Close()
		controllerWrite.Close()
		return nil, fmt.Errorf("spawn: create stdout pipe: %w", err)
	}

	cmd := exec.Command(executablePath)
	cmd.Stdin = childRead
	cmd.Stdout = childWrite
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		ChildModeEnv+"=1",
		ParamsEnv+"="+encoded,
	)

	if err := cmd.Start(); err != nil {
		childRead.Close()
		childWrite.Close()
		controllerRead.Close()
		controllerWrite.Close()
		return nil, fmt.Errorf("spawn: start child: %w", err)
	}

	// The controller's ends of the pipes it handed to the child are now
	// the child's responsibility; close our copies so EOF propagates
	// correctly when the child exits.
	childRead.Close()
	childWrite.Close()

	return &Child{
		Channel: &Channel{w: controllerWrite, r: controllerRead},
		Process: cmd.Process,
		PID:     cmd.Process.Pid,
		cmd:     cmd,
	}, nil
}

// Wait blocks until the child exits and reports how. It is idempotent and
// safe to call from more than one reap site (failure classification and
// ordinary close both need to reap the same child); exec.Cmd.Wait itself
// may only be called once, so the first call's outcome is cached.
func (c *Child) Wait() (*os.ProcessState, error) {
	c.waitOnce.Do(func() {
		c.waitErr = c.cmd.Wait()
		c.waitState = c.cmd.ProcessState
	})
	return c.waitState, c.waitErr
}

// Kill sends an immediate, non-negotiable termination signal, the
// SIGKILL-class signal spec.md §4.6 requires of ForceQuitAll.
func (c *Child) Kill() error {
	if c.Process == nil {
		return nil
	}
	return c.Process.Kill()
}
