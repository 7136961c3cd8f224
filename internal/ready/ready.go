// Package ready implements the readiness multiplexer (C6 in
// SPEC_FULL.md): given a set of pending handles and extra file
// descriptors, it partitions the handles into those whose channel has a
// response frame starting to arrive and those still waiting, using a real
// poll(2) call rather than a channel-based simulation — spec.md §4.5
// explicitly calls for "the host's poll/select equivalent" against file
// descriptors.
package ready

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/ChuLiYu/workerpool/internal/handle"
)

// Result is the partition Select produces.
type Result struct {
	Ready    []handle.AnyHandle
	Waiting  []handle.AnyHandle
	ReadyFDs []int
}

// Select blocks until at least one of handles' channels or extraFDs is
// readable, then partitions handles into ready/waiting per spec.md §4.5.
//
// A cancelled handle is always reported ready (so a scheduler drains it
// promptly, per spec.md §4.5's edge case), without needing its fd to
// actually be readable. A force-quit worker's channel reports ready at
// end-of-file, same as any other readable fd — the subsequent GetResult
// surfaces the failure.
func Select(handles []handle.AnyHandle, extraFDs []int) (Result, error) {
	if len(handles) == 0 && len(extraFDs) == 0 {
		return Result{}, fmt.Errorf("ready: select on an empty set")
	}

	var (
		immediate Result
		polled    []handle.AnyHandle
		pollFDs   []unix.PollFd
	)

	for _, h := range handles {
		if h.Cancelled() {
			immediate.Ready = append(immediate.Ready, h)
			continue
		}
		polled = append(polled, h)
		pollFDs = append(pollFDs, unix.PollFd{Fd: int32(h.ReadFD()), Events: unix.POLLIN})
	}

	extraStart := len(pollFDs)
	for _, fd := range extraFDs {
		pollFDs = append(pollFDs, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}

	// Cancelled handles already satisfied the call; still poll the rest
	// with a zero timeout so extraFDs get a chance to report readiness
	// too without blocking forever when every handle was cancelled.
	timeout := -1
	if len(immediate.Ready) > 0 {
		timeout = 0
	}

	if len(pollFDs) > 0 {
		n, err := unix.Poll(pollFDs, timeout)
		if err != nil && err != unix.EINTR {
			return Result{}, fmt.Errorf("ready: poll: %w", err)
		}
		_ = n

		for i, h := range polled {
			pfd := pollFDs[i]
			if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
				immediate.Ready = append(immediate.Ready, h)
			} else {
				immediate.Waiting = append(immediate.Waiting, h)
			}
		}
		for i, fd := range extraFDs {
			pfd := pollFDs[extraStart+i]
			if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
				immediate.ReadyFDs = append(immediate.ReadyFDs, fd)
			}
		}
	}

	return immediate, nil
}
