//go:build !windows

package process

import (
	"context"
	"errors"
	"syscall"
	"time"

	"github.com/loykin/spokevisor/internal/detector"
)

// KillTree terminates pid and all of its descendants: SIGTERM to the group
// and every known descendant, a short wait, then SIGKILL for whatever is
// left. It returns once pid is gone or grace has elapsed twice.
func KillTree(ctx context.Context, pid int, grace time.Duration) error {
	if pid <= 0 {
		return nil
	}
	tree := append([]int{pid}, Descendants(ctx, pid)...)

	signalTree(pid, tree, syscall.SIGTERM)
	if waitGone(ctx, pid, grace) {
		// descendants that detached from the group may still linger
		signalTree(pid, tree[1:], syscall.SIGKILL)
		return nil
	}
	signalTree(pid, tree, syscall.SIGKILL)
	if !waitGone(ctx, pid, grace) {
		return errors.New("process still alive after SIGKILL")
	}
	return nil
}

func signalTree(leader int, pids []int, sig syscall.Signal) {
	// Setpgid makes the leader's pid the group id; adopted processes may not
	// lead a group, in which case this is a harmless ESRCH.
	_ = syscall.Kill(-leader, sig)
	for _, p := range pids {
		_ = syscall.Kill(p, sig)
	}
}

func waitGone(ctx context.Context, pid int, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if alive, _ := (detector.PIDDetector{PID: pid}).Alive(ctx); !alive {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}
