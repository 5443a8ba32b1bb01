package process

import (
	"io"
	"os"
	"os/exec"
	"sync"
)

// Handle is a spawned service process. Done is closed once the process has
// exited and been reaped.
type Handle struct {
	pid  int
	done chan struct{}

	mu    sync.Mutex
	state *os.ProcessState
	err   error
}

// watch reaps cmd and copies out into sink until every writer of the pipe is
// gone. Grandchildren inherit the pipe, so output of a worker behind a shim
// keeps flowing after the shim exits.
func watch(cmd *exec.Cmd, out io.ReadCloser, sink io.WriteCloser) *Handle {
	h := &Handle{pid: cmd.Process.Pid, done: make(chan struct{})}
	go func() {
		_, _ = io.Copy(sink, out)
		_ = out.Close()
		_ = sink.Close()
	}()
	go func() {
		st, err := cmd.Process.Wait()
		h.mu.Lock()
		h.state, h.err = st, err
		h.mu.Unlock()
		close(h.done)
	}()
	return h
}

func (h *Handle) PID() int { return h.pid }

func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the process has exited.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit code once exited, or -1.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == nil {
		return -1
	}
	return h.state.ExitCode()
}
