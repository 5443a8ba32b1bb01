//go:build !windows

package detector

import (
	"errors"
	"runtime"
	"slices"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// pidAlive returns true if a process with given pid exists (or EPERM) and is
// not a zombie.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err != nil && !errors.Is(err, syscall.EPERM) {
		return false
	}
	return !isZombie(pid)
}

func isZombie(pid int) bool {
	if runtime.GOOS == "linux" {
		fields := procStatFields(pid)
		return len(fields) > 0 && fields[0] == "Z"
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	st, err := p.Status()
	if err != nil {
		return false
	}
	return slices.Contains(st, gopsproc.Zombie)
}
