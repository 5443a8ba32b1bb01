//go:build windows

package detector

import gopsproc "github.com/shirou/gopsutil/v4/process"

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExists(int32(pid))
	return err == nil && ok
}
