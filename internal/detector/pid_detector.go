package detector

import (
	"context"
	"fmt"
)

// PIDDetector detects a process by PID. When StartUnix is set, a process
// with the same PID but a different start time is treated as a recycled PID
// and reported dead.
type PIDDetector struct {
	PID       int
	StartUnix int64
}

func (d PIDDetector) Alive(context.Context) (bool, error) {
	if d.PID <= 0 {
		return false, nil
	}
	if d.StartUnix > 0 {
		if cur := StartUnix(d.PID); cur > 0 && cur != d.StartUnix {
			return false, nil
		}
	}
	return pidAlive(d.PID), nil
}

func (d PIDDetector) Describe() string { return fmt.Sprintf("pid:%d", d.PID) }
