//go:build windows

package process

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// KillTree terminates pid and its descendants with taskkill /T /F.
func KillTree(ctx context.Context, pid int, grace time.Duration) error {
	if pid <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, grace+5*time.Second)
	defer cancel()
	// #nosec G204
	out, err := exec.CommandContext(ctx, "taskkill", "/PID", strconv.Itoa(pid), "/T", "/F").CombinedOutput()
	if err != nil {
		return fmt.Errorf("taskkill %d: %w: %s", pid, err, out)
	}
	return nil
}
