package process

import (
	"context"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Descendants returns every descendant PID of pid, depth first. Processes
// that vanish during the walk are skipped.
func Descendants(ctx context.Context, pid int) []int {
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil
	}
	var out []int
	seen := map[int32]bool{p.Pid: true}
	var walk func(p *gopsproc.Process)
	walk = func(p *gopsproc.Process) {
		children, err := p.ChildrenWithContext(ctx)
		if err != nil {
			return
		}
		for _, c := range children {
			if seen[c.Pid] {
				continue
			}
			seen[c.Pid] = true
			out = append(out, int(c.Pid))
			walk(c)
		}
	}
	walk(p)
	return out
}
