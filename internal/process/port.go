package process

import (
	"context"
	"os"
	"sort"

	gopsnet "github.com/shirou/gopsutil/v4/net"
)

// ListenerPIDs returns the PIDs holding a TCP listener on port.
func ListenerPIDs(ctx context.Context, port int) ([]int, error) {
	conns, err := gopsnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, err
	}
	self := int32(os.Getpid())
	seen := map[int32]bool{}
	var out []int
	for _, c := range conns {
		if c.Status != "LISTEN" || c.Laddr.Port != uint32(port) || c.Pid <= 0 || c.Pid == self {
			continue
		}
		if !seen[c.Pid] {
			seen[c.Pid] = true
			out = append(out, int(c.Pid))
		}
	}
	sort.Ints(out)
	return out, nil
}
