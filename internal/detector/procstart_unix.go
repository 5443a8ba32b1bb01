//go:build !windows

package detector

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	"github.com/tklauser/go-sysconf"
)

// StartUnix returns the process start time as Unix seconds, or 0 when it
// cannot be determined.
func StartUnix(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	if runtime.GOOS == "linux" {
		return startUnixLinux(pid)
	}
	return createTimeUnix(pid)
}

func createTimeUnix(pid int) int64 {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}

// procStatFields returns the fields of /proc/<pid>/stat after the command
// name, so index 0 is the state and index 19 the start time in ticks.
func procStatFields(pid int) []string {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return nil
	}
	line := string(b)
	end := strings.LastIndex(line, ") ")
	if end == -1 {
		return nil
	}
	return strings.Fields(line[end+2:])
}

func startUnixLinux(pid int) int64 {
	fields := procStatFields(pid)
	if len(fields) < 20 {
		return 0
	}
	ticks, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil || ticks <= 0 {
		return 0
	}
	btime := bootTime()
	if btime == 0 {
		return 0
	}
	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		clk = 100
	}
	return btime + ticks/clk
}

func bootTime() int64 {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0
	}
	defer func() { _ = f.Close() }()
	s := bufio.NewScanner(f)
	for s.Scan() {
		if v, ok := strings.CutPrefix(s.Text(), "btime "); ok {
			bt, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err == nil {
				return bt
			}
		}
	}
	return 0
}
