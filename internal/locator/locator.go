// Package locator finds background workers in the OS process table by a
// command-line signature.
package locator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// ErrNotFound is returned when no process matches the signature.
var ErrNotFound = errors.New("no process matches signature")

// DefaultShims are launchers that exec or spawn the real interpreter.
var DefaultShims = []string{"uv", "uvx", "poetry", "pipenv", "pdm", "hatch", "conda", "pyenv", "py", "sh", "bash", "cmd"}

// Candidate is a process whose command line contains the signature.
type Candidate struct {
	PID     int
	PPID    int
	Name    string
	Cmdline string
	// Leaf is true when no other candidate is a child of this one.
	Leaf bool
	// Shim is true when the executable is a known launcher.
	Shim bool
}

// WorkerLocator discovers a worker process by signature.
type WorkerLocator interface {
	// Locate returns the best matching PID or ErrNotFound.
	Locate(ctx context.Context, signature string) (int, error)
	// FindAll returns every matching process.
	FindAll(ctx context.Context, signature string) ([]Candidate, error)
}

// ProcessTable scans the live process table through gopsutil.
type ProcessTable struct {
	// Shims overrides DefaultShims when non-empty.
	Shims []string
}

func NewProcessTable() *ProcessTable { return &ProcessTable{} }

func (t *ProcessTable) shims() []string {
	if len(t.Shims) > 0 {
		return t.Shims
	}
	return DefaultShims
}

func (t *ProcessTable) FindAll(ctx context.Context, signature string) ([]Candidate, error) {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return nil, errors.New("empty worker signature")
	}
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	self := int32(os.Getpid())
	var out []Candidate
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || !strings.Contains(cmdline, signature) {
			continue
		}
		c := Candidate{PID: int(p.Pid), Cmdline: cmdline}
		if ppid, err := p.PpidWithContext(ctx); err == nil {
			c.PPID = int(ppid)
		}
		if name, err := p.NameWithContext(ctx); err == nil {
			c.Name = name
		}
		out = append(out, c)
	}
	classify(out, t.shims())
	return out, nil
}

func (t *ProcessTable) Locate(ctx context.Context, signature string) (int, error) {
	cands, err := t.FindAll(ctx, signature)
	if err != nil {
		return 0, err
	}
	best, ok := Pick(cands)
	if !ok {
		return 0, ErrNotFound
	}
	return best.PID, nil
}

// classify marks leaves and shims in place.
func classify(cands []Candidate, shims []string) {
	parents := make(map[int]bool, len(cands))
	for _, c := range cands {
		parents[c.PPID] = true
	}
	for i := range cands {
		cands[i].Leaf = !parents[cands[i].PID]
		cands[i].Shim = isShim(cands[i], shims)
	}
}

func isShim(c Candidate, shims []string) bool {
	name := c.Name
	if name == "" {
		if f := strings.Fields(c.Cmdline); len(f) > 0 {
			name = f[0]
		}
	}
	name = strings.ToLower(filepath.Base(name))
	name = strings.TrimSuffix(name, ".exe")
	return slices.Contains(shims, name)
}

// Pick chooses the candidate most likely to be the real worker: leaves over
// parents, interpreters over shims, then the newest PID.
func Pick(cands []Candidate) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}
	ranked := append([]Candidate(nil), cands...)
	score := func(c Candidate) int {
		s := 0
		if c.Leaf {
			s += 2
		}
		if !c.Shim {
			s++
		}
		return s
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := score(ranked[i]), score(ranked[j])
		if si != sj {
			return si > sj
		}
		return ranked[i].PID > ranked[j].PID
	})
	return ranked[0], true
}

var _ WorkerLocator = (*ProcessTable)(nil)
