package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// File keeps the ledger as a JSON object in a single file:
//
//	{"web": {"pid": 4242, "start_unix": 1700000000}}
//
// Entries written as a bare PID number are accepted on load. Load reports
// an unparsable file as ErrCorrupt; Save and Remove replace it.
type File struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// ErrCorrupt marks a ledger file that is not valid JSON.
var ErrCorrupt = errors.New("corrupt ledger")

func NewFile(path string, logger *slog.Logger) *File {
	if logger == nil {
		logger = slog.Default()
	}
	return &File{path: path, logger: logger}
}

func (f *File) Path() string { return f.path }

func (f *File) Save(_ context.Context, key string, e Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, _, err := f.readForWrite()
	if err != nil {
		return err
	}
	m[key] = e
	return f.write(m)
}

func (f *File) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, discarded, err := f.readForWrite()
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok && !discarded {
		return nil
	}
	delete(m, key)
	return f.write(m)
}

func (f *File) Load(context.Context) (map[string]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

// readForWrite is read with a corrupt file counted as empty. discarded
// reports that case so the caller rewrites the file.
func (f *File) readForWrite() (m map[string]Entry, discarded bool, err error) {
	m, err = f.read()
	if errors.Is(err, ErrCorrupt) {
		f.logger.Warn("discarding corrupt pid ledger", "path", f.path, "error", err)
		return map[string]Entry{}, true, nil
	}
	return m, false, err
}

func (f *File) read() (map[string]Entry, error) {
	out := map[string]Entry{}
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if len(b) == 0 {
		return out, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrCorrupt, f.path, err)
	}
	for k, v := range raw {
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			var pid int
			if err2 := json.Unmarshal(v, &pid); err2 != nil {
				return nil, fmt.Errorf("%w %s: entry %q: %v", ErrCorrupt, f.path, k, err)
			}
			e = Entry{PID: pid}
		}
		out[k] = e
	}
	return out, nil
}

// write replaces the file atomically via a temp file in the same directory.
func (f *File) write(m map[string]Entry) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".ledger-*")
	if err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
