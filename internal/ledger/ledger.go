// Package ledger persists the PIDs of services the supervisor spawned so a
// restarted supervisor can adopt them instead of launching duplicates.
package ledger

import "context"

// Entry is one ledger record. StartUnix is the process start time when it
// could be read; zero means unknown and disables the recycled-PID check.
type Entry struct {
	PID       int   `json:"pid"`
	StartUnix int64 `json:"start_unix,omitempty"`
}

// Ledger maps service key to the last spawned PID. Implementations must be
// safe for concurrent use.
type Ledger interface {
	Save(ctx context.Context, key string, e Entry) error
	Remove(ctx context.Context, key string) error
	Load(ctx context.Context) (map[string]Entry, error)
}

// Nop discards writes and loads nothing.
type Nop struct{}

func (Nop) Save(context.Context, string, Entry) error       { return nil }
func (Nop) Remove(context.Context, string) error            { return nil }
func (Nop) Load(context.Context) (map[string]Entry, error) { return map[string]Entry{}, nil }
