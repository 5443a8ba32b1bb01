package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = errors.New("store: not found")

// PIDRecord is the last known PID of a service spawned by the supervisor.
// StartUnix is the process start time, used to reject recycled PIDs.
type PIDRecord struct {
	Key       string
	PID       int
	StartUnix int64
	UpdatedAt time.Time
}

// Setting is the persisted per-service preference.
type Setting struct {
	Key       string
	AutoStart bool
	UpdatedAt time.Time
}

// Store persists supervisor state that must survive a restart: per-service
// settings and the PID ledger.
type Store interface {
	EnsureSchema(ctx context.Context) error

	SetAutoStart(ctx context.Context, key string, enabled bool) error
	Settings(ctx context.Context) ([]Setting, error)

	SavePID(ctx context.Context, rec PIDRecord) error
	DeletePID(ctx context.Context, key string) error
	PIDs(ctx context.Context) ([]PIDRecord, error)

	Close() error
}

// AutoStartMap flattens settings into key -> enabled.
func AutoStartMap(ctx context.Context, s Store) (map[string]bool, error) {
	rows, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(rows))
	for _, r := range rows {
		out[r.Key] = r.AutoStart
	}
	return out, nil
}
