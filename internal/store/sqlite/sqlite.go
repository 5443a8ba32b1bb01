package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/spokevisor/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if p == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		d.SetMaxOpenConns(1)
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS service_settings(
			service_key TEXT PRIMARY KEY,
			auto_start BOOLEAN NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS service_pids(
			service_key TEXT PRIMARY KEY,
			pid INTEGER NOT NULL,
			start_unix INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL
		);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) SetAutoStart(ctx context.Context, key string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_settings(service_key, auto_start, updated_at)
		VALUES(?, ?, ?)
		ON CONFLICT(service_key) DO UPDATE SET
			auto_start=excluded.auto_start,
			updated_at=excluded.updated_at;`,
		key, enabled, time.Now().UTC())
	return err
}

func (s *DB) Settings(ctx context.Context) ([]store.Setting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT service_key, auto_start, updated_at FROM service_settings ORDER BY service_key`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.Setting
	for rows.Next() {
		var st store.Setting
		if err := rows.Scan(&st.Key, &st.AutoStart, &st.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *DB) SavePID(ctx context.Context, rec store.PIDRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_pids(service_key, pid, start_unix, updated_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(service_key) DO UPDATE SET
			pid=excluded.pid,
			start_unix=excluded.start_unix,
			updated_at=excluded.updated_at;`,
		rec.Key, rec.PID, rec.StartUnix, rec.UpdatedAt.UTC())
	return err
}

func (s *DB) DeletePID(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM service_pids WHERE service_key = ?`, key)
	return err
}

func (s *DB) PIDs(ctx context.Context) ([]store.PIDRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT service_key, pid, start_unix, updated_at FROM service_pids ORDER BY service_key`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.PIDRecord
	for rows.Next() {
		var r store.PIDRecord
		if err := rows.Scan(&r.Key, &r.PID, &r.StartUnix, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ store.Store = (*DB)(nil)
