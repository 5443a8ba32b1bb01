package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/spokevisor/internal/store"
)

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS service_settings(
			service_key TEXT PRIMARY KEY,
			auto_start BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS service_pids(
			service_key TEXT PRIMARY KEY,
			pid INTEGER NOT NULL,
			start_unix BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) SetAutoStart(ctx context.Context, key string, enabled bool) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO service_settings(service_key, auto_start, updated_at)
		VALUES($1,$2,$3)
		ON CONFLICT(service_key) DO UPDATE SET
			auto_start=EXCLUDED.auto_start,
			updated_at=EXCLUDED.updated_at;`,
		key, enabled, time.Now().UTC())
	return err
}

func (p *DB) Settings(ctx context.Context) ([]store.Setting, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT service_key, auto_start, updated_at FROM service_settings ORDER BY service_key`)
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

func (p *DB) SavePID(ctx context.Context, rec store.PIDRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO service_pids(service_key, pid, start_unix, updated_at)
		VALUES($1,$2,$3,$4)
		ON CONFLICT(service_key) DO UPDATE SET
			pid=EXCLUDED.pid,
			start_unix=EXCLUDED.start_unix,
			updated_at=EXCLUDED.updated_at;`,
		rec.Key, rec.PID, rec.StartUnix, rec.UpdatedAt.UTC())
	return err
}

func (p *DB) DeletePID(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM service_pids WHERE service_key = $1`, key)
	return err
}

func (p *DB) PIDs(ctx context.Context) ([]store.PIDRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT service_key, pid, start_unix, updated_at FROM service_pids ORDER BY service_key`)
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
