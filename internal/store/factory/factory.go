package factory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/spokevisor/internal/store"
	pg "github.com/loykin/spokevisor/internal/store/postgres"
	sq "github.com/loykin/spokevisor/internal/store/sqlite"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - sqlite:  "sqlite:///<path>" or bare filepath (treated as sqlite)
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return nil, errors.New("empty DSN")
	}
	if isPostgres(d) {
		return pg.New(d)
	}
	return sq.New(sqlitePath(d))
}

// Open is NewFromDSN plus schema creation. For sqlite files the parent
// directory is created first.
func Open(ctx context.Context, dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	if d != "" && !isPostgres(d) {
		if p := sqlitePath(d); p != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
				return nil, fmt.Errorf("create store dir: %w", err)
			}
		}
	}
	s, err := NewFromDSN(d)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func isPostgres(dsn string) bool {
	l := strings.ToLower(dsn)
	return strings.HasPrefix(l, "postgres://") || strings.HasPrefix(l, "postgresql://")
}

func sqlitePath(dsn string) string {
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		return dsn[len("sqlite://"):]
	}
	return dsn
}
