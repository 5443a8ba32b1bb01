package ledger

import (
	"context"
	"time"

	"github.com/loykin/spokevisor/internal/store"
)

// SQL keeps the ledger in the service_pids table of a settings store.
type SQL struct {
	db store.Store
}

func NewSQL(db store.Store) *SQL { return &SQL{db: db} }

func (s *SQL) Save(ctx context.Context, key string, e Entry) error {
	return s.db.SavePID(ctx, store.PIDRecord{Key: key, PID: e.PID, StartUnix: e.StartUnix, UpdatedAt: time.Now().UTC()})
}

func (s *SQL) Remove(ctx context.Context, key string) error {
	return s.db.DeletePID(ctx, key)
}

func (s *SQL) Load(ctx context.Context) (map[string]Entry, error) {
	recs, err := s.db.PIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Entry, len(recs))
	for _, r := range recs {
		out[r.Key] = Entry{PID: r.PID, StartUnix: r.StartUnix}
	}
	return out, nil
}
