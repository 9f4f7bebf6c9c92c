package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/voxsim/server/internal/snapshot"
)

var ErrNoSnapshot = errors.New("no snapshot")

type SnapshotRepo struct {
	db *DB
}

func NewSnapshotRepo(db *DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

// Put stores an encoded snapshot. A second snapshot at the same tick of
// the same run replaces the first.
func (r *SnapshotRepo) Put(ctx context.Context, h snapshot.Header, data []byte) error {
	hb, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("snapshot header: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx,
		`INSERT INTO snapshots (run_id, tick, header, data)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (run_id, tick) DO UPDATE SET header = EXCLUDED.header, data = EXCLUDED.data`,
		h.RunID, int64(h.Tick), string(hb), data,
	)
	if err != nil {
		return fmt.Errorf("snapshot insert: %w", err)
	}
	return nil
}

// Latest returns the highest-tick snapshot of a run.
func (r *SnapshotRepo) Latest(ctx context.Context, runID uuid.UUID) (snapshot.Header, []byte, error) {
	var (
		h    snapshot.Header
		hb   []byte
		data []byte
	)
	err := r.db.Pool.QueryRow(ctx,
		`SELECT header, data FROM snapshots WHERE run_id = $1 ORDER BY tick DESC LIMIT 1`, runID,
	).Scan(&hb, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return h, nil, ErrNoSnapshot
	}
	if err != nil {
		return h, nil, err
	}
	if err := json.Unmarshal(hb, &h); err != nil {
		return h, nil, fmt.Errorf("snapshot header: %w", err)
	}
	return h, data, nil
}
