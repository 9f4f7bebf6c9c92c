package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voxsim/server/internal/sim"
	"github.com/voxsim/server/internal/snapshot"
	"github.com/voxsim/server/internal/world"
)

// snapshotSource is the read side of the snapshot store.
type snapshotSource interface {
	Latest(ctx context.Context, runID uuid.UUID) (snapshot.Header, []byte, error)
}

// journalSource is the read side of the event journal.
type journalSource interface {
	Events(ctx context.Context, runID uuid.UUID, fromTick uint64) ([]world.Event, error)
}

type restored struct {
	Header   snapshot.Header
	Replayed int
}

// restoreState loads the starting state named by from. A run id loads that
// run's newest stored snapshot and queues every journaled event from the
// snapshot tick on; anything else is read as a snapshot file path.
func restoreState(ctx context.Context, m *sim.Manager, from string, snaps snapshotSource, journal journalSource, log *zap.Logger) (restored, error) {
	runID, err := uuid.Parse(from)
	if err != nil {
		h, res, err := snapshot.ReadFile(from)
		if err != nil {
			return restored{}, fmt.Errorf("restore %s: %w", from, err)
		}
		m.Copy(res)
		log.Info("從快照檔還原", zap.String("path", from), zap.Uint64("tick", h.Tick), zap.Int("players", h.Players))
		return restored{Header: h}, nil
	}

	if snaps == nil {
		return restored{}, fmt.Errorf("restore run %s: database disabled", runID)
	}
	h, data, err := snaps.Latest(ctx, runID)
	if err != nil {
		return restored{}, fmt.Errorf("restore run %s: %w", runID, err)
	}
	_, res, err := snapshot.Unmarshal(data)
	if err != nil {
		return restored{}, fmt.Errorf("restore run %s tick %d: %w", runID, h.Tick, err)
	}
	m.Copy(res)

	out := restored{Header: h}
	if journal != nil {
		evs, err := journal.Events(ctx, runID, res.Tick)
		if err != nil {
			return out, fmt.Errorf("replay journal %s: %w", runID, err)
		}
		m.Enqueue(evs...)
		out.Replayed = len(evs)
	}
	log.Info("從資料庫還原",
		zap.String("from_run", runID.String()),
		zap.Uint64("tick", res.Tick),
		zap.Int("players", len(res.Players)),
		zap.Int("replayed", out.Replayed))
	return out, nil
}
