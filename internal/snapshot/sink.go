package snapshot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voxsim/server/internal/sim"
)

// Store keeps encoded snapshots outside the file system.
type Store interface {
	Put(ctx context.Context, h Header, data []byte) error
}

// Sink writes periodic results to a directory, a Store, or both.
type Sink struct {
	Dir   string
	Store Store
	RunID uuid.UUID
	Log   *zap.Logger

	StoreTimeout time.Duration // per Store.Put, 0 = none
}

func (s *Sink) SaveSnapshot(ctx context.Context, res *sim.Result) error {
	h := NewHeader(s.RunID, res)
	data, err := Marshal(h, res)
	if err != nil {
		return err
	}

	var errs []error
	if s.Dir != "" {
		path := filepath.Join(s.Dir, FileName(h.Tick))
		if err := writeAtomic(path, data); err != nil {
			errs = append(errs, err)
		} else {
			s.Log.Debug("快照已寫入", zap.String("path", path), zap.Int("bytes", len(data)))
		}
	}
	if s.Store != nil {
		putCtx := ctx
		if s.StoreTimeout > 0 {
			var cancel context.CancelFunc
			putCtx, cancel = context.WithTimeout(ctx, s.StoreTimeout)
			defer cancel()
		}
		if err := s.Store.Put(putCtx, h, data); err != nil {
			errs = append(errs, fmt.Errorf("store snapshot tick %d: %w", h.Tick, err))
		}
	}
	return errors.Join(errs...)
}
