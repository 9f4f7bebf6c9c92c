package sim

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/voxsim/server/internal/bridge"
)

// SnapshotSink persists periodic results. The worker calls it on the
// simulation goroutine with a result it may keep, so IO-bound sinks go
// behind a Snapshotter.
type SnapshotSink interface {
	SaveSnapshot(ctx context.Context, res *Result) error
}

type WorkerConfig struct {
	TickRate      time.Duration
	SnapshotEvery uint64 // ticks between snapshots, 0 = off
}

// Worker drives a Manager at a fixed wall-clock cadence, independent of
// the host frame rate.
type Worker struct {
	m    *Manager
	br   *bridge.Bridge
	cfg  WorkerConfig
	sink SnapshotSink
	log  *zap.Logger

	lastSnapshot uint64
}

func NewWorker(m *Manager, br *bridge.Bridge, cfg WorkerConfig, sink SnapshotSink, log *zap.Logger) *Worker {
	if cfg.TickRate <= 0 {
		cfg.TickRate = time.Second / 240
	}
	return &Worker{m: m, br: br, cfg: cfg, sink: sink, log: log}
}

// Run loops until ctx ends or the input channel closes. The output
// channel is closed on return so the host sees end of stream.
func (w *Worker) Run(ctx context.Context) error {
	defer w.br.CloseOutput()

	ticker := time.NewTicker(w.cfg.TickRate)
	defer ticker.Stop()

	w.log.Info("模擬執行緒啟動", zap.Duration("tick_rate", w.cfg.TickRate))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("模擬執行緒停止", zap.Uint64("tick", w.m.Tick()))
			return nil
		case <-ticker.C:
		}

		stepped, err := w.m.SimUpdate(ctx, w.br)
		if err != nil {
			if errors.Is(err, ErrInputClosed) {
				w.log.Info("輸入通道已關閉，停止模擬", zap.Uint64("tick", w.m.Tick()))
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if stepped {
			w.snapshot(ctx)
		}
	}
}

func (w *Worker) snapshot(ctx context.Context) {
	if w.sink == nil || w.cfg.SnapshotEvery == 0 {
		return
	}
	tick := w.m.Tick()
	if tick-w.lastSnapshot < w.cfg.SnapshotEvery {
		return
	}
	w.lastSnapshot = tick
	if err := w.sink.SaveSnapshot(ctx, w.m.ProcessResult()); err != nil {
		w.log.Error("快照儲存失敗", zap.Uint64("tick", tick), zap.Error(err))
	}
}
