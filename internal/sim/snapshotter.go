package sim

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Snapshotter moves snapshot IO off the simulation goroutine. SaveSnapshot
// only queues the result; Run hands queued results to the wrapped sink.
// A full queue drops the newest result.
type Snapshotter struct {
	sink    SnapshotSink
	ch      chan *Result
	timeout time.Duration // per save, 0 = none
	log     *zap.Logger

	dropped atomic.Uint64
	saved   atomic.Uint64
	warn    rate.Sometimes
}

func NewSnapshotter(sink SnapshotSink, size int, timeout time.Duration, log *zap.Logger) *Snapshotter {
	if size <= 0 {
		size = 1
	}
	return &Snapshotter{
		sink:    sink,
		ch:      make(chan *Result, size),
		timeout: timeout,
		log:     log,
		warn:    rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
}

// SaveSnapshot never blocks.
func (s *Snapshotter) SaveSnapshot(_ context.Context, res *Result) error {
	select {
	case s.ch <- res:
	default:
		n := s.dropped.Add(1)
		s.warn.Do(func() {
			s.log.Warn("快照佇列已滿，丟棄快照", zap.Uint64("tick", res.Tick), zap.Uint64("dropped", n))
		})
	}
	return nil
}

func (s *Snapshotter) Dropped() uint64 { return s.dropped.Load() }
func (s *Snapshotter) Saved() uint64   { return s.saved.Load() }

// Run saves queued results until ctx ends, then writes what is still queued.
func (s *Snapshotter) Run(ctx context.Context) error {
	for {
		select {
		case res := <-s.ch:
			s.save(ctx, res)
		case <-ctx.Done():
			final := context.WithoutCancel(ctx)
			for {
				select {
				case res := <-s.ch:
					s.save(final, res)
				default:
					return nil
				}
			}
		}
	}
}

func (s *Snapshotter) save(ctx context.Context, res *Result) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := s.sink.SaveSnapshot(ctx, res); err != nil {
		s.log.Error("快照儲存失敗", zap.Uint64("tick", res.Tick), zap.Error(err))
		return
	}
	s.saved.Add(1)
}
