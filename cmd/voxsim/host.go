package main

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/voxsim/server/internal/bridge"
	"github.com/voxsim/server/internal/data"
	"github.com/voxsim/server/internal/world"
)

const (
	reportInterval = 5 * time.Second
	defaultLead    = 16
)

// feeder keeps the input stream Lead ticks ahead of the simulation. The
// simulation only steps while it holds an event, so every tick gets one:
// the scripted event when one is due, an empty event otherwise. Scenario
// offsets count from the start tick.
type feeder struct {
	sc    *data.Scenario
	start uint64
	next  uint64
	lead  uint64
}

func newFeeder(sc *data.Scenario, start uint64) *feeder {
	lead := uint64(defaultLead)
	if sc != nil && sc.Lead > 0 {
		lead = sc.Lead
	}
	return &feeder{sc: sc, start: start, next: start, lead: lead}
}

func (f *feeder) feed(h *bridge.Host) int {
	horizon := f.start + f.lead
	if h.OutputInit {
		horizon = h.OutputTick + f.lead
	}
	queued := 0
	for ; f.next <= horizon; f.next++ {
		ev := world.Event{Tick: f.next}
		if f.sc != nil {
			if due, ok := f.sc.Due(f.next - f.start); ok {
				ev = due
				ev.Tick = f.next
			}
		}
		h.Queue(ev)
		queued++
	}
	return queued
}

// runHost drives the bridge at the host frame rate until ctx ends or the
// simulation closes its output.
func runHost(ctx context.Context, h *bridge.Host, br *bridge.Bridge, sc *data.Scenario, start uint64, frame time.Duration, log *zap.Logger) error {
	defer br.CloseInput()

	h.SetState(bridge.StateStart)
	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	f := newFeeder(sc, start)
	lastReport := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		f.feed(h)
		if _, err := h.Frame(); err != nil {
			if errors.Is(err, bridge.ErrClosed) {
				log.Info("模擬輸出已關閉", zap.Uint64("tick", h.OutputTick))
				return nil
			}
			return err
		}

		if time.Since(lastReport) < reportInterval {
			continue
		}
		lastReport = time.Now()
		outs := h.Outputs()
		if len(outs) == 0 {
			continue
		}
		last := outs[len(outs)-1]
		log.Info("模擬狀態", zap.Uint64("tick", last.Tick), zap.Int("players", len(last.Players)), zap.Uint64("dropped", br.Dropped()))
		for _, p := range last.Players {
			log.Debug("玩家位置", zap.String("peer", p.Config.PeerID), zap.Float32s("pos", p.Pos[:]), zap.Any("key", p.Config.CurKey))
		}
	}
}
