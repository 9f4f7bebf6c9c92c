package bridge

import (
	"errors"

	"go.uber.org/zap"

	"github.com/voxsim/server/internal/world"
)

// RunState gates whether the host drives the bridge on a frame.
type RunState uint8

const (
	StateNone RunState = iota
	StateStart
)

func (s RunState) String() string {
	if s == StateStart {
		return "start"
	}
	return "none"
}

// Host is the host-side half of the bridge: it batches events per frame
// and buffers the outputs drained since the previous frame.
// Not safe for concurrent use; one host loop owns it.
type Host struct {
	br    *Bridge
	state RunState

	pending []world.Event
	outputs []Output

	OutputTick uint64 // tick of the newest output seen
	OutputInit bool   // at least one output has arrived

	log *zap.Logger
}

func NewHost(br *Bridge, log *zap.Logger) *Host {
	return &Host{br: br, log: log}
}

func (h *Host) SetState(s RunState) {
	if h.state != s {
		h.log.Info("模擬狀態切換", zap.Stringer("from", h.state), zap.Stringer("to", s))
	}
	h.state = s
}

func (h *Host) State() RunState { return h.state }

// ShouldRun is evaluated once per host frame.
func (h *Host) ShouldRun() bool { return h.state == StateStart }

// Queue adds an event to the batch sent on the next Flush.
func (h *Host) Queue(ev world.Event) {
	h.pending = append(h.pending, ev)
}

func (h *Host) Pending() int { return len(h.pending) }

// Flush sends the pending events as one Input. On back-pressure the batch
// is kept and retried next frame.
func (h *Host) Flush() error {
	if len(h.pending) == 0 {
		return nil
	}
	if err := h.br.Send(Input{Events: h.pending}); err != nil {
		return err
	}
	h.pending = nil
	return nil
}

// Poll drains every available output. The buffer from the previous frame
// is discarded first. Returns ErrClosed after draining a closed stream.
func (h *Host) Poll() (int, error) {
	h.outputs = h.outputs[:0]
	for {
		out, err := h.br.TryRecvOutput()
		if errors.Is(err, ErrEmpty) {
			return len(h.outputs), nil
		}
		if err != nil {
			return len(h.outputs), err
		}
		h.outputs = append(h.outputs, out)
		h.OutputTick = out.Tick
		h.OutputInit = true
	}
}

// Outputs returns the outputs drained by the last Poll, oldest first.
func (h *Host) Outputs() []Output { return h.outputs }

// Frame runs one gated host frame: flush input, then drain output.
func (h *Host) Frame() (int, error) {
	if !h.ShouldRun() {
		return 0, nil
	}
	if err := h.Flush(); err != nil {
		if !errors.Is(err, ErrBackpressure) {
			return 0, err
		}
		h.log.Debug("輸入佇列已滿，延後送出", zap.Int("events", len(h.pending)))
	}
	return h.Poll()
}
