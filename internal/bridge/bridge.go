package bridge

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/voxsim/server/internal/world"
)

var (
	// ErrBackpressure is returned by Send when the input queue is full.
	ErrBackpressure = errors.New("bridge: input queue full")
	// ErrClosed is returned once the relevant side of the bridge is closed.
	ErrClosed = errors.New("bridge: closed")
	// ErrEmpty means a non-blocking receive found nothing. Not a fault.
	ErrEmpty = errors.New("bridge: empty")
)

// Input is one host frame worth of events, sent as a unit.
type Input struct {
	Events []world.Event
}

// Output is the per-tick snapshot sent back to the host.
type Output struct {
	Tick    uint64 // tick that was just simulated
	Event   world.Event
	Players []*world.Player
}

// Bridge carries batched input to the simulation worker and per-tick
// output back. Both queues are bounded and every operation is non-blocking.
type Bridge struct {
	input  chan Input
	output chan Output

	inMu     sync.RWMutex
	inClosed bool
	outMu    sync.RWMutex
	outClose bool

	dropped atomic.Uint64
	dropLog rate.Sometimes

	log *zap.Logger
}

func New(inSize, outSize int, log *zap.Logger) *Bridge {
	return &Bridge{
		input:   make(chan Input, inSize),
		output:  make(chan Output, outSize),
		dropLog: rate.Sometimes{First: 1, Interval: 5 * time.Second},
		log:     log,
	}
}

// Send enqueues a batch for the simulation worker. Called from the host.
func (b *Bridge) Send(in Input) error {
	b.inMu.RLock()
	defer b.inMu.RUnlock()
	if b.inClosed {
		return ErrClosed
	}
	select {
	case b.input <- in:
		return nil
	default:
		return ErrBackpressure
	}
}

// CloseInput tells the simulation worker no more input will arrive.
func (b *Bridge) CloseInput() {
	b.inMu.Lock()
	defer b.inMu.Unlock()
	if !b.inClosed {
		b.inClosed = true
		close(b.input)
	}
}

// TryRecvInput is the simulation side of the input queue.
func (b *Bridge) TryRecvInput() (Input, error) {
	select {
	case in, ok := <-b.input:
		if !ok {
			return Input{}, ErrClosed
		}
		return in, nil
	default:
		return Input{}, ErrEmpty
	}
}

// Publish hands an output to the host without blocking. A full queue drops
// the output; the simulation keeps advancing regardless of the host.
func (b *Bridge) Publish(out Output) bool {
	b.outMu.RLock()
	defer b.outMu.RUnlock()
	if b.outClose {
		return false
	}
	select {
	case b.output <- out:
		return true
	default:
		n := b.dropped.Add(1)
		b.dropLog.Do(func() {
			b.log.Warn("輸出佇列已滿，丟棄快照",
				zap.Uint64("tick", out.Tick),
				zap.Uint64("dropped", n))
		})
		return false
	}
}

// CloseOutput signals end of stream to the host.
func (b *Bridge) CloseOutput() {
	b.outMu.Lock()
	defer b.outMu.Unlock()
	if !b.outClose {
		b.outClose = true
		close(b.output)
	}
}

// TryRecvOutput is the host side of the output queue.
func (b *Bridge) TryRecvOutput() (Output, error) {
	select {
	case out, ok := <-b.output:
		if !ok {
			return Output{}, ErrClosed
		}
		return out, nil
	default:
		return Output{}, ErrEmpty
	}
}

// Dropped returns how many outputs were discarded on a full queue.
func (b *Bridge) Dropped() uint64 {
	return b.dropped.Load()
}
