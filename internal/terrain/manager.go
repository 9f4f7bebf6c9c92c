package terrain

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/voxsim/server/internal/voxel"
)

// ErrTimeout is returned by Wait when the dispatched batches of the
// current cycle did not all arrive in time.
var ErrTimeout = errors.New("terrain: wait timed out")

// Cache stores generated chunks across runs. Implementations must be safe
// for concurrent use by loader goroutines.
type Cache interface {
	Get(ctx context.Context, key voxel.Key) (*voxel.Chunk, bool, error)
	Put(ctx context.Context, c *voxel.Chunk) error
}

type Config struct {
	Workers     int64         // max loader goroutines generating at once
	ChannelSize int           // result channel capacity
	Timeout     time.Duration // Wait budget per cycle, 0 = unbounded
}

// KeyChunk pairs a generated chunk with its key.
type KeyChunk struct {
	Key   voxel.Key
	Chunk *voxel.Chunk
}

// Batch is the result of one LoadData call.
type Batch struct {
	Cycle  uint64
	Chunks []KeyChunk
}

// Manager dispatches chunk generation to background goroutines and tracks
// completion per cycle. Everything except the loader goroutines runs on
// the simulation goroutine.
type Manager struct {
	gen   voxel.Generator
	cache Cache
	cfg   Config
	log   *zap.Logger

	sem     *semaphore.Weighted
	results chan Batch
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	cycle          uint64
	callCount      int
	fulfilledCount int
	dispatched     [][]voxel.Key

	data map[voxel.Key]*voxel.Chunk
}

func New(gen voxel.Generator, cfg Config, cache Cache, log *zap.Logger) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ChannelSize <= 0 {
		cfg.ChannelSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		gen:     gen,
		cache:   cache,
		cfg:     cfg,
		log:     log,
		sem:     semaphore.NewWeighted(cfg.Workers),
		results: make(chan Batch, cfg.ChannelSize),
		ctx:     ctx,
		cancel:  cancel,
		data:    make(map[voxel.Key]*voxel.Chunk),
	}
}

// LoadData starts a loader for keys and returns immediately.
func (m *Manager) LoadData(keys []voxel.Key) {
	if len(keys) == 0 {
		return
	}
	m.callCount++
	batch := append([]voxel.Key(nil), keys...)
	m.dispatched = append(m.dispatched, batch)

	m.wg.Add(1)
	go m.load(m.cycle, batch)
}

func (m *Manager) load(cycle uint64, keys []voxel.Key) {
	defer m.wg.Done()
	if err := m.sem.Acquire(m.ctx, 1); err != nil {
		return
	}
	defer m.sem.Release(1)

	out := Batch{Cycle: cycle, Chunks: make([]KeyChunk, 0, len(keys))}
	for _, k := range keys {
		out.Chunks = append(out.Chunks, KeyChunk{Key: k, Chunk: m.chunk(k)})
	}

	select {
	case m.results <- out:
	case <-m.ctx.Done():
	}
}

func (m *Manager) chunk(k voxel.Key) *voxel.Chunk {
	if m.cache != nil {
		c, ok, err := m.cache.Get(m.ctx, k)
		if err != nil {
			m.log.Warn("區塊快取讀取失敗", zap.Any("key", k), zap.Error(err))
		} else if ok {
			return c
		}
	}
	c := m.gen.NewChunk(k)
	if m.cache != nil {
		if err := m.cache.Put(m.ctx, c); err != nil {
			m.log.Warn("區塊快取寫入失敗", zap.Any("key", k), zap.Error(err))
		}
	}
	return c
}

// Received exposes the result channel.
func (m *Manager) Received() <-chan Batch {
	return m.results
}

// Accept merges a batch into the chunk cache. Only batches of the current
// cycle count toward DoneLoading; late ones are merged but not counted.
func (m *Manager) Accept(b Batch) {
	for _, kc := range b.Chunks {
		m.data[kc.Key] = kc.Chunk
	}
	if b.Cycle == m.cycle {
		m.fulfilledCount++
	} else {
		m.log.Debug("late terrain batch merged",
			zap.Uint64("batch_cycle", b.Cycle),
			zap.Uint64("cycle", m.cycle),
			zap.Int("chunks", len(b.Chunks)))
	}
}

// DoneLoading reports whether every batch dispatched this cycle arrived.
func (m *Manager) DoneLoading() bool {
	return m.callCount == m.fulfilledCount
}

// Reset starts a new cycle with zeroed counters.
func (m *Manager) Reset() {
	m.cycle++
	m.callCount = 0
	m.fulfilledCount = 0
	m.dispatched = nil
}

// Wait blocks until DoneLoading, calling fn for every batch received.
// Returns ErrTimeout when the configured budget runs out, or the context
// error if ctx ends first.
func (m *Manager) Wait(ctx context.Context, fn func(Batch)) error {
	if m.DoneLoading() {
		return nil
	}
	wctx := ctx
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}
	for !m.DoneLoading() {
		select {
		case b := <-m.results:
			m.Accept(b)
			if fn != nil {
				fn(b)
			}
		case <-wctx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			return ErrTimeout
		}
	}
	return nil
}

// Drain merges whatever batches are already waiting without blocking.
func (m *Manager) Drain(fn func(Batch)) int {
	n := 0
	for {
		select {
		case b := <-m.results:
			m.Accept(b)
			if fn != nil {
				fn(b)
			}
			n++
		default:
			return n
		}
	}
}

// Dispatched returns the key batches requested in the current cycle.
func (m *Manager) Dispatched() [][]voxel.Key {
	return m.dispatched
}

func (m *Manager) Calls() int     { return m.callCount }
func (m *Manager) Fulfilled() int { return m.fulfilledCount }

func (m *Manager) Chunk(k voxel.Key) (*voxel.Chunk, bool) {
	c, ok := m.data[k]
	return c, ok
}

func (m *Manager) Len() int { return len(m.data) }

// Data returns a deep copy of the chunk cache.
func (m *Manager) Data() map[voxel.Key]*voxel.Chunk {
	out := make(map[voxel.Key]*voxel.Chunk, len(m.data))
	for k, c := range m.data {
		out[k] = c.Clone()
	}
	return out
}

// Restore replaces the chunk cache with a copy of data.
func (m *Manager) Restore(data map[voxel.Key]*voxel.Chunk) {
	m.data = make(map[voxel.Key]*voxel.Chunk, len(data))
	for k, c := range data {
		m.data[k] = c.Clone()
	}
}

// Close cancels outstanding loaders and waits for them to exit.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}
