package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/voxsim/server/internal/bridge"
	"github.com/voxsim/server/internal/core/event"
	"github.com/voxsim/server/internal/core/system"
	"github.com/voxsim/server/internal/physics"
	"github.com/voxsim/server/internal/scripting"
	"github.com/voxsim/server/internal/terrain"
	"github.com/voxsim/server/internal/voxel"
	"github.com/voxsim/server/internal/world"
)

// ErrInputClosed is returned when the host side of the input queue is gone.
var ErrInputClosed = errors.New("sim: input channel closed")

// EffortSource tunes the movement impulse per player.
type EffortSource interface {
	MoveEffort(ctx scripting.MoveContext) float32
}

// Recorder receives every event at the tick it is applied.
type Recorder interface {
	Record(ev world.Event)
}

type Character struct {
	Depth  float32
	Radius float32
}

type Options struct {
	Seamless        uint32
	Character       Character
	MoveEffort      float32
	TerrainFriction float32 // 0 keeps the collider default
	Keys            world.KeyMap
	Effort          EffortSource // optional
	Recorder        Recorder     // optional
}

// Stats counts what happened since start. Updated from bus events, so a
// step's changes show up after the following step begins.
type Stats struct {
	Spawned          uint64
	Despawned        uint64
	Crossings        uint64
	Batches          uint64
	CollidersSpawned uint64
	CollidersEvicted uint64
	StaleEvents      uint64
}

// Manager is the simulation driver. It owns the physics world and every
// player exclusively; all methods must be called from one goroutine.
type Manager struct {
	tick        uint64
	frames      uint64
	events      []world.Event
	current     *world.Event
	players     []*world.Player
	savedEvents []world.Event

	colliderHandles map[voxel.Key]physics.ColliderHandle

	physics *physics.World
	terrain *terrain.Manager
	grid    *voxel.Grid
	bus     *event.Bus
	runner  *system.Runner

	opts  Options
	stats Stats
	log   *zap.Logger
}

func New(phys *physics.World, terr *terrain.Manager, opts Options, log *zap.Logger) *Manager {
	if opts.Keys == (world.KeyMap{}) {
		opts.Keys = world.DefaultKeyMap()
	}
	m := &Manager{
		colliderHandles: make(map[voxel.Key]physics.ColliderHandle),
		physics:         phys,
		terrain:         terr,
		grid:            voxel.NewGrid(),
		bus:             event.NewBus(),
		runner:          system.NewRunner(),
		opts:            opts,
		log:             log,
	}
	m.subscribe()
	registerSystems(m)
	return m
}

func (m *Manager) subscribe() {
	event.Subscribe(m.bus, func(e event.PlayerSpawned) {
		m.stats.Spawned++
		m.log.Info("玩家生成", zap.String("peer", e.PeerID), zap.Uint64("tick", e.Tick), zap.Any("key", e.Key))
	})
	event.Subscribe(m.bus, func(e event.PlayerDespawned) {
		m.stats.Despawned++
		m.log.Info("玩家移除", zap.String("peer", e.PeerID), zap.Uint64("tick", e.Tick))
	})
	event.Subscribe(m.bus, func(e event.ChunkCrossed) {
		m.stats.Crossings++
		m.log.Debug("跨越區塊", zap.String("peer", e.PeerID), zap.Any("from", e.From), zap.Any("to", e.To))
	})
	event.Subscribe(m.bus, func(e event.ChunksLoaded) {
		m.stats.Batches++
		m.stats.CollidersSpawned += uint64(e.Colliders)
	})
	event.Subscribe(m.bus, func(e event.CollidersEvicted) {
		m.stats.CollidersEvicted += uint64(len(e.Keys))
		m.log.Debug("地形碰撞體回收", zap.Uint64("tick", e.Tick), zap.Int("keys", len(e.Keys)))
	})
}

// Enqueue adds events keeping the queue in non-decreasing tick order.
// Events with equal ticks keep their arrival order.
func (m *Manager) Enqueue(evs ...world.Event) {
	for _, ev := range evs {
		n := len(m.events)
		if n == 0 || m.events[n-1].Tick <= ev.Tick {
			m.events = append(m.events, ev)
			continue
		}
		i := sort.Search(n, func(i int) bool { return m.events[i].Tick > ev.Tick })
		m.events = append(m.events, world.Event{})
		copy(m.events[i+1:], m.events[i:])
		m.events[i] = ev
	}
}

// selectEvent retires a finished current event and pops the next usable
// one, discarding stale events on the way.
func (m *Manager) selectEvent() {
	if m.current != nil && m.tick > m.current.Tick {
		m.current = nil
	}
	for m.current == nil && len(m.events) > 0 {
		front := m.events[0]
		m.events = m.events[1:]
		if m.tick <= front.Tick {
			m.current = &front
			return
		}
		m.stats.StaleEvents++
		m.log.Debug("丟棄過期事件", zap.Uint64("event_tick", front.Tick), zap.Uint64("tick", m.tick))
	}
}

// SimUpdate drains the input queue, picks the event to apply and runs at
// most one step, publishing its output. Reports whether a step ran.
func (m *Manager) SimUpdate(ctx context.Context, br *bridge.Bridge) (bool, error) {
	for {
		in, err := br.TryRecvInput()
		if errors.Is(err, bridge.ErrEmpty) {
			break
		}
		if err != nil {
			return false, ErrInputClosed
		}
		m.Enqueue(in.Events...)
	}

	m.selectEvent()
	if m.current == nil {
		return false, nil
	}

	m.frames++
	if err := m.Update(ctx); err != nil {
		return false, err
	}

	e := m.current.Clone()
	if e.Tick != m.tick-1 {
		e = e.Header()
	}
	br.Publish(bridge.Output{
		Tick:    m.tick - 1,
		Event:   e,
		Players: m.clonePlayers(),
	})
	return true, nil
}

// Update runs one simulation step for the current event.
func (m *Manager) Update(ctx context.Context) error {
	if m.current == nil {
		return nil
	}
	dt := time.Duration(float64(m.physics.Params.Dt) * float64(time.Second))
	if err := m.runner.Tick(ctx, dt); err != nil {
		return fmt.Errorf("step tick %d: %w", m.tick, err)
	}
	return nil
}

// applyCommands applies the current event when it belongs to this tick.
func (m *Manager) applyCommands() {
	if m.current == nil || m.tick != m.current.Tick {
		return
	}
	// despawns first so a reconnect (despawn and spawn of one peer) keeps its player
	ev := m.current
	m.ProcessDespawns(ev.Despawns)
	m.ProcessSpawns(ev.Spawns)
	m.ProcessActions(ev.Actions)

	if ev.Empty() {
		return
	}
	saved := ev.Clone()
	m.savedEvents = append(m.savedEvents, saved)
	if m.opts.Recorder != nil {
		m.opts.Recorder.Record(saved)
	}
}

func (m *Manager) clonePlayers() []*world.Player {
	out := make([]*world.Player, len(m.players))
	for i, p := range m.players {
		out[i] = p.Clone()
	}
	return out
}

func (m *Manager) Tick() uint64   { return m.tick }
func (m *Manager) Frames() uint64 { return m.frames }
func (m *Manager) Queued() int    { return len(m.events) }
func (m *Manager) Stats() Stats   { return m.stats }

// Current returns the event being applied, if any.
func (m *Manager) Current() (world.Event, bool) {
	if m.current == nil {
		return world.Event{}, false
	}
	return *m.current, true
}

// Players returns the live player records. Callers must not retain them
// across steps.
func (m *Manager) Players() []*world.Player { return m.players }

func (m *Manager) Player(peerID string) (*world.Player, bool) {
	i := m.playerIndex(peerID)
	if i < 0 {
		return nil, false
	}
	return m.players[i], true
}

func (m *Manager) playerIndex(peerID string) int {
	for i, p := range m.players {
		if p.Config.PeerID == peerID {
			return i
		}
	}
	return -1
}

func (m *Manager) SavedEvents() []world.Event { return m.savedEvents }

// Collider returns the terrain collider streamed for key.
func (m *Manager) Collider(key voxel.Key) (physics.ColliderHandle, bool) {
	h, ok := m.colliderHandles[key]
	return h, ok
}

func (m *Manager) Colliders() int { return len(m.colliderHandles) }

func (m *Manager) Physics() *physics.World { return m.physics }

func (m *Manager) Terrain() *terrain.Manager { return m.terrain }

// Close stops outstanding terrain loaders.
func (m *Manager) Close() {
	m.terrain.Close()
}
