package sim

import (
	"github.com/voxsim/server/internal/physics"
	"github.com/voxsim/server/internal/voxel"
	"github.com/voxsim/server/internal/world"
)

// Result is a full deep copy of the simulation state, safe to hand to
// another goroutine or encode.
type Result struct {
	Tick            uint64
	Frames          uint64
	Events          []world.Event
	Current         *world.Event
	Players         []*world.Player
	SavedEvents     []world.Event
	ColliderHandles map[voxel.Key]physics.ColliderHandle
	Chunks          map[voxel.Key]*voxel.Chunk
	Physics         *physics.World
}

// ProcessResult clones every store of the manager and its physics world.
func (m *Manager) ProcessResult() *Result {
	res := &Result{
		Tick:            m.tick,
		Frames:          m.frames,
		Events:          cloneEvents(m.events),
		Players:         m.clonePlayers(),
		SavedEvents:     cloneEvents(m.savedEvents),
		ColliderHandles: make(map[voxel.Key]physics.ColliderHandle, len(m.colliderHandles)),
		Chunks:          m.terrain.Data(),
		Physics:         m.physics.Clone(),
	}
	if m.current != nil {
		cur := m.current.Clone()
		res.Current = &cur
	}
	for k, h := range m.colliderHandles {
		res.ColliderHandles[k] = h
	}
	return res
}

// Copy overwrites the manager and its physics world with a deep copy of
// res. Bus events of the source are not carried over.
func (m *Manager) Copy(res *Result) {
	m.tick = res.Tick
	m.frames = res.Frames
	m.events = cloneEvents(res.Events)
	m.savedEvents = cloneEvents(res.SavedEvents)
	m.current = nil
	if res.Current != nil {
		cur := res.Current.Clone()
		m.current = &cur
	}

	m.players = make([]*world.Player, len(res.Players))
	m.grid = voxel.NewGrid()
	for i, p := range res.Players {
		m.players[i] = p.Clone()
		m.grid.Add(p.Config.PeerID, p.Config.CurKey)
	}

	m.colliderHandles = make(map[voxel.Key]physics.ColliderHandle, len(res.ColliderHandles))
	for k, h := range res.ColliderHandles {
		m.colliderHandles[k] = h
	}
	m.terrain.Restore(res.Chunks)
	m.physics.CopyFrom(res.Physics)
}

func cloneEvents(evs []world.Event) []world.Event {
	if evs == nil {
		return nil
	}
	out := make([]world.Event, len(evs))
	for i, e := range evs {
		out[i] = e.Clone()
	}
	return out
}
