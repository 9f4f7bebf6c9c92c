package sim

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/voxsim/server/internal/core/event"
	"github.com/voxsim/server/internal/scripting"
	"github.com/voxsim/server/internal/world"
)

var up = mgl32.Vec3{0, 1, 0}

// ProcessPlayerKeys refreshes every player's position and chunk key from
// its body.
func (m *Manager) ProcessPlayerKeys() {
	for _, p := range m.players {
		pos, ok := m.physics.Translation(p.Config.BodyHandle)
		if !ok {
			continue
		}
		p.Pos = pos
		prev := p.Config.CurKey
		p.Config.Update(m.opts.Seamless, pos)
		if p.Config.CurKey != prev {
			m.grid.Move(p.Config.PeerID, prev, p.Config.CurKey)
		}
		if p.Config.HasMoved() {
			event.Emit(m.bus, event.ChunkCrossed{
				Tick:   m.tick,
				PeerID: p.Config.PeerID,
				From:   p.Config.PrevKey,
				To:     p.Config.CurKey,
			})
		}
	}
}

// ProcessRigidBodies turns held movement keys into one impulse per player.
func (m *Manager) ProcessRigidBodies() {
	dt := m.physics.Params.Dt
	for _, p := range m.players {
		if len(p.KeyEvents.Events) == 0 {
			continue
		}
		dir, keys := m.moveDirection(p.Forward, p.KeyEvents.Events)
		if dir == (mgl32.Vec3{}) {
			continue
		}

		effort := m.opts.MoveEffort
		if m.opts.Effort != nil {
			grounded := false
			if rb, ok := m.physics.Body(p.Config.BodyHandle); ok {
				grounded = rb.Grounded
			}
			effort = m.opts.Effort.MoveEffort(scripting.MoveContext{
				PeerID:   p.Config.PeerID,
				Base:     m.opts.MoveEffort,
				Speed:    p.Config.Speed,
				Grounded: grounded,
				Keys:     keys,
				Tick:     m.tick,
			})
		}
		m.physics.ApplyImpulse(p.Config.BodyHandle, dir.Normalize().Mul(effort*dt))
	}
}

// moveDirection sums the unit contributions of the held keys on the
// horizontal plane. A zero result means no movement.
func (m *Manager) moveDirection(forward mgl32.Vec3, held []world.KeyEvent) (mgl32.Vec3, int) {
	f := mgl32.Vec3{forward[0], 0, forward[2]}
	if f.Len() == 0 {
		return mgl32.Vec3{}, 0
	}
	f = f.Normalize()
	right := f.Cross(up)

	var dir mgl32.Vec3
	keys := 0
	for _, ev := range held {
		switch ev.Key {
		case m.opts.Keys.Forward:
			dir = dir.Add(f)
		case m.opts.Keys.Backward:
			dir = dir.Sub(f)
		case m.opts.Keys.Left:
			dir = dir.Sub(right)
		case m.opts.Keys.Right:
			dir = dir.Add(right)
		default:
			continue
		}
		keys++
	}
	if dir.Len() < 1e-6 {
		return mgl32.Vec3{}, keys
	}
	return dir, keys
}
