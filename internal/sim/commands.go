package sim

import (
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/voxsim/server/internal/core/event"
	"github.com/voxsim/server/internal/world"
)

// AddPlayer spawns a capsule body at the spawn position and registers the
// player. Always succeeds.
func (m *Manager) AddPlayer(spawn world.Spawn) world.PlayerConfig {
	pos := mgl32.Vec3(spawn.Pos)
	body, collider := m.physics.SpawnCharacter(m.opts.Character.Depth, m.opts.Character.Radius, pos)
	p := world.NewPlayer(world.NewPlayerConfig(spawn.PeerID, body, pos, m.opts.Seamless), collider)
	p.Pos = pos

	m.players = append(m.players, p)
	m.grid.Add(spawn.PeerID, p.Config.CurKey)
	event.Emit(m.bus, event.PlayerSpawned{Tick: m.tick, PeerID: spawn.PeerID, Key: p.Config.CurKey})
	return p.Config
}

// ProcessSpawns adds one player per spawn. A peer that already has a
// player is ignored.
func (m *Manager) ProcessSpawns(spawns []world.Spawn) {
	for _, s := range spawns {
		if m.playerIndex(s.PeerID) >= 0 {
			m.log.Warn("重複生成請求，已忽略", zap.String("peer", s.PeerID), zap.Uint64("tick", m.tick))
			continue
		}
		m.AddPlayer(s)
	}
}

// ProcessActions merges per-player key deltas. Up releases a held key,
// Down holds it, Pressed lasts for this tick only. Every player's pressed
// buffer is cleared first, matched or not.
func (m *Manager) ProcessActions(all []world.Actions) {
	for _, p := range m.players {
		p.KeyPressed.Events = p.KeyPressed.Events[:0]
	}

	for _, actions := range all {
		i := m.playerIndex(actions.PeerID)
		if i < 0 {
			m.log.Debug("未知玩家的操作", zap.String("peer", actions.PeerID))
			continue
		}
		p := m.players[i]

		held := p.KeyEvents.Events
		for idx := len(held) - 1; idx >= 0; idx-- {
			if releases(actions.Events, held[idx].Key) {
				last := len(held) - 1
				held[idx] = held[last]
				held = held[:last]
			}
		}
		p.KeyEvents.Events = held

		for _, ev := range actions.Events {
			switch ev.State {
			case world.KeyDown:
				p.KeyEvents.Events = append(p.KeyEvents.Events, ev)
			case world.KeyPressed:
				p.KeyPressed.Events = append(p.KeyPressed.Events, ev)
			}
		}
		p.Forward = actions.Forward
	}
}

func releases(evs []world.KeyEvent, key uint32) bool {
	for _, ev := range evs {
		if ev.Key == key && ev.State == world.KeyUp {
			return true
		}
	}
	return false
}

// ProcessDespawns removes each named player with its body and collider.
func (m *Manager) ProcessDespawns(despawns []world.Despawn) {
	for _, d := range despawns {
		i := m.playerIndex(d.PeerID)
		if i < 0 {
			m.log.Debug("移除不存在的玩家", zap.String("peer", d.PeerID))
			continue
		}
		p := m.players[i]
		m.physics.RemoveBody(p.Config.BodyHandle)
		m.grid.Remove(p.Config.PeerID, p.Config.CurKey)
		m.players = append(m.players[:i], m.players[i+1:]...)
		event.Emit(m.bus, event.PlayerDespawned{Tick: m.tick, PeerID: d.PeerID})
	}
}
