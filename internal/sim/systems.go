package sim

import (
	"context"
	"time"

	"github.com/voxsim/server/internal/core/system"
)

// commandSystem delivers last step's bus events, then applies the current
// event's spawns, actions and despawns when it belongs to this tick.
type commandSystem struct{ m *Manager }

func (s *commandSystem) Phase() system.Phase { return system.PhaseCommand }

func (s *commandSystem) Update(_ context.Context, _ time.Duration) error {
	s.m.bus.SwapBuffers()
	s.m.bus.DispatchAll()
	s.m.applyCommands()
	return nil
}

type chunkKeySystem struct{ m *Manager }

func (s *chunkKeySystem) Phase() system.Phase { return system.PhaseChunkKeys }

func (s *chunkKeySystem) Update(_ context.Context, _ time.Duration) error {
	s.m.ProcessPlayerKeys()
	return nil
}

type movementSystem struct{ m *Manager }

func (s *movementSystem) Phase() system.Phase { return system.PhaseMovement }

func (s *movementSystem) Update(_ context.Context, _ time.Duration) error {
	s.m.ProcessRigidBodies()
	return nil
}

type terrainSystem struct{ m *Manager }

func (s *terrainSystem) Phase() system.Phase { return system.PhaseTerrain }

func (s *terrainSystem) Update(ctx context.Context, _ time.Duration) error {
	return s.m.ProcessMovementTerrains(ctx)
}

type stepSystem struct{ m *Manager }

func (s *stepSystem) Phase() system.Phase { return system.PhaseStep }

func (s *stepSystem) Update(_ context.Context, _ time.Duration) error {
	s.m.physics.Step()
	return nil
}

type cleanupSystem struct{ m *Manager }

func (s *cleanupSystem) Phase() system.Phase { return system.PhaseCleanup }

func (s *cleanupSystem) Update(_ context.Context, _ time.Duration) error {
	s.m.tick++
	return nil
}

func registerSystems(m *Manager) {
	m.runner.Register(&commandSystem{m: m})
	m.runner.Register(&chunkKeySystem{m: m})
	m.runner.Register(&movementSystem{m: m})
	m.runner.Register(&terrainSystem{m: m})
	m.runner.Register(&stepSystem{m: m})
	m.runner.Register(&cleanupSystem{m: m})
}
