package system

import (
	"context"
	"time"
)

// Phase defines execution ordering within a single simulation step.
type Phase int

const (
	PhaseCommand   Phase = iota // 0: spawns, actions, despawns
	PhaseChunkKeys              // 1: recompute player chunk keys
	PhaseMovement               // 2: held keys -> impulses
	PhaseTerrain                // 3: stream terrain, wait for batches
	PhaseStep                   // 4: advance the physics world
	PhaseCleanup                // 5: tick++
)

func (p Phase) String() string {
	switch p {
	case PhaseCommand:
		return "command"
	case PhaseChunkKeys:
		return "chunk_keys"
	case PhaseMovement:
		return "movement"
	case PhaseTerrain:
		return "terrain"
	case PhaseStep:
		return "step"
	case PhaseCleanup:
		return "cleanup"
	}
	return "unknown"
}

// System is one stage of the step pipeline.
type System interface {
	Phase() Phase
	Update(ctx context.Context, dt time.Duration) error
}
