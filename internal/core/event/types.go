package event

import "github.com/voxsim/server/internal/voxel"

type PlayerSpawned struct {
	Tick   uint64
	PeerID string
	Key    voxel.Key
}

type PlayerDespawned struct {
	Tick   uint64
	PeerID string
}

// ChunkCrossed is emitted when a player's chunk key changes.
type ChunkCrossed struct {
	Tick     uint64
	PeerID   string
	From, To voxel.Key
}

type ChunksLoaded struct {
	Tick      uint64
	Chunks    int
	Colliders int
}

type CollidersEvicted struct {
	Tick uint64
	Keys []voxel.Key
}
