package sim

import (
	"context"
	"errors"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/voxsim/server/internal/core/event"
	"github.com/voxsim/server/internal/physics"
	"github.com/voxsim/server/internal/terrain"
	"github.com/voxsim/server/internal/voxel"
	"github.com/voxsim/server/internal/world"
)

// ProcessMovementTerrains requests chunks for new and moved players, waits
// for this cycle's batches and evicts colliders nobody stands near.
func (m *Manager) ProcessMovementTerrains(ctx context.Context) error {
	m.terrain.Reset()
	m.terrain.Drain(m.spawnColliders)

	for _, p := range m.players {
		var keys []voxel.Key
		switch {
		case p.Config.NewlyAdded():
			keys = voxel.AdjacentKeys(p.Config.CurKey, 1)
		case p.Config.HasMoved():
			keys = voxel.AdjDeltaKeys(p.Config.PrevKey, p.Config.CurKey, 1)
		}
		m.terrain.LoadData(keys)
	}

	err := m.terrain.Wait(ctx, m.spawnColliders)
	switch {
	case errors.Is(err, terrain.ErrTimeout):
		m.log.Warn("地形載入逾時，繼續模擬",
			zap.Uint64("tick", m.tick),
			zap.Int("calls", m.terrain.Calls()),
			zap.Int("fulfilled", m.terrain.Fulfilled()))
	case err != nil:
		return err
	}

	m.evictColliders()
	m.refreshTerrainColliders()
	return nil
}

// spawnColliders builds a static trimesh collider per wanted chunk of the
// batch, replacing any collider the key already had. Keys leaving every
// player's neighbourhood are cached without a collider.
func (m *Manager) spawnColliders(b terrain.Batch) {
	spawned := 0
	for _, kc := range b.Chunks {
		if !m.grid.Wanted(kc.Key) {
			continue
		}
		if old, ok := m.colliderHandles[kc.Key]; ok {
			m.physics.RemoveCollider(old)
			delete(m.colliderHandles, kc.Key)
		}

		mesh := voxel.ComputeMesh(kc.Chunk)
		if mesh.Triangles() == 0 {
			continue
		}
		verts := make([]mgl32.Vec3, len(mesh.Positions))
		for i, p := range mesh.Positions {
			verts[i] = mgl32.Vec3(p)
		}
		tris := make([][3]uint32, 0, mesh.Triangles())
		for i := 0; i+2 < len(mesh.Indices); i += 3 {
			tris = append(tris, [3]uint32{mesh.Indices[i], mesh.Indices[i+1], mesh.Indices[i+2]})
		}

		b := physics.NewColliderBuilder(physics.TriMeshShape(physics.NewTriMesh(verts, tris))).
			CollisionGroups(physics.TerrainGroups).
			Translation(voxel.KeyToWorld(kc.Key, m.opts.Seamless))
		if m.opts.TerrainFriction > 0 {
			b.Friction(m.opts.TerrainFriction)
		}
		m.colliderHandles[kc.Key] = m.physics.InsertCollider(b.Build())
		spawned++
	}
	event.Emit(m.bus, event.ChunksLoaded{Tick: m.tick, Chunks: len(b.Chunks), Colliders: spawned})
}

// evictColliders removes terrain colliders outside every player's 3x3x3
// neighbourhood. Chunk payloads stay cached.
func (m *Manager) evictColliders() {
	var evicted []voxel.Key
	for k := range m.colliderHandles {
		if !m.grid.Wanted(k) {
			evicted = append(evicted, k)
		}
	}
	if len(evicted) == 0 {
		return
	}
	sort.Slice(evicted, func(i, j int) bool { return keyLess(evicted[i], evicted[j]) })
	for _, k := range evicted {
		m.physics.RemoveCollider(m.colliderHandles[k])
		delete(m.colliderHandles, k)
	}
	event.Emit(m.bus, event.CollidersEvicted{Tick: m.tick, Keys: evicted})
}

func (m *Manager) refreshTerrainColliders() {
	for _, p := range m.players {
		p.TerrainColliders = p.TerrainColliders[:0]
		for _, k := range voxel.AdjacentKeys(p.Config.CurKey, 1) {
			if h, ok := m.colliderHandles[k]; ok {
				p.TerrainColliders = append(p.TerrainColliders, world.TerrainCollider{Key: k, Handle: h})
			}
		}
	}
}

func keyLess(a, b voxel.Key) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
