package sim

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voxsim/server/internal/bridge"
	"github.com/voxsim/server/internal/physics"
	"github.com/voxsim/server/internal/terrain"
	"github.com/voxsim/server/internal/voxel"
	"github.com/voxsim/server/internal/world"
)

// gatedGenerator holds every NewChunk until open is called.
type gatedGenerator struct {
	gen  voxel.Generator
	gate chan struct{}
	once sync.Once
}

func (g *gatedGenerator) open() { g.once.Do(func() { close(g.gate) }) }

func (g *gatedGenerator) NewChunk(k voxel.Key) *voxel.Chunk {
	<-g.gate
	return g.gen.NewChunk(k)
}

func newGatedManager(t *testing.T, timeout time.Duration) (*Manager, *bridge.Bridge, *gatedGenerator) {
	t.Helper()
	gen := &gatedGenerator{
		gen: voxel.NewNoiseGenerator(voxel.Config{
			Depth:        4,
			Lod:          4,
			SeamlessSize: seamless,
			Seed:         1,
		}),
		gate: make(chan struct{}),
	}
	terr := terrain.New(gen, terrain.Config{Workers: 4, Timeout: timeout}, nil, zap.NewNop())
	m := New(physics.NewWorld(-9.81, physics.DefaultIntegrationParameters()), terr, Options{
		Seamless:   seamless,
		Character:  Character{Depth: 1, Radius: 1},
		MoveEffort: 200,
	}, zap.NewNop())
	// loaders block inside NewChunk, so the gate must open before Close waits on them
	t.Cleanup(func() {
		gen.open()
		m.Close()
	})
	return m, bridge.New(100, 100, zap.NewNop()), gen
}

func TestTerrainTimeoutKeepsStepping(t *testing.T) {
	m, br, gen := newGatedManager(t, 20*time.Millisecond)
	send(t, br,
		world.Event{Tick: 0, Spawns: []world.Spawn{{PeerID: "A", Pos: [3]float32{5, 3, 5}}}},
		world.Event{Tick: 5},
	)

	start := time.Now()
	step(t, m, br)
	if d := time.Since(start); d > 2*time.Second {
		t.Fatalf("step took %v with a stalled generator", d)
	}
	if m.Tick() != 1 {
		t.Fatalf("tick = %d, want 1", m.Tick())
	}
	if n := m.Colliders(); n != 0 {
		t.Fatalf("colliders = %d before any chunk arrived", n)
	}
	if m.Terrain().DoneLoading() {
		t.Fatal("cycle reported done while its batch is still generating")
	}

	gen.open()
	deadline := time.Now().Add(5 * time.Second)
	for len(m.Terrain().Received()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("late batch never arrived")
		}
		time.Sleep(time.Millisecond)
	}

	step(t, m, br)
	if m.Tick() != 2 {
		t.Fatalf("tick = %d, want 2", m.Tick())
	}
	// the nine y=-1 chunks hold the surface at y=0
	if n := m.Colliders(); n != 9 {
		t.Fatalf("colliders = %d after the late batch, want 9", n)
	}
	if _, ok := m.Collider(voxel.Key{0, -1, 0}); !ok {
		t.Fatal("chunk under the player has no collider")
	}
	p, _ := m.Player("A")
	if len(p.TerrainColliders) != 9 {
		t.Fatalf("player terrain colliders = %d", len(p.TerrainColliders))
	}
	step(t, m, br)
	if s := m.Stats(); s.CollidersSpawned != 9 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestTerrainCollidersUseConfiguredFriction(t *testing.T) {
	m, br := newTestManager(t, 0)
	m.opts.TerrainFriction = 0.9
	send(t, br, world.Event{Tick: 0, Spawns: []world.Spawn{{PeerID: "A", Pos: [3]float32{5, 3, 5}}}})
	step(t, m, br)

	h, ok := m.Collider(voxel.Key{0, -1, 0})
	if !ok {
		t.Fatal("no collider under the player")
	}
	c, ok := m.Physics().Collider(h)
	if !ok {
		t.Fatal("collider handle not in the world")
	}
	if c.Friction != 0.9 {
		t.Fatalf("friction = %v, want 0.9", c.Friction)
	}
}
