package sim

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/voxsim/server/internal/bridge"
	"github.com/voxsim/server/internal/physics"
	"github.com/voxsim/server/internal/scripting"
	"github.com/voxsim/server/internal/terrain"
	"github.com/voxsim/server/internal/voxel"
	"github.com/voxsim/server/internal/world"
)

const (
	seamless = 14
	noGround = -100.0 // surface far below every streamed chunk
)

func newTestManager(t *testing.T, baseHeight float64) (*Manager, *bridge.Bridge) {
	t.Helper()
	gen := voxel.NewNoiseGenerator(voxel.Config{
		Depth:        4,
		Lod:          4,
		SeamlessSize: seamless,
		Seed:         1,
		BaseHeight:   baseHeight,
	})
	terr := terrain.New(gen, terrain.Config{Workers: 4, Timeout: 10 * time.Second}, nil, zap.NewNop())
	phys := physics.NewWorld(-9.81, physics.DefaultIntegrationParameters())
	m := New(phys, terr, Options{
		Seamless:   seamless,
		Character:  Character{Depth: 1, Radius: 1},
		MoveEffort: 200,
	}, zap.NewNop())
	t.Cleanup(m.Close)
	return m, bridge.New(100, 100, zap.NewNop())
}

func send(t *testing.T, br *bridge.Bridge, evs ...world.Event) {
	t.Helper()
	if err := br.Send(bridge.Input{Events: evs}); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func step(t *testing.T, m *Manager, br *bridge.Bridge) bridge.Output {
	t.Helper()
	stepped, err := m.SimUpdate(context.Background(), br)
	if err != nil {
		t.Fatalf("sim update at tick %d: %v", m.Tick(), err)
	}
	if !stepped {
		t.Fatalf("no step at tick %d", m.Tick())
	}
	out, err := br.TryRecvOutput()
	if err != nil {
		t.Fatalf("no output at tick %d: %v", m.Tick(), err)
	}
	return out
}

func bodyOf(t *testing.T, m *Manager, peer string) *physics.RigidBody {
	t.Helper()
	p, ok := m.Player(peer)
	if !ok {
		t.Fatalf("player %q missing", peer)
	}
	rb, ok := m.Physics().Body(p.Config.BodyHandle)
	if !ok {
		t.Fatalf("body of %q missing", peer)
	}
	return rb
}

func spawnA() world.Event {
	return world.Event{Tick: 0, Spawns: []world.Spawn{{PeerID: "A", Pos: [3]float32{0, 5, 0}}}}
}

func TestSpawnFallsUnderGravity(t *testing.T) {
	m, br := newTestManager(t, noGround)
	send(t, br, spawnA(), world.Event{Tick: 2})

	var ys []float32
	for i := 0; i < 3; i++ {
		out := step(t, m, br)
		if out.Tick != uint64(i) {
			t.Fatalf("output tick = %d, want %d", out.Tick, i)
		}
		ys = append(ys, bodyOf(t, m, "A").Position.Y())
	}
	if m.Tick() != 3 {
		t.Fatalf("tick = %d, want 3", m.Tick())
	}
	if len(m.Players()) != 1 {
		t.Fatalf("players = %d, want 1", len(m.Players()))
	}
	prev := float32(5)
	for i, y := range ys {
		if y >= prev {
			t.Fatalf("tick %d: y %v did not decrease from %v", i, y, prev)
		}
		prev = y
	}
}

func TestOutputClearsStalePayload(t *testing.T) {
	m, br := newTestManager(t, noGround)
	send(t, br, spawnA(), world.Event{Tick: 2, Spawns: []world.Spawn{{PeerID: "B"}}})

	if out := step(t, m, br); len(out.Event.Spawns) != 1 || out.Event.Tick != 0 {
		t.Fatalf("tick 0 output = %+v", out.Event)
	}
	// tick 1 runs under the tick 2 event, whose payload is not applied yet.
	out := step(t, m, br)
	if out.Event.Tick != 2 || !out.Event.Empty() {
		t.Fatalf("tick 1 output = %+v", out.Event)
	}
	if len(out.Players) != 1 {
		t.Fatalf("players at tick 1 = %d", len(out.Players))
	}
	if out := step(t, m, br); len(out.Event.Spawns) != 1 || len(out.Players) != 2 {
		t.Fatalf("tick 2 output = %+v players=%d", out.Event, len(out.Players))
	}
}

func TestActionsApplyImpulseForward(t *testing.T) {
	m, br := newTestManager(t, noGround)
	send(t, br,
		spawnA(),
		world.Event{Tick: 1, Actions: []world.Actions{{
			PeerID:  "A",
			Events:  []world.KeyEvent{{Key: world.KeyW, State: world.KeyDown}},
			Forward: mgl32.Vec3{0, 0, 1},
		}}},
		world.Event{Tick: 2, Actions: []world.Actions{{
			PeerID:  "A",
			Events:  []world.KeyEvent{{Key: world.KeyW, State: world.KeyUp}},
			Forward: mgl32.Vec3{0, 0, 1},
		}}},
	)

	step(t, m, br)
	rb := bodyOf(t, m, "A")
	if rb.Velocity.Z() != 0 || rb.Position.Z() != 0 {
		t.Fatalf("moved before any action: v=%v p=%v", rb.Velocity, rb.Position)
	}

	step(t, m, br)
	rb = bodyOf(t, m, "A")
	vz := rb.Velocity.Z()
	if vz <= 0 || math.Abs(float64(rb.Velocity.X())) > 1e-5 {
		t.Fatalf("velocity after W down = %v, want +z only", rb.Velocity)
	}
	if rb.Position.Z() <= 0 {
		t.Fatalf("position after W down = %v", rb.Position)
	}
	// one impulse of effort*dt spread over the capsule mass
	mass := physics.Capsule(0.5, 1).Volume()
	if want := 200 * m.Physics().Params.Dt / mass; math.Abs(float64(vz-want)) > 1e-4 {
		t.Fatalf("vz = %v, want %v", vz, want)
	}

	// W released at tick 2: no further impulse, airborne so no friction.
	step(t, m, br)
	rb = bodyOf(t, m, "A")
	if math.Abs(float64(rb.Velocity.Z()-vz)) > 1e-5 {
		t.Fatalf("vz changed after release: %v -> %v", vz, rb.Velocity.Z())
	}
	p, _ := m.Player("A")
	if len(p.KeyEvents.Events) != 0 {
		t.Fatalf("held keys after release = %v", p.KeyEvents.Events)
	}
}

func TestProcessActionsSemantics(t *testing.T) {
	m, _ := newTestManager(t, noGround)
	m.AddPlayer(world.Spawn{PeerID: "A"})
	m.AddPlayer(world.Spawn{PeerID: "B", Pos: [3]float32{3, 0, 0}})

	m.ProcessActions([]world.Actions{{
		PeerID: "A",
		Events: []world.KeyEvent{
			{Key: world.KeyW, State: world.KeyDown},
			{Key: world.KeyD, State: world.KeyDown},
			{Key: world.KeyE, State: world.KeyPressed},
		},
		Forward: mgl32.Vec3{1, 0, 0},
	}, {
		PeerID: "B",
		Events: []world.KeyEvent{{Key: world.KeyS, State: world.KeyDown}},
	}})

	a, _ := m.Player("A")
	b, _ := m.Player("B")
	if len(a.KeyEvents.Events) != 2 || !a.KeyPressed.Has(world.KeyE) {
		t.Fatalf("A keys = %v pressed = %v", a.KeyEvents.Events, a.KeyPressed.Events)
	}
	if a.Forward != (mgl32.Vec3{1, 0, 0}) {
		t.Fatalf("A forward = %v", a.Forward)
	}

	// Only A acts: W released, D still held, pressed cleared for both.
	m.ProcessActions([]world.Actions{{
		PeerID: "A",
		Events: []world.KeyEvent{{Key: world.KeyW, State: world.KeyUp}},
	}})
	if len(a.KeyEvents.Events) != 1 || a.KeyEvents.Events[0].Key != world.KeyD {
		t.Fatalf("A keys after release = %v", a.KeyEvents.Events)
	}
	if len(a.KeyPressed.Events) != 0 {
		t.Fatal("pressed keys survived the next actions call")
	}
	if len(b.KeyEvents.Events) != 1 || !b.KeyEvents.Has(world.KeyS) {
		t.Fatalf("B without actions lost held keys: %v", b.KeyEvents.Events)
	}
}

func TestOpposingKeysCancel(t *testing.T) {
	m, _ := newTestManager(t, noGround)
	m.AddPlayer(world.Spawn{PeerID: "A"})
	m.ProcessActions([]world.Actions{{
		PeerID: "A",
		Events: []world.KeyEvent{
			{Key: world.KeyW, State: world.KeyDown},
			{Key: world.KeyS, State: world.KeyDown},
		},
		Forward: mgl32.Vec3{0, 0.5, 1},
	}})
	m.ProcessRigidBodies()
	if v := bodyOf(t, m, "A").Velocity; v != (mgl32.Vec3{}) {
		t.Fatalf("velocity = %v, want zero", v)
	}
}

func TestStrafeUsesFlattenedForward(t *testing.T) {
	m, _ := newTestManager(t, noGround)
	m.AddPlayer(world.Spawn{PeerID: "A"})
	m.ProcessActions([]world.Actions{{
		PeerID:  "A",
		Events:  []world.KeyEvent{{Key: world.KeyD, State: world.KeyDown}},
		Forward: mgl32.Vec3{0, -3, -1},
	}})
	m.ProcessRigidBodies()
	v := bodyOf(t, m, "A").Velocity
	// right = forward x up = (0,0,-1) x (0,1,0) = (1,0,0)
	if v.X() <= 0 || v.Y() != 0 || math.Abs(float64(v.Z())) > 1e-6 {
		t.Fatalf("velocity = %v, want +x", v)
	}
}

func TestChunkCrossingLoadsDeltaKeys(t *testing.T) {
	m, br := newTestManager(t, 0)
	send(t, br,
		world.Event{Tick: 0, Spawns: []world.Spawn{{PeerID: "A", Pos: [3]float32{5, 3, 5}}}},
		world.Event{Tick: 3},
	)
	for i := 0; i < 4; i++ {
		step(t, m, br)
	}
	// the nine y=-1 chunks hold the surface at y=0
	if n := m.Colliders(); n != 9 {
		t.Fatalf("terrain colliders = %d, want 9", n)
	}
	if rb := bodyOf(t, m, "A"); rb.Position.Y() >= 3 || rb.Position.Y() < 1.4 {
		t.Fatalf("player y = %v, want resting above the surface", rb.Position.Y())
	}

	p, _ := m.Player("A")
	m.Physics().SetTranslation(p.Config.BodyHandle, mgl32.Vec3{19, 1.5, 5})
	m.ProcessPlayerKeys()
	if !p.Config.HasMoved() {
		t.Fatal("crossing into [1,0,0] not detected")
	}
	if p.Config.CurKey != (voxel.Key{1, 0, 0}) {
		t.Fatalf("cur key = %v", p.Config.CurKey)
	}

	if err := m.ProcessMovementTerrains(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := voxel.AdjDeltaKeys(voxel.Key{0, 0, 0}, voxel.Key{1, 0, 0}, 1)
	got := m.Terrain().Dispatched()
	if len(got) != 1 || !reflect.DeepEqual(got[0], want) {
		t.Fatalf("dispatched %v, want one batch of %d delta keys", got, len(want))
	}

	if _, ok := m.Collider(voxel.Key{2, -1, 0}); !ok {
		t.Fatal("entering surface chunk has no collider")
	}
	if _, ok := m.Collider(voxel.Key{-1, -1, 0}); ok {
		t.Fatal("leaving surface chunk still has a collider")
	}
	if n := m.Colliders(); n != 9 {
		t.Fatalf("terrain colliders = %d, want 9", n)
	}
	if _, ok := m.Terrain().Chunk(voxel.Key{-1, -1, 0}); !ok {
		t.Fatal("evicted chunk payload dropped from the cache")
	}
	if len(p.TerrainColliders) != 9 {
		t.Fatalf("player terrain colliders = %d", len(p.TerrainColliders))
	}
}

func TestStaleEventDiscarded(t *testing.T) {
	m, br := newTestManager(t, noGround)
	m.tick = 3
	send(t, br,
		world.Event{Tick: 0, Spawns: []world.Spawn{{PeerID: "stale"}}},
		world.Event{Tick: 5, Spawns: []world.Spawn{{PeerID: "B"}}},
	)

	out := step(t, m, br)
	if out.Tick != 3 || out.Event.Tick != 5 || !out.Event.Empty() {
		t.Fatalf("output = tick %d event %+v", out.Tick, out.Event)
	}
	if m.Stats().StaleEvents != 1 {
		t.Fatalf("stale events = %d", m.Stats().StaleEvents)
	}
	if cur, ok := m.Current(); !ok || cur.Tick != 5 {
		t.Fatalf("current = %+v, %v", cur, ok)
	}

	step(t, m, br)
	if len(m.Players()) != 0 {
		t.Fatal("payload applied before its tick")
	}
	step(t, m, br)
	if _, ok := m.Player("B"); !ok || len(m.Players()) != 1 {
		t.Fatal("tick 5 spawn not applied")
	}
	if _, ok := m.Player("stale"); ok {
		t.Fatal("stale spawn applied")
	}

	// event exhausted: no further steps until new input
	stepped, err := m.SimUpdate(context.Background(), br)
	if err != nil || stepped {
		t.Fatalf("stepped=%v err=%v with no usable event", stepped, err)
	}
	if m.Tick() != 6 {
		t.Fatalf("tick = %d, want 6", m.Tick())
	}
}

func TestEnqueueKeepsTickOrder(t *testing.T) {
	m, _ := newTestManager(t, noGround)
	m.Enqueue(world.Event{Tick: 4}, world.Event{Tick: 1}, world.Event{Tick: 4, Spawns: []world.Spawn{{PeerID: "x"}}}, world.Event{Tick: 2})
	var ticks []uint64
	for _, e := range m.events {
		ticks = append(ticks, e.Tick)
	}
	if !reflect.DeepEqual(ticks, []uint64{1, 2, 4, 4}) {
		t.Fatalf("queue ticks = %v", ticks)
	}
	if len(m.events[3].Spawns) != 1 {
		t.Fatal("equal ticks reordered")
	}
}

func TestDuplicateSpawnIgnored(t *testing.T) {
	m, br := newTestManager(t, noGround)
	send(t, br, world.Event{Tick: 0, Spawns: []world.Spawn{
		{PeerID: "A", Pos: [3]float32{0, 5, 0}},
		{PeerID: "A", Pos: [3]float32{9, 9, 9}},
	}})
	step(t, m, br)
	if len(m.Players()) != 1 {
		t.Fatalf("players = %d, want 1", len(m.Players()))
	}
	if rb := bodyOf(t, m, "A"); rb.Position.X() != 0 {
		t.Fatalf("second spawn replaced the first: %v", rb.Position)
	}
	if n := m.Physics().Bodies.Len(); n != 1 {
		t.Fatalf("bodies = %d, want 1", n)
	}
}

func TestDespawnRemovesBody(t *testing.T) {
	m, br := newTestManager(t, noGround)
	send(t, br, spawnA(), world.Event{Tick: 1, Despawns: []world.Despawn{{PeerID: "A"}}}, world.Event{Tick: 2})
	step(t, m, br)
	p, _ := m.Player("A")
	body, collider := p.Config.BodyHandle, p.ColliderHandle

	step(t, m, br)
	if _, ok := m.Player("A"); ok {
		t.Fatal("player still present after despawn")
	}
	if _, ok := m.Physics().Body(body); ok {
		t.Fatal("body still in the world")
	}
	if _, ok := m.Physics().Collider(collider); ok {
		t.Fatal("capsule collider still in the world")
	}
	step(t, m, br)
	if s := m.Stats(); s.Spawned != 1 || s.Despawned != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestReconnectKeepsPlayer(t *testing.T) {
	m, br := newTestManager(t, noGround)
	send(t, br, spawnA(), world.Event{
		Tick:     1,
		Despawns: []world.Despawn{{PeerID: "A"}},
		Spawns:   []world.Spawn{{PeerID: "A", Pos: [3]float32{20, 5, 0}}},
	}, world.Event{Tick: 2})
	step(t, m, br)
	p, _ := m.Player("A")
	oldBody := p.Config.BodyHandle

	step(t, m, br)
	if n := len(m.Players()); n != 1 {
		t.Fatalf("players = %d, want 1", n)
	}
	p, ok := m.Player("A")
	if !ok {
		t.Fatal("reconnected player lost")
	}
	if p.Config.BodyHandle == oldBody {
		t.Fatal("reconnect kept the old body")
	}
	if _, ok := m.Physics().Body(oldBody); ok {
		t.Fatal("old body still in the world")
	}
	if x := bodyOf(t, m, "A").Position.X(); x != 20 {
		t.Fatalf("x = %v, want the reconnect spawn position", x)
	}
	if p.Config.CurKey != (voxel.Key{1, 0, 0}) {
		t.Fatalf("cur key = %v", p.Config.CurKey)
	}
	step(t, m, br)
	if m.Frames() != 3 || m.Queued() != 0 {
		t.Fatalf("frames %d, queued %d", m.Frames(), m.Queued())
	}
	if s := m.Stats(); s.Spawned != 2 || s.Despawned != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestInputClosed(t *testing.T) {
	m, br := newTestManager(t, noGround)
	send(t, br, spawnA())
	br.CloseInput()
	if _, err := m.SimUpdate(context.Background(), br); !errors.Is(err, ErrInputClosed) {
		t.Fatalf("err = %v, want ErrInputClosed", err)
	}
}

type memRecorder struct{ events []world.Event }

func (r *memRecorder) Record(ev world.Event) { r.events = append(r.events, ev) }

func TestSavedEventsRecorded(t *testing.T) {
	m, br := newTestManager(t, noGround)
	rec := &memRecorder{}
	m.opts.Recorder = rec
	send(t, br, spawnA(), world.Event{Tick: 2})
	for i := 0; i < 3; i++ {
		step(t, m, br)
	}
	if len(m.SavedEvents()) != 1 || len(rec.events) != 1 || rec.events[0].Tick != 0 {
		t.Fatalf("saved = %v recorded = %v", m.SavedEvents(), rec.events)
	}
}

type fixedEffort float32

func (f fixedEffort) MoveEffort(ctx scripting.MoveContext) float32 { return float32(f) }

func TestEffortSourceOverridesBase(t *testing.T) {
	m, _ := newTestManager(t, noGround)
	m.opts.Effort = fixedEffort(0)
	m.AddPlayer(world.Spawn{PeerID: "A"})
	m.ProcessActions([]world.Actions{{
		PeerID:  "A",
		Events:  []world.KeyEvent{{Key: world.KeyW, State: world.KeyDown}},
		Forward: mgl32.Vec3{0, 0, 1},
	}})
	m.ProcessRigidBodies()
	if v := bodyOf(t, m, "A").Velocity; v != (mgl32.Vec3{}) {
		t.Fatalf("velocity = %v with zero effort", v)
	}
}
