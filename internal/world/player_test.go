package world

import (
	"bytes"
	"encoding/gob"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/voxsim/server/internal/voxel"
)

func TestPlayerConfigNewlyAdded(t *testing.T) {
	c := NewPlayerConfig("A", 0, mgl32.Vec3{0, 5, 0}, 14)
	if !c.NewlyAdded() || c.HasMoved() {
		t.Fatal("fresh config should be newly added and not moved")
	}
	if c.PrevKey != voxel.NoKey || c.CurKey != (voxel.Key{0, 0, 0}) {
		t.Fatalf("keys prev=%v cur=%v", c.PrevKey, c.CurKey)
	}

	// First update: still newly added even if the key changed.
	c.Update(14, mgl32.Vec3{15, 5, 0})
	if !c.NewlyAdded() {
		t.Fatal("newly added cleared after one update")
	}
	if c.HasMoved() {
		t.Fatal("has moved must be false while newly added")
	}

	// Second update clears newly added for good.
	c.Update(14, mgl32.Vec3{15, 5, 0})
	if c.NewlyAdded() {
		t.Fatal("newly added still set after two updates")
	}
	if c.HasMoved() {
		t.Fatal("no crossing on second update")
	}
}

func TestPlayerConfigHasMoved(t *testing.T) {
	c := NewPlayerConfig("A", 0, mgl32.Vec3{1, 1, 1}, 14)
	c.Update(14, mgl32.Vec3{1, 1, 1})
	c.Update(14, mgl32.Vec3{1, 1, 1})

	c.Update(14, mgl32.Vec3{14.5, 1, 1})
	if !c.HasMoved() {
		t.Fatal("crossing into the next chunk not detected")
	}
	if c.PrevKey != (voxel.Key{0, 0, 0}) || c.CurKey != (voxel.Key{1, 0, 0}) {
		t.Fatalf("keys prev=%v cur=%v", c.PrevKey, c.CurKey)
	}

	c.Update(14, mgl32.Vec3{15, 1, 1})
	if c.HasMoved() {
		t.Fatal("has moved must reset when the key is unchanged")
	}
	if c.PrevKey != (voxel.Key{0, 0, 0}) {
		t.Fatal("prev key should only change on crossings")
	}
}

func TestPlayerConfigIgnoresNonFinitePosition(t *testing.T) {
	c := NewPlayerConfig("A", 0, mgl32.Vec3{1, 1, 1}, 14)
	c.Update(14, mgl32.Vec3{1, 1, 1})
	c.Update(14, mgl32.Vec3{1, 1, 1})

	c.Update(14, mgl32.Vec3{float32(math.NaN()), 1, 1})
	if c.HasMoved() || c.CurKey != (voxel.Key{0, 0, 0}) {
		t.Fatalf("NaN position moved the player: cur=%v", c.CurKey)
	}
	c.Update(14, mgl32.Vec3{float32(math.Inf(1)), 1, 1})
	if c.HasMoved() || c.CurKey != (voxel.Key{0, 0, 0}) {
		t.Fatalf("infinite position moved the player: cur=%v", c.CurKey)
	}
	c.Update(14, mgl32.Vec3{14.5, 1, 1})
	if !c.HasMoved() || c.PrevKey != (voxel.Key{0, 0, 0}) {
		t.Fatalf("crossing after a bad position lost: prev=%v", c.PrevKey)
	}
}

func TestPlayerConfigGob(t *testing.T) {
	c := NewPlayerConfig("peer", 7, mgl32.Vec3{0, 0, 0}, 14)
	c.Update(14, mgl32.Vec3{0, 0, 0})

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&c); err != nil {
		t.Fatalf("encode: %v", err)
	}
	var got PlayerConfig
	if err := gob.NewDecoder(&buf).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != c {
		t.Fatalf("got %+v, want %+v", got, c)
	}
}

func TestPlayerClone(t *testing.T) {
	p := NewPlayer(NewPlayerConfig("A", 1, mgl32.Vec3{}, 14), 2)
	p.KeyEvents.Events = append(p.KeyEvents.Events, KeyEvent{Key: KeyW, State: KeyDown})
	p.TerrainColliders = append(p.TerrainColliders, TerrainCollider{Key: voxel.Key{1, 0, 0}, Handle: 9})

	c := p.Clone()
	c.KeyEvents.Events[0].Key = KeyS
	c.TerrainColliders[0].Handle = 10
	if p.KeyEvents.Events[0].Key != KeyW || p.TerrainColliders[0].Handle != 9 {
		t.Fatal("clone shares slices with the original")
	}
}

func TestKeyStateText(t *testing.T) {
	for _, s := range []KeyState{KeyUp, KeyDown, KeyPressed} {
		b, _ := s.MarshalText()
		var got KeyState
		if err := got.UnmarshalText(b); err != nil || got != s {
			t.Fatalf("%v: got %v err %v", s, got, err)
		}
	}
	var s KeyState
	if err := s.UnmarshalText([]byte("sideways")); err == nil {
		t.Fatal("expected error for unknown state")
	}
}

func TestEventClone(t *testing.T) {
	e := Event{
		Tick:    3,
		Spawns:  []Spawn{{PeerID: "A"}},
		Actions: []Actions{{PeerID: "A", Events: []KeyEvent{{Key: KeyW, State: KeyDown}}}},
	}
	c := e.Clone()
	c.Actions[0].Events[0].State = KeyUp
	c.Spawns[0].PeerID = "B"
	if e.Actions[0].Events[0].State != KeyDown || e.Spawns[0].PeerID != "A" {
		t.Fatal("clone shares payload with the original")
	}
	if h := e.Header(); !h.Empty() || h.Tick != 3 {
		t.Fatalf("header = %+v", h)
	}
}
