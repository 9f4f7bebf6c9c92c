package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voxsim/server/internal/bridge"
	"github.com/voxsim/server/internal/physics"
	"github.com/voxsim/server/internal/sim"
	"github.com/voxsim/server/internal/snapshot"
	"github.com/voxsim/server/internal/terrain"
	"github.com/voxsim/server/internal/voxel"
	"github.com/voxsim/server/internal/world"
)

func newManager(t *testing.T) *sim.Manager {
	t.Helper()
	gen := voxel.NewNoiseGenerator(voxel.Config{Depth: 4, Lod: 4, SeamlessSize: 14, Seed: 1, BaseHeight: -100})
	terr := terrain.New(gen, terrain.Config{Workers: 2, Timeout: 10 * time.Second}, nil, zap.NewNop())
	m := sim.New(physics.NewWorld(-9.81, physics.DefaultIntegrationParameters()), terr, sim.Options{
		Seamless:   14,
		Character:  sim.Character{Depth: 1, Radius: 1},
		MoveEffort: 200,
	}, zap.NewNop())
	t.Cleanup(m.Close)
	return m
}

// steppedResult runs A's spawn for three ticks and returns the state.
func steppedResult(t *testing.T) *sim.Result {
	t.Helper()
	m := newManager(t)
	br := bridge.New(10, 10, zap.NewNop())
	if err := br.Send(bridge.Input{Events: []world.Event{
		{Tick: 0, Spawns: []world.Spawn{{PeerID: "A", Pos: [3]float32{0, 5, 0}}}},
		{Tick: 2},
	}}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := m.SimUpdate(context.Background(), br); err != nil {
			t.Fatal(err)
		}
	}
	return m.ProcessResult()
}

type memSnapshots struct {
	h    snapshot.Header
	data []byte
}

func (s *memSnapshots) Latest(_ context.Context, runID uuid.UUID) (snapshot.Header, []byte, error) {
	if s.data == nil || runID != s.h.RunID {
		return snapshot.Header{}, nil, errors.New("no snapshot")
	}
	return s.h, s.data, nil
}

type memEvents struct {
	evs  []world.Event
	from uint64
}

func (j *memEvents) Events(_ context.Context, _ uuid.UUID, fromTick uint64) ([]world.Event, error) {
	j.from = fromTick
	var out []world.Event
	for _, ev := range j.evs {
		if ev.Tick >= fromTick {
			out = append(out, ev)
		}
	}
	return out, nil
}

func TestRestoreFromRunReplaysJournal(t *testing.T) {
	res := steppedResult(t)
	runID := uuid.New()
	h := snapshot.NewHeader(runID, res)
	data, err := snapshot.Marshal(h, res)
	if err != nil {
		t.Fatal(err)
	}
	snaps := &memSnapshots{h: h, data: data}
	journal := &memEvents{evs: []world.Event{
		{Tick: 0, Spawns: []world.Spawn{{PeerID: "A"}}},
		{Tick: 3, Spawns: []world.Spawn{{PeerID: "B", Pos: [3]float32{20, 5, 0}}}},
		{Tick: 4},
	}}

	m := newManager(t)
	r, err := restoreState(context.Background(), m, runID.String(), snaps, journal, zap.NewNop())
	if err != nil {
		t.Fatalf("restoreState: %v", err)
	}
	if m.Tick() != 3 || journal.from != 3 {
		t.Fatalf("tick %d, journal read from %d", m.Tick(), journal.from)
	}
	if r.Replayed != 2 || m.Queued() != 2 {
		t.Fatalf("replayed %d, queued %d", r.Replayed, m.Queued())
	}

	br := bridge.New(10, 10, zap.NewNop())
	if _, err := m.SimUpdate(context.Background(), br); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Player("A"); !ok {
		t.Fatal("restored player A missing")
	}
	if _, ok := m.Player("B"); !ok {
		t.Fatal("journaled spawn of B not replayed")
	}
}

func TestRestoreFromFile(t *testing.T) {
	res := steppedResult(t)
	path := filepath.Join(t.TempDir(), snapshot.FileName(res.Tick))
	if err := snapshot.WriteFile(path, snapshot.NewHeader(uuid.New(), res), res); err != nil {
		t.Fatal(err)
	}
	m := newManager(t)
	r, err := restoreState(context.Background(), m, path, nil, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("restoreState: %v", err)
	}
	if r.Header.Tick != 3 || m.Tick() != 3 || len(m.Players()) != 1 {
		t.Fatalf("restored tick %d players %d", m.Tick(), len(m.Players()))
	}
}

func TestRestoreRunWithoutDatabase(t *testing.T) {
	m := newManager(t)
	if _, err := restoreState(context.Background(), m, uuid.NewString(), nil, nil, zap.NewNop()); err == nil {
		t.Fatal("expected error when no snapshot store is configured")
	}
}
