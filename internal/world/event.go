package world

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// Default key codes for the movement keys, matching the host's key enum.
const (
	KeyA uint32 = 10
	KeyD uint32 = 13
	KeyE uint32 = 14
	KeyS uint32 = 28
	KeyW uint32 = 32
)

type KeyState uint8

const (
	KeyUp KeyState = iota
	KeyDown
	KeyPressed
)

func (s KeyState) String() string {
	switch s {
	case KeyUp:
		return "up"
	case KeyDown:
		return "down"
	case KeyPressed:
		return "pressed"
	default:
		return fmt.Sprintf("KeyState(%d)", uint8(s))
	}
}

func (s KeyState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *KeyState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "up", "Up":
		*s = KeyUp
	case "down", "Down":
		*s = KeyDown
	case "pressed", "Pressed":
		*s = KeyPressed
	default:
		return fmt.Errorf("unknown key state %q", b)
	}
	return nil
}

type KeyEvent struct {
	Key   uint32   `json:"key" yaml:"key"`
	State KeyState `json:"state" yaml:"state"`
}

// Spawn requests creation of a player at Pos.
type Spawn struct {
	PeerID string     `json:"peer_id" yaml:"peer_id"`
	Pos    [3]float32 `json:"pos" yaml:"pos"`
}

// Actions is the per-tick command delta of one existing player.
type Actions struct {
	PeerID  string     `json:"peer_id" yaml:"peer_id"`
	Events  []KeyEvent `json:"events" yaml:"events"`
	Forward mgl32.Vec3 `json:"forward" yaml:"forward"`
}

// Despawn removes a player and its body.
type Despawn struct {
	PeerID string `json:"peer_id" yaml:"peer_id"`
}

// Event carries every command scheduled for one tick.
type Event struct {
	Tick     uint64    `json:"tick" yaml:"tick"`
	Spawns   []Spawn   `json:"spawns,omitempty" yaml:"spawns"`
	Actions  []Actions `json:"actions,omitempty" yaml:"actions"`
	Despawns []Despawn `json:"despawns,omitempty" yaml:"despawns"`
}

// Empty reports whether the event carries no commands.
func (e Event) Empty() bool {
	return len(e.Spawns) == 0 && len(e.Actions) == 0 && len(e.Despawns) == 0
}

func (e Event) Clone() Event {
	out := Event{
		Tick:     e.Tick,
		Spawns:   cloneSlice(e.Spawns),
		Actions:  cloneSlice(e.Actions),
		Despawns: cloneSlice(e.Despawns),
	}
	for i := range out.Actions {
		out.Actions[i].Events = cloneSlice(out.Actions[i].Events)
	}
	return out
}

// Header returns the event with its command payload cleared, used when
// echoing an event on ticks where its commands were not applied.
func (e Event) Header() Event {
	return Event{Tick: e.Tick}
}

// cloneSlice copies s, keeping nil and empty distinct.
func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}
