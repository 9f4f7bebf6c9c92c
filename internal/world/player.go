package world

import (
	"bytes"
	"encoding/gob"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/voxsim/server/internal/physics"
	"github.com/voxsim/server/internal/voxel"
)

// Defaults applied to every new player config.
const (
	DefaultSpeed float32 = 5
	DefaultYaw   float32 = 180
)

// KeyEvents is an ordered buffer of key events.
type KeyEvents struct {
	Events []KeyEvent
}

// Has reports whether the buffer holds an event for key.
func (k KeyEvents) Has(key uint32) bool {
	for _, ev := range k.Events {
		if ev.Key == key {
			return true
		}
	}
	return false
}

func (k KeyEvents) Clone() KeyEvents {
	return KeyEvents{Events: cloneSlice(k.Events)}
}

// TerrainCollider ties a streamed terrain collider to its chunk key.
type TerrainCollider struct {
	Key    voxel.Key
	Handle physics.ColliderHandle
}

// Player is the per-peer simulation record.
type Player struct {
	Config           PlayerConfig
	KeyEvents        KeyEvents // held keys
	KeyPressed       KeyEvents // keys pressed this tick only
	Forward          mgl32.Vec3
	ColliderHandle   physics.ColliderHandle
	TerrainColliders []TerrainCollider
	Pos              mgl32.Vec3
}

func NewPlayer(cfg PlayerConfig, collider physics.ColliderHandle) *Player {
	return &Player{Config: cfg, ColliderHandle: collider}
}

func (p *Player) Clone() *Player {
	out := *p
	out.KeyEvents = p.KeyEvents.Clone()
	out.KeyPressed = p.KeyPressed.Clone()
	out.TerrainColliders = cloneSlice(p.TerrainColliders)
	return &out
}

// PlayerConfig tracks the chunk key of a player between updates.
type PlayerConfig struct {
	Speed      float32
	PrevKey    voxel.Key
	CurKey     voxel.Key
	PeerID     string
	BodyHandle physics.RigidBodyHandle
	Pitch      float32
	Yaw        float32

	hasMoved   bool
	newlyAdded bool
	isUpdated  bool
}

func NewPlayerConfig(peerID string, body physics.RigidBodyHandle, pos mgl32.Vec3, seamless uint32) PlayerConfig {
	return PlayerConfig{
		Speed:      DefaultSpeed,
		PrevKey:    voxel.NoKey,
		CurKey:     voxel.ToKey(pos, seamless),
		PeerID:     peerID,
		BodyHandle: body,
		Yaw:        DefaultYaw,
		newlyAdded: true,
	}
}

// NewlyAdded is true until the second Update after creation.
func (c *PlayerConfig) NewlyAdded() bool {
	return c.newlyAdded
}

// HasMoved reports a chunk crossing on the last Update. Always false
// while the player is newly added.
func (c *PlayerConfig) HasMoved() bool {
	return c.hasMoved && !c.newlyAdded
}

// Update recomputes the chunk key from the body position. A non-finite
// position keeps the current key.
func (c *PlayerConfig) Update(seamless uint32, pos mgl32.Vec3) {
	if !voxel.Finite(pos) {
		c.hasMoved = false
		c.updateNewlyAdded()
		return
	}
	key := voxel.ToKey(pos, seamless)
	if c.CurKey == key {
		c.hasMoved = false
	} else {
		c.PrevKey = c.CurKey
		c.CurKey = key
		c.hasMoved = true
	}
	c.updateNewlyAdded()
}

// The first update marks the config as seen, the second clears newlyAdded.
func (c *PlayerConfig) updateNewlyAdded() {
	if c.isUpdated {
		c.newlyAdded = false
	}
	c.isUpdated = true
}

type playerConfigGob struct {
	Speed      float32
	PrevKey    voxel.Key
	CurKey     voxel.Key
	PeerID     string
	BodyHandle physics.RigidBodyHandle
	Pitch      float32
	Yaw        float32
	HasMoved   bool
	NewlyAdded bool
	IsUpdated  bool
}

// GobEncode keeps the movement flags across snapshot hand-off.
func (c PlayerConfig) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(playerConfigGob{
		Speed:      c.Speed,
		PrevKey:    c.PrevKey,
		CurKey:     c.CurKey,
		PeerID:     c.PeerID,
		BodyHandle: c.BodyHandle,
		Pitch:      c.Pitch,
		Yaw:        c.Yaw,
		HasMoved:   c.hasMoved,
		NewlyAdded: c.newlyAdded,
		IsUpdated:  c.isUpdated,
	})
	return buf.Bytes(), err
}

func (c *PlayerConfig) GobDecode(b []byte) error {
	var w playerConfigGob
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&w); err != nil {
		return err
	}
	*c = PlayerConfig{
		Speed:      w.Speed,
		PrevKey:    w.PrevKey,
		CurKey:     w.CurKey,
		PeerID:     w.PeerID,
		BodyHandle: w.BodyHandle,
		Pitch:      w.Pitch,
		Yaw:        w.Yaw,
		hasMoved:   w.HasMoved,
		newlyAdded: w.NewlyAdded,
		isUpdated:  w.IsUpdated,
	}
	return nil
}
