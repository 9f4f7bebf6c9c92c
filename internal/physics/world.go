package physics

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// wakeMargin widens the removed collider's bounds so bodies resting exactly
// on its surface are still found.
const wakeMargin = 0.1

// IntegrationParameters controls one call to World.Step.
type IntegrationParameters struct {
	Dt             float32
	MaxCCDSubsteps int
	SleepSpeed     float32
	SleepSteps     int
}

func DefaultIntegrationParameters() IntegrationParameters {
	return IntegrationParameters{
		Dt:             1.0 / 30.0,
		MaxCCDSubsteps: 8,
		SleepSpeed:     0.01,
		SleepSteps:     30,
	}
}

// IslandManager tracks which dynamic bodies are awake and get integrated.
type IslandManager struct {
	Active []RigidBodyHandle
}

func (im *IslandManager) rebuild(bodies *Arena[RigidBody]) {
	im.Active = im.Active[:0]
	bodies.Each(func(h Handle, rb *RigidBody) {
		if rb.Kind == BodyDynamic && !rb.Sleeping {
			im.Active = append(im.Active, RigidBodyHandle(h))
		}
	})
}

// World owns every body and collider. It is not safe for concurrent use:
// exactly one goroutine owns a World at a time, hand-off happens via Clone.
type World struct {
	Gravity   mgl32.Vec3
	Params    IntegrationParameters
	Bodies    Arena[RigidBody]
	Colliders Arena[Collider]
	Islands   IslandManager
}

func NewWorld(gravity float32, params IntegrationParameters) *World {
	return &World{
		Gravity:   mgl32.Vec3{0, gravity, 0},
		Params:    params,
		Bodies:    newArena[RigidBody](),
		Colliders: newArena[Collider](),
	}
}

// Clone deep-copies every store.
func (w *World) Clone() *World {
	return &World{
		Gravity:   w.Gravity,
		Params:    w.Params,
		Bodies:    w.Bodies.clone(RigidBody.clone),
		Colliders: w.Colliders.clone(Collider.clone),
		Islands:   IslandManager{Active: append([]RigidBodyHandle(nil), w.Islands.Active...)},
	}
}

// CopyFrom overwrites w with a deep copy of src.
func (w *World) CopyFrom(src *World) {
	*w = *src.Clone()
}

func (w *World) InsertBody(rb RigidBody) RigidBodyHandle {
	h := RigidBodyHandle(w.Bodies.Insert(rb))
	w.Islands.rebuild(&w.Bodies)
	return h
}

func (w *World) InsertCollider(c Collider) ColliderHandle {
	c.HasParent = false
	return ColliderHandle(w.Colliders.Insert(c))
}

// InsertWithParent attaches c to the body and recomputes the body's mass.
func (w *World) InsertWithParent(c Collider, parent RigidBodyHandle) (ColliderHandle, error) {
	rb, ok := w.Bodies.Get(Handle(parent))
	if !ok {
		return 0, fmt.Errorf("insert collider: unknown body %d", parent)
	}
	c.Parent = parent
	c.HasParent = true
	h := ColliderHandle(w.Colliders.Insert(c))
	rb.Colliders = append(rb.Colliders, h)
	rb.Mass += c.Shape.Volume()
	return h, nil
}

// SpawnCharacter creates a capsule collider on a dynamic, rotation-locked body.
func (w *World) SpawnCharacter(depth, radius float32, pos mgl32.Vec3) (RigidBodyHandle, ColliderHandle) {
	body := NewDynamicBody().Translation(pos).LockRotations().Build()
	bh := w.InsertBody(body)
	collider := NewColliderBuilder(Capsule(depth*0.5, radius)).
		CollisionGroups(CharacterGroups).
		Build()
	ch, _ := w.InsertWithParent(collider, bh)
	return bh, ch
}

// RemoveCollider detaches the collider and wakes every body that was
// resting against it.
func (w *World) RemoveCollider(h ColliderHandle) bool {
	c, ok := w.Colliders.Get(Handle(h))
	if !ok {
		return false
	}
	origin := c.Position
	if c.HasParent {
		if rb, ok := w.Bodies.Get(Handle(c.Parent)); ok {
			origin = rb.Position.Add(c.Position)
			rb.Colliders = removeHandle(rb.Colliders, h)
			rb.Mass -= c.Shape.Volume()
		}
	}
	cMin, cMax := c.aabb(origin)
	margin := mgl32.Vec3{wakeMargin, wakeMargin, wakeMargin}
	cMin, cMax = cMin.Sub(margin), cMax.Add(margin)
	w.Colliders.Remove(Handle(h))

	w.Bodies.Each(func(_ Handle, rb *RigidBody) {
		if rb.Kind != BodyDynamic || !rb.Sleeping {
			return
		}
		if w.bodyOverlaps(rb, cMin, cMax) {
			rb.Wake()
		}
	})
	w.Islands.rebuild(&w.Bodies)
	return true
}

// RemoveBody removes the body and every collider attached to it.
func (w *World) RemoveBody(h RigidBodyHandle) bool {
	rb, ok := w.Bodies.Get(Handle(h))
	if !ok {
		return false
	}
	for _, ch := range rb.Colliders {
		w.Colliders.Remove(Handle(ch))
	}
	w.Bodies.Remove(Handle(h))
	w.Islands.rebuild(&w.Bodies)
	return true
}

func (w *World) Body(h RigidBodyHandle) (*RigidBody, bool) {
	return w.Bodies.Get(Handle(h))
}

func (w *World) Collider(h ColliderHandle) (*Collider, bool) {
	return w.Colliders.Get(Handle(h))
}

func (w *World) Translation(h RigidBodyHandle) (mgl32.Vec3, bool) {
	rb, ok := w.Bodies.Get(Handle(h))
	if !ok {
		return mgl32.Vec3{}, false
	}
	return rb.Position, true
}

// SetTranslation teleports a body and wakes it.
func (w *World) SetTranslation(h RigidBodyHandle, pos mgl32.Vec3) bool {
	rb, ok := w.Bodies.Get(Handle(h))
	if !ok {
		return false
	}
	rb.Position = pos
	rb.Wake()
	w.Islands.rebuild(&w.Bodies)
	return true
}

func (w *World) ApplyImpulse(h RigidBodyHandle, impulse mgl32.Vec3) bool {
	rb, ok := w.Bodies.Get(Handle(h))
	if !ok {
		return false
	}
	wasSleeping := rb.Sleeping
	rb.ApplyImpulse(impulse, true)
	if wasSleeping {
		w.Islands.rebuild(&w.Bodies)
	}
	return true
}

// Step advances every awake dynamic body by Params.Dt.
func (w *World) Step() {
	dt := w.Params.Dt
	for _, h := range w.Islands.Active {
		rb, ok := w.Bodies.Get(Handle(h))
		if !ok || rb.Kind != BodyDynamic {
			continue
		}
		w.integrate(rb, dt)
	}
	w.Islands.rebuild(&w.Bodies)
}

func (w *World) integrate(rb *RigidBody, dt float32) {
	rb.Velocity = rb.Velocity.Add(w.Gravity.Mul(dt))

	// CCD: split the step so a body never travels more than half its
	// thinnest radius between contact checks.
	minRadius := float32(math.MaxFloat32)
	for _, ch := range rb.Colliders {
		if c, ok := w.Colliders.Get(Handle(ch)); ok && c.Shape.Kind == ShapeCapsule {
			minRadius = min(minRadius, c.Shape.Radius)
		}
	}
	substeps := 1
	if minRadius < math.MaxFloat32 && minRadius > 0 {
		travel := rb.Velocity.Len() * dt
		substeps = int(math.Ceil(float64(travel / (0.5 * minRadius))))
		substeps = max(1, min(substeps, w.Params.MaxCCDSubsteps))
	}
	sub := dt / float32(substeps)

	rb.Grounded = false
	friction := float32(0)
	for i := 0; i < substeps; i++ {
		rb.Position = rb.Position.Add(rb.Velocity.Mul(sub))
		if f, grounded := w.resolveContacts(rb); grounded {
			rb.Grounded = true
			friction = max(friction, f)
		}
	}

	if rb.Grounded && friction > 0 {
		w.applyFriction(rb, friction, dt)
	}

	if rb.Grounded && rb.Velocity.Dot(rb.Velocity) < w.Params.SleepSpeed*w.Params.SleepSpeed {
		rb.IdleSteps++
		if w.Params.SleepSteps > 0 && rb.IdleSteps >= w.Params.SleepSteps {
			rb.Sleeping = true
			rb.Velocity = mgl32.Vec3{}
		}
	} else {
		rb.IdleSteps = 0
	}
}

func (w *World) applyFriction(rb *RigidBody, friction, dt float32) {
	g := w.Gravity.Len()
	horizontal := mgl32.Vec3{rb.Velocity.X(), 0, rb.Velocity.Z()}
	speed := horizontal.Len()
	if speed == 0 {
		return
	}
	dec := friction * g * dt
	if speed <= dec {
		rb.Velocity = mgl32.Vec3{0, rb.Velocity.Y(), 0}
		return
	}
	scaled := horizontal.Mul((speed - dec) / speed)
	rb.Velocity = mgl32.Vec3{scaled.X(), rb.Velocity.Y(), scaled.Z()}
}

func (w *World) bodyOverlaps(rb *RigidBody, bMin, bMax mgl32.Vec3) bool {
	for _, ch := range rb.Colliders {
		c, ok := w.Colliders.Get(Handle(ch))
		if !ok {
			continue
		}
		aMin, aMax := c.aabb(rb.Position.Add(c.Position))
		if overlaps(aMin, aMax, bMin, bMax) {
			return true
		}
	}
	return false
}

func removeHandle(hs []ColliderHandle, h ColliderHandle) []ColliderHandle {
	for i, x := range hs {
		if x == h {
			return append(hs[:i], hs[i+1:]...)
		}
	}
	return hs
}
