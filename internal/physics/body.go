package physics

import "github.com/go-gl/mathgl/mgl32"

type BodyKind uint8

const (
	BodyDynamic BodyKind = iota
	BodyFixed
)

// RigidBody carries translation and linear velocity only; rotations are
// not simulated, which matches the rotation-locked characters this world
// is built for.
type RigidBody struct {
	Kind          BodyKind
	Position      mgl32.Vec3
	Velocity      mgl32.Vec3
	Mass          float32
	LockRotations bool
	Colliders     []ColliderHandle
	Grounded      bool
	Sleeping      bool
	IdleSteps     int
}

func (rb *RigidBody) Translation() mgl32.Vec3 { return rb.Position }

func (rb *RigidBody) Wake() {
	rb.Sleeping = false
	rb.IdleSteps = 0
}

// ApplyImpulse changes velocity instantaneously by impulse/mass.
func (rb *RigidBody) ApplyImpulse(impulse mgl32.Vec3, wake bool) {
	if rb.Kind != BodyDynamic {
		return
	}
	if wake {
		rb.Wake()
	}
	if rb.Mass > 0 {
		rb.Velocity = rb.Velocity.Add(impulse.Mul(1 / rb.Mass))
	} else {
		rb.Velocity = rb.Velocity.Add(impulse)
	}
}

func (rb RigidBody) clone() RigidBody {
	out := rb
	out.Colliders = append([]ColliderHandle(nil), rb.Colliders...)
	return out
}

type RigidBodyBuilder struct {
	b RigidBody
}

func NewDynamicBody() *RigidBodyBuilder {
	return &RigidBodyBuilder{b: RigidBody{Kind: BodyDynamic}}
}

func (b *RigidBodyBuilder) Translation(p mgl32.Vec3) *RigidBodyBuilder {
	b.b.Position = p
	return b
}

func (b *RigidBodyBuilder) LockRotations() *RigidBodyBuilder {
	b.b.LockRotations = true
	return b
}

func (b *RigidBodyBuilder) Build() RigidBody {
	return b.b
}
