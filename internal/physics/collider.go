package physics

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// InteractionGroups is a membership/filter bitmask pair. Two colliders
// interact only if each one's memberships intersect the other's filter.
type InteractionGroups struct {
	Memberships uint32
	Filter      uint32
}

func NewInteractionGroups(memberships, filter uint32) InteractionGroups {
	return InteractionGroups{Memberships: memberships, Filter: filter}
}

func (g InteractionGroups) Test(o InteractionGroups) bool {
	return g.Memberships&o.Filter != 0 && o.Memberships&g.Filter != 0
}

// Group pairs used by the simulation: terrain only collides with characters,
// characters only collide with terrain.
var (
	TerrainGroups   = NewInteractionGroups(1, 2)
	CharacterGroups = NewInteractionGroups(2, 1)
)

type ShapeKind uint8

const (
	ShapeCapsule ShapeKind = iota
	ShapeTriMesh
)

// TriMesh is an indexed triangle soup in collider-local space.
type TriMesh struct {
	Vertices []mgl32.Vec3
	Indices  [][3]uint32
	Min, Max mgl32.Vec3
}

func NewTriMesh(vertices []mgl32.Vec3, indices [][3]uint32) *TriMesh {
	m := &TriMesh{Vertices: vertices, Indices: indices}
	if len(vertices) == 0 {
		return m
	}
	m.Min, m.Max = vertices[0], vertices[0]
	for _, v := range vertices[1:] {
		for i := 0; i < 3; i++ {
			m.Min[i] = min(m.Min[i], v[i])
			m.Max[i] = max(m.Max[i], v[i])
		}
	}
	return m
}

func (m *TriMesh) clone() *TriMesh {
	if m == nil {
		return nil
	}
	out := *m
	out.Vertices = append([]mgl32.Vec3(nil), m.Vertices...)
	out.Indices = append([][3]uint32(nil), m.Indices...)
	return &out
}

// Shape is a tagged union; only the fields for Kind are meaningful.
type Shape struct {
	Kind       ShapeKind
	HalfHeight float32 // capsule: half the length of the inner segment
	Radius     float32 // capsule
	Mesh       *TriMesh
}

func Capsule(halfHeight, radius float32) Shape {
	return Shape{Kind: ShapeCapsule, HalfHeight: halfHeight, Radius: radius}
}

func TriMeshShape(m *TriMesh) Shape {
	return Shape{Kind: ShapeTriMesh, Mesh: m}
}

// Volume is used to derive body mass at density 1.
func (s Shape) Volume() float32 {
	switch s.Kind {
	case ShapeCapsule:
		r := float64(s.Radius)
		h := float64(s.HalfHeight) * 2
		return float32(math.Pi*r*r*h + 4.0/3.0*math.Pi*r*r*r)
	default:
		return 0
	}
}

// Collider is either attached to a body (Parent set, Position is the local
// offset) or free-standing (Position is the world translation).
type Collider struct {
	Shape     Shape
	Groups    InteractionGroups
	Parent    RigidBodyHandle
	HasParent bool
	Position  mgl32.Vec3
	Friction  float32
}

// ColliderBuilder mirrors the builder style of the shapes above.
type ColliderBuilder struct {
	c Collider
}

func NewColliderBuilder(shape Shape) *ColliderBuilder {
	return &ColliderBuilder{c: Collider{Shape: shape, Groups: NewInteractionGroups(math.MaxUint32, math.MaxUint32), Friction: 0.5}}
}

func (b *ColliderBuilder) CollisionGroups(g InteractionGroups) *ColliderBuilder {
	b.c.Groups = g
	return b
}

func (b *ColliderBuilder) Translation(p mgl32.Vec3) *ColliderBuilder {
	b.c.Position = p
	return b
}

func (b *ColliderBuilder) Friction(f float32) *ColliderBuilder {
	b.c.Friction = f
	return b
}

func (b *ColliderBuilder) Build() Collider {
	return b.c
}

func (c Collider) clone() Collider {
	out := c
	out.Shape.Mesh = c.Shape.Mesh.clone()
	return out
}

// aabb returns world bounds given the world-space origin of the collider.
func (c *Collider) aabb(origin mgl32.Vec3) (mgl32.Vec3, mgl32.Vec3) {
	switch c.Shape.Kind {
	case ShapeCapsule:
		ext := mgl32.Vec3{c.Shape.Radius, c.Shape.HalfHeight + c.Shape.Radius, c.Shape.Radius}
		return origin.Sub(ext), origin.Add(ext)
	default:
		if c.Shape.Mesh == nil {
			return origin, origin
		}
		return origin.Add(c.Shape.Mesh.Min), origin.Add(c.Shape.Mesh.Max)
	}
}

func overlaps(aMin, aMax, bMin, bMax mgl32.Vec3) bool {
	for i := 0; i < 3; i++ {
		if aMax[i] < bMin[i] || bMax[i] < aMin[i] {
			return false
		}
	}
	return true
}
