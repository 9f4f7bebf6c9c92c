package physics

import "github.com/go-gl/mathgl/mgl32"

const contactEpsilon = 1e-6

// resolveContacts pushes every capsule of rb out of the static triangle
// meshes it interacts with. It reports the highest friction touched and
// whether any contact normal pointed up enough to count as ground.
func (w *World) resolveContacts(rb *RigidBody) (float32, bool) {
	var friction float32
	grounded := false
	for _, ch := range rb.Colliders {
		capsule, ok := w.Colliders.Get(Handle(ch))
		if !ok || capsule.Shape.Kind != ShapeCapsule {
			continue
		}
		w.Colliders.Each(func(h Handle, other *Collider) {
			if other.HasParent || other.Shape.Kind != ShapeTriMesh || other.Shape.Mesh == nil {
				return
			}
			if !capsule.Groups.Test(other.Groups) {
				return
			}
			center := rb.Position.Add(capsule.Position)
			cMin, cMax := capsule.aabb(center)
			mMin, mMax := other.aabb(other.Position)
			if !overlaps(cMin, cMax, mMin, mMax) {
				return
			}
			if touchedGround, touched := w.collideCapsuleMesh(rb, capsule, other); touched {
				friction = max(friction, other.Friction)
				grounded = grounded || touchedGround
			}
		})
	}
	return friction, grounded
}

func (w *World) collideCapsuleMesh(rb *RigidBody, capsule, mesh *Collider) (grounded, touched bool) {
	r := capsule.Shape.Radius
	hh := capsule.Shape.HalfHeight
	m := mesh.Shape.Mesh
	for _, tri := range m.Indices {
		if int(tri[0]) >= len(m.Vertices) || int(tri[1]) >= len(m.Vertices) || int(tri[2]) >= len(m.Vertices) {
			continue
		}
		a := mesh.Position.Add(m.Vertices[tri[0]])
		b := mesh.Position.Add(m.Vertices[tri[1]])
		c := mesh.Position.Add(m.Vertices[tri[2]])

		center := rb.Position.Add(capsule.Position)
		p0 := center.Sub(mgl32.Vec3{0, hh, 0})
		p1 := center.Add(mgl32.Vec3{0, hh, 0})
		if !triangleNearSegment(a, b, c, p0, p1, r) {
			continue
		}

		onSeg, onTri := closestSegmentTriangle(p0, p1, a, b, c)
		delta := onSeg.Sub(onTri)
		dist2 := delta.Dot(delta)
		if dist2 >= r*r {
			continue
		}

		var n mgl32.Vec3
		var depth float32
		if dist2 > contactEpsilon {
			dist := delta.Len()
			n = delta.Mul(1 / dist)
			depth = r - dist
		} else {
			n = b.Sub(a).Cross(c.Sub(a))
			if n.Dot(n) < contactEpsilon {
				continue
			}
			n = n.Normalize()
			depth = r
		}

		rb.Position = rb.Position.Add(n.Mul(depth))
		if vn := rb.Velocity.Dot(n); vn < 0 {
			rb.Velocity = rb.Velocity.Sub(n.Mul(vn))
		}
		touched = true
		if n.Y() > 0.5 {
			grounded = true
		}
	}
	return grounded, touched
}

func triangleNearSegment(a, b, c, p0, p1 mgl32.Vec3, r float32) bool {
	for i := 0; i < 3; i++ {
		lo := min(a[i], b[i], c[i])
		hi := max(a[i], b[i], c[i])
		sLo := min(p0[i], p1[i]) - r
		sHi := max(p0[i], p1[i]) + r
		if hi < sLo || sHi < lo {
			return false
		}
	}
	return true
}

// closestSegmentTriangle alternates point-segment and point-triangle
// projections from a handful of seeds along the segment.
func closestSegmentTriangle(p0, p1, a, b, c mgl32.Vec3) (mgl32.Vec3, mgl32.Vec3) {
	var bestSeg, bestTri mgl32.Vec3
	best := float32(-1)
	for _, t := range [...]float32{0, 0.25, 0.5, 0.75, 1} {
		s := p0.Add(p1.Sub(p0).Mul(t))
		q := closestPointTriangle(s, a, b, c)
		for i := 0; i < 2; i++ {
			s = closestPointSegment(q, p0, p1)
			q = closestPointTriangle(s, a, b, c)
		}
		d := s.Sub(q)
		if dd := d.Dot(d); best < 0 || dd < best {
			best, bestSeg, bestTri = dd, s, q
		}
	}
	return bestSeg, bestTri
}

func closestPointSegment(p, a, b mgl32.Vec3) mgl32.Vec3 {
	ab := b.Sub(a)
	denom := ab.Dot(ab)
	if denom < contactEpsilon {
		return a
	}
	t := p.Sub(a).Dot(ab) / denom
	t = max(0, min(1, t))
	return a.Add(ab.Mul(t))
}

// closestPointTriangle is the Voronoi-region walk from Ericson, RTCD 5.1.5.
func closestPointTriangle(p, a, b, c mgl32.Vec3) mgl32.Vec3 {
	ab := b.Sub(a)
	ac := c.Sub(a)
	ap := p.Sub(a)
	d1 := ab.Dot(ap)
	d2 := ac.Dot(ap)
	if d1 <= 0 && d2 <= 0 {
		return a
	}

	bp := p.Sub(b)
	d3 := ab.Dot(bp)
	d4 := ac.Dot(bp)
	if d3 >= 0 && d4 <= d3 {
		return b
	}

	vc := d1*d4 - d3*d2
	if vc <= 0 && d1 >= 0 && d3 <= 0 {
		v := d1 / (d1 - d3)
		return a.Add(ab.Mul(v))
	}

	cp := p.Sub(c)
	d5 := ab.Dot(cp)
	d6 := ac.Dot(cp)
	if d6 >= 0 && d5 <= d6 {
		return c
	}

	vb := d5*d2 - d1*d6
	if vb <= 0 && d2 >= 0 && d6 <= 0 {
		w := d2 / (d2 - d6)
		return a.Add(ac.Mul(w))
	}

	va := d3*d6 - d5*d4
	if va <= 0 && (d4-d3) >= 0 && (d5-d6) >= 0 {
		w := (d4 - d3) / ((d4 - d3) + (d5 - d6))
		return b.Add(c.Sub(b).Mul(w))
	}

	denom := 1 / (va + vb + vc)
	v := vb * denom
	w := vc * denom
	return a.Add(ab.Mul(v)).Add(ac.Mul(w))
}
