package voxel

// Mesh is a triangle list in chunk-local space; every three indices form
// one triangle.
type Mesh struct {
	Positions [][3]float32
	Indices   []uint32
}

func (m Mesh) Triangles() int { return len(m.Indices) / 3 }

type face struct {
	dx, dy, dz int
	corners    [4][3]float32
}

// Corners are wound counter-clockwise seen from outside the voxel.
var faces = [6]face{
	{1, 0, 0, [4][3]float32{{1, 0, 0}, {1, 1, 0}, {1, 1, 1}, {1, 0, 1}}},
	{-1, 0, 0, [4][3]float32{{0, 0, 1}, {0, 1, 1}, {0, 1, 0}, {0, 0, 0}}},
	{0, 1, 0, [4][3]float32{{0, 1, 0}, {0, 1, 1}, {1, 1, 1}, {1, 1, 0}}},
	{0, -1, 0, [4][3]float32{{0, 0, 0}, {1, 0, 0}, {1, 0, 1}, {0, 0, 1}}},
	{0, 0, 1, [4][3]float32{{1, 0, 1}, {1, 1, 1}, {0, 1, 1}, {0, 0, 1}}},
	{0, 0, -1, [4][3]float32{{0, 0, 0}, {0, 1, 0}, {1, 1, 0}, {1, 0, 0}}},
}

// ComputeMesh extracts the boundary between solid and air voxels of the
// seamless interior as quads. The border layer is only read for
// neighbour tests, so adjacent chunks produce one continuous surface.
func ComputeMesh(c *Chunk) Mesh {
	var m Mesh
	if c == nil || c.Mode == ModeEmpty || c.Mode == ModeFull || c.Size < 3 {
		return m
	}
	last := c.Size - 1
	for z := 1; z < last; z++ {
		for y := 1; y < last; y++ {
			for x := 1; x < last; x++ {
				if !c.Solid(x, y, z) {
					continue
				}
				for _, f := range faces {
					if c.Solid(x+f.dx, y+f.dy, z+f.dz) {
						continue
					}
					base := uint32(len(m.Positions))
					for _, corner := range f.corners {
						m.Positions = append(m.Positions, [3]float32{
							float32(x-1) + corner[0],
							float32(y-1) + corner[1],
							float32(z-1) + corner[2],
						})
					}
					m.Indices = append(m.Indices, base, base+1, base+2, base, base+2, base+3)
				}
			}
		}
	}
	return m
}
