package voxel

// Config governs chunk generation and coordinate scaling. It is built once
// from the terrain section of the server config and never mutated.
type Config struct {
	Depth        uint8
	Lod          uint8
	SeamlessSize uint32
	Seed         int64
	BaseHeight   float64
	Amplitude    float64
	Frequency    float64
}

// Size is the voxel edge length of one chunk including its one-voxel border.
func (c Config) Size() int {
	return 1 << c.Depth
}

// Mode classifies a chunk so empty and solid chunks can skip meshing.
type Mode uint8

const (
	ModeMixed Mode = iota
	ModeEmpty
	ModeFull
)

// Chunk is a cube of voxels. Voxel i along an axis covers world
// coordinate key*seamless + i - 1, so the outermost layer overlaps the
// neighbouring chunk and meshes stay seamless.
type Chunk struct {
	Key    Key
	Size   int
	Voxels []uint8
	Mode   Mode
}

func NewChunk(key Key, size int) *Chunk {
	return &Chunk{
		Key:    key,
		Size:   size,
		Voxels: make([]uint8, size*size*size),
		Mode:   ModeEmpty,
	}
}

func (c *Chunk) index(x, y, z int) int {
	return x + y*c.Size + z*c.Size*c.Size
}

func (c *Chunk) At(x, y, z int) uint8 {
	return c.Voxels[c.index(x, y, z)]
}

func (c *Chunk) Set(x, y, z int, v uint8) {
	c.Voxels[c.index(x, y, z)] = v
}

// Solid reports whether the voxel is non-air.
func (c *Chunk) Solid(x, y, z int) bool {
	return c.At(x, y, z) != 0
}

// UpdateMode recomputes Mode from the voxel data.
func (c *Chunk) UpdateMode() {
	solid := 0
	for _, v := range c.Voxels {
		if v != 0 {
			solid++
		}
	}
	switch solid {
	case 0:
		c.Mode = ModeEmpty
	case len(c.Voxels):
		c.Mode = ModeFull
	default:
		c.Mode = ModeMixed
	}
}

func (c *Chunk) Clone() *Chunk {
	if c == nil {
		return nil
	}
	out := *c
	out.Voxels = append([]uint8(nil), c.Voxels...)
	return &out
}
