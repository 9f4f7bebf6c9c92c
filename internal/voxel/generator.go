package voxel

import (
	"math"

	perlin "github.com/aquilax/go-perlin"
)

// Generator deterministically produces the chunk for a key. Implementations
// are called from terrain worker goroutines and must be safe for concurrent use.
type Generator interface {
	NewChunk(key Key) *Chunk
}

// Perlin parameters: smoothness, frequency scaling and octaves.
const (
	noiseAlpha   = 2.0
	noiseBeta    = 2.0
	noiseOctaves = 3
)

// NoiseGenerator builds a height field terrain from 2D Perlin noise.
// The permutation table is read-only after construction.
type NoiseGenerator struct {
	cfg   Config
	noise *perlin.Perlin
}

func NewNoiseGenerator(cfg Config) *NoiseGenerator {
	return &NoiseGenerator{
		cfg:   cfg,
		noise: perlin.NewPerlin(noiseAlpha, noiseBeta, noiseOctaves, cfg.Seed),
	}
}

func (g *NoiseGenerator) Config() Config { return g.cfg }

// HeightAt returns the terrain surface height at world column (x, z).
func (g *NoiseGenerator) HeightAt(x, z int64) float64 {
	if g.cfg.Amplitude == 0 {
		return g.cfg.BaseHeight
	}
	n := g.noise.Noise2D(float64(x)*g.cfg.Frequency, float64(z)*g.cfg.Frequency)
	return g.cfg.BaseHeight + g.cfg.Amplitude*n
}

func (g *NoiseGenerator) NewChunk(key Key) *Chunk {
	size := g.cfg.Size()
	c := NewChunk(key, size)
	s := int64(g.cfg.SeamlessSize)
	ox, oy, oz := key[0]*s-1, key[1]*s-1, key[2]*s-1

	for z := 0; z < size; z++ {
		for x := 0; x < size; x++ {
			h := g.HeightAt(ox+int64(x), oz+int64(z))
			top := int(math.Ceil(h)) - int(oy)
			if top <= 0 {
				continue
			}
			top = min(top, size)
			for y := 0; y < top; y++ {
				c.Set(x, y, z, 1)
			}
		}
	}
	c.UpdateMode()
	return c
}
