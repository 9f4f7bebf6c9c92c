package voxel

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Key identifies a chunk in chunk-grid coordinates.
type Key [3]int64

// NoKey is the "never visited" sentinel used before a player's first move.
var NoKey = Key{math.MinInt64, math.MinInt64, math.MinInt64}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// maxCoord bounds world coordinates before the int64 conversion.
const maxCoord = 1 << 53

// ToKey converts a world position into the key of the chunk containing it.
// Coordinates beyond ±2^53 are clamped and NaN maps to 0.
func ToKey(pos mgl32.Vec3, seamlessSize uint32) Key {
	s := int64(seamlessSize)
	if s == 0 {
		s = 1
	}
	var k Key
	for i := 0; i < 3; i++ {
		k[i] = floorDiv(clampCoord(float64(pos[i])), s)
	}
	return k
}

func clampCoord(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= maxCoord:
		return maxCoord
	case v <= -maxCoord:
		return -maxCoord
	}
	return int64(math.Floor(v))
}

// Finite reports whether every component of pos is a finite number.
func Finite(pos mgl32.Vec3) bool {
	for _, v := range pos {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// KeyToWorld returns the world-space origin of the chunk.
func KeyToWorld(k Key, seamlessSize uint32) mgl32.Vec3 {
	s := int64(seamlessSize)
	return mgl32.Vec3{float32(k[0] * s), float32(k[1] * s), float32(k[2] * s)}
}

// AdjacentKeys returns every key within Chebyshev distance r of k,
// iterating x, then y, then z.
func AdjacentKeys(k Key, r int64) []Key {
	side := 2*r + 1
	keys := make([]Key, 0, side*side*side)
	for x := -r; x <= r; x++ {
		for y := -r; y <= r; y++ {
			for z := -r; z <= r; z++ {
				keys = append(keys, Key{k[0] + x, k[1] + y, k[2] + z})
			}
		}
	}
	return keys
}

// IsAdjacent reports whether b lies within the 3x3x3 neighbourhood of a.
func IsAdjacent(a, b Key) bool {
	return IsWithin(a, b, 1)
}

// IsWithin reports whether the Chebyshev distance between a and b is at most r.
func IsWithin(a, b Key, r int64) bool {
	for i := 0; i < 3; i++ {
		d := a[i] - b[i]
		if d < -r || d > r {
			return false
		}
	}
	return true
}

// AdjDeltaKeys returns the symmetric difference of the neighbourhoods of
// prev and cur: keys entering the neighbourhood first, then keys leaving it.
func AdjDeltaKeys(prev, cur Key, r int64) []Key {
	var keys []Key
	for _, k := range AdjacentKeys(cur, r) {
		if !IsWithin(prev, k, r) {
			keys = append(keys, k)
		}
	}
	for _, k := range AdjacentKeys(prev, r) {
		if !IsWithin(cur, k, r) {
			keys = append(keys, k)
		}
	}
	return keys
}
