package voxel

import "sort"

// Grid tracks which peers stand in which chunk. A key is wanted while at
// least one peer is within its 3x3x3 neighbourhood.
// Accessed only from the simulation goroutine, no locks.
type Grid struct {
	cells map[Key]map[string]struct{}
}

func NewGrid() *Grid {
	return &Grid{cells: make(map[Key]map[string]struct{})}
}

func (g *Grid) Add(peer string, k Key) {
	cell := g.cells[k]
	if cell == nil {
		cell = make(map[string]struct{})
		g.cells[k] = cell
	}
	cell[peer] = struct{}{}
}

func (g *Grid) Remove(peer string, k Key) {
	cell := g.cells[k]
	if cell == nil {
		return
	}
	delete(cell, peer)
	if len(cell) == 0 {
		delete(g.cells, k)
	}
}

// Move updates a peer's cell when its chunk key changes.
func (g *Grid) Move(peer string, from, to Key) {
	if from == to {
		return
	}
	g.Remove(peer, from)
	g.Add(peer, to)
}

// Nearby returns the peers in the neighbourhood of k, sorted.
func (g *Grid) Nearby(k Key) []string {
	var peers []string
	for _, n := range AdjacentKeys(k, 1) {
		for p := range g.cells[n] {
			peers = append(peers, p)
		}
	}
	sort.Strings(peers)
	return peers
}

func (g *Grid) Wanted(k Key) bool {
	for _, n := range AdjacentKeys(k, 1) {
		if len(g.cells[n]) > 0 {
			return true
		}
	}
	return false
}

// Len returns the number of occupied cells.
func (g *Grid) Len() int {
	return len(g.cells)
}
