package physics

// Handle encodes a 32-bit slot index in the lower bits and a 32-bit generation
// in the upper bits. Generation increments on removal to invalidate stale refs.
type Handle uint64

func newHandle(index uint32, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index))
}

func (h Handle) Index() uint32      { return uint32(h) }
func (h Handle) Generation() uint32 { return uint32(h >> 32) }

// RigidBodyHandle identifies a body in a World.
type RigidBodyHandle Handle

// ColliderHandle identifies a collider in a World.
type ColliderHandle Handle

// Slot is one arena cell. Fields are exported so a World survives gob encoding.
type Slot[T any] struct {
	Generation uint32
	Alive      bool
	Value      T
}

// Arena stores values behind generational handles with a free list.
type Arena[T any] struct {
	Slots []Slot[T]
	Free  []uint32
}

func newArena[T any]() Arena[T] {
	return Arena[T]{
		Slots: make([]Slot[T], 0, 64),
		Free:  make([]uint32, 0, 16),
	}
}

func (a *Arena[T]) Insert(v T) Handle {
	if n := len(a.Free); n > 0 {
		idx := a.Free[n-1]
		a.Free = a.Free[:n-1]
		s := &a.Slots[idx]
		s.Alive = true
		s.Value = v
		return newHandle(idx, s.Generation)
	}
	idx := uint32(len(a.Slots))
	a.Slots = append(a.Slots, Slot[T]{Alive: true, Value: v})
	return newHandle(idx, 0)
}

func (a *Arena[T]) Get(h Handle) (*T, bool) {
	idx := h.Index()
	if int(idx) >= len(a.Slots) {
		return nil, false
	}
	s := &a.Slots[idx]
	if !s.Alive || s.Generation != h.Generation() {
		return nil, false
	}
	return &s.Value, true
}

// Remove frees the slot. Removing a stale handle is a no-op.
func (a *Arena[T]) Remove(h Handle) (T, bool) {
	var zero T
	idx := h.Index()
	if int(idx) >= len(a.Slots) {
		return zero, false
	}
	s := &a.Slots[idx]
	if !s.Alive || s.Generation != h.Generation() {
		return zero, false
	}
	v := s.Value
	s.Value = zero
	s.Alive = false
	s.Generation++
	a.Free = append(a.Free, idx)
	return v, true
}

func (a *Arena[T]) Len() int {
	return len(a.Slots) - len(a.Free)
}

// Each visits live slots in index order.
func (a *Arena[T]) Each(fn func(Handle, *T)) {
	for i := range a.Slots {
		s := &a.Slots[i]
		if s.Alive {
			fn(newHandle(uint32(i), s.Generation), &s.Value)
		}
	}
}

func (a *Arena[T]) clone(copyValue func(T) T) Arena[T] {
	out := Arena[T]{
		Slots: make([]Slot[T], len(a.Slots)),
		Free:  append([]uint32(nil), a.Free...),
	}
	for i, s := range a.Slots {
		out.Slots[i] = Slot[T]{Generation: s.Generation, Alive: s.Alive}
		if s.Alive {
			out.Slots[i].Value = copyValue(s.Value)
		}
	}
	return out
}
