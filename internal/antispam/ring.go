package antispam

// ring is a fixed-capacity circular buffer. When full, pushing overwrites
// the oldest entry. Entries are kept in arrival order, which the detectors
// rely on for window filtering.
type ring[T any] struct {
	items []T
	pos   int
	count int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{items: make([]T, capacity)}
}

func (r *ring[T]) Push(v T) {
	r.items[r.pos] = v
	r.pos = (r.pos + 1) % len(r.items)
	if r.count < len(r.items) {
		r.count++
	}
}

// Snapshot returns the retained entries oldest-first.
func (r *ring[T]) Snapshot() []T {
	out := make([]T, 0, r.count)
	start := (r.pos - r.count + len(r.items)) % len(r.items)
	for i := 0; i < r.count; i++ {
		out = append(out, r.items[(start+i)%len(r.items)])
	}
	return out
}

// Trim rebuilds the ring retaining only entries for which keep returns
// true. Buffers are time-ordered, so time-based trims only ever remove
// from the head.
func (r *ring[T]) Trim(keep func(T) bool) {
	kept := r.Snapshot()
	r.pos, r.count = 0, 0
	for _, v := range kept {
		if keep(v) {
			r.Push(v)
		}
	}
}

func (r *ring[T]) Len() int { return r.count }
