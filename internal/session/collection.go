package session

// CollectionEditor computes optimistic deltas over an ordered
// collection. It never touches the coordinator's snapshot directly;
// every method returns a new slice the coordinator merges, so partial
// writes cannot interleave.
type CollectionEditor[T any] struct {
	idOf func(T) string
}

func newCollectionEditor[T any](idOf func(T) string) CollectionEditor[T] {
	return CollectionEditor[T]{idOf: idOf}
}

// Add appends the item.
func (e CollectionEditor[T]) Add(items []T, it T) []T {
	out := make([]T, 0, len(items)+1)
	out = append(out, items...)
	return append(out, it)
}

// Replace swaps the item matching id for the confirmed one, keeping
// its position. Used to reconcile temporary ids against the
// authority's response. Returns false if id is not present.
func (e CollectionEditor[T]) Replace(items []T, id string, it T) ([]T, bool) {
	for i := range items {
		if e.idOf(items[i]) == id {
			out := append([]T(nil), items...)
			out[i] = it
			return out, true
		}
	}
	return items, false
}

// Patch applies fn to the item matching id in place on a copy.
// Returns false if id is not present.
func (e CollectionEditor[T]) Patch(items []T, id string, fn func(*T)) ([]T, bool) {
	for i := range items {
		if e.idOf(items[i]) == id {
			out := append([]T(nil), items...)
			fn(&out[i])
			return out, true
		}
	}
	return items, false
}

// Remove drops the item matching id. Absence is a no-op, not an
// error; the second return reports whether anything changed.
func (e CollectionEditor[T]) Remove(items []T, id string) ([]T, bool) {
	for i := range items {
		if e.idOf(items[i]) == id {
			out := make([]T, 0, len(items)-1)
			out = append(out, items[:i]...)
			return append(out, items[i+1:]...), true
		}
	}
	return items, false
}

// Get returns a copy of the item matching id.
func (e CollectionEditor[T]) Get(items []T, id string) (T, bool) {
	for i := range items {
		if e.idOf(items[i]) == id {
			return items[i], true
		}
	}
	var zero T
	return zero, false
}
