package hashmap

import "sync/atomic"

// entry is an intrusive chain element. Regular entries carry a key and
// value; marker entries carry neither and exist only to flag the entry
// pointing at them as logically deleted.
//
// Invariants:
//   - a live entry's next field points to the next regular entry in the
//     chain, or nil;
//   - a logically deleted entry's next field points to a marker, and the
//     marker's next field points to the deleted entry's successor;
//   - a marker's next field is never modified after the marker is
//     published, and bucket heads never point to markers.
type entry[K comparable, V any] struct {
	key    K
	val    V
	marker bool
	next   atomic.Pointer[entry[K, V]]
}

// newMarker builds the tombstone for a logical delete. succ is the
// deleted entry's successor at deletion time; for the replace path it is
// the replacement entry itself, which keeps the key visible throughout.
func newMarker[K comparable, V any](succ *entry[K, V]) *entry[K, V] {
	m := &entry[K, V]{marker: true}
	m.next.Store(succ)
	return m
}

// deleted reports whether e is logically deleted, returning the marker's
// successor when it is.
func (e *entry[K, V]) deleted() (*entry[K, V], bool) {
	n := e.next.Load()
	if n != nil && n.marker {
		return n.next.Load(), true
	}
	return nil, false
}
