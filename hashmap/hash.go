package hashmap

import (
	"hash/maphash"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/xxh3"
)

// Hasher maps a key to a 64-bit hash. The map masks the hash down to a
// bucket index, so the low bits must be well mixed.
type Hasher[K comparable] func(K) uint64

// defaultHasher hashes any comparable key through the runtime's
// collision-resistant maphash, with a per-map seed.
func defaultHasher[K comparable]() Hasher[K] {
	seed := maphash.MakeSeed()
	return func(k K) uint64 {
		return maphash.Comparable(seed, k)
	}
}

// StringHasher hashes string-like keys with xxh3, the fast path used
// when the caller does not want per-map seeding.
func StringHasher[K ~string]() Hasher[K] {
	return func(k K) uint64 {
		return xxh3.HashString(string(k))
	}
}

// BytesHasher hashes keys through a caller-supplied byte representation
// with xxhash. Meant for struct keys that already have a serial form.
func BytesHasher[K comparable](repr func(K) []byte) Hasher[K] {
	return func(k K) uint64 {
		return xxhash.Sum64(repr(k))
	}
}
