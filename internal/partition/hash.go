// Package partition assigns canonical keys to disjoint buckets and buffers
// each bucket into its own append-only temp file. Because the bucket of a
// key is a pure function of its bytes, every occurrence of an address lands
// in the same partition and partitions can be deduplicated independently.
package partition

import "ipv6-addr-counter/internal/ipv6"

// FNV-1a parameters for the 32-bit variant.
const (
	fnvOffsetBasis uint32 = 0x811c9dc5
	fnvPrime       uint32 = 0x01000193
)

// BucketFor maps a key to a bucket index in [0, n). It is deterministic and
// needs only uniformity, not cryptographic strength. The hash is inlined
// rather than going through hash/fnv to avoid a hasher allocation per key.
func BucketFor(key ipv6.Key, n int) int {
	h := fnvOffsetBasis
	for _, b := range key {
		h ^= uint32(b)
		h *= fnvPrime
	}
	return int(h % uint32(n))
}
