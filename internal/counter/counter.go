// Package counter counts distinct 16-byte canonical keys within one
// partition file. Small partitions are sorted wholly in memory; partitions
// over the configured threshold go through an external merge sort whose
// k-way merge counts distinct records inline, so no merged output file is
// ever materialized.
package counter

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"ipv6-addr-counter/internal/ipv6"
)

// Config carries the sizing knobs for one counting call. Both values are
// byte budgets; the caller is responsible for keeping
// workers × BlockBytes under the overall memory ceiling.
type Config struct {
	// InMemoryThreshold is the largest partition file, in bytes, that is
	// loaded and sorted wholly in memory.
	InMemoryThreshold int64
	// BlockBytes bounds the in-memory sorted blocks of the external path.
	BlockBytes int64
}

// Count returns the number of distinct keys in the partition file at path.
// The file length must be an exact multiple of the key size. Any I/O error
// is fatal to this partition and propagates.
func Count(path string, cfg Config) (uint64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat partition %s: %w", path, err)
	}

	size := fi.Size()
	if size%ipv6.KeyLen != 0 {
		return 0, fmt.Errorf("partition %s is corrupt: size %d is not a multiple of %d", path, size, ipv6.KeyLen)
	}
	if size == 0 {
		return 0, nil
	}

	if size <= cfg.InMemoryThreshold {
		return countInMemory(path)
	}
	return countExternal(path, cfg)
}

// countInMemory loads the whole partition, sorts the raw buffer in place
// and counts value changes in one scan. Sorting at a fixed stride instead
// of copying into a key slice keeps the per-task footprint at one partition
// size, which is what the worker-pool clamp budgets for.
func countInMemory(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read partition %s: %w", path, err)
	}

	sort.Sort(&rawKeys{data: data})

	var distinct uint64
	for off := 0; off < len(data); off += ipv6.KeyLen {
		if off == 0 || !bytes.Equal(data[off:off+ipv6.KeyLen], data[off-ipv6.KeyLen:off]) {
			distinct++
		}
	}
	return distinct, nil
}

// rawKeys sorts a buffer of packed 16-byte records in place.
type rawKeys struct {
	data []byte
	tmp  [ipv6.KeyLen]byte
}

func (r *rawKeys) Len() int { return len(r.data) / ipv6.KeyLen }

func (r *rawKeys) at(i int) []byte {
	return r.data[i*ipv6.KeyLen : (i+1)*ipv6.KeyLen]
}

func (r *rawKeys) Less(i, j int) bool {
	return bytes.Compare(r.at(i), r.at(j)) < 0
}

func (r *rawKeys) Swap(i, j int) {
	a, b := r.at(i), r.at(j)
	copy(r.tmp[:], a)
	copy(a, b)
	copy(b, r.tmp[:])
}

func sortKeys(keys []ipv6.Key) {
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
}
