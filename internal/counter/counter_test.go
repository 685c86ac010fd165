package counter

import (
	"encoding/binary"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipv6-addr-counter/internal/ipv6"
)

// inMemCfg keeps every test partition on the in-memory path.
var inMemCfg = Config{InMemoryThreshold: 64 << 20, BlockBytes: 64 << 20}

func testKey(v uint64) ipv6.Key {
	var k ipv6.Key
	binary.BigEndian.PutUint64(k[8:], v)
	return k
}

// writePartition writes keys as one raw partition file and returns its path.
func writePartition(t *testing.T, keys []ipv6.Key) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "part_000.bin")
	data := make([]byte, 0, len(keys)*ipv6.KeyLen)
	for i := range keys {
		data = append(data, keys[i][:]...)
	}
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestCount_InMemory(t *testing.T) {
	tests := []struct {
		name string
		keys []ipv6.Key
		want uint64
	}{
		{
			name: "Empty",
			keys: nil,
			want: 0,
		},
		{
			name: "SingleRecord",
			keys: []ipv6.Key{testKey(1)},
			want: 1,
		},
		{
			name: "AllDuplicates",
			keys: []ipv6.Key{testKey(7), testKey(7), testKey(7), testKey(7)},
			want: 1,
		},
		{
			name: "AllDistinct",
			keys: []ipv6.Key{testKey(1), testKey(2), testKey(3)},
			want: 3,
		},
		{
			name: "InterleavedDuplicates",
			keys: []ipv6.Key{testKey(3), testKey(1), testKey(3), testKey(2), testKey(1)},
			want: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writePartition(t, tt.keys)

			got, err := Count(path, inMemCfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCount_RejectsTornPartition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part_000.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, ipv6.KeyLen+3), 0644))

	_, err := Count(path, inMemCfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a multiple")
}

func TestCount_MissingPartition(t *testing.T) {
	_, err := Count(filepath.Join(t.TempDir(), "nope.bin"), inMemCfg)
	require.Error(t, err)
}

// The in-memory path sorts the loaded buffer in place; it must not build a
// second full copy of the partition, since the worker clamp budgets one
// partition size per task.
func TestCountInMemory_SingleBufferFootprint(t *testing.T) {
	const records = 1 << 18 // 4 MiB partition
	keys := make([]ipv6.Key, records)
	for i := range keys {
		keys[i] = testKey(uint64(i % 1000))
	}
	path := writePartition(t, keys)

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)

	got, err := countInMemory(path)
	require.NoError(t, err)

	runtime.ReadMemStats(&after)
	allocated := after.TotalAlloc - before.TotalAlloc

	assert.Equal(t, uint64(1000), got)
	partitionBytes := uint64(records * ipv6.KeyLen)
	assert.Less(t, allocated, partitionBytes*3/2,
		"in-memory count allocated %d bytes for a %d byte partition", allocated, partitionBytes)
}

func TestRawKeys_SortsInPlace(t *testing.T) {
	data := make([]byte, 0, 4*ipv6.KeyLen)
	for _, v := range []uint64{9, 2, 7, 2} {
		k := testKey(v)
		data = append(data, k[:]...)
	}

	sort.Sort(&rawKeys{data: data})

	var got []uint64
	for off := 0; off < len(data); off += ipv6.KeyLen {
		got = append(got, binary.BigEndian.Uint64(data[off+8:off+ipv6.KeyLen]))
	}
	assert.Equal(t, []uint64{2, 2, 7, 9}, got)
}

// A larger randomized check: K distinct values with random duplication in
// random order must count exactly K.
func TestCount_RandomizedDuplication(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	const distinct = 997
	var keys []ipv6.Key
	for v := 0; v < distinct; v++ {
		for c := 0; c < 1+rng.Intn(5); c++ {
			keys = append(keys, testKey(uint64(v)))
		}
	}
	rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

	path := writePartition(t, keys)

	got, err := Count(path, inMemCfg)
	require.NoError(t, err)
	assert.Equal(t, uint64(distinct), got)
}
