package counter

import (
	"bufio"
	"bytes"
	"container/heap"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"ipv6-addr-counter/internal/ipv6"
)

const readBufSize = 1 << 20

// countExternal deduplicates a partition too large to sort in memory:
// split the file into sorted runs bounded by the block budget, then k-way
// merge the runs while counting value changes inline. Every run file is
// removed before this function returns, on failure as well as success.
func countExternal(path string, cfg Config) (uint64, error) {
	runs, err := writeSortedRuns(path, cfg.BlockBytes)
	defer func() {
		for _, r := range runs {
			os.Remove(r)
		}
	}()
	if err != nil {
		return 0, err
	}

	return mergeCount(runs)
}

// writeSortedRuns reads the partition in blocks of at most blockBytes,
// sorts each block and flushes it to its own zstd-framed run file next to
// the partition. It returns the run paths created so far even on error, so
// the caller can clean up.
func writeSortedRuns(path string, blockBytes int64) (runs []string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open partition %s: %w", path, err)
	}
	defer f.Close()

	recordsPerBlock := int(blockBytes / ipv6.KeyLen)
	if recordsPerBlock < 1 {
		recordsPerBlock = 1
	}

	r := bufio.NewReaderSize(f, readBufSize)
	block := make([]ipv6.Key, 0, recordsPerBlock)

	for {
		block = block[:0]
		for len(block) < recordsPerBlock {
			var k ipv6.Key
			if _, err := io.ReadFull(r, k[:]); err != nil {
				if err == io.EOF {
					break
				}
				return runs, fmt.Errorf("failed to read partition %s: %w", path, err)
			}
			block = append(block, k)
		}
		if len(block) == 0 {
			return runs, nil
		}

		sortKeys(block)

		runPath, err := writeRun(filepath.Dir(path), block)
		if err != nil {
			return runs, err
		}
		runs = append(runs, runPath)
	}
}

// writeRun flushes one sorted block to a fresh compressed run file. Sorted
// fixed-width records compress well, which keeps the temporary disk
// footprint of large partitions down.
func writeRun(dir string, block []ipv6.Key) (string, error) {
	f, err := os.CreateTemp(dir, "run_*.zst")
	if err != nil {
		return "", fmt.Errorf("failed to create run file: %w", err)
	}
	path := f.Name()

	fail := func(step string, err error) (string, error) {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to %s run file %s: %w", step, path, err)
	}

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return fail("compress", err)
	}

	for i := range block {
		if _, err := zw.Write(block[i][:]); err != nil {
			zw.Close()
			return fail("write", err)
		}
	}

	if err := zw.Close(); err != nil {
		return fail("finish", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to close run file %s: %w", path, err)
	}
	return path, nil
}

// runReader streams records back out of one run file, holding the current
// head record for the merge.
type runReader struct {
	path  string
	index int // tie-break among equal heads, fixed per run
	f     *os.File
	zr    *zstd.Decoder
	head  ipv6.Key
}

func openRun(path string, index int) (*runReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run file %s: %w", path, err)
	}
	zr, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read run file %s: %w", path, err)
	}
	return &runReader{path: path, index: index, f: f, zr: zr}, nil
}

// next advances to the following record. It returns false with a nil error
// once the run is exhausted.
func (r *runReader) next() (bool, error) {
	if _, err := io.ReadFull(r.zr, r.head[:]); err != nil {
		if err == io.EOF {
			return false, nil
		}
		return false, fmt.Errorf("failed to read run file %s: %w", r.path, err)
	}
	return true, nil
}

func (r *runReader) close() {
	r.zr.Close()
	r.f.Close()
}

// runHeap orders run readers by (head record, run index). The run index
// only makes extraction deterministic when heads are equal; the dedupe
// decision below does not depend on which run a duplicate came from.
type runHeap []*runReader

func (h runHeap) Len() int { return len(h) }

func (h runHeap) Less(i, j int) bool {
	if c := bytes.Compare(h[i].head[:], h[j].head[:]); c != 0 {
		return c < 0
	}
	return h[i].index < h[j].index
}

func (h runHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *runHeap) Push(x any) { *h = append(*h, x.(*runReader)) }

func (h *runHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// mergeCount folds the conventional "merge then scan" into a single pass:
// repeatedly extract the globally smallest head record, count it only when
// it differs from the last record counted, and advance its source run.
func mergeCount(runs []string) (uint64, error) {
	h := make(runHeap, 0, len(runs))
	defer func() {
		for _, r := range h {
			r.close()
		}
	}()

	for i, path := range runs {
		r, err := openRun(path, i)
		if err != nil {
			return 0, err
		}
		h = append(h, r)
		ok, err := r.next()
		if err != nil {
			return 0, err
		}
		if !ok {
			// A run file is never empty, but tolerate it.
			r.close()
			h = h[:len(h)-1]
		}
	}
	heap.Init(&h)

	var (
		distinct uint64
		last     ipv6.Key
		haveLast bool
	)
	for h.Len() > 0 {
		r := h[0]
		if !haveLast || r.head != last {
			distinct++
			last = r.head
			haveLast = true
		}

		ok, err := r.next()
		if err != nil {
			return 0, err
		}
		if ok {
			heap.Fix(&h, 0)
		} else {
			heap.Pop(&h).(*runReader).close()
		}
	}

	return distinct, nil
}
