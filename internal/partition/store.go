package partition

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"ipv6-addr-counter/internal/ipv6"
)

// Write buffer per bucket stream.
const bucketBufSize = 64 * 1024

// Store holds n append-only bucket streams under one directory. Appends to
// different buckets never contend; appends to the same bucket serialize on
// that bucket's mutex. Write order within a bucket is irrelevant to the
// distinct count, so callers may race freely across buckets.
type Store struct {
	dir     string
	buckets []bucketFile
}

type bucketFile struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
}

// OpenStore creates n fresh, empty bucket files under dir. On any creation
// failure the already-created files are closed and removed before the error
// is returned.
func OpenStore(dir string, n int) (*Store, error) {
	if n < 1 {
		return nil, fmt.Errorf("partition store needs at least 1 bucket, got %d", n)
	}

	s := &Store{dir: dir, buckets: make([]bucketFile, n)}
	for i := range s.buckets {
		path := filepath.Join(dir, fmt.Sprintf("part_%03d.bin", i))
		f, err := os.Create(path)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create bucket file %s: %w", path, err)
		}
		s.buckets[i].path = path
		s.buckets[i].f = f
		s.buckets[i].w = bufio.NewWriterSize(f, bucketBufSize)
	}
	return s, nil
}

// Append writes one canonical key to the named bucket. The 16 bytes are
// written as a unit; concurrent appends to the same bucket are serialized.
func (s *Store) Append(bucket int, key ipv6.Key) error {
	b := &s.buckets[bucket]
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.w.Write(key[:]); err != nil {
		return fmt.Errorf("failed to append to bucket %d (%s): %w", bucket, b.path, err)
	}
	return nil
}

// Finalize flushes and closes every bucket stream and returns their paths in
// bucket order for the counting phase. The store must not be appended to
// afterwards.
func (s *Store) Finalize() ([]string, error) {
	paths := make([]string, len(s.buckets))
	for i := range s.buckets {
		b := &s.buckets[i]
		paths[i] = b.path
		if b.f == nil {
			continue
		}
		if err := b.w.Flush(); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to flush bucket %d (%s): %w", i, b.path, err)
		}
		if err := b.f.Close(); err != nil {
			b.f = nil
			s.Close()
			return nil, fmt.Errorf("failed to close bucket %d (%s): %w", i, b.path, err)
		}
		b.f = nil
	}
	return paths, nil
}

// Close releases all bucket streams without flushing guarantees. It is safe
// to call after Finalize and on every error path; the caller removes the
// working directory, so the files themselves need no cleanup here.
func (s *Store) Close() {
	for i := range s.buckets {
		b := &s.buckets[i]
		if b.f != nil {
			b.f.Close()
			b.f = nil
		}
	}
}
