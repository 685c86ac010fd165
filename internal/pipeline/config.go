package pipeline

import (
	"log/slog"
	"runtime"

	"ipv6-addr-counter/internal/ipv6"
)

const (
	// DefaultMemoryLimitMB is the overall memory ceiling assumed when the
	// caller does not set one.
	DefaultMemoryLimitMB = 1024

	// defaultMaxPartitions caps how many bucket files one run creates.
	defaultMaxPartitions = 256

	// defaultAvgLineBytes is the assumed average length of one textual
	// address plus terminator, used only to estimate the record count
	// before any parsing happens.
	defaultAvgLineBytes = 40

	mib = 1 << 20
)

// Config is the immutable set of tuning knobs for one run. Zero fields are
// filled in by normalized(); none of the values affect the resulting count,
// only performance and memory footprint.
type Config struct {
	// MemoryLimitMB is the overall memory ceiling in MiB. The in-memory
	// threshold, the external-sort block budget and the worker clamp are
	// all derived from it when not set explicitly.
	MemoryLimitMB int

	// TargetPartitionBytes is the partition size the sizing heuristic
	// aims for. Default: MemoryLimitMB/16 MiB (64 MiB at the default
	// limit), so partitions normally stay on the in-memory path.
	TargetPartitionBytes int64

	// InMemoryThreshold is the largest partition counted wholly in
	// memory. Default: same as TargetPartitionBytes.
	InMemoryThreshold int64

	// BlockBytes bounds one sorted block of the external-merge path.
	// Default: same as TargetPartitionBytes.
	BlockBytes int64

	// MaxPartitions caps the partition count. Default 256.
	MaxPartitions int

	// AvgLineBytes is the assumed average input line length for the
	// partition-count heuristic. Default 40.
	AvgLineBytes int

	// Workers bounds the counting fan-out. Default: NumCPU, clamped so
	// Workers × BlockBytes never exceeds the memory limit.
	Workers int

	// TempDir is the root under which the run's private working
	// directory is created. Empty means the system temp directory.
	TempDir string

	// Logger receives diagnostics. Output files never carry diagnostics;
	// a nil Logger means slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with every knob at its default.
func DefaultConfig() Config {
	return Config{MemoryLimitMB: DefaultMemoryLimitMB}
}

// normalized fills in derived defaults and clamps the worker count to the
// memory ceiling.
func (c Config) normalized() Config {
	if c.MemoryLimitMB <= 0 {
		c.MemoryLimitMB = DefaultMemoryLimitMB
	}
	limitBytes := int64(c.MemoryLimitMB) * mib

	if c.TargetPartitionBytes <= 0 {
		c.TargetPartitionBytes = limitBytes / 16
	}
	if c.InMemoryThreshold <= 0 {
		c.InMemoryThreshold = c.TargetPartitionBytes
	}
	if c.BlockBytes <= 0 {
		c.BlockBytes = c.TargetPartitionBytes
	}
	if c.MaxPartitions <= 0 {
		c.MaxPartitions = defaultMaxPartitions
	}
	if c.AvgLineBytes <= 0 {
		c.AvgLineBytes = defaultAvgLineBytes
	}

	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	// Each counting task may hold one block in memory, so the pool size
	// must respect workers × block budget ≤ ceiling.
	if maxWorkers := int(limitBytes / c.BlockBytes); maxWorkers >= 1 && c.Workers > maxWorkers {
		c.Workers = maxWorkers
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// estimatePartitions sizes the partition count from the input file size.
// This is a heuristic only: any positive partition count yields the same
// total, it just shifts how often the external-merge path triggers.
func (c Config) estimatePartitions(fileSize int64) int {
	estimatedRecords := fileSize / int64(c.AvgLineBytes)
	targetRecords := c.TargetPartitionBytes / ipv6.KeyLen
	if targetRecords < 1 {
		targetRecords = 1
	}

	n := int(estimatedRecords / targetRecords)
	if n < 1 {
		n = 1
	}
	if n > c.MaxPartitions {
		n = c.MaxPartitions
	}
	return n
}
