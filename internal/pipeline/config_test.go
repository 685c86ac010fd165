package pipeline

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigNormalized_Defaults(t *testing.T) {
	cfg := DefaultConfig().normalized()

	assert.Equal(t, DefaultMemoryLimitMB, cfg.MemoryLimitMB)
	assert.Equal(t, int64(64<<20), cfg.TargetPartitionBytes)
	assert.Equal(t, int64(64<<20), cfg.InMemoryThreshold)
	assert.Equal(t, int64(64<<20), cfg.BlockBytes)
	assert.Equal(t, 256, cfg.MaxPartitions)
	assert.Equal(t, 40, cfg.AvgLineBytes)
	assert.NotNil(t, cfg.Logger)
	assert.GreaterOrEqual(t, cfg.Workers, 1)
}

// A smaller memory limit scales the per-partition budgets down with it.
func TestConfigNormalized_ScalesWithMemoryLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MemoryLimitMB = 256
	cfg = cfg.normalized()

	assert.Equal(t, int64(16<<20), cfg.TargetPartitionBytes)
	assert.Equal(t, int64(16<<20), cfg.InMemoryThreshold)
	assert.Equal(t, int64(16<<20), cfg.BlockBytes)
}

// workers × block budget must never exceed the overall ceiling.
func TestConfigNormalized_ClampsWorkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MemoryLimitMB = 64
	cfg.BlockBytes = 32 << 20
	cfg.Workers = 64
	cfg = cfg.normalized()

	assert.Equal(t, 2, cfg.Workers)
}

func TestConfigNormalized_KeepsExplicitWorkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 3
	cfg = cfg.normalized()

	assert.Equal(t, 3, cfg.Workers)
}

func TestConfigNormalized_DefaultWorkers(t *testing.T) {
	cfg := DefaultConfig().normalized()

	want := runtime.NumCPU()
	if want > 16 { // default block budget is limit/16
		want = 16
	}
	assert.Equal(t, want, cfg.Workers)
}

func TestEstimatePartitions(t *testing.T) {
	cfg := DefaultConfig().normalized()

	tests := []struct {
		name     string
		fileSize int64
		want     int
	}{
		{name: "Empty", fileSize: 0, want: 1},
		{name: "Tiny", fileSize: 1 << 10, want: 1},
		// 64 MiB / 16 = 4Mi records per partition; 40 bytes per line.
		{name: "OnePartitionWorth", fileSize: 4 * (1 << 20) * 40, want: 1},
		{name: "TenPartitions", fileSize: 40 * (1 << 20) * 40, want: 10},
		{name: "ClampedToMax", fileSize: 1 << 62, want: 256},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.estimatePartitions(tt.fileSize))
		})
	}
}
