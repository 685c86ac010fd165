// Package pipeline drives one exact distinct-count run: size the partition
// count, ingest the input once while hashing canonical keys into bucket
// files, count each bucket in parallel, sum the counts and emit the total.
package pipeline

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"ipv6-addr-counter/internal/counter"
	"ipv6-addr-counter/internal/ipv6"
	"ipv6-addr-counter/internal/partition"
)

// Ingestion reads lines through a fixed buffer of this size. No valid
// address comes close to it, so longer lines are skipped as malformed
// rather than aborting the scan.
const maxLineBytes = 1024 * 1024

// Skipped-line warnings are throttled to this many per second so malformed
// input cannot flood the log; the skipped counter stays exact regardless.
const warnBurst = 10

// Result summarizes one completed run. Only Total is part of the durable
// output contract; the rest is advisory.
type Result struct {
	Total        uint64
	LinesRead    uint64
	LinesSkipped uint64
	Partitions   int
	Elapsed      time.Duration
}

// Run counts the distinct IPv6 addresses in inputPath and writes the total,
// as an ASCII decimal integer and nothing else, to outputPath. All temporary
// state lives in a private working directory that is removed before Run
// returns. On error no output file is written.
func Run(cfg Config, inputPath, outputPath string) (*Result, error) {
	cfg = cfg.normalized()
	start := time.Now()

	log := cfg.Logger.With("run_id", uuid.NewString())

	fi, err := os.Stat(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat input file %s: %w", inputPath, err)
	}

	numPartitions := cfg.estimatePartitions(fi.Size())

	tempRoot := cfg.TempDir
	if tempRoot == "" {
		tempRoot = os.TempDir()
	}
	workDir, err := os.MkdirTemp(tempRoot, "ipv6count_*")
	if err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	log.Info("starting run",
		"input", inputPath,
		"input_bytes", fi.Size(),
		"partitions", numPartitions,
		"workers", cfg.Workers,
		"memory_limit_mb", cfg.MemoryLimitMB,
	)

	res := &Result{Partitions: numPartitions}

	paths, err := ingest(cfg, log, inputPath, workDir, numPartitions, res)
	if err != nil {
		return nil, err
	}

	total, err := countPartitions(cfg, log, paths)
	if err != nil {
		return nil, err
	}
	res.Total = total

	if err := os.WriteFile(outputPath, []byte(strconv.FormatUint(total, 10)), 0644); err != nil {
		return nil, fmt.Errorf("failed to write output file %s: %w", outputPath, err)
	}

	res.Elapsed = time.Since(start)
	log.Info("run complete",
		"distinct", res.Total,
		"lines_read", res.LinesRead,
		"lines_skipped", res.LinesSkipped,
		"partitions", res.Partitions,
		"elapsed", res.Elapsed,
	)
	return res, nil
}

// ingest performs the single pass over the input: split lines, canonicalize,
// hash, append to the owning bucket. Unparseable lines are skipped and
// reported; every other failure aborts the run.
func ingest(cfg Config, log *slog.Logger, inputPath, workDir string, numPartitions int, res *Result) ([]string, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file %s: %w", inputPath, err)
	}
	defer f.Close()

	store, err := partition.OpenStore(workDir, numPartitions)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	warnLimit := rate.NewLimiter(rate.Limit(warnBurst), warnBurst)

	r := bufio.NewReaderSize(f, maxLineBytes)
	for {
		line, tooLong, err := readLine(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read input file %s: %w", inputPath, err)
		}
		if tooLong {
			res.LinesRead++
			res.LinesSkipped++
			if warnLimit.Allow() {
				log.Warn("skipping oversized line", "limit_bytes", maxLineBytes)
			}
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		res.LinesRead++

		key, err := ipv6.ParseKey(line)
		if err != nil {
			res.LinesSkipped++
			if warnLimit.Allow() {
				log.Warn("skipping unparseable line", "err", err)
			}
			continue
		}

		if err := store.Append(partition.BucketFor(key, numPartitions), key); err != nil {
			return nil, err
		}
	}

	return store.Finalize()
}

// readLine returns the next input line without its terminator, tolerating a
// final line with none. A line longer than the reader's buffer is drained
// up to its newline and reported as too long instead of surfacing
// bufio.ErrTooLong, so one oversized line never kills the whole scan.
func readLine(r *bufio.Reader) (line string, tooLong bool, err error) {
	b, isPrefix, err := r.ReadLine()
	if err != nil {
		return "", false, err
	}
	if !isPrefix {
		return string(b), false, nil
	}
	for isPrefix {
		if _, isPrefix, err = r.ReadLine(); err != nil {
			if err == io.EOF {
				break
			}
			return "", true, err
		}
	}
	return "", true, nil
}

// countPartitions fans one counting task per partition out over a bounded
// worker pool. Tasks share nothing; each writes its count into its own slot
// and removes its partition file once counted. The first failure aborts the
// whole run, naming the partition, because a missing per-partition count
// would make the total invalid.
func countPartitions(cfg Config, log *slog.Logger, paths []string) (uint64, error) {
	counterCfg := counter.Config{
		InMemoryThreshold: cfg.InMemoryThreshold,
		BlockBytes:        cfg.BlockBytes,
	}

	counts := make([]uint64, len(paths))

	var g errgroup.Group
	g.SetLimit(cfg.Workers)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			n, err := counter.Count(path, counterCfg)
			if err != nil {
				return fmt.Errorf("partition %d: %w", i, err)
			}
			counts[i] = n
			os.Remove(path)
			log.Debug("partition counted", "partition", filepath.Base(path), "distinct", n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var total uint64
	for _, n := range counts {
		total += n
	}
	return total, nil
}
