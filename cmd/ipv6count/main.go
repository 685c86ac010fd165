package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"ipv6-addr-counter/internal/pipeline"
)

func main() {
	input := flag.String("input", "", "Input file with one IPv6 address per line (required)")
	output := flag.String("output", "", "Output file for the distinct count (required)")
	memoryLimit := flag.Int("memory-limit", pipeline.DefaultMemoryLimitMB, "Memory limit in MiB")
	workers := flag.Int("workers", 0, "Counting workers (0 = number of CPUs)")
	logLevel := flag.String("log-level", "info", "Log level: debug | info | warn | error")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -input <file> -output <file> [flags]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *input == "" || *output == "" {
		fmt.Fprintf(os.Stderr, "Error: -input and -output flags are required\n\n")
		flag.Usage()
		os.Exit(2)
	}

	level, err := parseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		flag.Usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := pipeline.DefaultConfig()
	cfg.MemoryLimitMB = *memoryLimit
	cfg.Workers = *workers
	cfg.Logger = logger

	res, err := pipeline.Run(cfg, *input, *output)
	if err != nil {
		logger.Error("run failed", "err", err)
		os.Exit(1)
	}

	logger.Info("result written",
		"output", *output,
		"distinct", res.Total,
		"elapsed", res.Elapsed,
	)
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
