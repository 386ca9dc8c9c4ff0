// Package main provides the minio-version-bench CLI entry point.
//
// minio-version-bench benchmarks an S3-compatible object store across many
// server releases: for each release it kills any running server, wipes the
// data volumes, launches the release, drives warp against it and records
// the average throughput.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/randomizedcoder/go-minio-version-bench/internal/config"
	"github.com/randomizedcoder/go-minio-version-bench/internal/logging"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/minio-version-bench
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("minio-version-bench %s\n", version)
			return 0
		}
	}

	cfg, err := config.ParseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	// When TUI is enabled, suppress logs to avoid interfering with TUI rendering
	var logger *slog.Logger
	if cfg.TUIEnabled && cfg.Command == config.CommandRun {
		logger = logging.Discard()
	} else {
		logger = logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	}
	logging.SetDefault(logger)

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Debug("starting", "version", version, "command", cfg.Command, "config_file", cfg.ConfigFile)

	switch cfg.Command {
	case config.CommandLaunch:
		return runLaunch(ctx, cfg, logger)
	case config.CommandList:
		return runList(cfg)
	case config.CommandDownload:
		return runDownload(ctx, cfg, logger)
	case config.CommandS3Bench:
		return runS3Bench(ctx, cfg, logger)
	case config.CommandReap:
		return runReap(ctx, cfg, logger)
	case config.CommandClean:
		return runClean(cfg, logger)
	default:
		return runBench(ctx, cfg, logger)
	}
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config, versions []string) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      minio-version-bench                          ║")
	fmt.Println("║        Object Store Throughput Across Server Releases             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Versions:    %d under %s\n", len(versions), cfg.BaseDir)
	fmt.Printf("  Server:      %s (%d data dirs)\n", cfg.ServerAddr(), len(cfg.DataDirs))
	fmt.Printf("  Benchmark:   warp %s, %s objects, %d concurrent, %s\n",
		cfg.WarpOperation, cfg.ObjSize, cfg.Concurrent, cfg.BenchDuration)
	fmt.Printf("  Results:     %s\n", cfg.ResultsPath)
	if cfg.MetricsAddr != "" {
		fmt.Printf("  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	}
	if cfg.NoClean {
		fmt.Println("  Volumes:     NOT cleaned between versions")
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()
}
