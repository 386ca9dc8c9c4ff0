package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/randomizedcoder/go-minio-version-bench/internal/bench"
	"github.com/randomizedcoder/go-minio-version-bench/internal/config"
	"github.com/randomizedcoder/go-minio-version-bench/internal/locator"
	"github.com/randomizedcoder/go-minio-version-bench/internal/metrics"
	"github.com/randomizedcoder/go-minio-version-bench/internal/orchestrator"
	"github.com/randomizedcoder/go-minio-version-bench/internal/preflight"
	"github.com/randomizedcoder/go-minio-version-bench/internal/probe"
	"github.com/randomizedcoder/go-minio-version-bench/internal/process"
	"github.com/randomizedcoder/go-minio-version-bench/internal/reaper"
	"github.com/randomizedcoder/go-minio-version-bench/internal/release"
	"github.com/randomizedcoder/go-minio-version-bench/internal/results"
	"github.com/randomizedcoder/go-minio-version-bench/internal/s3bench"
	"github.com/randomizedcoder/go-minio-version-bench/internal/tui"
	"github.com/randomizedcoder/go-minio-version-bench/internal/volume"
)

// minMemory is the available memory below which preflight warns.
const minMemory = 1 << 30

// =============================================================================
// run
// =============================================================================

func runBench(ctx context.Context, cfg *config.Config, logger *slog.Logger) int {
	var serverOut, benchOut io.Writer
	if !cfg.TUIEnabled {
		benchOut = os.Stdout
		if cfg.Verbose {
			serverOut = os.Stderr
		}
	}

	runner := bench.NewWarpRunner(bench.WarpConfig{
		Path:               cfg.WarpPath,
		ClientAddr:         cfg.WarpClientAddr,
		ServerAddr:         cfg.ServerAddr(),
		Operation:          cfg.WarpOperation,
		Bucket:             cfg.Bucket,
		Duration:           cfg.BenchDuration,
		ObjSize:            cfg.ObjSize,
		Concurrent:         cfg.Concurrent,
		NoClear:            cfg.NoClear,
		AccessKey:          cfg.WarpAccessKey,
		SecretKey:          cfg.WarpSecretKey,
		ClientStartTimeout: cfg.WarpClientTimeout,
		StopGrace:          cfg.StopGrace,
		ExtraArgs:          cfg.WarpExtraArgs,
		Output:             benchOut,
		Verbose:            cfg.Verbose,
	}, logger)

	var scraper *metrics.ServerScraper
	if cfg.ServerMetrics {
		scraper = metrics.NewServerScraper(cfg.ServerMetricsURL(), cfg.ScrapeInterval, cfg.ScrapeWindow, logger)
	}

	orchCfg := orchestrator.Config{
		BaseDir:      cfg.BaseDir,
		Binary:       cfg.Binary,
		Versions:     cfg.Versions,
		Host:         cfg.Host,
		Port:         cfg.Port,
		ServerArgs:   cfg.EffectiveServerArgs(),
		ServerEnv:    cfg.ServerEnv(),
		DataDirs:     cfg.DataDirs,
		NoClean:      cfg.NoClean,
		ReadyTimeout: cfg.ReadyTimeout,
		StopGrace:    cfg.StopGrace,
		Cooldown:     cfg.Cooldown,
		ServerOutput: serverOut,
		Verbose:      cfg.Verbose,
	}
	deps := orchestrator.Deps{
		Runner:  runner,
		Reaper:  reaper.New(reaper.Config{Names: []string{cfg.Binary}, Settle: cfg.ReapSettle, Logger: logger}),
		Cleaner: volume.NewCleaner(cfg.MarkerDir, logger),
		Prober:  probe.New(cfg.ProbeDialTimeout, cfg.ProbeInterval, logger),
		Results: results.NewCSVLog(cfg.ResultsPath),
		Scraper: scraper,
		Logger:  logger,
	}

	// Resolve the version list up front for preflight, the banner and the TUI.
	versions, err := orchestrator.New(orchCfg, deps).Versions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	orchCfg.Versions = versions

	if !cfg.SkipPreflight {
		result := preflight.RunAll(ctx, preflight.Options{
			BaseDir:    cfg.BaseDir,
			Binary:     cfg.Binary,
			Versions:   versions,
			WarpPath:   cfg.WarpPath,
			DataDirs:   cfg.DataDirs,
			Host:       cfg.Host,
			Port:       cfg.Port,
			Concurrent: cfg.Concurrent,
			MinMemory:  minMemory,
		})
		preflight.PrintResults(os.Stdout, result)
		if !result.Passed {
			fmt.Fprintln(os.Stderr, "Preflight checks failed (use -skip-preflight to ignore)")
			return 1
		}
	}

	deps.Metrics = metrics.NewCollector(metrics.CollectorConfig{
		HarnessVersion: version,
		TotalVersions:  len(versions),
		Operation:      cfg.WarpOperation,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, logger)
		srv.ServeSummary(deps.Metrics)
		g.Go(func() error { return srv.Run(gctx) })
	}

	var program *tea.Program
	if cfg.TUIEnabled {
		model := tui.New(tui.Config{
			Versions:    versions,
			ServerAddr:  cfg.ServerAddr(),
			MetricsAddr: cfg.MetricsAddr,
			Operation:   cfg.WarpOperation,
			OnQuit:      cancel,
		})
		program = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(gctx))
		deps.OnEvent = func(e orchestrator.Event) { tui.SendEvent(program, e) }
		g.Go(func() error {
			_, err := program.Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		})
	} else {
		printBanner(cfg, versions)
	}

	orch := orchestrator.New(orchCfg, deps)
	var (
		outcomes []orchestrator.Outcome
		runErr   error
	)
	g.Go(func() error {
		outcomes, runErr = orch.Run(gctx)
		tui.SendQuit(program)
		// Stop the metrics server; the run is over.
		cancel()
		return nil
	})

	waitErr := g.Wait()
	if waitErr != nil {
		logger.Error("background_service_failed", "error", waitErr)
		fmt.Fprintf(os.Stderr, "Error: %v\n", waitErr)
	}

	if len(outcomes) > 0 {
		orch.PrintSummary(os.Stdout, outcomes)
		fmt.Printf("Results appended to %s\n", cfg.ResultsPath)
	}

	switch {
	case ctx.Err() != nil:
		return process.ExitInterrupted
	case waitErr != nil:
		return 1
	case errors.Is(runErr, context.Canceled):
		// Quit from the dashboard.
		return process.ExitInterrupted
	case runErr != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		return 1
	}
	return 0
}

// =============================================================================
// launch
// =============================================================================

func runLaunch(ctx context.Context, cfg *config.Config, logger *slog.Logger) int {
	path, err := locator.Locate(cfg.BaseDir, cfg.Version, cfg.Binary)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return process.ExitNotFound
	}

	rp := reaper.New(reaper.Config{
		Names:  []string{cfg.Binary, filepath.Base(path)},
		Settle: cfg.ReapSettle,
		Logger: logger,
	})

	if cfg.DryRun {
		procs, err := rp.Find(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		for _, p := range procs {
			fmt.Printf("[dry-run] Would kill pid %d (%s)\n", p.PID, p.Name)
		}
		if !cfg.NoClean {
			for _, dir := range cfg.DataDirs {
				fmt.Printf("[dry-run] Would empty %s\n", dir)
			}
		}
	} else {
		if _, err := rp.Reap(ctx); err != nil {
			logger.Warn("launch_reap_incomplete", "error", err)
		}
		if !cfg.NoClean {
			if err := volume.NewCleaner(cfg.MarkerDir, logger).Clean(cfg.DataDirs).Err(); err != nil {
				logger.Warn("launch_clean_incomplete", "error", err)
			}
		}
	}

	spec := process.LaunchSpec{Binary: path, Args: cfg.EffectiveServerArgs(), Env: cfg.ServerEnv()}
	code, err := process.Launch(ctx, spec, cfg.DryRun, os.Stdout, process.StartOptions{
		Name:      "server",
		Output:    os.Stdout,
		Logger:    logger,
		Verbose:   cfg.Verbose,
		StopGrace: cfg.StopGrace,
	})
	if err != nil && !errors.Is(err, process.ErrInterrupted) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return code
}

// =============================================================================
// list
// =============================================================================

func runList(cfg *config.Config) int {
	versions, err := locator.Discover(cfg.BaseDir, cfg.Binary)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(versions) == 0 {
		fmt.Printf("No versions found in %s\n", cfg.BaseDir)
		return 0
	}
	// Show the last recorded throughput next to each version when a
	// results file exists.
	var latest map[string]float64
	rows, err := results.Read(cfg.ResultsPath)
	switch {
	case err == nil:
		latest = results.Latest(rows)
	case !errors.Is(err, os.ErrNotExist):
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	for _, v := range locator.Newest(versions) {
		path, err := locator.Locate(cfg.BaseDir, v, cfg.Binary)
		if err != nil {
			continue
		}
		mibps := "-"
		if m, ok := latest[v]; ok {
			mibps = results.FormatMiBps(m) + " MiB/s"
		}
		fmt.Printf("%-40s %-16s %s\n", v, mibps, path)
	}
	return 0
}

// =============================================================================
// download
// =============================================================================

func runDownload(ctx context.Context, cfg *config.Config, logger *slog.Logger) int {
	d := release.New(release.Config{
		IndexURL: cfg.ReleaseURL,
		BaseDir:  cfg.BaseDir,
		Binary:   cfg.Binary,
		Retries:  cfg.DownloadRetries,
		Timeout:  cfg.DownloadTimeout,
		Versions: cfg.Versions,
		Output:   os.Stdout,
		Logger:   logger,
	})

	sum, err := d.DownloadAll(ctx)
	fmt.Printf("\nDownloaded %d (%s), skipped %d, failed %d\n",
		len(sum.Downloaded), humanize.IBytes(uint64(sum.Bytes)), len(sum.Skipped), len(sum.Failed))
	switch {
	case ctx.Err() != nil:
		return process.ExitInterrupted
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	case len(sum.Failed) > 0:
		return 1
	}
	return 0
}

// =============================================================================
// s3bench
// =============================================================================

func runS3Bench(ctx context.Context, cfg *config.Config, logger *slog.Logger) int {
	store, err := s3bench.NewMinioStore(cfg.S3Endpoint, cfg.RootUser, cfg.RootPassword, cfg.S3Secure)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	b := s3bench.New(store, s3bench.Config{
		Bucket:     cfg.S3Bucket,
		Sizes:      cfg.S3Sizes,
		Iterations: cfg.S3Iterations,
		Parallel:   cfg.S3Parallel,
		Logger:     logger,
	})

	reports, err := b.Run(ctx)
	if len(reports) > 0 {
		s3bench.PrintReport(os.Stdout, reports)
	}
	switch {
	case ctx.Err() != nil:
		return process.ExitInterrupted
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// =============================================================================
// reap / clean
// =============================================================================

func runReap(ctx context.Context, cfg *config.Config, logger *slog.Logger) int {
	rp := reaper.New(reaper.Config{Names: []string{cfg.Binary}, Settle: cfg.ReapSettle, Logger: logger})

	if cfg.DryRun {
		procs, err := rp.Find(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		for _, p := range procs {
			fmt.Printf("[dry-run] Would kill pid %d (%s)\n", p.PID, p.Name)
		}
		return 0
	}

	res, err := rp.Reap(ctx)
	fmt.Printf("Found %d, killed %d, survivors %d\n", len(res.Found), res.Killed, len(res.Survivors))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runClean(cfg *config.Config, logger *slog.Logger) int {
	if cfg.DryRun {
		for _, dir := range cfg.DataDirs {
			fmt.Printf("[dry-run] Would empty %s\n", dir)
		}
		return 0
	}

	report := volume.NewCleaner(cfg.MarkerDir, logger).Clean(cfg.DataDirs)
	fmt.Printf("Removed %d, created %d, failed %d\n",
		report.Count(volume.Removed), report.Count(volume.Created), report.Count(volume.Failed))
	if err := report.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
