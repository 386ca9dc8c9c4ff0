// Package orchestrator provides the version loop of minio-version-bench.
//
// Each version goes through the same lifecycle:
//
//	Locating → Reaping → Cleaning → Launching → AwaitingReady → Benchmarking → Reaping
//
// The final reap always runs, so no server survives its iteration.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/randomizedcoder/go-minio-version-bench/internal/bench"
	"github.com/randomizedcoder/go-minio-version-bench/internal/locator"
	"github.com/randomizedcoder/go-minio-version-bench/internal/logging"
	"github.com/randomizedcoder/go-minio-version-bench/internal/metrics"
	"github.com/randomizedcoder/go-minio-version-bench/internal/probe"
	"github.com/randomizedcoder/go-minio-version-bench/internal/process"
	"github.com/randomizedcoder/go-minio-version-bench/internal/reaper"
	"github.com/randomizedcoder/go-minio-version-bench/internal/results"
	"github.com/randomizedcoder/go-minio-version-bench/internal/volume"
)

var (
	// ErrNoVersions is returned when there is nothing to benchmark.
	ErrNoVersions = errors.New("no versions to benchmark")

	// ErrNoRunner is returned by Run when no benchmark runner is configured.
	ErrNoRunner = errors.New("no benchmark runner configured")

	// ErrServerExited is returned when the server dies before it is ready.
	ErrServerExited = errors.New("server exited before becoming ready")
)

// tailLines is how much server output is attached to readiness failures.
const tailLines = 5

// Config holds the settings the loop needs.
type Config struct {
	BaseDir string
	Binary  string
	// Versions to run in order. Empty means every version under BaseDir,
	// newest first.
	Versions []string

	Host       string
	Port       int
	ServerArgs []string
	ServerEnv  []string

	DataDirs []string
	NoClean  bool

	ReadyTimeout time.Duration
	StopGrace    time.Duration
	Cooldown     time.Duration

	// ServerOutput receives a copy of the server's output when non-nil.
	ServerOutput io.Writer
	Verbose      bool
}

// Deps are the collaborators the loop drives. Runner is required; nil
// Reaper, Cleaner and Prober get system defaults, the rest are optional.
type Deps struct {
	Runner  bench.Runner
	Reaper  *reaper.Reaper
	Cleaner *volume.Cleaner
	Prober  *probe.Prober
	Results results.Sink
	Metrics *metrics.Collector
	Scraper *metrics.ServerScraper
	// OnEvent is called from the loop goroutine on every state change.
	OnEvent func(Event)
	Logger  *slog.Logger
}

// Orchestrator runs the benchmark loop over server versions.
type Orchestrator struct {
	cfg     Config
	runner  bench.Runner
	reaper  *reaper.Reaper
	cleaner *volume.Cleaner
	prober  *probe.Prober
	sink    results.Sink
	metrics *metrics.Collector
	scraper *metrics.ServerScraper
	onEvent func(Event)
	logger  *slog.Logger
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.Binary == "" {
		cfg.Binary = "minio"
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = process.DefaultStopGrace
	}

	o := &Orchestrator{
		cfg:     cfg,
		runner:  deps.Runner,
		reaper:  deps.Reaper,
		cleaner: deps.Cleaner,
		prober:  deps.Prober,
		sink:    deps.Results,
		metrics: deps.Metrics,
		scraper: deps.Scraper,
		onEvent: deps.OnEvent,
		logger:  logger,
	}
	if o.reaper == nil {
		o.reaper = reaper.New(reaper.Config{Names: []string{cfg.Binary}, Logger: logger})
	}
	if o.cleaner == nil {
		o.cleaner = volume.NewCleaner("", logger)
	}
	if o.prober == nil {
		o.prober = probe.New(0, 0, logger)
	}
	return o
}

// Versions resolves the configured version list.
func (o *Orchestrator) Versions() ([]string, error) {
	if len(o.cfg.Versions) > 0 {
		return append([]string(nil), o.cfg.Versions...), nil
	}
	found, err := locator.Discover(o.cfg.BaseDir, o.cfg.Binary)
	if err != nil {
		return nil, err
	}
	return locator.Newest(found), nil
}

// Run benchmarks every version in turn and returns one Outcome per
// version attempted. An operator interrupt finishes the current version's
// teardown, stops the loop and returns context.Canceled.
func (o *Orchestrator) Run(ctx context.Context) ([]Outcome, error) {
	if o.runner == nil {
		return nil, ErrNoRunner
	}
	versions, err := o.Versions()
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoVersions, o.cfg.BaseDir)
	}

	o.logger.Info("run_starting",
		"versions", len(versions),
		"runner", o.runner.Name(),
		"server_addr", o.serverAddr(),
	)

	var outcomes []Outcome
	for i, version := range versions {
		out := o.RunVersion(ctx, i, len(versions), version)
		outcomes = append(outcomes, out)

		if out.Status == StatusInterrupted || ctx.Err() != nil {
			break
		}
		if i < len(versions)-1 && o.cfg.Cooldown > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(o.cfg.Cooldown):
			}
		}
	}

	// Leave the volumes empty for whoever comes next.
	if !o.cfg.NoClean {
		o.clean()
	}

	o.logger.Info("run_complete", "attempted", len(outcomes), "total", len(versions))
	if err := ctx.Err(); err != nil {
		return outcomes, context.Canceled
	}
	return outcomes, nil
}

// RunVersion takes one version through the full lifecycle.
func (o *Orchestrator) RunVersion(ctx context.Context, index, total int, version string) (out Outcome) {
	start := time.Now()
	out.Version = version
	o.metrics.VersionStarted(version)

	emit := func(s State) {
		if o.onEvent != nil {
			o.onEvent(Event{Index: index, Total: total, Version: version, State: s})
		}
	}
	defer func() {
		out.Duration = time.Since(start)
		o.metrics.VersionFinished(version, string(out.Status), out.Duration)
		o.logVersionOutcome(out)
		if o.onEvent != nil {
			o.onEvent(Event{Index: index, Total: total, Version: version, State: StateDone, Outcome: &out})
		}
	}()

	// Locating
	emit(StateLocating)
	path, err := locator.Locate(o.cfg.BaseDir, version, o.cfg.Binary)
	if err != nil {
		out.Status, out.Err = StatusSkipped, err
		return out
	}
	// A standalone executable is named after the version, so reap by that
	// name too.
	rp := o.reaper.With(filepath.Base(path))

	// Teardown is unconditional from here on and must run even after an
	// interrupt, so it gets a context that is never cancelled.
	teardown := context.WithoutCancel(ctx)

	// Reaping
	emit(StateReaping)
	o.reap(teardown, rp)
	if ctx.Err() != nil {
		out.Status, out.Err = StatusInterrupted, ctx.Err()
		return out
	}

	// Cleaning
	if !o.cfg.NoClean {
		emit(StateCleaning)
		out.Clean = o.clean()
	}

	// Launching
	emit(StateLaunching)
	if err := process.EnsureExecutable(path); err != nil {
		out.Status, out.Err = StatusLaunchFailed, err
		return out
	}
	spec := process.LaunchSpec{Binary: path, Args: o.cfg.ServerArgs, Env: o.cfg.ServerEnv}
	o.logger.Info("server_starting", "version", version, "command", spec.CommandString())
	h, err := process.Start(spec, process.StartOptions{
		Name:      "server",
		Output:    o.cfg.ServerOutput,
		Logger:    o.logger,
		Verbose:   o.cfg.Verbose,
		StopGrace: o.cfg.StopGrace,
	})
	if err != nil {
		out.Status, out.Err = StatusLaunchFailed, err
		return out
	}
	o.metrics.ServerStarted()

	defer func() {
		emit(StateReaping)
		if err := h.Stop(o.cfg.StopGrace); err != nil {
			o.logger.Warn("server_stop_forced", "version", version, "pid", h.PID(), "error", err)
		}
		o.metrics.RecordExit(h.ExitCode())
		attrs := []any{"version", version, "pid", h.PID(), "exit_code", h.ExitCode(),
			"uptime", h.Uptime().Round(time.Millisecond)}
		if counts := h.Tail().CountErrors(); len(counts) > 0 {
			attrs = append(attrs, "output_errors", counts)
		}
		o.logger.Info("server_stopped", attrs...)
		out.Reap = o.reap(teardown, rp)
	}()

	// AwaitingReady
	emit(StateAwaitingReady)
	readyStart := time.Now()
	if err := o.awaitReady(ctx, h); err != nil {
		if ctx.Err() != nil {
			out.Status, out.Err = StatusInterrupted, ctx.Err()
		} else {
			out.Status, out.Err = StatusNotReady, err
		}
		return out
	}
	ready := time.Since(readyStart)
	o.metrics.ServerReady(ready)
	o.logger.Info("server_ready", "version", version, "pid", h.PID(), "after", ready.Round(time.Millisecond))

	// Benchmarking
	emit(StateBenchmarking)
	stopScrape := o.startScraper(ctx, index, total, version)
	res, err := o.runner.Run(ctx, version)
	stopScrape()

	switch {
	case ctx.Err() != nil:
		out.Status, out.Err = StatusInterrupted, ctx.Err()
		return out
	case err != nil:
		out.Status, out.Err = StatusBenchFailed, err
		out.MiBps = res.MiBps
		return out
	}

	out.Status = StatusOK
	out.MiBps = res.MiBps
	o.metrics.RecordBench(version, metrics.BenchResult{
		MiBps:        res.MiBps,
		ObjPerSec:    res.ObjPerSec,
		ReqAvg:       res.ReqAvg,
		ReqP50:       res.ReqP50,
		ReqP90:       res.ReqP90,
		ReqP99:       res.ReqP99,
		DroppedLines: res.DroppedLines,
	})
	if o.sink != nil {
		if err := o.sink.Append(results.Row{Version: version, MiBps: res.MiBps}); err != nil {
			o.logger.Error("result_append_failed", "version", version, "error", err)
			out.Err = err
		}
	}
	return out
}

// awaitReady probes the server port, giving up early if the server exits.
func (o *Orchestrator) awaitReady(ctx context.Context, h *process.Handle) error {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-h.Done():
			cancel()
		case <-waitCtx.Done():
		}
	}()

	err := o.prober.Wait(waitCtx, o.serverAddr(), o.cfg.ReadyTimeout)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if h.Exited() {
		return fmt.Errorf("%w: exit code %d: %s", ErrServerExited, h.ExitCode(),
			strings.Join(h.Tail().RecentLines(tailLines), " | "))
	}
	return err
}

// startScraper polls the server's metrics endpoint until the returned
// stop function is called.
func (o *Orchestrator) startScraper(ctx context.Context, index, total int, version string) (stop func()) {
	if o.scraper == nil {
		return func() {}
	}
	o.scraper.Reset()

	scrapeCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.scraper.Run(scrapeCtx, func(m *metrics.ServerMetrics) {
			o.metrics.RecordServerRates(m)
			if o.onEvent != nil {
				o.onEvent(Event{Index: index, Total: total, Version: version, State: StateBenchmarking, Server: m})
			}
		})
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func (o *Orchestrator) reap(ctx context.Context, rp *reaper.Reaper) reaper.Result {
	res, err := rp.Reap(ctx)
	o.metrics.RecordReap(res.Killed, len(res.Survivors))
	if err != nil && !errors.Is(err, reaper.ErrReapIncomplete) {
		// Incomplete reaps are already logged by the reaper.
		o.logger.Warn("reap_failed", "names", rp.Names(), "error", err)
	}
	return res
}

func (o *Orchestrator) clean() volume.Report {
	report := o.cleaner.Clean(o.cfg.DataDirs)
	counts := make(map[string]int, 4)
	for _, oc := range []volume.Outcome{volume.Removed, volume.Created, volume.Skipped, volume.Failed} {
		counts[oc.String()] = report.Count(oc)
	}
	o.metrics.RecordClean(counts)
	if err := report.Err(); err != nil {
		o.logger.Warn("clean_incomplete", "failed", len(report.Failed()), "error", err)
	}
	return report
}

func (o *Orchestrator) logVersionOutcome(out Outcome) {
	attrs := []any{
		"version", out.Version,
		"status", out.Status,
		"duration", out.Duration.Round(time.Millisecond),
	}
	switch out.Status {
	case StatusOK:
		o.logger.Info("version_complete", append(attrs, "mib_per_sec", out.MiBps)...)
	case StatusSkipped:
		o.logger.Warn("version_skipped", append(attrs, "error", out.Err)...)
	case StatusInterrupted:
		o.logger.Warn("version_interrupted", attrs...)
	default:
		o.logger.Error("version_failed", append(attrs, "error", out.Err)...)
	}
}

func (o *Orchestrator) serverAddr() string {
	return net.JoinHostPort(o.cfg.Host, strconv.Itoa(o.cfg.Port))
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}
