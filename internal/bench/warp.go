package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-minio-version-bench/internal/logging"
	"github.com/randomizedcoder/go-minio-version-bench/internal/parser"
	"github.com/randomizedcoder/go-minio-version-bench/internal/probe"
	"github.com/randomizedcoder/go-minio-version-bench/internal/process"
)

// WarpConfig describes a warp client/benchmark pair.
type WarpConfig struct {
	Path       string
	ClientAddr string
	// ServerAddr is the host:port of the server under test.
	ServerAddr string
	Operation  string
	Bucket     string
	Duration   time.Duration
	ObjSize    string
	Concurrent int
	NoClear    bool

	AccessKey string
	SecretKey string

	// ClientStartTimeout bounds the wait for the warp client to listen.
	ClientStartTimeout time.Duration
	StopGrace          time.Duration

	ExtraArgs []string
	// Output receives a copy of the benchmark output.
	Output  io.Writer
	Verbose bool
}

// DefaultWarpConfig returns the settings the harness uses unless overridden.
func DefaultWarpConfig() WarpConfig {
	return WarpConfig{
		Path:               "warp",
		ClientAddr:         "127.0.0.1:7761",
		ServerAddr:         "127.0.0.1:9000",
		Operation:          "put",
		Bucket:             "warp-test",
		Duration:           20 * time.Second,
		ObjSize:            "1MiB",
		Concurrent:         32,
		NoClear:            true,
		ClientStartTimeout: 3 * time.Second,
		StopGrace:          process.DefaultStopGrace,
	}
}

// WarpRunner runs warp in distributed mode: a local "warp client" agent
// plus a benchmark command that drives it.
type WarpRunner struct {
	cfg    WarpConfig
	logger *slog.Logger
	prober *probe.Prober
}

// NewWarpRunner creates a runner. A nil logger discards output.
func NewWarpRunner(cfg WarpConfig, logger *slog.Logger) *WarpRunner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &WarpRunner{
		cfg:    cfg,
		logger: logger,
		prober: probe.New(0, 0, logger),
	}
}

// Name implements Runner.
func (w *WarpRunner) Name() string { return "warp" }

func (w *WarpRunner) env() []string {
	return []string{
		"WARP_ACCESS_KEY=" + w.cfg.AccessKey,
		"WARP_SECRET_KEY=" + w.cfg.SecretKey,
	}
}

// ClientSpec is the command line of the warp client agent.
func (w *WarpRunner) ClientSpec() process.LaunchSpec {
	return process.LaunchSpec{
		Binary: w.cfg.Path,
		Args:   []string{"client", w.cfg.ClientAddr},
		Env:    w.env(),
	}
}

// BenchSpec is the command line of the benchmark itself.
func (w *WarpRunner) BenchSpec() process.LaunchSpec {
	args := []string{
		w.cfg.Operation,
		"--warp-client", w.cfg.ClientAddr,
		"--host", w.cfg.ServerAddr,
		"--bucket", w.cfg.Bucket,
		"--duration", w.cfg.Duration.String(),
		"--obj.size", w.cfg.ObjSize,
		"--concurrent", strconv.Itoa(w.cfg.Concurrent),
	}
	if w.cfg.NoClear {
		args = append(args, "--noclear")
	}
	args = append(args, w.cfg.ExtraArgs...)
	return process.LaunchSpec{Binary: w.cfg.Path, Args: args, Env: w.env()}
}

// Run starts the client agent, runs the benchmark to completion and
// returns the parsed average throughput. The agent is always stopped.
func (w *WarpRunner) Run(ctx context.Context, version string) (Result, error) {
	start := time.Now()
	res := Result{Version: version}

	client, err := process.Start(w.ClientSpec(), process.StartOptions{
		Name:      "warp-client",
		Logger:    w.logger,
		Verbose:   w.cfg.Verbose,
		StopGrace: w.cfg.StopGrace,
	})
	if err != nil {
		return res, fmt.Errorf("start warp client: %w", err)
	}
	defer func() {
		if err := client.Stop(w.cfg.StopGrace); err != nil {
			w.logger.Warn("warp_client_stop_forced", "error", err)
		}
	}()

	if err := w.prober.Wait(ctx, w.cfg.ClientAddr, w.cfg.ClientStartTimeout); err != nil {
		if ctx.Err() != nil {
			return res, fmt.Errorf("%w: %w", process.ErrInterrupted, ctx.Err())
		}
		if client.Exited() {
			return res, fmt.Errorf("warp client exited with code %d", client.ExitCode())
		}
		// Older warp builds accept connections lazily; carry on.
		w.logger.Warn("warp_client_not_listening",
			"addr", w.cfg.ClientAddr,
			"waited", w.cfg.ClientStartTimeout,
		)
	}

	spec := w.BenchSpec()
	w.logger.Info("benchmark_started",
		"version", version,
		"command", spec.CommandString(),
	)

	out, code, err := w.runBench(ctx, spec)
	summary := out.summary
	res.Duration = time.Since(start)
	res.ExitCode = code
	res.Degraded = out.degraded
	res.DroppedLines = out.dropped
	res.MiBps = summary.AverageMiBps
	res.ObjPerSec = summary.AverageObjPerSec
	res.ReqAvg = summary.ReqAvg
	res.ReqP50 = summary.ReqP50
	res.ReqP90 = summary.ReqP90
	res.ReqP99 = summary.ReqP99

	switch {
	case ctx.Err() != nil:
		return res, fmt.Errorf("%w: %w", process.ErrInterrupted, ctx.Err())
	case err != nil:
		return res, fmt.Errorf("%w: %w", ErrBenchFailed, err)
	case code != 0:
		return res, fmt.Errorf("%w: warp exited with code %d", ErrBenchFailed, code)
	case !summary.HasAverage:
		return res, ErrNoAverage
	}

	w.logger.Info("benchmark_finished",
		"version", version,
		"mib_per_sec", res.MiBps,
		"obj_per_sec", res.ObjPerSec,
		"duration", res.Duration.Round(time.Millisecond),
	)
	return res, nil
}

type benchOutput struct {
	summary  parser.WarpSummary
	degraded bool
	dropped  int64
}

// runBench runs the benchmark command with stdout and stderr merged into
// one lossy parsing pipeline.
func (w *WarpRunner) runBench(ctx context.Context, spec process.LaunchSpec) (benchOutput, int, error) {
	cmd := exec.CommandContext(ctx, spec.Binary, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Cancel = func() error { return cmd.Process.Signal(unix.SIGTERM) }
	cmd.WaitDelay = w.cfg.StopGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return benchOutput{}, 1, err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return benchOutput{}, 1, err
	}

	pipeline := parser.NewPipeline("warp", 1000, 0.01)
	warp := parser.NewWarpParser()
	reader := parser.NewPipeReader(stdout, pipeline, w.cfg.Output)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		reader.Run()
	}()
	go func() {
		defer wg.Done()
		pipeline.RunParser(warp)
	}()

	// All reads must finish before Wait closes the pipe.
	wg.Wait()
	waitErr := cmd.Wait()

	code := process.ExitCode(waitErr)
	var exitErr *exec.ExitError
	read, dropped, _ := pipeline.Stats()
	out := benchOutput{summary: warp.Summary(), degraded: pipeline.IsDegraded(), dropped: dropped}
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return out, code, waitErr
	}

	w.logger.Debug("benchmark_output_parsed",
		"lines_read", read,
		"lines_dropped", dropped,
	)
	return out, code, nil
}
