// Package bench drives load generators against a running server and
// reports the measured throughput.
package bench

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoAverage is returned when the benchmark output has no average line.
	ErrNoAverage = errors.New("no average throughput in benchmark output")

	// ErrBenchFailed is returned when the load generator exits non-zero.
	ErrBenchFailed = errors.New("benchmark failed")
)

// Result is the outcome of one benchmark run against one version.
type Result struct {
	Version   string
	MiBps     float64
	ObjPerSec float64
	Duration  time.Duration
	ExitCode  int

	// Optional request latency percentiles, zero when unknown.
	ReqAvg time.Duration
	ReqP50 time.Duration
	ReqP90 time.Duration
	ReqP99 time.Duration

	// Degraded is set when the parser dropped more output than it tolerates.
	Degraded     bool
	DroppedLines int64
}

// Runner benchmarks the server that is currently listening.
// version is passed explicitly so results can be labelled.
type Runner interface {
	Run(ctx context.Context, version string) (Result, error)
	Name() string
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, version string) (Result, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, version string) (Result, error) {
	return f(ctx, version)
}

// Name implements Runner.
func (RunnerFunc) Name() string { return "func" }
