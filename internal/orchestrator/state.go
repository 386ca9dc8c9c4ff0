package orchestrator

import (
	"time"

	"github.com/randomizedcoder/go-minio-version-bench/internal/metrics"
	"github.com/randomizedcoder/go-minio-version-bench/internal/reaper"
	"github.com/randomizedcoder/go-minio-version-bench/internal/volume"
)

// State is the lifecycle step a version is in.
type State int

const (
	StateLocating State = iota
	StateReaping
	StateCleaning
	StateLaunching
	StateAwaitingReady
	StateBenchmarking
	StateDone
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateLocating:
		return "locating"
	case StateReaping:
		return "reaping"
	case StateCleaning:
		return "cleaning"
	case StateLaunching:
		return "launching"
	case StateAwaitingReady:
		return "awaiting_ready"
	case StateBenchmarking:
		return "benchmarking"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Status is how a version iteration ended.
type Status string

const (
	StatusOK           Status = "ok"
	StatusSkipped      Status = "skipped"
	StatusNotReady     Status = "not_ready"
	StatusBenchFailed  Status = "bench_failed"
	StatusLaunchFailed Status = "launch_failed"
	StatusInterrupted  Status = "interrupted"
)

// Outcome is the result of one version iteration.
type Outcome struct {
	Version string
	Status  Status
	// MiBps is only meaningful when Status is StatusOK.
	MiBps float64
	Err   error
	// Reap is the final reap after the server was stopped.
	Reap     reaper.Result
	Clean    volume.Report
	Duration time.Duration
}

// Event reports progress to observers such as the dashboard.
type Event struct {
	Index   int
	Total   int
	Version string
	State   State
	// Outcome is set when State is StateDone.
	Outcome *Outcome
	// Server is set for periodic server metrics during benchmarking.
	Server *metrics.ServerMetrics
}
