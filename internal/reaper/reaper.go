// Package reaper finds and force-terminates running server processes so
// that each benchmark run starts against a clean host.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

const (
	// DefaultSettle is how long Reap waits for killed processes to disappear.
	DefaultSettle = 2 * time.Second

	pollInterval = 50 * time.Millisecond
)

var (
	// ErrReapIncomplete is returned when matching processes survive both kill passes.
	ErrReapIncomplete = errors.New("processes still running after reap")

	// ErrNameKillUnavailable is returned by a Killer that cannot kill by name.
	ErrNameKillUnavailable = errors.New("kill by name unavailable")
)

// Proc is a running process as seen by the reaper.
type Proc struct {
	PID  int32
	Name string
	Argv []string
}

// Lister enumerates live processes. Implementations should omit zombies.
type Lister interface {
	List(ctx context.Context) ([]Proc, error)
}

// Killer delivers SIGKILL.
type Killer interface {
	// KillByName kills every process whose executable name is exactly name.
	// It returns ErrNameKillUnavailable when no such facility exists.
	KillByName(ctx context.Context, name string) error
	// KillPID kills one process. A process that is already gone is not an error.
	KillPID(ctx context.Context, pid int32) error
}

// Result summarises a Reap call.
type Result struct {
	Found     []Proc
	Killed    int
	Survivors []Proc
}

// Config configures a Reaper.
type Config struct {
	// Names are the binary names to match, e.g. "minio".
	Names  []string
	Lister Lister
	Killer Killer
	Settle time.Duration
	Logger *slog.Logger

	// ExcludePIDs are never matched. The reaper's own pid and its parent
	// are always excluded.
	ExcludePIDs []int32
}

// Reaper kills processes matching a set of binary names.
type Reaper struct {
	names   []string
	lister  Lister
	killer  Killer
	settle  time.Duration
	logger  *slog.Logger
	exclude map[int32]bool
}

// New creates a reaper. Nil Lister and Killer select the system implementations.
func New(cfg Config) *Reaper {
	r := &Reaper{
		names:   dedupe(cfg.Names),
		lister:  cfg.Lister,
		killer:  cfg.Killer,
		settle:  cfg.Settle,
		logger:  cfg.Logger,
		exclude: map[int32]bool{int32(os.Getpid()): true, int32(os.Getppid()): true},
	}
	if r.lister == nil {
		r.lister = SystemLister{}
	}
	if r.killer == nil {
		r.killer = NewSystemKiller()
	}
	if r.settle <= 0 {
		r.settle = DefaultSettle
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	for _, pid := range cfg.ExcludePIDs {
		r.exclude[pid] = true
	}
	return r
}

// With returns a copy of the reaper that also matches the given names.
// Empty names are ignored.
func (r *Reaper) With(names ...string) *Reaper {
	cp := *r
	cp.names = dedupe(append(slices.Clone(r.names), names...))
	return &cp
}

// Names returns the binary names this reaper matches.
func (r *Reaper) Names() []string {
	return slices.Clone(r.names)
}

// Find returns live processes matching any configured name.
func (r *Reaper) Find(ctx context.Context) ([]Proc, error) {
	procs, err := r.lister.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	var out []Proc
	for _, p := range procs {
		if r.exclude[p.PID] {
			continue
		}
		if r.matches(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *Reaper) matches(p Proc) bool {
	for _, name := range r.names {
		if p.Name == name || MatchesBinary(p.Argv, name) {
			return true
		}
	}
	return false
}

// Reap force-kills every matching process in two passes and waits for
// them to disappear. Survivors are reported in the Result and cause an
// error wrapping ErrReapIncomplete.
func (r *Reaper) Reap(ctx context.Context) (Result, error) {
	found, err := r.Find(ctx)
	if err != nil {
		return Result{}, err
	}
	result := Result{Found: found}
	if len(found) == 0 {
		r.logger.Debug("reap_nothing_found", "names", r.names)
		return result, nil
	}

	r.logger.Info("reap_found",
		"names", r.names,
		"pids", pids(found),
	)

	// Pass 1: by name, or by pid when name-based kill is unavailable.
	for _, name := range r.names {
		err := r.killer.KillByName(ctx, name)
		if errors.Is(err, ErrNameKillUnavailable) {
			r.killAll(ctx, found)
			break
		}
		if err != nil {
			r.logger.Debug("reap_kill_by_name_failed", "name", name, "error", err)
		}
	}

	// Pass 2: anything still visible, including processes missed by name.
	remaining, err := r.Find(ctx)
	if err != nil {
		return result, err
	}
	r.killAll(ctx, remaining)

	survivors, err := r.waitGone(ctx)
	if err != nil {
		return result, err
	}
	result.Survivors = survivors

	targeted := make(map[int32]bool)
	for _, p := range append(slices.Clone(found), remaining...) {
		targeted[p.PID] = true
	}
	for _, p := range survivors {
		delete(targeted, p.PID)
	}
	result.Killed = len(targeted)

	if len(survivors) > 0 {
		r.logger.Warn("reap_incomplete",
			"names", r.names,
			"survivors", pids(survivors),
		)
		return result, fmt.Errorf("%w: pids %v", ErrReapIncomplete, pids(survivors))
	}

	r.logger.Info("reap_complete", "killed", result.Killed)
	return result, nil
}

func (r *Reaper) killAll(ctx context.Context, procs []Proc) {
	for _, p := range procs {
		if err := r.killer.KillPID(ctx, p.PID); err != nil {
			r.logger.Debug("reap_kill_pid_failed", "pid", p.PID, "error", err)
		}
	}
}

// waitGone polls until no matching process remains or the settle window ends.
func (r *Reaper) waitGone(ctx context.Context) ([]Proc, error) {
	deadline := time.Now().Add(r.settle)
	for {
		procs, err := r.Find(ctx)
		if err != nil {
			return nil, err
		}
		if len(procs) == 0 || !time.Now().Before(deadline) {
			return procs, nil
		}
		select {
		case <-ctx.Done():
			return procs, nil
		case <-time.After(pollInterval):
		}
	}
}

// MatchesBinary reports whether any argv token names the binary, either
// as the whole token or as the last path component. "minio" matches
// "minio", "/usr/local/bin/minio" and "./minio", but not "minio-client"
// or "/opt/minio/bin/mc".
func MatchesBinary(argv []string, name string) bool {
	if name == "" {
		return false
	}
	for _, arg := range argv {
		for _, tok := range strings.Fields(arg) {
			if tok == name || filepath.Base(tok) == name {
				return true
			}
		}
	}
	return false
}

func pids(procs []Proc) []int32 {
	out := make([]int32, len(procs))
	for i, p := range procs {
		out[i] = p.PID
	}
	return out
}

func dedupe(names []string) []string {
	var out []string
	for _, n := range names {
		if n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}
