// Package volume prepares the server data directories between runs.
package volume

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
)

// DefaultMarker is the server's metadata directory inside each volume.
const DefaultMarker = ".minio.sys"

// ErrCleanPartial is returned by Report.Err when any entry failed.
var ErrCleanPartial = errors.New("volume cleanup incomplete")

// Outcome describes what happened to one path.
type Outcome int

const (
	Removed Outcome = iota
	Created
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Removed:
		return "removed"
	case Created:
		return "created"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// EntryResult is the outcome for a single path.
type EntryResult struct {
	Path    string
	Outcome Outcome
	Err     error
}

// Report aggregates the per-entry outcomes of a Clean call.
type Report struct {
	Entries []EntryResult
}

func (r *Report) add(path string, o Outcome, err error) {
	r.Entries = append(r.Entries, EntryResult{Path: path, Outcome: o, Err: err})
}

// Count returns the number of entries with the given outcome.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, e := range r.Entries {
		if e.Outcome == o {
			n++
		}
	}
	return n
}

// Failed returns the entries that could not be removed or created.
func (r Report) Failed() []EntryResult {
	var out []EntryResult
	for _, e := range r.Entries {
		if e.Outcome == Failed {
			out = append(out, e)
		}
	}
	return out
}

// Err returns nil when every entry succeeded, otherwise an error wrapping
// ErrCleanPartial and each underlying failure.
func (r Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	errs := []error{fmt.Errorf("%w: %d path(s) failed", ErrCleanPartial, len(failed))}
	for _, f := range failed {
		errs = append(errs, fmt.Errorf("%s: %w", f.Path, f.Err))
	}
	return errors.Join(errs...)
}

// Cleaner empties data directories. It never removes the directories
// themselves. A volume path may be a symlink to a mounted disk; links
// found inside a volume are removed as links, never followed.
type Cleaner struct {
	marker string
	logger *slog.Logger

	remove    func(string) error
	removeAll func(string) error
}

// NewCleaner creates a cleaner. An empty marker means DefaultMarker.
func NewCleaner(marker string, logger *slog.Logger) *Cleaner {
	if marker == "" {
		marker = DefaultMarker
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cleaner{
		marker:    marker,
		logger:    logger,
		remove:    os.Remove,
		removeAll: os.RemoveAll,
	}
}

// Clean empties each directory in dirs, creating missing ones. A failure
// on one entry is recorded and cleaning continues with the rest. After
// the general pass the marker directory is removed from every volume
// if it is still present.
func (c *Cleaner) Clean(dirs []string) Report {
	var report Report

	for _, dir := range dirs {
		c.cleanDir(dir, &report)
	}

	for _, dir := range dirs {
		marker := filepath.Join(dir, c.marker)
		if _, err := os.Lstat(marker); err != nil {
			continue
		}
		if err := c.removeAll(marker); err != nil {
			report.add(marker, Failed, err)
			continue
		}
		report.add(marker, Removed, nil)
	}

	c.logger.Info("volumes_cleaned",
		"dirs", len(dirs),
		"removed", report.Count(Removed),
		"created", report.Count(Created),
		"failed", report.Count(Failed),
	)
	for _, f := range report.Failed() {
		c.logger.Warn("volume_entry_failed", "path", f.Path, "error", f.Err)
	}

	return report
}

func (c *Cleaner) cleanDir(dir string, report *Report) {
	// The volume root is resolved through symlinks; only its children are not.
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			report.add(dir, Failed, err)
			return
		}
		report.add(dir, Created, nil)
		return
	case err != nil:
		report.add(dir, Failed, err)
		return
	case !info.IsDir():
		report.add(dir, Failed, syscall.ENOTDIR)
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		report.add(dir, Failed, err)
		return
	}

	for _, e := range entries {
		path := filepath.Join(dir, e.Name())

		// DirEntry types come from lstat, so a symlink to a directory
		// is removed as a link.
		rm := c.remove
		if e.IsDir() {
			rm = c.removeAll
		}

		err := rm(path)
		switch {
		case err == nil:
			report.add(path, Removed, nil)
		case errors.Is(err, os.ErrNotExist):
			report.add(path, Skipped, nil)
		default:
			report.add(path, Failed, err)
		}
	}
}
