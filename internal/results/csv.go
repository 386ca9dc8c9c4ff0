// Package results persists benchmark results as an append-only CSV file.
package results

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
)

// DefaultPath is the results file used when none is configured.
const DefaultPath = "versions_speeds.csv"

// Header is the first record of every results file.
var Header = []string{"version", "MiBps"}

// Row is one successful benchmark.
type Row struct {
	Version string
	MiBps   float64
}

// Sink accepts results as they are produced.
type Sink interface {
	Append(Row) error
}

// CSVLog appends rows to a CSV file, writing the header only when the
// file is created. Every append is flushed and synced so rows survive an
// interrupted run.
type CSVLog struct {
	path string
	mu   sync.Mutex
}

// NewCSVLog returns a log writing to path.
func NewCSVLog(path string) *CSVLog {
	if path == "" {
		path = DefaultPath
	}
	return &CSVLog{path: path}
}

// Path returns the file path.
func (l *CSVLog) Path() string { return l.path }

// Append writes one row.
func (l *CSVLog) Append(row Row) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.path)
	newFile := errors.Is(err, os.ErrNotExist) || (err == nil && info.Size() == 0)

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open results: %w", err)
	}

	w := csv.NewWriter(f)
	if newFile {
		if err := w.Write(Header); err != nil {
			f.Close()
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := w.Write([]string{row.Version, FormatMiBps(row.MiBps)}); err != nil {
		f.Close()
		return fmt.Errorf("write row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush results: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync results: %w", err)
	}
	return f.Close()
}

// FormatMiBps renders a throughput with the shortest exact decimal form.
func FormatMiBps(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Read loads every row from a results file, skipping the header.
func Read(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads rows from r, skipping the header.
func Parse(r io.Reader) ([]Row, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse results: %w", err)
	}

	var rows []Row
	for i, rec := range records {
		if i == 0 && len(rec) == 2 && rec[0] == Header[0] {
			continue
		}
		if len(rec) != 2 {
			return nil, fmt.Errorf("parse results: line %d has %d fields", i+1, len(rec))
		}
		v, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("parse results: line %d: %w", i+1, err)
		}
		rows = append(rows, Row{Version: rec[0], MiBps: v})
	}
	return rows, nil
}

// Latest maps each version to its most recent result. Later rows win.
func Latest(rows []Row) map[string]float64 {
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.Version] = r.MiBps
	}
	return out
}
