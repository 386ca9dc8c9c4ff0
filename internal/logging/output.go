package logging

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single output line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent lines kept per child process.
	MaxBufferedLines = 100
)

// OutputTail consumes the combined stdout/stderr of a child process
// (the object server or the load generator). It keeps the most recent
// lines for failure reports and forwards interesting lines to the logger.
type OutputTail struct {
	source  string
	logger  *slog.Logger
	verbose bool

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	total  int
	mu     sync.Mutex
}

// NewOutputTail creates a tail for the named child process.
func NewOutputTail(source string, logger *slog.Logger, verbose bool) *OutputTail {
	if logger == nil {
		logger = Discard()
	}
	return &OutputTail{
		source:  source,
		logger:  logger,
		verbose: verbose,
		buffer:  make([]string, MaxBufferedLines),
	}
}

// HandleReader reads lines until EOF. Run it in a goroutine.
func (t *OutputTail) HandleReader(r io.Reader) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, MaxLineLength)
	scanner.Buffer(buf, MaxLineLength)

	for scanner.Scan() {
		t.HandleLine(scanner.Text())
	}
	// Lines longer than the scanner buffer end the scan; drain the rest
	// so the child never blocks on a full pipe.
	if scanner.Err() != nil {
		_, _ = io.Copy(io.Discard, r)
	}
}

// HandleLine records a single line of output.
func (t *OutputTail) HandleLine(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	t.mu.Lock()
	t.buffer[t.bufIdx] = line
	t.bufIdx = (t.bufIdx + 1) % MaxBufferedLines
	t.total++
	t.mu.Unlock()

	t.logLine(line)
}

func (t *OutputTail) logLine(line string) {
	level := classifyLine(line)
	if !t.verbose && level == slog.LevelDebug {
		return
	}
	t.logger.Log(context.Background(), level, "child_output",
		"source", t.source,
		"line", line,
	)
}

// classifyLine picks a log level from the line content.
func classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	if strings.Contains(lower, "fatal") ||
		strings.Contains(lower, "address already in use") ||
		strings.Contains(lower, "unable to") ||
		strings.Contains(lower, "permission denied") {
		return slog.LevelWarn
	}

	if strings.Contains(lower, "error") ||
		strings.Contains(lower, "warning") {
		return slog.LevelWarn
	}

	return slog.LevelDebug
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (t *OutputTail) RecentLines(n int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}
	if n > t.total {
		n = t.total
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (t.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		lines = append(lines, t.buffer[idx])
	}
	return lines
}

// Total returns the number of lines seen so far.
func (t *OutputTail) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// ErrorPatterns are common server failure patterns counted for the exit summary.
var ErrorPatterns = []string{
	"ERROR",
	"FATAL",
	"Unable to",
	"address already in use",
	"permission denied",
	"drive not found",
}

// CountErrors counts occurrences of error patterns in the buffer.
func (t *OutputTail) CountErrors() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	counts := make(map[string]int)
	for _, line := range t.buffer {
		if line == "" {
			continue
		}
		for _, pattern := range ErrorPatterns {
			if strings.Contains(line, pattern) {
				counts[pattern]++
			}
		}
	}
	return counts
}
