// Package parser turns child process output into structured results.
//
// Output is parsed through a lossy pipeline so that a slow parser can
// never block the child writing to its pipe:
//
//	Layer 1 (Reader): reads lines fast, drops if the channel is full
//	Layer 2 (Parser): consumes from the channel at its own pace
package parser

import (
	"sync"
	"sync/atomic"
)

// LineParser consumes one line of output at a time.
type LineParser interface {
	ParseLine(line string)
}

// Pipeline is a bounded, lossy line queue between a reader and a parser.
type Pipeline struct {
	source     string
	bufferSize int

	lineChan  chan string
	closeOnce sync.Once

	linesRead    atomic.Int64
	linesDropped atomic.Int64
	linesParsed  atomic.Int64

	dropThreshold float64
}

// NewPipeline creates a lossy parsing pipeline for the named source.
// dropThreshold is the fraction (0.0-1.0) of dropped lines above which
// the parsed result is considered degraded.
func NewPipeline(source string, bufferSize int, dropThreshold float64) *Pipeline {
	if bufferSize < 1 {
		bufferSize = 1000
	}
	if dropThreshold <= 0 {
		dropThreshold = 0.01
	}

	return &Pipeline{
		source:        source,
		bufferSize:    bufferSize,
		lineChan:      make(chan string, bufferSize),
		dropThreshold: dropThreshold,
	}
}

// FeedLine queues a line. It returns false when the line was dropped.
// Never blocks.
func (p *Pipeline) FeedLine(line string) bool {
	p.linesRead.Add(1)

	select {
	case p.lineChan <- line:
		return true
	default:
		p.linesDropped.Add(1)
		return false
	}
}

// CloseChannel signals the parser that no more lines will arrive.
// The reader calls this at EOF. Safe to call multiple times.
func (p *Pipeline) CloseChannel() {
	p.closeOnce.Do(func() {
		close(p.lineChan)
	})
}

// RunParser feeds queued lines to parser until the channel is closed.
// Run it in a dedicated goroutine.
func (p *Pipeline) RunParser(parser LineParser) {
	for line := range p.lineChan {
		parser.ParseLine(line)
		p.linesParsed.Add(1)
	}
}

// Stats returns lines read, dropped and parsed.
func (p *Pipeline) Stats() (read, dropped, parsed int64) {
	return p.linesRead.Load(), p.linesDropped.Load(), p.linesParsed.Load()
}

// DropRate returns the fraction of lines dropped so far.
func (p *Pipeline) DropRate() float64 {
	read := p.linesRead.Load()
	if read == 0 {
		return 0
	}
	return float64(p.linesDropped.Load()) / float64(read)
}

// IsDegraded reports whether the drop rate exceeds the threshold.
func (p *Pipeline) IsDegraded() bool {
	return p.DropRate() > p.dropThreshold
}

// Source returns the name given at construction.
func (p *Pipeline) Source() string {
	return p.source
}

// NoopParser discards every line.
type NoopParser struct{}

// ParseLine does nothing.
func (NoopParser) ParseLine(string) {}
