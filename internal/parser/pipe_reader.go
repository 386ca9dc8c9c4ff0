package parser

import (
	"bufio"
	"io"
	"sync/atomic"
)

// PipeReader is Layer 1: it reads lines from a child's output pipe into
// a Pipeline, optionally echoing each line to another writer.
type PipeReader struct {
	reader   io.Reader
	pipeline *Pipeline
	echo     io.Writer

	bytesRead atomic.Int64
	linesRead atomic.Int64
}

// NewPipeReader creates a reader feeding pipeline. echo may be nil.
func NewPipeReader(r io.Reader, pipeline *Pipeline, echo io.Writer) *PipeReader {
	return &PipeReader{reader: r, pipeline: pipeline, echo: echo}
}

// Run reads until EOF and then closes the pipeline channel.
func (p *PipeReader) Run() {
	defer p.pipeline.CloseChannel()

	scanner := bufio.NewScanner(p.reader)
	const maxLineSize = 64 * 1024
	scanner.Buffer(make([]byte, maxLineSize), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		p.bytesRead.Add(int64(len(line) + 1))
		p.linesRead.Add(1)
		if p.echo != nil {
			_, _ = io.WriteString(p.echo, line+"\n")
		}
		p.pipeline.FeedLine(line)
	}

	// Keep the writer unblocked if scanning stopped early.
	_, _ = io.Copy(io.Discard, p.reader)
}

// Stats returns bytes and lines read so far.
func (p *PipeReader) Stats() (bytesRead, linesRead int64) {
	return p.bytesRead.Load(), p.linesRead.Load()
}
