package parser

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// slowParser simulates a parser that can't keep up with input.
type slowParser struct {
	delay time.Duration
	mu    sync.Mutex
	count int
}

func (p *slowParser) ParseLine(string) {
	time.Sleep(p.delay)
	p.mu.Lock()
	p.count++
	p.mu.Unlock()
}

// countingParser records lines without delay.
type countingParser struct {
	mu    sync.Mutex
	lines []string
}

func (p *countingParser) ParseLine(line string) {
	p.mu.Lock()
	p.lines = append(p.lines, line)
	p.mu.Unlock()
}

// runPipeline reads input through a PipeReader into parser and waits for both layers.
func runPipeline(pipeline *Pipeline, parser LineParser, input string, echo io.Writer) *PipeReader {
	reader := NewPipeReader(strings.NewReader(input), pipeline, echo)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		reader.Run()
	}()
	go func() {
		defer wg.Done()
		pipeline.RunParser(parser)
	}()
	wg.Wait()
	return reader
}

func TestPipeline_DropsUnderPressure(t *testing.T) {
	pipeline := NewPipeline("test", 5, 0.01)
	parser := &slowParser{delay: 10 * time.Millisecond}

	runPipeline(pipeline, parser, strings.Repeat("line\n", 100), nil)

	read, dropped, parsed := pipeline.Stats()
	if read != 100 {
		t.Errorf("read = %d, want 100", read)
	}
	if dropped == 0 {
		t.Error("expected drops with a slow parser and small buffer")
	}
	if parsed+dropped != read {
		t.Errorf("parsed(%d) + dropped(%d) != read(%d)", parsed, dropped, read)
	}
	if !pipeline.IsDegraded() {
		t.Errorf("IsDegraded() = false with drop rate %.2f", pipeline.DropRate())
	}
}

func TestPipeline_NoDropsWhenFast(t *testing.T) {
	pipeline := NewPipeline("test", 1000, 0.01)
	parser := &countingParser{}

	reader := runPipeline(pipeline, parser, strings.Repeat("line\n", 100), nil)

	read, dropped, parsed := pipeline.Stats()
	if read != 100 || dropped != 0 || parsed != 100 {
		t.Errorf("Stats() = (%d, %d, %d), want (100, 0, 100)", read, dropped, parsed)
	}
	if pipeline.DropRate() != 0 || pipeline.IsDegraded() {
		t.Error("fast pipeline reported drops")
	}
	if bytesRead, lines := reader.Stats(); lines != 100 || bytesRead != 500 {
		t.Errorf("reader Stats() = (%d, %d), want (500, 100)", bytesRead, lines)
	}
}

func TestPipeReader_Echo(t *testing.T) {
	var echo bytes.Buffer
	parser := &countingParser{}
	runPipeline(NewPipeline("warp", 10, 0.01), parser, "a\nb\n", &echo)

	if echo.String() != "a\nb\n" {
		t.Errorf("echo = %q", echo.String())
	}
	if strings.Join(parser.lines, ",") != "a,b" {
		t.Errorf("parsed = %v", parser.lines)
	}
}

func TestPipeline_FeedLineAfterFull(t *testing.T) {
	pipeline := NewPipeline("test", 2, 0.5)
	if !pipeline.FeedLine("1") || !pipeline.FeedLine("2") {
		t.Fatal("FeedLine dropped with free buffer space")
	}
	if pipeline.FeedLine("3") {
		t.Error("FeedLine queued into a full buffer")
	}
	if got := pipeline.DropRate(); got < 0.33 || got > 0.34 {
		t.Errorf("DropRate() = %v, want 1/3", got)
	}
}

func TestPipeline_CloseChannelIdempotent(t *testing.T) {
	pipeline := NewPipeline("test", 1, 0.01)
	pipeline.CloseChannel()
	pipeline.CloseChannel()
	pipeline.RunParser(NoopParser{})
}

func TestPipeline_Defaults(t *testing.T) {
	pipeline := NewPipeline("server", 0, 0)
	if pipeline.bufferSize != 1000 {
		t.Errorf("bufferSize = %d, want 1000", pipeline.bufferSize)
	}
	if pipeline.dropThreshold != 0.01 {
		t.Errorf("dropThreshold = %v, want 0.01", pipeline.dropThreshold)
	}
	if pipeline.Source() != "server" {
		t.Errorf("Source() = %q", pipeline.Source())
	}
}

func BenchmarkPipeline_WarpParser(b *testing.B) {
	input := strings.Repeat(" -  PUT Average: 617 Obj/s, 617.3MiB/s; Current 606 Obj/s\n", 1000) + sampleReport
	for i := 0; i < b.N; i++ {
		runPipeline(NewPipeline("bench", 2000, 0.01), NewWarpParser(), input, nil)
	}
}
