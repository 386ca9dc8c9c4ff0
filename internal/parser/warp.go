package parser

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Lines of a warp report this parser understands:
//
//	Report: PUT. Concurrency: 32. Ran: 19s
//	 * Average: 617.31 MiB/s, 617.31 obj/s
//	 * Reqs: Avg: 51.8ms, 50%: 48.8ms, 90%: 68.6ms, 99%: 109.5ms, Fastest: 14.2ms, Slowest: 327.5ms, StdDev: 15.8ms
//	 * Fastest: 651.4MiB/s, 651.40 obj/s
//	 * 50% Median: 618.6MiB/s, 618.60 obj/s
//	 * Slowest: 574.4MiB/s, 574.35 obj/s
var (
	averageRe = regexp.MustCompile(`^\s*\*\s*Average:\s*([\d.]+)\s*(KiB|MiB|GiB)/s(?:,\s*([\d.]+)\s*obj/s)?`)
	reportRe  = regexp.MustCompile(`^Report:\s*(\w+)\.\s*Concurrency:\s*(\d+)\.\s*Ran:\s*(\S+)`)
	reqsRe    = regexp.MustCompile(`^\s*\*\s*Reqs:\s*(.+)$`)
	splitRe   = regexp.MustCompile(`^\s*\*\s*(Fastest|50% Median|Slowest):\s*([\d.]+)\s*(KiB|MiB|GiB)/s`)
)

// WarpSummary is what a single warp benchmark reported.
type WarpSummary struct {
	Operation   string
	Concurrency int
	Ran         time.Duration

	HasAverage       bool
	AverageMiBps     float64
	AverageObjPerSec float64

	ReqAvg     time.Duration
	ReqP50     time.Duration
	ReqP90     time.Duration
	ReqP99     time.Duration
	ReqFastest time.Duration
	ReqSlowest time.Duration

	FastestMiBps float64
	MedianMiBps  float64
	SlowestMiBps float64
}

// WarpParser extracts a WarpSummary from warp output. Only the first
// report section is used; mixed workloads print one per operation.
type WarpParser struct {
	mu      sync.Mutex
	summary WarpSummary
	inFirst bool
	done    bool
	lines   int64
}

// NewWarpParser creates a parser.
func NewWarpParser() *WarpParser {
	return &WarpParser{}
}

// ParseLine implements LineParser.
func (p *WarpParser) ParseLine(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lines++

	if m := reportRe.FindStringSubmatch(line); m != nil {
		if p.inFirst || p.done {
			p.done = true
			p.inFirst = false
			return
		}
		p.inFirst = true
		p.summary.Operation = m[1]
		p.summary.Concurrency, _ = strconv.Atoi(m[2])
		p.summary.Ran, _ = time.ParseDuration(m[3])
		return
	}

	if !p.summary.HasAverage {
		if m := averageRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				p.summary.HasAverage = true
				p.summary.AverageMiBps = toMiB(v, m[2])
				if m[3] != "" {
					p.summary.AverageObjPerSec, _ = strconv.ParseFloat(m[3], 64)
				}
			}
			return
		}
	}

	if p.done {
		return
	}

	if m := reqsRe.FindStringSubmatch(line); m != nil {
		p.parseReqs(m[1])
		return
	}

	if m := splitRe.FindStringSubmatch(line); m != nil {
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return
		}
		v = toMiB(v, m[3])
		switch m[1] {
		case "Fastest":
			p.summary.FastestMiBps = v
		case "50% Median":
			p.summary.MedianMiBps = v
		case "Slowest":
			p.summary.SlowestMiBps = v
		}
	}
}

// parseReqs handles "Avg: 51.8ms, 50%: 48.8ms, 90%: 68.6ms, ...".
func (p *WarpParser) parseReqs(rest string) {
	for _, field := range strings.Split(rest, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(field), ":")
		if !ok {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(val))
		if err != nil {
			continue
		}
		switch strings.TrimSpace(key) {
		case "Avg":
			p.summary.ReqAvg = d
		case "50%":
			p.summary.ReqP50 = d
		case "90%":
			p.summary.ReqP90 = d
		case "99%":
			p.summary.ReqP99 = d
		case "Fastest":
			p.summary.ReqFastest = d
		case "Slowest":
			p.summary.ReqSlowest = d
		}
	}
}

func toMiB(v float64, unit string) float64 {
	switch unit {
	case "KiB":
		return v / 1024
	case "GiB":
		return v * 1024
	default:
		return v
	}
}

// Summary returns a copy of what has been parsed so far.
func (p *WarpParser) Summary() WarpSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.summary
}

// LinesParsed returns the number of lines seen.
func (p *WarpParser) LinesParsed() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lines
}
