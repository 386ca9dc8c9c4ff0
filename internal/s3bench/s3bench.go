// Package s3bench times object uploads and downloads against a running
// S3-compatible server.
package s3bench

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
)

// Operations timed per object size.
const (
	OpPut = "put"
	OpGet = "get"
)

// ErrShortRead is returned when a download returns fewer bytes than were
// uploaded.
var ErrShortRead = errors.New("object read shorter than written")

// ObjectStore is the subset of an S3 client the benchmark needs.
type ObjectStore interface {
	EnsureBucket(ctx context.Context, bucket string) error
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error
	// Get downloads the object fully and returns the byte count.
	Get(ctx context.Context, bucket, key string) (int64, error)
	Remove(ctx context.Context, bucket, key string) error
}

// Config controls a benchmark run.
type Config struct {
	Bucket string
	// Sizes are human readable object sizes, e.g. "10MiB".
	Sizes      []string
	Iterations int
	Parallel   int
	// Keep leaves benchmark objects in the bucket.
	Keep   bool
	Logger *slog.Logger
}

// OpReport summarises the timings of one operation at one size.
type OpReport struct {
	Op      string
	Size    uint64
	Count   int
	Min     time.Duration
	Mean    time.Duration
	P50     time.Duration
	P90     time.Duration
	P99     time.Duration
	Max     time.Duration
	Elapsed time.Duration
	// MiBps is total bytes moved divided by the wall time of the batch.
	MiBps float64
}

// Bench runs put/get round trips through an ObjectStore.
type Bench struct {
	store  ObjectStore
	cfg    Config
	logger *slog.Logger
}

// New creates a Bench.
func New(store ObjectStore, cfg Config) *Bench {
	if cfg.Iterations < 1 {
		cfg.Iterations = 1
	}
	if cfg.Parallel < 1 {
		cfg.Parallel = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bench{store: store, cfg: cfg, logger: logger}
}

// ParseSizes converts human readable sizes to bytes.
func ParseSizes(sizes []string) ([]uint64, error) {
	out := make([]uint64, 0, len(sizes))
	for _, s := range sizes {
		n, err := humanize.ParseBytes(s)
		if err != nil {
			return nil, fmt.Errorf("object size %q: %w", s, err)
		}
		if n == 0 {
			return nil, fmt.Errorf("object size %q: must be positive", s)
		}
		out = append(out, n)
	}
	return out, nil
}

// Run benchmarks every configured size. For each size all puts complete
// before the gets start, so every get reads an object written in this run.
func (b *Bench) Run(ctx context.Context) ([]OpReport, error) {
	sizes, err := ParseSizes(b.cfg.Sizes)
	if err != nil {
		return nil, err
	}
	if err := b.store.EnsureBucket(ctx, b.cfg.Bucket); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", b.cfg.Bucket, err)
	}

	var reports []OpReport
	for _, size := range sizes {
		payload := bytes.Repeat([]byte{'x'}, int(size))
		keys := make([]string, b.cfg.Iterations)
		for i := range keys {
			keys[i] = fmt.Sprintf("vbench-%s-%d", humanize.IBytes(size), i)
		}

		put, err := b.batch(ctx, OpPut, size, keys, func(ctx context.Context, key string) error {
			return b.store.Put(ctx, b.cfg.Bucket, key, bytes.NewReader(payload), int64(size))
		})
		if err != nil {
			return reports, err
		}
		reports = append(reports, put)

		get, err := b.batch(ctx, OpGet, size, keys, func(ctx context.Context, key string) error {
			n, err := b.store.Get(ctx, b.cfg.Bucket, key)
			if err != nil {
				return err
			}
			if n != int64(size) {
				return fmt.Errorf("%s: %w (%d of %d bytes)", key, ErrShortRead, n, size)
			}
			return nil
		})
		if err != nil {
			return reports, err
		}
		reports = append(reports, get)

		if !b.cfg.Keep {
			for _, key := range keys {
				if err := b.store.Remove(ctx, b.cfg.Bucket, key); err != nil {
					b.logger.Warn("s3bench_remove_failed", "key", key, "error", err)
				}
			}
		}
	}
	return reports, nil
}

// batch runs op once per key with at most Parallel in flight.
func (b *Bench) batch(ctx context.Context, op string, size uint64, keys []string, fn func(context.Context, string) error) (OpReport, error) {
	var (
		mu        sync.Mutex
		durations = make([]time.Duration, 0, len(keys))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Parallel)

	start := time.Now()
	for _, key := range keys {
		g.Go(func() error {
			t0 := time.Now()
			if err := fn(gctx, key); err != nil {
				return fmt.Errorf("%s %s: %w", op, key, err)
			}
			d := time.Since(t0)
			mu.Lock()
			durations = append(durations, d)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return OpReport{}, err
	}
	elapsed := time.Since(start)

	r, err := summarize(op, size, durations, elapsed)
	if err != nil {
		return OpReport{}, err
	}
	b.logger.Info("s3bench_batch",
		"op", op,
		"size", humanize.IBytes(size),
		"count", r.Count,
		"p50", r.P50,
		"mibps", r.MiBps,
	)
	return r, nil
}

func summarize(op string, size uint64, durations []time.Duration, elapsed time.Duration) (OpReport, error) {
	data := make(stats.Float64Data, len(durations))
	for i, d := range durations {
		data[i] = float64(d)
	}

	r := OpReport{Op: op, Size: size, Count: len(durations), Elapsed: elapsed}
	for _, f := range []struct {
		dst *time.Duration
		fn  func() (float64, error)
	}{
		{&r.Min, data.Min},
		{&r.Max, data.Max},
		{&r.Mean, data.Mean},
		{&r.P50, func() (float64, error) { return data.Percentile(50) }},
		{&r.P90, func() (float64, error) { return data.Percentile(90) }},
		{&r.P99, func() (float64, error) { return data.Percentile(99) }},
	} {
		v, err := f.fn()
		if err != nil {
			return r, fmt.Errorf("summarize %s: %w", op, err)
		}
		*f.dst = time.Duration(v)
	}

	if elapsed > 0 {
		r.MiBps = float64(size) * float64(r.Count) / elapsed.Seconds() / (1 << 20)
	}
	return r, nil
}

// PrintReport writes the reports as an aligned table.
func PrintReport(w io.Writer, reports []OpReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OP\tSIZE\tN\tMIN\tMEAN\tP50\tP90\tP99\tMAX\tMiB/s")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%.2f\n",
			r.Op, humanize.IBytes(r.Size), r.Count,
			round(r.Min), round(r.Mean), round(r.P50), round(r.P90), round(r.P99), round(r.Max),
			r.MiBps)
	}
	tw.Flush()
}

func round(d time.Duration) time.Duration {
	switch {
	case d >= time.Second:
		return d.Round(time.Millisecond)
	case d >= time.Millisecond:
		return d.Round(10 * time.Microsecond)
	default:
		return d.Round(time.Microsecond)
	}
}
