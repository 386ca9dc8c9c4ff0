package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/influxdata/tdigest"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Server-side metric families read from the object server's Prometheus
// endpoint. All are counters summed across labels.
const (
	FamilyRequests     = "minio_s3_requests_total"
	FamilyErrors       = "minio_s3_requests_errors_total"
	FamilyReceived     = "minio_s3_traffic_received_bytes"
	FamilySent         = "minio_s3_traffic_sent_bytes"
	minScrapeWindow    = 4 * time.Second
	maxScrapeWindow    = 300 * time.Second
	digestCompression  = 100
	cleanupSampleLimit = 20
)

// ServerMetrics contains rates derived from the server under test.
type ServerMetrics struct {
	RequestRate float64 // requests/sec (instantaneous)
	ErrorRate   float64
	RxRate      float64 // bytes/sec
	TxRate      float64 // bytes/sec

	// Rolling window percentiles
	RequestP50    float64
	RequestMax    float64
	RxP50         float64
	TxP50         float64
	WindowSeconds int

	LastUpdate time.Time
	Healthy    bool
	Error      string
}

// ServerScraper polls the server's metrics endpoint and turns its
// counters into rates. Reads are lock-free through atomic.Value.
type ServerScraper struct {
	url        string
	interval   time.Duration
	logger     *slog.Logger
	httpClient *http.Client

	metrics atomic.Value // *ServerMetrics

	// Rate calculation state, touched only by the scrape goroutine.
	prev     map[string]float64
	prevTime time.Time

	reqWindow *rollingWindow
	rxWindow  *rollingWindow
	txWindow  *rollingWindow
}

// NewServerScraper creates a scraper for url. Returns nil if url is empty
// (feature disabled); every method accepts a nil receiver.
func NewServerScraper(url string, interval, window time.Duration, logger *slog.Logger) *ServerScraper {
	if url == "" {
		return nil
	}
	if window < minScrapeWindow {
		window = minScrapeWindow
	}
	if window > maxScrapeWindow {
		window = maxScrapeWindow
	}
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &ServerScraper{
		url:        url,
		interval:   interval,
		logger:     logger,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		prev:       make(map[string]float64),
		reqWindow:  newRollingWindow(window),
		rxWindow:   newRollingWindow(window),
		txWindow:   newRollingWindow(window),
	}
	s.metrics.Store(&ServerMetrics{Error: "Not yet scraped"})
	return s
}

// Run scrapes until ctx is done. onScrape, when non-nil, receives every
// snapshot.
func (s *ServerScraper) Run(ctx context.Context, onScrape func(*ServerMetrics)) {
	if s == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Scrape(ctx)
		if onScrape != nil {
			onScrape(s.GetMetrics())
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Reset forgets counter history so the next scrape starts a new rate
// baseline. Call it when a new server process replaces the old one.
// Must not run concurrently with Scrape.
func (s *ServerScraper) Reset() {
	if s == nil {
		return
	}
	s.prev = make(map[string]float64)
	s.prevTime = time.Time{}
	s.reqWindow.reset()
	s.rxWindow.reset()
	s.txWindow.reset()
	s.metrics.Store(&ServerMetrics{Error: "Not yet scraped"})
}

// GetMetrics returns a copy of the latest snapshot with window percentiles.
func (s *ServerScraper) GetMetrics() *ServerMetrics {
	if s == nil {
		return nil
	}
	m := *s.metrics.Load().(*ServerMetrics)
	now := time.Now()
	m.RequestP50, m.RequestMax = s.reqWindow.stats(now)
	m.RxP50, _ = s.rxWindow.stats(now)
	m.TxP50, _ = s.txWindow.stats(now)
	m.WindowSeconds = int(s.reqWindow.size.Seconds())
	return &m
}

// Scrape performs one scrape. Failed scrapes keep the previous rates and
// mark the snapshot unhealthy.
func (s *ServerScraper) Scrape(ctx context.Context) {
	if s == nil {
		return
	}
	now := time.Now()
	last := s.metrics.Load().(*ServerMetrics)
	next := &ServerMetrics{
		RequestRate: last.RequestRate,
		ErrorRate:   last.ErrorRate,
		RxRate:      last.RxRate,
		TxRate:      last.TxRate,
		LastUpdate:  now,
	}

	families, err := s.fetch(ctx)
	if err != nil {
		next.Error = err.Error()
		s.logger.Debug("server_scrape_error", "url", s.url, "error", err)
		s.metrics.Store(next)
		return
	}

	totals := map[string]float64{
		FamilyRequests: SumCounter(families, FamilyRequests),
		FamilyErrors:   SumCounter(families, FamilyErrors),
		FamilyReceived: SumCounter(families, FamilyReceived),
		FamilySent:     SumCounter(families, FamilySent),
	}

	if !s.prevTime.IsZero() {
		if dt := now.Sub(s.prevTime).Seconds(); dt > 0 {
			next.RequestRate = counterRate(totals[FamilyRequests], s.prev[FamilyRequests], dt)
			next.ErrorRate = counterRate(totals[FamilyErrors], s.prev[FamilyErrors], dt)
			next.RxRate = counterRate(totals[FamilyReceived], s.prev[FamilyReceived], dt)
			next.TxRate = counterRate(totals[FamilySent], s.prev[FamilySent], dt)
			s.reqWindow.add(next.RequestRate, now)
			s.rxWindow.add(next.RxRate, now)
			s.txWindow.add(next.TxRate, now)
		}
	}
	s.prev = totals
	s.prevTime = now

	next.Healthy = true
	s.metrics.Store(next)
}

func (s *ServerScraper) fetch(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return DecodeFamilies(resp.Body)
}

// DecodeFamilies parses the Prometheus text exposition format.
func DecodeFamilies(r io.Reader) (map[string]*dto.MetricFamily, error) {
	decoder := expfmt.NewDecoder(r, expfmt.FmtText)
	families := make(map[string]*dto.MetricFamily)
	for {
		var mf dto.MetricFamily
		if err := decoder.Decode(&mf); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode error: %w", err)
		}
		families[mf.GetName()] = &mf
	}
	return families, nil
}

// SumCounter adds up every sample of a family. Counters, gauges and
// untyped samples are all accepted since servers are not consistent
// about the declared type.
func SumCounter(families map[string]*dto.MetricFamily, name string) float64 {
	mf, ok := families[name]
	if !ok {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.GetCounter().GetValue()
		case m.Gauge != nil:
			total += m.GetGauge().GetValue()
		case m.Untyped != nil:
			total += m.GetUntyped().GetValue()
		}
	}
	return total
}

// counterRate returns the per-second increase. A decrease means the
// counter was reset (server restart) and yields 0.
func counterRate(cur, prev, seconds float64) float64 {
	if cur < prev {
		return 0
	}
	return (cur - prev) / seconds
}

// =============================================================================
// Rolling window
// =============================================================================

type windowSample struct {
	value float64
	time  time.Time
}

// rollingWindow tracks samples over a time window with a T-Digest for
// percentiles. The digest is rebuilt only when samples expire.
type rollingWindow struct {
	size time.Duration

	mu        sync.Mutex
	digest    *tdigest.TDigest
	samples   []windowSample
	lastClean time.Time
}

func newRollingWindow(size time.Duration) *rollingWindow {
	return &rollingWindow{
		size:      size,
		digest:    tdigest.NewWithCompression(digestCompression),
		lastClean: time.Now(),
	}
}

func (w *rollingWindow) add(v float64, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.digest.Add(v, 1)
	w.samples = append(w.samples, windowSample{value: v, time: now})
	if len(w.samples) > cleanupSampleLimit || now.Sub(w.lastClean) > w.size/3 {
		w.cleanup(now)
	}
}

// stats returns the median and max of samples inside the window.
func (w *rollingWindow) stats(now time.Time) (p50, max float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cleanup(now)
	if len(w.samples) == 0 {
		return 0, 0
	}
	max = w.samples[0].value
	for _, s := range w.samples {
		if s.value > max {
			max = s.value
		}
	}
	return w.digest.Quantile(0.50), max
}

func (w *rollingWindow) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = nil
	w.digest = tdigest.NewWithCompression(digestCompression)
}

// cleanup drops expired samples. Caller holds mu.
func (w *rollingWindow) cleanup(now time.Time) {
	cutoff := now.Add(-w.size)
	valid := w.samples[:0]
	expired := 0
	for _, s := range w.samples {
		if s.time.After(cutoff) {
			valid = append(valid, s)
		} else {
			expired++
		}
	}
	if expired > 0 {
		w.digest = tdigest.NewWithCompression(digestCompression)
		for _, s := range valid {
			w.digest.Add(s.value, 1)
		}
	}
	w.samples = valid
	w.lastClean = now
}
