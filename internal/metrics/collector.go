// Package metrics provides Prometheus metrics for minio-version-bench.
//
// The harness exports one gauge family per benchmarked version plus
// lifecycle counters (launches, reaps, cleanups, readiness waits). When
// server scraping is enabled the server's own request and traffic rates
// are mirrored as gauges during each benchmark.
package metrics

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vbench"

// Collector manages all Prometheus metrics for one harness run.
// A nil *Collector is valid and records nothing.
type Collector struct {
	info              *prometheus.GaugeVec
	versionsTotal     prometheus.Gauge
	versionsDone      *prometheus.CounterVec
	currentVersion    *prometheus.GaugeVec
	versionMiBps      *prometheus.GaugeVec
	versionObjPerSec  *prometheus.GaugeVec
	versionLatency    *prometheus.GaugeVec
	versionDuration   *prometheus.GaugeVec
	readySeconds      prometheus.Histogram
	serverStarts      prometheus.Counter
	serverExits       *prometheus.CounterVec
	reapedProcs       prometheus.Counter
	reapSurvivors     prometheus.Counter
	volumeEntries     *prometheus.CounterVec
	benchLinesDropped prometheus.Counter
	serverReqRate     prometheus.Gauge
	serverRxRate      prometheus.Gauge
	serverTxRate      prometheus.Gauge
	serverErrRate     prometheus.Gauge
	serverScrapeOK    prometheus.Gauge

	startTime time.Time

	mu       sync.Mutex
	statuses map[string]int
	results  map[string]float64
	current  string
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	HarnessVersion string
	TotalVersions  int
	Operation      string
}

// NewCollector creates a collector registered with the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Information about the harness run (value always 1)",
		}, []string{"harness_version", "operation"}),
		versionsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "versions",
			Help:      "Number of versions scheduled in this run",
		}),
		versionsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "versions_completed_total",
			Help:      "Versions finished, by outcome status",
		}, []string{"status"}),
		currentVersion: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_version",
			Help:      "Version currently under test (value 1 while active)",
		}, []string{"version"}),
		versionMiBps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "version_throughput_mib_per_second",
			Help:      "Average benchmark throughput per version",
		}, []string{"version"}),
		versionObjPerSec: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "version_objects_per_second",
			Help:      "Average benchmark object rate per version",
		}, []string{"version"}),
		versionLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "version_request_latency_seconds",
			Help:      "Benchmark request latency per version",
		}, []string{"version", "quantile"}),
		versionDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "version_iteration_seconds",
			Help:      "Wall time of one version iteration including teardown",
		}, []string{"version"}),
		readySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "server_ready_seconds",
			Help:      "Time from server launch until its port accepted connections",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40},
		}),
		serverStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_starts_total",
			Help:      "Server processes launched",
		}),
		serverExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_exits_total",
			Help:      "Server process exits by category",
		}, []string{"category"}),
		reapedProcs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaped_processes_total",
			Help:      "Stray server processes killed by the reaper",
		}),
		reapSurvivors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reap_survivors_total",
			Help:      "Processes still running after a reap",
		}),
		volumeEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "volume_entries_total",
			Help:      "Data directory entries handled by the cleaner, by outcome",
		}, []string{"outcome"}),
		benchLinesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bench_output_lines_dropped_total",
			Help:      "Benchmark output lines dropped by the parser pipeline",
		}),
		serverReqRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_requests_per_second",
			Help:      "S3 request rate scraped from the server under test",
		}),
		serverRxRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_received_bytes_per_second",
			Help:      "Bytes/s received by the server under test",
		}),
		serverTxRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_sent_bytes_per_second",
			Help:      "Bytes/s sent by the server under test",
		}),
		serverErrRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_request_errors_per_second",
			Help:      "S3 request error rate scraped from the server under test",
		}),
		serverScrapeOK: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_scrape_healthy",
			Help:      "1 if the last server metrics scrape succeeded",
		}),
		startTime: time.Now(),
		statuses:  make(map[string]int),
		results:   make(map[string]float64),
	}

	registry.MustRegister(
		c.info,
		c.versionsTotal,
		c.versionsDone,
		c.currentVersion,
		c.versionMiBps,
		c.versionObjPerSec,
		c.versionLatency,
		c.versionDuration,
		c.readySeconds,
		c.serverStarts,
		c.serverExits,
		c.reapedProcs,
		c.reapSurvivors,
		c.volumeEntries,
		c.benchLinesDropped,
		c.serverReqRate,
		c.serverRxRate,
		c.serverTxRate,
		c.serverErrRate,
		c.serverScrapeOK,
	)

	c.info.WithLabelValues(cfg.HarnessVersion, cfg.Operation).Set(1)
	c.versionsTotal.Set(float64(cfg.TotalVersions))

	return c
}

// =============================================================================
// Version lifecycle
// =============================================================================

// VersionStarted marks version as the one under test.
func (c *Collector) VersionStarted(version string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.current != "" {
		c.currentVersion.DeleteLabelValues(c.current)
	}
	c.current = version
	c.mu.Unlock()
	c.currentVersion.WithLabelValues(version).Set(1)
}

// VersionFinished records the outcome status of a version iteration.
func (c *Collector) VersionFinished(version, status string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.versionsDone.WithLabelValues(status).Inc()
	c.versionDuration.WithLabelValues(version).Set(elapsed.Seconds())

	c.mu.Lock()
	c.statuses[status]++
	if c.current == version {
		c.currentVersion.DeleteLabelValues(version)
		c.current = ""
	}
	c.mu.Unlock()
}

// BenchResult holds the per-version benchmark figures exported as gauges.
// This mirrors bench.Result to avoid an import cycle.
type BenchResult struct {
	MiBps        float64
	ObjPerSec    float64
	ReqAvg       time.Duration
	ReqP50       time.Duration
	ReqP90       time.Duration
	ReqP99       time.Duration
	DroppedLines int64
}

// RecordBench exports a successful benchmark result.
func (c *Collector) RecordBench(version string, r BenchResult) {
	if c == nil {
		return
	}
	c.versionMiBps.WithLabelValues(version).Set(r.MiBps)
	c.versionObjPerSec.WithLabelValues(version).Set(r.ObjPerSec)
	for q, d := range map[string]time.Duration{
		"avg": r.ReqAvg, "0.5": r.ReqP50, "0.9": r.ReqP90, "0.99": r.ReqP99,
	} {
		if d > 0 {
			c.versionLatency.WithLabelValues(version, q).Set(d.Seconds())
		}
	}
	if r.DroppedLines > 0 {
		c.benchLinesDropped.Add(float64(r.DroppedLines))
	}

	c.mu.Lock()
	c.results[version] = r.MiBps
	c.mu.Unlock()
}

// =============================================================================
// Server lifecycle
// =============================================================================

// ServerStarted records a server launch.
func (c *Collector) ServerStarted() {
	if c == nil {
		return
	}
	c.serverStarts.Inc()
}

// ServerReady records how long the server took to accept connections.
func (c *Collector) ServerReady(d time.Duration) {
	if c == nil {
		return
	}
	c.readySeconds.Observe(d.Seconds())
}

// RecordExit records a server process exit.
func (c *Collector) RecordExit(exitCode int) {
	if c == nil {
		return
	}
	c.serverExits.WithLabelValues(ExitCategory(exitCode)).Inc()
}

// ExitCategory buckets an exit code into success, signal or error.
func ExitCategory(exitCode int) string {
	switch {
	case exitCode == 0:
		return "success"
	case exitCode > 128:
		return "signal"
	default:
		return "error"
	}
}

// RecordReap records the kills and survivors of one reap.
func (c *Collector) RecordReap(killed, survivors int) {
	if c == nil {
		return
	}
	c.reapedProcs.Add(float64(killed))
	c.reapSurvivors.Add(float64(survivors))
}

// RecordClean records cleaner entry outcomes, keyed by outcome name.
func (c *Collector) RecordClean(counts map[string]int) {
	if c == nil {
		return
	}
	for outcome, n := range counts {
		if n > 0 {
			c.volumeEntries.WithLabelValues(outcome).Add(float64(n))
		}
	}
}

// RecordServerRates mirrors the latest scrape of the server under test.
func (c *Collector) RecordServerRates(m *ServerMetrics) {
	if c == nil || m == nil {
		return
	}
	if !m.Healthy {
		c.serverScrapeOK.Set(0)
		return
	}
	c.serverScrapeOK.Set(1)
	c.serverReqRate.Set(m.RequestRate)
	c.serverRxRate.Set(m.RxRate)
	c.serverTxRate.Set(m.TxRate)
	c.serverErrRate.Set(m.ErrorRate)
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds the data for generating an exit summary.
type Summary struct {
	Duration   time.Duration
	Statuses   map[string]int
	Best       string
	BestMiBps  float64
	Worst      string
	WorstMiBps float64
	Measured   int
}

// GenerateSummary creates a summary of the run.
func (c *Collector) GenerateSummary() *Summary {
	if c == nil {
		return &Summary{Statuses: map[string]int{}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration: time.Since(c.startTime),
		Statuses: make(map[string]int, len(c.statuses)),
		Measured: len(c.results),
	}
	for k, v := range c.statuses {
		s.Statuses[k] = v
	}

	versions := make([]string, 0, len(c.results))
	for v := range c.results {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	for i, v := range versions {
		mibps := c.results[v]
		if i == 0 || mibps > s.BestMiBps {
			s.Best, s.BestMiBps = v, mibps
		}
		if i == 0 || mibps < s.WorstMiBps {
			s.Worst, s.WorstMiBps = v, mibps
		}
	}
	return s
}

// StatusLine renders the status counts as "ok=3 skipped=1".
func (s *Summary) StatusLine() string {
	keys := make([]string, 0, len(s.Statuses))
	for k := range s.Statuses {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		out += k + "=" + strconv.Itoa(s.Statuses[k])
	}
	return out
}
