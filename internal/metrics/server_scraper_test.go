package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeServerMetrics serves counters that grow by step on every request.
type fakeServerMetrics struct {
	requests atomic.Int64
	step     int64
	status   atomic.Int32
}

func (f *fakeServerMetrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if code := f.status.Load(); code != 0 {
		w.WriteHeader(int(code))
		return
	}
	n := f.requests.Add(f.step)
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, `# HELP minio_s3_requests_total Total number S3 requests
# TYPE minio_s3_requests_total counter
minio_s3_requests_total{api="putobject",server="127.0.0.1:9000"} %d
minio_s3_requests_total{api="getobject",server="127.0.0.1:9000"} %d
# HELP minio_s3_requests_errors_total Total number S3 requests with errors
# TYPE minio_s3_requests_errors_total counter
minio_s3_requests_errors_total{api="putobject",server="127.0.0.1:9000"} 0
# HELP minio_s3_traffic_received_bytes Total number of s3 bytes received
# TYPE minio_s3_traffic_received_bytes counter
minio_s3_traffic_received_bytes{server="127.0.0.1:9000"} %d
# HELP minio_s3_traffic_sent_bytes Total number of s3 bytes sent
# TYPE minio_s3_traffic_sent_bytes counter
minio_s3_traffic_sent_bytes{server="127.0.0.1:9000"} %d
`, n, n, n*1024, n*10)
}

func TestNewServerScraper_Disabled(t *testing.T) {
	s := NewServerScraper("", time.Second, 30*time.Second, nil)
	if s != nil {
		t.Fatal("NewServerScraper(\"\") != nil")
	}
	// nil receiver is safe
	s.Scrape(context.Background())
	s.Reset()
	s.Run(context.Background(), nil)
	if s.GetMetrics() != nil {
		t.Error("nil GetMetrics() != nil")
	}
}

func TestServerScraper_FirstScrapeHasNoRate(t *testing.T) {
	fake := &fakeServerMetrics{step: 100}
	ts := httptest.NewServer(fake)
	defer ts.Close()

	s := NewServerScraper(ts.URL, time.Second, 30*time.Second, discardLogger())
	s.Scrape(context.Background())

	m := s.GetMetrics()
	if !m.Healthy {
		t.Fatalf("Healthy = false, Error = %q", m.Error)
	}
	if m.RequestRate != 0 {
		t.Errorf("RequestRate = %v, want 0 on first scrape", m.RequestRate)
	}
}

func TestServerScraper_Rates(t *testing.T) {
	fake := &fakeServerMetrics{step: 100}
	ts := httptest.NewServer(fake)
	defer ts.Close()

	s := NewServerScraper(ts.URL, time.Second, 30*time.Second, discardLogger())
	s.Scrape(context.Background())
	time.Sleep(50 * time.Millisecond)
	s.Scrape(context.Background())

	m := s.GetMetrics()
	if m.RequestRate <= 0 {
		t.Fatalf("RequestRate = %v, want > 0", m.RequestRate)
	}
	// Two request series each grew by 100; rx grew by 100 KiB.
	if ratio := m.RxRate / m.RequestRate; ratio < 511 || ratio > 513 {
		t.Errorf("RxRate/RequestRate = %v, want 512", ratio)
	}
	if m.ErrorRate != 0 {
		t.Errorf("ErrorRate = %v, want 0", m.ErrorRate)
	}
	if m.RequestP50 <= 0 || m.RequestMax < m.RequestP50 {
		t.Errorf("window p50/max = %v/%v", m.RequestP50, m.RequestMax)
	}
	if m.WindowSeconds != 30 {
		t.Errorf("WindowSeconds = %d, want 30", m.WindowSeconds)
	}
}

func TestServerScraper_HTTPErrorKeepsLastRates(t *testing.T) {
	fake := &fakeServerMetrics{step: 100}
	ts := httptest.NewServer(fake)
	defer ts.Close()

	s := NewServerScraper(ts.URL, time.Second, 30*time.Second, discardLogger())
	s.Scrape(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Scrape(context.Background())
	before := s.GetMetrics().RequestRate

	fake.status.Store(http.StatusForbidden)
	s.Scrape(context.Background())

	m := s.GetMetrics()
	if m.Healthy {
		t.Error("Healthy = true after 403")
	}
	if !strings.Contains(m.Error, "403") {
		t.Errorf("Error = %q, want status code", m.Error)
	}
	if m.RequestRate != before {
		t.Errorf("RequestRate = %v, want last value %v", m.RequestRate, before)
	}
}

func TestServerScraper_ConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	s := NewServerScraper(url, time.Second, 30*time.Second, discardLogger())
	s.Scrape(context.Background())
	if s.GetMetrics().Healthy {
		t.Error("Healthy = true for closed server")
	}
}

func TestServerScraper_ResetStartsNewBaseline(t *testing.T) {
	fake := &fakeServerMetrics{step: 100}
	ts := httptest.NewServer(fake)
	defer ts.Close()

	s := NewServerScraper(ts.URL, time.Second, 30*time.Second, discardLogger())
	s.Scrape(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Scrape(context.Background())

	s.Reset()
	if m := s.GetMetrics(); m.Healthy || m.RequestP50 != 0 {
		t.Errorf("after Reset: Healthy=%v p50=%v, want fresh state", m.Healthy, m.RequestP50)
	}
	s.Scrape(context.Background())
	if got := s.GetMetrics().RequestRate; got != 0 {
		t.Errorf("RequestRate after Reset = %v, want 0", got)
	}
}

func TestServerScraper_RunCallback(t *testing.T) {
	fake := &fakeServerMetrics{step: 1}
	ts := httptest.NewServer(fake)
	defer ts.Close()

	s := NewServerScraper(ts.URL, 20*time.Millisecond, 30*time.Second, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, func(m *ServerMetrics) {
			mu.Lock()
			calls++
			mu.Unlock()
		})
	}()

	time.Sleep(150 * time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if calls < 2 {
		t.Errorf("callback calls = %d, want >= 2", calls)
	}
}

func TestDecodeFamilies(t *testing.T) {
	families, err := DecodeFamilies(strings.NewReader(`# TYPE minio_s3_traffic_sent_bytes gauge
minio_s3_traffic_sent_bytes{server="a"} 10
minio_s3_traffic_sent_bytes{server="b"} 5
some_untyped 3
`))
	if err != nil {
		t.Fatalf("DecodeFamilies() error = %v", err)
	}
	if got := SumCounter(families, FamilySent); got != 15 {
		t.Errorf("SumCounter(sent) = %v, want 15", got)
	}
	if got := SumCounter(families, "some_untyped"); got != 3 {
		t.Errorf("SumCounter(untyped) = %v, want 3", got)
	}
	if got := SumCounter(families, "missing"); got != 0 {
		t.Errorf("SumCounter(missing) = %v, want 0", got)
	}

	if _, err := DecodeFamilies(strings.NewReader("not valid {{{\n")); err == nil {
		t.Error("DecodeFamilies(garbage) succeeded")
	}
}

func TestCounterRate(t *testing.T) {
	if got := counterRate(200, 100, 2); got != 50 {
		t.Errorf("counterRate = %v, want 50", got)
	}
	if got := counterRate(10, 100, 1); got != 0 {
		t.Errorf("counterRate after reset = %v, want 0", got)
	}
}

func TestRollingWindow_Expiration(t *testing.T) {
	w := newRollingWindow(time.Second)
	base := time.Now()
	w.add(10, base.Add(-2*time.Second))
	w.add(20, base.Add(-100*time.Millisecond))
	w.add(30, base)

	p50, max := w.stats(base)
	if max != 30 {
		t.Errorf("max = %v, want 30", max)
	}
	if p50 < 20 || p50 > 30 {
		t.Errorf("p50 = %v, want within [20,30]", p50)
	}

	p50, max = w.stats(base.Add(5 * time.Second))
	if p50 != 0 || max != 0 {
		t.Errorf("expired stats = %v/%v, want 0/0", p50, max)
	}
}
