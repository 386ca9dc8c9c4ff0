package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// Server exposes /metrics, /health and, once a collector is attached,
// a JSON run summary on /summary.
type Server struct {
	addr   string
	mux    *http.ServeMux
	server *http.Server
	logger *slog.Logger
}

// NewServer creates a metrics server for the default gatherer.
func NewServer(addr string, logger *slog.Logger) *Server {
	return NewServerWithGatherer(addr, prometheus.DefaultGatherer, logger)
}

// NewServerWithGatherer creates a metrics server exposing gatherer.
func NewServerWithGatherer(addr string, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/healthz", healthHandler)

	return &Server{
		addr:   addr,
		mux:    mux,
		logger: logger,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       30 * time.Second,
		},
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "ok")
}

// summaryResponse is the /summary body.
type summaryResponse struct {
	ElapsedSeconds float64        `json:"elapsed_seconds"`
	Measured       int            `json:"measured"`
	Statuses       map[string]int `json:"statuses"`
	Fastest        *versionRate   `json:"fastest,omitempty"`
	Slowest        *versionRate   `json:"slowest,omitempty"`
}

type versionRate struct {
	Version string  `json:"version"`
	MiBps   float64 `json:"mib_per_second"`
}

// ServeSummary publishes c's run summary on /summary.
func (s *Server) ServeSummary(c *Collector) {
	s.mux.HandleFunc("/summary", func(w http.ResponseWriter, _ *http.Request) {
		sum := c.GenerateSummary()
		resp := summaryResponse{
			ElapsedSeconds: sum.Duration.Seconds(),
			Measured:       sum.Measured,
			Statuses:       sum.Statuses,
		}
		if sum.Measured > 0 {
			resp.Fastest = &versionRate{sum.Best, sum.BestMiBps}
			resp.Slowest = &versionRate{sum.Worst, sum.WorstMiBps}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			s.logger.Debug("summary_encode_failed", "error", err)
		}
	})
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("metrics_server_starting", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		err := s.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.logger.Error("metrics_server_error", "error", err)
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Debug("metrics_server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Handler returns the HTTP handler; useful with httptest.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}
