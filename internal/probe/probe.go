// Package probe waits for a TCP endpoint to accept connections.
package probe

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"time"
)

const (
	// DefaultDialTimeout bounds a single connection attempt.
	DefaultDialTimeout = 500 * time.Millisecond

	// DefaultInterval is the pause between failed attempts.
	DefaultInterval = 200 * time.Millisecond

	// minDial keeps the final attempt meaningful when the deadline is close.
	minDial = 10 * time.Millisecond
)

// ErrNotReady is returned when the endpoint did not accept a connection in time.
var ErrNotReady = errors.New("endpoint not ready")

// Prober polls an address until a TCP connection succeeds.
type Prober struct {
	DialTimeout time.Duration
	Interval    time.Duration
	Logger      *slog.Logger
}

// New creates a prober. Zero durations select the defaults.
func New(dialTimeout, interval time.Duration, logger *slog.Logger) *Prober {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Prober{DialTimeout: dialTimeout, Interval: interval, Logger: logger}
}

// WaitReady reports whether host:port accepted a connection within timeout.
// A failed wait returns no sooner than timeout and no later than about one
// interval past it. Cancelling ctx ends the wait with false.
func (p *Prober) WaitReady(ctx context.Context, host string, port int, timeout time.Duration) bool {
	return p.Wait(ctx, net.JoinHostPort(host, strconv.Itoa(port)), timeout) == nil
}

// Wait is WaitReady for a host:port address, returning ErrNotReady or the
// context error on failure.
func (p *Prober) Wait(ctx context.Context, addr string, timeout time.Duration) error {
	start := time.Now()
	deadline := start.Add(timeout)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		dial := p.DialTimeout
		if remaining := time.Until(deadline); remaining < dial {
			dial = max(remaining, minDial)
		}

		d := net.Dialer{Timeout: dial}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			p.Logger.Debug("endpoint_ready",
				"addr", addr,
				"attempts", attempt,
				"elapsed", time.Since(start),
			)
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.Logger.Debug("endpoint_not_ready",
				"addr", addr,
				"attempts", attempt,
				"last_error", err,
			)
			return ErrNotReady
		}

		timer := time.NewTimer(min(p.Interval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
