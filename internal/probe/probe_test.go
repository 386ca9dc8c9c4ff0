package probe

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"
)

// freeAddr returns a loopback address that nothing is listening on.
func freeAddr(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return "127.0.0.1", port
}

func TestWaitReady_Listening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	p := New(0, 0, nil)
	start := time.Now()
	if !p.WaitReady(context.Background(), "127.0.0.1", port, 2*time.Second) {
		t.Fatal("WaitReady() = false for a listening port")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("WaitReady took %v on a listening port", elapsed)
	}
}

func TestWaitReady_LateListener(t *testing.T) {
	host, port := freeAddr(t)
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	go func() {
		time.Sleep(300 * time.Millisecond)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return
		}
		time.Sleep(2 * time.Second)
		ln.Close()
	}()

	p := New(100*time.Millisecond, 50*time.Millisecond, nil)
	if !p.WaitReady(context.Background(), host, port, 2*time.Second) {
		t.Error("WaitReady() = false, listener appeared within the timeout")
	}
}

func TestWaitReady_TimeoutBounds(t *testing.T) {
	host, port := freeAddr(t)

	const (
		timeout  = 400 * time.Millisecond
		interval = 100 * time.Millisecond
		slack    = 150 * time.Millisecond
	)

	p := New(DefaultDialTimeout, interval, nil)
	start := time.Now()
	ready := p.WaitReady(context.Background(), host, port, timeout)
	elapsed := time.Since(start)

	if ready {
		t.Fatal("WaitReady() = true with nothing listening")
	}
	if elapsed < timeout {
		t.Errorf("returned after %v, before the %v timeout", elapsed, timeout)
	}
	if elapsed > timeout+interval+slack {
		t.Errorf("returned after %v, want at most %v", elapsed, timeout+interval+slack)
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	host, port := freeAddr(t)
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	p := New(0, 0, nil)
	start := time.Now()
	err := p.Wait(ctx, addr, 10*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancelled wait took %v", elapsed)
	}
}

func TestWait_NotReadyError(t *testing.T) {
	host, port := freeAddr(t)
	p := New(50*time.Millisecond, 20*time.Millisecond, nil)

	err := p.Wait(context.Background(), net.JoinHostPort(host, strconv.Itoa(port)), 100*time.Millisecond)
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("Wait() error = %v, want ErrNotReady", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	p := New(0, -1, nil)
	if p.DialTimeout != DefaultDialTimeout {
		t.Errorf("DialTimeout = %v, want %v", p.DialTimeout, DefaultDialTimeout)
	}
	if p.Interval != DefaultInterval {
		t.Errorf("Interval = %v, want %v", p.Interval, DefaultInterval)
	}
	if p.Logger == nil {
		t.Error("Logger is nil")
	}
}
