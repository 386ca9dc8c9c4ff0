package bench

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/go-minio-version-bench/internal/process"
)

// fakeWarp writes a shell script standing in for warp. The client
// subcommand idles until terminated; anything else records its argv and
// environment to argsFile and then runs body.
func fakeWarp(t *testing.T, body string) (path, argsFile string) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	path = filepath.Join(dir, "warp")
	argsFile = filepath.Join(dir, "args")
	script := `#!/bin/sh
if [ "$1" = "client" ]; then
  while :; do sleep 0.1; done
fi
echo "$@" > ` + argsFile + `
echo "key=$WARP_ACCESS_KEY secret=$WARP_SECRET_KEY" >> ` + argsFile + `
` + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path, argsFile
}

func testConfig(path string) WarpConfig {
	cfg := DefaultWarpConfig()
	cfg.Path = path
	cfg.ClientAddr = freeAddr()
	cfg.ClientStartTimeout = 100 * time.Millisecond
	cfg.StopGrace = time.Second
	cfg.Duration = 2 * time.Second
	cfg.AccessKey = "ak"
	cfg.SecretKey = "sk"
	return cfg
}

func freeAddr() string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "127.0.0.1:7761"
	}
	defer ln.Close()
	return ln.Addr().String()
}

func TestBenchSpec(t *testing.T) {
	cfg := DefaultWarpConfig()
	spec := NewWarpRunner(cfg, nil).BenchSpec()

	want := "warp put --warp-client 127.0.0.1:7761 --host 127.0.0.1:9000 --bucket warp-test " +
		"--duration 20s --obj.size 1MiB --concurrent 32 --noclear"
	if got := spec.CommandString(); got != want {
		t.Errorf("BenchSpec() = %q\nwant %q", got, want)
	}

	client := NewWarpRunner(cfg, nil).ClientSpec()
	if got := client.CommandString(); got != "warp client 127.0.0.1:7761" {
		t.Errorf("ClientSpec() = %q", got)
	}
}

func TestBenchSpec_Options(t *testing.T) {
	cfg := DefaultWarpConfig()
	cfg.Operation = "get"
	cfg.NoClear = false
	cfg.ExtraArgs = []string{"--objects", "100"}
	cfg.Duration = 90 * time.Second

	got := NewWarpRunner(cfg, nil).BenchSpec().CommandString()
	if !strings.HasPrefix(got, "warp get ") {
		t.Errorf("operation not first: %q", got)
	}
	if strings.Contains(got, "--noclear") {
		t.Errorf("--noclear present: %q", got)
	}
	if !strings.HasSuffix(got, "--objects 100") || !strings.Contains(got, "--duration 1m30s") {
		t.Errorf("BenchSpec() = %q", got)
	}
}

func TestWarpRunner_Run(t *testing.T) {
	path, argsFile := fakeWarp(t, `echo "Report: PUT. Concurrency: 32. Ran: 2s"
echo " * Average: 123.45 MiB/s, 123.45 obj/s"
echo " * Reqs: Avg: 10.5ms, 50%: 9.0ms, 90%: 15.0ms, 99%: 20.0ms, Fastest: 1.0ms, Slowest: 30.0ms"`)

	cfg := testConfig(path)
	var out bytes.Buffer
	cfg.Output = &out

	res, err := NewWarpRunner(cfg, nil).Run(context.Background(), "RELEASE.A")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Version != "RELEASE.A" || res.MiBps != 123.45 || res.ObjPerSec != 123.45 {
		t.Errorf("Run() = %+v", res)
	}
	if res.ReqAvg != 10500*time.Microsecond {
		t.Errorf("ReqAvg = %v", res.ReqAvg)
	}
	if !strings.Contains(out.String(), "Average: 123.45") {
		t.Errorf("output not echoed: %q", out.String())
	}

	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(args), "put --warp-client "+cfg.ClientAddr) {
		t.Errorf("benchmark args = %q", args)
	}
	if !strings.Contains(string(args), "key=ak secret=sk") {
		t.Errorf("credentials not exported: %q", args)
	}
}

func TestWarpRunner_NoAverage(t *testing.T) {
	path, _ := fakeWarp(t, `echo "warp: <ERROR> something odd"`)

	_, err := NewWarpRunner(testConfig(path), nil).Run(context.Background(), "v")
	if !errors.Is(err, ErrNoAverage) {
		t.Errorf("Run() error = %v, want ErrNoAverage", err)
	}
}

func TestWarpRunner_NonZeroExit(t *testing.T) {
	path, _ := fakeWarp(t, `echo " * Average: 10.00 MiB/s"
exit 3`)

	res, err := NewWarpRunner(testConfig(path), nil).Run(context.Background(), "v")
	if !errors.Is(err, ErrBenchFailed) {
		t.Fatalf("Run() error = %v, want ErrBenchFailed", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
}

func TestWarpRunner_Interrupted(t *testing.T) {
	path, _ := fakeWarp(t, `while :; do sleep 0.1; done`)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(400 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := NewWarpRunner(testConfig(path), nil).Run(ctx, "v")
	if !errors.Is(err, process.ErrInterrupted) {
		t.Errorf("Run() error = %v, want ErrInterrupted", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("interrupted run took %v", elapsed)
	}
}

func TestWarpRunner_MissingBinary(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "warp"))
	if _, err := NewWarpRunner(cfg, nil).Run(context.Background(), "v"); err == nil {
		t.Error("Run() with missing warp should fail")
	}
}

func TestRunnerFunc(t *testing.T) {
	var r Runner = RunnerFunc(func(_ context.Context, v string) (Result, error) {
		return Result{Version: v, MiBps: 1}, nil
	})
	res, err := r.Run(context.Background(), "x")
	if err != nil || res.Version != "x" {
		t.Errorf("RunnerFunc.Run() = %+v, %v", res, err)
	}
}
