package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-minio-version-bench/internal/logging"
)

const (
	// DefaultStopGrace is how long Stop waits after SIGTERM before SIGKILL.
	DefaultStopGrace = 5 * time.Second

	// waitDelay bounds how long Wait blocks on output pipes held open by
	// grandchildren after the child itself exited.
	waitDelay = 2 * time.Second
)

// ErrForceKilled is returned by Stop when the child ignored SIGTERM.
var ErrForceKilled = errors.New("process did not exit gracefully")

// StartOptions controls how a child is started.
type StartOptions struct {
	// Name labels log lines, e.g. "server" or "warp-client".
	Name string
	// Output receives a copy of the child's combined stdout and stderr.
	Output io.Writer
	Logger *slog.Logger
	// Verbose logs every output line at debug level.
	Verbose   bool
	StopGrace time.Duration
}

// Handle is a started child process.
type Handle struct {
	name      string
	cmd       *exec.Cmd
	logger    *slog.Logger
	tail      *logging.OutputTail
	stopGrace time.Duration
	startTime time.Time

	done     chan struct{}
	exitCode int
	waitErr  error
}

// EnsureExecutable adds execute permission for user, group and other
// when any of those bits is missing.
func EnsureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	mode := info.Mode().Perm()
	if mode&0o111 == 0o111 {
		return nil
	}
	if err := os.Chmod(path, mode|0o111); err != nil {
		return fmt.Errorf("make %s executable: %w", path, err)
	}
	return nil
}

// Start launches spec in its own process group and returns immediately.
// Output is captured into a tail buffer and optionally copied to opts.Output.
func Start(spec LaunchSpec, opts StartOptions) (*Handle, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Name == "" {
		opts.Name = "child"
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = DefaultStopGrace
	}

	cmd := exec.Command(spec.Binary, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	// Own process group so signals reach the whole tree and a terminal
	// interrupt does not hit the child before we decide to forward it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = waitDelay

	pr, pw := io.Pipe()
	var out io.Writer = pw
	if opts.Output != nil {
		out = io.MultiWriter(pw, opts.Output)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("start %s: %w", opts.Name, err)
	}

	h := &Handle{
		name:      opts.Name,
		cmd:       cmd,
		logger:    opts.Logger,
		tail:      logging.NewOutputTail(opts.Name, opts.Logger, opts.Verbose),
		stopGrace: opts.StopGrace,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}

	h.logger.Debug("process_started",
		"name", h.name,
		"pid", cmd.Process.Pid,
		"command", spec.CommandString(),
	)

	tailDone := make(chan struct{})
	go func() {
		h.tail.HandleReader(pr)
		close(tailDone)
	}()

	go func() {
		err := cmd.Wait()
		pw.Close()
		<-tailDone

		code := ExitCode(err)
		if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		h.exitCode = code
		h.waitErr = err

		h.logger.Debug("process_exited",
			"name", h.name,
			"pid", cmd.Process.Pid,
			"exit_code", code,
			"uptime", time.Since(h.startTime),
		)
		close(h.done)
	}()

	return h, nil
}

// PID returns the child's process id.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// Done is closed once the child has exited and its output is drained.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the child has exited.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the child exits and returns its exit code.
func (h *Handle) Wait() (int, error) {
	<-h.done
	return h.exitCode, h.waitErr
}

// ExitCode returns the exit code. Only meaningful after Done is closed.
func (h *Handle) ExitCode() int {
	<-h.done
	return h.exitCode
}

// Tail returns the buffered output of the child.
func (h *Handle) Tail() *logging.OutputTail { return h.tail }

// Uptime returns how long the child has been (or was) running.
func (h *Handle) Uptime() time.Duration { return time.Since(h.startTime) }

// Stop sends SIGTERM to the child's process group and escalates to
// SIGKILL after the grace period. Stopping an exited child is a no-op.
func (h *Handle) Stop(grace time.Duration) error {
	if h.Exited() {
		return nil
	}
	if grace <= 0 {
		grace = h.stopGrace
	}

	h.signalGroup(unix.SIGTERM)

	select {
	case <-h.done:
		return nil
	case <-time.After(grace):
	}

	h.logger.Warn("force_killing_process",
		"name", h.name,
		"pid", h.PID(),
	)
	h.signalGroup(unix.SIGKILL)

	select {
	case <-h.done:
	case <-time.After(grace + waitDelay):
		h.logger.Error("process_unkillable", "name", h.name, "pid", h.PID())
	}
	return ErrForceKilled
}

func (h *Handle) signalGroup(sig unix.Signal) {
	pid := h.cmd.Process.Pid
	if pgid, err := unix.Getpgid(pid); err == nil {
		_ = unix.Kill(-pgid, sig)
		return
	}
	_ = h.cmd.Process.Signal(sig)
}

// Launch echoes the command line to w and runs it in the foreground,
// returning the child's exit code. In dry-run mode only the echo happens.
// Cancelling ctx forwards a termination request to the child and returns
// ExitInterrupted with ErrInterrupted.
func Launch(ctx context.Context, spec LaunchSpec, dryRun bool, w io.Writer, opts StartOptions) (int, error) {
	line := spec.CommandString()
	if dryRun {
		fmt.Fprintf(w, "[dry-run] Would execute: %s\n", line)
		return 0, nil
	}

	if err := EnsureExecutable(spec.Binary); err != nil {
		return 1, err
	}

	fmt.Fprintf(w, "Executing: %s\n", line)
	h, err := Start(spec, opts)
	if err != nil {
		return 1, err
	}

	select {
	case <-h.Done():
		return h.ExitCode(), nil
	case <-ctx.Done():
		if err := h.Stop(opts.StopGrace); err != nil {
			h.logger.Warn("launch_stop_forced", "name", h.name, "error", err)
		}
		return ExitInterrupted, ErrInterrupted
	}
}
