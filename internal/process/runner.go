// Package process starts and stops the external programs the harness
// drives: the object server under test and the load generator.
package process

import (
	"errors"
	"os/exec"
	"strings"
	"syscall"
)

const (
	// ExitNotFound is returned by the launch command when no binary exists
	// for the requested version.
	ExitNotFound = 2

	// ExitInterrupted is returned when the wait was cut short by an interrupt.
	ExitInterrupted = 130
)

// ErrInterrupted is returned when a foreground launch is cancelled.
var ErrInterrupted = errors.New("interrupted")

// LaunchSpec is a fully resolved command line.
type LaunchSpec struct {
	Binary string
	Args   []string
	// Env entries ("KEY=value") are appended to the harness environment.
	Env []string
}

// Argv returns the binary followed by its arguments.
func (s LaunchSpec) Argv() []string {
	return append([]string{s.Binary}, s.Args...)
}

// CommandString renders the command as a POSIX shell line that re-parses
// to the same argv.
func (s LaunchSpec) CommandString() string {
	argv := s.Argv()
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = ShellQuote(a)
	}
	return strings.Join(quoted, " ")
}

// ExitCode converts a Wait error into a shell-style exit code:
// the status for normal exits, 128+signal for signalled exits and 1 for
// anything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	return 1
}
