package reaper

import (
	"context"
	"errors"
	"os/exec"
	"slices"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// SystemLister enumerates processes through gopsutil.
type SystemLister struct{}

// List returns every live, non-zombie process whose command line is readable.
// Processes that exit during enumeration are skipped.
func (SystemLister) List(ctx context.Context) ([]Proc, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Proc, 0, len(procs))
	for _, p := range procs {
		argv, err := p.CmdlineSliceWithContext(ctx)
		if err != nil {
			continue
		}
		if status, err := p.StatusWithContext(ctx); err == nil && slices.Contains(status, process.Zombie) {
			continue
		}
		name, _ := p.NameWithContext(ctx)
		out = append(out, Proc{PID: p.Pid, Name: name, Argv: argv})
	}
	return out, nil
}

// SystemKiller kills by exact name with pkill when it is installed and
// by pid with SIGKILL otherwise.
type SystemKiller struct {
	pkill string
}

// NewSystemKiller looks up pkill once.
func NewSystemKiller() *SystemKiller {
	path, _ := exec.LookPath("pkill")
	return &SystemKiller{pkill: path}
}

// KillByName runs "pkill -9 -x name". pkill exiting 1 means nothing matched.
func (k *SystemKiller) KillByName(ctx context.Context, name string) error {
	if k.pkill == "" {
		return ErrNameKillUnavailable
	}
	err := exec.CommandContext(ctx, k.pkill, "-9", "-x", name).Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return nil
	}
	return err
}

// KillPID sends SIGKILL to pid. A process that no longer exists is not an error.
func (k *SystemKiller) KillPID(_ context.Context, pid int32) error {
	err := unix.Kill(int(pid), unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
