// Package preflight provides startup validation checks.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-minio-version-bench/internal/locator"
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// Options selects what RunAll inspects. Zero values skip the
// corresponding check.
type Options struct {
	BaseDir    string
	Binary     string
	Versions   []string
	WarpPath   string
	DataDirs   []string
	Host       string
	Port       int
	Concurrent int
	// MinMemory is the available memory below which a warning is raised.
	MinMemory uint64
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

func (r *Result) add(c Check) {
	r.Checks = append(r.Checks, c)
	if !c.Passed {
		r.Passed = false
	}
}

// RunAll executes all preflight checks selected by opts.
func RunAll(ctx context.Context, opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 7),
		Passed: true,
	}

	if opts.BaseDir != "" {
		result.add(checkVersions(opts.BaseDir, opts.Binary, opts.Versions))
	}
	if opts.WarpPath != "" {
		result.add(checkWarp(ctx, opts.WarpPath))
	}
	result.add(checkPkill())
	if len(opts.DataDirs) > 0 {
		result.add(checkDataDirs(opts.DataDirs))
	}
	if opts.Port > 0 {
		result.add(checkPortFree(opts.Host, opts.Port))
	}
	result.add(checkFileDescriptors(opts.Concurrent))
	result.add(checkMemory(ctx, opts.MinMemory))

	return result
}

// checkVersions verifies there is at least one version to benchmark.
func checkVersions(baseDir, binary string, selected []string) Check {
	found, err := locator.Discover(baseDir, binary)
	if err != nil {
		return Check{Name: "versions", Message: fmt.Sprintf("cannot read %s: %v", baseDir, err)}
	}
	if len(selected) > 0 {
		return Check{
			Name:    "versions",
			Passed:  true,
			Message: fmt.Sprintf("%d selected, %d installed under %s", len(selected), len(found), baseDir),
		}
	}
	if len(found) == 0 {
		return Check{Name: "versions", Message: fmt.Sprintf("no versions under %s", baseDir)}
	}
	return Check{
		Name:    "versions",
		Passed:  true,
		Message: fmt.Sprintf("%d installed under %s (newest %s)", len(found), baseDir, found[len(found)-1]),
	}
}

// checkWarp verifies the benchmark tool is available and working.
func checkWarp(ctx context.Context, path string) Check {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return Check{
			Name:    "warp",
			Message: fmt.Sprintf("not found at %s: %v", path, err),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	output, err := exec.CommandContext(ctx, resolved, "--version").Output()
	if err != nil {
		return Check{
			Name:    "warp",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("found at %s but --version failed: %v", resolved, err),
		}
	}

	// "warp version 0.7.6 - 1a2b3c"
	version := "unknown"
	first, _, _ := strings.Cut(string(output), "\n")
	if parts := strings.Fields(first); len(parts) >= 3 {
		version = parts[2]
	}
	return Check{
		Name:    "warp",
		Passed:  true,
		Message: fmt.Sprintf("found at %s (version %s)", resolved, version),
	}
}

// checkPkill reports whether kill-by-name is available to the reaper.
func checkPkill() Check {
	path, err := exec.LookPath("pkill")
	if err != nil {
		return Check{
			Name:    "pkill",
			Passed:  true,
			Warning: true,
			Message: "not found; processes will be killed by pid",
		}
	}
	return Check{Name: "pkill", Passed: true, Message: "found at " + path}
}

// checkDataDirs verifies every data directory is a directory or can be
// created.
func checkDataDirs(dirs []string) Check {
	var missing, bad []string
	for _, d := range dirs {
		info, err := os.Stat(d)
		switch {
		case errors.Is(err, os.ErrNotExist):
			missing = append(missing, d)
		case err != nil:
			bad = append(bad, fmt.Sprintf("%s (%v)", d, err))
		case !info.IsDir():
			bad = append(bad, d+" (not a directory)")
		}
	}
	if len(bad) > 0 {
		return Check{Name: "data_dirs", Message: strings.Join(bad, ", ")}
	}
	if len(missing) > 0 {
		return Check{
			Name:    "data_dirs",
			Passed:  true,
			Warning: true,
			Message: "will be created: " + strings.Join(missing, ", "),
		}
	}
	return Check{Name: "data_dirs", Passed: true, Message: fmt.Sprintf("%d directories", len(dirs))}
}

// checkPortFree warns when something already listens on the server port.
// The reaper normally clears it, so this never fails.
func checkPortFree(host string, port int) Check {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return Check{
			Name:    "server_port",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("%s in use (a stray server will be reaped)", addr),
		}
	}
	ln.Close()
	return Check{Name: "server_port", Passed: true, Message: addr + " free"}
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(concurrent int) Check {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	// warp opens a few sockets per concurrent operation; the server needs
	// its own headroom on the same host.
	required := concurrent*4 + 128
	actual := int(min(limit.Cur, uint64(1<<30)))

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d concurrent)", actual, required, concurrent),
	}
}

// checkMemory warns when available memory is below minimum.
func checkMemory(ctx context.Context, minimum uint64) Check {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Check{
			Name:    "memory",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}
	c := Check{
		Name:    "memory",
		Passed:  true,
		Message: fmt.Sprintf("%s available of %s", humanize.IBytes(vm.Available), humanize.IBytes(vm.Total)),
	}
	if minimum > 0 && vm.Available < minimum {
		c.Warning = true
		c.Message += fmt.Sprintf(" (recommend %s)", humanize.IBytes(minimum))
	}
	return c
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	case "warp":
		return "install warp (https://github.com/minio/warp/releases) or pass -warp /path/to/warp"
	case "versions":
		return "run the download command or pass -base-dir"
	case "data_dirs":
		return "point -data-dir at directories (or missing paths) you own"
	default:
		return "see documentation"
	}
}
