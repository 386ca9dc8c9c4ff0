package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"slices"
	"strings"
)

// stringList is a repeatable, comma-separated list flag. The first Set
// replaces the default rather than appending to it.
type stringList struct {
	target  *[]string
	touched bool
}

func (s *stringList) String() string {
	if s == nil || s.target == nil {
		return ""
	}
	return strings.Join(*s.target, ",")
}

func (s *stringList) Set(value string) error {
	if !s.touched {
		*s.target = nil
		s.touched = true
	}
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s.target = append(*s.target, part)
		}
	}
	return nil
}

// ParseArgs parses a command line (without the program name) into a Config.
//
//	minio-version-bench [command] [flags] [args]
//
// The command defaults to "run". A -config YAML file is applied before
// the flags, so flags override file values.
func ParseArgs(args []string, stderr io.Writer) (*Config, error) {
	cfg := DefaultConfig()

	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		if !slices.Contains(Commands, args[0]) {
			return nil, fmt.Errorf("unknown command %q (want one of: %s)", args[0], strings.Join(Commands, ", "))
		}
		cfg.Command = args[0]
		args = args[1:]
	}

	if path := findConfigFlag(args); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
		cfg.ConfigFile = path
	}

	fs := flag.NewFlagSet(cfg.Command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	registerFlags(fs, cfg)
	fs.Usage = func() { printUsage(fs, stderr) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := applyPositional(cfg, fs.Args()); err != nil {
		return nil, err
	}

	cfg.Finalize()
	return cfg, nil
}

func registerFlags(fs *flag.FlagSet, cfg *Config) {
	var ignored string
	fs.StringVar(&ignored, "config", "", "YAML config file applied before flags")

	// Versions
	fs.StringVar(&cfg.BaseDir, "base-dir", cfg.BaseDir, "Directory holding one entry per server version")
	fs.StringVar(&cfg.Binary, "binary", cfg.Binary, "Server binary name inside a version directory")
	fs.Var(&stringList{target: &cfg.Versions}, "versions", "Only benchmark these versions (comma-separated or repeated)")

	// Server
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Host the server is probed and benchmarked on")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Server S3 API port")
	fs.IntVar(&cfg.ConsolePort, "console-port", cfg.ConsolePort, "Server console port")
	fs.Var(&stringList{target: &cfg.DataDirs}, "data-dir", "Server data directory (repeat or comma-separate)")
	fs.StringVar(&cfg.License, "license", cfg.License, "License file passed to the server")
	fs.StringVar(&cfg.RootUser, "root-user", cfg.RootUser, "Server root user (env MINIO_ROOT_USER)")
	fs.StringVar(&cfg.RootPassword, "root-password", cfg.RootPassword, "Server root password (env MINIO_ROOT_PASSWORD)")
	fs.StringVar(&cfg.MarkerDir, "marker-dir", cfg.MarkerDir, "Server metadata directory removed from each volume")
	fs.BoolVar(&cfg.NoClean, "no-clean", cfg.NoClean, "Do not empty data directories before launching")
	fs.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "Print what would be executed without starting anything")

	// Lifecycle
	fs.DurationVar(&cfg.ReadyTimeout, "ready-timeout", cfg.ReadyTimeout, "How long to wait for the server port")
	fs.DurationVar(&cfg.ProbeInterval, "probe-interval", cfg.ProbeInterval, "Pause between readiness probes")
	fs.DurationVar(&cfg.ProbeDialTimeout, "probe-dial-timeout", cfg.ProbeDialTimeout, "Timeout of a single readiness probe")
	fs.DurationVar(&cfg.StopGrace, "stop-grace", cfg.StopGrace, "Wait after SIGTERM before SIGKILL")
	fs.DurationVar(&cfg.ReapSettle, "reap-settle", cfg.ReapSettle, "Wait for killed processes to disappear")
	fs.DurationVar(&cfg.Cooldown, "cooldown", cfg.Cooldown, "Pause between versions")

	// Benchmark
	fs.StringVar(&cfg.WarpPath, "warp", cfg.WarpPath, "Path to the warp binary")
	fs.StringVar(&cfg.WarpClientAddr, "warp-client", cfg.WarpClientAddr, "Address of the local warp client agent")
	fs.StringVar(&cfg.WarpOperation, "warp-op", cfg.WarpOperation, `Benchmark operation: "put", "get", "mixed", "delete", "stat", "list"`)
	fs.StringVar(&cfg.Bucket, "bucket", cfg.Bucket, "Benchmark bucket")
	fs.DurationVar(&cfg.BenchDuration, "duration", cfg.BenchDuration, "Benchmark duration per version")
	fs.StringVar(&cfg.ObjSize, "obj-size", cfg.ObjSize, "Object size, e.g. 1MiB")
	fs.IntVar(&cfg.Concurrent, "concurrent", cfg.Concurrent, "Concurrent benchmark operations")
	fs.BoolVar(&cfg.NoClear, "noclear", cfg.NoClear, "Leave benchmark objects in the bucket")
	fs.StringVar(&cfg.WarpAccessKey, "warp-access-key", cfg.WarpAccessKey, "Benchmark access key (env WARP_ACCESS_KEY, default root user)")
	fs.StringVar(&cfg.WarpSecretKey, "warp-secret-key", cfg.WarpSecretKey, "Benchmark secret key (env WARP_SECRET_KEY, default root password)")
	fs.DurationVar(&cfg.WarpClientTimeout, "warp-client-timeout", cfg.WarpClientTimeout, "Wait for the warp client agent to listen")
	fs.Var(&stringList{target: &cfg.WarpExtraArgs}, "warp-arg", "Extra argument appended to the warp command (repeatable)")
	fs.StringVar(&cfg.ResultsPath, "results", cfg.ResultsPath, "CSV file results are appended to")

	// Download
	fs.StringVar(&cfg.ReleaseURL, "release-url", cfg.ReleaseURL, "Release archive index (default derived from OS/arch)")
	fs.IntVar(&cfg.DownloadRetries, "download-retries", cfg.DownloadRetries, "HTTP retries per file")
	fs.DurationVar(&cfg.DownloadTimeout, "download-timeout", cfg.DownloadTimeout, "Timeout per downloaded file")

	// S3 benchmark
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", cfg.S3Endpoint, "S3 endpoint host:port (default host:port)")
	fs.StringVar(&cfg.S3Bucket, "s3-bucket", cfg.S3Bucket, "Bucket used by s3bench")
	fs.Var(&stringList{target: &cfg.S3Sizes}, "s3-size", "Object size for s3bench (repeatable)")
	fs.IntVar(&cfg.S3Iterations, "s3-iterations", cfg.S3Iterations, "Put/get round trips per size")
	fs.IntVar(&cfg.S3Parallel, "s3-parallel", cfg.S3Parallel, "Concurrent round trips")
	fs.BoolVar(&cfg.S3Secure, "s3-secure", cfg.S3Secure, "Use TLS for s3bench")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Serve harness Prometheus metrics on this address")
	fs.BoolVar(&cfg.ServerMetrics, "server-metrics", cfg.ServerMetrics, "Scrape the server's Prometheus endpoint during benchmarks")
	fs.StringVar(&cfg.ServerMetricsPath, "server-metrics-path", cfg.ServerMetricsPath, "Server metrics path")
	fs.DurationVar(&cfg.ScrapeInterval, "scrape-interval", cfg.ScrapeInterval, "Server metrics scrape interval")
	fs.DurationVar(&cfg.ScrapeWindow, "scrape-window", cfg.ScrapeWindow, "Rolling window for server rate percentiles")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn", "error"`)
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Live terminal dashboard for the run command")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
}

// applyPositional assigns the non-flag arguments of each command.
func applyPositional(cfg *Config, rest []string) error {
	switch cfg.Command {
	case CommandLaunch:
		if len(rest) == 0 {
			return errors.New("launch: version argument is required")
		}
		cfg.Version = rest[0]
		rest = rest[1:]
		if len(rest) > 0 && rest[0] == "--" {
			rest = rest[1:]
		}
		if len(rest) > 0 {
			cfg.ServerArgs = rest
		}
	case CommandRun:
		if len(rest) > 0 {
			cfg.Versions = rest
		}
	default:
		if len(rest) > 0 {
			return fmt.Errorf("%s: unexpected arguments %q", cfg.Command, rest)
		}
	}
	return nil
}

// findConfigFlag returns the value of -config / --config without parsing
// the rest of the flags.
func findConfigFlag(args []string) string {
	for i, a := range args {
		if a == "--" {
			return ""
		}
		for _, prefix := range []string{"-config", "--config"} {
			if a == prefix && i+1 < len(args) {
				return args[i+1]
			}
			if v, ok := strings.CutPrefix(a, prefix+"="); ok {
				return v
			}
		}
	}
	return ""
}

func printUsage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintf(w, `minio-version-bench - benchmark object server releases one at a time

Usage:
  minio-version-bench [command] [flags] [args]

Commands:
  run [versions...]           Benchmark every version (default command)
  launch <version> [-- args]  Reap, clean and run one version in the foreground
  list                        List installed versions, newest first
  download                    Fetch release binaries into the base directory
  s3bench                     Put/get latency benchmark against a running server
  reap                        Kill running server processes
  clean                       Empty the data directories

Versions:
`)
	printFlagCategory(fs, w, []string{"config", "base-dir", "binary", "versions"})

	fmt.Fprintf(w, "\nServer:\n")
	printFlagCategory(fs, w, []string{"host", "port", "console-port", "data-dir", "license", "root-user", "root-password", "marker-dir", "no-clean", "dry-run"})

	fmt.Fprintf(w, "\nLifecycle:\n")
	printFlagCategory(fs, w, []string{"ready-timeout", "probe-interval", "probe-dial-timeout", "stop-grace", "reap-settle", "cooldown"})

	fmt.Fprintf(w, "\nBenchmark:\n")
	printFlagCategory(fs, w, []string{"warp", "warp-client", "warp-op", "bucket", "duration", "obj-size", "concurrent", "noclear", "warp-access-key", "warp-secret-key", "warp-client-timeout", "warp-arg", "results"})

	fmt.Fprintf(w, "\nDownload:\n")
	printFlagCategory(fs, w, []string{"release-url", "download-retries", "download-timeout"})

	fmt.Fprintf(w, "\nS3 Bench:\n")
	printFlagCategory(fs, w, []string{"s3-endpoint", "s3-bucket", "s3-size", "s3-iterations", "s3-parallel", "s3-secure"})

	fmt.Fprintf(w, "\nObservability:\n")
	printFlagCategory(fs, w, []string{"metrics", "server-metrics", "server-metrics-path", "scrape-interval", "scrape-window", "v", "log-format", "log-level", "tui", "skip-preflight"})

	fmt.Fprintf(w, `
Examples:
  # Benchmark every version under ~/minio_versions
  minio-version-bench run -data-dir /mnt/d1,/mnt/d2,/mnt/d3,/mnt/d4

  # Show what launching one version would do
  minio-version-bench launch -dry-run RELEASE.2024-01-01T00-00-00Z

`)
}

// printFlagCategory prints the named flags in the given order.
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	for _, name := range names {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
			fmt.Fprintf(w, " (default %s)", f.DefValue)
		}
		fmt.Fprintln(w)
	}
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	switch f.Value.(type) {
	case *stringList:
		return "list"
	}
	if getter, ok := f.Value.(flag.Getter); ok {
		switch getter.Get().(type) {
		case bool:
			return ""
		case int, int64:
			return "int"
		case float64:
			return "float"
		default:
			if _, isDur := getter.Get().(interface{ Seconds() float64 }); isDur {
				return "duration"
			}
		}
	}
	return "string"
}
