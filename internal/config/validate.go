package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for the selected command.
// Returns nil if valid, or every problem joined into one error.
func Validate(cfg *Config) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	usesServer := cfg.Command == CommandRun || cfg.Command == CommandLaunch
	usesVolumes := usesServer || cfg.Command == CommandClean

	if cfg.Command == CommandLaunch && strings.TrimSpace(cfg.Version) == "" {
		add("version", "is required")
	}

	switch cfg.Command {
	case CommandRun, CommandLaunch, CommandList, CommandDownload:
		if cfg.BaseDir == "" {
			add("base_dir", "is required")
		}
	}
	if cfg.Binary == "" || strings.ContainsRune(cfg.Binary, filepath.Separator) {
		add("binary", "must be a bare file name (got %q)", cfg.Binary)
	}

	if usesServer {
		if cfg.Host == "" {
			add("host", "is required")
		}
		if cfg.Port < 1 || cfg.Port > 65535 {
			add("port", "must be 1-65535 (got %d)", cfg.Port)
		}
		if cfg.ConsolePort < 1 || cfg.ConsolePort > 65535 {
			add("console_port", "must be 1-65535 (got %d)", cfg.ConsolePort)
		}
		if cfg.ReadyTimeout <= 0 {
			add("ready_timeout", "must be positive")
		}
		if cfg.ProbeInterval <= 0 {
			add("probe_interval", "must be positive")
		}
		if cfg.ProbeDialTimeout <= 0 {
			add("probe_dial_timeout", "must be positive")
		}
		if cfg.StopGrace <= 0 {
			add("stop_grace", "must be positive")
		}
	}

	if usesVolumes && !cfg.NoClean {
		if len(cfg.DataDirs) == 0 {
			add("data_dirs", "at least one data directory is required")
		}
		for _, d := range cfg.DataDirs {
			if !filepath.IsAbs(d) {
				add("data_dirs", "must be absolute (got %q)", d)
			}
			if filepath.Clean(d) == "/" {
				add("data_dirs", "refusing to clean the filesystem root")
			}
		}
		if cfg.MarkerDir == "" || strings.ContainsRune(cfg.MarkerDir, filepath.Separator) {
			add("marker_dir", "must be a bare directory name (got %q)", cfg.MarkerDir)
		}
	}

	if cfg.Command == CommandRun {
		validOps := map[string]bool{"put": true, "get": true, "mixed": true, "delete": true, "stat": true, "list": true}
		if !validOps[cfg.WarpOperation] {
			add("warp_operation", "must be one of: put, get, mixed, delete, stat, list (got %q)", cfg.WarpOperation)
		}
		if cfg.Concurrent < 1 {
			add("concurrent", "must be at least 1")
		}
		if cfg.BenchDuration <= 0 {
			add("bench_duration", "must be positive")
		}
		if _, err := humanize.ParseBytes(cfg.ObjSize); err != nil {
			add("obj_size", "invalid size %q: %v", cfg.ObjSize, err)
		}
		if _, _, err := net.SplitHostPort(cfg.WarpClientAddr); err != nil {
			add("warp_client_addr", "must be host:port (got %q)", cfg.WarpClientAddr)
		}
		if cfg.Bucket == "" {
			add("bucket", "is required")
		}
		if cfg.ResultsPath == "" {
			add("results_path", "is required")
		}
		if cfg.Cooldown < 0 {
			add("cooldown", "must not be negative")
		}
	}

	if cfg.Command == CommandS3Bench {
		if cfg.S3Bucket == "" {
			add("s3_bucket", "is required")
		}
		if len(cfg.S3Sizes) == 0 {
			add("s3_sizes", "at least one size is required")
		}
		for _, s := range cfg.S3Sizes {
			if n, err := humanize.ParseBytes(s); err != nil || n == 0 {
				add("s3_sizes", "invalid size %q", s)
			}
		}
		if cfg.S3Iterations < 1 {
			add("s3_iterations", "must be at least 1")
		}
		if cfg.S3Parallel < 1 {
			add("s3_parallel", "must be at least 1")
		}
	}

	if cfg.Command == CommandDownload && cfg.DownloadRetries < 0 {
		add("download_retries", "must not be negative")
	}

	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			add("metrics_addr", "must be host:port (got %q)", cfg.MetricsAddr)
		}
	}
	if cfg.ServerMetrics {
		if cfg.ScrapeInterval <= 0 {
			add("scrape_interval", "must be positive")
		}
		if cfg.ScrapeWindow < 2*cfg.ScrapeInterval {
			add("scrape_window", "must be at least 2x scrape interval (%v), got %v", 2*cfg.ScrapeInterval, cfg.ScrapeWindow)
		}
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		add("log_format", "must be 'json' or 'text' (got %q)", cfg.LogFormat)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
