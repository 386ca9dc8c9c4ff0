// Package config holds the harness configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/randomizedcoder/go-minio-version-bench/internal/bench"
)

// Commands understood by the harness.
const (
	CommandRun      = "run"
	CommandLaunch   = "launch"
	CommandList     = "list"
	CommandDownload = "download"
	CommandS3Bench  = "s3bench"
	CommandReap     = "reap"
	CommandClean    = "clean"
)

// Commands lists every command in usage order.
var Commands = []string{
	CommandRun, CommandLaunch, CommandList, CommandDownload,
	CommandS3Bench, CommandReap, CommandClean,
}

// Config holds all configuration for the harness.
type Config struct {
	Command    string `json:"-" yaml:"-"`
	ConfigFile string `json:"-" yaml:"-"`

	// Versions
	BaseDir  string   `json:"base_dir" yaml:"base_dir"`
	Binary   string   `json:"binary" yaml:"binary"`
	Versions []string `json:"versions" yaml:"versions"`
	// Version is the positional argument of the launch command.
	Version string `json:"-" yaml:"-"`

	// Server
	Host         string   `json:"host" yaml:"host"`
	Port         int      `json:"port" yaml:"port"`
	ConsolePort  int      `json:"console_port" yaml:"console_port"`
	DataDirs     []string `json:"data_dirs" yaml:"data_dirs"`
	ServerArgs   []string `json:"server_args" yaml:"server_args"`
	License      string   `json:"license" yaml:"license"`
	RootUser     string   `json:"root_user" yaml:"root_user"`
	RootPassword string   `json:"-" yaml:"root_password"`
	MarkerDir    string   `json:"marker_dir" yaml:"marker_dir"`
	NoClean      bool     `json:"no_clean" yaml:"no_clean"`
	DryRun       bool     `json:"dry_run" yaml:"dry_run"`

	// Lifecycle timing
	ReadyTimeout     time.Duration `json:"ready_timeout" yaml:"ready_timeout"`
	ProbeInterval    time.Duration `json:"probe_interval" yaml:"probe_interval"`
	ProbeDialTimeout time.Duration `json:"probe_dial_timeout" yaml:"probe_dial_timeout"`
	StopGrace        time.Duration `json:"stop_grace" yaml:"stop_grace"`
	ReapSettle       time.Duration `json:"reap_settle" yaml:"reap_settle"`
	Cooldown         time.Duration `json:"cooldown" yaml:"cooldown"`

	// Benchmark (warp)
	WarpPath          string        `json:"warp_path" yaml:"warp_path"`
	WarpClientAddr    string        `json:"warp_client_addr" yaml:"warp_client_addr"`
	WarpOperation     string        `json:"warp_operation" yaml:"warp_operation"`
	Bucket            string        `json:"bucket" yaml:"bucket"`
	BenchDuration     time.Duration `json:"bench_duration" yaml:"bench_duration"`
	ObjSize           string        `json:"obj_size" yaml:"obj_size"`
	Concurrent        int           `json:"concurrent" yaml:"concurrent"`
	NoClear           bool          `json:"no_clear" yaml:"no_clear"`
	WarpAccessKey     string        `json:"-" yaml:"warp_access_key"`
	WarpSecretKey     string        `json:"-" yaml:"warp_secret_key"`
	WarpClientTimeout time.Duration `json:"warp_client_timeout" yaml:"warp_client_timeout"`
	WarpExtraArgs     []string      `json:"warp_extra_args" yaml:"warp_extra_args"`
	ResultsPath       string        `json:"results_path" yaml:"results_path"`

	// Release download
	ReleaseURL      string        `json:"release_url" yaml:"release_url"`
	DownloadRetries int           `json:"download_retries" yaml:"download_retries"`
	DownloadTimeout time.Duration `json:"download_timeout" yaml:"download_timeout"`

	// Direct S3 benchmark
	S3Endpoint   string   `json:"s3_endpoint" yaml:"s3_endpoint"`
	S3Bucket     string   `json:"s3_bucket" yaml:"s3_bucket"`
	S3Sizes      []string `json:"s3_sizes" yaml:"s3_sizes"`
	S3Iterations int      `json:"s3_iterations" yaml:"s3_iterations"`
	S3Parallel   int      `json:"s3_parallel" yaml:"s3_parallel"`
	S3Secure     bool     `json:"s3_secure" yaml:"s3_secure"`

	// Observability
	MetricsAddr       string        `json:"metrics_addr" yaml:"metrics_addr"`
	ServerMetrics     bool          `json:"server_metrics" yaml:"server_metrics"`
	ServerMetricsPath string        `json:"server_metrics_path" yaml:"server_metrics_path"`
	ScrapeInterval    time.Duration `json:"scrape_interval" yaml:"scrape_interval"`
	ScrapeWindow      time.Duration `json:"scrape_window" yaml:"scrape_window"`
	Verbose           bool          `json:"verbose" yaml:"verbose"`
	LogFormat         string        `json:"log_format" yaml:"log_format"`
	LogLevel          string        `json:"log_level" yaml:"log_level"`
	TUIEnabled        bool          `json:"tui" yaml:"tui"`
	SkipPreflight     bool          `json:"skip_preflight" yaml:"skip_preflight"`
}

// DefaultConfig returns a Config with sensible defaults. Credentials come
// from MINIO_ROOT_USER / MINIO_ROOT_PASSWORD and WARP_ACCESS_KEY /
// WARP_SECRET_KEY when set.
func DefaultConfig() *Config {
	warp := bench.DefaultWarpConfig()
	return &Config{
		Command: CommandRun,

		BaseDir: defaultBaseDir(),
		Binary:  "minio",

		Host:         "127.0.0.1",
		Port:         9000,
		ConsolePort:  9001,
		DataDirs:     []string{"/Volumes/data1", "/Volumes/data2", "/Volumes/data3", "/Volumes/data4"},
		RootUser:     envOr("MINIO_ROOT_USER", "minio"),
		RootPassword: envOr("MINIO_ROOT_PASSWORD", "minio123"),
		MarkerDir:    ".minio.sys",

		ReadyTimeout:     40 * time.Second,
		ProbeInterval:    200 * time.Millisecond,
		ProbeDialTimeout: 500 * time.Millisecond,
		StopGrace:        warp.StopGrace,
		ReapSettle:       2 * time.Second,
		Cooldown:         1 * time.Second,

		WarpPath:          warp.Path,
		WarpClientAddr:    warp.ClientAddr,
		WarpOperation:     warp.Operation,
		Bucket:            warp.Bucket,
		BenchDuration:     warp.Duration,
		ObjSize:           warp.ObjSize,
		Concurrent:        warp.Concurrent,
		NoClear:           warp.NoClear,
		WarpAccessKey:     os.Getenv("WARP_ACCESS_KEY"),
		WarpSecretKey:     os.Getenv("WARP_SECRET_KEY"),
		WarpClientTimeout: warp.ClientStartTimeout,
		ResultsPath:       "versions_speeds.csv",

		DownloadRetries: 3,
		DownloadTimeout: 10 * time.Minute,

		S3Bucket:     "bench",
		S3Sizes:      []string{"10MiB"},
		S3Iterations: 1,
		S3Parallel:   1,

		ServerMetricsPath: "/minio/v2/metrics/cluster",
		ScrapeInterval:    2 * time.Second,
		ScrapeWindow:      30 * time.Second,
		LogFormat:         "text",
		LogLevel:          "info",
	}
}

// Finalize fills values derived from other fields. It is called after
// the config file and flags have been applied.
func (c *Config) Finalize() {
	c.BaseDir = expandHome(c.BaseDir)
	if c.WarpAccessKey == "" {
		c.WarpAccessKey = c.RootUser
	}
	if c.WarpSecretKey == "" {
		c.WarpSecretKey = c.RootPassword
	}
	if c.S3Endpoint == "" {
		c.S3Endpoint = c.ServerAddr()
	}
}

// ServerAddr is the host:port the server is probed and benchmarked on.
func (c *Config) ServerAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ServerMetricsURL is the server's Prometheus endpoint.
func (c *Config) ServerMetricsURL() string {
	return "http://" + c.ServerAddr() + c.ServerMetricsPath
}

// EffectiveServerArgs returns the server arguments, building the default
// "server <volumes> --address :PORT --console-address :PORT" form when
// none were given explicitly.
func (c *Config) EffectiveServerArgs() []string {
	if len(c.ServerArgs) > 0 {
		return append([]string(nil), c.ServerArgs...)
	}
	args := []string{"server"}
	args = append(args, VolumeArgs(c.DataDirs)...)
	args = append(args,
		"--address", ":"+strconv.Itoa(c.Port),
		"--console-address", ":"+strconv.Itoa(c.ConsolePort),
	)
	if c.License != "" {
		args = append(args, "--license", c.License)
	}
	return args
}

// ServerEnv is the environment added to the server process.
func (c *Config) ServerEnv() []string {
	env := []string{
		"MINIO_ROOT_USER=" + c.RootUser,
		"MINIO_ROOT_PASSWORD=" + c.RootPassword,
	}
	if c.ServerMetrics {
		env = append(env, "MINIO_PROMETHEUS_AUTH_TYPE=public")
	}
	return env
}

var numberedDir = regexp.MustCompile(`^(.*?)(\d+)$`)

// VolumeArgs renders data directories for the server command line.
// Directories that differ only by a consecutive numeric suffix collapse
// into the server's ellipsis form, e.g. /data1../data4 -> /data{1...4}.
func VolumeArgs(dirs []string) []string {
	if len(dirs) < 2 {
		return append([]string(nil), dirs...)
	}

	var prefix string
	var first, prev int
	for i, d := range dirs {
		m := numberedDir.FindStringSubmatch(d)
		if m == nil {
			return append([]string(nil), dirs...)
		}
		n, err := strconv.Atoi(m[2])
		if err != nil || strings.HasPrefix(m[2], "0") {
			return append([]string(nil), dirs...)
		}
		if i == 0 {
			prefix, first, prev = m[1], n, n
			continue
		}
		if m[1] != prefix || n != prev+1 {
			return append([]string(nil), dirs...)
		}
		prev = n
	}
	return []string{fmt.Sprintf("%s{%d...%d}", prefix, first, prev)}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultBaseDir() string {
	return filepath.Join("~", "minio_versions")
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
