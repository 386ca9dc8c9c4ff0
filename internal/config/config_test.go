package config

import (
	"bytes"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/go-minio-version-bench/internal/bench"
)

// =============================================================================
// stringList
// =============================================================================

func TestStringList_FirstSetReplacesDefault(t *testing.T) {
	target := []string{"/default1", "/default2"}
	s := &stringList{target: &target}

	if got := s.String(); got != "/default1,/default2" {
		t.Errorf("String() = %q, want %q", got, "/default1,/default2")
	}

	if err := s.Set("/a, /b"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set("/c"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	want := []string{"/a", "/b", "/c"}
	if !reflect.DeepEqual(target, want) {
		t.Errorf("target = %v, want %v", target, want)
	}
}

func TestStringList_SkipsEmptyParts(t *testing.T) {
	var target []string
	s := &stringList{target: &target}
	if err := s.Set(",x,,y,"); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(target, []string{"x", "y"}) {
		t.Errorf("target = %v, want [x y]", target)
	}
}

func TestStringList_NilString(t *testing.T) {
	var s *stringList
	if got := s.String(); got != "" {
		t.Errorf("nil String() = %q, want empty", got)
	}
}

func TestFlagType(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	registerFlags(fs, DefaultConfig())

	testCases := map[string]string{
		"base-dir":      "string",
		"port":          "int",
		"dry-run":       "",
		"ready-timeout": "duration",
		"data-dir":      "list",
		"warp-arg":      "list",
	}
	for name, want := range testCases {
		f := fs.Lookup(name)
		if f == nil {
			t.Fatalf("flag %q not registered", name)
		}
		if got := flagType(f); got != want {
			t.Errorf("flagType(%s) = %q, want %q", name, got, want)
		}
	}
}

// =============================================================================
// ParseArgs
// =============================================================================

func TestParseArgs_DefaultsToRun(t *testing.T) {
	cfg, err := ParseArgs(nil, io.Discard)
	if err != nil {
		t.Fatalf("ParseArgs() error = %v", err)
	}
	if cfg.Command != CommandRun {
		t.Errorf("Command = %q, want %q", cfg.Command, CommandRun)
	}
	if cfg.Port != 9000 || cfg.ConsolePort != 9001 {
		t.Errorf("ports = %d/%d, want 9000/9001", cfg.Port, cfg.ConsolePort)
	}
	if strings.HasPrefix(cfg.BaseDir, "~") {
		t.Errorf("BaseDir = %q, want home expanded", cfg.BaseDir)
	}
}

func TestParseArgs_RunFlagsAndVersions(t *testing.T) {
	cfg, err := ParseArgs([]string{
		"run",
		"-base-dir", "/srv/versions",
		"-data-dir", "/mnt/d1,/mnt/d2",
		"-concurrent", "8",
		"-duration", "5s",
		"-warp-arg", "--autoterm",
		"v2", "v1",
	}, io.Discard)
	if err != nil {
		t.Fatalf("ParseArgs() error = %v", err)
	}
	if cfg.BaseDir != "/srv/versions" {
		t.Errorf("BaseDir = %q", cfg.BaseDir)
	}
	if !reflect.DeepEqual(cfg.DataDirs, []string{"/mnt/d1", "/mnt/d2"}) {
		t.Errorf("DataDirs = %v", cfg.DataDirs)
	}
	if cfg.Concurrent != 8 {
		t.Errorf("Concurrent = %d, want 8", cfg.Concurrent)
	}
	if cfg.BenchDuration != 5*time.Second {
		t.Errorf("BenchDuration = %v, want 5s", cfg.BenchDuration)
	}
	if !reflect.DeepEqual(cfg.WarpExtraArgs, []string{"--autoterm"}) {
		t.Errorf("WarpExtraArgs = %v", cfg.WarpExtraArgs)
	}
	if !reflect.DeepEqual(cfg.Versions, []string{"v2", "v1"}) {
		t.Errorf("Versions = %v, want [v2 v1]", cfg.Versions)
	}
}

func TestParseArgs_LaunchPositional(t *testing.T) {
	testCases := []struct {
		name     string
		args     []string
		version  string
		srvArgs  []string
		wantFail bool
	}{
		{"version only", []string{"launch", "v1"}, "v1", nil, false},
		{"with server args", []string{"launch", "v1", "--", "server", "/data"}, "v1", []string{"server", "/data"}, false},
		{"missing version", []string{"launch"}, "", nil, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := ParseArgs(tc.args, io.Discard)
			if tc.wantFail {
				if err == nil {
					t.Fatal("ParseArgs() succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseArgs() error = %v", err)
			}
			if cfg.Version != tc.version {
				t.Errorf("Version = %q, want %q", cfg.Version, tc.version)
			}
			if !reflect.DeepEqual(cfg.ServerArgs, tc.srvArgs) {
				t.Errorf("ServerArgs = %v, want %v", cfg.ServerArgs, tc.srvArgs)
			}
		})
	}
}

func TestParseArgs_Errors(t *testing.T) {
	testCases := [][]string{
		{"bogus"},
		{"list", "extra"},
		{"run", "-no-such-flag"},
		{"run", "-port", "notanumber"},
	}
	for _, args := range testCases {
		if _, err := ParseArgs(args, io.Discard); err == nil {
			t.Errorf("ParseArgs(%q) succeeded, want error", args)
		}
	}
}

func TestParseArgs_HelpPrintsCategories(t *testing.T) {
	var buf bytes.Buffer
	_, err := ParseArgs([]string{"-h"}, &buf)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("ParseArgs(-h) error = %v, want flag.ErrHelp", err)
	}
	out := buf.String()
	for _, want := range []string{"Commands:", "Server:", "Benchmark:", "-data-dir list", "(default 9000)"} {
		if !strings.Contains(out, want) {
			t.Errorf("usage missing %q", want)
		}
	}
}

func TestParseArgs_ConfigFileThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	yml := "base_dir: /from/file\nconcurrent: 64\nbench_duration: 45s\ndata_dirs: [/mnt/x1, /mnt/x2]\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := ParseArgs([]string{"run", "-config", path, "-concurrent", "4"}, io.Discard)
	if err != nil {
		t.Fatalf("ParseArgs() error = %v", err)
	}
	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q, want %q", cfg.ConfigFile, path)
	}
	if cfg.BaseDir != "/from/file" {
		t.Errorf("BaseDir = %q, want value from file", cfg.BaseDir)
	}
	if cfg.BenchDuration != 45*time.Second {
		t.Errorf("BenchDuration = %v, want 45s", cfg.BenchDuration)
	}
	if cfg.Concurrent != 4 {
		t.Errorf("Concurrent = %d, want flag to override file", cfg.Concurrent)
	}
	if !reflect.DeepEqual(cfg.DataDirs, []string{"/mnt/x1", "/mnt/x2"}) {
		t.Errorf("DataDirs = %v", cfg.DataDirs)
	}
}

func TestFindConfigFlag(t *testing.T) {
	testCases := []struct {
		args []string
		want string
	}{
		{nil, ""},
		{[]string{"-config", "a.yaml"}, "a.yaml"},
		{[]string{"--config=b.yaml"}, "b.yaml"},
		{[]string{"-v", "-config=c.yaml"}, "c.yaml"},
		{[]string{"--", "-config", "d.yaml"}, ""},
		{[]string{"-config"}, ""},
	}
	for _, tc := range testCases {
		if got := findConfigFlag(tc.args); got != tc.want {
			t.Errorf("findConfigFlag(%q) = %q, want %q", tc.args, got, tc.want)
		}
	}
}

// =============================================================================
// LoadFile
// =============================================================================

func TestLoad_UnknownKey(t *testing.T) {
	cfg := DefaultConfig()
	if err := Load(strings.NewReader("no_such_key: 1\n"), cfg); err == nil {
		t.Error("Load() accepted unknown key")
	}
}

func TestLoad_Empty(t *testing.T) {
	cfg := DefaultConfig()
	if err := Load(strings.NewReader(""), cfg); err != nil {
		t.Errorf("Load(empty) error = %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want default kept", cfg.Port)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"), DefaultConfig()); err == nil {
		t.Error("LoadFile() on missing file succeeded")
	}
}

// =============================================================================
// Derived values
// =============================================================================

func TestVolumeArgs(t *testing.T) {
	testCases := []struct {
		in   []string
		want []string
	}{
		{nil, nil},
		{[]string{"/data"}, []string{"/data"}},
		{[]string{"/Volumes/data1", "/Volumes/data2", "/Volumes/data3", "/Volumes/data4"}, []string{"/Volumes/data{1...4}"}},
		{[]string{"/d1", "/d3"}, []string{"/d1", "/d3"}},
		{[]string{"/a1", "/b2"}, []string{"/a1", "/b2"}},
		{[]string{"/x", "/y"}, []string{"/x", "/y"}},
		{[]string{"/d01", "/d02"}, []string{"/d01", "/d02"}},
	}
	for _, tc := range testCases {
		if got := VolumeArgs(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("VolumeArgs(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestEffectiveServerArgs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.License = "/etc/minio.license"
	got := cfg.EffectiveServerArgs()
	want := []string{
		"server", "/Volumes/data{1...4}",
		"--address", ":9000",
		"--console-address", ":9001",
		"--license", "/etc/minio.license",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("EffectiveServerArgs() = %v, want %v", got, want)
	}

	cfg.ServerArgs = []string{"server", "/tmp/x"}
	if got := cfg.EffectiveServerArgs(); !reflect.DeepEqual(got, cfg.ServerArgs) {
		t.Errorf("explicit EffectiveServerArgs() = %v, want %v", got, cfg.ServerArgs)
	}
}

func TestServerEnv(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RootUser, cfg.RootPassword = "u", "p"
	env := strings.Join(cfg.ServerEnv(), " ")
	if env != "MINIO_ROOT_USER=u MINIO_ROOT_PASSWORD=p" {
		t.Errorf("ServerEnv() = %q", env)
	}
	cfg.ServerMetrics = true
	if !strings.Contains(strings.Join(cfg.ServerEnv(), " "), "MINIO_PROMETHEUS_AUTH_TYPE=public") {
		t.Error("ServerEnv() missing public metrics auth")
	}
}

func TestFinalize_WarpKeysDefaultToRoot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RootUser, cfg.RootPassword = "root", "secret"
	cfg.WarpAccessKey, cfg.WarpSecretKey = "", ""
	cfg.Finalize()
	if cfg.WarpAccessKey != "root" || cfg.WarpSecretKey != "secret" {
		t.Errorf("warp keys = %q/%q, want root/secret", cfg.WarpAccessKey, cfg.WarpSecretKey)
	}
	if cfg.S3Endpoint != "127.0.0.1:9000" {
		t.Errorf("S3Endpoint = %q, want 127.0.0.1:9000", cfg.S3Endpoint)
	}
	if cfg.ServerMetricsURL() != "http://127.0.0.1:9000/minio/v2/metrics/cluster" {
		t.Errorf("ServerMetricsURL() = %q", cfg.ServerMetricsURL())
	}
}

// =============================================================================
// Validate
// =============================================================================

func TestDefaultConfig_WarpDefaults(t *testing.T) {
	cfg := DefaultConfig()
	warp := bench.DefaultWarpConfig()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"WarpPath", cfg.WarpPath, warp.Path},
		{"WarpClientAddr", cfg.WarpClientAddr, warp.ClientAddr},
		{"WarpOperation", cfg.WarpOperation, warp.Operation},
		{"Bucket", cfg.Bucket, warp.Bucket},
		{"BenchDuration", cfg.BenchDuration, warp.Duration},
		{"ObjSize", cfg.ObjSize, warp.ObjSize},
		{"Concurrent", cfg.Concurrent, warp.Concurrent},
		{"NoClear", cfg.NoClear, warp.NoClear},
		{"WarpClientTimeout", cfg.WarpClientTimeout, warp.ClientStartTimeout},
		{"StopGrace", cfg.StopGrace, warp.StopGrace},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestValidate_Defaults(t *testing.T) {
	for _, cmd := range Commands {
		cfg := DefaultConfig()
		cfg.Command = cmd
		cfg.Version = "v1"
		cfg.Finalize()
		if err := Validate(cfg); err != nil {
			t.Errorf("Validate(%s defaults) error = %v", cmd, err)
		}
	}
}

func TestValidate_Fields(t *testing.T) {
	testCases := []struct {
		name    string
		command string
		mutate  func(*Config)
		field   string
	}{
		{"launch without version", CommandLaunch, func(c *Config) { c.Version = "" }, "version"},
		{"port range", CommandRun, func(c *Config) { c.Port = 70000 }, "port"},
		{"relative data dir", CommandClean, func(c *Config) { c.DataDirs = []string{"data1"} }, "data_dirs"},
		{"root data dir", CommandRun, func(c *Config) { c.DataDirs = []string{"/"} }, "data_dirs"},
		{"no data dirs", CommandRun, func(c *Config) { c.DataDirs = nil }, "data_dirs"},
		{"bad operation", CommandRun, func(c *Config) { c.WarpOperation = "upload" }, "warp_operation"},
		{"zero concurrency", CommandRun, func(c *Config) { c.Concurrent = 0 }, "concurrent"},
		{"bad obj size", CommandRun, func(c *Config) { c.ObjSize = "huge" }, "obj_size"},
		{"bad s3 size", CommandS3Bench, func(c *Config) { c.S3Sizes = []string{"0"} }, "s3_sizes"},
		{"s3 parallel", CommandS3Bench, func(c *Config) { c.S3Parallel = 0 }, "s3_parallel"},
		{"binary with slash", CommandList, func(c *Config) { c.Binary = "bin/minio" }, "binary"},
		{"log format", CommandReap, func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"scrape window", CommandRun, func(c *Config) {
			c.ServerMetrics = true
			c.ScrapeWindow = c.ScrapeInterval
		}, "scrape_window"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Command = tc.command
			cfg.Version = "v1"
			tc.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tc.field+":") {
				t.Errorf("Validate() = %v, want field %q", err, tc.field)
			}
			var ve ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("Validate() error is not a ValidationError: %T", err)
			}
		})
	}
}

func TestValidate_NoCleanSkipsVolumes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDirs = []string{"relative"}
	cfg.NoClean = true
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate() error = %v, want volumes ignored with NoClean", err)
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 0
	cfg.Concurrent = 0
	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() = nil")
	}
	if n := strings.Count(err.Error(), "\n") + 1; n != 2 {
		t.Errorf("Validate() reported %d errors, want 2: %v", n, err)
	}
}
