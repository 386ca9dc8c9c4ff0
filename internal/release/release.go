// Package release downloads server release binaries from an HTTP archive
// index into the base-directory layout the locator reads.
package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-retryablehttp"
)

// LatestVersion is the directory the unversioned binary is stored under.
const LatestVersion = "latest"

// ErrEmptyIndex is returned when the index lists no downloadable binaries.
var ErrEmptyIndex = errors.New("no release binaries in index")

var excludedSuffixes = []string{".asc", ".minisig", ".sha256sum"}

var hrefPattern = regexp.MustCompile(`href="([^"]+)"`)

// DefaultIndexURL returns the public archive index for goos/goarch.
func DefaultIndexURL(goos, goarch string) string {
	return fmt.Sprintf("https://dl.min.io/server/minio/release/%s-%s/archive/", goos, goarch)
}

// Config holds downloader settings.
type Config struct {
	IndexURL string
	BaseDir  string
	// Binary is the file name written inside each version directory.
	Binary  string
	Retries int
	// Timeout bounds each file download (and the index fetch).
	Timeout time.Duration
	// Versions restricts downloads to these version names when non-empty.
	Versions []string
	// Output receives one progress line per file; nil discards.
	Output     io.Writer
	Logger     *slog.Logger
	HTTPClient *http.Client
}

// FileError records one failed download.
type FileError struct {
	Name string
	Err  error
}

// Summary reports what DownloadAll did.
type Summary struct {
	Found      int
	Downloaded []string
	Skipped    []string
	Failed     []FileError
	Bytes      int64
}

// Downloader fetches binaries listed by an archive index.
type Downloader struct {
	cfg    Config
	client *retryablehttp.Client
	logger *slog.Logger
	out    io.Writer
}

// New creates a Downloader. Missing settings get defaults for the
// running platform.
func New(cfg Config) *Downloader {
	if cfg.IndexURL == "" {
		cfg.IndexURL = DefaultIndexURL(runtime.GOOS, runtime.GOARCH)
	}
	if !strings.HasSuffix(cfg.IndexURL, "/") {
		cfg.IndexURL += "/"
	}
	if cfg.Binary == "" {
		cfg.Binary = "minio"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	out := cfg.Output
	if out == nil {
		out = io.Discard
	}

	client := retryablehttp.NewClient()
	client.RetryMax = max(cfg.Retries, 0)
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 10 * time.Second
	client.Logger = cfg.Logger
	if cfg.HTTPClient != nil {
		client.HTTPClient = cfg.HTTPClient
	}

	return &Downloader{cfg: cfg, client: client, logger: cfg.Logger, out: out}
}

// ParseIndex extracts downloadable file names from index HTML: hrefs that
// start with "minio", excluding directories and signature/checksum files.
// The result is sorted and deduplicated.
func ParseIndex(html string) []string {
	var files []string
	for _, m := range hrefPattern.FindAllStringSubmatch(html, -1) {
		href := m[1]
		if strings.HasSuffix(href, "/") || !strings.HasPrefix(href, "minio") {
			continue
		}
		if slices.ContainsFunc(excludedSuffixes, func(s string) bool { return strings.HasSuffix(href, s) }) {
			continue
		}
		files = append(files, href)
	}
	slices.Sort(files)
	return slices.Compact(files)
}

// VersionFor maps an index file name to its version directory name:
// "minio" is LatestVersion, "minio.RELEASE.X" is "RELEASE.X", anything
// else keeps its own name.
func VersionFor(filename string) string {
	if filename == "minio" {
		return LatestVersion
	}
	if v, ok := strings.CutPrefix(filename, "minio."); ok && strings.HasPrefix(v, "RELEASE.") {
		return strings.TrimSpace(v)
	}
	return filename
}

// Destination returns the binary path for filename under the base dir.
func (d *Downloader) Destination(filename string) string {
	return filepath.Join(d.cfg.BaseDir, VersionFor(filename), d.cfg.Binary)
}

// List fetches the index and returns the downloadable file names.
func (d *Downloader) List(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, d.cfg.IndexURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch index: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch index: http status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	return ParseIndex(string(body)), nil
}

// DownloadAll downloads every listed binary that is not already present.
// Individual failures are recorded in the summary and do not stop the
// loop; the returned error is non-nil only when the index cannot be read
// or ctx is cancelled.
func (d *Downloader) DownloadAll(ctx context.Context) (Summary, error) {
	var sum Summary

	files, err := d.List(ctx)
	if err != nil {
		return sum, err
	}
	if len(d.cfg.Versions) > 0 {
		files = slices.DeleteFunc(files, func(f string) bool {
			return !slices.Contains(d.cfg.Versions, VersionFor(f))
		})
	}
	sum.Found = len(files)
	if len(files) == 0 {
		return sum, ErrEmptyIndex
	}
	fmt.Fprintf(d.out, "Found %d binaries in %s\n", len(files), d.cfg.IndexURL)

	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		dest := d.Destination(name)
		if _, err := os.Stat(dest); err == nil {
			fmt.Fprintf(d.out, "exists   %s\n", dest)
			sum.Skipped = append(sum.Skipped, name)
			continue
		}

		n, err := d.Fetch(ctx, name, dest)
		if err != nil {
			fmt.Fprintf(d.out, "failed   %s: %v\n", name, err)
			d.logger.Warn("release_download_failed", "file", name, "error", err)
			sum.Failed = append(sum.Failed, FileError{Name: name, Err: err})
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			continue
		}
		fmt.Fprintf(d.out, "fetched  %s (%s)\n", dest, humanize.IBytes(uint64(n)))
		d.logger.Info("release_downloaded", "file", name, "path", dest, "bytes", n)
		sum.Downloaded = append(sum.Downloaded, name)
		sum.Bytes += n
	}
	return sum, nil
}

// Fetch downloads one index entry to dest. The body is written to
// dest+".part" and renamed into place only when complete; the result is
// made executable.
func (d *Downloader) Fetch(ctx context.Context, name, dest string) (int64, error) {
	src, err := d.fileURL(name)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return 0, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("http status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	tmp := dest + ".part"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, resp.Body)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, dest)
	}
	if err != nil {
		os.Remove(tmp)
		return n, err
	}
	return n, os.Chmod(dest, 0o755)
}

func (d *Downloader) fileURL(name string) (string, error) {
	base, err := url.Parse(d.cfg.IndexURL)
	if err != nil {
		return "", fmt.Errorf("parse index url: %w", err)
	}
	ref, err := url.Parse(name)
	if err != nil {
		return "", fmt.Errorf("parse file name %q: %w", name, err)
	}
	return base.ResolveReference(ref).String(), nil
}
