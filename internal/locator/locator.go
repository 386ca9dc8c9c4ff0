// Package locator resolves server versions to executables under a base directory.
//
// A base directory holds one entry per version. An entry is either a
// directory containing the server binary or a standalone executable
// named after the version:
//
//	~/minio_versions/
//	  RELEASE.2024-01-01T00-00-00Z/minio
//	  RELEASE.2024-02-01T00-00-00Z          (executable file)
package locator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when no candidate path exists for a version.
	ErrNotFound = errors.New("binary not found")

	// ErrEmptyVersion is returned for an empty version identifier.
	ErrEmptyVersion = errors.New("empty version")
)

// NotFoundError lists every path that was tried.
type NotFoundError struct {
	Version string
	Tried   []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("binary for version %q not found (tried %s)", e.Version, strings.Join(e.Tried, ", "))
}

// Unwrap lets callers match with errors.Is(err, ErrNotFound).
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Locate resolves version to an executable path. Candidates are tried in order:
//
//  1. <base>/<version>/<binary>
//  2. <base>/<version> when it is a regular file
//  3. <base>/<binary>
//
// For "latest" the version entry is <base>/latest, so steps 1 and 2 already
// cover it. The first candidate that exists wins. No process is started.
func Locate(baseDir, version, binary string) (string, error) {
	if strings.TrimSpace(version) == "" {
		return "", ErrEmptyVersion
	}

	entry := filepath.Join(baseDir, version)
	candidates := []struct {
		path    string
		regular bool
	}{
		{filepath.Join(entry, binary), false},
		{entry, true},
		{filepath.Join(baseDir, binary), false},
	}

	tried := make([]string, 0, len(candidates))
	for _, c := range candidates {
		tried = append(tried, c.path)
		info, err := os.Stat(c.path)
		if err != nil {
			continue
		}
		if c.regular && !info.Mode().IsRegular() {
			continue
		}
		if info.IsDir() {
			continue
		}
		return c.path, nil
	}

	return "", &NotFoundError{Version: version, Tried: tried}
}

// Discover lists version identifiers found in baseDir, sorted ascending.
// An entry counts when it contains the binary or is itself an executable
// regular file. Hidden entries are ignored. A missing baseDir yields an
// empty list.
func Discover(baseDir, binary string) ([]string, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read base directory: %w", err)
	}

	var versions []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(baseDir, name)

		if e.IsDir() {
			if _, err := os.Stat(filepath.Join(path, binary)); err == nil {
				versions = append(versions, name)
			}
			continue
		}

		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if info.Mode().Perm()&0o111 != 0 {
			versions = append(versions, name)
		}
	}

	sort.Strings(versions)
	return versions, nil
}

// Newest returns a copy of versions in reverse lexicographic order.
// Release identifiers embed a timestamp, so this puts the newest first.
func Newest(versions []string) []string {
	out := append([]string(nil), versions...)
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out
}
