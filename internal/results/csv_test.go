package results

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestCSVLog_AppendWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speeds.csv")
	log := NewCSVLog(path)

	for _, row := range []Row{
		{"RELEASE.2024-01-01T00-00-00Z", 612.5},
		{"RELEASE.2024-02-01T00-00-00Z", 700},
	} {
		if err := log.Append(row); err != nil {
			t.Fatalf("Append(%v) error = %v", row, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "version,MiBps\n" +
		"RELEASE.2024-01-01T00-00-00Z,612.5\n" +
		"RELEASE.2024-02-01T00-00-00Z,700\n"
	if string(data) != want {
		t.Errorf("file = %q\nwant %q", data, want)
	}
}

func TestCSVLog_AppendsToExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speeds.csv")
	if err := os.WriteFile(path, []byte("version,MiBps\nold,1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := NewCSVLog(path).Append(Row{"new", 2}); err != nil {
		t.Fatal(err)
	}

	rows, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	want := []Row{{"old", 1}, {"new", 2}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("Read() = %v, want %v", rows, want)
	}
}

func TestCSVLog_EmptyFileGetsHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speeds.csv")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := NewCSVLog(path).Append(Row{"v", 3.25}); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), "version,MiBps\n") {
		t.Errorf("file = %q, want header first", data)
	}
}

func TestCSVLog_DefaultPath(t *testing.T) {
	if got := NewCSVLog("").Path(); got != DefaultPath {
		t.Errorf("Path() = %q, want %q", got, DefaultPath)
	}
}

func TestParse_Errors(t *testing.T) {
	testCases := []string{
		"version,MiBps\nv,fast\n",
		"version,MiBps\nv,1,extra\n",
	}
	for _, in := range testCases {
		if _, err := Parse(strings.NewReader(in)); err == nil {
			t.Errorf("Parse(%q) succeeded", in)
		}
	}
}

func TestFormatMiBps(t *testing.T) {
	testCases := map[float64]string{
		612.5:   "612.5",
		700:     "700",
		0.125:   "0.125",
		1234.56: "1234.56",
	}
	for in, want := range testCases {
		if got := FormatMiBps(in); got != want {
			t.Errorf("FormatMiBps(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestRead_Latest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speeds.csv")
	log := NewCSVLog(path)
	for _, r := range []Row{{"v1", 100}, {"v2", 250.5}, {"v1", 120}} {
		if err := log.Append(r); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Read() = %d rows, want 3", len(rows))
	}

	latest := Latest(rows)
	want := map[string]float64{"v1": 120, "v2": 250.5}
	if !reflect.DeepEqual(latest, want) {
		t.Errorf("Latest() = %v, want %v", latest, want)
	}
}

func TestRead_MissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "none.csv"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Read() error = %v, want ErrNotExist", err)
	}
}
