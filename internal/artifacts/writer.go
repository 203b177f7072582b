// Package artifacts writes per-stage JSON snapshots of a run to disk.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

const timestampLayout = "20060102_150405"

// Writer saves artifacts as <dir>/<domain>_<kind>_<YYYYmmdd_HHMMSS>.json.
type Writer struct {
	Dir string
	now func() time.Time
}

func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir, now: time.Now}
}

// Path returns the file an artifact of kind would be written to at ts.
func (w *Writer) Path(domain, kind string, ts time.Time) string {
	name := fmt.Sprintf("%s_%s_%s.json", sanitize(domain), kind, ts.UTC().Format(timestampLayout))
	return filepath.Join(w.Dir, name)
}

// Write marshals value as indented JSON and returns the file path.
func (w *Writer) Write(domain, kind string, value interface{}) (string, error) {
	return w.write(domain, kind, value, w.now())
}

func (w *Writer) write(domain, kind string, value interface{}, ts time.Time) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", kind, err)
	}
	path := w.Path(domain, kind, ts)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// WriteReport saves every artifact of a report under one timestamp and
// returns the written paths sorted by name.
func (w *Writer) WriteReport(report *types.RunReport) ([]string, error) {
	ts := w.now()
	var paths []string
	for kind, value := range report.Artifacts() {
		path, err := w.write(report.Summary.Domain, kind, value, ts)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

func sanitize(domain string) string {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return "run"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' || r == ' ' {
			return '_'
		}
		return r
	}, domain)
}
