// Package enumerate supplies the hostname list a scan starts from.
package enumerate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/surface/internal/logger"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

// Enumerator discovers candidate hostnames for a domain.
type Enumerator interface {
	Enumerate(ctx context.Context, domain string) ([]string, error)
}

// Error reports a failed enumeration. It always carries the
// enumeration_failed category when wrapped in a batch error.
type Error struct {
	Source   string
	Domain   string
	TimedOut bool
	Err      error
}

func (e *Error) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("enumerate %s via %s: timed out", e.Domain, e.Source)
	}
	return fmt.Sprintf("enumerate %s via %s: %v", e.Domain, e.Source, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// waitDelay bounds how long a killed tool's children may hold its output open.
const waitDelay = 2 * time.Second

// DefaultCommand runs subfinder in passive mode.
const DefaultCommand = "subfinder -d {domain} -silent"

// Command runs an external enumeration tool and reads one hostname per
// line from its standard output. "{domain}" in Args is replaced by the
// target domain.
type Command struct {
	Path    string
	Args    []string
	Timeout time.Duration

	logger *logger.Logger
}

// NewCommand splits a command line such as DefaultCommand into a Command.
func NewCommand(line string, timeout time.Duration, log *logger.Logger) (*Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, types.NewBatchError(types.CategoryInvalidConfig, errors.New("empty enumerator command"))
	}
	return &Command{
		Path:    fields[0],
		Args:    fields[1:],
		Timeout: timeout,
		logger:  log.WithComponent("enumerate"),
	}, nil
}

func (c *Command) Enumerate(ctx context.Context, domain string) ([]string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = strings.ReplaceAll(a, "{domain}", domain)
	}

	start := time.Now()
	c.logger.Infow("Running enumerator", "command", c.Path, "domain", domain)

	// #nosec G204 - command comes from operator configuration
	cmd := exec.CommandContext(ctx, c.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	out, err := cmd.Output()
	if err != nil {
		enumErr := &Error{Source: c.Path, Domain: domain, Err: err}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			enumErr.TimedOut = true
			enumErr.Err = ctx.Err()
		} else if msg := strings.TrimSpace(stderr.String()); msg != "" {
			enumErr.Err = fmt.Errorf("%w: %s", err, msg)
		}
		c.logger.Errorw("Enumerator failed",
			"command", c.Path,
			"domain", domain,
			"error", enumErr,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, enumErr
	}

	hosts := parseLines(out)
	c.logger.Infow("Enumerator completed",
		"command", c.Path,
		"domain", domain,
		"hostnames", len(hosts),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return hosts, nil
}

// Static returns a fixed hostname list whatever the domain.
type Static []string

func (s Static) Enumerate(ctx context.Context, _ string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]string(nil), s...), nil
}

// Merged runs each enumerator in turn and returns the union of their
// hostnames in first-seen order. Any failing source fails the merge.
type Merged []Enumerator

func (m Merged) Enumerate(ctx context.Context, domain string) ([]string, error) {
	seen := make(map[string]struct{})
	var hosts []string
	for _, e := range m {
		found, err := e.Enumerate(ctx, domain)
		if err != nil {
			return nil, err
		}
		for _, h := range found {
			key := strings.ToLower(strings.TrimSpace(h))
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			hosts = append(hosts, h)
		}
	}
	return hosts, nil
}

// FileEntry is one element of a JSON asset file.
type FileEntry struct {
	Subdomain      string `json:"subdomain"`
	IP             string `json:"ip,omitempty"`
	SubdomainCount int    `json:"subdomain_count,omitempty"`
}

// File reads hostnames from a newline-delimited list or a JSON asset
// file. Subdomain counts found in a JSON file are available from
// SubdomainCounts after Enumerate.
type File struct {
	Path string

	counts map[types.AssetIdentity]int
}

func NewFile(path string) *File {
	return &File{Path: path}
}

func (f *File) Enumerate(ctx context.Context, domain string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, &Error{Source: f.Path, Domain: domain, Err: err}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return parseLines(data), nil
	}

	var entries []FileEntry
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, &Error{Source: f.Path, Domain: domain, Err: fmt.Errorf("parse asset file: %w", err)}
	}

	f.counts = make(map[types.AssetIdentity]int)
	hosts := make([]string, 0, len(entries))
	for _, e := range entries {
		hosts = append(hosts, e.Subdomain)
		if e.SubdomainCount < 1 {
			continue
		}
		if id, err := types.NewAssetIdentity(e.Subdomain); err == nil {
			f.counts[id] = e.SubdomainCount
		}
	}
	return hosts, nil
}

// SubdomainCounts returns the per-asset counts read by the last Enumerate.
func (f *File) SubdomainCounts() map[types.AssetIdentity]int {
	return f.counts
}

func parseLines(data []byte) []string {
	var hosts []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		hosts = append(hosts, line)
	}
	return hosts
}
