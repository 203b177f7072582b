package portscan

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

const (
	minPort = 0
	maxPort = 65535
)

// ParsePortSpec expands a comma-separated list of ports and inclusive
// ranges ("22,80,8000-8010") into an ascending, de-duplicated slice.
// Any malformed item fails the whole spec.
func ParsePortSpec(spec string) ([]int, error) {
	seen := make(map[int]struct{})

	for _, item := range strings.Split(spec, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		lo, hi, err := parseItem(item)
		if err != nil {
			return nil, types.NewBatchError(types.CategoryInvalidPortSpec, err)
		}
		for port := lo; port <= hi; port++ {
			seen[port] = struct{}{}
		}
	}

	if len(seen) == 0 {
		return nil, types.NewBatchError(types.CategoryInvalidPortSpec,
			fmt.Errorf("port spec %q names no ports", spec))
	}

	ports := make([]int, 0, len(seen))
	for port := range seen {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports, nil
}

// FormatPortSpec renders ports back into the compact range notation.
func FormatPortSpec(ports []int) string {
	if len(ports) == 0 {
		return ""
	}
	sorted := append([]int(nil), ports...)
	sort.Ints(sorted)

	var b strings.Builder
	start, prev := sorted[0], sorted[0]
	flush := func() {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		if start == prev {
			b.WriteString(strconv.Itoa(start))
		} else {
			fmt.Fprintf(&b, "%d-%d", start, prev)
		}
	}
	for _, port := range sorted[1:] {
		if port == prev {
			continue
		}
		if port == prev+1 {
			prev = port
			continue
		}
		flush()
		start, prev = port, port
	}
	flush()
	return b.String()
}

func parseItem(item string) (int, int, error) {
	loText, hiText, isRange := strings.Cut(item, "-")
	if !isRange {
		port, err := parsePort(item)
		return port, port, err
	}

	lo, err := parsePort(strings.TrimSpace(loText))
	if err != nil {
		return 0, 0, err
	}
	hi, err := parsePort(strings.TrimSpace(hiText))
	if err != nil {
		return 0, 0, err
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("reversed port range %q", item)
	}
	return lo, hi, nil
}

func parsePort(text string) (int, error) {
	port, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", text)
	}
	if port < minPort || port > maxPort {
		return 0, fmt.Errorf("port %d outside %d-%d", port, minPort, maxPort)
	}
	return port, nil
}
