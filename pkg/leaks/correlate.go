// Package leaks turns leaked-data records into per-asset exposure counts.
package leaks

import (
	"strings"

	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

const unknownKey = "unknown"

// Correlate counts sensitive leak records per asset. A record is keyed by
// its subdomain, falling back to its source. Keys that are valid
// hostnames are normalised so they join with resolved identities.
func Correlate(records []types.LeakRecord) map[types.AssetIdentity]int {
	counts := make(map[types.AssetIdentity]int)
	for _, r := range records {
		if r.Label != types.LabelSensitive {
			continue
		}
		counts[keyFor(r)]++
	}
	return counts
}

func keyFor(r types.LeakRecord) types.AssetIdentity {
	raw := strings.TrimSpace(r.Subdomain)
	if raw == "" {
		raw = strings.TrimSpace(r.Source)
	}
	if raw == "" {
		return unknownKey
	}
	if id, err := types.NewAssetIdentity(raw); err == nil {
		return id
	}
	return types.AssetIdentity(raw)
}
