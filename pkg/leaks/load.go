package leaks

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

// Load reads labelled leak records from a JSON or YAML file. Records
// with no label are kept and simply never counted.
func Load(path string) ([]types.LeakRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read leak records: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}

	// YAML is a superset of JSON, so one decoder covers both formats.
	var records []types.LeakRecord
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse leak records %s: %w", path, err)
	}
	return records, nil
}

// Labeler decides whether a leak is sensitive.
type Labeler interface {
	Label(leak Leak) string
}

// RuleLabeler marks credential and API-key lines as sensitive.
type RuleLabeler struct{}

func (RuleLabeler) Label(leak Leak) string {
	switch leak.Type {
	case TypeCredentials, TypeAPIKey:
		return types.LabelSensitive
	}
	return "benign"
}

// Records labels leaks and attributes them to subdomain.
func Records(leaks []Leak, subdomain string, labeler Labeler) []types.LeakRecord {
	out := make([]types.LeakRecord, 0, len(leaks))
	for _, l := range leaks {
		out = append(out, types.LeakRecord{
			Source:    l.Source,
			Subdomain: subdomain,
			Label:     labeler.Label(l),
			Content:   l.Content,
		})
	}
	return out
}
