package orchestrator

import (
	"time"

	"github.com/CodeMonkeyCybersecurity/surface/pkg/discovery/dns"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

// RunRequest is the input of one pipeline run.
type RunRequest struct {
	Domain          string
	Hostnames       []string
	Leaks           []types.LeakRecord
	SubdomainCounts map[types.AssetIdentity]int
}

// PhaseResult contains timing for a completed phase.
type PhaseResult struct {
	Phase     types.RunStatus `json:"phase"`
	StartTime time.Time       `json:"start_time"`
	Duration  time.Duration   `json:"duration"`
	Error     string          `json:"error,omitempty"`
}

// RunResult is returned for every run, successful or not. For runs that
// did not reach Done the report carries only its summary.
type RunResult struct {
	Report        *types.RunReport `json:"report"`
	Transitions   []Transition     `json:"transitions"`
	Phases        []PhaseResult    `json:"phases"`
	ResolveStats  dns.ResolveStats `json:"resolve_stats"`
	AssetErrors   []AssetError     `json:"-"`
	ArtifactPaths []string         `json:"artifact_paths,omitempty"`
}

func (r *RunResult) Status() types.RunStatus {
	return r.Report.Summary.Status
}
