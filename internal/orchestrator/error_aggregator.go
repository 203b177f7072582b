package orchestrator

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

// AssetError is a per-asset failure recorded by one probe stage.
type AssetError struct {
	Stage    string
	Identity types.AssetIdentity
	Message  string
}

func (e AssetError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Stage, e.Identity, e.Message)
}

// ErrorAggregator collects per-asset failures from parallel stages.
// Safe for concurrent use.
type ErrorAggregator struct {
	errors []AssetError
	mu     sync.Mutex
}

func NewErrorAggregator() *ErrorAggregator {
	return &ErrorAggregator{}
}

// Add records a failure. Empty messages are ignored.
func (ea *ErrorAggregator) Add(stage string, id types.AssetIdentity, message string) {
	if message == "" {
		return
	}
	ea.mu.Lock()
	defer ea.mu.Unlock()
	ea.errors = append(ea.errors, AssetError{Stage: stage, Identity: id, Message: message})
}

func (ea *ErrorAggregator) Count() int {
	ea.mu.Lock()
	defer ea.mu.Unlock()
	return len(ea.errors)
}

// ByStage returns the failure count for each stage.
func (ea *ErrorAggregator) ByStage() map[string]int {
	ea.mu.Lock()
	defer ea.mu.Unlock()
	counts := make(map[string]int)
	for _, e := range ea.errors {
		counts[e.Stage]++
	}
	return counts
}

// GetErrors returns a copy of the collected failures ordered by stage
// then identity.
func (ea *ErrorAggregator) GetErrors() []AssetError {
	ea.mu.Lock()
	result := make([]AssetError, len(ea.errors))
	copy(result, ea.errors)
	ea.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Stage != result[j].Stage {
			return result[i].Stage < result[j].Stage
		}
		return result[i].Identity < result[j].Identity
	})
	return result
}

func (ea *ErrorAggregator) Error() string {
	errs := ea.GetErrors()
	if len(errs) == 0 {
		return ""
	}
	if len(errs) == 1 {
		return errs[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d asset errors:\n", len(errs)))
	for i, err := range errs {
		sb.WriteString(fmt.Sprintf("  %d. %v\n", i+1, err))
	}
	return sb.String()
}

// Summary returns a one-line description for the run summary log.
func (ea *ErrorAggregator) Summary(totalOperations int) string {
	count := ea.Count()
	if count == 0 {
		return fmt.Sprintf("All %d operations succeeded", totalOperations)
	}
	if totalOperations == 0 {
		return fmt.Sprintf("%d operations failed", count)
	}
	failureRate := float64(count) / float64(totalOperations) * 100
	return fmt.Sprintf("%d/%d operations failed (%.1f%% failure rate)",
		count, totalOperations, failureRate)
}
