package core

import (
	"context"
	"errors"
	"time"

	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

// Telemetry receives run and stage measurements. Implementations must be
// safe for concurrent use.
type Telemetry interface {
	RecordRun(ctx context.Context, status types.RunStatus, duration time.Duration)
	RecordStage(ctx context.Context, stage string, assets, failures int, duration time.Duration)
	RecordDropped(ctx context.Context, stage string, count int)
	Close() error
}

// ErrNotFound is returned by stores for unknown run ids or artifacts.
var ErrNotFound = errors.New("not found")

type ResultStore interface {
	SaveRun(ctx context.Context, report *types.RunReport) error
	GetRun(ctx context.Context, runID string) (*types.RunSummary, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*types.RunSummary, error)
	GetRiskRecords(ctx context.Context, runID string) ([]types.RiskRecord, error)
	GetArtifact(ctx context.Context, runID, kind string) ([]byte, error)
	Close() error
}

type RunFilter struct {
	Domain string
	Status types.RunStatus
	Limit  int
	Offset int
}

// Cache is a small string cache keyed by namespace-free keys.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Close() error
}
