package orchestrator

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/CodeMonkeyCybersecurity/surface/internal/artifacts"
	"github.com/CodeMonkeyCybersecurity/surface/internal/config"
	"github.com/CodeMonkeyCybersecurity/surface/internal/core"
	"github.com/CodeMonkeyCybersecurity/surface/internal/logger"
	"github.com/CodeMonkeyCybersecurity/surface/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/discovery/dns"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/risk"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

type lookupFunc func(ctx context.Context, host string) ([]string, error)

func (f lookupFunc) LookupHost(ctx context.Context, host string) ([]string, error) {
	return f(ctx, host)
}

var addresses = map[string]string{
	"a.example.com": "192.0.2.1",
	"b.example.com": "192.0.2.2",
}

func staticLookup(ctx context.Context, host string) ([]string, error) {
	if addr, ok := addresses[host]; ok {
		return []string{addr}, nil
	}
	return nil, dns.ErrNoAddresses
}

type fakePorts struct {
	fn func(ctx context.Context, assets []types.ResolvedAsset) ([]types.PortScanResult, error)
}

func (f fakePorts) Probe(ctx context.Context, assets []types.ResolvedAsset, _ string) ([]types.PortScanResult, error) {
	return f.fn(ctx, assets)
}

type fakeCerts struct {
	fn func(ctx context.Context, assets []types.ResolvedAsset) ([]types.CertificateInfo, error)
}

func (f fakeCerts) Inspect(ctx context.Context, assets []types.ResolvedAsset) ([]types.CertificateInfo, error) {
	return f.fn(ctx, assets)
}

type fakeTech struct {
	fn func(ctx context.Context, ids []types.AssetIdentity) ([]types.TechnologyResult, error)
}

func (f fakeTech) Fingerprint(ctx context.Context, ids []types.AssetIdentity) ([]types.TechnologyResult, error) {
	return f.fn(ctx, ids)
}

func openObs(ports ...int) []types.PortObservation {
	var obs []types.PortObservation
	for _, p := range ports {
		obs = append(obs, types.PortObservation{Port: p, Protocol: "tcp", State: types.PortStateOpen})
	}
	return obs
}

// defaultStages returns probes that answer instantly:
// a.example.com has 22 and 443 open and a certificate expiring in 10 days,
// b.example.com has 80 open, a port probe error and a healthy certificate.
func defaultStages() Stages {
	return Stages{
		Resolver: dns.NewResolverWithLookup(lookupFunc(staticLookup), config.DefaultConfig().Resolver, logger.NewNop(), telemetry.NewNoop()),
		Ports: fakePorts{fn: func(ctx context.Context, assets []types.ResolvedAsset) ([]types.PortScanResult, error) {
			var out []types.PortScanResult
			for _, a := range assets {
				r := types.PortScanResult{Identity: a.Identity, Address: a.Address}
				switch a.Identity {
				case "a.example.com":
					r.Observations = openObs(22, 443)
				case "b.example.com":
					r.Observations = openObs(80)
					r.Error = "connect: network is unreachable"
				}
				out = append(out, r)
			}
			return out, nil
		}},
		Certs: fakeCerts{fn: func(ctx context.Context, assets []types.ResolvedAsset) ([]types.CertificateInfo, error) {
			var out []types.CertificateInfo
			for _, a := range assets {
				switch a.Identity {
				case "a.example.com":
					out = append(out, types.CertOK(a.Identity, types.CertificateDetails{DaysToExpiry: 10, Trusted: true}))
				case "b.example.com":
					out = append(out, types.CertOK(a.Identity, types.CertificateDetails{DaysToExpiry: 200, Trusted: true}))
				}
			}
			return out, nil
		}},
		Fingerprinter: fakeTech{fn: func(ctx context.Context, ids []types.AssetIdentity) ([]types.TechnologyResult, error) {
			out := make([]types.TechnologyResult, 0, len(ids))
			for _, id := range ids {
				out = append(out, types.TechnologyResult{Identity: id, Technologies: []string{"Nginx"}})
			}
			return out, nil
		}},
	}
}

func blockingPorts() fakePorts {
	return fakePorts{fn: func(ctx context.Context, _ []types.ResolvedAsset) ([]types.PortScanResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

type memoryStore struct {
	mu   sync.Mutex
	runs map[string]*types.RunReport
}

func newMemoryStore() *memoryStore {
	return &memoryStore{runs: make(map[string]*types.RunReport)}
}

func (m *memoryStore) SaveRun(_ context.Context, report *types.RunReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[report.Summary.ID] = report
	return nil
}

func (m *memoryStore) GetRun(_ context.Context, id string) (*types.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &r.Summary, nil
}

func (m *memoryStore) ListRuns(context.Context, core.RunFilter) ([]*types.RunSummary, error) {
	return nil, nil
}

func (m *memoryStore) GetRiskRecords(_ context.Context, id string) ([]types.RiskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return r.Risks, nil
}

func (m *memoryStore) GetArtifact(context.Context, string, string) ([]byte, error) {
	return nil, core.ErrNotFound
}

func (m *memoryStore) Close() error { return nil }

func newTestPipeline(cfg *config.Config, stages Stages, model risk.Model, opts ...Option) *Pipeline {
	return NewPipeline(cfg, stages, model, logger.NewNop(), telemetry.NewNoop(), opts...)
}

func statuses(ts []Transition) []types.RunStatus {
	var out []types.RunStatus
	for _, t := range ts {
		out = append(out, t.To)
	}
	return out
}

func TestRunEndToEnd(t *testing.T) {
	cfg := config.DefaultConfig()
	store := newMemoryStore()
	dir := t.TempDir()

	p := newTestPipeline(cfg, defaultStages(), risk.DefaultLinearModel(),
		WithStore(store), WithArtifacts(artifacts.NewWriter(dir)))

	req := RunRequest{
		Domain:    "example.com",
		Hostnames: []string{"a.example.com", "B.example.com", "c.example.com", "bad_host!", "a.example.com"},
		Leaks: []types.LeakRecord{
			{Source: "paste", Subdomain: "a.example.com", Label: types.LabelSensitive},
			{Source: "paste", Subdomain: "b.example.com", Label: "benign"},
		},
		SubdomainCounts: map[types.AssetIdentity]int{"b.example.com": 3},
	}

	result, err := p.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusDone, result.Status())
	assert.Equal(t, []types.RunStatus{
		types.RunStatusResolving, types.RunStatusProbing, types.RunStatusAggregating, types.RunStatusDone,
	}, statuses(result.Transitions))
	assert.Len(t, result.Phases, 3)

	report := result.Report
	assert.Equal(t, 3, report.Summary.AssetCount)
	assert.Equal(t, 2, report.Summary.Dropped)
	require.NotNil(t, report.Summary.CompletedAt)

	// every resolved asset, including the unresolved one, gets a record
	require.Len(t, report.Risks, 3)
	assert.Equal(t, types.AssetIdentity("a.example.com"), report.Risks[0].Identity)
	assert.Equal(t, types.FeatureVector{OpenPorts: 2, HighRiskOpenPorts: 1, WeakTLS: 1, SensitiveLeaks: 1, SubdomainCount: 1}, report.Risks[0].Details)
	assert.Equal(t, 2*2+15+20+10+1, report.Risks[0].RiskScore)
	assert.Equal(t, types.FeatureVector{OpenPorts: 1, SubdomainCount: 3}, report.Risks[1].Details)
	assert.Equal(t, types.FeatureVector{SubdomainCount: 1}, report.Risks[2].Details)
	for _, r := range report.Risks {
		assert.GreaterOrEqual(t, r.RiskScore, 0)
		assert.LessOrEqual(t, r.RiskScore, 100)
	}
	assert.InDelta(t, risk.Summarize(report.Risks), report.Summary.MeanRisk, 1e-9)

	// only resolved identities are fingerprinted
	assert.Len(t, report.Technologies, 2)

	require.Len(t, result.AssetErrors, 1)
	assert.Equal(t, "ports", result.AssetErrors[0].Stage)
	assert.Equal(t, types.AssetIdentity("b.example.com"), result.AssetErrors[0].Identity)

	saved, err := store.GetRun(context.Background(), report.Summary.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusDone, saved.Status)

	assert.Len(t, result.ArtifactPaths, 6)
	for _, path := range result.ArtifactPaths {
		_, err := os.Stat(path)
		assert.NoError(t, err)
	}
}

func TestRunLogsFailuresByStage(t *testing.T) {
	observed, logs := observer.New(zapcore.DebugLevel)
	p := NewPipeline(config.DefaultConfig(), defaultStages(), risk.DefaultLinearModel(),
		logger.Wrap(zap.New(observed)), telemetry.NewNoop())

	_, err := p.Run(context.Background(), RunRequest{
		Domain:    "example.com",
		Hostnames: []string{"a.example.com", "b.example.com"},
	})
	require.NoError(t, err)

	completed := logs.FilterMessage("Run completed").All()
	require.Len(t, completed, 1)
	assert.Equal(t, map[string]int{"ports": 1}, completed[0].ContextMap()["failures_by_stage"])

	detail := logs.FilterMessage("Asset failures").All()
	require.Len(t, detail, 1)
	assert.Contains(t, detail[0].ContextMap()["detail"], "network is unreachable")
}

func TestRunBatchErrors(t *testing.T) {
	tests := []struct {
		name      string
		portSpec  string
		hostnames []string
		model     risk.Model
		category  types.ErrorCategory
		path      []types.RunStatus
	}{
		{
			name:      "invalid port spec",
			portSpec:  "22,abc",
			hostnames: []string{"a.example.com"},
			model:     risk.DefaultLinearModel(),
			category:  types.CategoryInvalidPortSpec,
			path:      []types.RunStatus{types.RunStatusFailed},
		},
		{
			name:      "no valid hostnames",
			portSpec:  "80",
			hostnames: []string{"", "bad_host!"},
			model:     risk.DefaultLinearModel(),
			category:  types.CategoryEmptyIdentityList,
			path:      []types.RunStatus{types.RunStatusResolving, types.RunStatusFailed},
		},
		{
			name:      "model arity",
			portSpec:  "80",
			hostnames: []string{"a.example.com"},
			model:     &risk.LinearModel{Weights: []float64{1, 2, 3, 4}},
			category:  types.CategoryScoringArity,
			path:      []types.RunStatus{types.RunStatusFailed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Ports.Spec = tt.portSpec
			store := newMemoryStore()
			p := newTestPipeline(cfg, defaultStages(), tt.model, WithStore(store))

			result, err := p.Run(context.Background(), RunRequest{Domain: "example.com", Hostnames: tt.hostnames})
			require.Error(t, err)

			var batchErr *types.BatchError
			require.True(t, errors.As(err, &batchErr))
			assert.Equal(t, tt.category, batchErr.Category)

			assert.Equal(t, types.RunStatusFailed, result.Status())
			assert.Equal(t, tt.path, statuses(result.Transitions))
			assert.Empty(t, result.Report.Risks)
			assert.NotEmpty(t, result.Report.Summary.Error)

			saved, err := store.GetRun(context.Background(), result.Report.Summary.ID)
			require.NoError(t, err)
			assert.Equal(t, types.RunStatusFailed, saved.Status)
		})
	}
}

func TestRunCancelled(t *testing.T) {
	stages := defaultStages()
	stages.Ports = blockingPorts()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	stages.Certs = fakeCerts{fn: func(ctx context.Context, _ []types.ResolvedAsset) ([]types.CertificateInfo, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	p := newTestPipeline(config.DefaultConfig(), stages, risk.DefaultLinearModel())

	go func() {
		<-started
		cancel()
	}()

	result, err := p.Run(ctx, RunRequest{Domain: "example.com", Hostnames: []string{"a.example.com"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, types.RunStatusCancelled, result.Status())
	assert.Equal(t, []types.RunStatus{
		types.RunStatusResolving, types.RunStatusProbing, types.RunStatusCancelled,
	}, statuses(result.Transitions))
	assert.Empty(t, result.Report.Risks)
	assert.Empty(t, result.Report.Ports)
}

func TestRunTimedOut(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Pipeline.RunTimeout = 50 * time.Millisecond

	stages := defaultStages()
	stages.Ports = blockingPorts()

	p := newTestPipeline(cfg, stages, risk.DefaultLinearModel())
	result, err := p.Run(context.Background(), RunRequest{Domain: "example.com", Hostnames: []string{"a.example.com"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, types.RunStatusTimedOut, result.Status())
	assert.Empty(t, result.Report.Risks)
}

func TestProbeStagesRunConcurrently(t *testing.T) {
	var ready sync.WaitGroup
	ready.Add(3)
	all := make(chan struct{})
	go func() {
		ready.Wait()
		close(all)
	}()

	rendezvous := func(ctx context.Context) error {
		ready.Done()
		select {
		case <-all:
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("probe stages did not overlap")
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	stages := defaultStages()
	stages.Ports = fakePorts{fn: func(ctx context.Context, _ []types.ResolvedAsset) ([]types.PortScanResult, error) {
		return nil, rendezvous(ctx)
	}}
	stages.Certs = fakeCerts{fn: func(ctx context.Context, _ []types.ResolvedAsset) ([]types.CertificateInfo, error) {
		return nil, rendezvous(ctx)
	}}
	stages.Fingerprinter = fakeTech{fn: func(ctx context.Context, _ []types.AssetIdentity) ([]types.TechnologyResult, error) {
		return nil, rendezvous(ctx)
	}}

	p := newTestPipeline(config.DefaultConfig(), stages, risk.DefaultLinearModel())
	result, err := p.Run(context.Background(), RunRequest{Domain: "example.com", Hostnames: []string{"a.example.com"}})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusDone, result.Status())
	require.Len(t, result.Report.Risks, 1)
	assert.Equal(t, types.FeatureVector{SubdomainCount: 1}, result.Report.Risks[0].Details)
}
