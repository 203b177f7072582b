// Package orchestrator drives a scan through resolution, parallel probing
// and risk aggregation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/CodeMonkeyCybersecurity/surface/internal/artifacts"
	"github.com/CodeMonkeyCybersecurity/surface/internal/config"
	"github.com/CodeMonkeyCybersecurity/surface/internal/core"
	"github.com/CodeMonkeyCybersecurity/surface/internal/logger"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/discovery/dns"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/discovery/portscan"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/leaks"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/risk"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

// Resolver turns raw hostnames into resolved assets.
type Resolver interface {
	Resolve(ctx context.Context, hostnames []string) ([]types.ResolvedAsset, dns.ResolveStats, error)
}

type PortProber interface {
	Probe(ctx context.Context, assets []types.ResolvedAsset, portSpec string) ([]types.PortScanResult, error)
}

type CertInspector interface {
	Inspect(ctx context.Context, assets []types.ResolvedAsset) ([]types.CertificateInfo, error)
}

type Fingerprinter interface {
	Fingerprint(ctx context.Context, ids []types.AssetIdentity) ([]types.TechnologyResult, error)
}

// Stages bundles the probe implementations a pipeline runs.
type Stages struct {
	Resolver      Resolver
	Ports         PortProber
	Certs         CertInspector
	Fingerprinter Fingerprinter
}

// Pipeline runs scans. It holds no per-run state and may run several
// scans concurrently.
type Pipeline struct {
	stages    Stages
	model     risk.Model
	portSpec  string
	cfg       config.PipelineConfig
	logger    *logger.Logger
	telemetry core.Telemetry
	store     core.ResultStore
	writer    *artifacts.Writer
	now       func() time.Time
}

type Option func(*Pipeline)

// WithStore persists every finished run.
func WithStore(store core.ResultStore) Option {
	return func(p *Pipeline) { p.store = store }
}

// WithArtifacts writes JSON artifacts for every completed run.
func WithArtifacts(w *artifacts.Writer) Option {
	return func(p *Pipeline) { p.writer = w }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func NewPipeline(
	cfg *config.Config,
	stages Stages,
	model risk.Model,
	log *logger.Logger,
	telemetry core.Telemetry,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		stages:    stages,
		model:     model,
		portSpec:  cfg.Ports.Spec,
		cfg:       cfg.Pipeline,
		logger:    log.WithComponent("pipeline"),
		telemetry: telemetry,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run carries the state of one Run call.
type run struct {
	id      string
	req     RunRequest
	state   *runState
	errs    *ErrorAggregator
	result  *RunResult
	logger  *logger.Logger
	started time.Time
}

// Run executes one scan. The returned result is never nil; its status is
// Done on success and a terminal failure status otherwise. Batch errors
// are returned as *types.BatchError, cancellation and timeout as the
// context error.
func (p *Pipeline) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	started := p.now()
	r := &run{
		id:      uuid.New().String(),
		req:     req,
		state:   newRunState(p.now),
		errs:    NewErrorAggregator(),
		started: started,
	}
	r.logger = p.logger.WithRunID(r.id).WithTarget(req.Domain)
	r.result = &RunResult{Report: &types.RunReport{Summary: types.RunSummary{
		ID:        r.id,
		Domain:    req.Domain,
		Status:    types.RunStatusIdle,
		StartedAt: started.UTC(),
	}}}

	runCtx := ctx
	if p.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.cfg.RunTimeout)
		defer cancel()
	}

	ctx, span := r.logger.StartOperation(logger.WithLogger(runCtx, r.logger), "pipeline.Run",
		"hostnames", len(req.Hostnames),
		"port_spec", p.portSpec,
	)

	err := p.execute(ctx, r)
	err = p.finish(ctx, runCtx, r, err)
	r.logger.FinishOperation(ctx, span, "pipeline.Run", started, err,
		"status", r.result.Status(),
	)
	return r.result, err
}

func (p *Pipeline) execute(ctx context.Context, r *run) error {
	if _, err := portscan.ParsePortSpec(p.portSpec); err != nil {
		return err
	}
	if p.model == nil || p.model.Arity() != types.FeatureCount {
		arity := 0
		if p.model != nil {
			arity = p.model.Arity()
		}
		return types.NewBatchError(types.CategoryScoringArity,
			fmt.Errorf("model accepts %d features, want %d", arity, types.FeatureCount))
	}

	var assets []types.ResolvedAsset
	if err := p.phase(ctx, r, types.RunStatusResolving, func(ctx context.Context) error {
		var stats dns.ResolveStats
		var err error
		assets, stats, err = p.stages.Resolver.Resolve(ctx, r.req.Hostnames)
		r.result.ResolveStats = stats
		r.result.Report.Summary.Dropped = stats.Dropped + stats.Duplicates
		return err
	}); err != nil {
		return err
	}

	var (
		ports []types.PortScanResult
		certs []types.CertificateInfo
		techs []types.TechnologyResult
	)
	if err := p.phase(ctx, r, types.RunStatusProbing, func(ctx context.Context) error {
		return p.probe(ctx, r, assets, &ports, &certs, &techs)
	}); err != nil {
		return err
	}

	return p.phase(ctx, r, types.RunStatusAggregating, func(ctx context.Context) error {
		features := risk.BuildFeatures(assets, ports, certs, leaks.Correlate(r.req.Leaks), r.req.SubdomainCounts)

		start := time.Now()
		records, err := risk.Score(ctx, features, p.model)
		if err != nil {
			return err
		}
		p.telemetry.RecordStage(ctx, "score", len(records), 0, time.Since(start))

		report := r.result.Report
		report.Assets = assets
		report.Ports = ports
		report.Certificates = certs
		report.Technologies = techs
		report.Features = features
		report.Risks = records
		report.Summary.AssetCount = len(assets)
		report.Summary.MeanRisk = risk.Summarize(records)
		return nil
	})
}

// probe runs the three probe stages concurrently and waits for all of them.
func (p *Pipeline) probe(
	ctx context.Context,
	r *run,
	assets []types.ResolvedAsset,
	ports *[]types.PortScanResult,
	certs *[]types.CertificateInfo,
	techs *[]types.TechnologyResult,
) error {
	ids := make([]types.AssetIdentity, 0, len(assets))
	for _, a := range assets {
		if a.Resolved() {
			ids = append(ids, a.Identity)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		results, err := p.stages.Ports.Probe(gctx, assets, p.portSpec)
		if err != nil {
			return fmt.Errorf("port probe: %w", err)
		}
		failed := 0
		for _, res := range results {
			if res.Error != "" {
				failed++
				r.errs.Add("ports", res.Identity, res.Error)
			}
		}
		p.telemetry.RecordStage(gctx, "ports", len(results), failed, time.Since(start))
		*ports = results
		return nil
	})
	g.Go(func() error {
		results, err := p.stages.Certs.Inspect(gctx, assets)
		if err != nil {
			return fmt.Errorf("certificate inspection: %w", err)
		}
		for _, res := range results {
			r.errs.Add("certs", res.Identity, res.Error)
		}
		*certs = results
		return nil
	})
	g.Go(func() error {
		results, err := p.stages.Fingerprinter.Fingerprint(gctx, ids)
		if err != nil {
			return fmt.Errorf("fingerprint: %w", err)
		}
		*techs = results
		return nil
	})
	return g.Wait()
}

// phase advances the run into status, runs fn and records its timing.
func (p *Pipeline) phase(ctx context.Context, r *run, status types.RunStatus, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.state.advance(status); err != nil {
		return err
	}
	r.result.Report.Summary.Status = status

	start := p.now()
	r.logger.Infow("Entering phase", "phase", status)
	err := fn(ctx)

	pr := PhaseResult{Phase: status, StartTime: start, Duration: p.now().Sub(start)}
	if err != nil {
		pr.Error = err.Error()
	} else {
		r.logger.LogDuration(ctx, "phase."+string(status), start)
	}
	r.result.Phases = append(r.result.Phases, pr)
	return err
}

// finish moves the run into its terminal status, discards partial results
// of unsuccessful runs and persists the outcome.
func (p *Pipeline) finish(ctx, runCtx context.Context, r *run, err error) error {
	status := types.RunStatusDone
	switch {
	case err == nil:
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		status = types.RunStatusTimedOut
		err = fmt.Errorf("run timed out after %s: %w", p.cfg.RunTimeout, context.DeadlineExceeded)
	case errors.Is(err, context.Canceled):
		status = types.RunStatusCancelled
	default:
		status = types.RunStatusFailed
	}

	if advanceErr := r.state.advance(status); advanceErr != nil {
		r.logger.Errorw("Unexpected run transition", "error", advanceErr)
	}

	report := r.result.Report
	completed := p.now().UTC()
	report.Summary.Status = status
	report.Summary.CompletedAt = &completed
	if err != nil {
		report.Summary.Error = err.Error()
		r.result.Report = &types.RunReport{Summary: report.Summary}
	}
	r.result.Transitions = r.state.Transitions()
	r.result.AssetErrors = r.errs.GetErrors()

	duration := p.now().Sub(r.started)
	p.telemetry.RecordRun(ctx, status, duration)

	if err != nil {
		category, _ := types.CategoryOf(err)
		r.logger.Warnw("Run did not complete",
			"status", status,
			"category", category,
			"error", err,
			"duration", duration,
		)
	} else {
		r.logger.Infow("Run completed",
			"status", status,
			"assets", report.Summary.AssetCount,
			"mean_risk", report.Summary.MeanRisk,
			"asset_errors", r.errs.Summary(report.Summary.AssetCount*3),
			"failures_by_stage", r.errs.ByStage(),
			"duration", duration,
		)
		if r.errs.Count() > 0 {
			r.logger.Debugw("Asset failures", "detail", r.errs.Error())
		}
		if p.writer != nil {
			paths, writeErr := p.writer.WriteReport(r.result.Report)
			if writeErr != nil {
				r.logger.Errorw("Failed to write artifacts", "error", writeErr)
			}
			r.result.ArtifactPaths = paths
		}
	}

	if p.store != nil {
		// Persist even when the run context is gone.
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if saveErr := p.store.SaveRun(saveCtx, r.result.Report); saveErr != nil {
			r.logger.Errorw("Failed to save run", "error", saveErr)
		}
	}
	return err
}
