package abandoned

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudtrim/cloudtrim/confidence"
	"github.com/cloudtrim/cloudtrim/cost"
	"github.com/cloudtrim/cloudtrim/graph"
	"github.com/cloudtrim/cloudtrim/hierarchy"
	"github.com/cloudtrim/cloudtrim/telemetry"
	"github.com/cloudtrim/cloudtrim/types"
)

// ModuleID identifies this module in the registry and in persisted findings.
const ModuleID = "abandoned-resources"

// Run states, strictly forward. A run that fails validation never leaves
// idle; everything after target resolution degrades to partial, not failed,
// as long as one query path succeeded.
const (
	stateIdle       = "idle"
	stateResolving  = "resolving_targets"
	stateQuerying   = "querying"
	stateScoring    = "scoring"
	stateAssembling = "assembling"
	stateCompleted  = "completed"
	stateFailed     = "failed"
)

// Resolver expands detection targets into a flat subscription list.
type Resolver interface {
	Resolve(ctx context.Context, subscriptionIDs, groupIDs []string) (hierarchy.Resolution, error)
}

// QueryExecutor runs one graph query across a subscription set.
type QueryExecutor interface {
	Execute(ctx context.Context, query string, subscriptionIDs []string) graph.Result
}

// Module detects abandoned resources across subscriptions. It owns no
// mutable state between runs; every Detect call is independent.
type Module struct {
	resolver Resolver
	executor QueryExecutor
	logger   zerolog.Logger
	metrics  *telemetry.Provider
	now      func() time.Time
}

// Option adjusts optional module wiring.
type Option func(*Module)

// WithMetrics attaches a telemetry provider for scan instrumentation.
func WithMetrics(p *telemetry.Provider) Option {
	return func(m *Module) { m.metrics = p }
}

// WithClock overrides the wall clock. Confidence scores depend on the
// run's reference time, so tests pin it.
func WithClock(now func() time.Time) Option {
	return func(m *Module) { m.now = now }
}

// New builds the abandoned-resources module.
func New(resolver Resolver, executor QueryExecutor, logger zerolog.Logger, opts ...Option) *Module {
	m := &Module{
		resolver: resolver,
		executor: executor,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ID returns the registry identifier.
func (m *Module) ID() string { return ModuleID }

// Describe returns the registry metadata for this module.
func (m *Module) Describe() types.ModuleDefinition {
	return types.ModuleDefinition{
		ModuleID:        ModuleID,
		Name:            "Abandoned Resources",
		Description:     "Detects abandoned resources that incur cost without delivering value",
		Category:        "cost-optimization",
		DefaultSchedule: "monthly",
		Enabled:         true,
	}
}

// run carries per-invocation logging state.
type run struct {
	logger zerolog.Logger
	state  string
}

func (r *run) transition(next string) {
	r.logger.Debug().Str("from", r.state).Str("to", next).Msg("state change")
	r.state = next
}

// Detect executes one full detection run. It never returns an error:
// failures are reported through the output's status and errors fields so
// callers always receive a well-formed result. DryRun is echoed back for
// the persistence layer and changes nothing here.
func (m *Module) Detect(ctx context.Context, input types.ModuleInput) types.ModuleOutput {
	started := time.Now()
	r := &run{
		logger: m.logger.With().
			Str("module", ModuleID).
			Str("execution_id", input.ExecutionID).
			Logger(),
		state: stateIdle,
	}

	out := types.ModuleOutput{
		ModuleID:    ModuleID,
		ExecutionID: input.ExecutionID,
		DryRun:      input.DryRun,
		Findings:    []types.Finding{},
		Errors:      []string{},
	}

	if err := input.Validate(); err != nil {
		return m.fail(ctx, r, out, started, err)
	}
	cfg, err := ParseConfig(input.Configuration)
	if err != nil {
		return m.fail(ctx, r, out, started, fmt.Errorf("parsing configuration: %w", err))
	}

	r.transition(stateResolving)
	resolution, err := m.resolver.Resolve(ctx, input.SubscriptionIDs, input.ManagementGroupIDs)
	if err != nil {
		return m.fail(ctx, r, out, started, err)
	}
	out.SubscriptionsScanned = len(resolution.SubscriptionIDs)
	for _, ge := range resolution.GroupErrors {
		out.Errors = append(out.Errors, fmt.Sprintf("resolving management group %q: %v", ge.GroupID, ge.Err))
	}

	// One reference time per run keeps confidence scoring deterministic
	// across detectors.
	asOf := m.now().UTC()

	r.transition(stateQuerying)
	scans := m.runDetectors(ctx, cfg, resolution.SubscriptionIDs)

	r.transition(stateScoring)
	var (
		findings  []types.Finding
		scanErrs  []string
		succeeded int
		cancelled bool
	)
	for _, s := range scans {
		scored := m.scoreRows(r, s.detector, cfg, s.result.Rows, asOf, input.ExecutionID)
		findings = append(findings, scored...)
		succeeded += s.result.BatchesTotal - len(s.result.BatchesFailed)
		if s.result.Cancelled {
			cancelled = true
		}
		for _, be := range s.result.BatchesFailed {
			if errors.Is(be.Err, context.Canceled) || errors.Is(be.Err, context.DeadlineExceeded) {
				cancelled = true
				continue
			}
			scanErrs = append(scanErrs, fmt.Sprintf("scanning %s: %v", s.detector.ResourceType, be.Err))
		}
		if m.metrics != nil {
			m.metrics.RecordDetectorScan(ctx, s.detector.ResourceType, len(s.result.Rows), len(scored), s.elapsed)
			m.metrics.RecordBatches(ctx, s.detector.ResourceType, s.result.BatchesTotal, len(s.result.BatchesFailed))
		}
	}

	r.transition(stateAssembling)
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].ResourceType != findings[j].ResourceType {
			return findings[i].ResourceType < findings[j].ResourceType
		}
		return findings[i].ResourceID < findings[j].ResourceID
	})
	sort.Strings(scanErrs)
	out.Findings = append(out.Findings, findings...)
	out.Errors = append(out.Errors, scanErrs...)
	if cancelled {
		cause := context.Cause(ctx)
		if cause == nil {
			cause = context.Canceled
		}
		out.Errors = append(out.Errors, fmt.Sprintf("scan cancelled: %v", cause))
	}
	out.Summary = cost.Summarize(out.Findings)
	out.Status = deriveStatus(cancelled, succeeded, out.Errors)

	if out.Status == types.StatusFailed {
		r.transition(stateFailed)
	} else {
		r.transition(stateCompleted)
	}
	r.logger.Info().
		Str("status", string(out.Status)).
		Int("subscriptions", out.SubscriptionsScanned).
		Int("findings", len(out.Findings)).
		Int("errors", len(out.Errors)).
		Float64("monthly_cost", out.Summary.TotalMonthlyCost).
		Dur("elapsed", time.Since(started)).
		Msg("detection run finished")
	if m.metrics != nil {
		m.metrics.RecordExecution(ctx, ModuleID, string(out.Status), time.Since(started))
		m.metrics.RecordWaste(ctx, ModuleID, out.Summary.TotalMonthlyCost)
	}
	return out
}

// fail finalizes a run that cannot proceed past its current state.
func (m *Module) fail(ctx context.Context, r *run, out types.ModuleOutput, started time.Time, err error) types.ModuleOutput {
	r.logger.Error().Err(err).Str("state", r.state).Msg("detection run failed")
	r.transition(stateFailed)
	out.Status = types.StatusFailed
	out.Errors = append(out.Errors, err.Error())
	out.Summary = cost.Summarize(out.Findings)
	if m.metrics != nil {
		m.metrics.RecordExecution(ctx, ModuleID, string(types.StatusFailed), time.Since(started))
	}
	return out
}

// deriveStatus maps run outcomes to the module contract: cancellation is
// always partial, a run where no batch executed is failed, any recorded
// error alongside surviving work is partial.
func deriveStatus(cancelled bool, succeededBatches int, errs []string) types.ExecutionStatus {
	switch {
	case cancelled:
		return types.StatusPartial
	case succeededBatches == 0:
		return types.StatusFailed
	case len(errs) > 0:
		return types.StatusPartial
	default:
		return types.StatusSuccess
	}
}

// scan is the outcome of one detector's query fan-out.
type scan struct {
	detector Detector
	result   graph.Result
	elapsed  time.Duration
}

// runDetectors queries every enabled detector concurrently. The executor's
// semaphore bounds actual network calls, so this fan-out only decides how
// many detectors can have batches in flight.
func (m *Module) runDetectors(ctx context.Context, cfg Config, subscriptionIDs []string) []scan {
	var (
		mu    sync.Mutex
		scans []scan
		wg    sync.WaitGroup
	)
	for _, d := range Detectors() {
		if !cfg.enabled(d.ResourceType) {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			started := time.Now()
			result := m.executor.Execute(ctx, d.Query, subscriptionIDs)
			mu.Lock()
			scans = append(scans, scan{detector: d, result: result, elapsed: time.Since(started)})
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(scans, func(i, j int) bool {
		return scans[i].detector.ResourceType < scans[j].detector.ResourceType
	})
	return scans
}

func (m *Module) scoreRows(r *run, d Detector, cfg Config, rows []graph.Row, asOf time.Time, executionID string) []types.Finding {
	findings := make([]types.Finding, 0, len(rows))
	for _, row := range rows {
		if f, ok := m.scoreRow(r, d, cfg, row, asOf, executionID); ok {
			findings = append(findings, f)
		}
	}
	return findings
}

// scoreRow turns one query row into a finding, or reports why it was
// skipped. Malformed rows are dropped with a warning, never a crash.
func (m *Module) scoreRow(r *run, d Detector, cfg Config, row graph.Row, asOf time.Time, executionID string) (types.Finding, bool) {
	resourceID := row.String("id")
	subscriptionID := row.String("subscriptionId")
	if resourceID == "" || subscriptionID == "" {
		r.logger.Warn().
			Str("resource_type", d.ResourceType).
			Str("resource_id", resourceID).
			Msg("dropping row without id or subscriptionId")
		return types.Finding{}, false
	}

	cand := confidence.Candidate{
		Name: row.String("name"),
		Tags: row.Tags(),
	}
	if t, ok := row.Time("orphanedDate"); ok {
		cand.OrphanedSince = &t
	}
	if t, ok := row.Time("timeCreated"); ok {
		cand.CreatedAt = &t
	}

	score := confidence.Score(cand, asOf)
	if score < cfg.MinConfidenceScore {
		r.logger.Debug().
			Str("resource_id", resourceID).
			Int("score", score).
			Int("minimum", cfg.MinConfidenceScore).
			Msg("skipping low-confidence finding")
		return types.Finding{}, false
	}
	level := confidence.LevelFor(score)

	var sku string
	if d.SKUField != "" {
		sku = row.String(d.SKUField)
	}
	estimate, exact := cost.Estimate(cost.Candidate{
		ResourceType: d.ResourceType,
		SKU:          sku,
		SizeGB:       row.Float64("diskSizeGB"),
		Capacity:     row.Int("capacity"),
	})
	if !exact {
		r.logger.Warn().
			Str("resource_type", d.ResourceType).
			Str("sku", sku).
			Msg("no exact rate for sku, using fallback")
	}
	if estimate == 0 && !cfg.IncludeZeroCost {
		r.logger.Debug().Str("resource_id", resourceID).Msg("skipping zero-cost finding")
		return types.Finding{}, false
	}

	return types.Finding{
		FindingID:            types.FindingID(resourceID, executionID),
		SubscriptionID:       subscriptionID,
		ResourceID:           resourceID,
		ResourceType:         d.ResourceType,
		Category:             types.CategoryAbandoned,
		Severity:             cost.ClassifySeverity(estimate),
		ConfidenceScore:      score,
		ConfidenceLevel:      level,
		IncursCost:           estimate > 0,
		EstimatedMonthlyCost: estimate,
		Metadata:             buildMetadata(d, row, estimate, level),
	}, true
}

// buildMetadata copies the well-known projected columns into fixed keys
// and carries every remaining row field over under its own name.
func buildMetadata(d Detector, row graph.Row, estimate float64, level types.ConfidenceLevel) map[string]any {
	recommendation := confidence.Recommendation(level)
	md := map[string]any{
		"resourceName":   row.String("name"),
		"resourceGroup":  row.String("resourceGroup"),
		"location":       row.String("location"),
		"detectionRule":  d.Rule,
		"recommendation": recommendation,
		"description":    describeFinding(d.ResourceType, estimate, recommendation),
	}
	for k, v := range row {
		switch k {
		case "id", "subscriptionId", "resourceGroup", "name", "location", "tags":
			continue
		}
		if _, taken := md[k]; taken {
			continue
		}
		md[k] = v
	}
	return md
}

func describeFinding(resourceType string, estimate float64, recommendation string) string {
	short := resourceType
	if i := strings.LastIndex(resourceType, "/"); i >= 0 {
		short = resourceType[i+1:]
	}
	return fmt.Sprintf("Abandoned %s detected. Estimated monthly cost: $%.2f. %s.", short, estimate, recommendation)
}
