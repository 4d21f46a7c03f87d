// Package daemon runs detection modules against the configured targets
// on a fixed interval.
package daemon

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cloudtrim/cloudtrim/journal"
	"github.com/cloudtrim/cloudtrim/module"
	"github.com/cloudtrim/cloudtrim/storage"
	"github.com/cloudtrim/cloudtrim/telemetry"
	"github.com/cloudtrim/cloudtrim/types"
)

// Config holds daemon configuration. An empty Modules list runs every
// enabled module; RetentionDays zero disables compaction.
type Config struct {
	Interval      time.Duration
	DryRun        bool
	Modules       []string
	RetentionDays int
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithMetrics records execution metrics on the provider.
func WithMetrics(p *telemetry.Provider) Option {
	return func(d *Daemon) { d.metrics = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Daemon) { d.now = now }
}

// Daemon manages the scheduled detection loop
type Daemon struct {
	config   Config
	registry *module.Registry
	store    storage.Store
	journal  *journal.Journal
	logger   zerolog.Logger
	metrics  *telemetry.Provider
	now      func() time.Time

	cycleCount atomic.Int64
}

// New creates a daemon around the shared module registry and store.
// Journal may be nil to skip execution journaling.
func New(config Config, registry *module.Registry, store storage.Store, jnl *journal.Journal, logger zerolog.Logger, opts ...Option) *Daemon {
	d := &Daemon{
		config:   config,
		registry: registry,
		store:    store,
		journal:  jnl,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start runs scan cycles until the context is cancelled. The first
// cycle runs immediately rather than waiting out a full interval.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Info().
		Dur("interval", d.config.Interval).
		Bool("dry_run", d.config.DryRun).
		Msg("daemon started")

	d.runCycle(ctx)

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("daemon stopped")
			return nil
		case <-ticker.C:
			d.runCycle(ctx)
		}
	}
}

// CycleCount returns how many scan cycles have completed
func (d *Daemon) CycleCount() int64 {
	return d.cycleCount.Load()
}

// runCycle scans every enabled target with every selected module
func (d *Daemon) runCycle(ctx context.Context) {
	targets, err := d.store.ListTargets(false, "")
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to list targets")
		return
	}
	if len(targets) == 0 {
		d.logger.Debug().Msg("no enabled targets, skipping cycle")
		return
	}

	var subscriptions, groups []string
	for _, t := range targets {
		switch t.TargetType {
		case types.TargetAccount:
			subscriptions = append(subscriptions, t.TargetID)
		case types.TargetGroup:
			groups = append(groups, t.TargetID)
		}
	}

	for _, def := range d.registry.List() {
		if !d.selected(def) {
			continue
		}
		mod, ok := d.registry.Get(def.ModuleID)
		if !ok {
			continue
		}
		d.runModule(ctx, mod, subscriptions, groups)
		if ctx.Err() != nil {
			return
		}
	}

	d.compact()
	d.cycleCount.Add(1)
}

// selected reports whether a module takes part in scheduled cycles
func (d *Daemon) selected(def types.ModuleDefinition) bool {
	if !def.Enabled {
		return false
	}
	if len(d.config.Modules) == 0 {
		return true
	}
	return slices.Contains(d.config.Modules, def.ModuleID)
}

// executionRecord is the journal payload for one scheduled run
type executionRecord struct {
	SubscriptionsScanned int     `json:"subscriptions_scanned"`
	Findings             int     `json:"findings"`
	Saved                int     `json:"saved,omitempty"`
	TotalMonthlyCost     float64 `json:"total_monthly_cost"`
	Status               string  `json:"status"`
}

func (d *Daemon) runModule(ctx context.Context, mod module.Module, subscriptions, groups []string) {
	input := types.ModuleInput{
		ExecutionID:        uuid.NewString(),
		SubscriptionIDs:    subscriptions,
		ManagementGroupIDs: groups,
		DryRun:             d.config.DryRun,
	}

	if !d.config.DryRun && d.journal != nil {
		payload := struct {
			Subscriptions    int `json:"subscriptions"`
			ManagementGroups int `json:"management_groups"`
		}{len(subscriptions), len(groups)}
		if err := d.journal.Append(journal.EntryStarted, input.ExecutionID, mod.ID(), payload); err != nil {
			d.logger.Error().Err(err).Msg("failed to journal execution start")
		}
	}

	started := d.now()
	output := mod.Detect(ctx, input)
	duration := d.now().Sub(started)

	d.logger.Info().
		Str("module", mod.ID()).
		Str("execution_id", output.ExecutionID).
		Str("status", string(output.Status)).
		Int("findings", len(output.Findings)).
		Float64("monthly_cost", output.Summary.TotalMonthlyCost).
		Dur("duration", duration).
		Msg("scheduled run complete")

	if d.metrics != nil {
		d.metrics.RecordExecution(ctx, mod.ID(), string(output.Status), duration)
		d.metrics.RecordWaste(ctx, mod.ID(), output.Summary.TotalMonthlyCost)
	}

	if !d.config.DryRun {
		d.persist(output)
	}
}

// persist saves the run's findings and journals its outcome
func (d *Daemon) persist(output types.ModuleOutput) {
	executionDate := d.now().UTC()
	records := make([]types.FindingRecord, 0, len(output.Findings))
	for _, f := range output.Findings {
		records = append(records, types.NewFindingRecord(output.ModuleID, executionDate, f))
	}

	saved := 0
	if len(records) > 0 {
		var err error
		saved, err = d.store.SaveFindings(records)
		if err != nil {
			d.logger.Error().Err(err).Str("module", output.ModuleID).Msg("failed to persist findings")
		}
	}

	if d.journal == nil {
		return
	}
	record := executionRecord{
		SubscriptionsScanned: output.SubscriptionsScanned,
		Findings:             len(output.Findings),
		Saved:                saved,
		TotalMonthlyCost:     output.Summary.TotalMonthlyCost,
		Status:               string(output.Status),
	}

	var err error
	if output.Status == types.StatusFailed {
		cause := errors.New("execution failed")
		if len(output.Errors) > 0 {
			cause = errors.New(strings.Join(output.Errors, "; "))
		}
		err = d.journal.AppendError(journal.EntryFailed, output.ExecutionID, output.ModuleID, record, cause)
	} else {
		err = d.journal.Append(journal.EntryCompleted, output.ExecutionID, output.ModuleID, record)
	}
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to journal execution outcome")
	}
}

// compact drops finding records past the retention horizon
func (d *Daemon) compact() {
	if d.config.RetentionDays <= 0 {
		return
	}
	horizon := d.now().UTC().AddDate(0, 0, -d.config.RetentionDays)
	removed, err := d.store.Compact(horizon)
	if err != nil {
		d.logger.Error().Err(err).Msg("compaction failed")
		return
	}
	if removed > 0 {
		d.logger.Info().Int("removed", removed).Time("older_than", horizon).Msg("compacted finding history")
	}
}
