package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cloudtrim/cloudtrim/journal"
	"github.com/cloudtrim/cloudtrim/module"
	"github.com/cloudtrim/cloudtrim/storage"
	"github.com/cloudtrim/cloudtrim/telemetry"
	"github.com/cloudtrim/cloudtrim/trends"
	"github.com/cloudtrim/cloudtrim/types"
)

const (
	defaultTrendMonths = 3
	maxTrendMonths     = 24
	defaultLimit       = 100
	maxLimit           = 1000
)

// Dependencies are the collaborators behind the HTTP surface. Journal
// and Metrics may be nil; Now defaults to time.Now.
type Dependencies struct {
	Registry *module.Registry
	Store    storage.Store
	Journal  *journal.Journal
	Metrics  *telemetry.Provider
	Now      func() time.Time
}

// Handler serves the detection engine endpoints
type Handler struct {
	registry *module.Registry
	store    storage.Store
	journal  *journal.Journal
	metrics  *telemetry.Provider
	now      func() time.Time
}

// NewHandler wires a handler from its dependencies
func NewHandler(deps Dependencies) *Handler {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		registry: deps.Registry,
		store:    deps.Store,
		journal:  deps.Journal,
		metrics:  deps.Metrics,
		now:      now,
	}
}

// executionRecord is the journal payload for one module run
type executionRecord struct {
	SubscriptionsScanned int     `json:"subscriptions_scanned"`
	Findings             int     `json:"findings"`
	Saved                int     `json:"saved,omitempty"`
	TotalMonthlyCost     float64 `json:"total_monthly_cost"`
	Status               string  `json:"status"`
}

// RunModule executes one detection module synchronously. Partial and
// failed runs still answer 200: the outcome lives in the body's status.
func (h *Handler) RunModule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)
	moduleID := chi.URLParam(r, "moduleID")

	mod, ok := h.registry.Get(moduleID)
	if !ok {
		writeError(ctx, w, http.StatusNotFound, fmt.Sprintf("unknown module %q", moduleID))
		return
	}

	var input types.ModuleInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "malformed request body")
		return
	}
	if input.ExecutionID == "" {
		input.ExecutionID = uuid.NewString()
	}
	if err := input.Validate(); err != nil {
		writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	if !input.DryRun {
		h.journalStarted(input, moduleID, logger)
	}

	started := h.now()
	output := mod.Detect(ctx, input)
	duration := h.now().Sub(started)

	logger.Info().
		Str("module", moduleID).
		Str("execution_id", output.ExecutionID).
		Str("status", string(output.Status)).
		Int("findings", len(output.Findings)).
		Dur("duration", duration).
		Msg("module run complete")

	if h.metrics != nil {
		h.metrics.RecordExecution(ctx, moduleID, string(output.Status), duration)
		h.metrics.RecordWaste(ctx, moduleID, output.Summary.TotalMonthlyCost)
	}

	if !input.DryRun {
		h.persist(output, logger)
	}

	writeJSON(ctx, w, http.StatusOK, output)
}

func (h *Handler) journalStarted(input types.ModuleInput, moduleID string, logger *zerolog.Logger) {
	if h.journal == nil {
		return
	}
	payload := struct {
		Subscriptions    int `json:"subscriptions"`
		ManagementGroups int `json:"management_groups"`
	}{len(input.SubscriptionIDs), len(input.ManagementGroupIDs)}

	if err := h.journal.Append(journal.EntryStarted, input.ExecutionID, moduleID, payload); err != nil {
		logger.Error().Err(err).Msg("failed to journal execution start")
	}
}

// persist saves the run's findings and journals its outcome
func (h *Handler) persist(output types.ModuleOutput, logger *zerolog.Logger) {
	executionDate := h.now().UTC()
	records := make([]types.FindingRecord, 0, len(output.Findings))
	for _, f := range output.Findings {
		records = append(records, types.NewFindingRecord(output.ModuleID, executionDate, f))
	}

	saved := 0
	if len(records) > 0 {
		var err error
		saved, err = h.store.SaveFindings(records)
		if err != nil {
			logger.Error().Err(err).Str("module", output.ModuleID).Msg("failed to persist findings")
		}
	}

	if h.journal == nil {
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
		err = h.journal.AppendError(journal.EntryFailed, output.ExecutionID, output.ModuleID, record, cause)
	} else {
		err = h.journal.Append(journal.EntryCompleted, output.ExecutionID, output.ModuleID, record)
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to journal execution outcome")
	}
}

// GetTrends reports month-over-month movement of persisted findings
func (h *Handler) GetTrends(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	moduleID := q.Get("module_id")
	if moduleID == "" {
		writeError(ctx, w, http.StatusBadRequest, "module_id is required")
		return
	}
	months, err := parseMonths(q.Get("months"))
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}
	subscriptionID := q.Get("subscription_id")

	now := h.now().UTC()
	records, err := h.store.QueryFindings(storage.FindingQuery{
		ModuleID:       moduleID,
		SubscriptionID: subscriptionID,
		Since:          monthsWindow(now, months),
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to query findings")
		writeError(ctx, w, http.StatusInternalServerError, "failed to query findings")
		return
	}

	writeJSON(ctx, w, http.StatusOK, trends.BuildReport(moduleID, subscriptionID, months, now, records))
}

type findingsResponse struct {
	Findings       []types.FindingRecord `json:"findings"`
	Count          int                   `json:"count"`
	SubscriptionID string                `json:"subscriptionId"`
}

// GetFindings returns persisted finding history for one subscription
func (h *Handler) GetFindings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	subscriptionID := q.Get("subscription_id")
	if subscriptionID == "" {
		writeError(ctx, w, http.StatusBadRequest, "subscription_id is required")
		return
	}
	months, err := parseMonths(q.Get("months"))
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.store.QueryFindings(storage.FindingQuery{
		ModuleID:       q.Get("module_id"),
		SubscriptionID: subscriptionID,
		Status:         q.Get("status"),
		Since:          monthsWindow(h.now().UTC(), months),
		Limit:          limit,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to query findings")
		writeError(ctx, w, http.StatusInternalServerError, "failed to query findings")
		return
	}
	if records == nil {
		records = []types.FindingRecord{}
	}

	writeJSON(ctx, w, http.StatusOK, findingsResponse{
		Findings:       records,
		Count:          len(records),
		SubscriptionID: subscriptionID,
	})
}

type targetsResponse struct {
	Targets  []types.DetectionTarget `json:"targets"`
	Count    int                     `json:"count"`
	Accounts int                     `json:"accounts"`
	Groups   int                     `json:"groups"`
}

// ListTargets returns the configured detection targets
func (h *Handler) ListTargets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	targetType := types.TargetType(q.Get("target_type"))
	if targetType != "" && targetType != types.TargetAccount && targetType != types.TargetGroup {
		writeError(ctx, w, http.StatusBadRequest, fmt.Sprintf("unknown target_type %q", targetType))
		return
	}

	targets, err := h.store.ListTargets(q.Get("include_disabled") == "true", targetType)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to list targets")
		writeError(ctx, w, http.StatusInternalServerError, "failed to list targets")
		return
	}
	if targets == nil {
		targets = []types.DetectionTarget{}
	}

	resp := targetsResponse{Targets: targets, Count: len(targets)}
	for _, t := range targets {
		switch t.TargetType {
		case types.TargetAccount:
			resp.Accounts++
		case types.TargetGroup:
			resp.Groups++
		}
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

// SaveTarget upserts one detection target
func (h *Handler) SaveTarget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var target types.DetectionTarget
	if err := json.NewDecoder(r.Body).Decode(&target); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := target.Validate(); err != nil {
		writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.SaveTarget(target); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("target", target.TargetID).Msg("failed to save target")
		writeError(ctx, w, http.StatusInternalServerError, "failed to save target")
		return
	}
	writeJSON(ctx, w, http.StatusCreated, target)
}

type modulesResponse struct {
	Modules []types.ModuleDefinition `json:"modules"`
	Count   int                      `json:"count"`
}

// ListModules returns the installed module definitions, enabled ones
// unless include_disabled is set
func (h *Handler) ListModules(w http.ResponseWriter, r *http.Request) {
	includeDisabled := r.URL.Query().Get("include_disabled") == "true"

	defs := h.registry.List()
	if !includeDisabled {
		enabled := defs[:0]
		for _, def := range defs {
			if def.Enabled {
				enabled = append(enabled, def)
			}
		}
		defs = enabled
	}

	writeJSON(r.Context(), w, http.StatusOK, modulesResponse{Modules: defs, Count: len(defs)})
}

// Health answers liveness probes
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "cloudtrim",
	})
}

// monthsWindow returns the first instant of the oldest calendar month
// in an n-month window ending now
func monthsWindow(now time.Time, months int) time.Time {
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return firstOfMonth.AddDate(0, -(months - 1), 0)
}

func parseMonths(s string) (int, error) {
	if s == "" {
		return defaultTrendMonths, nil
	}
	months, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("months must be an integer")
	}
	if months < 1 {
		months = 1
	}
	if months > maxTrendMonths {
		months = maxTrendMonths
	}
	return months, nil
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return defaultLimit, nil
	}
	limit, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("limit must be an integer")
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, nil
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	writeJSON(ctx, w, status, map[string]string{"error": msg})
}
