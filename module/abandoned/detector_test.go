package abandoned

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudtrim/cloudtrim/graph"
	"github.com/cloudtrim/cloudtrim/hierarchy"
	"github.com/cloudtrim/cloudtrim/types"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type fakeResolver struct {
	resolution hierarchy.Resolution
	err        error
	calls      int
}

func (f *fakeResolver) Resolve(_ context.Context, _, _ []string) (hierarchy.Resolution, error) {
	f.calls++
	if f.err != nil {
		return hierarchy.Resolution{}, f.err
	}
	return f.resolution, nil
}

// fakeExecutor serves canned results keyed by resource type. Detectors
// run concurrently, so call recording is mutex-guarded.
type fakeExecutor struct {
	mu      sync.Mutex
	results map[string]graph.Result
	queried []string
	subs    [][]string
}

func (f *fakeExecutor) Execute(_ context.Context, query string, subscriptionIDs []string) graph.Result {
	var detector Detector
	for _, d := range Detectors() {
		if d.Query == query {
			detector = d
			break
		}
	}

	f.mu.Lock()
	f.queried = append(f.queried, detector.ResourceType)
	f.subs = append(f.subs, subscriptionIDs)
	f.mu.Unlock()

	if r, ok := f.results[detector.ResourceType]; ok {
		return r
	}
	return graph.Result{BatchesTotal: 1}
}

func singleSubResolver() *fakeResolver {
	return &fakeResolver{resolution: hierarchy.Resolution{SubscriptionIDs: []string{"sub-1"}}}
}

func newTestModule(resolver Resolver, executor QueryExecutor) *Module {
	return New(resolver, executor, zerolog.Nop(), WithClock(func() time.Time { return testNow }))
}

func orphanedDiskRow(n int) graph.Row {
	name := fmt.Sprintf("disk-orphan-%02d", n)
	return graph.Row{
		"id":             "/subscriptions/sub-1/resourceGroups/rg-app/providers/Microsoft.Compute/disks/" + name,
		"subscriptionId": "sub-1",
		"resourceGroup":  "rg-app",
		"name":           name,
		"location":       "eastus",
		"sku":            "Premium_LRS",
		"diskSizeGB":     float64(256),
		"diskState":      "Unattached",
		"timeCreated":    "2024-11-03T08:30:00Z",
		"orphanedDate":   testNow.AddDate(0, 0, -45).Format(time.RFC3339),
		"tags":           map[string]any{"Environment": "Dev"},
	}
}

func emptyDDoSPlanRow() graph.Row {
	return graph.Row{
		"id":                "/subscriptions/sub-2/resourceGroups/rg-net/providers/Microsoft.Network/ddosProtectionPlans/ddos-plan-1",
		"subscriptionId":    "sub-2",
		"resourceGroup":     "rg-net",
		"name":              "ddos-plan-1",
		"location":          "westeurope",
		"provisioningState": "Succeeded",
	}
}

func TestDetect_PremiumDiskEndToEnd(t *testing.T) {
	executor := &fakeExecutor{results: map[string]graph.Result{
		"microsoft.compute/disks": {Rows: []graph.Row{orphanedDiskRow(1)}, BatchesTotal: 1},
	}}
	m := newTestModule(singleSubResolver(), executor)

	out := m.Detect(context.Background(), types.ModuleInput{
		ExecutionID:     "exec-123",
		SubscriptionIDs: []string{"sub-1"},
		Configuration:   map[string]any{"resourceTypes": []any{"microsoft.compute/disks"}},
	})

	assert.Equal(t, ModuleID, out.ModuleID)
	assert.Equal(t, "exec-123", out.ExecutionID)
	assert.Equal(t, types.StatusSuccess, out.Status)
	assert.Equal(t, 1, out.SubscriptionsScanned)
	assert.Empty(t, out.Errors)
	require.Len(t, out.Findings, 1)

	f := out.Findings[0]
	require.NoError(t, f.Validate())
	assert.Equal(t, types.FindingID(f.ResourceID, "exec-123"), f.FindingID)
	assert.Equal(t, "sub-1", f.SubscriptionID)
	assert.Equal(t, "microsoft.compute/disks", f.ResourceType)
	assert.Equal(t, types.CategoryAbandoned, f.Category)

	// 45 days orphaned lands in the 30-90d bucket: 50 + 20
	assert.Equal(t, 70, f.ConfidenceScore)
	assert.Equal(t, types.ConfidenceMedium, f.ConfidenceLevel)

	// Premium_LRS at $0.15/GB for 256 GB
	assert.InDelta(t, 38.40, f.EstimatedMonthlyCost, 1e-9)
	assert.Equal(t, types.SeverityMedium, f.Severity)
	assert.True(t, f.IncursCost)

	assert.Equal(t, "disk-orphan-01", f.Metadata["resourceName"])
	assert.Equal(t, "rg-app", f.Metadata["resourceGroup"])
	assert.Equal(t, "eastus", f.Metadata["location"])
	assert.Equal(t, "Managed disk not attached to any VM", f.Metadata["detectionRule"])
	assert.Equal(t, "Flag for review", f.Metadata["recommendation"])
	assert.Equal(t,
		"Abandoned disks detected. Estimated monthly cost: $38.40. Flag for review.",
		f.Metadata["description"])
	assert.Equal(t, "Unattached", f.Metadata["diskState"])
	assert.NotContains(t, f.Metadata, "id")
	assert.NotContains(t, f.Metadata, "tags")

	// Only the configured detector ran, against the resolved subscriptions.
	assert.Equal(t, []string{"microsoft.compute/disks"}, executor.queried)
	require.Len(t, executor.subs, 1)
	assert.Equal(t, []string{"sub-1"}, executor.subs[0])
}

func TestDetect_DryRunStillProducesFindings(t *testing.T) {
	executor := &fakeExecutor{results: map[string]graph.Result{
		"microsoft.compute/disks": {
			Rows:         []graph.Row{orphanedDiskRow(1), orphanedDiskRow(2), orphanedDiskRow(3)},
			BatchesTotal: 1,
		},
	}}
	m := newTestModule(singleSubResolver(), executor)

	out := m.Detect(context.Background(), types.ModuleInput{
		ExecutionID:     "exec-dry",
		SubscriptionIDs: []string{"sub-1"},
		DryRun:          true,
	})

	assert.True(t, out.DryRun)
	assert.Equal(t, types.StatusSuccess, out.Status)
	assert.Len(t, out.Findings, 3)
	assert.Len(t, executor.queried, 8, "dry run must not skip any detector")
}

func TestDetect_ValidationFailsFast(t *testing.T) {
	resolver := singleSubResolver()
	m := newTestModule(resolver, &fakeExecutor{})

	out := m.Detect(context.Background(), types.ModuleInput{
		SubscriptionIDs: []string{"sub-1"},
	})
	assert.Equal(t, types.StatusFailed, out.Status)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], "executionId")

	out = m.Detect(context.Background(), types.ModuleInput{ExecutionID: "exec-1"})
	assert.Equal(t, types.StatusFailed, out.Status)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], "at least one")

	assert.Zero(t, resolver.calls, "validation failures must not reach target resolution")

	// Failed outputs are still well-formed.
	assert.NotNil(t, out.Findings)
	assert.NotNil(t, out.Summary.BySeverity)
	assert.Zero(t, out.Summary.TotalFindings)
}

func TestDetect_BadConfigurationFails(t *testing.T) {
	resolver := singleSubResolver()
	m := newTestModule(resolver, &fakeExecutor{})

	out := m.Detect(context.Background(), types.ModuleInput{
		ExecutionID:     "exec-1",
		SubscriptionIDs: []string{"sub-1"},
		Configuration:   map[string]any{"resourceTypes": []any{"bogus/type"}},
	})

	assert.Equal(t, types.StatusFailed, out.Status)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], "parsing configuration")
	assert.Contains(t, out.Errors[0], "bogus/type")
	assert.Zero(t, resolver.calls)
}

func TestDetect_ResolverErrorFails(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("no subscriptions resolved from 2 targets")}
	m := newTestModule(resolver, &fakeExecutor{})

	out := m.Detect(context.Background(), types.ModuleInput{
		ExecutionID:        "exec-1",
		ManagementGroupIDs: []string{"mg-a", "mg-b"},
	})

	assert.Equal(t, types.StatusFailed, out.Status)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], "no subscriptions resolved")
	assert.Empty(t, out.Findings)
}

func TestDetect_GroupErrorMakesPartial(t *testing.T) {
	resolver := &fakeResolver{resolution: hierarchy.Resolution{
		SubscriptionIDs: []string{"sub-1"},
		GroupErrors: []hierarchy.GroupError{
			{GroupID: "mg-root", Err: errors.New("forbidden")},
		},
	}}
	m := newTestModule(resolver, &fakeExecutor{})

	out := m.Detect(context.Background(), types.ModuleInput{
		ExecutionID:        "exec-1",
		SubscriptionIDs:    []string{"sub-1"},
		ManagementGroupIDs: []string{"mg-root"},
	})

	assert.Equal(t, types.StatusPartial, out.Status)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, `resolving management group "mg-root": forbidden`, out.Errors[0])
	assert.Equal(t, 1, out.SubscriptionsScanned)
}

func TestDetect_FailedBatchMakesPartial(t *testing.T) {
	subs := make([]string, 50)
	for i := range subs {
		subs[i] = fmt.Sprintf("sub-%d", i+1)
	}
	resolver := &fakeResolver{resolution: hierarchy.Resolution{SubscriptionIDs: subs}}

	executor := &fakeExecutor{results: map[string]graph.Result{
		"microsoft.compute/disks": {
			Rows:         []graph.Row{orphanedDiskRow(1)},
			BatchesTotal: 1,
		},
		"microsoft.network/ddosprotectionplans": {
			Rows:         []graph.Row{emptyDDoSPlanRow()},
			BatchesTotal: 1,
		},
		"microsoft.network/natgateways": {
			BatchesTotal: 2,
			BatchesFailed: []graph.BatchError{
				{SubscriptionIDs: []string{"sub-49", "sub-50"}, Err: errors.New("connection reset")},
			},
		},
	}}
	m := newTestModule(resolver, executor)

	out := m.Detect(context.Background(), types.ModuleInput{
		ExecutionID:     "exec-1",
		SubscriptionIDs: subs,
	})

	assert.Equal(t, types.StatusPartial, out.Status)
	assert.Equal(t, 50, out.SubscriptionsScanned)

	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], "scanning microsoft.network/natgateways")
	assert.Contains(t, out.Errors[0], "connection reset")

	// Findings from the healthy detectors survive, sorted by type.
	require.Len(t, out.Findings, 2)
	assert.Equal(t, "microsoft.compute/disks", out.Findings[0].ResourceType)
	assert.Equal(t, "microsoft.network/ddosprotectionplans", out.Findings[1].ResourceType)

	// A DDoS plan protecting nothing is critical no matter the confidence.
	ddos := out.Findings[1]
	assert.InDelta(t, 2944.0, ddos.EstimatedMonthlyCost, 1e-9)
	assert.Equal(t, types.SeverityCritical, ddos.Severity)

	assert.Equal(t, 2, out.Summary.TotalFindings)
	assert.InDelta(t, 2982.40, out.Summary.TotalMonthlyCost, 1e-9)
	assert.Equal(t, map[string]int{"medium": 1, "critical": 1}, out.Summary.BySeverity)
	assert.Equal(t, 2, out.Summary.SubscriptionsWithFindings)
}

func TestDetect_AllBatchesFailedFails(t *testing.T) {
	boom := []graph.BatchError{{SubscriptionIDs: []string{"sub-1"}, Err: errors.New("boom")}}
	executor := &fakeExecutor{results: map[string]graph.Result{
		"microsoft.compute/disks":       {BatchesTotal: 1, BatchesFailed: boom},
		"microsoft.network/natgateways": {BatchesTotal: 1, BatchesFailed: boom},
	}}
	m := newTestModule(singleSubResolver(), executor)

	out := m.Detect(context.Background(), types.ModuleInput{
		ExecutionID:     "exec-1",
		SubscriptionIDs: []string{"sub-1"},
		Configuration: map[string]any{
			"resourceTypes": []any{"microsoft.compute/disks", "microsoft.network/natgateways"},
		},
	})

	assert.Equal(t, types.StatusFailed, out.Status)
	assert.Len(t, out.Errors, 2)
	assert.Empty(t, out.Findings)
}

func TestDetect_CancellationReturnsPartial(t *testing.T) {
	executor := &fakeExecutor{results: map[string]graph.Result{
		"microsoft.compute/disks": {
			Rows:         []graph.Row{orphanedDiskRow(1)},
			BatchesTotal: 2,
			BatchesFailed: []graph.BatchError{
				{SubscriptionIDs: []string{"sub-1"}, Err: context.Canceled},
			},
			Cancelled: true,
		},
	}}
	m := newTestModule(singleSubResolver(), executor)

	out := m.Detect(context.Background(), types.ModuleInput{
		ExecutionID:     "exec-1",
		SubscriptionIDs: []string{"sub-1"},
		Configuration:   map[string]any{"resourceTypes": []any{"microsoft.compute/disks"}},
	})

	assert.Equal(t, types.StatusPartial, out.Status)
	require.Len(t, out.Findings, 1, "partial progress must not be discarded")

	// Cancellation collapses to a single recorded error.
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "scan cancelled: context canceled", out.Errors[0])
}

func TestDetect_MalformedRowsDroppedWithoutError(t *testing.T) {
	noID := orphanedDiskRow(2)
	delete(noID, "id")
	noSub := orphanedDiskRow(3)
	delete(noSub, "subscriptionId")

	executor := &fakeExecutor{results: map[string]graph.Result{
		"microsoft.compute/disks": {
			Rows:         []graph.Row{orphanedDiskRow(1), noID, noSub},
			BatchesTotal: 1,
		},
	}}
	m := newTestModule(singleSubResolver(), executor)

	out := m.Detect(context.Background(), types.ModuleInput{
		ExecutionID:     "exec-1",
		SubscriptionIDs: []string{"sub-1"},
		Configuration:   map[string]any{"resourceTypes": []any{"microsoft.compute/disks"}},
	})

	assert.Equal(t, types.StatusSuccess, out.Status)
	assert.Len(t, out.Findings, 1)
	assert.Empty(t, out.Errors)
}

func TestDetect_MinConfidenceFilters(t *testing.T) {
	executor := &fakeExecutor{results: map[string]graph.Result{
		"microsoft.compute/disks": {Rows: []graph.Row{orphanedDiskRow(1)}, BatchesTotal: 1},
	}}
	m := newTestModule(singleSubResolver(), executor)

	out := m.Detect(context.Background(), types.ModuleInput{
		ExecutionID:     "exec-1",
		SubscriptionIDs: []string{"sub-1"},
		Configuration: map[string]any{
			"resourceTypes":      []any{"microsoft.compute/disks"},
			"minConfidenceScore": 80,
		},
	})

	assert.Equal(t, types.StatusSuccess, out.Status)
	assert.Empty(t, out.Findings, "score 70 is below the configured floor")
	assert.Empty(t, out.Errors)
}

func TestDetect_ZeroCostFindings(t *testing.T) {
	basicIP := graph.Row{
		"id":             "/subscriptions/sub-1/resourceGroups/rg-net/providers/Microsoft.Network/publicIPAddresses/ip-spare-1",
		"subscriptionId": "sub-1",
		"resourceGroup":  "rg-net",
		"name":           "ip-spare-1",
		"location":       "eastus",
		"sku":            "Basic",
	}
	newModule := func() (*fakeExecutor, *Module) {
		executor := &fakeExecutor{results: map[string]graph.Result{
			"microsoft.network/publicipaddresses": {Rows: []graph.Row{basicIP}, BatchesTotal: 1},
		}}
		return executor, newTestModule(singleSubResolver(), executor)
	}

	_, m := newModule()
	out := m.Detect(context.Background(), types.ModuleInput{
		ExecutionID:     "exec-1",
		SubscriptionIDs: []string{"sub-1"},
		Configuration:   map[string]any{"resourceTypes": []any{"microsoft.network/publicipaddresses"}},
	})
	assert.Empty(t, out.Findings, "zero-cost findings are dropped by default")

	_, m = newModule()
	out = m.Detect(context.Background(), types.ModuleInput{
		ExecutionID:     "exec-1",
		SubscriptionIDs: []string{"sub-1"},
		Configuration: map[string]any{
			"resourceTypes":   []any{"microsoft.network/publicipaddresses"},
			"includeZeroCost": true,
		},
	})
	require.Len(t, out.Findings, 1)
	assert.False(t, out.Findings[0].IncursCost)
	assert.Zero(t, out.Findings[0].EstimatedMonthlyCost)
	assert.Equal(t, types.SeverityInformational, out.Findings[0].Severity)
}

func TestModule_Describe(t *testing.T) {
	m := newTestModule(singleSubResolver(), &fakeExecutor{})

	assert.Equal(t, ModuleID, m.ID())

	def := m.Describe()
	assert.Equal(t, ModuleID, def.ModuleID)
	assert.Equal(t, "Abandoned Resources", def.Name)
	assert.Equal(t, "cost-optimization", def.Category)
	assert.Equal(t, "monthly", def.DefaultSchedule)
	assert.True(t, def.Enabled)
}
