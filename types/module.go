package types

import "fmt"

// ExecutionStatus is the overall outcome of one module invocation
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusPartial ExecutionStatus = "partial"
	StatusFailed  ExecutionStatus = "failed"
)

// ModuleInput is the request contract every detection module accepts
type ModuleInput struct {
	ExecutionID        string         `json:"executionId"`
	SubscriptionIDs    []string       `json:"subscriptionIds,omitempty"`
	ManagementGroupIDs []string       `json:"managementGroupIds,omitempty"`
	Configuration      map[string]any `json:"configuration,omitempty"`
	DryRun             bool           `json:"dryRun,omitempty"`
}

// Validate rejects inputs that must never reach target resolution
func (in ModuleInput) Validate() error {
	if in.ExecutionID == "" {
		return fmt.Errorf("executionId is required")
	}
	if len(in.SubscriptionIDs) == 0 && len(in.ManagementGroupIDs) == 0 {
		return fmt.Errorf("at least one of subscriptionIds or managementGroupIds is required")
	}
	return nil
}

// ModuleOutput is the response contract every detection module returns.
// Failures surface here, never as errors across the module boundary.
// DryRun echoes the input flag so the persistence collaborator knows not
// to write the findings.
type ModuleOutput struct {
	ModuleID             string          `json:"moduleId"`
	ExecutionID          string          `json:"executionId"`
	Status               ExecutionStatus `json:"status"`
	DryRun               bool            `json:"dryRun,omitempty"`
	SubscriptionsScanned int             `json:"subscriptionsScanned"`
	Findings             []Finding       `json:"findings"`
	Summary              ModuleSummary   `json:"summary"`
	Errors               []string        `json:"errors"`
}

// ModuleSummary aggregates the findings list of the same output.
// Derived purely from that list; holds no independent state.
type ModuleSummary struct {
	TotalFindings             int            `json:"totalFindings"`
	TotalMonthlyCost          float64        `json:"totalMonthlyCost"`
	BySeverity                map[string]int `json:"bySeverity"`
	ByResourceType            map[string]int `json:"byResourceType"`
	SubscriptionsWithFindings int            `json:"subscriptionsWithFindings"`
}

// ModuleDefinition is registry metadata describing an installed module
type ModuleDefinition struct {
	ModuleID        string `json:"moduleId"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	Category        string `json:"category"`
	DefaultSchedule string `json:"defaultSchedule"`
	Enabled         bool   `json:"enabled"`
}
