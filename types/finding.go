// Package types defines the core domain types for Cloudtrim
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Category classifies what kind of waste a finding represents
type Category string

const (
	CategoryAbandoned       Category = "abandoned"
	CategoryOverprovisioned Category = "overprovisioned"
	CategoryIdle            Category = "idle"
	CategoryMisconfigured   Category = "misconfigured"
	CategoryOpportunity     Category = "opportunity"
)

// Severity buckets a finding by estimated monthly cost impact
type Severity string

const (
	SeverityCritical      Severity = "critical"
	SeverityHigh          Severity = "high"
	SeverityMedium        Severity = "medium"
	SeverityLow           Severity = "low"
	SeverityInformational Severity = "informational"
)

// ConfidenceLevel buckets a 0-100 confidence score
type ConfidenceLevel string

const (
	ConfidenceCertain   ConfidenceLevel = "certain"
	ConfidenceHigh      ConfidenceLevel = "high"
	ConfidenceMedium    ConfidenceLevel = "medium"
	ConfidenceLow       ConfidenceLevel = "low"
	ConfidenceUncertain ConfidenceLevel = "uncertain"
)

// Finding is a single standardized record of a detected, cost-incurring,
// underused resource. Immutable once assembled.
type Finding struct {
	FindingID            string          `json:"findingId"`
	SubscriptionID       string          `json:"subscriptionId"`
	ResourceID           string          `json:"resourceId"`
	ResourceType         string          `json:"resourceType"`
	Category             Category        `json:"category"`
	Severity             Severity        `json:"severity"`
	ConfidenceScore      int             `json:"confidenceScore"`
	ConfidenceLevel      ConfidenceLevel `json:"confidenceLevel"`
	IncursCost           bool            `json:"incursCost"`
	EstimatedMonthlyCost float64         `json:"estimatedMonthlyCost"`
	Metadata             map[string]any  `json:"metadata,omitempty"`
}

// FindingID derives the stable finding identity for a resource within one
// execution: first 16 hex chars of SHA-256 over "resourceId:executionId".
// Persistence upserts are keyed by this value.
func FindingID(resourceID, executionID string) string {
	sum := sha256.Sum256([]byte(resourceID + ":" + executionID))
	return hex.EncodeToString(sum[:])[:16]
}

// Validate checks the finding holds its invariants
func (f Finding) Validate() error {
	if f.FindingID == "" {
		return fmt.Errorf("finding ID cannot be empty")
	}
	if f.ResourceID == "" {
		return fmt.Errorf("resource ID cannot be empty")
	}
	if f.SubscriptionID == "" {
		return fmt.Errorf("subscription ID cannot be empty")
	}
	if f.ConfidenceScore < 0 || f.ConfidenceScore > 100 {
		return fmt.Errorf("confidence score %d out of range [0,100]", f.ConfidenceScore)
	}
	if f.EstimatedMonthlyCost < 0 {
		return fmt.Errorf("estimated monthly cost cannot be negative")
	}
	if !f.Category.valid() {
		return fmt.Errorf("unknown category %q", f.Category)
	}
	if !f.Severity.valid() {
		return fmt.Errorf("unknown severity %q", f.Severity)
	}
	if !f.ConfidenceLevel.valid() {
		return fmt.Errorf("unknown confidence level %q", f.ConfidenceLevel)
	}
	return nil
}

func (c Category) valid() bool {
	switch c {
	case CategoryAbandoned, CategoryOverprovisioned, CategoryIdle,
		CategoryMisconfigured, CategoryOpportunity:
		return true
	}
	return false
}

func (s Severity) valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium,
		SeverityLow, SeverityInformational:
		return true
	}
	return false
}

func (l ConfidenceLevel) valid() bool {
	switch l {
	case ConfidenceCertain, ConfidenceHigh, ConfidenceMedium,
		ConfidenceLow, ConfidenceUncertain:
		return true
	}
	return false
}
