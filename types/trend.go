package types

import "time"

// TrendLabel names the direction of a month-over-month comparison
type TrendLabel string

const (
	TrendImproving TrendLabel = "improving"
	TrendWorsening TrendLabel = "worsening"
	TrendStable    TrendLabel = "stable"
)

// MonthlyTrend aggregates one calendar month of persisted findings
type MonthlyTrend struct {
	Month                 string         `json:"month"`
	TotalFindings         int            `json:"totalFindings"`
	TotalCost             float64        `json:"totalCost"`
	BySeverity            map[string]int `json:"bySeverity"`
	ByResourceType        map[string]int `json:"byResourceType"`
	SubscriptionsAffected int            `json:"subscriptionsAffected"`
}

// TrendSummary compares the two most recent monthly buckets. Percent
// fields are nil when the previous month's total is zero.
type TrendSummary struct {
	HasComparison         bool       `json:"hasComparison"`
	CurrentMonth          string     `json:"currentMonth,omitempty"`
	PreviousMonth         string     `json:"previousMonth,omitempty"`
	FindingsChange        int        `json:"findingsChange,omitempty"`
	FindingsChangePercent *float64   `json:"findingsChangePercent,omitempty"`
	CostChange            float64    `json:"costChange,omitempty"`
	CostChangePercent     *float64   `json:"costChangePercent,omitempty"`
	Trend                 TrendLabel `json:"trend,omitempty"`
	Message               string     `json:"message"`
}

// TrendsReport is the trends endpoint response shape
type TrendsReport struct {
	ModuleID       string         `json:"moduleId"`
	SubscriptionID string         `json:"subscriptionId,omitempty"`
	PeriodMonths   int            `json:"periodMonths"`
	GeneratedAt    time.Time      `json:"generatedAt"`
	Trends         []MonthlyTrend `json:"trends"`
	Summary        TrendSummary   `json:"summary"`
}
