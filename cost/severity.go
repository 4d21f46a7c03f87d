package cost

import "github.com/cloudtrim/cloudtrim/types"

// ClassifySeverity buckets a monthly cost into a severity band. Bounds are
// strict on the upper side: a cost of exactly $1,000 is high, not critical.
func ClassifySeverity(monthlyCost float64) types.Severity {
	switch {
	case monthlyCost > 1000:
		return types.SeverityCritical
	case monthlyCost > 100:
		return types.SeverityHigh
	case monthlyCost > 10:
		return types.SeverityMedium
	case monthlyCost > 1:
		return types.SeverityLow
	default:
		return types.SeverityInformational
	}
}

// Summarize reduces a findings list to its aggregate statistics.
// The reduction is commutative; ordering never changes the result.
func Summarize(findings []types.Finding) types.ModuleSummary {
	summary := types.ModuleSummary{
		BySeverity:     make(map[string]int),
		ByResourceType: make(map[string]int),
	}
	subscriptions := make(map[string]struct{})
	for _, f := range findings {
		summary.TotalFindings++
		summary.TotalMonthlyCost += f.EstimatedMonthlyCost
		summary.BySeverity[string(f.Severity)]++
		summary.ByResourceType[f.ResourceType]++
		subscriptions[f.SubscriptionID] = struct{}{}
	}
	summary.SubscriptionsWithFindings = len(subscriptions)
	return summary
}
