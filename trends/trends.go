// Package trends turns persisted finding records into month-over-month
// waste movement: calendar-month buckets, a two-month comparison, and a
// narrative summary line.
package trends

import (
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/cloudtrim/cloudtrim/types"
)

// noiseThreshold is the percent movement below which a series counts as
// flat when labeling the trend.
const noiseThreshold = 5.0

var englishPrinter = message.NewPrinter(language.English)

// Aggregate buckets records by the calendar month of their execution
// date, most recent month first. Every bucket is computed independently
// from only its own records.
func Aggregate(records []types.FindingRecord) []types.MonthlyTrend {
	type bucket struct {
		findings       int
		cost           float64
		bySeverity     map[string]int
		byResourceType map[string]int
		subscriptions  map[string]bool
	}

	buckets := make(map[string]*bucket)
	for _, rec := range records {
		month := rec.Month()
		b := buckets[month]
		if b == nil {
			b = &bucket{
				bySeverity:     make(map[string]int),
				byResourceType: make(map[string]int),
				subscriptions:  make(map[string]bool),
			}
			buckets[month] = b
		}
		b.findings++
		b.cost += rec.EstimatedMonthlyCost
		b.bySeverity[string(rec.Severity)]++
		b.byResourceType[rec.ResourceType]++
		b.subscriptions[rec.SubscriptionID] = true
	}

	months := make([]string, 0, len(buckets))
	for month := range buckets {
		months = append(months, month)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(months)))

	trends := make([]types.MonthlyTrend, 0, len(months))
	for _, month := range months {
		b := buckets[month]
		trends = append(trends, types.MonthlyTrend{
			Month:                 month,
			TotalFindings:         b.findings,
			TotalCost:             round2(b.cost),
			BySeverity:            b.bySeverity,
			ByResourceType:        b.byResourceType,
			SubscriptionsAffected: len(b.subscriptions),
		})
	}
	return trends
}

// Summarize compares the two most recent buckets. Percent changes are nil
// when the previous month's total is zero; they are never infinite or NaN.
func Summarize(monthly []types.MonthlyTrend) types.TrendSummary {
	if len(monthly) < 2 {
		return types.TrendSummary{
			HasComparison: false,
			Message:       "Insufficient data for comparison (need at least 2 months)",
		}
	}
	current, previous := monthly[0], monthly[1]

	findingsChange := current.TotalFindings - previous.TotalFindings
	costChange := round2(current.TotalCost - previous.TotalCost)

	var findingsPct, costPct *float64
	if previous.TotalFindings != 0 {
		v := round1(float64(findingsChange) / float64(previous.TotalFindings) * 100)
		findingsPct = &v
	}
	if previous.TotalCost != 0 {
		v := round1((current.TotalCost - previous.TotalCost) / previous.TotalCost * 100)
		costPct = &v
	}

	return types.TrendSummary{
		HasComparison:         true,
		CurrentMonth:          current.Month,
		PreviousMonth:         previous.Month,
		FindingsChange:        findingsChange,
		FindingsChangePercent: findingsPct,
		CostChange:            costChange,
		CostChangePercent:     costPct,
		Trend:                 classify(findingsChange, findingsPct, costChange, costPct),
		Message:               narrative(current, previous, findingsChange, findingsPct, costChange),
	}
}

// BuildReport assembles the trends response for one module over the
// requested period. The caller supplies the generation time; this package
// never reads the clock.
func BuildReport(moduleID, subscriptionID string, periodMonths int, generatedAt time.Time, records []types.FindingRecord) types.TrendsReport {
	monthly := Aggregate(records)
	return types.TrendsReport{
		ModuleID:       moduleID,
		SubscriptionID: subscriptionID,
		PeriodMonths:   periodMonths,
		GeneratedAt:    generatedAt,
		Trends:         monthly,
		Summary:        Summarize(monthly),
	}
}

type direction int

const (
	flat direction = iota
	up
	down
)

// seriesDirection labels one series' movement. With a defined percent the
// noise threshold applies; with the percent undefined (previous total was
// zero) any growth counts as up.
func seriesDirection(change float64, pct *float64) direction {
	if pct == nil {
		if change > 0 {
			return up
		}
		return flat
	}
	switch {
	case *pct >= noiseThreshold:
		return up
	case *pct <= -noiseThreshold:
		return down
	default:
		return flat
	}
}

// classify labels the comparison: improving only when findings and cost
// both fell, worsening only when both rose, stable otherwise.
func classify(findingsChange int, findingsPct *float64, costChange float64, costPct *float64) types.TrendLabel {
	f := seriesDirection(float64(findingsChange), findingsPct)
	c := seriesDirection(costChange, costPct)
	switch {
	case f == down && c == down:
		return types.TrendImproving
	case f == up && c == up:
		return types.TrendWorsening
	default:
		return types.TrendStable
	}
}

// narrative keys the sentence on the findings delta. The percent embedded
// in the sentence reads as 100 when the previous month had no findings,
// even though the structured percent field stays nil.
func narrative(current, previous types.MonthlyTrend, findingsChange int, findingsPct *float64, costChange float64) string {
	pct := 100.0
	if findingsPct != nil {
		pct = *findingsPct
	}

	switch {
	case findingsChange < 0:
		return fmt.Sprintf(
			"Great progress! Findings decreased from %d to %d (%.0f%% reduction), saving an estimated $%s/month compared to %s.",
			previous.TotalFindings, current.TotalFindings, math.Abs(pct), money(math.Abs(costChange)), previous.Month)
	case findingsChange > 0:
		return fmt.Sprintf(
			"Attention needed: Findings increased from %d to %d (%.0f%% increase), adding $%s/month in potential waste since %s.",
			previous.TotalFindings, current.TotalFindings, pct, money(costChange), previous.Month)
	default:
		return fmt.Sprintf(
			"Findings stable at %d ($%s/month potential savings identified).",
			current.TotalFindings, money(math.Abs(costChange)))
	}
}

// money renders a dollar amount with thousands grouping, two decimals.
func money(v float64) string {
	return englishPrinter.Sprintf("%.2f", v)
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
