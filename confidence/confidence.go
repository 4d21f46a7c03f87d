// Package confidence scores how certain the engine is that a detected
// resource is truly abandoned. Scoring is a pure function of the candidate
// attributes and an explicit reference time; identical inputs always
// produce identical output.
package confidence

import (
	"strings"
	"time"

	"github.com/cloudtrim/cloudtrim/types"
)

const baseScore = 50

// Candidate carries the attributes the scorer inspects
type Candidate struct {
	Name          string
	Tags          map[string]string
	OrphanedSince *time.Time
	CreatedAt     *time.Time
}

// referenceDate is when the resource became orphaned, falling back to
// creation time when the detector could not derive an orphan timestamp.
func (c Candidate) referenceDate() *time.Time {
	if c.OrphanedSince != nil {
		return c.OrphanedSince
	}
	return c.CreatedAt
}

// Score computes a confidence score in [0,100] for a candidate as of the
// given time. Base 50, plus one duration bucket, one name-pattern
// modifier, and one tag modifier, clamped.
func Score(c Candidate, asOf time.Time) int {
	score := baseScore
	score += durationModifier(c.referenceDate(), asOf)
	score += nameModifier(c.Name)
	score += tagModifier(c.Tags)
	return clamp(score)
}

// LevelFor maps a clamped score to its discrete confidence level
func LevelFor(score int) types.ConfidenceLevel {
	switch {
	case score >= 95:
		return types.ConfidenceCertain
	case score >= 75:
		return types.ConfidenceHigh
	case score >= 50:
		return types.ConfidenceMedium
	case score >= 25:
		return types.ConfidenceLow
	default:
		return types.ConfidenceUncertain
	}
}

// Recommendation returns the suggested action for a confidence level
func Recommendation(level types.ConfidenceLevel) string {
	switch level {
	case types.ConfidenceCertain:
		return "Recommend immediate deletion"
	case types.ConfidenceHigh:
		return "Recommend deletion after verification"
	case types.ConfidenceMedium:
		return "Flag for review"
	case types.ConfidenceLow:
		return "Informational only"
	default:
		return "Requires investigation"
	}
}

// durationModifier applies exactly one orphan-duration bucket. No
// reference date, a future date, or the 3-14 day window leave the base
// score unchanged.
func durationModifier(since *time.Time, asOf time.Time) int {
	if since == nil {
		return 0
	}

	days := int(asOf.Sub(*since).Hours() / 24)
	switch {
	case days > 90:
		return 30
	case days >= 30:
		return 20
	case days >= 14:
		return 10
	case days >= 3:
		return 0
	case days >= 0:
		return -20
	default:
		return 0
	}
}

// nameModifier checks temporary-intent patterns first; a hit wins over
// any retention pattern also present in the name.
func nameModifier(name string) int {
	lower := strings.ToLower(name)

	if matchesAny(temporaryNamePatterns, lower) {
		return 15
	}
	if matchesAny(retentionNamePatterns, lower) {
		return -15
	}
	return 0
}

// tagModifier penalizes the first tag that signals production, disaster
// recovery, or explicit retention intent.
func tagModifier(tags map[string]string) int {
	for key, value := range tags {
		combined := strings.ToLower(key + ":" + value)

		for _, retention := range retentionTags {
			if strings.Contains(combined, retention) {
				return -20
			}
		}

		if strings.EqualFold(key, "environment") {
			v := strings.ToLower(value)
			if v == "prod" || v == "production" {
				return -20
			}
		}
	}
	return 0
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
