package fetch

import (
	"math"

	"quotefeed/internal/source"
)

// CrossValidation reports how closely the secondary sources agree with the
// primary. Confidence is a step function of the average divergence so that
// behavior stays predictable and testable.
type CrossValidation struct {
	Confidence       float64 `json:"confidence"`
	Reason           string  `json:"reason,omitempty"`
	AvgDivergencePct float64 `json:"avg_divergence_pct"`
	MaxDivergencePct float64 `json:"max_divergence_pct"`
	ComparedCount    uint    `json:"compared_count"`
}

const (
	ReasonNoFallback         = "no_fallback"
	ReasonNoComparablePrices = "no_comparable_prices"
)

// Compare scores agreement between the primary result and any secondaries.
// Secondaries without a usable price are skipped. With zero secondaries
// attempted, confidence is 0.5; attempted but none comparable, 0.4.
func Compare(primary source.Result, secondaries []source.Result) CrossValidation {
	if len(secondaries) == 0 {
		return CrossValidation{Confidence: 0.5, Reason: ReasonNoFallback}
	}

	var sum, max float64
	var count uint
	for _, s := range secondaries {
		if !s.Succeeded || s.Price == 0 || primary.Price == 0 {
			continue
		}
		div := math.Abs(primary.Price-s.Price) / primary.Price * 100
		sum += div
		if div > max {
			max = div
		}
		count++
	}
	if count == 0 {
		return CrossValidation{Confidence: 0.4, Reason: ReasonNoComparablePrices}
	}

	avg := sum / float64(count)
	return CrossValidation{
		Confidence:       confidenceFor(avg),
		AvgDivergencePct: avg,
		MaxDivergencePct: max,
		ComparedCount:    count,
	}
}

func confidenceFor(avgDivergencePct float64) float64 {
	switch {
	case avgDivergencePct < 1.0:
		return 0.95
	case avgDivergencePct < 2.0:
		return 0.85
	case avgDivergencePct < 5.0:
		return 0.70
	default:
		return 0.50
	}
}
