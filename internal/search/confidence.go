package search

import (
	"fmt"
	"math"
	"strings"
)

// Band is a qualitative confidence level for a result set.
type Band string

const (
	BandHigh   Band = "high"
	BandMedium Band = "medium"
	BandLow    Band = "low"
	BandNone   Band = "none"
)

func (b Band) rank() int {
	switch b {
	case BandHigh:
		return 3
	case BandMedium:
		return 2
	case BandLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether b is as confident as other.
func (b Band) AtLeast(other Band) bool { return b.rank() >= other.rank() }

// ParseBand parses a band name.
func ParseBand(s string) (Band, error) {
	switch b := Band(strings.ToLower(strings.TrimSpace(s))); b {
	case BandHigh, BandMedium, BandLow, BandNone:
		return b, nil
	}
	return "", fmt.Errorf("unknown confidence band %q", s)
}

// Thresholds are the per-chunk confidence cutoffs for each band.
type Thresholds struct {
	High   float64
	Medium float64
	Low    float64
}

// DefaultThresholds returns high 0.70, medium 0.55, low 0.40.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.70, Medium: 0.55, Low: 0.40}
}

const (
	// rrfConfidenceScale maps keyword-only RRF scores onto the cosine range.
	rrfConfidenceScale = 30
	// rrfConfidenceCap keeps keyword-only matches below a strong vector match.
	rrfConfidenceCap = 0.8
)

// ConfidenceScore is the raw cosine similarity for chunks found by vector
// search, and a scaled, capped RRF score for keyword-only chunks.
func ConfidenceScore(r *FusedResult) float64 {
	if r.VecRank > 0 {
		return r.VecScore
	}
	return math.Min(r.RRFScore*rrfConfidenceScale, rrfConfidenceCap)
}

// Categorize bands a set of confidence scores:
//
//	high    at least two scores >= High, or top >= High and average >= Medium
//	medium  at least two scores >= Medium, or top >= Medium
//	low     top >= Low
//	none    otherwise
func Categorize(scores []float64, th Thresholds) Band {
	if len(scores) == 0 {
		return BandNone
	}
	var top, sum float64
	var high, medium int
	for _, s := range scores {
		top = math.Max(top, s)
		sum += s
		if s >= th.High {
			high++
		}
		if s >= th.Medium {
			medium++
		}
	}
	avg := sum / float64(len(scores))

	switch {
	case high >= 2 || (top >= th.High && avg >= th.Medium):
		return BandHigh
	case medium >= 2 || top >= th.Medium:
		return BandMedium
	case top >= th.Low:
		return BandLow
	default:
		return BandNone
	}
}
