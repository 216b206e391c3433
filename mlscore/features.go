// Package mlscore implements the ML Scorer contract (spec.md §4.6): a
// feature pipeline over a single representative log line, an anomaly score
// via percentile calibration, an auth-gated classifier, and a label-weighted
// risk score. Never raises: on any internal failure it returns a degraded,
// hint-derived result instead (spec.md §7).
package mlscore

import (
	"math"
	"strings"

	"github.com/crlsmrls/fwatch/domain"
)

// FeatureVector is the engineered numeric feature row the models consume,
// grounded on feature_extractor.py's time/event/content feature groups
// (ip features are omitted: a single representative line carries no group
// history to compute frequency-by-IP against).
type FeatureVector struct {
	HourSin         float64
	HourCos         float64
	IsWeekend       float64
	IsNight         float64
	IsBusinessHours float64
	ContentLength   float64
	DigitRatio      float64
	UpperRatio      float64
	EventIDBucket   float64 // stable hash of event_type, bucketed to [0,1)
}

// BuildMLInput returns input unchanged: domain.MLInput already carries the
// fields the feature pipeline hashes and extracts from.
func BuildMLInput(input domain.MLInput) domain.MLInput {
	return input
}

// ExtractFeatures computes the engineered feature row exactly as the
// trained pipeline would (feature_extractor.py's time/event feature
// extractors, reimplemented deterministically in Go).
func ExtractFeatures(input domain.MLInput) FeatureVector {
	ts := input.Timestamp
	hour := float64(ts.Hour())
	weekday := ts.Weekday()

	content := input.RawLog
	var digits, upper int
	for _, r := range content {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r >= 'A' && r <= 'Z':
			upper++
		}
	}
	length := float64(len(content))
	digitRatio, upperRatio := 0.0, 0.0
	if length > 0 {
		digitRatio = float64(digits) / length
		upperRatio = float64(upper) / length
	}

	isWeekend := 0.0
	if weekday == 0 || weekday == 6 {
		isWeekend = 1.0
	}
	isNight := 0.0
	if hour >= 22 || hour < 6 {
		isNight = 1.0
	}
	isBusinessHours := 0.0
	if hour >= 9 && hour <= 17 {
		isBusinessHours = 1.0
	}

	return FeatureVector{
		HourSin:         math.Sin(2 * math.Pi * hour / 24),
		HourCos:         math.Cos(2 * math.Pi * hour / 24),
		IsWeekend:       isWeekend,
		IsNight:         isNight,
		IsBusinessHours: isBusinessHours,
		ContentLength:   length,
		DigitRatio:       digitRatio,
		UpperRatio:       upperRatio,
		EventIDBucket:    stableHashUnit(input.EventType),
	}
}

// stableHashUnit maps s to a deterministic value in [0,1) using FNV-1a, the
// same "deterministic across process restarts" requirement spec.md §9
// calls out for the feature cache key — never use a per-process-randomized
// hash (Go's builtin map iteration order or hash/maphash without a fixed
// seed) here.
func stableHashUnit(s string) float64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return float64(h%1000) / 1000.0
}

// isAuthLike gates the classifier to inputs the model was trained on
// (spec.md §4.6): the log source mentions "auth", or the event type is an
// SSH_ event.
func isAuthLike(logSource, eventType string) bool {
	return strings.Contains(strings.ToLower(logSource), "auth") || strings.HasPrefix(eventType, "SSH_")
}
