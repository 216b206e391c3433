package mlscore

import "math"

// Calibration holds the stored percentile calibration (q_low, q_high) a
// trained anomaly model's raw decision-function output is scaled through,
// grounded on train_anomaly_detector.py's raw_to_unit_interval.
type Calibration struct {
	QLow  float64
	QHigh float64
}

// rawToUnitInterval scales raw by calibration and clips to [0,1], exactly
// as train_anomaly_detector.py's raw_to_unit_interval does.
func rawToUnitInterval(raw float64, c Calibration) float64 {
	span := c.QHigh - c.QLow
	if span == 0 {
		return 0
	}
	scaled := (raw - c.QLow) / span
	return clip01(scaled)
}

func clip01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// AnomalyModel produces a raw decision-function score from a feature row;
// higher means more anomalous. A real artifact-backed implementation is
// supplied by modellifecycle at load time; DefaultAnomalyModel below is the
// built-in fallback used when no artifact bundle is loaded.
type AnomalyModel interface {
	RawScore(fv FeatureVector) float64
}

// Classifier predicts a threat label with a confidence; ok is false when the
// classifier has nothing to say (no loaded artifact).
type Classifier interface {
	Predict(fv FeatureVector) (label string, confidence float64, ok bool)
}

// DefaultAnomalyModel is a lightweight, dependency-free stand-in for a
// trained isolation-forest-style model: it scores a feature row by how far
// its content shape and timing deviate from "ordinary" auth traffic. It
// exists so the scorer degrades to a real (if simple) signal instead of a
// constant when no trained artifact bundle has been loaded.
type DefaultAnomalyModel struct{}

func (DefaultAnomalyModel) RawScore(fv FeatureVector) float64 {
	score := 0.0
	score += fv.IsNight * 0.3
	score += fv.DigitRatio * 0.2
	score += fv.UpperRatio * 0.15
	score += math.Max(0, fv.ContentLength-200) / 1000 * 0.2
	score += (1 - fv.IsBusinessHours) * 0.15
	return score
}

// DefaultCalibration is a reasonable fixed percentile window for
// DefaultAnomalyModel's raw score range; a loaded artifact bundle supplies
// its own trained calibration instead.
var DefaultCalibration = Calibration{QLow: 0.05, QHigh: 0.85}
