package mlscore

import (
	"context"
	"fmt"
	"strings"

	"github.com/crlsmrls/fwatch/domain"
)

// Prediction labels, grounded on ml_service.py's label vocabulary.
const (
	LabelNormal      = "NORMAL"
	LabelSuspicious  = "SUSPICIOUS"
	LabelBruteForce  = "BRUTE_FORCE"
	LabelDDoS        = "DDOS"
	LabelPortScan    = "PORT_SCAN"
	LabelSQLInjection = "SQL_INJECTION"
)

// labelWeight implements the w(label) table in spec.md §4.6.
func labelWeight(label string) float64 {
	switch strings.ToUpper(label) {
	case LabelNormal:
		return 0.10
	case LabelSuspicious:
		return 0.60
	case LabelBruteForce:
		return 0.80
	case LabelDDoS, LabelPortScan:
		return 0.90
	default:
		return 0.50
	}
}

// severityToConfidence seeds a confidence value from a rule-based severity
// hint when no classifier confidence is available, grounded on
// ml_service.py's _severity_to_confidence.
func severityToConfidence(sev domain.Severity, hasHint bool) float64 {
	if !hasHint {
		return 0.50
	}
	switch sev {
	case domain.SeverityCritical:
		return 0.95
	case domain.SeverityHigh:
		return 0.85
	case domain.SeverityMedium:
		return 0.70
	default:
		return 0.55
	}
}

// PredictionRecord is what gets persisted per score() call when persistence
// is enabled (spec.md §4.6: "Predictions are optionally persisted").
type PredictionRecord struct {
	Input  domain.MLInput
	Result domain.MLResult
}

// PredictionStore is the optional persistence collaborator; nil disables
// persistence entirely.
type PredictionStore interface {
	Store(ctx context.Context, rec PredictionRecord) error
}

// Scorer implements the ML Scorer contract (spec.md §4.6).
type Scorer struct {
	Enabled     bool
	Anomaly     AnomalyModel
	Calibration Calibration
	Classifier  Classifier // may be nil
	Cache       *FeatureCache
	Predictions PredictionStore // may be nil
}

// NewScorer builds a Scorer with the built-in default anomaly model; callers
// that have a loaded artifact bundle (via modellifecycle) should replace
// Anomaly/Calibration/Classifier after construction.
func NewScorer() *Scorer {
	return &Scorer{
		Enabled:     true,
		Anomaly:     DefaultAnomalyModel{},
		Calibration: DefaultCalibration,
		Cache:       NewFeatureCache(0),
	}
}

// Score implements the full contract: never panics, never returns an error;
// on any internal failure it degrades to a hint-derived risk estimate with
// MLAvailable=false (spec.md §4.6, §7).
func (s *Scorer) Score(ctx context.Context, input domain.MLInput) (result domain.MLResult) {
	defer func() {
		if r := recover(); r != nil {
			result = s.fallback(input, fmt.Sprintf("ml.panic=%v", r))
		}
	}()

	if !s.Enabled {
		return domain.MLResult{MLAvailable: false, Reasoning: "ML disabled"}
	}

	fv := s.Cache.GetOrCompute(input)

	var reasoning []string
	anomaly := clip01(rawToUnitInterval(s.Anomaly.RawScore(fv), s.Calibration))
	reasoning = append(reasoning, fmt.Sprintf("ml.anomaly_score=%.3f", anomaly))

	label, confidence := "", 0.0
	haveClassifierLabel := false
	if isAuthLike(input.LogSource, input.EventType) && s.Classifier != nil {
		if l, c, ok := s.Classifier.Predict(fv); ok {
			label, confidence, haveClassifierLabel = l, c, true
			reasoning = append(reasoning, fmt.Sprintf("ml.class=%s conf=%.3f", label, confidence))
		}
	}

	if !haveClassifierLabel {
		label, confidence = inferLabel(input)
		reasoning = append(reasoning, fmt.Sprintf("inferred.label=%s conf=%.2f", label, confidence))
	}

	risk := 100 * clip01(0.55*anomaly+0.45*confidence*labelWeight(label))
	reasoning = append(reasoning, fmt.Sprintf("ml.risk_score=%.1f", risk))

	result = domain.MLResult{
		MLAvailable:    true,
		AnomalyScore:   anomaly,
		PredictedLabel: label,
		Confidence:     confidence,
		RiskScore:      risk,
		Reasoning:      strings.Join(reasoning, "; "),
	}
	s.persist(ctx, input, result)
	return result
}

// inferLabel implements the threat_type_hint / event_type substring /
// severity-default fallback chain in spec.md §4.6.
func inferLabel(input domain.MLInput) (label string, confidence float64) {
	if input.ThreatTypeHint != "" {
		return input.ThreatTypeHint, severityToConfidence(input.SeverityHint, input.HasSeverityHint)
	}

	if input.EventType != "" {
		upper := strings.ToUpper(input.EventType)
		switch {
		case strings.Contains(upper, "BRUTE_FORCE") || strings.Contains(upper, "SSH_FAILED"):
			label = LabelBruteForce
		case strings.Contains(upper, "DDOS") || strings.Contains(upper, "FLOOD"):
			label = LabelDDoS
		case strings.Contains(upper, "PORT_SCAN") || strings.Contains(upper, "SCAN"):
			label = LabelPortScan
		case strings.Contains(upper, "SQL") || strings.Contains(upper, "INJECTION"):
			label = LabelSQLInjection
		case strings.Contains(upper, "SUSPICIOUS"):
			label = LabelSuspicious
		case strings.Contains(upper, "SSH_SUCCESS") || strings.Contains(upper, "LOGIN_SUCCESS"):
			label = LabelNormal
		default:
			if input.HasSeverityHint && (input.SeverityHint == domain.SeverityCritical || input.SeverityHint == domain.SeverityHigh) {
				label = LabelSuspicious
			} else {
				label = LabelNormal
			}
		}
		return label, severityToConfidence(input.SeverityHint, input.HasSeverityHint)
	}

	if input.HasSeverityHint && (input.SeverityHint == domain.SeverityCritical || input.SeverityHint == domain.SeverityHigh) {
		label = LabelSuspicious
	} else {
		label = LabelNormal
	}
	return label, severityToConfidence(input.SeverityHint, input.HasSeverityHint)
}

// fallback computes a degraded, hint-only risk estimate when scoring itself
// failed (spec.md §7: ML Scorer "never raises... degraded results are
// marked ml_available=false and include a rule-based fallback risk").
func (s *Scorer) fallback(input domain.MLInput, reason string) domain.MLResult {
	if input.ThreatTypeHint == "" && !input.HasSeverityHint {
		return domain.MLResult{MLAvailable: false, Reasoning: reason}
	}
	label := input.ThreatTypeHint
	if label == "" {
		label = LabelSuspicious
	}
	confidence := severityToConfidence(input.SeverityHint, input.HasSeverityHint)
	risk := 100 * clip01(0.45*confidence*labelWeight(label))
	return domain.MLResult{
		MLAvailable:    false,
		PredictedLabel: label,
		Confidence:     confidence,
		RiskScore:      risk,
		Reasoning:      reason + fmt.Sprintf("; fallback.risk_score=%.1f", risk),
	}
}

func (s *Scorer) persist(ctx context.Context, input domain.MLInput, result domain.MLResult) {
	if s.Predictions == nil {
		return
	}
	_ = s.Predictions.Store(ctx, PredictionRecord{Input: input, Result: result})
}

// AdjustSeverity implements the severity adjustment policy in spec.md §4.6:
// when ML is available, predicts NORMAL with high confidence and low
// anomaly, step the severity down one rank; never past LOW.
func AdjustSeverity(sev domain.Severity, result domain.MLResult) domain.Severity {
	if result.MLAvailable && result.PredictedLabel == LabelNormal && result.Confidence >= 0.80 && result.AnomalyScore <= 0.30 {
		return sev.StepDown()
	}
	return sev
}
