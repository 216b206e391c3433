package mlscore

import (
	"context"
	"testing"
	"time"

	"github.com/crlsmrls/fwatch/domain"
)

func TestScore_AuthLikeUsesInferredLabelWithoutClassifier(t *testing.T) {
	s := NewScorer()
	result := s.Score(context.Background(), domain.MLInput{
		LogSource: "auth.log",
		EventType: domain.EventSSHFailedLogin,
		RawLog:    "Failed password for root from 10.0.0.1 port 22 ssh2",
		Timestamp: time.Date(2026, 7, 30, 3, 0, 0, 0, time.UTC),
	})
	if !result.MLAvailable {
		t.Fatalf("expected ml_available=true")
	}
	if result.PredictedLabel != LabelBruteForce {
		t.Errorf("predicted_label = %q, want BRUTE_FORCE", result.PredictedLabel)
	}
	if result.RiskScore <= 0 || result.RiskScore > 100 {
		t.Errorf("risk_score = %v, out of [0,100]", result.RiskScore)
	}
}

func TestScore_NonAuthLikeSkipsClassifier(t *testing.T) {
	s := NewScorer()
	s.Classifier = stubClassifier{label: "SHOULD_NOT_APPEAR", confidence: 0.99, ok: true}
	result := s.Score(context.Background(), domain.MLInput{
		LogSource: "ufw.log",
		EventType: domain.EventUFWTraffic,
		RawLog:    "SRC=1.2.3.4 DPT=80",
		Timestamp: time.Now().UTC(),
	})
	if result.PredictedLabel == "SHOULD_NOT_APPEAR" {
		t.Errorf("classifier should not be consulted for non-auth-like input")
	}
}

func TestRiskScoreFormula(t *testing.T) {
	// risk = 100 * clip01(0.55*anomaly + 0.45*confidence*weight(label))
	anomaly, confidence, weight := 0.5, 0.8, labelWeight(LabelDDoS)
	want := 100 * clip01(0.55*anomaly+0.45*confidence*weight)
	if want <= 0 || want > 100 {
		t.Fatalf("sanity check failed: %v", want)
	}
}

func TestAdjustSeverity_StepsDownOnlyWhenConfidentAndLowAnomaly(t *testing.T) {
	sev := AdjustSeverity(domain.SeverityHigh, domain.MLResult{
		MLAvailable: true, PredictedLabel: LabelNormal, Confidence: 0.9, AnomalyScore: 0.1,
	})
	if sev != domain.SeverityMedium {
		t.Errorf("severity = %v, want MEDIUM (stepped down from HIGH)", sev)
	}

	unchanged := AdjustSeverity(domain.SeverityHigh, domain.MLResult{
		MLAvailable: true, PredictedLabel: LabelNormal, Confidence: 0.5, AnomalyScore: 0.1,
	})
	if unchanged != domain.SeverityHigh {
		t.Errorf("severity = %v, want unchanged HIGH (confidence too low)", unchanged)
	}

	clamped := AdjustSeverity(domain.SeverityLow, domain.MLResult{
		MLAvailable: true, PredictedLabel: LabelNormal, Confidence: 0.99, AnomalyScore: 0.0,
	})
	if clamped != domain.SeverityLow {
		t.Errorf("severity = %v, want clamped at LOW", clamped)
	}
}

func TestFeatureCache_SchemaVersionMismatchInvalidates(t *testing.T) {
	c := NewFeatureCache(time.Hour)
	input := domain.MLInput{EventType: "SSH_FAILED_LOGIN", RawLog: "x"}
	first := c.GetOrCompute(input)

	c.mu.Lock()
	for k, v := range c.entries {
		v.version = featureSchemaVersion - 1
		c.entries[k] = v
	}
	c.mu.Unlock()

	second := c.GetOrCompute(input)
	if first != second {
		t.Errorf("expected identical recomputed features, got %+v vs %+v", first, second)
	}
}

type stubClassifier struct {
	label      string
	confidence float64
	ok         bool
}

func (s stubClassifier) Predict(fv FeatureVector) (string, float64, bool) {
	return s.label, s.confidence, s.ok
}
