// Package autoblock implements the automatic IP blocking actor (spec.md
// §4.9): a rules-or-ML policy decision, a cooldown-aware blocklist store, and
// a firewall collaborator that actually denies traffic from a blocked IP.
package autoblock

import (
	"fmt"
	"strings"

	"github.com/crlsmrls/fwatch/domain"
)

// Options configures the policy; zero values take auto_ip_blocking_service.py's
// env-var defaults.
type Options struct {
	Enabled bool

	BlockCritical bool
	BlockHigh     bool
	BlockMedium   bool
	BlockLow      bool

	MLRiskThreshold        float64
	MLAnomalyThreshold     float64
	MLConfidenceThreshold  float64
	RequireMLConfirmation  bool

	BruteForceAttemptThreshold int
	DDoSRequestThreshold       int
	PortScanPortsThreshold     int

	CooldownHours int
}

func (o Options) withDefaults() Options {
	if o.MLRiskThreshold <= 0 {
		o.MLRiskThreshold = 75.0
	}
	if o.MLAnomalyThreshold <= 0 {
		o.MLAnomalyThreshold = 0.7
	}
	if o.MLConfidenceThreshold <= 0 {
		o.MLConfidenceThreshold = 0.7
	}
	if o.BruteForceAttemptThreshold <= 0 {
		o.BruteForceAttemptThreshold = 20
	}
	if o.DDoSRequestThreshold <= 0 {
		o.DDoSRequestThreshold = 500
	}
	if o.PortScanPortsThreshold <= 0 {
		o.PortScanPortsThreshold = 25
	}
	if o.CooldownHours <= 0 {
		o.CooldownHours = 24
	}
	return o
}

// AttackMetrics carries the subset of a Detection's fields the policy's
// attack-specific thresholds look at.
type AttackMetrics struct {
	TotalAttempts        int
	TotalRequests         int
	UniquePortsAttempted int
}

// Decision is the policy's verdict on a single detection.
type Decision struct {
	ShouldBlock bool
	Reason      string
}

// Decide implements should_auto_block: a rules-based check, an ML-based
// check, and an AND/OR combination gated by RequireMLConfirmation
// (spec.md §4.9).
func (o Options) Decide(threatType domain.AttackType, severity domain.Severity, metrics AttackMetrics, ml domain.MLResult) Decision {
	o = o.withDefaults()
	if !o.Enabled {
		return Decision{false, "auto-blocking is disabled"}
	}

	rulesOK, rulesReason := o.rulesDecision(threatType, severity, metrics)
	mlOK, mlReason := o.mlDecision(ml)

	if o.RequireMLConfirmation {
		if rulesOK && mlOK {
			return Decision{true, fmt.Sprintf("rules: %s; ml: %s", rulesReason, mlReason)}
		}
		return Decision{false, fmt.Sprintf("ml confirmation required but not met (rules=%v, ml=%v)", rulesOK, mlOK)}
	}

	switch {
	case rulesOK && mlOK:
		return Decision{true, fmt.Sprintf("rules-based: %s; ml confirmed: %s", rulesReason, mlReason)}
	case rulesOK:
		return Decision{true, fmt.Sprintf("rules-based: %s", rulesReason)}
	case mlOK:
		return Decision{true, fmt.Sprintf("ml-based: %s", mlReason)}
	default:
		return Decision{false, fmt.Sprintf("thresholds not met (rules: %s, ml: %s)", rulesReason, mlReason)}
	}
}

func (o Options) rulesDecision(threatType domain.AttackType, severity domain.Severity, metrics AttackMetrics) (bool, string) {
	switch severity {
	case domain.SeverityCritical:
		if o.BlockCritical {
			return true, fmt.Sprintf("CRITICAL severity %s detected", threatType)
		}
	case domain.SeverityHigh:
		if o.BlockHigh {
			return true, fmt.Sprintf("HIGH severity %s detected", threatType)
		}
	case domain.SeverityMedium:
		if o.BlockMedium {
			return true, fmt.Sprintf("MEDIUM severity %s detected", threatType)
		}
	case domain.SeverityLow:
		if o.BlockLow {
			return true, fmt.Sprintf("LOW severity %s detected", threatType)
		}
	}

	switch threatType {
	case domain.AttackBruteForce:
		if metrics.TotalAttempts >= o.BruteForceAttemptThreshold {
			return true, fmt.Sprintf("brute force: %d attempts (threshold: %d)", metrics.TotalAttempts, o.BruteForceAttemptThreshold)
		}
	case domain.AttackSingleIPFlood, domain.AttackDistributedFlood:
		if metrics.TotalRequests >= o.DDoSRequestThreshold {
			return true, fmt.Sprintf("ddos: %d requests (threshold: %d)", metrics.TotalRequests, o.DDoSRequestThreshold)
		}
	case domain.AttackPortScan:
		if metrics.UniquePortsAttempted >= o.PortScanPortsThreshold {
			return true, fmt.Sprintf("port scan: %d ports (threshold: %d)", metrics.UniquePortsAttempted, o.PortScanPortsThreshold)
		}
	}

	return false, fmt.Sprintf("rules thresholds not met (severity: %s, type: %s)", severity, threatType)
}

var mlThreatLabels = map[string]bool{
	"BRUTE_FORCE": true, "DDOS": true, "PORT_SCAN": true, "MALICIOUS": true, "ATTACK": true,
}

func (o Options) mlDecision(ml domain.MLResult) (bool, string) {
	if !ml.MLAvailable {
		return false, "no ML data available"
	}

	var reasons []string
	decision := false

	if ml.RiskScore >= o.MLRiskThreshold {
		decision = true
		reasons = append(reasons, fmt.Sprintf("risk score %.1f >= %.1f", ml.RiskScore, o.MLRiskThreshold))
	} else {
		reasons = append(reasons, fmt.Sprintf("risk score %.1f < %.1f", ml.RiskScore, o.MLRiskThreshold))
	}

	if ml.AnomalyScore >= o.MLAnomalyThreshold {
		decision = true
		reasons = append(reasons, fmt.Sprintf("anomaly score %.3f >= %.3f", ml.AnomalyScore, o.MLAnomalyThreshold))
	} else {
		reasons = append(reasons, fmt.Sprintf("anomaly score %.3f < %.3f", ml.AnomalyScore, o.MLAnomalyThreshold))
	}

	if ml.PredictedLabel != "" && mlThreatLabels[strings.ToUpper(ml.PredictedLabel)] && ml.Confidence >= o.MLConfidenceThreshold {
		decision = true
		reasons = append(reasons, fmt.Sprintf("ml label: %s (confidence: %.1f%%)", ml.PredictedLabel, ml.Confidence*100))
	}

	if len(reasons) == 0 {
		return false, "ML thresholds not met"
	}
	return decision, strings.Join(reasons, "; ")
}
