package domain

import "time"

// MLInput is the single-row raw input the scorer builds from whatever
// context the caller has available; all fields are optional hints.
type MLInput struct {
	SourceIP       string
	ThreatTypeHint string
	SeverityHint   Severity
	HasSeverityHint bool
	Timestamp      time.Time
	LogSource      string
	EventType      string
	RawLog         string
}

// MLResult is the scorer's contract output. Never an error: on internal
// failure MLAvailable is false and RiskScore still carries a degraded,
// hint-derived estimate.
type MLResult struct {
	MLAvailable    bool    `json:"ml_available"`
	AnomalyScore   float64 `json:"anomaly_score"`
	PredictedLabel string  `json:"predicted_label"`
	Confidence     float64 `json:"confidence"`
	RiskScore      float64 `json:"risk_score"`
	Reasoning      string  `json:"reasoning"`
}
