package domain

import "time"

// AlertKey is the unique identity of a materialized Alert: the bucket it was
// computed in, the lookback window used to compute it, the attack type, and
// the source IP (or the distributed-flood "Multiple IPs" placeholder).
type AlertKey struct {
	BucketEnd      time.Time
	LookbackSeconds int
	AlertType      AttackType
	SourceIP       string
}

// Alert is the materialized, persisted form of a Detection, upserted by the
// Alert Cache and read by the notification pipeline and dashboard.
type Alert struct {
	Key AlertKey `json:"key"`

	Severity    Severity  `json:"severity"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Count       int       `json:"count"`
	Description string    `json:"description"`
	Details     Detection `json:"details"`
	ComputedAt  time.Time `json:"computed_at"`
}

// NotificationRecord is inserted once a notification email has actually been
// dispatched; its DeduplicationKey is unique among sent notifications.
type NotificationRecord struct {
	ID               string    `json:"id"`
	AlertType        AttackType `json:"alert_type"`
	SourceIP         string    `json:"source_ip"`
	Severity         Severity  `json:"severity"`
	MLRiskScore      *float64  `json:"ml_risk_score,omitempty"`
	MLAvailable      bool      `json:"ml_available"`
	Recipients       []string  `json:"recipients"`
	SentAt           time.Time `json:"sent_at"`
	DeduplicationKey string    `json:"deduplication_key"`
}

// BlocklistEntry tracks the auto-block actor's host firewall state. At most
// one entry per ip may have IsActive=true.
type BlocklistEntry struct {
	IP         string     `json:"ip"`
	BlockedAt  time.Time  `json:"blocked_at"`
	IsActive   bool       `json:"is_active"`
	Reason     string     `json:"reason"`
	BlockedBy  string     `json:"blocked_by"`
	UnblockedAt *time.Time `json:"unblocked_at,omitempty"`
	UnblockedBy string     `json:"unblocked_by,omitempty"`
}
