package domain

import "time"

// Window is a contiguous, disjoint slice of time within a detector's scan
// range whose qualifying-event count met the detector's threshold. Ephemeral:
// it lives only inside a Detection, never persisted on its own.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Count int       `json:"count"`

	// Per-type payload. Only the fields relevant to the detector that
	// produced the window are populated.
	Usernames       []string       `json:"usernames,omitempty"`
	RequestRatePerMin float64      `json:"request_rate_per_min,omitempty"`
	TargetPorts     map[int]int    `json:"target_ports,omitempty"`
	Protocols       map[string]int `json:"protocols,omitempty"`
	UniqueIPs       int            `json:"unique_ips,omitempty"`
	TopAttackers    []string       `json:"top_attackers,omitempty"`
	UniquePorts     []int          `json:"unique_ports,omitempty"`
}

// AttackType names the detector that produced a Detection.
type AttackType string

const (
	AttackBruteForce      AttackType = "BRUTE_FORCE"
	AttackSingleIPFlood    AttackType = "SINGLE_IP_FLOOD"
	AttackDistributedFlood AttackType = "DISTRIBUTED_FLOOD"
	AttackPortScan         AttackType = "PORT_SCAN"
)

// SampleEvent is a representative raw event captured for ML scoring and for
// display, distinct from the full Event record: only the fields a detector
// contract promises ("representative sample (raw, source, event_type)").
type SampleEvent struct {
	Raw       string    `json:"raw"`
	SourceIP  string    `json:"source_ip"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	LogSource string    `json:"log_source"`
}

// Detection is a per-IP or per-target record produced by a detector.
// Produced on demand; never persisted directly (the Alert Cache persists a
// materialized Alert derived from it).
type Detection struct {
	AttackType AttackType `json:"attack_type"`

	// Primary subject of the detection: the attacking source IP for
	// brute-force/single-IP-flood/port-scan, or empty for distributed
	// flood (where no single IP dominates).
	SourceIP string `json:"source_ip,omitempty"`
	// AttackingIPs lists every IP that contributed, used by distributed
	// flood (top attackers) and available generally.
	AttackingIPs []string `json:"attacking_ips,omitempty"`

	TotalAttempts int `json:"total_attempts"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	Windows []Window `json:"windows"`

	Severity Severity `json:"severity"`

	Sample SampleEvent `json:"sample"`

	// Detector-specific summary fields.
	UniqueUsernames   []string       `json:"unique_usernames,omitempty"`
	PeakRequestRate   float64        `json:"peak_request_rate,omitempty"`
	AverageRequestRate float64       `json:"average_request_rate,omitempty"`
	TargetPorts       map[int]int    `json:"target_ports,omitempty"`
	Protocols         map[string]int `json:"protocols,omitempty"`
	DestinationPort   int            `json:"destination_port,omitempty"`
	Protocol          string         `json:"protocol,omitempty"`
	PeakUniqueIPs     int            `json:"peak_unique_ips,omitempty"`
	UniquePortsAttempted int         `json:"unique_ports_attempted,omitempty"`
	PortsSample       []int          `json:"ports_sample,omitempty"`
	AttemptsSample    []string       `json:"attempts_sample,omitempty"`

	// Reputation may upgrade severity; recorded for transparency.
	Reputation string `json:"reputation,omitempty"`
}
