package domain

import "time"

// Event is the canonical parsed record of one raw log line. Immutable after
// insert; destroyed only by the retention worker or an operator.
type Event struct {
	ID                int64     `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	SourceIP          string    `json:"source_ip"`
	DestinationIP     string    `json:"destination_ip,omitempty"`
	SourcePort        int       `json:"source_port,omitempty"`
	DestinationPort   int       `json:"destination_port,omitempty"`
	Protocol          string    `json:"protocol,omitempty"`
	LogSource         string    `json:"log_source"`
	EventType         string    `json:"event_type"`
	Severity          Severity  `json:"severity"`
	Username          string    `json:"username,omitempty"`
	RawLog            string    `json:"raw_log"`
}

// Known event types assigned by the parsers (spec.md §4.1).
const (
	EventSSHFailedLogin      = "SSH_FAILED_LOGIN"
	EventSSHLoginSuccess     = "SSH_LOGIN_SUCCESS"
	EventUFWTraffic          = "UFW_TRAFFIC"
	EventSuspiciousPortAccess = "SUSPICIOUS_PORT_ACCESS"
	EventSQLAccessAttempt    = "SQL_ACCESS_ATTEMPT"
	EventConnectionAttempt   = "CONNECTION_ATTEMPT"
	EventIPTablesBlocked     = "IPTABLES_BLOCKED"
	EventSQLInjectionAttempt = "SQL_INJECTION_ATTEMPT"
	EventSQLAuthFailed       = "SQL_AUTH_FAILED"
	EventSQLPortAccess       = "SQL_PORT_ACCESS_ATTEMPT"
	EventSQLConnection       = "SQL_CONNECTION_ATTEMPT"
	EventSyslogEntry         = "SYSLOG_ENTRY"
)

// ML labels used in enrichment (spec.md §3).
const (
	LabelNormal      = "NORMAL"
	LabelSuspicious  = "SUSPICIOUS"
	LabelBruteForce  = "BRUTE_FORCE"
	LabelDDoS        = "DDOS"
	LabelPortScan    = "PORT_SCAN"
	LabelSQLInjection = "SQL_INJECTION"
)
