package logparse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/crlsmrls/fwatch/domain"
)

var sshLinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`Failed password for (?:invalid user )?(?P<user>\w+) from (?P<ip>[\d.]+)`),
	regexp.MustCompile(`Accepted password for (?P<user>\w+) from (?P<ip>[\d.]+)`),
	regexp.MustCompile(`Invalid user (?P<user>\w+) from (?P<ip>[\d.]+)`),
}

var sqlLinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:mysql|postgres|mssql|sql).*?(?:connection|login|auth).*?(?:failed|denied|error)`),
	regexp.MustCompile(`(?i)port\s+(?:1433|3306|5432)`),
}

var securityKeywords = []string{"denied", "blocked", "rejected", "failed", "error", "attack", "intrusion"}

// parseSyslog is the generic fallback parser: tries SSH patterns, then SQL
// patterns, then emits a generic SYSLOG_ENTRY (or SYSLOG_SECURITY_EVENT if a
// security keyword is present).
func parseSyslog(line string) (domain.Event, bool) {
	if strings.TrimSpace(line) == "" {
		return domain.Event{}, false
	}
	ts := extractTimestamp(line)

	for _, re := range sshLinePatterns {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ip := namedGroup(re, m, "ip")
		user := namedGroup(re, m, "user")

		switch {
		case strings.Contains(line, "Failed password"), strings.Contains(line, "Invalid user"):
			return domain.Event{
				Timestamp: ts, SourceIP: ip, DestinationPort: 22, Protocol: "TCP",
				LogSource: "syslog", EventType: domain.EventSSHFailedLogin,
				Severity: domain.SeverityHigh, Username: user, RawLog: strings.TrimSpace(line),
			}, true
		case strings.Contains(line, "Accepted password"):
			return domain.Event{
				Timestamp: ts, SourceIP: ip, DestinationPort: 22, Protocol: "TCP",
				LogSource: "syslog", EventType: domain.EventSSHLoginSuccess,
				Severity: domain.SeverityLow, Username: user, RawLog: strings.TrimSpace(line),
			}, true
		}
	}

	for _, re := range sqlLinePatterns {
		if !re.MatchString(line) {
			continue
		}
		ip := genericIPRE.FindString(line)
		if ip == "" {
			continue
		}
		destPort := 0
		if m := genericPortRE.FindStringSubmatch(line); m != nil {
			portStr := namedGroup(genericPortRE, m, "port")
			if portStr == "" {
				portStr = namedGroup(genericPortRE, m, "port2")
			}
			destPort, _ = strconv.Atoi(portStr)
		}
		if destPort == 0 {
			destPort = inferSQLPort(line)
		}
		if destPort == 0 {
			destPort = 1433
		}

		eventType := domain.EventSQLAccessAttempt
		lower := strings.ToLower(line)
		if strings.Contains(lower, "failed") || strings.Contains(lower, "denied") || strings.Contains(lower, "error") {
			eventType = domain.EventSQLAuthFailed
		}
		return domain.Event{
			Timestamp: ts, SourceIP: ip, DestinationPort: destPort, Protocol: "TCP",
			LogSource: "syslog", EventType: eventType, Severity: domain.SeverityHigh,
			RawLog: strings.TrimSpace(line),
		}, true
	}

	ip := genericIPRE.FindString(line)
	if ip == "" {
		return domain.Event{}, false
	}
	destPort := 0
	if m := genericPortRE.FindStringSubmatch(line); m != nil {
		portStr := namedGroup(genericPortRE, m, "port")
		if portStr == "" {
			portStr = namedGroup(genericPortRE, m, "port2")
		}
		destPort, _ = strconv.Atoi(portStr)
	}

	severity := domain.SeverityLow
	eventType := domain.EventSyslogEntry
	lower := strings.ToLower(line)
	for _, kw := range securityKeywords {
		if strings.Contains(lower, kw) {
			severity = domain.SeverityMedium
			eventType = "SYSLOG_SECURITY_EVENT"
			break
		}
	}

	return domain.Event{
		Timestamp: ts, SourceIP: ip, DestinationPort: destPort,
		LogSource: "syslog", EventType: eventType, Severity: severity,
		RawLog: strings.TrimSpace(line),
	}, true
}
