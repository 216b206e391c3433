package logparse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/crlsmrls/fwatch/domain"
)

var (
	sqlConnectionRE = regexp.MustCompile(`(?i)(?:mysql|postgres|mssql|sql server).*?(?:connection|login|auth).*?from\s+(?P<ip>[\d.]+)`)
	sqlFailedRE     = regexp.MustCompile(`(?i)(?:failed|denied|error|unauthorized).*?(?:login|connection|authentication).*?(?:mysql|postgres|mssql|sql)`)
	sqlInjectionRE  = regexp.MustCompile(`(?i)(?:union|select|insert|delete|update|drop|exec|execute).*?(?:--|;|/\*|\*/)`)
	sqlPortRE       = regexp.MustCompile(`1433|3306|5432|1521`)
	genericIPRE     = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	genericPortRE   = regexp.MustCompile(`:(?P<port>\d{1,5})\b|port\s+(?P<port2>\d{1,5})`)
)

// parseSQLLog is the generic-IP heuristic SQL-access parser. It matches any
// line containing an IP (the dispatcher only reaches it before the
// format-specific parsers in content-sniff mode, per spec.md §4.1's stated
// order), and falls through an elif-style precedence chain for event type:
// injection > auth-failed > connection > port-access > generic access.
func parseSQLLog(line string) (domain.Event, bool) {
	if strings.TrimSpace(line) == "" {
		return domain.Event{}, false
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
	if destPort == 0 {
		destPort = inferSQLPort(line)
	}
	if destPort == 0 {
		destPort = 1433
	}

	eventType := domain.EventSQLAccessAttempt
	severity := domain.SeverityHigh

	switch {
	case sqlInjectionRE.MatchString(line):
		eventType = domain.EventSQLInjectionAttempt
		severity = domain.SeverityCritical
	case sqlFailedRE.MatchString(line):
		eventType = domain.EventSQLAuthFailed
		severity = domain.SeverityHigh
	case sqlConnectionRE.MatchString(line):
		eventType = domain.EventSQLConnection
		severity = domain.SeverityMedium
	case sqlPortRE.MatchString(line):
		eventType = domain.EventSQLPortAccess
		severity = domain.SeverityHigh
	}

	return domain.Event{
		Timestamp:       extractTimestamp(line),
		SourceIP:        ip,
		DestinationPort: destPort,
		Protocol:        "TCP",
		LogSource:       "sql.log",
		EventType:       eventType,
		Severity:        severity,
		RawLog:          strings.TrimSpace(line),
	}, true
}

func inferSQLPort(line string) int {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(line, "1433") || strings.Contains(lower, "mssql") || strings.Contains(lower, "sql server"):
		return 1433
	case strings.Contains(line, "3306") || strings.Contains(lower, "mysql"):
		return 3306
	case strings.Contains(line, "5432") || strings.Contains(lower, "postgres"):
		return 5432
	case strings.Contains(line, "1521") || strings.Contains(lower, "oracle"):
		return 1521
	}
	return 0
}
