package logparse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/crlsmrls/fwatch/domain"
)

var (
	iptSrcRE   = regexp.MustCompile(`SRC=(?P<src>[\d.]+)`)
	iptDstRE   = regexp.MustCompile(`DST=(?P<dst>[\d.]+)`)
	iptDptRE   = regexp.MustCompile(`DPT=(?P<dpt>\d+)`)
	iptSptRE   = regexp.MustCompile(`SPT=(?P<spt>\d+)`)
	iptProtoRE = regexp.MustCompile(`PROTO=(?P<proto>\w+)`)
	iptFlagsRE = regexp.MustCompile(`SYN|ACK|FIN|RST|PSH|URG`)
)

var suspiciousIptablesPorts = map[int]bool{22: true, 23: true, 1433: true, 3306: true, 3389: true, 5432: true}
var sqlPorts = map[int]bool{1433: true, 3306: true, 5432: true}

// parseIptablesLog handles kernel netfilter log lines, e.g.:
// Jan 1 10:00:00 host kernel: [12345.123] IN=eth0 OUT= SRC=1.2.3.4 DST=5.6.7.8 PROTO=TCP SPT=1 DPT=22 SYN
//
// Rule precedence is sequential, matching original_source/.../iptables_parser.py:
// suspicious-port check, then SQL-port check (can override event type), then
// the SYN-without-ACK check, then the DROP/REJECT check last so it always
// has the final say on event type and severity.
func parseIptablesLog(line string) (domain.Event, bool) {
	if !strings.Contains(line, "kernel:") || !strings.Contains(line, "SRC=") {
		return domain.Event{}, false
	}

	srcMatch := iptSrcRE.FindStringSubmatch(line)
	if srcMatch == nil {
		return domain.Event{}, false
	}

	destPort := 0
	if m := iptDptRE.FindStringSubmatch(line); m != nil {
		destPort, _ = strconv.Atoi(namedGroup(iptDptRE, m, "dpt"))
	}

	severity := domain.SeverityLow
	eventType := "IPTABLES_TRAFFIC"

	if suspiciousIptablesPorts[destPort] {
		severity = domain.SeverityHigh
		eventType = domain.EventSuspiciousPortAccess
	}
	if sqlPorts[destPort] {
		eventType = domain.EventSQLAccessAttempt
		severity = domain.SeverityHigh
	}

	flags := iptFlagsRE.FindAllString(line, -1)
	hasSYN, hasACK := false, false
	for _, f := range flags {
		if f == "SYN" {
			hasSYN = true
		}
		if f == "ACK" {
			hasACK = true
		}
	}
	if hasSYN && !hasACK {
		if eventType == "IPTABLES_TRAFFIC" {
			eventType = domain.EventConnectionAttempt
		}
		severity = domain.MaxSeverity(severity, domain.SeverityMedium)
	}

	if strings.Contains(line, "DROP") || strings.Contains(line, "REJECT") {
		eventType = domain.EventIPTablesBlocked
		severity = domain.SeverityMedium
	}

	evt := domain.Event{
		Timestamp:       extractTimestamp(line),
		SourceIP:        namedGroup(iptSrcRE, srcMatch, "src"),
		DestinationPort: destPort,
		LogSource:       "iptables",
		EventType:       eventType,
		Severity:        severity,
		RawLog:          strings.TrimSpace(line),
	}
	if m := iptDstRE.FindStringSubmatch(line); m != nil {
		evt.DestinationIP = namedGroup(iptDstRE, m, "dst")
	}
	if m := iptSptRE.FindStringSubmatch(line); m != nil {
		evt.SourcePort, _ = strconv.Atoi(namedGroup(iptSptRE, m, "spt"))
	}
	if m := iptProtoRE.FindStringSubmatch(line); m != nil {
		evt.Protocol = namedGroup(iptProtoRE, m, "proto")
	}
	return evt, true
}
