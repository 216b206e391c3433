package logparse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/crlsmrls/fwatch/domain"
)

var (
	ufwSrcRE   = regexp.MustCompile(`SRC=(?P<src>[\d.]+)`)
	ufwDstRE   = regexp.MustCompile(`DST=(?P<dst>[\d.]+)`)
	ufwSptRE   = regexp.MustCompile(`SPT=(?P<spt>\d+)`)
	ufwDptRE   = regexp.MustCompile(`DPT=(?P<dpt>\d+)`)
	ufwProtoRE = regexp.MustCompile(`PROTO=(?P<proto>\w+)`)
)

var suspiciousUFWPorts = map[int]bool{22: true, 23: true, 1433: true, 3306: true}

// parseUFWLog handles "[UFW ...]" lines, e.g.:
// [UFW AUDIT] IN=enp0s8 OUT= SRC=192.168.56.1 DST=192.168.56.101 PROTO=TCP SPT=50520 DPT=22
func parseUFWLog(line string) (domain.Event, bool) {
	if !strings.Contains(line, "[UFW") {
		return domain.Event{}, false
	}

	srcMatch := ufwSrcRE.FindStringSubmatch(line)
	if srcMatch == nil {
		return domain.Event{}, false
	}

	destPort := 0
	if m := ufwDptRE.FindStringSubmatch(line); m != nil {
		destPort, _ = strconv.Atoi(namedGroup(ufwDptRE, m, "dpt"))
	}

	severity := domain.SeverityLow
	eventType := domain.EventUFWTraffic
	if suspiciousUFWPorts[destPort] {
		severity = domain.SeverityHigh
		eventType = domain.EventSuspiciousPortAccess
	}

	evt := domain.Event{
		Timestamp:       extractTimestamp(line),
		SourceIP:        namedGroup(ufwSrcRE, srcMatch, "src"),
		DestinationPort: destPort,
		LogSource:       "ufw.log",
		EventType:       eventType,
		Severity:        severity,
		RawLog:          strings.TrimSpace(line),
	}
	if m := ufwDstRE.FindStringSubmatch(line); m != nil {
		evt.DestinationIP = namedGroup(ufwDstRE, m, "dst")
	}
	if m := ufwSptRE.FindStringSubmatch(line); m != nil {
		evt.SourcePort, _ = strconv.Atoi(namedGroup(ufwSptRE, m, "spt"))
	}
	if m := ufwProtoRE.FindStringSubmatch(line); m != nil {
		evt.Protocol = namedGroup(ufwProtoRE, m, "proto")
	}
	return evt, true
}
