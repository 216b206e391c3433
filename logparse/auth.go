package logparse

import (
	"regexp"
	"strings"

	"github.com/crlsmrls/fwatch/domain"
)

var (
	authFailedRE  = regexp.MustCompile(`Failed password for (?:invalid user )?(?P<user>\w+) from (?P<ip>[\d.]+)`)
	authSuccessRE = regexp.MustCompile(`Accepted password for (?P<user>\w+) from (?P<ip>[\d.]+)`)
)

// parseAuthLog handles SSH authentication log lines (auth.log).
func parseAuthLog(line string) (domain.Event, bool) {
	ts := extractTimestamp(line)

	if strings.Contains(line, "Failed password") {
		if m := authFailedRE.FindStringSubmatch(line); m != nil {
			return domain.Event{
				Timestamp:       ts,
				SourceIP:        namedGroup(authFailedRE, m, "ip"),
				DestinationPort: 22,
				Protocol:        "TCP",
				LogSource:       "auth.log",
				EventType:       domain.EventSSHFailedLogin,
				Severity:        domain.SeverityHigh,
				Username:        namedGroup(authFailedRE, m, "user"),
				RawLog:          strings.TrimSpace(line),
			}, true
		}
	}

	if strings.Contains(line, "Accepted password") {
		if m := authSuccessRE.FindStringSubmatch(line); m != nil {
			return domain.Event{
				Timestamp:       ts,
				SourceIP:        namedGroup(authSuccessRE, m, "ip"),
				DestinationPort: 22,
				Protocol:        "TCP",
				LogSource:       "auth.log",
				EventType:       domain.EventSSHLoginSuccess,
				Severity:        domain.SeverityLow,
				Username:        namedGroup(authSuccessRE, m, "user"),
				RawLog:          strings.TrimSpace(line),
			}, true
		}
	}

	return domain.Event{}, false
}

// namedGroup returns the value of a named capture group, or "" if absent.
func namedGroup(re *regexp.Regexp, match []string, name string) string {
	for i, n := range re.SubexpNames() {
		if n == name && i < len(match) {
			return match[i]
		}
	}
	return ""
}
