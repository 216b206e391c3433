package logparse

import (
	"strings"

	"github.com/crlsmrls/fwatch/domain"
)

// ParseLine parses one raw log line into an Event using the dispatcher order
// from spec.md §4.1: try the parser keyed to the hint first; if there is no
// hint, or the hinted parser didn't match, fall back to content sniffing in
// the order SQL heuristic, auth, ufw, iptables, then generic syslog. Fails
// silently (ok=false) if nothing matches — parsers never surface errors.
func ParseLine(line string, hint string) (domain.Event, bool) {
	if strings.TrimSpace(line) == "" {
		return domain.Event{}, false
	}

	if hint != "" {
		lower := strings.ToLower(hint)
		switch {
		case strings.Contains(lower, "auth"):
			if evt, ok := parseAuthLog(line); ok {
				return tag(evt, hint), true
			}
		case strings.Contains(lower, "ufw"):
			if evt, ok := parseUFWLog(line); ok {
				return tag(evt, hint), true
			}
		case strings.Contains(lower, "iptables"), strings.Contains(lower, "netfilter"):
			if evt, ok := parseIptablesLog(line); ok {
				return tag(evt, hint), true
			}
		case strings.Contains(lower, "sql"):
			if evt, ok := parseSQLLog(line); ok {
				return tag(evt, hint), true
			}
		case strings.Contains(lower, "syslog"):
			if evt, ok := parseSyslog(line); ok {
				return tag(evt, hint), true
			}
		}
	}

	if evt, ok := parseSQLLog(line); ok {
		return evt, true
	}
	if strings.Contains(line, "Failed password") || strings.Contains(line, "Accepted password") {
		if evt, ok := parseAuthLog(line); ok {
			return evt, true
		}
	}
	if strings.Contains(line, "[UFW") || strings.Contains(line, "UFW") {
		if evt, ok := parseUFWLog(line); ok {
			return evt, true
		}
	}
	if strings.Contains(line, "kernel:") && strings.Contains(line, "SRC=") {
		if evt, ok := parseIptablesLog(line); ok {
			return evt, true
		}
	}
	return parseSyslog(line)
}

// tag preserves the hinted log_source label on the parsed event rather than
// the parser's own default, so an operator-supplied source name survives.
func tag(evt domain.Event, hint string) domain.Event {
	evt.LogSource = hint
	return evt
}

// ParseMultiple parses each line independently and returns only the
// successful parses, in the same order as the input.
func ParseMultiple(lines []string, hint string) []domain.Event {
	events := make([]domain.Event, 0, len(lines))
	for _, line := range lines {
		if evt, ok := ParseLine(line, hint); ok {
			events = append(events, evt)
		}
	}
	return events
}
