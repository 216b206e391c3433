// Package detect implements the sliding-window attack detectors (spec.md
// §4.4): brute-force, flood (single-IP and distributed), and port-scan, plus
// IP reputation enrichment. Each detector reads an immutable time slice from
// the event store and never coordinates with writers; late-arriving events
// simply appear in a later bucket (spec.md §5).
package detect

import (
	"context"
	"sort"
	"time"

	"github.com/crlsmrls/fwatch/domain"
	"github.com/crlsmrls/fwatch/eventstore"
)

// BruteForceOptions configures the brute-force detector; zero value uses the
// defaults from brute_force_detection.py (time_window_minutes=15, threshold=5).
type BruteForceOptions struct {
	Window     time.Duration
	Threshold  int
	SourceIP   string
	Start, End time.Time
}

func (o BruteForceOptions) withDefaults() BruteForceOptions {
	if o.Window <= 0 {
		o.Window = 15 * time.Minute
	}
	if o.Threshold <= 0 {
		o.Threshold = 5
	}
	if o.End.IsZero() {
		o.End = time.Now().UTC()
	}
	if o.Start.IsZero() {
		o.Start = o.End.Add(-24 * time.Hour)
	}
	return o
}

// DetectBruteForce groups SSH_FAILED_LOGIN events by source_ip and walks a
// greedy non-overlapping sliding window per IP (spec.md §4.4.1).
func DetectBruteForce(ctx context.Context, store *eventstore.Store, opts BruteForceOptions) ([]domain.Detection, error) {
	opts = opts.withDefaults()

	filters := eventstore.Filters{
		EventType: domain.EventSSHFailedLogin,
		SourceIP:  opts.SourceIP,
		Start:     opts.Start,
		End:       opts.End,
	}
	events, err := store.ScanTimeRange(ctx, filters)
	if err != nil {
		return nil, err
	}

	byIP := make(map[string][]domain.Event)
	for _, e := range events {
		byIP[e.SourceIP] = append(byIP[e.SourceIP], e)
	}

	var detections []domain.Detection
	for ip, attempts := range byIP {
		sort.Slice(attempts, func(i, j int) bool { return attempts[i].Timestamp.Before(attempts[j].Timestamp) })

		var windows []domain.Window
		i := 0
		for i < len(attempts) {
			windowEnd := attempts[i].Timestamp.Add(opts.Window)
			j := i
			var usernames []string
			for j < len(attempts) && !attempts[j].Timestamp.After(windowEnd) {
				if attempts[j].Username != "" {
					usernames = append(usernames, attempts[j].Username)
				}
				j++
			}
			count := j - i
			if count >= opts.Threshold {
				windows = append(windows, domain.Window{
					Start:     attempts[i].Timestamp,
					End:       attempts[j-1].Timestamp,
					Count:     count,
					Usernames: usernames,
				})
				i = j
			} else {
				i++
			}
		}

		if len(windows) == 0 {
			continue
		}

		uniqueUsernames := map[string]struct{}{}
		for _, a := range attempts {
			if a.Username != "" {
				uniqueUsernames[a.Username] = struct{}{}
			}
		}
		var usernameList []string
		for u := range uniqueUsernames {
			usernameList = append(usernameList, u)
		}
		sort.Strings(usernameList)

		d := domain.Detection{
			AttackType:      domain.AttackBruteForce,
			SourceIP:        ip,
			TotalAttempts:   len(attempts),
			FirstSeen:       attempts[0].Timestamp,
			LastSeen:        attempts[len(attempts)-1].Timestamp,
			Windows:         windows,
			UniqueUsernames: usernameList,
			Sample: domain.SampleEvent{
				Raw:       attempts[0].RawLog,
				SourceIP:  attempts[0].SourceIP,
				EventType: attempts[0].EventType,
				Timestamp: attempts[0].Timestamp,
				LogSource: attempts[0].LogSource,
			},
		}
		d.Severity = bruteForceSeverity(d.TotalAttempts, len(windows))
		detections = append(detections, d)
	}

	sort.Slice(detections, func(i, j int) bool { return detections[i].Severity.Rank() < detections[j].Severity.Rank() })
	return detections, nil
}

// bruteForceSeverity implements the threshold table in spec.md §4.4.1:
// CRITICAL if total >= 50 or windows >= 5; HIGH if >= 20 or >= 3; MEDIUM if
// >= 10; else LOW.
func bruteForceSeverity(totalAttempts, windowCount int) domain.Severity {
	switch {
	case totalAttempts >= 50 || windowCount >= 5:
		return domain.SeverityCritical
	case totalAttempts >= 20 || windowCount >= 3:
		return domain.SeverityHigh
	case totalAttempts >= 10:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}
