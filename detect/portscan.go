package detect

import (
	"context"
	"sort"
	"time"

	"github.com/crlsmrls/fwatch/domain"
	"github.com/crlsmrls/fwatch/eventstore"
)

// PortScanOptions configures the port-scan detector (spec.md §4.4.3); zero
// value uses port_scan_detection.py's defaults.
type PortScanOptions struct {
	Window             time.Duration
	UniquePortsThreshold int
	MinTotalAttempts    int
	SourceIP            string
	Protocol            string
	Start, End          time.Time
}

func (o PortScanOptions) withDefaults() PortScanOptions {
	if o.Window <= 0 {
		o.Window = 10 * time.Minute
	}
	if o.UniquePortsThreshold <= 0 {
		o.UniquePortsThreshold = 10
	}
	if o.MinTotalAttempts <= 0 {
		o.MinTotalAttempts = 20
	}
	if o.End.IsZero() {
		o.End = time.Now().UTC()
	}
	if o.Start.IsZero() {
		o.Start = o.End.Add(-24 * time.Hour)
	}
	return o
}

// DetectPortScan groups events with a non-null source_ip and destination_port
// by source_ip and walks a greedy non-overlapping sliding window over
// distinct destination ports (spec.md §4.4.3).
func DetectPortScan(ctx context.Context, store *eventstore.Store, opts PortScanOptions) ([]domain.Detection, error) {
	opts = opts.withDefaults()

	events, err := store.ScanTimeRange(ctx, eventstore.Filters{
		SourceIP: opts.SourceIP,
		Protocol: opts.Protocol,
		Start:    opts.Start,
		End:      opts.End,
	})
	if err != nil {
		return nil, err
	}

	byIP := make(map[string][]domain.Event)
	for _, e := range events {
		if e.SourceIP == "" || e.DestinationPort == 0 {
			continue
		}
		byIP[e.SourceIP] = append(byIP[e.SourceIP], e)
	}

	var detections []domain.Detection
	for ip, log := range byIP {
		if len(log) < opts.MinTotalAttempts {
			continue
		}
		sort.Slice(log, func(i, j int) bool { return log[i].Timestamp.Before(log[j].Timestamp) })

		var windows []domain.Window
		i := 0
		for i < len(log) {
			windowStart := log[i].Timestamp
			windowEnd := windowStart.Add(opts.Window)
			j := i
			portSet := map[int]struct{}{}
			var attemptsSample []string
			var portsSample []int
			for j < len(log) && !log[j].Timestamp.After(windowEnd) {
				portSet[log[j].DestinationPort] = struct{}{}
				if len(attemptsSample) < 50 {
					attemptsSample = append(attemptsSample, log[j].RawLog)
				}
				j++
			}
			if len(portSet) >= opts.UniquePortsThreshold {
				for p := range portSet {
					portsSample = append(portsSample, p)
				}
				sort.Ints(portsSample)
				if len(portsSample) > 50 {
					portsSample = portsSample[:50]
				}
				windows = append(windows, domain.Window{
					Start:       windowStart,
					End:         log[j-1].Timestamp,
					Count:       j - i,
					UniquePorts: portsSample,
				})
				i = j
			} else {
				i++
			}
		}

		if len(windows) == 0 {
			continue
		}

		allPorts := map[int]struct{}{}
		for _, e := range log {
			allPorts[e.DestinationPort] = struct{}{}
		}
		var portsAttempted []int
		for p := range allPorts {
			portsAttempted = append(portsAttempted, p)
		}
		sort.Ints(portsAttempted)
		if len(portsAttempted) > 100 {
			portsAttempted = portsAttempted[:100]
		}

		var attemptsSample []string
		for idx := 0; idx < len(log) && idx < 50; idx++ {
			attemptsSample = append(attemptsSample, log[idx].RawLog)
		}

		d := domain.Detection{
			AttackType:           domain.AttackPortScan,
			SourceIP:             ip,
			TotalAttempts:        len(log),
			UniquePortsAttempted: len(allPorts),
			PortsSample:          portsAttempted,
			AttemptsSample:       attemptsSample,
			FirstSeen:            log[0].Timestamp,
			LastSeen:             log[len(log)-1].Timestamp,
			Windows:              windows,
			Sample: domain.SampleEvent{
				Raw:       log[0].RawLog,
				SourceIP:  log[0].SourceIP,
				EventType: log[0].EventType,
				Timestamp: log[0].Timestamp,
				LogSource: log[0].LogSource,
			},
		}
		d.Severity = portScanSeverity(len(allPorts), len(windows), len(log))
		detections = append(detections, d)
	}

	sort.Slice(detections, func(i, j int) bool {
		a, b := detections[i], detections[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() < b.Severity.Rank()
		}
		if a.UniquePortsAttempted != b.UniquePortsAttempted {
			return a.UniquePortsAttempted > b.UniquePortsAttempted
		}
		return a.TotalAttempts > b.TotalAttempts
	})
	return detections, nil
}

func portScanSeverity(uniquePorts, windowCount, totalAttempts int) domain.Severity {
	switch {
	case uniquePorts >= 50 || windowCount >= 6 || totalAttempts >= 500:
		return domain.SeverityCritical
	case uniquePorts >= 25 || windowCount >= 4 || totalAttempts >= 200:
		return domain.SeverityHigh
	case uniquePorts >= 10 || windowCount >= 2 || totalAttempts >= 50:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}
