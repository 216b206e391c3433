package detect

import (
	"context"
	"sort"
	"time"

	"github.com/crlsmrls/fwatch/domain"
	"github.com/crlsmrls/fwatch/eventstore"
)

// DDoSOptions configures the flood detector (spec.md §4.4.2); zero value
// uses ddos_detection.py's defaults.
type DDoSOptions struct {
	Window                     time.Duration
	SingleIPThreshold          int
	DistributedIPCount         int
	DistributedRequestThreshold int
	DestinationPort            int
	Protocol                   string
	Start, End                 time.Time
}

func (o DDoSOptions) withDefaults() DDoSOptions {
	if o.Window <= 0 {
		o.Window = 60 * time.Second
	}
	if o.SingleIPThreshold <= 0 {
		o.SingleIPThreshold = 100
	}
	if o.DistributedIPCount <= 0 {
		o.DistributedIPCount = 10
	}
	if o.DistributedRequestThreshold <= 0 {
		o.DistributedRequestThreshold = 500
	}
	if o.End.IsZero() {
		o.End = time.Now().UTC()
	}
	if o.Start.IsZero() {
		o.Start = o.End.Add(-time.Hour)
	}
	return o
}

// DetectDDoS runs both flood sub-detectors over the same time slice and
// returns their combined results sorted by severity then peak rate
// descending (spec.md §4.4.2).
func DetectDDoS(ctx context.Context, store *eventstore.Store, opts DDoSOptions) ([]domain.Detection, error) {
	opts = opts.withDefaults()

	events, err := store.ScanTimeRange(ctx, eventstore.Filters{
		DestinationPort: opts.DestinationPort,
		Protocol:        opts.Protocol,
		Start:           opts.Start,
		End:             opts.End,
	})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	detections := detectSingleIPFloods(events, opts)
	detections = append(detections, detectDistributedFloods(events, opts)...)

	sort.Slice(detections, func(i, j int) bool {
		if detections[i].Severity.Rank() != detections[j].Severity.Rank() {
			return detections[i].Severity.Rank() < detections[j].Severity.Rank()
		}
		return detections[i].PeakRequestRate > detections[j].PeakRequestRate
	})
	return detections, nil
}

func detectSingleIPFloods(events []domain.Event, opts DDoSOptions) []domain.Detection {
	byIP := make(map[string][]domain.Event)
	for _, e := range events {
		if e.SourceIP != "" {
			byIP[e.SourceIP] = append(byIP[e.SourceIP], e)
		}
	}

	var detections []domain.Detection
	windowMinutes := opts.Window.Minutes()

	for ip, log := range byIP {
		sort.Slice(log, func(i, j int) bool { return log[i].Timestamp.Before(log[j].Timestamp) })

		var windows []domain.Window
		i := 0
		for i < len(log) {
			windowStart := log[i].Timestamp
			windowEnd := windowStart.Add(opts.Window)
			j := i
			ports := map[int]int{}
			protocols := map[string]int{}
			for j < len(log) && !log[j].Timestamp.After(windowEnd) {
				if log[j].DestinationPort != 0 {
					ports[log[j].DestinationPort]++
				}
				if log[j].Protocol != "" {
					protocols[log[j].Protocol]++
				}
				j++
			}
			count := j - i
			if count >= opts.SingleIPThreshold {
				windows = append(windows, domain.Window{
					Start:             windowStart,
					End:               log[j-1].Timestamp,
					Count:             count,
					RequestRatePerMin: float64(count) / windowMinutes,
					TargetPorts:       ports,
					Protocols:         protocols,
				})
			}
			i = j
		}

		if len(windows) == 0 {
			continue
		}

		totalRequests := len(log)
		peakRate := 0.0
		for _, w := range windows {
			if w.RequestRatePerMin > peakRate {
				peakRate = w.RequestRatePerMin
			}
		}
		timeSpan := log[len(log)-1].Timestamp.Sub(log[0].Timestamp).Seconds()
		avgRate := float64(totalRequests)
		if timeSpan > 0 {
			avgRate = float64(totalRequests) / (timeSpan / 60)
		}

		allPorts := map[int]int{}
		allProtocols := map[string]int{}
		for _, e := range log {
			if e.DestinationPort != 0 {
				allPorts[e.DestinationPort]++
			}
			if e.Protocol != "" {
				allProtocols[e.Protocol]++
			}
		}

		d := domain.Detection{
			AttackType:         domain.AttackSingleIPFlood,
			SourceIP:           ip,
			AttackingIPs:       []string{ip},
			TotalAttempts:      totalRequests,
			PeakRequestRate:    peakRate,
			AverageRequestRate: avgRate,
			TargetPorts:        allPorts,
			Protocols:          allProtocols,
			FirstSeen:          log[0].Timestamp,
			LastSeen:           log[len(log)-1].Timestamp,
			Windows:            windows,
			Sample: domain.SampleEvent{
				Raw:       log[0].RawLog,
				SourceIP:  log[0].SourceIP,
				EventType: log[0].EventType,
				Timestamp: log[0].Timestamp,
				LogSource: log[0].LogSource,
			},
		}
		d.Severity = singleIPFloodSeverity(peakRate, len(windows))
		detections = append(detections, d)
	}
	return detections
}

type targetKey struct {
	port     int
	protocol string
}

func detectDistributedFloods(events []domain.Event, opts DDoSOptions) []domain.Detection {
	byTarget := make(map[targetKey][]domain.Event)
	for _, e := range events {
		byTarget[targetKey{e.DestinationPort, e.Protocol}] = append(byTarget[targetKey{e.DestinationPort, e.Protocol}], e)
	}

	var detections []domain.Detection
	windowMinutes := opts.Window.Minutes()

	for key, log := range byTarget {
		if len(log) < opts.DistributedRequestThreshold {
			continue
		}
		sort.Slice(log, func(i, j int) bool { return log[i].Timestamp.Before(log[j].Timestamp) })

		ipSet := map[string]struct{}{}
		for _, e := range log {
			if e.SourceIP != "" {
				ipSet[e.SourceIP] = struct{}{}
			}
		}
		if len(ipSet) < opts.DistributedIPCount {
			continue
		}

		var windows []domain.Window
		i := 0
		for i < len(log) {
			windowStart := log[i].Timestamp
			windowEnd := windowStart.Add(opts.Window)
			j := i
			ipCounts := map[string]int{}
			for j < len(log) && !log[j].Timestamp.After(windowEnd) {
				if log[j].SourceIP != "" {
					ipCounts[log[j].SourceIP]++
				}
				j++
			}
			count := j - i
			if count >= opts.DistributedRequestThreshold && len(ipCounts) >= opts.DistributedIPCount {
				windows = append(windows, domain.Window{
					Start:             windowStart,
					End:               log[j-1].Timestamp,
					Count:             count,
					UniqueIPs:         len(ipCounts),
					RequestRatePerMin: float64(count) / windowMinutes,
					TopAttackers:      topN(ipCounts, 10),
				})
			}
			i = j
		}

		if len(windows) == 0 {
			continue
		}

		totalRequests := len(log)
		peakRate, peakUniqueIPs := 0.0, 0
		for _, w := range windows {
			if w.RequestRatePerMin > peakRate {
				peakRate = w.RequestRatePerMin
			}
			if w.UniqueIPs > peakUniqueIPs {
				peakUniqueIPs = w.UniqueIPs
			}
		}
		timeSpan := log[len(log)-1].Timestamp.Sub(log[0].Timestamp).Seconds()
		avgRate := float64(totalRequests)
		if timeSpan > 0 {
			avgRate = float64(totalRequests) / (timeSpan / 60)
		}

		allIPCounts := map[string]int{}
		for _, e := range log {
			if e.SourceIP != "" {
				allIPCounts[e.SourceIP]++
			}
		}
		topIPs := topN(allIPCounts, 20)

		d := domain.Detection{
			AttackType:           domain.AttackDistributedFlood,
			AttackingIPs:         topIPs,
			TotalAttempts:        totalRequests,
			PeakRequestRate:      peakRate,
			AverageRequestRate:   avgRate,
			PeakUniqueIPs:        peakUniqueIPs,
			DestinationPort:      key.port,
			Protocol:             key.protocol,
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
		d.Severity = distributedFloodSeverity(peakRate, len(ipSet), len(windows))
		detections = append(detections, d)
	}
	return detections
}

// topN returns the n source IPs with the highest counts, ties broken by
// insertion order of the map iteration (immaterial — only the count ordering
// is contractual).
func topN(counts map[string]int, n int) []string {
	type kv struct {
		ip    string
		count int
	}
	entries := make([]kv, 0, len(counts))
	for ip, c := range counts {
		entries = append(entries, kv{ip, c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].ip < entries[j].ip
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ip
	}
	return out
}

func singleIPFloodSeverity(peakRate float64, windowCount int) domain.Severity {
	switch {
	case peakRate >= 1000 || windowCount >= 10:
		return domain.SeverityCritical
	case peakRate >= 500 || windowCount >= 5:
		return domain.SeverityHigh
	case peakRate >= 200 || windowCount >= 3:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func distributedFloodSeverity(peakRate float64, uniqueIPs, windowCount int) domain.Severity {
	switch {
	case peakRate >= 2000 || uniqueIPs >= 50 || windowCount >= 10:
		return domain.SeverityCritical
	case peakRate >= 1000 || uniqueIPs >= 25 || windowCount >= 5:
		return domain.SeverityHigh
	case peakRate >= 500 || uniqueIPs >= 15 || windowCount >= 3:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}
