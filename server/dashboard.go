package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/crlsmrls/fwatch/domain"
	"github.com/crlsmrls/fwatch/eventstore"
)

// dashboardSummary is the one dashboard shape spec.md §6 names: active
// alerts, 24h threat counts, top source IPs, and system health.
type dashboardSummary struct {
	ActiveAlerts  []domain.Alert           `json:"active_alerts"`
	ThreatCounts  []eventstore.HourlyBucket `json:"threat_counts_24h"`
	TopTypes      []typeCount              `json:"top_threat_types_24h"`
	TopSourceIPs  []eventstore.TopNEntry   `json:"top_source_ips"`
	Health        healthStatus             `json:"health"`
}

type typeCount struct {
	EventType string `json:"event_type"`
	Count     int    `json:"count"`
}

type healthStatus struct {
	DBStatus        string    `json:"db_status"`
	LogCounts24h    int64     `json:"log_counts_24h"`
	LastLogAt       time.Time `json:"last_log_timestamp,omitempty"`
	HasLastLog      bool      `json:"-"`
}

// MarshalJSON omits last_log_timestamp entirely when the store is empty,
// rather than emitting the zero time.
func (h healthStatus) MarshalJSON() ([]byte, error) {
	type alias healthStatus
	out := struct {
		alias
		LastLogAt *time.Time `json:"last_log_timestamp,omitempty"`
	}{alias: alias(h)}
	if h.HasLastLog {
		out.LastLogAt = &h.LastLogAt
	}
	return json.Marshal(out)
}

const (
	dashboardLookbackSeconds = 24 * 60 * 60
	dashboardBucketMinutes   = 5
	dashboardActiveAlertsCap = 10
)

func dashboardHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := hlog.FromRequest(r)
		ctx := r.Context()
		now := time.Now().UTC()

		summary := dashboardSummary{Health: healthStatus{DBStatus: "down"}}

		if deps.Alerts != nil {
			alerts, err := deps.Alerts.GetOrCompute(ctx, now, dashboardLookbackSeconds, dashboardBucketMinutes)
			if err != nil {
				log.Error().Err(err).Msg("dashboard: compute alerts failed")
			} else {
				summary.ActiveAlerts = topActiveAlerts(alerts, dashboardActiveAlertsCap)
			}
		}

		if deps.Store != nil {
			start := now.Add(-24 * time.Hour)

			if buckets, err := deps.Store.AggregateHourly(ctx, start, now); err != nil {
				log.Error().Err(err).Msg("dashboard: aggregate_hourly failed")
			} else {
				summary.ThreatCounts = buckets
			}

			topIPs, err := deps.Store.AggregateTopN(ctx, "source_ip", now.Add(-7*24*time.Hour), now, 10)
			if err != nil {
				log.Error().Err(err).Msg("dashboard: aggregate_topN 7d failed")
			} else if len(topIPs) == 0 {
				// Fall back to all-time when the 7-day window is empty.
				if allTime, err := deps.Store.AggregateTopN(ctx, "source_ip", time.Unix(0, 0).UTC(), now, 10); err == nil {
					topIPs = allTime
				}
			}
			summary.TopSourceIPs = topIPs

			count, err := deps.Store.CountSince(ctx, start)
			if err != nil {
				log.Error().Err(err).Msg("dashboard: count_since failed")
				summary.Health = healthStatus{DBStatus: "down"}
			} else {
				summary.Health.LogCounts24h = count
				lastTS, ok, err := deps.Store.LastEventTimestamp(ctx)
				if err != nil {
					summary.Health.DBStatus = "degraded"
				} else {
					summary.Health.DBStatus = "healthy"
					if ok {
						summary.Health.LastLogAt = lastTS
						summary.Health.HasLastLog = true
					}
				}
			}
		}

		writeJSONResponse(w, http.StatusOK, summary)
	}
}

// topActiveAlerts filters to CRITICAL/HIGH severities and returns at most n,
// highest severity and most recent first.
func topActiveAlerts(alerts []domain.Alert, n int) []domain.Alert {
	var active []domain.Alert
	for _, a := range alerts {
		if a.Severity == domain.SeverityCritical || a.Severity == domain.SeverityHigh {
			active = append(active, a)
		}
	}
	if len(active) > n {
		active = active[:n]
	}
	return active
}

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
