package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/crlsmrls/fwatch/alertcache"
	"github.com/crlsmrls/fwatch/domain"
	"github.com/crlsmrls/fwatch/eventstore"
	"github.com/crlsmrls/fwatch/metrics"
	"github.com/crlsmrls/fwatch/mlscore"
)

// Options configures the monitor; zero values take alert_notification_
// service.py's env-var defaults.
type Options struct {
	Enabled            bool
	CheckInterval      time.Duration
	SeverityThreshold  domain.Severity
	MLRiskThreshold    float64
	RateLimit          time.Duration
	Recipients         []string
}

func (o Options) withDefaults() Options {
	if o.CheckInterval <= 0 {
		o.CheckInterval = 120 * time.Second
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 15 * time.Minute
	}
	if o.MLRiskThreshold <= 0 {
		o.MLRiskThreshold = 70
	}
	return o
}

// Monitor runs the periodic notification tick described in spec.md §4.8.
type Monitor struct {
	opts    Options
	cache   *alertcache.Cache
	store   *eventstore.Store
	records *Store
	scorer  *mlscore.Scorer
	sender  EmailSender
	log     zerolog.Logger
}

func NewMonitor(opts Options, cache *alertcache.Cache, store *eventstore.Store, records *Store, scorer *mlscore.Scorer, sender EmailSender, log zerolog.Logger) *Monitor {
	return &Monitor{
		opts:    opts.withDefaults(),
		cache:   cache,
		store:   store,
		records: records,
		scorer:  scorer,
		sender:  sender,
		log:     log.With().Str("component", "notify").Logger(),
	}
}

// Run blocks, ticking every CheckInterval until ctx is canceled. Errors from
// a single tick are logged and swallowed; the loop is self-healing
// (spec.md §7: "Retention, alert-monitor, and auto-retrain workers catch and
// log all exceptions and continue").
func (m *Monitor) Run(ctx context.Context) {
	if !m.opts.Enabled {
		m.log.Info().Msg("notification monitor disabled")
		return
	}
	ticker := time.NewTicker(m.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				m.log.Error().Err(err).Msg("notification tick failed")
			}
		}
	}
}

// Tick runs one pass of the pipeline: fetch fresh alerts, and for each,
// dedup/rate-limit/severity-gate/ML-gate/send (spec.md §4.8).
func (m *Monitor) Tick(ctx context.Context) error {
	alerts, err := m.cache.GetOrCompute(ctx, time.Now().UTC(), int(24*time.Hour/time.Second), 5)
	if err != nil {
		return fmt.Errorf("notify: get_or_compute: %w", err)
	}
	for _, alert := range alerts {
		if err := m.processAlert(ctx, alert); err != nil {
			m.log.Error().Err(err).Str("source_ip", alert.Key.SourceIP).Msg("processing alert failed")
		}
	}
	return nil
}

// DeduplicationKey hashes (alert_type, source_ip, bucket_end) with SHA-256
// (spec.md §4.8 step 2; GLOSSARY) — stable across restarts, unlike Go's
// built-in map hashing.
func DeduplicationKey(alertType domain.AttackType, sourceIP string, bucketEnd time.Time) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", alertType, sourceIP, bucketEnd.UTC().Format(time.RFC3339))))
	return hex.EncodeToString(h[:])
}

func (m *Monitor) processAlert(ctx context.Context, alert domain.Alert) error {
	dedupKey := DeduplicationKey(alert.Key.AlertType, alert.Key.SourceIP, alert.Key.BucketEnd)

	sent, err := m.records.AlreadySent(ctx, dedupKey)
	if err != nil {
		return err
	}
	if sent {
		metrics.NotificationsSkippedTotal.WithLabelValues("already_sent").Inc()
		return nil
	}

	limited, err := m.records.RateLimited(ctx, alert.Key.SourceIP, alert.Key.AlertType, m.opts.RateLimit)
	if err != nil {
		return err
	}
	if limited {
		metrics.NotificationsSkippedTotal.WithLabelValues("rate_limited").Inc()
		return nil
	}

	if alert.Severity.Rank() > m.opts.SeverityThreshold.Rank() {
		metrics.NotificationsSkippedTotal.WithLabelValues("below_severity_threshold").Inc()
		return nil
	}

	mlResult := m.scoreAlert(ctx, alert)

	if !m.shouldSend(alert.Severity, mlResult) {
		metrics.NotificationsSkippedTotal.WithLabelValues("ml_gate").Inc()
		return nil
	}

	subject := fmt.Sprintf("[ALERT] %s %s detected from %s", alert.Severity, alert.Key.AlertType, alert.Key.SourceIP)
	html, text := renderAlertEmail(alert, mlResult)

	ok, err := m.sender.Send(ctx, subject, html, text, m.opts.Recipients)
	if err != nil || !ok {
		return fmt.Errorf("notify: send failed: %w", err)
	}
	metrics.NotificationsSentTotal.WithLabelValues(string(alert.Key.AlertType)).Inc()

	var riskPtr *float64
	if mlResult.MLAvailable {
		r := mlResult.RiskScore
		riskPtr = &r
	}
	return m.records.Record(ctx, domain.NotificationRecord{
		AlertType:        alert.Key.AlertType,
		SourceIP:         alert.Key.SourceIP,
		Severity:         alert.Severity,
		MLRiskScore:      riskPtr,
		MLAvailable:      mlResult.MLAvailable,
		Recipients:       m.opts.Recipients,
		SentAt:           time.Now().UTC(),
		DeduplicationKey: dedupKey,
	}, m.opts.Recipients)
}

// scoreAlert fetches the most recent event for the alert's source IP as ML
// context (spec.md §4.8 step 5); falls back to a minimal, timestamp-only
// input when no event is found.
func (m *Monitor) scoreAlert(ctx context.Context, alert domain.Alert) domain.MLResult {
	input := domain.MLInput{
		SourceIP:        alert.Key.SourceIP,
		ThreatTypeHint:  string(alert.Key.AlertType),
		SeverityHint:    alert.Severity,
		HasSeverityHint: true,
		Timestamp:       alert.LastSeen,
	}

	recent, err := m.store.FindRange(ctx, eventstore.Filters{SourceIP: alert.Key.SourceIP}, eventstore.SortTimestamp, true, 1, 0)
	if err == nil && len(recent) > 0 {
		input.LogSource = recent[0].LogSource
		input.EventType = recent[0].EventType
		input.RawLog = recent[0].RawLog
		input.Timestamp = recent[0].Timestamp
	}

	return m.scorer.Score(ctx, input)
}

// shouldSend implements the send decision in spec.md §4.8 step 6: CRITICAL
// always sends; HIGH sends if ML risk meets threshold or ML is unavailable;
// MEDIUM/LOW only send if ML risk meets threshold.
func (m *Monitor) shouldSend(severity domain.Severity, ml domain.MLResult) bool {
	switch severity {
	case domain.SeverityCritical:
		return true
	case domain.SeverityHigh:
		return !ml.MLAvailable || ml.RiskScore >= m.opts.MLRiskThreshold
	default:
		return ml.MLAvailable && ml.RiskScore >= m.opts.MLRiskThreshold
	}
}

func renderAlertEmail(alert domain.Alert, ml domain.MLResult) (html, text string) {
	riskText := "N/A"
	if ml.MLAvailable {
		riskText = fmt.Sprintf("%.1f", ml.RiskScore)
	}
	text = fmt.Sprintf(
		"%s\n\nSeverity: %s\nSource IP: %s\nCount: %d\nFirst seen: %s\nLast seen: %s\nML risk score: %s\n",
		alert.Description, alert.Severity, alert.Key.SourceIP, alert.Count,
		alert.FirstSeen.Format(time.RFC3339), alert.LastSeen.Format(time.RFC3339), riskText,
	)
	html = fmt.Sprintf(
		"<p>%s</p><ul><li>Severity: %s</li><li>Source IP: %s</li><li>Count: %d</li><li>ML risk score: %s</li></ul>",
		alert.Description, alert.Severity, alert.Key.SourceIP, alert.Count, riskText,
	)
	return html, text
}
