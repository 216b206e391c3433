package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/crlsmrls/fwatch/alertcache"
	"github.com/crlsmrls/fwatch/autoblock"
	"github.com/crlsmrls/fwatch/domain"
	"github.com/crlsmrls/fwatch/eventstore"
	"github.com/crlsmrls/fwatch/mlscore"
)

// recalibrateFunc builds a modellifecycle.RetrainFunc that recomputes the
// scorer's percentile calibration from the anomaly model's raw scores over
// the last 7 days of events, grounded on train_anomaly_detector.py's
// raw_to_unit_interval percentile-window calibration.
func recalibrateFunc(store *eventstore.Store, scorer *mlscore.Scorer) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		now := time.Now().UTC()
		events, err := store.ScanTimeRange(ctx, eventstore.Filters{Start: now.Add(-7 * 24 * time.Hour), End: now})
		if err != nil {
			return "", fmt.Errorf("recalibrate: scan events: %w", err)
		}
		if len(events) < 10 {
			return "skipped: insufficient events for recalibration", nil
		}

		raws := make([]float64, 0, len(events))
		for _, e := range events {
			fv := mlscore.ExtractFeatures(mlscore.BuildMLInput(domain.MLInput{
				SourceIP:  e.SourceIP,
				Timestamp: e.Timestamp,
				LogSource: e.LogSource,
				EventType: e.EventType,
				RawLog:    e.RawLog,
			}))
			raws = append(raws, scorer.Anomaly.RawScore(fv))
		}
		sort.Float64s(raws)

		qLow := percentile(raws, 0.05)
		qHigh := percentile(raws, 0.85)
		scorer.Calibration = mlscore.Calibration{QLow: qLow, QHigh: qHigh}

		return fmt.Sprintf("recalibrated from %d events (q_low=%.4f, q_high=%.4f)", len(events), qLow, qHigh), nil
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// runAutoBlockSweep periodically runs the current alert set through the
// auto-block policy. It shares the alert cache with the dashboard and
// notification monitor: while a fresh alert set is cached it reuses it, and
// only when none is does GetOrCompute run the detectors.
func runAutoBlockSweep(ctx context.Context, cache *alertcache.Cache, scorer *mlscore.Scorer, actor *autoblock.Actor, log zerolog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepOnce(ctx, cache, scorer, actor, log)
		}
	}
}

func sweepOnce(ctx context.Context, cache *alertcache.Cache, scorer *mlscore.Scorer, actor *autoblock.Actor, log zerolog.Logger) {
	alerts, err := cache.GetOrCompute(ctx, time.Now().UTC(), int(24*time.Hour/time.Second), 5)
	if err != nil {
		log.Error().Err(err).Msg("auto-block sweep: get_or_compute failed")
		return
	}

	for _, alert := range alerts {
		if alert.Details.SourceIP == "" {
			continue
		}
		ml := scorer.Score(ctx, mlscore.BuildMLInput(domain.MLInput{
			SourceIP:  alert.Key.SourceIP,
			Timestamp: alert.Details.Sample.Timestamp,
			LogSource: alert.Details.Sample.LogSource,
			EventType: alert.Details.Sample.EventType,
			RawLog:    alert.Details.Sample.Raw,
		}))

		metrics := autoblock.AttackMetrics{
			TotalAttempts:        alert.Details.TotalAttempts,
			TotalRequests:        alert.Details.TotalAttempts,
			UniquePortsAttempted: alert.Details.UniquePortsAttempted,
		}

		result, err := actor.Consider(ctx, alert.Details.AttackType, alert.Severity, alert.Key.SourceIP, metrics, ml)
		if err != nil {
			log.Error().Err(err).Str("source_ip", alert.Key.SourceIP).Msg("auto-block consider failed")
			continue
		}
		if result.Blocked {
			log.Info().Str("source_ip", alert.Key.SourceIP).Str("reason", result.Reason).Msg("auto-block sweep blocked IP")
		}
	}
}
