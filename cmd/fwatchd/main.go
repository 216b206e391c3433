// Command fwatchd runs the firewall/auth log analysis service: live log
// ingestion, sliding-window attack detection, a materialized alert cache,
// ML risk scoring, email notifications, automatic IP blocking, event
// retention, and model retraining, all behind one HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crlsmrls/fwatch/alertcache"
	"github.com/crlsmrls/fwatch/autoblock"
	"github.com/crlsmrls/fwatch/config"
	"github.com/crlsmrls/fwatch/domain"
	"github.com/crlsmrls/fwatch/eventstore"
	"github.com/crlsmrls/fwatch/ingest"
	"github.com/crlsmrls/fwatch/logger"
	"github.com/crlsmrls/fwatch/metrics"
	"github.com/crlsmrls/fwatch/mlscore"
	"github.com/crlsmrls/fwatch/modellifecycle"
	"github.com/crlsmrls/fwatch/notify"
	"github.com/crlsmrls/fwatch/retention"
	"github.com/crlsmrls/fwatch/server"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(cfg.LogLevel, os.Stdout)
	baseLog := *logger.FromContext(context.Background())

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create data directory")
	}

	store, err := eventstore.Open(filepath.Join(cfg.DataDir, "events.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open event store")
	}
	defer store.Close()

	alertCache, err := alertcache.Open(filepath.Join(cfg.DataDir, "alerts.db"), store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open alert cache")
	}
	defer alertCache.Close()

	notifyStore, err := notify.OpenStore(filepath.Join(cfg.DataDir, "notifications.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open notification store")
	}
	defer notifyStore.Close()

	blockStore, err := autoblock.OpenStore(filepath.Join(cfg.DataDir, "blocklist.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open blocklist store")
	}
	defer blockStore.Close()

	modelManager := modellifecycle.NewManager(filepath.Join(cfg.DataDir, "ml"))

	scorer := mlscore.NewScorer()
	scorer.Enabled = cfg.MLEnabled
	scorer.Cache = mlscore.NewFeatureCache(time.Duration(cfg.MLCacheTTLHours) * time.Hour)
	scorer.Calibration = mlscore.Calibration{QLow: cfg.MLQuantileLow, QHigh: cfg.MLQuantileHigh}

	emailSender := notify.NewSendGridSender(cfg.SendGridAPIKey, "fwatch alerts", cfg.NotifyFromAddress)

	monitor := notify.NewMonitor(notify.Options{
		Enabled:           cfg.NotifyEnabled,
		CheckInterval:     time.Duration(cfg.NotifyCheckIntervalSec) * time.Second,
		SeverityThreshold: domain.ParseSeverity(cfg.NotifySeverityThreshold),
		MLRiskThreshold:   cfg.NotifyMLRiskThreshold,
		RateLimit:         time.Duration(cfg.NotifyRateLimit) * time.Minute,
		Recipients:        cfg.NotifyRecipients,
	}, alertCache, store, notifyStore, scorer, emailSender, baseLog)

	var firewall autoblock.Firewall
	if cfg.AutoBlockEnabled {
		fw, err := autoblock.NewIPTablesFirewall()
		if err != nil {
			log.Warn().Err(err).Msg("iptables unavailable, disabling auto-block")
			cfg.AutoBlockEnabled = false
		} else {
			firewall = fw
		}
	}
	blockActor := autoblock.NewActor(autoblock.Options{
		Enabled:               cfg.AutoBlockEnabled,
		BlockCritical:         cfg.AutoBlockCriticalSeverity,
		BlockHigh:             cfg.AutoBlockHighSeverity,
		BlockMedium:           cfg.AutoBlockMediumSeverity,
		BlockLow:              cfg.AutoBlockLowSeverity,
		MLRiskThreshold:       cfg.AutoBlockMLRiskThreshold,
		MLAnomalyThreshold:    cfg.AutoBlockMLAnomalyThreshold,
		MLConfidenceThreshold: cfg.AutoBlockMLConfidenceThreshold,
		RequireMLConfirmation: cfg.AutoBlockRequireMLConfirmation,

		BruteForceAttemptThreshold: cfg.AutoBlockBruteForceThreshold,
		DDoSRequestThreshold:       cfg.AutoBlockDDoSThreshold,
		PortScanPortsThreshold:     cfg.AutoBlockPortScanThreshold,

		CooldownHours: cfg.AutoBlockCooldownHours,
	}, blockStore, firewall, emailSender, cfg.NotifyRecipients, baseLog)

	retentionWorker := retention.NewWorker(retention.Options{
		Enabled:         cfg.RetentionEnabled,
		MaxSizeMB:       cfg.RetentionMaxSizeMB,
		DeleteSizeMB:    cfg.RetentionDeleteSizeMB,
		IntervalSeconds: cfg.RetentionIntervalSeconds,
	}, store, baseLog)

	retrainWorker := modellifecycle.NewRetrainWorker(modellifecycle.RetrainOptions{
		Enabled:       cfg.RetrainEnabled,
		IntervalHours: cfg.RetrainIntervalHours,
	}, modelManager, recalibrateFunc(store, scorer), baseLog)

	ctx, cancel := context.WithCancel(context.Background())

	hotCache := ingest.NewHotCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, baseLog)
	broadcaster := ingest.NewBroadcaster(baseLog)
	pipeline := ingest.NewPipeline(hotCache, broadcaster, store, baseLog)

	srv := server.New(cfg, os.Stdout, metrics.InitMetrics(), server.Deps{
		Store:       store,
		Alerts:      alertCache,
		Blocklist:   blockStore,
		Pipeline:    pipeline,
		Broadcaster: broadcaster,
	})

	go pipeline.Run(ctx)
	go monitor.Run(ctx)
	go runAutoBlockSweep(ctx, alertCache, scorer, blockActor, baseLog)

	retentionStop, err := retentionWorker.Start(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start retention worker")
	}
	retrainStop, err := retrainWorker.Start(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start retrain worker")
	}

	srv.RegisterStopFunc(func() {
		cancel()
		retentionStop()
		retrainStop()
	})

	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}
}
