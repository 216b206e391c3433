package modellifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// RetrainFunc runs one training pass and returns a result summary; errors
// are logged by the worker and never propagate further, matching
// ml_auto_retrain_worker.py's "DB down or misconfigured -> try again next
// interval" behavior (spec.md §7). The trained artifacts are expected to
// land in the Manager's modelsDir; the worker snapshots them afterward.
type RetrainFunc func(ctx context.Context) (reason string, err error)

// RetrainOptions configures the optional scheduler; disabled by default per
// ML_AUTO_RETRAIN's env-var default.
type RetrainOptions struct {
	Enabled       bool
	IntervalHours int
}

func (o RetrainOptions) withDefaults() RetrainOptions {
	if o.IntervalHours <= 0 {
		o.IntervalHours = 168
	}
	return o
}

// RetrainWorker snapshots the current model bundle, versions it, and marks
// it active after each successful retrain run.
type RetrainWorker struct {
	opts    RetrainOptions
	manager *Manager
	train   RetrainFunc
	log     zerolog.Logger
	cron    *cron.Cron
}

func NewRetrainWorker(opts RetrainOptions, manager *Manager, train RetrainFunc, log zerolog.Logger) *RetrainWorker {
	return &RetrainWorker{
		opts:    opts.withDefaults(),
		manager: manager,
		train:   train,
		log:     log.With().Str("component", "modellifecycle").Logger(),
	}
}

// Start schedules retrain cycles every IntervalHours (minimum 60 seconds,
// matching the source's `max(60, interval_hours*3600)` floor). No-op, and
// returns a no-op stop, when disabled.
func (w *RetrainWorker) Start(ctx context.Context) (stop func(), err error) {
	if !w.opts.Enabled {
		w.log.Info().Msg("auto-retrain disabled")
		return func() {}, nil
	}

	intervalSeconds := w.opts.IntervalHours * 3600
	if intervalSeconds < 60 {
		intervalSeconds = 60
	}

	c := cron.New(cron.WithSeconds())
	spec := fmt.Sprintf("@every %ds", intervalSeconds)
	_, err = c.AddFunc(spec, func() { w.runCycle(ctx) })
	if err != nil {
		return nil, fmt.Errorf("modellifecycle: schedule retrain: %w", err)
	}
	c.Start()
	w.cron = c

	return func() {
		stopCtx := c.Stop()
		<-stopCtx.Done()
	}, nil
}

func (w *RetrainWorker) runCycle(ctx context.Context) {
	reason, err := w.train(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("retrain run failed")
		return
	}
	versionID, err := w.manager.SnapshotCurrent(time.Now(), reason, "", true)
	if err != nil {
		w.log.Error().Err(err).Msg("post-retrain snapshot failed")
		return
	}
	w.log.Info().Str("version_id", versionID).Str("reason", reason).Msg("retrain completed, new model version active")
}
