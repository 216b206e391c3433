// Package retention runs the Event Store's size-bounded retention policy on
// a schedule, catching and logging every failure so one bad cycle never
// takes the worker down (spec.md §4.2, §7).
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/crlsmrls/fwatch/eventstore"
	"github.com/crlsmrls/fwatch/metrics"
)

// Options configures the worker; zero values take retention_service.py's
// env-var defaults.
type Options struct {
	Enabled        bool
	MaxSizeMB      float64
	DeleteSizeMB   float64
	IntervalSeconds int
}

func (o Options) withDefaults() Options {
	if o.MaxSizeMB <= 0 {
		o.MaxSizeMB = 480
	}
	if o.DeleteSizeMB <= 0 {
		o.DeleteSizeMB = 5
	}
	if o.IntervalSeconds <= 0 {
		o.IntervalSeconds = 300
	}
	return o
}

// Worker periodically enforces retention on a Store.
type Worker struct {
	opts  Options
	store *eventstore.Store
	log   zerolog.Logger
	cron  *cron.Cron
}

func NewWorker(opts Options, store *eventstore.Store, log zerolog.Logger) *Worker {
	return &Worker{
		opts:  opts.withDefaults(),
		store: store,
		log:   log.With().Str("component", "retention").Logger(),
	}
}

// Start runs one cycle immediately, then schedules further cycles every
// IntervalSeconds via a cron job, matching the source's "run once at
// startup, then sleep(interval) forever" shape without a busy-loop. Returns
// a stop function.
func (w *Worker) Start(ctx context.Context) (stop func(), err error) {
	if !w.opts.Enabled {
		w.log.Info().Msg("retention worker disabled")
		return func() {}, nil
	}

	w.runCycle(ctx)

	c := cron.New(cron.WithSeconds())
	spec := fmt.Sprintf("@every %ds", w.opts.IntervalSeconds)
	_, err = c.AddFunc(spec, func() { w.runCycle(ctx) })
	if err != nil {
		return nil, fmt.Errorf("retention: schedule: %w", err)
	}
	c.Start()
	w.cron = c

	return func() {
		stopCtx := c.Stop()
		<-stopCtx.Done()
	}, nil
}

func (w *Worker) runCycle(ctx context.Context) {
	start := time.Now()
	deleted, err := w.store.EnforceRetention(ctx, w.opts.MaxSizeMB, w.opts.DeleteSizeMB)
	if err != nil {
		w.log.Error().Err(err).Msg("retention cycle failed")
		return
	}
	if deleted > 0 {
		metrics.RetentionDeletedTotal.Add(float64(deleted))
		w.log.Info().Int64("deleted", deleted).Dur("took", time.Since(start)).Msg("retention cycle deleted events")
	}
}
