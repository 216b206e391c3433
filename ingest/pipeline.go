package ingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/crlsmrls/fwatch/domain"
	"github.com/crlsmrls/fwatch/eventstore"
	"github.com/crlsmrls/fwatch/logparse"
	"github.com/crlsmrls/fwatch/metrics"
)

// Pipeline wires a Tailer per known source into the hot cache, the
// broadcaster, and the event store: cache first, broadcast second, parse
// and persist third, mirroring log_ingestor.py's per-line ordering so
// live-tail latency is never held hostage to a slow parse or a slow
// insert.
type Pipeline struct {
	cache       *HotCache
	broadcaster *Broadcaster
	store       *eventstore.Store
	log         zerolog.Logger
}

func NewPipeline(cache *HotCache, broadcaster *Broadcaster, store *eventstore.Store, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		cache:       cache,
		broadcaster: broadcaster,
		store:       store,
		log:         log.With().Str("component", "ingest.pipeline").Logger(),
	}
}

// Run starts one Tailer goroutine per entry in Sources and consumes their
// output until ctx is canceled.
func (p *Pipeline) Run(ctx context.Context) {
	out := make(chan Line, 256)

	var wg sync.WaitGroup
	for source, path := range Sources {
		wg.Add(1)
		t := NewTailer(source, path, p.log)
		go func() {
			defer wg.Done()
			if err := t.Run(ctx, out); err != nil {
				p.log.Error().Err(err).Str("source", source).Msg("tailer stopped")
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-out:
			if !ok {
				return
			}
			p.handle(ctx, line)
		}
	}
}

// shouldParse mirrors the source's per-source skip rules: kernel logs only
// parse lines that look like netfilter output, and syslog/messages skip
// anything already owned by auth.log or kern.log so the same event isn't
// stored twice under two event types.
func shouldParse(source, raw string) bool {
	switch source {
	case "kernel":
		return strings.Contains(raw, "kernel:") && (strings.Contains(raw, "SRC=") || strings.Contains(strings.ToLower(raw), "iptables"))
	case "syslog", "messages":
		lower := strings.ToLower(raw)
		return !strings.Contains(lower, "sshd") && !strings.Contains(raw, "kernel:")
	default:
		return true
	}
}

func (p *Pipeline) handle(ctx context.Context, line Line) {
	trimmed := strings.TrimSpace(line.Raw)
	cached := CachedLine{
		Type:      "raw_log",
		LogSource: line.Source,
		RawLine:   trimmed,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	p.cache.Add(ctx, cached)
	p.broadcaster.Broadcast(line.Source, line.Raw)
	metrics.EventsIngestedTotal.WithLabelValues(line.Source).Inc()

	if !shouldParse(line.Source, line.Raw) {
		return
	}

	evt, ok := logparse.ParseLine(line.Raw, line.Source)
	if !ok {
		metrics.EventsParseFailedTotal.WithLabelValues(line.Source).Inc()
		return
	}
	if err := p.store.InsertMany(ctx, []domain.Event{evt}); err != nil {
		p.log.Error().Err(err).Str("source", line.Source).Msg("insert parsed event failed")
	}
}
