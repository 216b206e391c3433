package ingest

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/crlsmrls/fwatch/domain"
	"github.com/crlsmrls/fwatch/logparse"
	"github.com/crlsmrls/fwatch/metrics"
)

// maxLinesPerRequest bounds a single POST /ingest body, matching the
// source's bulk-ingestion guard against an unbounded request.
const maxLinesPerRequest = 1000

// ingestionRequest mirrors ingestion_schema.py's LogIngestionRequest.
type ingestionRequest struct {
	Logs      []string `json:"logs"`
	LogSource string   `json:"log_source,omitempty"`
}

// ingestionResponse mirrors ingestion_schema.py's LogIngestionResponse.
type ingestionResponse struct {
	Success       bool   `json:"success"`
	IngestedCount int    `json:"ingested_count"`
	FailedCount   int    `json:"failed_count"`
	TotalReceived int    `json:"total_received"`
	Message       string `json:"message"`
}

// Handler serves POST /ingest: bulk-accepts raw log lines pushed by a
// remote collector, parsing and storing each one and feeding it through
// the same cache/broadcast path as a locally tailed line.
type Handler struct {
	pipeline *Pipeline
}

func NewHandler(pipeline *Pipeline) *Handler {
	return &Handler{pipeline: pipeline}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	var req ingestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ingestionResponse{
			Success: false,
			Message: "invalid request body: " + err.Error(),
		})
		return
	}

	if len(req.Logs) == 0 {
		writeJSON(w, http.StatusBadRequest, ingestionResponse{
			Success: false,
			Message: "logs must not be empty",
		})
		return
	}
	if len(req.Logs) > maxLinesPerRequest {
		writeJSON(w, http.StatusBadRequest, ingestionResponse{
			Success:       false,
			TotalReceived: len(req.Logs),
			Message:       "too many log lines in one request, maximum is 1000",
		})
		return
	}

	resp := h.ingest(r.Context(), req.Logs, req.LogSource)
	log.Info().
		Int("total", resp.TotalReceived).
		Int("ingested", resp.IngestedCount).
		Int("failed", resp.FailedCount).
		Msg("bulk log ingestion")
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ingest(ctx context.Context, lines []string, hint string) ingestionResponse {
	resp := ingestionResponse{TotalReceived: len(lines)}

	var events []domain.Event
	for _, raw := range lines {
		cached := CachedLine{
			Type:      "raw_log",
			LogSource: sourceLabel(hint),
			RawLine:   raw,
		}
		h.pipeline.cache.Add(ctx, cached)
		h.pipeline.broadcaster.Broadcast(sourceLabel(hint), raw)
		metrics.EventsIngestedTotal.WithLabelValues(sourceLabel(hint)).Inc()

		evt, ok := logparse.ParseLine(raw, hint)
		if !ok {
			metrics.EventsParseFailedTotal.WithLabelValues(sourceLabel(hint)).Inc()
			resp.FailedCount++
			continue
		}
		events = append(events, evt)
	}

	if len(events) > 0 {
		if err := h.pipeline.store.InsertMany(ctx, events); err != nil {
			resp.FailedCount += len(events)
			resp.Success = false
			resp.Message = "failed to persist parsed events: " + err.Error()
			return resp
		}
	}

	resp.IngestedCount = len(events)
	resp.Success = true
	resp.Message = "ingestion complete"
	return resp
}

func sourceLabel(hint string) string {
	if hint == "" {
		return "api"
	}
	return hint
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
