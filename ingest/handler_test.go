package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/crlsmrls/fwatch/eventstore"
)

func newTestPipeline(t *testing.T) (*Pipeline, *eventstore.Store) {
	t.Helper()
	store, err := eventstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	// No real Redis in tests: NewHotCache degrades to a no-op cache after a
	// failed ping, which Add/Recent tolerate without error.
	cache := NewHotCache(context.Background(), "127.0.0.1:1", "", 0, zerolog.Nop())
	broadcaster := NewBroadcaster(zerolog.Nop())
	return NewPipeline(cache, broadcaster, store, zerolog.Nop()), store
}

func TestHandler_IngestsValidLines(t *testing.T) {
	pipeline, store := newTestPipeline(t)
	h := NewHandler(pipeline)

	body, _ := json.Marshal(ingestionRequest{
		Logs: []string{
			"Jul 30 12:00:00 host sshd[123]: Failed password for root from 10.0.0.5 port 22 ssh2",
			"not a recognizable log line at all",
		},
		LogSource: "auth.log",
	})
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp ingestionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TotalReceived != 2 {
		t.Errorf("total_received = %d, want 2", resp.TotalReceived)
	}
	if resp.IngestedCount != 1 {
		t.Errorf("ingested_count = %d, want 1", resp.IngestedCount)
	}
	if resp.FailedCount != 1 {
		t.Errorf("failed_count = %d, want 1", resp.FailedCount)
	}
	if !resp.Success {
		t.Errorf("expected success=true")
	}

	events, err := store.FindRange(context.Background(), eventstore.Filters{}, eventstore.SortTimestamp, false, 10, 0)
	if err != nil {
		t.Fatalf("find_range: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(events))
	}
}

func TestHandler_RejectsEmptyLogs(t *testing.T) {
	pipeline, _ := newTestPipeline(t)
	h := NewHandler(pipeline)

	body, _ := json.Marshal(ingestionRequest{Logs: nil})
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandler_RejectsOversizedBatch(t *testing.T) {
	pipeline, _ := newTestPipeline(t)
	h := NewHandler(pipeline)

	lines := make([]string, maxLinesPerRequest+1)
	for i := range lines {
		lines[i] = "line"
	}
	body, _ := json.Marshal(ingestionRequest{Logs: lines})
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAPIKeyMiddleware_RejectsMissingAndWrongKey(t *testing.T) {
	mw := APIKeyMiddleware("secret-key")
	ok := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Missing header.
	req := httptest.NewRequest(http.MethodPost, "/ingest", nil)
	rec := httptest.NewRecorder()
	ok.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key: status = %d, want 401", rec.Code)
	}

	// Wrong key.
	req = httptest.NewRequest(http.MethodPost, "/ingest", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	ok.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrong key: status = %d, want 403", rec.Code)
	}

	// Correct key.
	req = httptest.NewRequest(http.MethodPost, "/ingest", nil)
	req.Header.Set("X-API-Key", "secret-key")
	rec = httptest.NewRecorder()
	ok.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("correct key: status = %d, want 200", rec.Code)
	}
}

func TestRateLimiter_BlocksAfterLimitWithinWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	if !rl.Allow("client-a", now) {
		t.Fatalf("request 1 should be allowed")
	}
	if !rl.Allow("client-a", now) {
		t.Fatalf("request 2 should be allowed")
	}
	if rl.Allow("client-a", now) {
		t.Fatalf("request 3 should be blocked")
	}
	// A different client has its own budget.
	if !rl.Allow("client-b", now) {
		t.Fatalf("different client should not share client-a's budget")
	}
	// After the window elapses, the limit resets.
	if !rl.Allow("client-a", now.Add(2*time.Minute)) {
		t.Fatalf("request after window reset should be allowed")
	}
}
