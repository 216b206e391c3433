package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/crlsmrls/fwatch/config"
	"github.com/crlsmrls/fwatch/logger"
	"github.com/crlsmrls/fwatch/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// getLogEntries reads a buffer and returns a slice of JSON log entries.
func getLogEntries(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	var entries []map[string]interface{}
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var entry map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("Failed to unmarshal log entry: %v", err)
		}
		entries = append(entries, entry)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("Error scanning log buffer: %v", err)
	}
	return entries
}

var reg *prometheus.Registry

func TestMain(m *testing.M) {
	reg = metrics.InitMetrics()
	os.Exit(m.Run())
}

func TestHealthAndReadyzEndpoints(t *testing.T) {
	cfg := config.DefaultConfig()
	srv := New(cfg, nil, reg, Deps{})

	testServer := httptest.NewServer(srv.router)
	defer testServer.Close()

	res, err := http.Get(testServer.URL + "/healthz")
	if err != nil {
		t.Fatalf("Failed to send GET request to /healthz: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Errorf("Expected status %d for /healthz, got %d", http.StatusOK, res.StatusCode)
	}

	body, _ := io.ReadAll(res.Body)
	if string(body) != "OK" {
		t.Errorf("Expected body \"OK\" for /healthz, got \"%s\"", string(body))
	}

	res2, err := http.Get(testServer.URL + "/readyz")
	if err != nil {
		t.Fatalf("Failed to send GET request to /readyz: %v", err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != http.StatusOK {
		t.Errorf("Expected status %d for /readyz, got %d", http.StatusOK, res2.StatusCode)
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger.InitLogger("debug", &buf)

	cfg := config.DefaultConfig()
	cfg.LogLevel = "debug"
	srv := New(cfg, &buf, reg, Deps{})

	testServer := httptest.NewServer(srv.router)
	defer testServer.Close()

	_, err := http.Get(testServer.URL + "/healthz")
	if err != nil {
		t.Fatalf("Failed to send GET request: %v", err)
	}

	entries := getLogEntries(t, &buf)
	if len(entries) == 0 {
		t.Fatal("No log entries found")
	}

	logOutput := entries[0]

	if _, ok := logOutput["time"]; !ok {
		t.Error("Log output missing time field")
	}
	if logOutput["level"] != "info" {
		t.Errorf("Expected log level 'info', got %v", logOutput["level"])
	}
	if logOutput["message"] != "request" {
		t.Errorf("Expected log message 'request', got %v", logOutput["message"])
	}
	if logOutput["method"] != "GET" {
		t.Errorf("Expected method 'GET', got %v", logOutput["method"])
	}
	if logOutput["url"] != "/healthz" {
		t.Errorf("Expected URL '/healthz', got %v", logOutput["url"])
	}
	if logOutput["status"] != float64(http.StatusOK) {
		t.Errorf("Expected status %d, got %v", http.StatusOK, logOutput["status"])
	}
}

func TestCorrelationIDMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger.InitLogger("debug", &buf)

	cfg := config.DefaultConfig()
	cfg.LogLevel = "debug"
	srv := New(cfg, &buf, reg, Deps{})

	testServer := httptest.NewServer(srv.router)
	defer testServer.Close()

	req, _ := http.NewRequest("GET", testServer.URL+"/healthz", nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to send GET request: %v", err)
	}
	defer res.Body.Close()

	correlationID := res.Header.Get("X-Correlation-ID")
	if correlationID == "" {
		t.Error("Expected X-Correlation-ID header, got empty")
	}

	entries := getLogEntries(t, &buf)
	if len(entries) == 0 {
		t.Fatal("No log entries found")
	}
	logOutput := entries[0]

	if logOutput["correlation_id"] != correlationID {
		t.Errorf("Expected correlation_id in log to be %s, got %v", correlationID, logOutput["correlation_id"])
	}

	buf.Reset()
	existingCorrelationID := "my-custom-correlation-id"
	req, _ = http.NewRequest("GET", testServer.URL+"/healthz", nil)
	req.Header.Set("X-Correlation-ID", existingCorrelationID)
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to send GET request: %v", err)
	}
	defer res.Body.Close()

	if res.Header.Get("X-Correlation-ID") != existingCorrelationID {
		t.Errorf("Expected X-Correlation-ID header to be %s, got %s", existingCorrelationID, res.Header.Get("X-Correlation-ID"))
	}

	entries = getLogEntries(t, &buf)
	if len(entries) == 0 {
		t.Fatal("No log entries found")
	}
	logOutput = entries[0]

	if logOutput["correlation_id"] != existingCorrelationID {
		t.Errorf("Expected correlation_id in log to be %s, got %v", existingCorrelationID, logOutput["correlation_id"])
	}
}

func TestGracefulShutdown(t *testing.T) {
	cfg := config.DefaultConfig()
	srv := New(cfg, nil, reg, Deps{})

	var stopped bool
	srv.RegisterStopFunc(func() { stopped = true })

	done := make(chan struct{})
	go func() {
		srv.Start()
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)

	process, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatalf("Failed to find process: %v", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("Failed to send signal: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not shut down gracefully within 5 seconds")
	}

	if !stopped {
		t.Error("expected registered stop func to run during graceful shutdown")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := config.DefaultConfig()
	srv := New(cfg, nil, reg, Deps{})

	testServer := httptest.NewServer(srv.router)
	defer testServer.Close()

	res, err := http.Get(testServer.URL + cfg.MetricsPath)
	if err != nil {
		t.Fatalf("Failed to send GET request to %s: %v", cfg.MetricsPath, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Errorf("Expected status %d for %s, got %d", http.StatusOK, cfg.MetricsPath, res.StatusCode)
	}

	body, _ := io.ReadAll(res.Body)
	bodyStr := string(body)

	if !strings.Contains(bodyStr, "http_requests_total") {
		t.Errorf("Expected metrics output to contain http_requests_total")
	}
	if !strings.Contains(bodyStr, "go_goroutines") {
		t.Errorf("Expected metrics output to contain go_goroutines")
	}
}

func TestDashboardAndDetectEndpoints_WithoutDepsReturnsUnconfigured(t *testing.T) {
	cfg := config.DefaultConfig()
	srv := New(cfg, nil, reg, Deps{})

	testServer := httptest.NewServer(srv.router)
	defer testServer.Close()

	// /dashboard/summary is always mounted and degrades gracefully when
	// no store/cache is wired.
	res, err := http.Get(testServer.URL + "/dashboard/summary")
	if err != nil {
		t.Fatalf("Failed to send GET request to /dashboard/summary: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Errorf("Expected status %d for /dashboard/summary, got %d", http.StatusOK, res.StatusCode)
	}

	// /detect/brute-force is only mounted when deps.Store is set.
	res2, err := http.Get(testServer.URL + "/detect/brute-force")
	if err != nil {
		t.Fatalf("Failed to send GET request to /detect/brute-force: %v", err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status %d for unmounted /detect/brute-force, got %d", http.StatusNotFound, res2.StatusCode)
	}
}
