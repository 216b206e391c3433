package server

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/crlsmrls/fwatch/detect"
	"github.com/crlsmrls/fwatch/domain"
	"github.com/crlsmrls/fwatch/eventstore"
)

// queryDuration parses a minutes or seconds query parameter into a
// time.Duration; zero/absent returns 0 so the detector's own default applies.
func queryDuration(r *http.Request, key string, unit time.Duration) time.Duration {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * unit
}

func queryInt(r *http.Request, key string) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0
	}
	n, _ := strconv.Atoi(v)
	return n
}

func queryTimeRange(r *http.Request) (start, end time.Time) {
	q := r.URL.Query()
	if v := q.Get("start"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			start = t
		}
	}
	if v := q.Get("end"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			end = t
		}
	}
	return start, end
}

func bruteForceHandler(store *eventstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start, end := queryTimeRange(r)
		opts := detect.BruteForceOptions{
			Window:    queryDuration(r, "window_minutes", time.Minute),
			Threshold: queryInt(r, "threshold"),
			SourceIP:  r.URL.Query().Get("source_ip"),
			Start:     start,
			End:       end,
		}
		detections, err := detect.DetectBruteForce(r.Context(), store, opts)
		writeDetections(w, r, "brute_force", detections, err)
	}
}

func ddosHandler(store *eventstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start, end := queryTimeRange(r)
		opts := detect.DDoSOptions{
			Window:                       queryDuration(r, "window_seconds", time.Second),
			SingleIPThreshold:            queryInt(r, "single_ip_threshold"),
			DistributedIPCount:           queryInt(r, "distributed_ip_count"),
			DistributedRequestThreshold:  queryInt(r, "distributed_request_threshold"),
			DestinationPort:              queryInt(r, "destination_port"),
			Protocol:                     r.URL.Query().Get("protocol"),
			Start:                        start,
			End:                          end,
		}
		detections, err := detect.DetectDDoS(r.Context(), store, opts)
		writeDetections(w, r, "ddos", detections, err)
	}
}

func portScanHandler(store *eventstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start, end := queryTimeRange(r)
		opts := detect.PortScanOptions{
			Window:               queryDuration(r, "window_minutes", time.Minute),
			UniquePortsThreshold: queryInt(r, "unique_ports_threshold"),
			MinTotalAttempts:     queryInt(r, "min_total_attempts"),
			SourceIP:             r.URL.Query().Get("source_ip"),
			Protocol:             r.URL.Query().Get("protocol"),
			Start:                start,
			End:                  end,
		}
		detections, err := detect.DetectPortScan(r.Context(), store, opts)
		writeDetections(w, r, "port_scan", detections, err)
	}
}

// writeDetections implements the export contract in spec.md §6: JSON by
// default, or format=csv with a UTF-8 BOM and a UTC-dated filename.
func writeDetections(w http.ResponseWriter, r *http.Request, detector string, detections []domain.Detection, err error) {
	log := hlog.FromRequest(r)
	if err != nil {
		log.Error().Err(err).Str("detector", detector).Msg("detector query failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		writeDetectionsCSV(w, detector, detections)
		return
	}
	writeJSONResponse(w, http.StatusOK, detections)
}

func writeDetectionsCSV(w http.ResponseWriter, detector string, detections []domain.Detection) {
	filename := fmt.Sprintf("%s_%s.csv", detector, time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)

	w.Write([]byte{0xEF, 0xBB, 0xBF}) // UTF-8 BOM for spreadsheet-tool friendliness.

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"attack_type", "source_ip", "severity", "total_attempts", "first_seen", "last_seen", "destination_port", "protocol"})
	for _, d := range detections {
		_ = cw.Write([]string{
			string(d.AttackType),
			d.SourceIP,
			d.Severity.String(),
			strconv.Itoa(d.TotalAttempts),
			d.FirstSeen.UTC().Format(time.RFC3339),
			d.LastSeen.UTC().Format(time.RFC3339),
			strconv.Itoa(d.DestinationPort),
			d.Protocol,
		})
	}
	cw.Flush()
}
