// Package ingest provides the live log ingestion pipeline: tailing known log
// files, caching recent lines in Redis, broadcasting them over WebSocket, and
// accepting bulk-pushed lines over HTTP (spec.md §4.7).
package ingest

import (
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Line is one raw line read from a tailed source, stamped with the source
// name it came from (one of the keys in Sources).
type Line struct {
	Source string
	Raw    string
}

// Sources lists the log files tailed at startup, grounded on
// log_ingestor.py's LOG_SOURCES mapping.
var Sources = map[string]string{
	"auth":     "/var/log/auth.log",
	"ufw":      "/var/log/ufw.log",
	"kernel":   "/var/log/kern.log",
	"syslog":   "/var/log/syslog",
	"messages": "/var/log/messages",
}

// pollInterval is how often a tailer checks for new bytes when it isn't
// blocked on file growth, matching follow()'s 10ms sleep.
const pollInterval = 10 * time.Millisecond

// Tailer follows one log file from its current end-of-file, emitting newly
// appended lines until ctx is canceled. Grounded on log_ingestor.py's
// follow() generator.
type Tailer struct {
	source string
	path   string
	log    zerolog.Logger
}

func NewTailer(source, path string, log zerolog.Logger) *Tailer {
	return &Tailer{
		source: source,
		path:   path,
		log:    log.With().Str("component", "ingest.tailer").Str("source", source).Logger(),
	}
}

// Run opens the file, seeks to its current end, and polls for appended
// lines, sending each to out. If the file does not exist, Run logs a
// warning and returns immediately rather than failing the whole ingestor —
// the same tolerance the source has for a log file that isn't present on
// this host.
func (t *Tailer) Run(ctx context.Context, out chan<- Line) error {
	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			t.log.Warn().Str("path", t.path).Msg("log file not found, skipping")
			return nil
		}
		return err
	}
	defer f.Close()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	reader := newLineReader(f)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for {
				line, ok, err := reader.readLine()
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				select {
				case out <- Line{Source: t.source, Raw: line}:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

// lineReader accumulates bytes from a growing file and yields complete
// lines as they appear, leaving a partial trailing line buffered for the
// next read — files are appended to mid-line by the kernel's own buffering,
// so a naive bufio.Scanner would emit a truncated line on every poll that
// lands mid-write.
type lineReader struct {
	f   *os.File
	buf []byte
}

func newLineReader(f *os.File) *lineReader {
	return &lineReader{f: f}
}

func (r *lineReader) readLine() (line string, ok bool, err error) {
	if idx := bytes.IndexByte(r.buf, '\n'); idx >= 0 {
		line = string(r.buf[:idx])
		r.buf = r.buf[idx+1:]
		return line, true, nil
	}

	chunk := make([]byte, 4096)
	n, err := r.f.Read(chunk)
	if n > 0 {
		r.buf = append(r.buf, chunk[:n]...)
	}
	if err != nil && err != io.EOF {
		return "", false, err
	}
	if idx := bytes.IndexByte(r.buf, '\n'); idx >= 0 {
		line = string(r.buf[:idx])
		r.buf = r.buf[idx+1:]
		return line, true, nil
	}
	return "", false, nil
}
