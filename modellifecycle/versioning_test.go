package modellifecycle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeFakeArtifacts(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for i, name := range ArtifactNames {
		if i == len(ArtifactNames)-1 {
			continue // leave one artifact missing to exercise the Missing path
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte("fake-"+name), 0o644); err != nil {
			t.Fatalf("write artifact %s: %v", name, err)
		}
	}
}

func TestSnapshotCurrent_CopiesHashesAndMarksActive(t *testing.T) {
	base := t.TempDir()
	m := NewManager(base)
	writeFakeArtifacts(t, m.modelsDir)

	versionID, err := m.SnapshotCurrent(time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC), "initial train", "run-1", true)
	if err != nil {
		t.Fatalf("SnapshotCurrent: %v", err)
	}
	if versionID != "2026-07-30_12-00-00" {
		t.Errorf("version id = %q, want timestamp format", versionID)
	}

	active, err := m.ActiveVersion()
	if err != nil {
		t.Fatalf("ActiveVersion: %v", err)
	}
	if active != versionID {
		t.Errorf("active version = %q, want %q", active, versionID)
	}

	versions, err := m.ListVersions(10)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("expected 1 version, got %d", len(versions))
	}
	if len(versions[0].Metadata.Copied) != len(ArtifactNames)-1 {
		t.Errorf("copied = %d, want %d", len(versions[0].Metadata.Copied), len(ArtifactNames)-1)
	}
	if len(versions[0].Metadata.Missing) != 1 {
		t.Errorf("missing = %d, want 1", len(versions[0].Metadata.Missing))
	}
	if len(versions[0].Metadata.SHA256) == 0 {
		t.Errorf("expected sha256 hashes recorded")
	}
}

func TestRollback_RestoresArtifactsAndMarksActive(t *testing.T) {
	base := t.TempDir()
	m := NewManager(base)
	writeFakeArtifacts(t, m.modelsDir)

	v1, err := m.SnapshotCurrent(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), "v1", "", true)
	if err != nil {
		t.Fatalf("snapshot v1: %v", err)
	}

	// Simulate a new (bad) model overwriting the live artifacts.
	if err := os.WriteFile(filepath.Join(m.modelsDir, ArtifactNames[0]), []byte("corrupted"), 0o644); err != nil {
		t.Fatalf("corrupt artifact: %v", err)
	}
	v2, err := m.SnapshotCurrent(time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC), "v2 bad", "", true)
	if err != nil {
		t.Fatalf("snapshot v2: %v", err)
	}
	if v2 == v1 {
		t.Fatalf("expected distinct version ids")
	}

	if err := m.Rollback(v1); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	restored, err := os.ReadFile(filepath.Join(m.modelsDir, ArtifactNames[0]))
	if err != nil {
		t.Fatalf("read restored artifact: %v", err)
	}
	if string(restored) != "fake-"+ArtifactNames[0] {
		t.Errorf("restored artifact content = %q, want original", restored)
	}

	active, err := m.ActiveVersion()
	if err != nil {
		t.Fatalf("ActiveVersion: %v", err)
	}
	if active != v1 {
		t.Errorf("active version after rollback = %q, want %q", active, v1)
	}
}

func TestRetrainWorker_SnapshotsAfterSuccessfulTrain(t *testing.T) {
	base := t.TempDir()
	m := NewManager(base)
	writeFakeArtifacts(t, m.modelsDir)

	trained := false
	w := NewRetrainWorker(RetrainOptions{Enabled: true, IntervalHours: 1}, m, func(ctx context.Context) (string, error) {
		trained = true
		return "scheduled retrain", nil
	}, zerolog.Nop())

	w.runCycle(context.Background())

	if !trained {
		t.Fatalf("expected train function to be called")
	}
	active, err := m.ActiveVersion()
	if err != nil {
		t.Fatalf("ActiveVersion: %v", err)
	}
	if active == "" {
		t.Fatalf("expected a version to be marked active after retrain")
	}
}

func TestRetrainWorker_DisabledSkipsStart(t *testing.T) {
	base := t.TempDir()
	m := NewManager(base)
	w := NewRetrainWorker(RetrainOptions{Enabled: false}, m, func(context.Context) (string, error) {
		t.Fatalf("train function should not be called when disabled")
		return "", nil
	}, zerolog.Nop())

	stop, err := w.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stop()
	if w.cron != nil {
		t.Errorf("expected no cron scheduled when disabled")
	}
}
