// Package modellifecycle manages versioned ML model artifact bundles:
// timestamped snapshot directories, an active-version pointer, atomic
// reloads, and sha256 integrity hashing (spec.md §4.7).
package modellifecycle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ArtifactNames lists the files a model bundle is made of, grounded on
// model_versioning.py's ARTIFACTS list.
var ArtifactNames = []string{
	"anomaly_model.bin",
	"classifier.bin",
	"feature_scaler.bin",
	"label_encoder.bin",
	"anomaly_metrics.json",
	"classifier_metrics.json",
	"metadata.json",
}

// Manager tracks a directory of versioned model snapshots plus an active
// pointer file, grounded on model_versioning.py's module-level functions.
type Manager struct {
	modelsDir   string // current live artifacts the scorer reloads from
	versionsDir string // snapshot history
	activeFile  string // pointer to the active version id
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		modelsDir:   filepath.Join(baseDir, "models"),
		versionsDir: filepath.Join(baseDir, "versions"),
		activeFile:  filepath.Join(baseDir, "ACTIVE_VERSION"),
	}
}

// SnapshotMetadata is written alongside each versioned snapshot.
type SnapshotMetadata struct {
	SnapshotAtUTC string            `json:"snapshot_at_utc"`
	Reason        string            `json:"reason"`
	RunID         string            `json:"run_id,omitempty"`
	ActiveBefore  string            `json:"active_before,omitempty"`
	Copied        []string          `json:"copied"`
	Missing       []string          `json:"missing"`
	SHA256        map[string]string `json:"sha256"`
}

// ActiveVersion returns the currently pointed-to version id, or "" if none
// has ever been marked active.
func (m *Manager) ActiveVersion() (string, error) {
	data, err := os.ReadFile(m.activeFile)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("modellifecycle: read active version: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// setActiveVersion atomically swaps the pointer file (write to a temp file,
// then rename) so a crash mid-write can never leave a half-written pointer
// — the one place the source's plain `write_text` could corrupt state
// under concurrent access.
func (m *Manager) setActiveVersion(versionID string) error {
	if err := os.MkdirAll(filepath.Dir(m.activeFile), 0o755); err != nil {
		return fmt.Errorf("modellifecycle: mkdir: %w", err)
	}
	tmp := m.activeFile + ".tmp"
	if err := os.WriteFile(tmp, []byte(versionID+"\n"), 0o644); err != nil {
		return fmt.Errorf("modellifecycle: write active version: %w", err)
	}
	if err := os.Rename(tmp, m.activeFile); err != nil {
		return fmt.Errorf("modellifecycle: rename active version: %w", err)
	}
	return nil
}

// VersionSummary is one entry of ListVersions.
type VersionSummary struct {
	VersionID string
	Path      string
	Metadata  SnapshotMetadata
}

// ListVersions returns known snapshots, most recent id first (snapshot ids
// are UTC timestamps, so lexical descending order matches chronological
// order).
func (m *Manager) ListVersions(limit int) ([]VersionSummary, error) {
	entries, err := os.ReadDir(m.versionsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("modellifecycle: list versions: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	var out []VersionSummary
	for _, name := range names {
		if limit > 0 && len(out) >= limit {
			break
		}
		dir := filepath.Join(m.versionsDir, name)
		var meta SnapshotMetadata
		if data, err := os.ReadFile(filepath.Join(dir, "snapshot_metadata.json")); err == nil {
			_ = json.Unmarshal(data, &meta)
		}
		out = append(out, VersionSummary{VersionID: name, Path: dir, Metadata: meta})
	}
	return out, nil
}

// SnapshotCurrent copies the live artifacts in modelsDir into a new
// versioned directory named by a UTC timestamp, sha256-hashing each
// artifact it copies, grounded on snapshot_current_models.
func (m *Manager) SnapshotCurrent(now time.Time, reason, runID string, markActive bool) (versionID string, err error) {
	versionID = now.UTC().Format("2006-01-02_15-04-05")
	dest := filepath.Join(m.versionsDir, versionID)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("modellifecycle: mkdir snapshot dir: %w", err)
	}

	activeBefore, _ := m.ActiveVersion()

	meta := SnapshotMetadata{
		SnapshotAtUTC: now.UTC().Format(time.RFC3339),
		Reason:        reason,
		RunID:         runID,
		ActiveBefore:  activeBefore,
		SHA256:        map[string]string{},
	}

	for _, name := range ArtifactNames {
		src := filepath.Join(m.modelsDir, name)
		hash, copyErr := copyAndHash(src, filepath.Join(dest, name))
		if copyErr != nil {
			meta.Missing = append(meta.Missing, name)
			continue
		}
		meta.Copied = append(meta.Copied, name)
		meta.SHA256[name] = hash
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("modellifecycle: marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dest, "snapshot_metadata.json"), metaBytes, 0o644); err != nil {
		return "", fmt.Errorf("modellifecycle: write metadata: %w", err)
	}

	if markActive {
		if err := m.setActiveVersion(versionID); err != nil {
			return versionID, err
		}
	}
	return versionID, nil
}

// Rollback restores a prior version's artifacts into modelsDir and marks it
// active, grounded on rollback_to_version. Copy, not move: the versioned
// snapshot directory is left intact so a second rollback remains possible.
func (m *Manager) Rollback(versionID string) error {
	src := filepath.Join(m.versionsDir, versionID)
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		return fmt.Errorf("modellifecycle: version not found: %s", versionID)
	}
	if err := os.MkdirAll(m.modelsDir, 0o755); err != nil {
		return fmt.Errorf("modellifecycle: mkdir models dir: %w", err)
	}
	for _, name := range ArtifactNames {
		candidate := filepath.Join(src, name)
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if _, err := copyAndHash(candidate, filepath.Join(m.modelsDir, name)); err != nil {
			return fmt.Errorf("modellifecycle: restore %s: %w", name, err)
		}
	}
	return m.setActiveVersion(versionID)
}

func copyAndHash(src, dst string) (sha256Hex string, err error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, h), in); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
