// Package migration reads a legacy store end-to-end and re-emits it as a
// native rvf container, atomically and reversibly.
//
// The manifest is the engine's persistent record of a migration and the
// only mutable cross-process pointer between legacy and new data. Nothing
// destructive ever happens to the source: completing a migration renames
// it to a .bak sibling, and rollback renames it back.
package migration

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ruvector/rvf/format"
)

// Status is the lifecycle state of a migration.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Manifest records one migration between a legacy source and a native
// target. It transitions to complete only after the new container's
// checksum validates.
type Manifest struct {
	SourcePath   string        `json:"source_path"`
	SourceFormat format.Format `json:"source_format"`
	TargetPath   string        `json:"target_path"`
	Status       Status        `json:"status"`
	BackupPath   string        `json:"backup_path,omitempty"`
	Error        string        `json:"error,omitempty"`

	KVRecords     int `json:"kv_records"`
	VectorRecords int `json:"vector_records"`
	LogRecords    int `json:"log_records"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// ManifestPath returns the manifest location for a target container.
func ManifestPath(targetPath string) string {
	return targetPath + ".manifest.json"
}

// LoadManifest reads a manifest. A missing file returns (nil, nil).
func LoadManifest(targetPath string) (*Manifest, error) {
	data, err := os.ReadFile(ManifestPath(targetPath))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse migration manifest: %w", err)
	}

	return &m, nil
}

// Save writes the manifest atomically: temp file, fsync, rename.
func (m *Manifest) Save() error {
	path := ManifestPath(m.TargetPath)

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}

	return nil
}
