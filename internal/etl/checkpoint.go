package etl

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BartekS5/archive-ingest/pkg/models"
)

// startCursor is how older checkpoint files spell start-of-stream.
const startCursor = "*"

// FileCheckpoint keeps the checkpoint as a small JSON file. Saves replace the
// file atomically so a crash leaves either the old or the new position.
type FileCheckpoint struct {
	Path string
}

// Load returns the saved position. A missing file means start-of-stream.
func (f FileCheckpoint) Load() (models.Checkpoint, error) {
	var cp models.Checkpoint
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return cp, nil
	}
	if err != nil {
		return cp, fmt.Errorf("read checkpoint %s: %w", f.Path, err)
	}
	if err := json.Unmarshal(data, &cp); err != nil {
		return cp, fmt.Errorf("parse checkpoint %s: %w", f.Path, err)
	}
	if cp.LastCursor != nil && (*cp.LastCursor == "" || *cp.LastCursor == startCursor) {
		cp.LastCursor = nil
	}
	return cp, nil
}

func (f FileCheckpoint) Save(cp models.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(f.Path, data); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", f.Path, err)
	}
	return nil
}

// writeFileAtomic replaces path with data through a synced temp file in the
// same directory, then syncs the directory so the rename survives a crash.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename: %w", err)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir %s: %w", dir, err)
	}
	return nil
}
