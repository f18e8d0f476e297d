// Package history persists the dedup sets between runs as a JSON document.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/italolelis/media_fetcher/internal/logctx"
)

// FileName is the history document name inside the output directory.
const FileName = "download_history.json"

const filePerm = 0o644

// Snapshot is the on-disk shape: content hashes and source URLs, in insertion order.
type Snapshot struct {
	Hashes []string `json:"hashes"`
	URLs   []string `json:"urls"`
}

// Store reads and writes one history file.
type Store struct {
	path string
}

// NewStore returns a store for the history file inside dir.
func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, FileName)}
}

// Path is the location of the history file.
func (s *Store) Path() string {
	return s.path
}

// Load reads the whole history. A missing file yields an empty snapshot.
func (s *Store) Load(ctx context.Context) (Snapshot, error) {
	logger := logctx.LoggerFromContext(ctx)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug("no history file, starting empty", "path", s.path)

			return Snapshot{}, nil
		}

		return Snapshot{}, fmt.Errorf("failed to read history: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode history %s: %w", s.path, err)
	}

	logger.Info("loaded download history", "hashes", len(snap.Hashes), "urls", len(snap.URLs))

	return snap, nil
}

// Save overwrites the history file with snap. The document is written to a
// sibling temp file first and renamed over the old one.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	if snap.Hashes == nil {
		snap.Hashes = []string{}
	}

	if snap.URLs == nil {
		snap.URLs = []string{}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("failed to replace history: %w", err)
	}

	logctx.LoggerFromContext(ctx).Debug("history flushed", "path", s.path, "hashes", len(snap.Hashes), "urls", len(snap.URLs))

	return nil
}
