package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/italolelis/media_fetcher/internal/history"
	"github.com/italolelis/media_fetcher/internal/logctx"
)

// protectedNames are never removed, whatever their age.
var protectedNames = []string{
	history.FileName,
	"ledger.db",
	"ledger.db-wal",
	"ledger.db-shm",
}

// Result counts what a sweep removed.
type Result struct {
	Files int
	Dirs  int
}

// Sweep deletes regular files under baseDir last modified before now-keep,
// removes subdirectories left empty, and drops whole "<prefix>_YYYYMMDD"
// directories dated before the cutoff. Paths in protect are kept; a protected
// directory, and every directory above it, is never removed.
// A missing baseDir is not an error.
func Sweep(ctx context.Context, baseDir string, keep time.Duration, prefix string, protect ...string) (Result, error) {
	logger := logctx.LoggerFromContext(ctx).With("base_dir", baseDir)

	var res Result

	if _, err := os.Stat(baseDir); errors.Is(err, fs.ErrNotExist) {
		logger.Info("sweep directory does not exist")

		return res, nil
	}

	cutoff := time.Now().Add(-keep)
	keepPaths := make(map[string]struct{}, len(protect))

	for _, p := range protect {
		if abs, err := filepath.Abs(p); err == nil {
			keepPaths[abs] = struct{}{}
		}
	}

	isProtected := func(path string) bool {
		if slices.Contains(protectedNames, filepath.Base(path)) {
			return true
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			return false
		}

		_, ok := keepPaths[abs]

		return ok
	}

	holdsProtected := func(dir string) bool {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return false
		}

		for p := range keepPaths {
			if p == abs || strings.HasPrefix(p, abs+string(filepath.Separator)) {
				return true
			}
		}

		return false
	}

	var dirs []string

	err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("Failed to read path", "path", path, "err", err)

			return nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if d.IsDir() {
			if path != baseDir {
				dirs = append(dirs, path)
			}

			return nil
		}

		if !d.Type().IsRegular() || isProtected(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			logger.Warn("Failed to stat file", "file", path, "err", err)

			return nil
		}

		if !info.ModTime().Before(cutoff) {
			return nil
		}

		if err := os.Remove(path); err != nil {
			logger.Warn("Failed to delete expired file", "file", path, "err", err)

			return nil
		}

		res.Files++

		logger.Debug("Deleted expired file", "file", path)

		return nil
	})
	if err != nil {
		return res, err
	}

	// WalkDir lists parents before children; reversed, children go first.
	for i := len(dirs) - 1; i >= 0; i-- {
		if holdsProtected(dirs[i]) {
			continue
		}

		entries, err := os.ReadDir(dirs[i])
		if err != nil || len(entries) > 0 {
			continue
		}

		if err := os.Remove(dirs[i]); err != nil {
			logger.Warn("Failed to delete empty directory", "dir", dirs[i], "err", err)

			continue
		}

		res.Dirs++

		logger.Debug("Deleted empty directory", "dir", dirs[i])
	}

	res.Dirs += sweepDatedDirs(ctx, baseDir, prefix, cutoff, isProtected, holdsProtected)

	logger.Info("sweep finished", "files", res.Files, "dirs", res.Dirs)

	return res, nil
}

// sweepDatedDirs removes top-level "<prefix>_YYYYMMDD" directories dated before cutoff.
func sweepDatedDirs(ctx context.Context, baseDir, prefix string, cutoff time.Time, isProtected, holdsProtected func(string) bool) int {
	logger := logctx.LoggerFromContext(ctx)

	if prefix == "" {
		return 0
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		logger.Warn("Failed to list base directory", "dir", baseDir, "err", err)

		return 0
	}

	removed := 0

	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasPrefix(name, prefix+"_") {
			continue
		}

		day, err := time.ParseInLocation("20060102", strings.TrimPrefix(name, prefix+"_"), time.UTC)
		if err != nil {
			logger.Debug("Skipping directory with unparsable date", "dir", name)

			continue
		}

		if !day.Before(cutoff) {
			continue
		}

		path := filepath.Join(baseDir, name)
		if holdsProtected(path) || containsProtected(path, isProtected) {
			logger.Warn("Keeping dated directory with protected files", "dir", path)

			continue
		}

		if err := os.RemoveAll(path); err != nil {
			logger.Warn("Failed to delete dated directory", "dir", path, "err", err)

			continue
		}

		removed++

		logger.Info("Deleted dated directory", "dir", path)
	}

	return removed
}

func containsProtected(dir string, isProtected func(string) bool) bool {
	found := false

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && isProtected(path) {
			found = true

			return fs.SkipAll
		}

		return nil
	})

	return found
}
