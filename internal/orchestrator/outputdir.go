package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/italolelis/media_fetcher/internal/logctx"
)

const (
	dirPerm = 0o755

	probeFile = "test_write.tmp"
)

// PrepareOutputDir makes sure dir exists and is writable. When it is not, the
// fallback directory is prepared and returned instead.
func PrepareOutputDir(ctx context.Context, dir, fallback string) (string, error) {
	logger := logctx.LoggerFromContext(ctx)

	err := ensureWritable(dir)
	if err == nil {
		return dir, nil
	}

	logger.Warn("output directory is not writable, using fallback", "dir", dir, "fallback", fallback, "err", err)

	if fbErr := ensureWritable(fallback); fbErr != nil {
		return "", fmt.Errorf("no writable output directory: %s: %w; fallback %s: %w", dir, err, fallback, fbErr)
	}

	return fallback, nil
}

func ensureWritable(dir string) error {
	if dir == "" {
		return fmt.Errorf("directory not set")
	}

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	probe := filepath.Join(dir, probeFile)

	if err := os.WriteFile(probe, []byte("test"), 0o644); err != nil {
		return fmt.Errorf("failed to write probe file: %w", err)
	}

	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("failed to remove probe file: %w", err)
	}

	return nil
}
