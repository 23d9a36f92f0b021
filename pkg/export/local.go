package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/evalops/evalboard/pkg/config"
)

// localWriter implements Writer on a local directory.
type localWriter struct {
	log logrus.FieldLogger
	cfg *config.LocalExportConfig
}

var _ Writer = (*localWriter)(nil)

// NewLocalWriter creates a Writer that stores snapshot objects under the
// configured directory.
func NewLocalWriter(
	log logrus.FieldLogger,
	cfg *config.LocalExportConfig,
) Writer {
	return &localWriter{
		log: log.WithField("component", "local-export"),
		cfg: cfg,
	}
}

// Preflight ensures the target directory exists and is writable.
func (w *localWriter) Preflight(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("creating export directory %s: %w", w.cfg.Dir, err)
	}

	probe := filepath.Join(w.cfg.Dir, ".write-test")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("writing test file to %s: %w", w.cfg.Dir, err)
	}

	return os.Remove(probe)
}

// Write stores data under dir/key, creating intermediate directories.
func (w *localWriter) Write(
	ctx context.Context, key string, data []byte,
) error {
	path := filepath.Join(w.cfg.Dir, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", key, err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	w.log.WithField("path", path).Debug("Wrote snapshot object")

	return nil
}
