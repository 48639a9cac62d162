package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/santoshvicky137/SFCICD/internal/config"
	"github.com/santoshvicky137/SFCICD/internal/sforce"
)

// Engine takes a pre-deployment backup of the target org's current
// metadata for a staged manifest.
type Engine struct {
	cfg    *config.Config
	org    sforce.Client
	logger *slog.Logger

	// now is overridable for deterministic directory names in tests.
	now func() time.Time
}

// NewEngine creates a backup engine
func NewEngine(cfg *config.Config, org sforce.Client, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		org:    org,
		logger: logger,
		now:    time.Now,
	}
}

// Run retrieves the org metadata matching manifestPath into a fresh
// timestamped directory under the configured backup root. A retrieval
// failure is non-fatal: it is logged and an empty path is returned so
// the pipeline continues without a backup artifact. Other errors abort.
func (e *Engine) Run(ctx context.Context, manifestPath string) (string, error) {
	if _, err := os.Stat(manifestPath); err != nil {
		// No manifest means nothing was staged; skipping the backup is
		// expected, not an error.
		e.logger.Info("no manifest found, skipping backup", "manifest", manifestPath)
		return "", nil
	}

	stamp := e.now().UTC().Format("20060102-150405")
	backupDir := filepath.Join(e.cfg.Paths.BackupDir, stamp)

	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	e.logger.Info("retrieving current org metadata",
		"org", e.cfg.Org.Alias,
		"manifest", manifestPath,
		"dest", backupDir)

	if err := e.org.Retrieve(ctx, e.cfg.Org.Alias, manifestPath, backupDir); err != nil {
		var retrievalErr *sforce.RetrievalError
		if errors.As(err, &retrievalErr) {
			e.logger.Warn("backup retrieval failed, continuing without backup", "error", err)
			// Drop the directory if the failed retrieve left nothing in it.
			_ = os.Remove(backupDir)
			return "", nil
		}
		return "", err
	}

	e.logger.Info("backup complete", "dest", backupDir)
	return backupDir, nil
}
