// Package summary appends a Markdown report of a pipeline run to the CI
// step summary file when one is provided.
package summary

import (
	"fmt"
	"os"
	"strings"

	"github.com/santoshvicky137/SFCICD/internal/config"
	"github.com/santoshvicky137/SFCICD/internal/delta"
)

// Writer appends run reports to the step summary file.
type Writer struct {
	path  string
	runID string
}

// NewWriter creates a summary writer. An empty path disables it.
func NewWriter(cfg *config.Config) *Writer {
	return &Writer{
		path:  cfg.Summary.Path,
		runID: cfg.Summary.RunID,
	}
}

// Enabled reports whether a summary file is configured.
func (w *Writer) Enabled() bool {
	return w.path != ""
}

// WriteDelta appends a report of the resolver run. The file is opened
// in append mode so earlier steps' sections are preserved.
func (w *Writer) WriteDelta(cfg *config.Config, result *delta.Result, backupDir string) error {
	if !w.Enabled() {
		return nil
	}

	var b strings.Builder

	icon := "🔧"
	if target, ok := delta.LookupTarget(cfg.Environment); ok {
		icon = target.Icon
	}

	environment := cfg.Environment
	if environment == "" {
		environment = "ad-hoc"
	}

	fmt.Fprintf(&b, "## %s Delta deployment — %s\n\n", icon, environment)
	if w.runID != "" {
		fmt.Fprintf(&b, "Run: `%s`\n\n", w.runID)
	}

	if result.NoChanges {
		fmt.Fprintf(&b, "No changes detected since `%s` — nothing to deploy.\n", shortCommit(result.BaseCommit))
		return w.append(b.String())
	}

	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Mode | %s |\n", result.Mode)
	fmt.Fprintf(&b, "| Base commit | `%s` |\n", shortCommit(result.BaseCommit))
	fmt.Fprintf(&b, "| Staged files | %d |\n", result.StagedCount)
	if result.VanishedCount > 0 {
		fmt.Fprintf(&b, "| Skipped (vanished) | %d |\n", result.VanishedCount)
	}
	fmt.Fprintf(&b, "| Components to delete | %d |\n", len(result.Destructive))

	if result.ManifestPath != "" {
		fmt.Fprintf(&b, "\nManifest: `%s`\n", result.ManifestPath)
	}
	if result.DestructivePath != "" && len(result.Destructive) > 0 {
		fmt.Fprintf(&b, "Destructive manifest: `%s`\n", result.DestructivePath)
	}

	if backupDir != "" {
		fmt.Fprintf(&b, "Backup: `%s`\n", backupDir)
	} else if result.Mode == delta.ModeDeploy && !result.NoChanges {
		fmt.Fprintf(&b, "\n> ⚠️ No pre-deployment backup was taken.\n")
	}

	return w.append(b.String())
}

// shortCommit abbreviates a full commit hash for display.
func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}

// append writes the section to the summary file without truncating
// existing content.
func (w *Writer) append(section string) error {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open step summary file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if _, err := f.WriteString(section + "\n"); err != nil {
		return fmt.Errorf("failed to append step summary: %w", err)
	}
	return nil
}
