package summary

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/santoshvicky137/SFCICD/internal/config"
	"github.com/santoshvicky137/SFCICD/internal/delta"
)

func testConfig(path string) *config.Config {
	return &config.Config{
		Environment: "uat",
		Summary: config.SummaryConfig{
			Path:  path,
			RunID: "424242",
		},
	}
}

func TestDisabledWriterIsNoOp(t *testing.T) {
	cfg := testConfig("")
	w := NewWriter(cfg)

	if w.Enabled() {
		t.Error("writer with empty path must be disabled")
	}
	if err := w.WriteDelta(cfg, &delta.Result{}, ""); err != nil {
		t.Errorf("disabled writer must not fail: %v", err)
	}
}

func TestWriteDeltaAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.md")
	if err := os.WriteFile(path, []byte("# earlier step\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(path)
	w := NewWriter(cfg)

	result := &delta.Result{
		Mode:            delta.ModeDeploy,
		BaseCommit:      "0123456789abcdef0123",
		StagedCount:     4,
		ManifestPath:    "deploy-delta/package.xml",
		DestructivePath: "deploy-delta/destructiveChanges.xml",
	}

	if err := w.WriteDelta(cfg, result, "backups/20260831-120000"); err != nil {
		t.Fatalf("WriteDelta failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)

	if !strings.HasPrefix(out, "# earlier step\n") {
		t.Error("existing summary content was not preserved")
	}
	for _, want := range []string{
		"uat",
		"424242",
		"0123456789ab", // abbreviated commit
		"| Staged files | 4 |",
		"deploy-delta/package.xml",
		"backups/20260831-120000",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestWriteDeltaNoChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.md")
	cfg := testConfig(path)
	w := NewWriter(cfg)

	result := &delta.Result{
		Mode:       delta.ModeDeploy,
		BaseCommit: "abc123def456abc123",
		NoChanges:  true,
	}

	if err := w.WriteDelta(cfg, result, ""); err != nil {
		t.Fatalf("WriteDelta failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "No changes detected") {
		t.Errorf("expected no-changes line, got:\n%s", data)
	}
}

func TestWriteDeltaWarnsOnMissingBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.md")
	cfg := testConfig(path)
	w := NewWriter(cfg)

	result := &delta.Result{
		Mode:        delta.ModeDeploy,
		BaseCommit:  "abc123",
		StagedCount: 1,
	}

	if err := w.WriteDelta(cfg, result, ""); err != nil {
		t.Fatalf("WriteDelta failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "No pre-deployment backup") {
		t.Errorf("expected backup warning, got:\n%s", data)
	}
}

func TestWriteDeltaAdHocEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.md")
	cfg := testConfig(path)
	cfg.Environment = ""
	w := NewWriter(cfg)

	result := &delta.Result{Mode: delta.ModeValidate, BaseCommit: "abc123", StagedCount: 2}

	if err := w.WriteDelta(cfg, result, ""); err != nil {
		t.Fatalf("WriteDelta failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "ad-hoc") {
		t.Errorf("expected ad-hoc label, got:\n%s", data)
	}
}
