package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/santoshvicky137/SFCICD/internal/testutil"
)

func TestSetupLogger(t *testing.T) {
	// Save original globals.
	origLevel := logLevel
	origFormat := logFormat
	t.Cleanup(func() {
		logLevel = origLevel
		logFormat = origFormat
	})

	for _, tc := range []struct {
		name      string
		logLevel  string
		logFormat string
	}{
		{name: "debug/text", logLevel: "debug", logFormat: "text"},
		{name: "info/json", logLevel: "info", logFormat: "json"},
		{name: "warn/text", logLevel: "warn", logFormat: "text"},
		{name: "error/text", logLevel: "error", logFormat: "text"},
		{name: "unknown/text", logLevel: "unknown", logFormat: "text"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logLevel = tc.logLevel
			logFormat = tc.logFormat

			logger := setupLogger()
			if logger == nil {
				t.Fatal("setupLogger returned nil")
			}
		})
	}
}

func TestLoadConfigWithExplicitPath(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
environment: "uat"
org:
  alias: "ci-org"
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
	cfgFile = path

	cfg, err := loadConfig(testLogger())
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Environment != "uat" || cfg.Org.Alias != "ci-org" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestSetupPipelineContextPreconditions(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })
	cfgFile = ""

	logger := testLogger()

	// Not a project root: no sfdx-project.json.
	plainDir := t.TempDir()
	testutil.Chdir(t, plainDir)
	if _, _, err := setupPipelineContext(context.Background(), logger); err == nil {
		t.Error("expected error outside a project root")
	}

	// Project root but not a git work tree.
	projDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(projDir, "sfdx-project.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	testutil.Chdir(t, projDir)
	if _, _, err := setupPipelineContext(context.Background(), logger); err == nil {
		t.Error("expected error outside a git work tree")
	}

	// Both preconditions satisfied.
	repoDir := t.TempDir()
	testutil.InitRepo(t, repoDir, "main")
	if err := os.WriteFile(filepath.Join(repoDir, "sfdx-project.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	testutil.Chdir(t, repoDir)
	cfg, gitClient, err := setupPipelineContext(context.Background(), logger)
	if err != nil {
		t.Fatalf("setupPipelineContext failed: %v", err)
	}
	if cfg == nil || gitClient == nil {
		t.Error("expected config and git client")
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}
