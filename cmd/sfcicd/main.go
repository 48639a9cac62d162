package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/santoshvicky137/SFCICD/internal/backup"
	"github.com/santoshvicky137/SFCICD/internal/config"
	"github.com/santoshvicky137/SFCICD/internal/delta"
	"github.com/santoshvicky137/SFCICD/internal/hook"
	"github.com/santoshvicky137/SFCICD/internal/manifest"
	"github.com/santoshvicky137/SFCICD/internal/sforce"
	"github.com/santoshvicky137/SFCICD/internal/summary"

	gitclient "github.com/santoshvicky137/SFCICD/internal/git"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sfcicd",
	Short: "Delta deployments for Salesforce metadata",
	Long: `sfcicd computes the delta of changed Salesforce metadata between the last
deployed commit and HEAD, stages the changed sources, generates additive and
destructive manifests, and backs up the target org before deployment.

It is designed to run inside CI and is configured through environment
variables (ORG_ALIAS, API_VERSION, FALLBACK_DEPTH, BACKUP_DIR, environment)
or an optional config file.`,
	SilenceUsage: true,
}

var deltaCmd = &cobra.Command{
	Use:   "delta",
	Short: "Compute and stage the metadata delta for the current branch",
	Long: `Delta resolves the diff base for the configured environment (deployment
marker, merge base, or commit-window fallback), stages every changed source
file, and writes package.xml plus, in deploy mode, destructiveChanges.xml.

In deploy mode it also retrieves the org's current metadata for the staged
manifest as a pre-deployment backup. Retrieval failures are logged and
skipped, never fatal.`,
	RunE: runDelta,
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up org metadata for an existing staged manifest",
	Long: `Backup retrieves the target org's current metadata matching the staged
package.xml into a timestamped directory under the backup root. A missing
manifest or a failed retrieval is reported and skipped with exit code 0.`,
	RunE: runBackup,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the GitHub push-webhook listener",
	Long: `Serve starts a long-running HTTP server that listens for GitHub push
events and triggers the delta pipeline when the configured repository is
updated. Requires serve.listen_addr and serve.github_webhook_secret_file.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sfcicd %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; environment variables take precedence)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Delta command flags
	deltaCmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute the delta without writing staging or manifests")

	// Add commands
	rootCmd.AddCommand(deltaCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// pipeline bundles the delta resolver with its follow-up steps so the
// webhook server can trigger the whole sequence.
type pipeline struct {
	cfg      *config.Config
	resolver *delta.Resolver
	backup   *backup.Engine
	summary  *summary.Writer
	logger   *slog.Logger
}

func (p *pipeline) Run(ctx context.Context) error {
	result, err := p.resolver.Run(ctx)
	if err != nil {
		return err
	}

	backupDir := ""
	if result.Mode == delta.ModeDeploy && !result.NoChanges && !dryRun {
		backupDir, err = p.backup.Run(ctx, p.cfg.ManifestPath())
		if err != nil {
			return err
		}
	}

	if err := p.summary.WriteDelta(p.cfg, result, backupDir); err != nil {
		p.logger.Warn("failed to write step summary", "error", err)
	}

	return nil
}

func runDelta(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, gitClient, err := setupPipelineContext(ctx, logger)
	if err != nil {
		return err
	}

	p := newPipeline(cfg, gitClient, logger)

	logger.Info("starting delta run")
	if err := p.Run(ctx); err != nil {
		logger.Error("delta run failed", "error", err)
		return err
	}

	return nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, _, err := setupPipelineContext(ctx, logger)
	if err != nil {
		return err
	}

	engine := backup.NewEngine(cfg, sforce.NewShellClient(), logger)
	if _, err := engine.Run(ctx, cfg.ManifestPath()); err != nil {
		logger.Error("backup failed", "error", err)
		return err
	}

	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, gitClient, err := setupPipelineContext(ctx, logger)
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	server, err := hook.NewServer(cfg, newPipeline(cfg, gitClient, logger), logger)
	if err != nil {
		return err
	}

	return server.Start(ctx)
}

// setupPipelineContext loads configuration and verifies the fatal
// preconditions: the working directory must be a Salesforce project
// root inside a git work tree.
func setupPipelineContext(ctx context.Context, logger *slog.Logger) (*config.Config, gitclient.Client, error) {
	// Local .env files carry CI variables during development; absence
	// is the normal case in CI.
	if err := godotenv.Load(); err == nil {
		logger.Debug("loaded environment from .env file")
	}

	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if _, err := os.Stat("sfdx-project.json"); err != nil {
		return nil, nil, fmt.Errorf("not a Salesforce project root: sfdx-project.json not found")
	}

	gitClient := gitclient.NewShellClient("")
	if !gitClient.IsWorkTree(ctx) {
		return nil, nil, fmt.Errorf("not inside a git work tree")
	}

	return cfg, gitClient, nil
}

func newPipeline(cfg *config.Config, gitClient gitclient.Client, logger *slog.Logger) *pipeline {
	org := sforce.NewShellClient()
	return &pipeline{
		cfg:      cfg,
		resolver: delta.NewResolver(cfg, gitClient, org, manifest.NewShellGenerator(), logger, dryRun),
		backup:   backup.NewEngine(cfg, org, logger),
		summary:  summary.NewWriter(cfg),
		logger:   logger,
	}
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	if cfgFile != "" {
		logger.Info("loading configuration", "path", cfgFile)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"environment", cfg.Environment,
		"org", cfg.Org.Alias,
		"api_version", cfg.APIVersion,
		"fallback_depth", cfg.FallbackDepth,
		"staging_dir", cfg.Paths.StagingDir)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
