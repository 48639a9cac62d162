package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied when neither the config file nor the environment
// provides a value.
const (
	DefaultAPIVersion    = "63.0"
	DefaultFallbackDepth = 3
	DefaultOrgAlias      = "target-org"
	DefaultBackupDir     = "backups"
	DefaultStagingDir    = "deploy-delta"
	DefaultSourceRoot    = "force-app/main/default"
	DefaultDiffFilter    = "force-app"

	// DefaultMarkerQuery fetches the commit recorded by the last
	// successful deployment to the target org.
	DefaultMarkerQuery = "SELECT CommitSha__c FROM DeploymentMarker__c ORDER BY CreatedDate DESC LIMIT 1"
)

// Config represents the complete pipeline configuration
type Config struct {
	Environment   string       `yaml:"environment"`
	APIVersion    string       `yaml:"api_version"`
	FallbackDepth int          `yaml:"fallback_depth"`
	Org           OrgConfig    `yaml:"org"`
	Paths         PathsConfig  `yaml:"paths"`
	Marker        MarkerConfig `yaml:"marker"`
	Summary       SummaryConfig
	Serve         ServeConfig `yaml:"serve"`
}

// OrgConfig identifies the target Salesforce org
type OrgConfig struct {
	Alias string `yaml:"alias"`
}

// PathsConfig configures the local filesystem layout
type PathsConfig struct {
	StagingDir string `yaml:"staging_dir"`
	BackupDir  string `yaml:"backup_dir"`
	SourceRoot string `yaml:"source_root"`
	DiffFilter string `yaml:"diff_filter"`
}

// MarkerConfig configures the last-deployed-commit lookup
type MarkerConfig struct {
	Query string `yaml:"query"`
}

// SummaryConfig configures the CI step summary output. Populated from
// the environment only; CI provides these per run.
type SummaryConfig struct {
	Path  string
	RunID string
}

// ServeConfig configures the webhook server
type ServeConfig struct {
	ListenAddr              string   `yaml:"listen_addr"`
	GitHubWebhookSecretFile string   `yaml:"github_webhook_secret_file"`
	AllowedEventTypes       []string `yaml:"allowed_event_types"`
	AllowedRefs             []string `yaml:"allowed_refs"`
}

// Load reads the optional configuration file, layers the process
// environment on top, applies defaults and validates the result.
// An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		// Expand environment variables in path
		path = os.ExpandEnv(path)

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		cfg.expandEnv()
	}

	if err := cfg.fromEnv(); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Environment = os.ExpandEnv(c.Environment)
	c.APIVersion = os.ExpandEnv(c.APIVersion)
	c.Org.Alias = os.ExpandEnv(c.Org.Alias)
	c.Paths.StagingDir = os.ExpandEnv(c.Paths.StagingDir)
	c.Paths.BackupDir = os.ExpandEnv(c.Paths.BackupDir)
	c.Paths.SourceRoot = os.ExpandEnv(c.Paths.SourceRoot)
	c.Paths.DiffFilter = os.ExpandEnv(c.Paths.DiffFilter)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.GitHubWebhookSecretFile = os.ExpandEnv(c.Serve.GitHubWebhookSecretFile)
}

// fromEnv overrides fields from the process environment. The variable
// names match the pipeline's historical CI surface, including the
// lowercase "environment" selector.
func (c *Config) fromEnv() error {
	if v := os.Getenv("environment"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("ORG_ALIAS"); v != "" {
		c.Org.Alias = v
	}
	if v := os.Getenv("API_VERSION"); v != "" {
		c.APIVersion = v
	}
	if v := os.Getenv("BACKUP_DIR"); v != "" {
		c.Paths.BackupDir = v
	}
	if v := os.Getenv("FALLBACK_DEPTH"); v != "" {
		depth, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FALLBACK_DEPTH %q: %w", v, err)
		}
		c.FallbackDepth = depth
	}

	// CI-provided, never set via file.
	c.Summary.Path = os.Getenv("GITHUB_STEP_SUMMARY")
	c.Summary.RunID = os.Getenv("GITHUB_RUN_ID")

	return nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}
	if c.FallbackDepth == 0 {
		c.FallbackDepth = DefaultFallbackDepth
	}
	if c.Org.Alias == "" {
		c.Org.Alias = DefaultOrgAlias
	}
	if c.Paths.StagingDir == "" {
		c.Paths.StagingDir = DefaultStagingDir
	}
	if c.Paths.BackupDir == "" {
		c.Paths.BackupDir = DefaultBackupDir
	}
	if c.Paths.SourceRoot == "" {
		c.Paths.SourceRoot = DefaultSourceRoot
	}
	if c.Paths.DiffFilter == "" {
		c.Paths.DiffFilter = DefaultDiffFilter
	}
	if c.Marker.Query == "" {
		c.Marker.Query = DefaultMarkerQuery
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.APIVersion == "" {
		return fmt.Errorf("api_version is required")
	}
	if c.FallbackDepth < 1 {
		return fmt.Errorf("fallback_depth must be positive, got %d", c.FallbackDepth)
	}
	if c.Org.Alias == "" {
		return fmt.Errorf("org.alias is required")
	}

	// The source root is matched against forward-slash git paths, so it
	// must be a relative, slash-delimited prefix.
	if filepath.IsAbs(c.Paths.SourceRoot) {
		return fmt.Errorf("paths.source_root must be relative to the repository root: %s", c.Paths.SourceRoot)
	}
	if strings.Contains(c.Paths.SourceRoot, `\`) {
		return fmt.Errorf("paths.source_root must use forward slashes: %s", c.Paths.SourceRoot)
	}

	return nil
}

// ValidateServe checks the additional settings required by serve mode
func (c *Config) ValidateServe() error {
	if c.Serve.ListenAddr == "" {
		return fmt.Errorf("serve.listen_addr is required when serving webhooks")
	}
	if c.Serve.GitHubWebhookSecretFile == "" {
		return fmt.Errorf("serve.github_webhook_secret_file is required when serving webhooks")
	}
	return nil
}

// ManifestPath returns the path of the additive manifest inside the
// staging directory.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.Paths.StagingDir, "package.xml")
}

// DestructiveManifestPath returns the path of the destructive manifest
// next to the additive one.
func (c *Config) DestructiveManifestPath() string {
	return filepath.Join(c.Paths.StagingDir, "destructiveChanges.xml")
}
