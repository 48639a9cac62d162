package delta

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/santoshvicky137/SFCICD/internal/config"
	"github.com/santoshvicky137/SFCICD/internal/git"
	"github.com/santoshvicky137/SFCICD/internal/manifest"
	"github.com/santoshvicky137/SFCICD/internal/sforce"
)

// Resolver turns a changed-file range into a staged source tree, an
// additive manifest and, in deploy mode, a destructive manifest.
type Resolver struct {
	cfg    *config.Config
	git    git.Client
	org    sforce.Client
	gen    manifest.Generator
	logger *slog.Logger
	dryRun bool
}

// NewResolver creates a delta resolver
func NewResolver(cfg *config.Config, gitClient git.Client, org sforce.Client, gen manifest.Generator, logger *slog.Logger, dryRun bool) *Resolver {
	return &Resolver{
		cfg:    cfg,
		git:    gitClient,
		org:    org,
		gen:    gen,
		logger: logger,
		dryRun: dryRun,
	}
}

// Run executes the complete delta pipeline
func (r *Resolver) Run(ctx context.Context) (*Result, error) {
	r.logger.Info("resolving delta",
		"environment", r.cfg.Environment,
		"org", r.cfg.Org.Alias,
		"dry_run", r.dryRun)

	base, mode, err := r.ResolveRange(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve diff range: %w", err)
	}
	r.logger.Info("diff range resolved", "base", base, "mode", mode)

	changes, err := r.ListChanges(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}

	result := &Result{Mode: mode, BaseCommit: base}

	// An empty diff is a successful no-op: nothing staged, no manifests.
	if len(changes) == 0 {
		r.logger.Info("no changes detected, nothing to package")
		result.NoChanges = true
		return result, nil
	}

	plan := r.buildPlan(changes)
	members := r.DeriveMembers(plan.Deleted)

	r.logger.Info("delta plan",
		"stage", len(plan.Stage),
		"deleted", len(plan.Deleted),
		"vanished", len(plan.Vanished),
		"destructive_members", len(members))

	result.StagedCount = len(plan.Stage)
	result.VanishedCount = len(plan.Vanished)
	result.Destructive = members

	if r.dryRun {
		r.logPlanDetails(plan, members)
		r.logger.Info("dry-run complete, no artifacts written")
		return result, nil
	}

	if err := r.stage(plan); err != nil {
		return nil, fmt.Errorf("failed to stage changes: %w", err)
	}

	// The additive manifest is required for any non-empty change set, so
	// generation failures abort the pipeline.
	if err := r.gen.Generate(ctx, r.cfg.Paths.StagingDir, r.cfg.Paths.StagingDir, r.cfg.APIVersion); err != nil {
		return nil, err
	}
	result.ManifestPath = r.cfg.ManifestPath()
	r.logger.Info("additive manifest written", "path", result.ManifestPath)

	// Destructive manifests are deploy-only. An empty member set still
	// yields a well-formed version-only document.
	if mode == ModeDeploy {
		pkg := manifest.Destructive(members, r.cfg.APIVersion)
		if err := pkg.Write(r.cfg.DestructiveManifestPath()); err != nil {
			return nil, fmt.Errorf("failed to write destructive manifest: %w", err)
		}
		result.DestructivePath = r.cfg.DestructiveManifestPath()
		r.logger.Info("destructive manifest written",
			"path", result.DestructivePath,
			"members", len(members))
	}

	r.logger.Info("delta resolved successfully")
	return result, nil
}

// ResolveRange determines the base commit and pipeline mode.
//
// A recognized environment deploys: the base is the org's last-deployed
// marker when one is recorded, otherwise the oldest commit of the
// fallback window. Anything else validates against the merge base with
// the production branch, falling back to HEAD~depth when the histories
// are unrelated.
func (r *Resolver) ResolveRange(ctx context.Context) (string, Mode, error) {
	target, recognized := LookupTarget(r.cfg.Environment)

	if recognized {
		r.logger.Info("deployment target recognized",
			"environment", r.cfg.Environment,
			"branch", target.Branch)

		if marker := r.lookupMarker(ctx); marker != "" {
			r.logger.Info("using last deployed commit as base", "commit", marker)
			return marker, ModeDeploy, nil
		}

		base, err := r.git.OldestOfLast(ctx, r.cfg.FallbackDepth)
		if err != nil {
			return "", ModeDeploy, fmt.Errorf("fallback commit lookup failed: %w", err)
		}
		r.logger.Warn("no deployment marker found, using fallback base",
			"base", base,
			"depth", r.cfg.FallbackDepth)
		return base, ModeDeploy, nil
	}

	base, err := r.git.MergeBase(ctx, validationBranch, "HEAD")
	if err == nil {
		return base, ModeValidate, nil
	}

	r.logger.Warn("no merge base with validation branch, falling back",
		"branch", validationBranch,
		"error", err)

	fallbackRef := fmt.Sprintf("HEAD~%d", r.cfg.FallbackDepth)
	base, err = r.git.RevParse(ctx, fallbackRef)
	if err != nil {
		return "", ModeValidate, fmt.Errorf("failed to resolve fallback base %s: %w", fallbackRef, err)
	}
	return base, ModeValidate, nil
}

// lookupMarker queries the org for the last-deployed commit. Query
// failures and empty results both degrade to "" so the caller can fall
// back to the commit window.
func (r *Resolver) lookupMarker(ctx context.Context) string {
	records, err := r.org.Query(ctx, r.cfg.Org.Alias, r.cfg.Marker.Query)
	if err != nil {
		r.logger.Warn("deployment marker query failed", "error", err)
		return ""
	}
	if len(records) == 0 {
		return ""
	}
	return records[0].FirstValue()
}

// ListChanges lists changes between base and HEAD under the configured
// diff filter.
func (r *Resolver) ListChanges(ctx context.Context, base string) ([]git.Change, error) {
	return r.git.DiffNameStatus(ctx, base, r.cfg.Paths.DiffFilter)
}

// buildPlan classifies changes into staging and destructive work.
// Non-deletion paths that vanished from the work tree (deleted then
// recreated elsewhere, case-only renames) are skipped, not failed.
func (r *Resolver) buildPlan(changes []git.Change) *Plan {
	plan := &Plan{}

	for _, change := range changes {
		if change.IsDeletion() {
			plan.Deleted = append(plan.Deleted, change.Path)
			continue
		}

		if _, err := os.Stat(filepath.FromSlash(change.Path)); err != nil {
			r.logger.Debug("changed path no longer exists, skipping", "path", change.Path)
			plan.Vanished = append(plan.Vanished, change.Path)
			continue
		}

		plan.Stage = append(plan.Stage, change)
	}

	return plan
}

// stage copies every planned file into the staging tree at its original
// relative path.
func (r *Resolver) stage(plan *Plan) error {
	if err := os.MkdirAll(r.cfg.Paths.StagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}

	for _, change := range plan.Stage {
		dest := filepath.Join(r.cfg.Paths.StagingDir, filepath.FromSlash(change.Path))
		r.logger.Info("staging file", "status", change.Status, "path", change.Path)
		if err := copyFile(filepath.FromSlash(change.Path), dest); err != nil {
			return fmt.Errorf("failed to stage %s: %w", change.Path, err)
		}
	}

	return nil
}

// DeriveMembers maps deleted paths to (type, name) pairs.
//
// The rule is literal: after stripping the source root prefix, the
// first remaining segment is the type (the raw directory name, e.g.
// "classes") and the second, truncated at its first dot, is the name.
// Compound extensions like ".cls-meta.xml" collapse onto the same
// member. Paths outside the source root or yielding an empty type or
// name are dropped.
func (r *Resolver) DeriveMembers(deleted []string) []manifest.Member {
	root := strings.TrimSuffix(r.cfg.Paths.SourceRoot, "/") + "/"

	var members []manifest.Member
	seen := make(map[manifest.Member]bool)

	for _, path := range deleted {
		if !strings.HasPrefix(path, root) {
			r.logger.Debug("deleted path outside source root, skipping", "path", path)
			continue
		}

		segments := strings.Split(strings.TrimPrefix(path, root), "/")
		if len(segments) < 2 {
			r.logger.Debug("deleted path too short to derive a member, skipping", "path", path)
			continue
		}

		name := segments[1]
		if dot := strings.Index(name, "."); dot >= 0 {
			name = name[:dot]
		}

		member := manifest.Member{Type: segments[0], Name: name}
		if member.Type == "" || member.Name == "" || seen[member] {
			continue
		}

		seen[member] = true
		members = append(members, member)
	}

	return members
}

// logPlanDetails logs detailed plan information for dry-run
func (r *Resolver) logPlanDetails(plan *Plan, members []manifest.Member) {
	for _, change := range plan.Stage {
		r.logger.Info("[dry-run] would stage", "status", change.Status, "path", change.Path)
	}
	for _, path := range plan.Vanished {
		r.logger.Info("[dry-run] would skip vanished path", "path", path)
	}
	for _, m := range members {
		r.logger.Info("[dry-run] would mark for deletion", "type", m.Type, "name", m.Name)
	}
}

// copyFile copies a file from src to dst with atomic write
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".sfcicd-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return err
	}

	srcInfo, err := srcFile.Stat()
	if err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Chmod(srcInfo.Mode()); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, dst)
}
