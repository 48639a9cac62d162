package git

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Status classifies a changed path as reported by the diff.
type Status string

const (
	StatusAdded    Status = "A"
	StatusModified Status = "M"
	StatusDeleted  Status = "D"
	StatusRenamed  Status = "R"
	StatusCopied   Status = "C"
	StatusUnknown  Status = "?"
)

// Change is a single (status, path) pair from a diff. Paths are
// forward-slash delimited and relative to the repository root, exactly
// as git prints them.
type Change struct {
	Status Status
	Path   string
}

// IsDeletion reports whether the change removes the path from HEAD.
func (c Change) IsDeletion() bool {
	return c.Status == StatusDeleted
}

// Client provides the version-control queries the pipeline needs
type Client interface {
	// IsWorkTree reports whether the working directory is inside a git work tree
	IsWorkTree(ctx context.Context) bool
	// RevParse resolves a ref expression to a commit hash
	RevParse(ctx context.Context, ref string) (string, error)
	// MergeBase returns the merge base of two refs
	MergeBase(ctx context.Context, a, b string) (string, error)
	// OldestOfLast returns the oldest commit among the last n log entries
	// on the current branch
	OldestOfLast(ctx context.Context, n int) (string, error)
	// DiffNameStatus lists changes between base and HEAD under pathFilter
	DiffNameStatus(ctx context.Context, base, pathFilter string) ([]Change, error)
}

// ShellClient implements Client by shelling out to the git command
type ShellClient struct {
	workDir string
}

// NewShellClient creates a git client rooted at workDir. An empty
// workDir uses the process working directory.
func NewShellClient(workDir string) *ShellClient {
	return &ShellClient{workDir: workDir}
}

// IsWorkTree reports whether the working directory is inside a git work tree
func (c *ShellClient) IsWorkTree(ctx context.Context) bool {
	out, err := c.output(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// RevParse resolves a ref expression to a commit hash
func (c *ShellClient) RevParse(ctx context.Context, ref string) (string, error) {
	out, err := c.output(ctx, "rev-parse", "--verify", ref)
	if err != nil {
		return "", fmt.Errorf("git rev-parse %s failed: %w", ref, err)
	}
	return out, nil
}

// MergeBase returns the merge base of two refs. Unrelated histories or
// a missing ref surface as an error.
func (c *ShellClient) MergeBase(ctx context.Context, a, b string) (string, error) {
	out, err := c.output(ctx, "merge-base", a, b)
	if err != nil {
		return "", fmt.Errorf("git merge-base %s %s failed: %w", a, b, err)
	}
	return out, nil
}

// OldestOfLast returns the oldest commit among the last n log entries on
// the current branch. With fewer than n commits in history, the root
// commit is returned.
func (c *ShellClient) OldestOfLast(ctx context.Context, n int) (string, error) {
	if n < 1 {
		return "", fmt.Errorf("commit window must be positive, got %d", n)
	}

	out, err := c.output(ctx, "log", "-n", strconv.Itoa(n), "--format=%H")
	if err != nil {
		return "", fmt.Errorf("git log failed: %w", err)
	}

	lines := strings.Split(out, "\n")
	oldest := strings.TrimSpace(lines[len(lines)-1])
	if oldest == "" {
		return "", fmt.Errorf("git log returned no commits")
	}
	return oldest, nil
}

// DiffNameStatus lists changes between base and HEAD restricted to
// pathFilter. An empty pathFilter diffs the whole tree. Rename and copy
// rows carry two paths; the destination is recorded under the row's
// status and the rename source is recorded as a deletion, since it no
// longer exists at HEAD.
func (c *ShellClient) DiffNameStatus(ctx context.Context, base, pathFilter string) ([]Change, error) {
	args := []string{"diff", "--name-status", base, "HEAD"}
	if pathFilter != "" {
		args = append(args, "--", pathFilter)
	}

	out, err := c.output(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("git diff --name-status failed: %w", err)
	}

	var changes []Change
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}

		status := parseStatus(fields[0])
		switch status {
		case StatusRenamed, StatusCopied:
			if len(fields) < 3 {
				continue
			}
			if status == StatusRenamed {
				changes = append(changes, Change{Status: StatusDeleted, Path: fields[1]})
			}
			changes = append(changes, Change{Status: status, Path: fields[2]})
		default:
			changes = append(changes, Change{Status: status, Path: fields[1]})
		}
	}

	return changes, nil
}

// parseStatus maps a raw diff status field (possibly carrying a
// similarity score, e.g. "R100") to a Status.
func parseStatus(raw string) Status {
	if raw == "" {
		return StatusUnknown
	}
	switch raw[0] {
	case 'A':
		return StatusAdded
	case 'M':
		return StatusModified
	case 'D':
		return StatusDeleted
	case 'R':
		return StatusRenamed
	case 'C':
		return StatusCopied
	}
	return StatusUnknown
}

// output runs a git command and returns its trimmed stdout, wrapping
// stderr into the error on failure.
func (c *ShellClient) output(ctx context.Context, args ...string) (string, error) {
	if c.workDir != "" {
		args = append([]string{"-C", c.workDir}, args...)
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(string(out)), nil
}
