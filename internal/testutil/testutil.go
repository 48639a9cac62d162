// Package testutil provides git repository scaffolding for tests.
package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// InitRepo initializes a git repository with a test identity in dir on
// the given branch.
func InitRepo(t *testing.T, dir, branch string) {
	t.Helper()
	Git(t, "", "init", "-b", branch, dir)
	Git(t, dir, "config", "user.email", "ci@test.local")
	Git(t, dir, "config", "user.name", "CI Test")
}

// WriteFile writes content to a repo-relative path, creating parents.
func WriteFile(t *testing.T, repoDir, relPath, content string) {
	t.Helper()
	path := filepath.Join(repoDir, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// Commit stages everything and commits, returning the commit hash.
func Commit(t *testing.T, repoDir, message string) string {
	t.Helper()
	Git(t, repoDir, "add", "-A")
	Git(t, repoDir, "commit", "-m", message, "--allow-empty")
	return Head(t, repoDir)
}

// Head returns the current HEAD commit hash.
func Head(t *testing.T, repoDir string) string {
	t.Helper()
	return Git(t, repoDir, "rev-parse", "HEAD")
}

// Git runs a git command and fails the test on error. With an empty
// repoDir the command runs without -C.
func Git(t *testing.T, repoDir string, args ...string) string {
	t.Helper()
	if repoDir != "" {
		args = append([]string{"-C", repoDir}, args...)
	}
	out, err := exec.Command("git", args...).CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// Chdir changes into dir for the duration of the test.
func Chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(orig)
	})
}

// FindProjectRoot walks up the directory tree from the caller's source
// file to find go.mod.
func FindProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(1)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}

	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}
