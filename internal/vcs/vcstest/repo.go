// Package vcstest creates throwaway git repositories for tests.
package vcstest

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// Repo is a working copy cloned from a local bare origin
type Repo struct {
	Dir    string
	Origin string
}

// Git runs a git command in the working copy and fails the test on error
func (r *Repo) Git(t *testing.T, args ...string) string {
	t.Helper()
	return run(t, r.Dir, args...)
}

// NewRepo creates a bare origin with one commit on main and a clone of it.
// Skips the test when git is not installed.
func NewRepo(t *testing.T) *Repo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	root := t.TempDir()
	origin := filepath.Join(root, "origin.git")
	work := filepath.Join(root, "work")

	run(t, root, "init", "--bare", "-b", "main", origin)
	run(t, root, "clone", origin, work)

	cmds := [][]string{
		{"config", "user.email", "test@test.com"},
		{"config", "user.name", "Test"},
		{"config", "commit.gpgsign", "false"},
		{"checkout", "-B", "main"},
	}
	for _, args := range cmds {
		run(t, work, args...)
	}

	if err := os.WriteFile(filepath.Join(work, "README.md"), []byte("# Test"), 0644); err != nil {
		t.Fatal(err)
	}
	run(t, work, "add", ".")
	run(t, work, "commit", "-m", "Initial commit")
	run(t, work, "push", "-u", "origin", "main")

	return &Repo{Dir: work, Origin: origin}
}

func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %s", args, out)
	}
	return string(out)
}
