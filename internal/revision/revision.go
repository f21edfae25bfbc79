// Package revision captures and resets version-control revision markers for
// rollback points. It shells out to git; a workspace without git (or outside
// a repository) simply yields no marker, which rollback treats as optional.
package revision

import (
	"fmt"
	"os/exec"
	"strings"
)

// Checker reads and resets the workspace revision.
type Checker struct {
	dir string
}

// NewChecker creates a checker operating in dir.
func NewChecker(dir string) *Checker {
	return &Checker{dir: dir}
}

// IsRepository checks whether dir is inside a git repository.
func (c *Checker) IsRepository() (bool, error) {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = c.dir
	if err := cmd.Run(); err != nil {
		// Distinguish "git missing" from "not a repository".
		if _, ok := err.(*exec.Error); ok {
			return false, fmt.Errorf("git not found in PATH")
		}
		return false, nil
	}
	return true, nil
}

// Current returns the current commit hash, or "" when the workspace is not a
// repository or git is unavailable (revision markers are optional).
func (c *Checker) Current() (string, error) {
	isRepo, err := c.IsRepository()
	if err != nil || !isRepo {
		return "", nil
	}

	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = c.dir
	output, err := cmd.Output()
	if err != nil {
		// A fresh repository without commits has no HEAD yet.
		return "", nil
	}
	return strings.TrimSpace(string(output)), nil
}

// Reset hard-resets the workspace to the given revision marker.
func (c *Checker) Reset(marker string) error {
	if marker == "" {
		return fmt.Errorf("cannot reset to an empty revision marker")
	}

	cmd := exec.Command("git", "reset", "--hard", marker)
	cmd.Dir = c.dir
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to reset to revision %s: %v: %s", marker, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// IsClean reports whether the working tree has no uncommitted changes.
func (c *Checker) IsClean() (bool, error) {
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = c.dir
	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("failed to check git status: %w", err)
	}
	return len(strings.TrimSpace(string(output))) == 0, nil
}
