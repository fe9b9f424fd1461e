package worktree

import (
	"fmt"
	"strings"
)

// IsClean reports whether the trunk working tree has no tracked changes.
// Untracked files are ignored: they cannot be clobbered by a merge.
func (m *Manager) IsClean() (bool, error) {
	out, err := git(m.repoDir, "status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return false, fmt.Errorf("failed to check working tree status: %w\n%s", err, out)
	}
	return strings.TrimSpace(out) == "", nil
}

// DirtyPaths returns the tracked paths with uncommitted changes on the trunk.
func (m *Manager) DirtyPaths() ([]string, error) {
	out, err := git(m.repoDir, "status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return nil, fmt.Errorf("failed to list dirty files: %w\n%s", err, out)
	}

	var paths []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if len(line) > 3 {
			paths = append(paths, strings.TrimSpace(line[3:]))
		}
	}
	return paths, nil
}

// CommitAll stages and commits everything in dir. Returns false with no error
// when there is nothing to commit.
func (m *Manager) CommitAll(dir, message string) (bool, error) {
	if out, err := git(dir, "add", "-A"); err != nil {
		return false, fmt.Errorf("failed to stage changes: %w\n%s", err, out)
	}

	out, err := git(dir, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("failed to check status: %w\n%s", err, out)
	}
	if strings.TrimSpace(out) == "" {
		return false, nil
	}

	if out, err := git(dir, "commit", "-m", message); err != nil {
		return false, fmt.Errorf("failed to commit: %w\n%s", err, out)
	}
	return true, nil
}

// HasCommitsBeyond reports whether branch has commits that base does not.
func (m *Manager) HasCommitsBeyond(base, branch string) (bool, error) {
	out, err := git(m.repoDir, "rev-list", "--count", base+".."+branch)
	if err != nil {
		return false, fmt.Errorf("failed to count commits on %s: %w\n%s", branch, err, out)
	}
	return strings.TrimSpace(out) != "0", nil
}

// CurrentBranch returns the branch checked out on the trunk.
func (m *Manager) CurrentBranch() (string, error) {
	out, err := git(m.repoDir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w\n%s", err, out)
	}
	return strings.TrimSpace(out), nil
}

// HeadSHA returns the commit id at the tip of the trunk.
func (m *Manager) HeadSHA() (string, error) {
	out, err := git(m.repoDir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w\n%s", err, out)
	}
	return strings.TrimSpace(out), nil
}

// ConflictingFiles returns the paths with unresolved conflicts in dir.
func (m *Manager) ConflictingFiles(dir string) []string {
	out, err := git(dir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil
	}

	var files []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files
}

// Git runs a git command in dir and returns combined output. Exposed for the
// merge pipeline, which operates on the same repository.
func (m *Manager) Git(dir string, args ...string) (string, error) {
	if dir == "" {
		dir = m.repoDir
	}
	return git(dir, args...)
}
