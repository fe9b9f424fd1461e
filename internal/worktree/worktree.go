// Package worktree manages isolated git workspaces for agent execution.
//
// Each workspace is a git worktree with a dedicated branch named
// <prefix>/<batch>/<agent>, created under .phalanx/worktrees/ inside the
// repository. A workspace is owned by exactly one agent slot and is destroyed
// after its branch has been merged (or discarded).
package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultPrefix is the branch namespace for managed workspaces.
const DefaultPrefix = "phalanx"

// worktreeDirName is the directory under the repo root that holds workspaces.
const worktreeDirName = ".phalanx/worktrees"

// Workspace is an isolated working copy plus its dedicated branch.
type Workspace struct {
	BatchID string
	AgentID int
	Path    string
	Branch  string
	BaseRef string
}

// CreationError reports a failure to provision a workspace. It marks only the
// owning agent slot as failed, never the whole phase.
type CreationError struct {
	BatchID string
	AgentID int
	BaseRef string
	Output  string
	Err     error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("failed to create workspace for agent %d (base %s): %v", e.AgentID, e.BaseRef, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// Manager handles workspace lifecycle for one git repository.
type Manager struct {
	repoDir string
	prefix  string
}

// FindGitRoot finds the root of the git repository by traversing up from
// startDir. It returns the directory containing .git (a directory for a
// normal repo, a file for a worktree).
func FindGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitPath := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a git repository (or any parent up to mount point)")
		}
		dir = parent
	}
}

// New creates a Manager rooted at the git repository containing repoDir.
// An empty prefix selects DefaultPrefix.
func New(repoDir, prefix string) (*Manager, error) {
	gitRoot, err := FindGitRoot(repoDir)
	if err != nil {
		return nil, fmt.Errorf("not a git repository: %s", repoDir)
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	m := &Manager{repoDir: gitRoot, prefix: prefix}
	m.ensureExcluded()
	return m, nil
}

// RepoDir returns the repository root (the trunk working directory).
func (m *Manager) RepoDir() string { return m.repoDir }

// Prefix returns the branch namespace used for managed workspaces.
func (m *Manager) Prefix() string { return m.prefix }

// git runs a git command in dir and returns combined output.
func git(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// BranchName returns the deterministic branch name for a (batch, agent) pair.
func (m *Manager) BranchName(batchID string, agentID int) string {
	return fmt.Sprintf("%s/%s/%d", m.prefix, batchID, agentID)
}

// Create provisions a workspace for one agent: an isolated directory under
// the worktree root and a dedicated branch cut from baseRef. An empty baseRef
// branches from the current trunk tip.
func (m *Manager) Create(batchID string, agentID int, baseRef string) (*Workspace, error) {
	if baseRef == "" {
		baseRef = "HEAD"
	}

	root := filepath.Join(m.repoDir, worktreeDirName)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &CreationError{BatchID: batchID, AgentID: agentID, BaseRef: baseRef, Err: err}
	}

	branch := m.BranchName(batchID, agentID)
	path := filepath.Join(root, fmt.Sprintf("%s-%d", batchID, agentID))

	out, err := git(m.repoDir, "worktree", "add", "-b", branch, path, baseRef)
	if err != nil {
		return nil, &CreationError{
			BatchID: batchID,
			AgentID: agentID,
			BaseRef: baseRef,
			Output:  strings.TrimSpace(out),
			Err:     err,
		}
	}

	return &Workspace{
		BatchID: batchID,
		AgentID: agentID,
		Path:    path,
		Branch:  branch,
		BaseRef: baseRef,
	}, nil
}

// ensureExcluded adds the workspace root to .git/info/exclude so worktrees
// and logs never show up as trunk changes. The exclude file is used instead
// of .gitignore: appending to a tracked .gitignore would dirty the tree
// after the clean-tree preflight has already passed.
func (m *Manager) ensureExcluded() {
	excludePath := filepath.Join(m.repoDir, ".git", "info", "exclude")
	entry := "/.phalanx/"

	content, err := os.ReadFile(excludePath)
	if err == nil && strings.Contains(string(content), ".phalanx") {
		return
	}
	if err := os.MkdirAll(filepath.Dir(excludePath), 0o755); err != nil {
		return
	}

	text := string(content)
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	text += entry + "\n"
	_ = os.WriteFile(excludePath, []byte(text), 0o644)
}

// Destroy removes a workspace directory and deletes its branch. It is called
// exactly once per workspace, after the merge attempt or on cancellation.
func (m *Manager) Destroy(ws *Workspace) error {
	if out, err := git(m.repoDir, "worktree", "remove", "--force", ws.Path); err != nil {
		// Fall back to manual removal plus a prune of stale metadata.
		_ = os.RemoveAll(ws.Path)
		_, _ = git(m.repoDir, "worktree", "prune")
		_, _ = git(m.repoDir, "branch", "-D", ws.Branch)
		return fmt.Errorf("failed to remove worktree cleanly: %w\n%s", err, out)
	}

	if out, err := git(m.repoDir, "branch", "-D", ws.Branch); err != nil {
		return fmt.Errorf("failed to delete branch %s: %w\n%s", ws.Branch, err, out)
	}
	return nil
}

// List returns all managed workspaces, parsed from porcelain worktree output
// and filtered by the branch prefix.
func (m *Manager) List() ([]Workspace, error) {
	out, err := git(m.repoDir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}

	var result []Workspace
	var path, branch string
	flush := func() {
		if path != "" && strings.HasPrefix(branch, m.prefix+"/") {
			if ws, ok := m.parseBranch(path, branch); ok {
				result = append(result, ws)
			}
		}
		path, branch = "", ""
	}

	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			flush()
			path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "branch refs/heads/"):
			branch = strings.TrimPrefix(line, "branch refs/heads/")
		case line == "":
			flush()
		}
	}
	flush()

	return result, nil
}

// parseBranch extracts batch and agent ids from <prefix>/<batch>/<agent>.
func (m *Manager) parseBranch(path, branch string) (Workspace, bool) {
	rest := strings.TrimPrefix(branch, m.prefix+"/")
	idx := strings.LastIndex(rest, "/")
	if idx < 0 {
		return Workspace{}, false
	}
	agentID, err := strconv.Atoi(rest[idx+1:])
	if err != nil {
		agentID = -1
	}
	return Workspace{
		BatchID: rest[:idx],
		AgentID: agentID,
		Path:    path,
		Branch:  branch,
	}, true
}

// CleanupBatch removes every workspace and branch belonging to a batch,
// returning the number removed. Safe to call more than once.
func (m *Manager) CleanupBatch(batchID string) int {
	workspaces, err := m.List()
	if err != nil {
		return 0
	}

	cleaned := 0
	for i := range workspaces {
		if workspaces[i].BatchID != batchID {
			continue
		}
		if err := m.Destroy(&workspaces[i]); err == nil {
			cleaned++
		}
	}
	_, _ = git(m.repoDir, "worktree", "prune")
	return cleaned
}

// CleanupOrphans removes workspaces and branches matching the naming
// convention whose batch id has no live status entry, e.g. leftovers from a
// crashed run. It is idempotent and safe to run at startup. Returns the
// number of resources removed.
func (m *Manager) CleanupOrphans(live map[string]bool) int {
	cleaned := 0
	removedBranches := make(map[string]bool)

	workspaces, err := m.List()
	if err == nil {
		for i := range workspaces {
			if live[workspaces[i].BatchID] {
				continue
			}
			if err := m.Destroy(&workspaces[i]); err == nil {
				removedBranches[workspaces[i].Branch] = true
				cleaned++
			}
		}
	}
	_, _ = git(m.repoDir, "worktree", "prune")

	// Branches can outlive their worktree after a crash plus manual cleanup.
	out, err := git(m.repoDir, "branch", "--list", m.prefix+"/*", "--format=%(refname:short)")
	if err != nil {
		return cleaned
	}
	for _, branch := range strings.Split(strings.TrimSpace(out), "\n") {
		branch = strings.TrimSpace(branch)
		if branch == "" || removedBranches[branch] {
			continue
		}
		rest := strings.TrimPrefix(branch, m.prefix+"/")
		idx := strings.LastIndex(rest, "/")
		if idx < 0 || live[rest[:idx]] {
			continue
		}
		if _, err := git(m.repoDir, "branch", "-D", branch); err == nil {
			cleaned++
		}
	}

	return cleaned
}
