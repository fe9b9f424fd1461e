package worktree

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// initTestRepo creates a git repository with one commit and returns its path.
func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}

	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test User")

	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", ".")
	run("commit", "-m", "initial commit")

	return dir
}

func mustManager(t *testing.T, dir string) *Manager {
	t.Helper()
	m, err := New(dir, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestFindGitRoot(t *testing.T) {
	repo := initTestRepo(t)
	nested := filepath.Join(repo, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	root, err := FindGitRoot(nested)
	if err != nil {
		t.Fatalf("FindGitRoot: %v", err)
	}
	if root != repo {
		t.Errorf("root = %q, want %q", root, repo)
	}

	if _, err := FindGitRoot(t.TempDir()); err == nil {
		t.Error("expected error outside a git repository")
	}
}

func TestNewRejectsNonRepo(t *testing.T) {
	if _, err := New(t.TempDir(), ""); err == nil {
		t.Fatal("expected error for non-repository directory")
	}
}

func TestCreateAndDestroy(t *testing.T) {
	repo := initTestRepo(t)
	m := mustManager(t, repo)

	ws, err := m.Create("batch-1", 0, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if ws.Branch != "phalanx/batch-1/0" {
		t.Errorf("branch = %q, want phalanx/batch-1/0", ws.Branch)
	}
	if _, err := os.Stat(ws.Path); err != nil {
		t.Errorf("workspace dir missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws.Path, "README.md")); err != nil {
		t.Errorf("workspace missing repo contents: %v", err)
	}

	if err := m.Destroy(ws); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := os.Stat(ws.Path); !os.IsNotExist(err) {
		t.Error("workspace dir still exists after Destroy")
	}

	out, _ := git(repo, "branch", "--list", ws.Branch)
	if strings.TrimSpace(out) != "" {
		t.Errorf("branch %s still exists after Destroy", ws.Branch)
	}
}

func TestCreateBadBaseRefReturnsCreationError(t *testing.T) {
	repo := initTestRepo(t)
	m := mustManager(t, repo)

	_, err := m.Create("batch-1", 0, "no-such-ref")
	if err == nil {
		t.Fatal("expected error for bad base ref")
	}
	ce, ok := err.(*CreationError)
	if !ok {
		t.Fatalf("error type = %T, want *CreationError", err)
	}
	if ce.AgentID != 0 || ce.BaseRef != "no-such-ref" {
		t.Errorf("unexpected error fields: %+v", ce)
	}
}

func TestWorkspaceRootExcluded(t *testing.T) {
	repo := initTestRepo(t)

	// A tracked .gitignore must survive untouched: modifying it would dirty
	// the tree after the clean-tree check has already passed.
	gitignore := filepath.Join(repo, ".gitignore")
	if err := os.WriteFile(gitignore, []byte("*.tmp\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cmd := exec.Command("git", "add", ".gitignore")
	cmd.Dir = repo
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git add: %v\n%s", err, out)
	}
	cmd = exec.Command("git", "commit", "-m", "add gitignore")
	cmd.Dir = repo
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git commit: %v\n%s", err, out)
	}

	m := mustManager(t, repo)
	if _, err := m.Create("batch-1", 0, ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(repo, ".git", "info", "exclude"))
	if err != nil {
		t.Fatalf("reading exclude file: %v", err)
	}
	if !strings.Contains(string(content), "/.phalanx/") {
		t.Errorf("exclude file missing workspace entry:\n%s", content)
	}

	ignored, _ := os.ReadFile(gitignore)
	if string(ignored) != "*.tmp\n" {
		t.Errorf(".gitignore was modified: %q", ignored)
	}
	clean, err := m.IsClean()
	if err != nil {
		t.Fatalf("IsClean: %v", err)
	}
	if !clean {
		t.Error("workspace creation dirtied the trunk")
	}

	// Re-running the manager must not duplicate the entry.
	if _, err := New(repo, ""); err != nil {
		t.Fatalf("New: %v", err)
	}
	content, _ = os.ReadFile(filepath.Join(repo, ".git", "info", "exclude"))
	if strings.Count(string(content), ".phalanx") != 1 {
		t.Errorf("duplicated exclude entry:\n%s", content)
	}
}

func TestList(t *testing.T) {
	repo := initTestRepo(t)
	m := mustManager(t, repo)

	for i := 0; i < 3; i++ {
		if _, err := m.Create("batch-1", i, ""); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}

	workspaces, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(workspaces) != 3 {
		t.Fatalf("len = %d, want 3", len(workspaces))
	}

	seen := make(map[int]bool)
	for _, ws := range workspaces {
		if ws.BatchID != "batch-1" {
			t.Errorf("batch id = %q, want batch-1", ws.BatchID)
		}
		seen[ws.AgentID] = true
	}
	for i := 0; i < 3; i++ {
		if !seen[i] {
			t.Errorf("agent %d missing from listing", i)
		}
	}
}

func TestCleanupBatch(t *testing.T) {
	repo := initTestRepo(t)
	m := mustManager(t, repo)

	for i := 0; i < 2; i++ {
		if _, err := m.Create("batch-a", i, ""); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := m.Create("batch-b", 5, ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if n := m.CleanupBatch("batch-a"); n != 2 {
		t.Errorf("cleaned = %d, want 2", n)
	}

	remaining, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 1 || remaining[0].BatchID != "batch-b" {
		t.Errorf("remaining = %+v, want single batch-b workspace", remaining)
	}

	// Idempotent.
	if n := m.CleanupBatch("batch-a"); n != 0 {
		t.Errorf("second cleanup = %d, want 0", n)
	}
}

func TestCleanupOrphans(t *testing.T) {
	repo := initTestRepo(t)
	m := mustManager(t, repo)

	for i := 0; i < 2; i++ {
		if _, err := m.Create("dead-batch", i, ""); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	liveWS, err := m.Create("live-batch", 0, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	n := m.CleanupOrphans(map[string]bool{"live-batch": true})
	if n != 2 {
		t.Errorf("cleaned = %d, want 2", n)
	}

	remaining, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Branch != liveWS.Branch {
		t.Errorf("remaining = %+v, want only live workspace", remaining)
	}
}

func TestCleanupOrphansRemovesStaleBranches(t *testing.T) {
	repo := initTestRepo(t)
	m := mustManager(t, repo)

	// Simulate a crash where the worktree dir was removed by hand but the
	// branch survived.
	ws, err := m.Create("dead-batch", 0, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := os.RemoveAll(ws.Path); err != nil {
		t.Fatal(err)
	}
	if out, err := git(repo, "worktree", "prune"); err != nil {
		t.Fatalf("prune: %v\n%s", err, out)
	}

	if n := m.CleanupOrphans(nil); n != 1 {
		t.Errorf("cleaned = %d, want 1", n)
	}
	out, _ := git(repo, "branch", "--list", ws.Branch)
	if strings.TrimSpace(out) != "" {
		t.Errorf("stale branch %s survived cleanup", ws.Branch)
	}
}

func TestIsCleanAndDirtyPaths(t *testing.T) {
	repo := initTestRepo(t)
	m := mustManager(t, repo)

	clean, err := m.IsClean()
	if err != nil {
		t.Fatalf("IsClean: %v", err)
	}
	if !clean {
		t.Error("fresh repo should be clean")
	}

	// Untracked files do not count.
	if err := os.WriteFile(filepath.Join(repo, "scratch.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	clean, err = m.IsClean()
	if err != nil {
		t.Fatalf("IsClean: %v", err)
	}
	if !clean {
		t.Error("untracked file should not make the tree dirty")
	}

	// Modifying a tracked file does.
	if err := os.WriteFile(filepath.Join(repo, "README.md"), []byte("changed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	clean, err = m.IsClean()
	if err != nil {
		t.Fatalf("IsClean: %v", err)
	}
	if clean {
		t.Error("modified tracked file should make the tree dirty")
	}

	paths, err := m.DirtyPaths()
	if err != nil {
		t.Fatalf("DirtyPaths: %v", err)
	}
	if len(paths) != 1 || paths[0] != "README.md" {
		t.Errorf("dirty paths = %v, want [README.md]", paths)
	}
}

func TestCommitAll(t *testing.T) {
	repo := initTestRepo(t)
	m := mustManager(t, repo)

	committed, err := m.CommitAll(repo, "nothing to do")
	if err != nil {
		t.Fatalf("CommitAll: %v", err)
	}
	if committed {
		t.Error("clean tree should report nothing committed")
	}

	if err := os.WriteFile(filepath.Join(repo, "new.txt"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	committed, err = m.CommitAll(repo, "add new file")
	if err != nil {
		t.Fatalf("CommitAll: %v", err)
	}
	if !committed {
		t.Error("expected commit of new file")
	}

	clean, _ := m.IsClean()
	if !clean {
		t.Error("tree should be clean after CommitAll")
	}
}

func TestHasCommitsBeyond(t *testing.T) {
	repo := initTestRepo(t)
	m := mustManager(t, repo)

	ws, err := m.Create("batch-1", 0, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	has, err := m.HasCommitsBeyond("main", ws.Branch)
	if err != nil {
		t.Fatalf("HasCommitsBeyond: %v", err)
	}
	if has {
		t.Error("fresh branch should have no commits beyond trunk")
	}

	if err := os.WriteFile(filepath.Join(ws.Path, "work.txt"), []byte("done\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CommitAll(ws.Path, "agent work"); err != nil {
		t.Fatalf("CommitAll: %v", err)
	}

	has, err = m.HasCommitsBeyond("main", ws.Branch)
	if err != nil {
		t.Fatalf("HasCommitsBeyond: %v", err)
	}
	if !has {
		t.Error("branch with a commit should be ahead of trunk")
	}
}
