// Package merge integrates agent branches back into the trunk.
//
// All merges for a batch go through one Pipeline, which serializes trunk
// mutation and resolves conflicts by rebasing the agent branch onto the
// current trunk and retrying once.
package merge

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tomharrigan/phalanx/internal/worktree"
)

// Resolution methods recorded on a merge result.
const (
	ResolutionClean        = "clean"
	ResolutionRebase       = "rebase"
	ResolutionRebaseFailed = "rebase_failed"
	ResolutionNoop         = "noop"
)

// Result describes the outcome of merging one agent branch.
type Result struct {
	Branch           string   `json:"branch"`
	Success          bool     `json:"success"`
	ConflictFiles    []string `json:"conflict_files,omitempty"`
	ResolutionMethod string   `json:"resolution_method"`
	Message          string   `json:"message"`
}

// ConflictError reports a merge or rebase that stopped on conflicting files.
// The operation has already been aborted when this error is returned.
type ConflictError struct {
	Branch string
	Stage  string
	Files  []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s of %s conflicted on %d file(s): %s",
		e.Stage, e.Branch, len(e.Files), strings.Join(e.Files, ", "))
}

// Pipeline merges agent branches into the trunk one at a time.
type Pipeline struct {
	mu    sync.Mutex
	wt    *worktree.Manager
	trunk string
}

// New creates a Pipeline for the repository managed by wt. trunk is the
// branch merges land on; it must be checked out in the trunk working tree.
func New(wt *worktree.Manager, trunk string) *Pipeline {
	return &Pipeline{wt: wt, trunk: trunk}
}

// Merge integrates one workspace branch into the trunk. The workspace must
// still exist: conflict resolution rebases inside it. A non-nil error means
// the repository itself misbehaved; conflicts are reported in the Result.
func (p *Pipeline) Merge(ws *worktree.Workspace) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := Result{Branch: ws.Branch}

	ahead, err := p.wt.HasCommitsBeyond(p.trunk, ws.Branch)
	if err != nil {
		return res, err
	}
	if !ahead {
		res.Success = true
		res.ResolutionMethod = ResolutionNoop
		res.Message = fmt.Sprintf("branch %s has no new commits", ws.Branch)
		return res, nil
	}

	cerr, err := p.tryMerge(ws.Branch)
	if err != nil {
		return res, err
	}
	if cerr == nil {
		res.Success = true
		res.ResolutionMethod = ResolutionClean
		res.Message = fmt.Sprintf("merged %s", ws.Branch)
		return res, nil
	}

	// The merge was aborted; rebase the branch onto the current trunk and
	// try once more.
	if out, err := p.wt.Git(ws.Path, "rebase", p.trunk); err != nil {
		files := p.wt.ConflictingFiles(ws.Path)
		if _, aerr := p.wt.Git(ws.Path, "rebase", "--abort"); aerr != nil {
			return res, fmt.Errorf("failed to abort rebase of %s: %w", ws.Branch, aerr)
		}
		if len(files) == 0 {
			files = cerr.Files
		}
		res.ConflictFiles = files
		res.ResolutionMethod = ResolutionRebaseFailed
		res.Message = fmt.Sprintf("rebase onto %s failed: %s", p.trunk, firstLine(out))
		return res, nil
	}

	cerr, err = p.tryMerge(ws.Branch)
	if err != nil {
		return res, err
	}
	if cerr != nil {
		res.ConflictFiles = cerr.Files
		res.ResolutionMethod = ResolutionRebaseFailed
		res.Message = fmt.Sprintf("branch %s still conflicts after rebase", ws.Branch)
		return res, nil
	}

	res.Success = true
	res.ResolutionMethod = ResolutionRebase
	res.Message = fmt.Sprintf("merged %s after rebase", ws.Branch)
	return res, nil
}

// tryMerge attempts a no-ff merge of branch into the trunk. On conflict it
// aborts the merge and returns a *ConflictError; on success both returns are
// nil.
func (p *Pipeline) tryMerge(branch string) (*ConflictError, error) {
	msg := fmt.Sprintf("Merge %s", branch)
	out, err := p.wt.Git("", "merge", "--no-ff", branch, "-m", msg)
	if err == nil {
		return nil, nil
	}

	files := p.wt.ConflictingFiles("")
	if len(files) == 0 {
		// Not a content conflict; surface the git failure as-is.
		return nil, fmt.Errorf("merge of %s failed: %w\n%s", branch, err, out)
	}

	if out, aerr := p.wt.Git("", "merge", "--abort"); aerr != nil {
		return nil, fmt.Errorf("failed to abort merge of %s: %w\n%s", branch, aerr, out)
	}
	return &ConflictError{Branch: branch, Stage: "merge", Files: files}, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
