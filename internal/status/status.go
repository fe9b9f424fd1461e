// Package status tracks batch execution state for concurrent readers.
//
// All mutation goes through the Store's writer methods under a write lock;
// readers get deep-copied snapshots and can never observe a torn update.
package status

import (
	"time"

	"github.com/tomharrigan/phalanx/internal/merge"
	"github.com/tomharrigan/phalanx/internal/verify"
)

// BatchState is the lifecycle state of a batch.
type BatchState string

const (
	StatePending    BatchState = "pending"
	StateRunning    BatchState = "running"
	StateMerging    BatchState = "merging"
	StateVerifying  BatchState = "verifying"
	StateFinalizing BatchState = "finalizing"
	StateComplete   BatchState = "complete"
	StateFailed     BatchState = "failed"
	StateCancelled  BatchState = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s BatchState) Terminal() bool {
	return s == StateComplete || s == StateFailed || s == StateCancelled
}

// AgentState is the lifecycle state of one agent slot.
type AgentState string

const (
	AgentPending   AgentState = "pending"
	AgentRunning   AgentState = "running"
	AgentCompleted AgentState = "completed"
	AgentFailed    AgentState = "failed"
)

// AgentStatus is the live record of one agent slot within a batch.
type AgentStatus struct {
	AgentID    int           `json:"agent_id"`
	PhaseID    int           `json:"phase_id"`
	Theme      string        `json:"theme"`
	State      AgentState    `json:"state"`
	Error      string        `json:"error,omitempty"`
	OutputTail string        `json:"output_tail,omitempty"`
	LogPath    string        `json:"log_path,omitempty"`
	CostUSD    float64       `json:"cost_usd"`
	Duration   time.Duration `json:"duration"`
	Merge      *merge.Result `json:"merge,omitempty"`
}

// BatchStatus is the full state of one batch.
type BatchStatus struct {
	BatchID      string               `json:"batch_id"`
	State        BatchState           `json:"state"`
	Summary      string               `json:"summary,omitempty"`
	CurrentPhase int                  `json:"current_phase"`
	TotalPhases  int                  `json:"total_phases"`
	Agents       map[int]*AgentStatus `json:"agents"`
	Verification *verify.Result       `json:"verification,omitempty"`
	FinalizeMsg  string               `json:"finalize_message,omitempty"`
	TotalCostUSD float64              `json:"total_cost_usd"`
	Error        string               `json:"error,omitempty"`
	StartedAt    time.Time            `json:"started_at"`
	FinishedAt   time.Time            `json:"finished_at,omitzero"`

	// Generation increases on every update. Asynchronous writers record the
	// generation they observed and their update is dropped if the batch has
	// moved on since.
	Generation uint64 `json:"-"`
}

// clone returns a deep copy safe to hand to readers.
func (b *BatchStatus) clone() *BatchStatus {
	out := *b
	out.Agents = make(map[int]*AgentStatus, len(b.Agents))
	for id, a := range b.Agents {
		ac := *a
		if a.Merge != nil {
			mc := *a.Merge
			mc.ConflictFiles = append([]string(nil), a.Merge.ConflictFiles...)
			ac.Merge = &mc
		}
		out.Agents[id] = &ac
	}
	if b.Verification != nil {
		vc := *b.Verification
		vc.Criteria = append([]verify.CriterionResult(nil), b.Verification.Criteria...)
		out.Verification = &vc
	}
	return &out
}
