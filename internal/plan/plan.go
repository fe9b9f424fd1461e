// Package plan defines the execution plan model consumed by the orchestrator.
//
// A plan is produced by an external planner and approved by the caller before
// execution. Plans are immutable inputs: re-planning yields a new plan rather
// than mutating an existing one.
package plan

import (
	"encoding/json"
	"fmt"
	"os"
)

// AgentAssignment is a planned unit of work: one themed agent and the task
// indices it is responsible for.
type AgentAssignment struct {
	AgentID     int    `json:"agent_id"`
	Theme       string `json:"theme"`
	TaskIndices []int  `json:"task_indices"`
	Rationale   string `json:"rationale"`
	Prompt      string `json:"agent_prompt"`
}

// Phase is an ordered stage of the plan. When Parallel is true its agents run
// concurrently in isolated workspaces; otherwise they run one at a time
// directly against the trunk.
type Phase struct {
	ID          int               `json:"phase_id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Parallel    bool              `json:"parallel"`
	Agents      []AgentAssignment `json:"agents"`
}

// ExecutionPlan is an approved work breakdown: ordered phases plus the
// success criteria checked after the last phase completes.
type ExecutionPlan struct {
	Summary         string   `json:"summary"`
	Phases          []Phase  `json:"phases"`
	SuccessCriteria []string `json:"success_criteria"`
	EstimatedAgents int      `json:"estimated_total_agents"`
	Warnings        []string `json:"warnings"`
}

// TotalAgents returns the number of agent assignments across all phases.
func (p *ExecutionPlan) TotalAgents() int {
	total := 0
	for _, ph := range p.Phases {
		total += len(ph.Agents)
	}
	return total
}

// Load reads and validates a plan from a JSON file.
func Load(path string) (*ExecutionPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var p ExecutionPlan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}

	if err := Validate(&p); err != nil {
		return nil, err
	}

	return &p, nil
}
