package plan

import (
	"fmt"
	"strings"
)

// ValidationError reports structural problems that make a plan unexecutable.
// It aborts a batch before any workspace is created.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid plan: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid plan: %d problems: %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

// Validate checks a plan for structural problems. It returns a
// *ValidationError listing every problem found, or nil for a valid plan.
func Validate(p *ExecutionPlan) error {
	var problems []string

	if len(p.Phases) == 0 {
		problems = append(problems, "plan has no phases")
	}

	seenAgents := make(map[int]bool)
	seenPhases := make(map[int]bool)
	for _, ph := range p.Phases {
		if seenPhases[ph.ID] {
			problems = append(problems, fmt.Sprintf("duplicate phase id %d", ph.ID))
		}
		seenPhases[ph.ID] = true

		if len(ph.Agents) == 0 {
			problems = append(problems, fmt.Sprintf("phase %d (%q) has no agents", ph.ID, ph.Name))
		}

		for _, a := range ph.Agents {
			if a.AgentID < 0 {
				problems = append(problems, fmt.Sprintf("phase %d: negative agent id %d", ph.ID, a.AgentID))
				continue
			}
			if seenAgents[a.AgentID] {
				problems = append(problems, fmt.Sprintf("agent id %d assigned in more than one place", a.AgentID))
			}
			seenAgents[a.AgentID] = true

			for _, idx := range a.TaskIndices {
				if idx < 0 {
					problems = append(problems, fmt.Sprintf("agent %d references negative task index %d", a.AgentID, idx))
				}
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
