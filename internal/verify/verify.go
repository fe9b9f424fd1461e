// Package verify checks success criteria after a batch completes.
//
// Verification is advisory: its result is recorded on the batch status but
// never blocks completion or undoes merges.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tomharrigan/phalanx/internal/executor"
)

// CriterionResult is the evaluator's verdict on one success criterion.
type CriterionResult struct {
	Criterion string `json:"criterion"`
	Passed    bool   `json:"passed"`
	Evidence  string `json:"evidence,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Result is the aggregated verification outcome for a batch.
type Result struct {
	OverallPass bool              `json:"overall_pass"`
	Criteria    []CriterionResult `json:"criteria"`
	Summary     string            `json:"summary,omitempty"`
}

// Evaluator judges success criteria against the merged trunk. Implementations
// are external collaborators; the aggregation below never trusts them to be
// complete or well-formed.
type Evaluator interface {
	Evaluate(ctx context.Context, criteria []string, workSummary string) ([]CriterionResult, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface. Used by tests.
type EvaluatorFunc func(ctx context.Context, criteria []string, workSummary string) ([]CriterionResult, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, criteria []string, workSummary string) ([]CriterionResult, error) {
	return f(ctx, criteria, workSummary)
}

// Run evaluates criteria and folds the verdicts into a Result. Every
// requested criterion appears exactly once in the output: verdicts the
// evaluator did not return come back failed with an explanatory note, and an
// evaluator error fails all criteria. OverallPass is computed here as the
// conjunction of the per-criterion verdicts, never taken from the evaluator.
func Run(ctx context.Context, ev Evaluator, criteria []string, workSummary string) Result {
	if len(criteria) == 0 {
		return Result{OverallPass: true, Summary: "no success criteria defined"}
	}

	verdicts, err := ev.Evaluate(ctx, criteria, workSummary)
	if err != nil {
		res := Result{Summary: fmt.Sprintf("evaluation failed: %v", err)}
		for _, c := range criteria {
			res.Criteria = append(res.Criteria, CriterionResult{
				Criterion: c,
				Notes:     "evaluator error",
			})
		}
		return res
	}

	byCriterion := make(map[string]CriterionResult, len(verdicts))
	for _, v := range verdicts {
		byCriterion[v.Criterion] = v
	}

	res := Result{OverallPass: true}
	for _, c := range criteria {
		v, ok := byCriterion[c]
		if !ok {
			v = CriterionResult{Criterion: c, Notes: "no verdict returned by evaluator"}
		}
		if !v.Passed {
			res.OverallPass = false
		}
		res.Criteria = append(res.Criteria, v)
	}

	passed := 0
	for _, v := range res.Criteria {
		if v.Passed {
			passed++
		}
	}
	res.Summary = fmt.Sprintf("%d/%d criteria passed", passed, len(res.Criteria))
	return res
}

// CommandEvaluator asks an agent subprocess for verdicts and parses the JSON
// array it is instructed to emit.
type CommandEvaluator struct {
	Exec    executor.Executor
	Dir     string
	LogPath string
}

func (e *CommandEvaluator) Evaluate(ctx context.Context, criteria []string, workSummary string) ([]CriterionResult, error) {
	res := e.Exec.Execute(ctx, executor.Request{
		Prompt:  buildPrompt(criteria, workSummary),
		Dir:     e.Dir,
		LogPath: e.LogPath,
	})
	if !res.Success {
		if res.Err != nil {
			return nil, res.Err
		}
		return nil, fmt.Errorf("evaluator exited with code %d", res.ExitCode)
	}
	return parseVerdicts(res.OutputTail)
}

func buildPrompt(criteria []string, workSummary string) string {
	var b strings.Builder
	b.WriteString("Verify the following success criteria against the current repository state.\n")
	if workSummary != "" {
		b.WriteString("Work performed: ")
		b.WriteString(workSummary)
		b.WriteString("\n")
	}
	b.WriteString("Criteria:\n")
	for i, c := range criteria {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c)
	}
	b.WriteString("Respond with only a JSON array of objects with keys " +
		`"criterion", "passed", "evidence", "notes".`)
	return b.String()
}

// parseVerdicts extracts the first JSON array found in raw evaluator output.
// Agent CLIs wrap their answer in prose and usage records, so everything
// outside the brackets is ignored.
func parseVerdicts(output string) ([]CriterionResult, error) {
	start := strings.Index(output, "[")
	end := strings.LastIndex(output, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in evaluator output")
	}

	var verdicts []CriterionResult
	if err := json.Unmarshal([]byte(output[start:end+1]), &verdicts); err != nil {
		return nil, fmt.Errorf("malformed evaluator output: %w", err)
	}
	return verdicts, nil
}
