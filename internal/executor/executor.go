// Package executor runs agent subprocesses inside workspaces.
//
// The orchestrator treats an agent as an opaque command: it gets a prompt
// and a working directory, writes whatever output it wants, and exits zero
// on success. Provider differences (CLI name, flags, usage reporting) are
// confined to this package.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// TailBytes is how much trailing output is kept on a Result for status
// display. Full output always goes to the log file.
const TailBytes = 4 * 1024

// Request describes one agent invocation.
type Request struct {
	BatchID string
	AgentID int
	Prompt  string
	Dir     string
	LogPath string
}

// Result is the outcome of one agent invocation. Timeouts and cancellation
// are reported as a failed Result, not as a panic or a lost slot.
type Result struct {
	Success    bool
	ExitCode   int
	Duration   time.Duration
	OutputTail string
	CostUSD    float64
	Err        error
}

// Executor runs one agent to completion.
type Executor interface {
	Execute(ctx context.Context, req Request) Result
}

// Func adapts a function to the Executor interface. Used by tests.
type Func func(ctx context.Context, req Request) Result

func (f Func) Execute(ctx context.Context, req Request) Result { return f(ctx, req) }

// CommandExecutor runs agents as CLI subprocesses.
type CommandExecutor struct {
	// Bin is the executable name, resolved via PATH.
	Bin string
	// Args are passed before the prompt.
	Args []string
	// PromptFlag, when set, precedes the prompt argument.
	PromptFlag string
	// Timeout bounds one invocation. Zero means no limit beyond ctx.
	Timeout time.Duration
}

// New builds an Executor for the configured provider. command is only
// consulted by the "command" provider and holds the full command line minus
// the prompt, which is appended as the final argument.
func New(provider, command string, timeout time.Duration) (Executor, error) {
	switch provider {
	case "", "claude":
		return &CommandExecutor{
			Bin:        "claude",
			Args:       []string{"--output-format", "json"},
			PromptFlag: "-p",
			Timeout:    timeout,
		}, nil
	case "gemini":
		return &CommandExecutor{
			Bin:        "gemini",
			PromptFlag: "-p",
			Timeout:    timeout,
		}, nil
	case "command":
		fields := strings.Fields(command)
		if len(fields) == 0 {
			return nil, fmt.Errorf("provider %q requires a non-empty command", provider)
		}
		return &CommandExecutor{Bin: fields[0], Args: fields[1:], Timeout: timeout}, nil
	default:
		return nil, fmt.Errorf("unknown executor provider %q", provider)
	}
}

// Execute runs the agent command in req.Dir, streaming combined output to
// req.LogPath.
func (e *CommandExecutor) Execute(ctx context.Context, req Request) Result {
	start := time.Now()

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	args := append([]string{}, e.Args...)
	if e.PromptFlag != "" {
		args = append(args, e.PromptFlag)
	}
	args = append(args, req.Prompt)

	cmd := exec.CommandContext(ctx, e.Bin, args...)
	cmd.Dir = req.Dir

	logFile, err := openLog(req.LogPath)
	if err != nil {
		return Result{Err: err, Duration: time.Since(start)}
	}
	defer logFile.Close()
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	runErr := cmd.Run()
	res := Result{
		Duration:   time.Since(start),
		OutputTail: TailFile(req.LogPath, TailBytes),
	}
	res.CostUSD = parseCost(res.OutputTail)

	if runErr == nil {
		res.Success = true
		return res
	}

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		res.Err = fmt.Errorf("agent %d timed out after %s", req.AgentID, e.Timeout)
	case ctx.Err() == context.Canceled:
		res.Err = fmt.Errorf("agent %d cancelled", req.AgentID)
	default:
		res.Err = fmt.Errorf("agent %d exited with error: %w", req.AgentID, runErr)
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	} else {
		res.ExitCode = -1
	}
	return res
}

func openLog(path string) (*os.File, error) {
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	return f, nil
}

// TailFile returns up to n trailing bytes of the file at path, or "" if it
// cannot be read.
func TailFile(path string, n int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	if info.Size() > n {
		if _, err := f.Seek(-n, io.SeekEnd); err != nil {
			return ""
		}
	}

	buf := make([]byte, n)
	read, _ := f.Read(buf)
	return string(buf[:read])
}
