// Package tools is the boundary to external bioinformatics programs. The
// pipeline core never shells out directly; it hands a Command to a Runner
// and inspects the typed error that comes back.
package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Command describes one external tool invocation.
type Command struct {
	Tool    string
	Argv    []string
	Dir     string
	Env     []string
	LogPath string // combined stdout/stderr capture, empty to discard
}

// Runner executes external tool commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecError carries the tool name and exit code of a failed invocation.
type ExecError struct {
	Tool     string
	ExitCode int
	Err      error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("tools: %s exited %d: %v", e.Tool, e.ExitCode, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// ExecRunner runs commands as real subprocesses.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, cmd Command) error {
	if len(cmd.Argv) == 0 {
		return fmt.Errorf("tools: empty command for %s", cmd.Tool)
	}
	c := exec.CommandContext(ctx, cmd.Argv[0], cmd.Argv[1:]...)
	c.Dir = cmd.Dir
	if cmd.Env != nil {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	if cmd.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cmd.LogPath), 0o755); err != nil {
			return fmt.Errorf("tools: %w", err)
		}
		f, err := os.Create(cmd.LogPath)
		if err != nil {
			return fmt.Errorf("tools: %w", err)
		}
		defer f.Close()
		c.Stdout = f
		c.Stderr = f
	}
	if err := c.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExecError{Tool: cmd.Tool, ExitCode: exitErr.ExitCode(), Err: err}
		}
		return &ExecError{Tool: cmd.Tool, ExitCode: -1, Err: err}
	}
	return nil
}

// ErrorType classifies a step failure for the decision policy. Exit code
// 137 is the kernel's OOM kill; a deadline error means the runtime budget
// ran out.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var exitErr *ExecError
	if errors.As(err, &exitErr) && exitErr.ExitCode == 137 {
		return "oom"
	}
	return ""
}
