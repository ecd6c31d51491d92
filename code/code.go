// Package code provides the code execution capability used by the tool
// executor agent: a process based executor for live runs and a deterministic
// simulated executor.
package code

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// Result is the outcome of running a snippet.
type Result struct {
	Output   string        `json:"output"`
	Stderr   string        `json:"stderr,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Executor defines the interface for executing code snippets.
type Executor interface {
	// Execute runs the given code snippet. A snippet that runs but fails is
	// reported as *ExecutionError.
	Execute(ctx context.Context, code string) (Result, error)
}

// ExecutionError reports a snippet that ran and failed.
type ExecutionError struct {
	ExitCode int
	Stderr   string
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = "no output"
	}
	return fmt.Sprintf("code exited with status %d: %s", e.ExitCode, msg)
}

// ProcessOptions configure a ProcessExecutor.
type ProcessOptions struct {
	Interpreter string
	Args        []string
	Timeout     time.Duration
	Env         []string
}

// ProcessExecutor pipes code into an interpreter process over stdin, so no
// files are written.
type ProcessExecutor struct {
	opts ProcessOptions
}

// NewProcessExecutor creates an executor running `python3 -` by default.
func NewProcessExecutor(optFns ...func(o *ProcessOptions)) *ProcessExecutor {
	opts := ProcessOptions{
		Interpreter: "python3",
		Args:        []string{"-"},
		Timeout:     60 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ProcessExecutor{opts: opts}
}

// Execute implements Executor.
func (p *ProcessExecutor) Execute(ctx context.Context, code string) (Result, error) {
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, p.opts.Interpreter, p.opts.Args...)
	cmd.Stdin = strings.NewReader(code)
	if len(p.opts.Env) > 0 {
		cmd.Env = p.opts.Env
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{Output: stdout.String(), Stderr: stderr.String(), Duration: time.Since(start)}
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("execute code: %w", ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExecutionError{ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return res, fmt.Errorf("start %s: %w", p.opts.Interpreter, err)
}

var printArg = regexp.MustCompile(`print\((?:"([^"]*)"|'([^']*)')\)`)

// Simulated is a deterministic executor. Snippets containing a `raise`
// statement or a `# fail` marker fail; otherwise the string literals passed to
// print() become the output.
type Simulated struct{}

// NewSimulated creates a Simulated executor.
func NewSimulated() *Simulated { return &Simulated{} }

// Execute implements Executor.
func (Simulated) Execute(ctx context.Context, code string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	for _, line := range strings.Split(code, "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "raise ") || strings.Contains(t, "# fail") {
			stderr := "Traceback (most recent call last):\n  " + t
			return Result{Stderr: stderr, ExitCode: 1}, &ExecutionError{ExitCode: 1, Stderr: stderr}
		}
	}
	var out strings.Builder
	for _, m := range printArg.FindAllStringSubmatch(code, -1) {
		out.WriteString(m[1] + m[2])
		out.WriteString("\n")
	}
	return Result{Output: out.String()}, nil
}

var (
	_ Executor = (*ProcessExecutor)(nil)
	_ Executor = (*Simulated)(nil)
)
