package exec

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Error is returned when a command fails to start or exits non-zero.
type Error struct {
	Name   string
	Code   int // -1 when the process never exited normally
	Output string
	Err    error
}

func (e *Error) Error() string {
	out := strings.TrimSpace(e.Output)
	if len(out) > 512 {
		out = "..." + out[len(out)-512:]
	}
	if out == "" {
		return fmt.Sprintf("%s exited with code %d: %v", e.Name, e.Code, e.Err)
	}
	return fmt.Sprintf("%s exited with code %d: %v: %s", e.Name, e.Code, e.Err, out)
}

func (e *Error) Unwrap() error { return e.Err }

// ExitCode reports the exit code carried by err, or -1.
func ExitCode(err error) int {
	var execErr *Error
	if errors.As(err, &execErr) {
		return execErr.Code
	}
	return -1
}

type CommandRunner struct{}

func NewCommandRunner() *CommandRunner {
	return &CommandRunner{}
}

func (runner *CommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	output, err := cmd.CombinedOutput()
	if err == nil {
		return output, nil
	}

	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return output, &Error{Name: name, Code: code, Output: string(output), Err: err}
}
