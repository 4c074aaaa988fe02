package cryptfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"time"
)

// Command is a fully built tool invocation. Args never pass through a shell.
type Command struct {
	Path  string
	Args  []string
	Stdin []byte
}

// Result carries the outcome of a command that ran to completion.
type Result struct {
	Output   []byte
	ExitCode int
}

// Runner executes commands. Run returns an error only when the process could
// not be started or was cut short by ctx; a non-zero exit is reported in Result.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// pipeWaitDelay bounds how long Wait blocks on output pipes still held by the
// daemonized gocryptfs child after the parent has exited.
const pipeWaitDelay = 2 * time.Second

type execRunner struct{}

func (execRunner) Run(ctx context.Context, c Command) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}
	cmd.WaitDelay = pipeWaitDelay
	output, err := cmd.CombinedOutput()
	if err == nil {
		return Result{Output: output}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{Output: output}, fmt.Errorf("%s: %w", c.Path, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{Output: output, ExitCode: exitErr.ExitCode()}, nil
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return Result{}, fmt.Errorf("%s: %w: %v", c.Path, ErrToolUnavailable, err)
	}
	return Result{Output: output}, fmt.Errorf("run %s: %w", c.Path, err)
}
