package speedtest

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// waitDelay bounds how long Run waits for the output pipes after the
// process was killed, in case a grandchild outside its group keeps them open.
const waitDelay = 2 * time.Second

// Output is what a finished process left behind.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor runs an external command to completion. A non-zero exit is
// reported through Output.ExitCode with a nil error; the error is reserved
// for processes that could not start or were killed.
type Executor interface {
	Run(ctx context.Context, name string, args ...string) (Output, error)
}

// CommandExecutor runs commands with os/exec. The command gets its own
// process group and cancellation kills the whole group, so wrapper scripts
// cannot outlive the timeout.
type CommandExecutor struct{}

func (CommandExecutor) Run(ctx context.Context, name string, args ...string) (Output, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	killGroupOnCancel(cmd)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return out, nil
	}

	out.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	if exitErr != nil {
		return out, nil
	}
	return out, err
}
