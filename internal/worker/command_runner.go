package worker

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"
)

// ShellCommand is a command line run through sh -c.
type ShellCommand struct {
	Command string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// Result of a shell command. ExitCode is -1 when the process never started
// or was killed.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	OK       bool
	TimedOut bool
}

type CommandRunner interface {
	Run(ctx context.Context, cmd ShellCommand) Result
}

// ShellRunner runs commands in their own process group and kills the whole
// group when the timeout fires or ctx is cancelled.
type ShellRunner struct {
	// WaitDelay bounds how long Run waits for output pipes after the group
	// is killed.
	WaitDelay time.Duration
}

func (r ShellRunner) Run(ctx context.Context, cmd ShellCommand) Result {
	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	command := exec.CommandContext(runCtx, "sh", "-c", cmd.Command)
	if cmd.Dir != "" {
		command.Dir = cmd.Dir
	}
	if len(cmd.Env) > 0 {
		command.Env = append(os.Environ(), cmd.Env...)
	}
	configureCommandProcess(command)
	command.Cancel = func() error {
		terminateCommandProcess(command)
		return nil
	}
	command.WaitDelay = r.WaitDelay
	if command.WaitDelay <= 0 {
		command.WaitDelay = 2 * time.Second
	}

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	err := command.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil,
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		if command.Process == nil {
			res.Stderr += err.Error()
		}
	}
	if res.TimedOut || runCtx.Err() != nil {
		res.ExitCode = -1
	}
	res.OK = err == nil && !res.TimedOut && res.ExitCode == 0
	return res
}
