package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// waitDelay bounds how long Run waits for pipes held open by descendants
// after the direct child has exited or been killed.
const waitDelay = 500 * time.Millisecond

type execRunner struct{}

func New() Runner {
	return &execRunner{}
}

func (r *execRunner) Run(ctx context.Context, req Request) (Result, error) {
	if req.Name == "" {
		return Result{}, fmt.Errorf("command name is empty")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, req.Name, req.Args...)
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}
	killProcessGroup(cmd)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	res := Result{
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		ExitCode: cmd.ProcessState.ExitCode(),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		return res, fmt.Errorf("%s timed out after %s", req.Name, timeout)
	}

	// a backgrounded descendant kept the pipes open past a clean exit
	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success() {
		err = nil
	}

	if err != nil {
		if detail := firstNonEmpty(res.Stderr, res.Stdout); detail != "" {
			return res, fmt.Errorf("%s: %w: %s", req.Name, err, detail)
		}
		return res, fmt.Errorf("%s: %w", req.Name, err)
	}

	return res, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
