package command

import (
	"context"
	"time"
)

type Request struct {
	Name    string
	Args    []string
	Env     []string
	Timeout time.Duration
}

type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Runner executes one external program and waits for it, bounded by Request.Timeout.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}
