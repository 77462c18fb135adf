package service_control

import "context"

type Interface interface {
	// State returns the systemd unit state ("active", "inactive", "failed", ...).
	State(ctx context.Context, unit string) (string, error)
	Start(ctx context.Context, unit string) (string, error)
	Stop(ctx context.Context, unit string) (string, error)
	// Summary is a short spoken sentence such as "agent active, poller inactive."
	Summary(ctx context.Context, units []string) string
}
