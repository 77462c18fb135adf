package service_control

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"scanner-voice/command"
)

const systemctlTimeout = 8 * time.Second

type systemdImpl struct {
	runner    command.Runner
	systemctl string
	sudo      string
	log       *logrus.Logger
}

type Config struct {
	Runner    command.Runner
	Systemctl string
	Sudo      string
	Logger    *logrus.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is nil")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	s := &systemdImpl{
		runner:    cfg.Runner,
		systemctl: cfg.Systemctl,
		sudo:      cfg.Sudo,
		log:       cfg.Logger,
	}

	if s.systemctl == "" {
		s.systemctl = "/bin/systemctl"
	}

	if s.sudo == "" {
		s.sudo = "/usr/bin/sudo"
	}

	return s, nil
}

func (s *systemdImpl) State(ctx context.Context, unit string) (string, error) {
	// is-active exits non-zero for anything but active, so the printed state is what counts
	res, err := s.runner.Run(ctx, command.Request{
		Name:    s.systemctl,
		Args:    []string{"is-active", unit},
		Timeout: systemctlTimeout,
	})

	state := strings.TrimSpace(res.Stdout)
	if state == "" {
		if err != nil {
			return "unknown", err
		}
		return "unknown", nil
	}

	return state, nil
}

func (s *systemdImpl) Start(ctx context.Context, unit string) (string, error) {
	return s.run(ctx, "start", unit)
}

func (s *systemdImpl) Stop(ctx context.Context, unit string) (string, error) {
	return s.run(ctx, "stop", unit)
}

// run tries systemctl directly first and falls back to passwordless sudo.
func (s *systemdImpl) run(ctx context.Context, args ...string) (string, error) {
	res, err := s.runner.Run(ctx, command.Request{
		Name:    s.systemctl,
		Args:    args,
		Timeout: systemctlTimeout,
	})
	if err == nil {
		return orOK(res.Stdout), nil
	}

	first := err

	res, err = s.runner.Run(ctx, command.Request{
		Name:    s.sudo,
		Args:    append([]string{"-n", s.systemctl}, args...),
		Timeout: systemctlTimeout,
	})
	if err != nil {
		return "", fmt.Errorf("systemctl failed: %w (first: %v)", err, first)
	}

	return orOK(res.Stdout), nil
}

func (s *systemdImpl) Summary(ctx context.Context, units []string) string {
	if len(units) == 0 {
		return "No services to report."
	}

	parts := make([]string, 0, len(units))
	for _, unit := range units {
		state, err := s.State(ctx, unit)
		if err != nil {
			s.log.WithError(err).WithField("unit", unit).Warn("service state unavailable")
		}
		parts = append(parts, ShortName(unit)+" "+state)
	}

	return strings.Join(parts, ", ") + "."
}

// ShortName turns "scanner-agent.service" into "agent".
func ShortName(unit string) string {
	name := strings.TrimSuffix(unit, ".service")
	name = strings.TrimPrefix(name, "scanner-")
	return name
}

func orOK(out string) string {
	if out = strings.TrimSpace(out); out != "" {
		return out
	}
	return "ok"
}
