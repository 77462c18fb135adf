package listener

import (
	"context"
	"time"

	"scanner-voice/voice_config"
)

type Interface interface {
	// ListenLoop runs iterations until ctx is cancelled.
	ListenLoop(ctx context.Context) error
	// Step runs one iteration. It never panics.
	Step(ctx context.Context)
	Mode() voice_config.Mode
}

// ConfigStore is the part of voice_config.Store the loop needs.
type ConfigStore interface {
	Load() (*voice_config.VoiceConfig, error)
	SetMode(m voice_config.Mode) error
}

// EngineStatus reports whether the recognizer has a model loaded.
type EngineStatus interface {
	Ready() bool
}

type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
