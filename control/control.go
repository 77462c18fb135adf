package control

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"scanner-voice/service_control"
	"scanner-voice/voice_config"
)

const (
	ActionStart     = "voice.start"
	ActionStop      = "voice.stop"
	ActionModeSet   = "voice.mode.set"
	ActionScriptSet = "voice.script.set"

	DefaultServiceName = "scanner-voice.service"
)

// DemoScript is the small script installed by "script demo".
var DemoScript = []voice_config.ScriptEntry{
	{Phrase: "How are you", Reply: "Let me check.", Action: voice_config.ActionStatusReport},
	{Phrase: "Let's talk", Reply: "Nice to talk to you.", Action: voice_config.ActionEnterLLM},
}

type ConfigPatcher interface {
	Patch(mutate func(cfg *voice_config.VoiceConfig) error) (*voice_config.VoiceConfig, error)
}

type controlImpl struct {
	store    ConfigPatcher
	services service_control.Interface
	unit     string
	log      *logrus.Logger
}

type Config struct {
	Store    ConfigPatcher
	Services service_control.Interface
	// ServiceName defaults to scanner-voice.service.
	ServiceName string
	Logger      *logrus.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Store == nil {
		return nil, fmt.Errorf("store is nil")
	}

	if cfg.Services == nil {
		return nil, fmt.Errorf("services is nil")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	unit := cfg.ServiceName
	if unit == "" {
		unit = DefaultServiceName
	}

	return &controlImpl{
		store:    cfg.Store,
		services: cfg.Services,
		unit:     unit,
		log:      cfg.Logger,
	}, nil
}

func (c *controlImpl) Start(ctx context.Context, args StartArgs) (string, error) {
	mode := args.Mode
	if !mode.Requestable() {
		mode = voice_config.ModeNameListen
	}

	_, err := c.store.Patch(func(cfg *voice_config.VoiceConfig) error {
		cfg.Mode = mode
		applyStartArgs(cfg, args)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("voice.start: %w", err)
	}

	detail, err := c.services.Start(ctx, c.unit)
	if err != nil {
		c.log.WithError(err).WithField("unit", c.unit).Error("starting voice service")

		return fmt.Sprintf("voice.start: mode=%s", mode), fmt.Errorf("voice.start: %w", err)
	}

	return fmt.Sprintf("voice.start: mode=%s %s", mode, detail), nil
}

func applyStartArgs(cfg *voice_config.VoiceConfig, args StartArgs) {
	if args.ConversationTimeoutSec != nil {
		cfg.ConversationTimeoutSec = positiveOr(*args.ConversationTimeoutSec, voice_config.DefaultConversationTimeoutSec)
	}
	if args.LLMTimeoutSec != nil {
		cfg.LLMTimeoutSec = positiveOr(*args.LLMTimeoutSec, voice_config.DefaultLLMTimeoutSec)
	}

	if s := strings.TrimSpace(args.STTEngine); s != "" {
		cfg.STTEngine = s
	}
	if s := strings.TrimSpace(args.VoskModelDir); s != "" {
		cfg.VoskModelDir = s
	}
	if s := strings.TrimSpace(args.MicDev); s != "" {
		cfg.MicDev = s
	}
	if args.SampleRate != nil {
		cfg.SampleRate = *args.SampleRate
	}
	if args.Channels != nil {
		cfg.Channels = *args.Channels
	}
	if args.ChunkSec != nil {
		cfg.ChunkSec = *args.ChunkSec
	}

	if args.TTSVolume != nil {
		cfg.TTSVolume = voice_config.ClampVolume(*args.TTSVolume)
	}
	if args.SayEnterDeaf != nil {
		cfg.SayEnterDeaf = *args.SayEnterDeaf
	}
	if args.SayEnterNameListen != nil {
		cfg.SayEnterNameListen = *args.SayEnterNameListen
	}
	if args.SayEnterConversation != nil {
		cfg.SayEnterConversation = *args.SayEnterConversation
	}
	if args.SayEnterLLM != nil {
		cfg.SayEnterLLM = *args.SayEnterLLM
	}
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func (c *controlImpl) Stop(ctx context.Context) (string, error) {
	detail, err := c.services.Stop(ctx, c.unit)
	if err != nil {
		return "", fmt.Errorf("voice.stop: %w", err)
	}

	return "voice.stop: " + detail, nil
}

// SetMode only switches between deaf and name_listen; the other modes are reached by voice.
func (c *controlImpl) SetMode(mode voice_config.Mode) (string, error) {
	if !mode.Requestable() {
		return "", fmt.Errorf("voice.mode.set: invalid mode=%s (allowed: deaf|name_listen)", mode)
	}

	_, err := c.store.Patch(func(cfg *voice_config.VoiceConfig) error {
		cfg.Mode = mode
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("voice.mode.set: %w", err)
	}

	return fmt.Sprintf("voice.mode.set: mode=%s", mode), nil
}

func (c *controlImpl) SetScript(entries []voice_config.ScriptEntry) (string, error) {
	script := voice_config.CleanScript(entries)

	_, err := c.store.Patch(func(cfg *voice_config.VoiceConfig) error {
		cfg.Script = script
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("voice.script.set: %w", err)
	}

	return fmt.Sprintf("voice.script.set: script_len=%d", len(script)), nil
}
