package voice_output

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"scanner-voice/command"
	"scanner-voice/voice_config"
	"scanner-voice/voice_errors"
)

const (
	beepTimeout = 5 * time.Second
	sayTimeout  = 45 * time.Second
)

var DefaultBeep = BeepOptions{DurationMs: 120, FreqHz: 880, Volume: 30}

type outputImpl struct {
	runner    command.Runner
	ttsScript string
	playBin   string
	bashBin   string
}

type Config struct {
	Runner    command.Runner
	TTSScript string
	PlayBin   string
	BashBin   string
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is nil")
	}

	if cfg.TTSScript == "" {
		return nil, fmt.Errorf("ttsScript is empty")
	}

	out := &outputImpl{
		runner:    cfg.Runner,
		ttsScript: cfg.TTSScript,
		playBin:   cfg.PlayBin,
		bashBin:   cfg.BashBin,
	}

	if out.playBin == "" {
		out.playBin = "/usr/bin/play"
	}

	if out.bashBin == "" {
		out.bashBin = "/usr/bin/bash"
	}

	return out, nil
}

// SayOptionsFrom reads the TTS tuning keys of the config.
func SayOptionsFrom(cfg *voice_config.VoiceConfig) SayOptions {
	return SayOptions{
		LeadMs:    cfg.TTSLeadMs,
		Volume:    cfg.TTSVolume,
		Rate:      cfg.TTSRate,
		Amplitude: cfg.TTSAmplitude,
	}
}

func (o *outputImpl) Beep(ctx context.Context, opts BeepOptions) (string, error) {
	sec := float64(max(10, opts.DurationMs)) / 1000
	freq := max(100, opts.FreqHz)
	vol := voice_config.ClampVolume(opts.Volume)

	_, err := o.runner.Run(ctx, command.Request{
		Name: o.playBin,
		Args: []string{
			"-q", "-n",
			"synth", strconv.FormatFloat(sec, 'f', -1, 64),
			"sine", strconv.Itoa(freq),
			"vol", strconv.FormatFloat(float64(vol)/100, 'f', -1, 64),
		},
		Timeout: beepTimeout,
	})
	if err != nil {
		return "", voice_errors.Wrap(voice_errors.OutputFailure, "voice_output.beep", err)
	}

	return fmt.Sprintf("beep ok dur_ms=%d freq=%d vol=%d", opts.DurationMs, freq, vol), nil
}

func (o *outputImpl) Say(ctx context.Context, text string, opts SayOptions) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", voice_errors.New(voice_errors.OutputFailure, "voice_output.say", "missing text")
	}

	lead := max(0, opts.LeadMs)
	vol := voice_config.ClampVolume(opts.Volume)

	var env []string
	if opts.Rate > 0 {
		env = append(env, "TTS_RATE="+strconv.Itoa(opts.Rate))
	}
	if opts.Amplitude > 0 {
		env = append(env, "TTS_AMPLITUDE="+strconv.Itoa(opts.Amplitude))
	}

	_, err := o.runner.Run(ctx, command.Request{
		Name:    o.bashBin,
		Args:    []string{o.ttsScript, text, strconv.Itoa(lead), strconv.Itoa(vol)},
		Env:     env,
		Timeout: sayTimeout,
	})
	if err != nil {
		return "", voice_errors.Wrap(voice_errors.OutputFailure, "voice_output.say", err)
	}

	return fmt.Sprintf("say ok text_len=%d lead_ms=%d vol=%d", len(text), lead, vol), nil
}
