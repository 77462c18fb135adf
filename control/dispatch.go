package control

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"scanner-voice/voice_config"
)

func (c *controlImpl) Dispatch(ctx context.Context, action string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}

	c.log.WithFields(logrus.Fields{
		"action": action,
		"args":   len(args),
	}).Info("control command")

	switch action {
	case ActionStart:
		startArgs, err := StartArgsFrom(args)
		if err != nil {
			return "", fmt.Errorf("%s: %w", action, err)
		}
		return c.Start(ctx, startArgs)
	case ActionStop:
		return c.Stop(ctx)
	case ActionModeSet:
		return c.SetMode(voice_config.Mode(strings.TrimSpace(cast.ToString(args["mode"]))))
	case ActionScriptSet:
		entries, err := ScriptFrom(args["commands"])
		if err != nil {
			return "", fmt.Errorf("%s: %w", action, err)
		}
		return c.SetScript(entries)
	}

	return "", fmt.Errorf("unknown action %q", action)
}

// StartArgsFrom converts loosely typed command arguments. Numbers may arrive as JSON floats
// or strings.
func StartArgsFrom(args map[string]any) (StartArgs, error) {
	out := StartArgs{
		Mode:         voice_config.Mode(strings.TrimSpace(cast.ToString(args["mode"]))),
		STTEngine:    cast.ToString(args["stt_engine"]),
		VoskModelDir: cast.ToString(args["vosk_model_dir"]),
		MicDev:       cast.ToString(args["mic_dev"]),
	}

	ints := map[string]**int{
		"conversation_timeout_sec": &out.ConversationTimeoutSec,
		"llm_timeout_sec":          &out.LLMTimeoutSec,
		"sample_rate":              &out.SampleRate,
		"channels":                 &out.Channels,
		"chunk_sec":                &out.ChunkSec,
		"tts_volume":               &out.TTSVolume,
	}
	for key, dst := range ints {
		raw, ok := args[key]
		if !ok || raw == nil {
			continue
		}
		v, err := cast.ToIntE(raw)
		if err != nil {
			return StartArgs{}, fmt.Errorf("%s: %w", key, err)
		}
		*dst = &v
	}

	strs := map[string]**string{
		"say_enter_deaf":         &out.SayEnterDeaf,
		"say_enter_name_listen":  &out.SayEnterNameListen,
		"say_enter_conversation": &out.SayEnterConversation,
		"say_enter_llm":          &out.SayEnterLLM,
	}
	for key, dst := range strs {
		raw, ok := args[key]
		if !ok || raw == nil {
			continue
		}
		v := cast.ToString(raw)
		*dst = &v
	}

	return out, nil
}

// ScriptFrom converts a "commands" argument: a list of {phrase, reply, action} objects.
func ScriptFrom(raw any) ([]voice_config.ScriptEntry, error) {
	if raw == nil {
		return []voice_config.ScriptEntry{}, nil
	}

	items, err := cast.ToSliceE(raw)
	if err != nil {
		return nil, fmt.Errorf("commands must be a list: %w", err)
	}

	entries := make([]voice_config.ScriptEntry, 0, len(items))
	for _, item := range items {
		fields, err := cast.ToStringMapE(item)
		if err != nil {
			continue
		}

		entries = append(entries, voice_config.ScriptEntry{
			Phrase: cast.ToString(fields["phrase"]),
			Reply:  cast.ToString(fields["reply"]),
			Action: cast.ToString(fields["action"]),
		})
	}

	return entries, nil
}
