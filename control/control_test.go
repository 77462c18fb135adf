package control

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanner-voice/command"
	"scanner-voice/service_control"
	"scanner-voice/voice_config"
)

type fixture struct {
	control Interface
	store   *voice_config.Store
	runner  *command.Fake
}

func newFixture(t *testing.T, handler func(req command.Request) (command.Result, error)) *fixture {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := voice_config.New(&voice_config.Config{
		FileSys: afero.NewMemMapFs(),
		Path:    "/home/pi/_RunScanner/voice/voice_config.json",
		Logger:  logger,
	})
	require.NoError(t, err)

	runner := &command.Fake{Handler: handler}
	services, err := service_control.New(&service_control.Config{Runner: runner, Logger: logger})
	require.NoError(t, err)

	c, err := New(&Config{Store: store, Services: services, Logger: logger})
	require.NoError(t, err)

	return &fixture{control: c, store: store, runner: runner}
}

func (f *fixture) load(t *testing.T) *voice_config.VoiceConfig {
	t.Helper()

	cfg, err := f.store.Load()
	require.NoError(t, err)
	return cfg
}

func intPtr(v int) *int {
	return &v
}

func strPtr(s string) *string {
	return &s
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.EqualError(t, err, "config is nil")

	_, err = New(&Config{})
	assert.EqualError(t, err, "store is nil")
}

func TestStart(t *testing.T) {
	t.Run("applies provided settings and starts the unit", func(t *testing.T) {
		f := newFixture(t, nil)

		detail, err := f.control.Start(context.Background(), StartArgs{
			Mode:                   voice_config.ModeDeaf,
			ConversationTimeoutSec: intPtr(45),
			MicDev:                 "plughw:2,0",
			ChunkSec:               intPtr(3),
			TTSVolume:              intPtr(150),
			SayEnterLLM:            strPtr("Chat mode."),
		})
		require.NoError(t, err)
		assert.Equal(t, "voice.start: mode=deaf ok", detail)

		cfg := f.load(t)
		assert.Equal(t, voice_config.ModeDeaf, cfg.Mode)
		assert.Equal(t, 45, cfg.ConversationTimeoutSec)
		assert.Equal(t, voice_config.DefaultLLMTimeoutSec, cfg.LLMTimeoutSec)
		assert.Equal(t, "plughw:2,0", cfg.MicDev)
		assert.Equal(t, 3, cfg.ChunkSec)
		assert.Equal(t, 100, cfg.TTSVolume)
		assert.Equal(t, "Chat mode.", cfg.SayEnterLLM)
		assert.Equal(t, "Voice control ready.", cfg.SayEnterNameListen)

		reqs := f.runner.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, []string{"start", DefaultServiceName}, reqs[0].Args)
	})

	t.Run("internal modes start in name_listen", func(t *testing.T) {
		f := newFixture(t, nil)

		detail, err := f.control.Start(context.Background(), StartArgs{Mode: voice_config.ModeLLMDummy})
		require.NoError(t, err)
		assert.Contains(t, detail, "mode=name_listen")
		assert.Equal(t, voice_config.ModeNameListen, f.load(t).Mode)
	})

	t.Run("non-positive timeout takes the default", func(t *testing.T) {
		f := newFixture(t, nil)

		_, err := f.control.Start(context.Background(), StartArgs{LLMTimeoutSec: intPtr(0)})
		require.NoError(t, err)
		assert.Equal(t, voice_config.DefaultLLMTimeoutSec, f.load(t).LLMTimeoutSec)
	})

	t.Run("systemctl failure is reported after the patch", func(t *testing.T) {
		f := newFixture(t, func(command.Request) (command.Result, error) {
			return command.Result{ExitCode: 1}, errors.New("exit status 1")
		})

		_, err := f.control.Start(context.Background(), StartArgs{Mode: voice_config.ModeNameListen})
		assert.Error(t, err)
		assert.Len(t, f.runner.Requests(), 2)
		assert.Equal(t, voice_config.ModeNameListen, f.load(t).Mode)
	})
}

func TestStop(t *testing.T) {
	f := newFixture(t, nil)

	detail, err := f.control.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "voice.stop: ok", detail)
	assert.Equal(t, []string{"stop", DefaultServiceName}, f.runner.Requests()[0].Args)
}

func TestSetMode(t *testing.T) {
	f := newFixture(t, nil)

	detail, err := f.control.SetMode(voice_config.ModeNameListen)
	require.NoError(t, err)
	assert.Equal(t, "voice.mode.set: mode=name_listen", detail)
	assert.Equal(t, voice_config.ModeNameListen, f.load(t).Mode)

	for _, mode := range []voice_config.Mode{voice_config.ModeConversation, voice_config.ModeLLMDummy, "bogus"} {
		_, err := f.control.SetMode(mode)
		assert.Error(t, err, mode)
	}
	assert.Equal(t, voice_config.ModeNameListen, f.load(t).Mode)
}

func TestSetScript(t *testing.T) {
	f := newFixture(t, nil)

	detail, err := f.control.SetScript([]voice_config.ScriptEntry{
		{Phrase: " hello ", Reply: "hi"},
		{Phrase: "", Reply: "dropped"},
		{Phrase: "status", Action: "reboot"},
	})
	require.NoError(t, err)
	assert.Equal(t, "voice.script.set: script_len=2", detail)

	assert.Equal(t, []voice_config.ScriptEntry{
		{Phrase: "hello", Reply: "hi"},
		{Phrase: "status"},
	}, f.load(t).Script)
}

func TestDispatch(t *testing.T) {
	t.Run("voice.start converts loose args", func(t *testing.T) {
		f := newFixture(t, nil)

		_, err := f.control.Dispatch(context.Background(), ActionStart, map[string]any{
			"mode":                     "name_listen",
			"conversation_timeout_sec": float64(25),
			"llm_timeout_sec":          "40",
			"say_enter_deaf":           "Going quiet.",
		})
		require.NoError(t, err)

		cfg := f.load(t)
		assert.Equal(t, 25, cfg.ConversationTimeoutSec)
		assert.Equal(t, 40, cfg.LLMTimeoutSec)
		assert.Equal(t, "Going quiet.", cfg.SayEnterDeaf)
	})

	t.Run("voice.start rejects unconvertible numbers", func(t *testing.T) {
		f := newFixture(t, nil)

		_, err := f.control.Dispatch(context.Background(), ActionStart, map[string]any{"chunk_sec": "two"})
		assert.Error(t, err)
		assert.Empty(t, f.runner.Requests())
	})

	t.Run("voice.mode.set", func(t *testing.T) {
		f := newFixture(t, nil)

		_, err := f.control.Dispatch(context.Background(), ActionModeSet, map[string]any{"mode": "name_listen"})
		require.NoError(t, err)

		_, err = f.control.Dispatch(context.Background(), ActionModeSet, map[string]any{})
		assert.Error(t, err)
	})

	t.Run("voice.script.set", func(t *testing.T) {
		f := newFixture(t, nil)

		detail, err := f.control.Dispatch(context.Background(), ActionScriptSet, map[string]any{
			"commands": []any{
				map[string]any{"phrase": "how are you", "reply": "Let me check.", "action": "status.report"},
				map[string]any{"reply": "no phrase"},
				"not an object",
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "voice.script.set: script_len=1", detail)
		assert.Equal(t, voice_config.ActionStatusReport, f.load(t).Script[0].Action)
	})

	t.Run("voice.stop", func(t *testing.T) {
		f := newFixture(t, nil)

		_, err := f.control.Dispatch(context.Background(), ActionStop, nil)
		require.NoError(t, err)
	})

	t.Run("unknown action", func(t *testing.T) {
		f := newFixture(t, nil)

		_, err := f.control.Dispatch(context.Background(), "voice.explode", nil)
		assert.EqualError(t, err, `unknown action "voice.explode"`)
	})
}
