package listener

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanner-voice/audio_capture"
	"scanner-voice/text_match"
	"scanner-voice/voice_config"
	"scanner-voice/voice_errors"
	"scanner-voice/voice_output"
)

const (
	testIdentity = "twin-scout-alpha"
	testSummary  = "agent active, poller inactive."
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) {
	c.now = c.now.Add(d)
}

type captureResult struct {
	transcript audio_capture.Transcript
	err        error
	panics     bool
}

func utter(text string) captureResult {
	return captureResult{transcript: audio_capture.Transcript{Raw: text, Normalized: text_match.Normalize(text)}}
}

// scriptedCapture returns queued results and advances the clock by one chunk per call.
// An empty queue yields silence.
type scriptedCapture struct {
	clock *fakeClock
	queue []captureResult
	calls int
}

func (s *scriptedCapture) CaptureAndTranscribe(_ context.Context, cfg *voice_config.VoiceConfig) (audio_capture.Transcript, error) {
	s.calls++
	s.clock.now = s.clock.now.Add(time.Duration(cfg.ChunkSec) * time.Second)

	if len(s.queue) == 0 {
		return audio_capture.Transcript{}, nil
	}

	next := s.queue[0]
	s.queue = s.queue[1:]

	if next.panics {
		panic("recognizer exploded")
	}

	return next.transcript, next.err
}

type fakeOutput struct {
	said  []string
	leads []int
	beeps int
}

func (f *fakeOutput) Beep(context.Context, voice_output.BeepOptions) (string, error) {
	f.beeps++
	return "beep ok", nil
}

func (f *fakeOutput) Say(_ context.Context, text string, opts voice_output.SayOptions) (string, error) {
	f.said = append(f.said, text)
	f.leads = append(f.leads, opts.LeadMs)
	return "say ok", nil
}

type fakeLLM struct {
	calls []string
	reply string
	err   error
}

func (f *fakeLLM) Exchange(_ context.Context, _ voice_config.LLMConfig, userText string) (string, error) {
	f.calls = append(f.calls, userText)
	return f.reply, f.err
}

type fakeServices struct {
	units []string
}

func (f *fakeServices) State(context.Context, string) (string, error) { return "active", nil }
func (f *fakeServices) Start(context.Context, string) (string, error) { return "ok", nil }
func (f *fakeServices) Stop(context.Context, string) (string, error)  { return "ok", nil }

func (f *fakeServices) Summary(_ context.Context, units []string) string {
	f.units = units
	return testSummary
}

type staticEngine bool

func (e staticEngine) Ready() bool {
	return bool(e)
}

type harness struct {
	voice    *voiceImpl
	store    *voice_config.Store
	clock    *fakeClock
	capture  *scriptedCapture
	output   *fakeOutput
	llm      *fakeLLM
	services *fakeServices
	metrics  *Metrics
	hook     *test.Hook
}

func newHarness(t *testing.T, mode voice_config.Mode, mutate func(cfg *voice_config.VoiceConfig)) *harness {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	store, err := voice_config.New(&voice_config.Config{
		FileSys: afero.NewMemMapFs(),
		Path:    "/home/pi/_RunScanner/voice/voice_config.json",
		Logger:  logger,
	})
	require.NoError(t, err)

	cfg := store.Defaults()
	cfg.Mode = mode
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, store.Save(cfg))

	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	h := &harness{
		store:    store,
		clock:    clock,
		capture:  &scriptedCapture{clock: clock},
		output:   &fakeOutput{},
		llm:      &fakeLLM{reply: "Hello there."},
		services: &fakeServices{},
		metrics:  NewMetrics(prometheus.NewRegistry()),
		hook:     hook,
	}

	v, err := New(&Config{
		Store:     store,
		Capture:   h.capture,
		Output:    h.output,
		LLMClient: h.llm,
		Services:  h.services,
		Engine:    staticEngine(true),
		Identity:  testIdentity,
		Logger:    logger,
		Clock:     clock,
		Metrics:   h.metrics,
	})
	require.NoError(t, err)

	h.voice = v.(*voiceImpl)

	return h
}

func (h *harness) queue(results ...captureResult) {
	h.capture.queue = append(h.capture.queue, results...)
}

func (h *harness) persistedMode(t *testing.T) voice_config.Mode {
	t.Helper()

	cfg, err := h.store.Load()
	require.NoError(t, err)

	return cfg.Mode
}

func (h *harness) lastSaid() string {
	if len(h.output.said) == 0 {
		return ""
	}
	return h.output.said[len(h.output.said)-1]
}

func demoScript(cfg *voice_config.VoiceConfig) {
	cfg.Script = []voice_config.ScriptEntry{
		{Phrase: "how are you", Reply: "I am fine", Action: voice_config.ActionStatusReport},
		{Phrase: "lets talk", Action: voice_config.ActionEnterLLM},
	}
}

// toConversation wakes the unit from a fresh name_listen start.
// flakyStore fails the first SetMode calls.
type flakyStore struct {
	ConfigStore
	failures int
	calls    int
}

func (s *flakyStore) SetMode(m voice_config.Mode) error {
	s.calls++
	if s.calls <= s.failures {
		return errors.New("disk full")
	}
	return s.ConfigStore.SetMode(m)
}

func (h *harness) toConversation(t *testing.T) {
	t.Helper()

	h.queue(utter("twin scout alpha"))
	h.voice.Step(context.Background())
	require.Equal(t, voice_config.ModeConversation, h.voice.Mode())
}

func (h *harness) toLLM(t *testing.T) {
	t.Helper()

	h.toConversation(t)
	h.queue(utter("let's talk"))
	h.voice.Step(context.Background())
	require.Equal(t, voice_config.ModeLLMDummy, h.voice.Mode())
}

func TestNew(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := New(nil)
		assert.EqualError(t, err, "config is nil")
	})

	t.Run("missing store", func(t *testing.T) {
		_, err := New(&Config{})
		assert.EqualError(t, err, "store is nil")
	})
}

func TestStartup(t *testing.T) {
	t.Run("leftover llm_dummy resets to name_listen", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeLLMDummy, nil)

		h.voice.Step(context.Background())

		assert.Equal(t, voice_config.ModeNameListen, h.voice.Mode())
		assert.Equal(t, voice_config.ModeNameListen, h.persistedMode(t))
		assert.Equal(t, []string{"Voice control ready."}, h.output.said)
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Transitions.WithLabelValues("llm_dummy", "name_listen", reasonRestart)))
	})

	t.Run("leftover conversation resets to name_listen", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeConversation, nil)

		h.voice.Step(context.Background())

		assert.Equal(t, voice_config.ModeNameListen, h.voice.Mode())
		assert.Equal(t, voice_config.ModeNameListen, h.persistedMode(t))
	})

	t.Run("deaf stays silent and never records", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeDeaf, nil)

		for i := 0; i < 5; i++ {
			h.voice.Step(context.Background())
		}

		assert.Equal(t, voice_config.ModeDeaf, h.voice.Mode())
		assert.Empty(t, h.output.said)
		assert.Zero(t, h.capture.calls)
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Mode.WithLabelValues("deaf")))
	})
}

func TestNameListen(t *testing.T) {
	t.Run("wake name enters conversation", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeNameListen, nil)

		h.toConversation(t)

		assert.Equal(t, voice_config.ModeConversation, h.persistedMode(t))
		assert.Equal(t, "Yes, I am listening.", h.lastSaid())
		assert.Equal(t, 1, h.output.beeps)
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Matches.WithLabelValues("name")))
	})

	t.Run("another unit's callsign is ignored", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeNameListen, nil)
		h.queue(utter("twin scout bravo"))

		h.voice.Step(context.Background())

		assert.Equal(t, voice_config.ModeNameListen, h.voice.Mode())
		assert.Zero(t, h.output.beeps)
	})

	t.Run("no beep when disabled", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeNameListen, func(cfg *voice_config.VoiceConfig) {
			cfg.BeepOnWake = false
		})

		h.toConversation(t)

		assert.Zero(t, h.output.beeps)
	})

	t.Run("test_wake_always accepts any utterance", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeNameListen, func(cfg *voice_config.VoiceConfig) {
			cfg.TestWakeAlways = true
		})
		h.queue(utter("completely unrelated words"))

		h.voice.Step(context.Background())

		assert.Equal(t, voice_config.ModeConversation, h.voice.Mode())
	})

	t.Run("short utterances are ignored", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeNameListen, func(cfg *voice_config.VoiceConfig) {
			cfg.TestWakeAlways = true
		})
		h.queue(utter("a"))

		h.voice.Step(context.Background())

		assert.Equal(t, voice_config.ModeNameListen, h.voice.Mode())
		assert.Zero(t, testutil.ToFloat64(h.metrics.Utterances))
	})
}

func TestConversation(t *testing.T) {
	t.Run("status report speaks reply then summary", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeNameListen, demoScript)
		h.toConversation(t)
		h.output.said = nil

		h.queue(utter("How are you doing?"))
		h.voice.Step(context.Background())

		assert.Equal(t, voice_config.ModeConversation, h.voice.Mode())
		assert.Equal(t, []string{"I am fine", "Status report.", testSummary}, h.output.said)
		assert.Equal(t, []string{"scanner-agent.service", "scanner-poller.service"}, h.services.units)
	})

	t.Run("enter.llm switches to llm_dummy", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeNameListen, demoScript)

		h.toLLM(t)

		assert.Equal(t, voice_config.ModeLLMDummy, h.persistedMode(t))
		assert.Equal(t, "Okay, let's talk.", h.lastSaid())
		assert.Empty(t, h.llm.calls)
	})

	t.Run("first matching entry wins", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeNameListen, func(cfg *voice_config.VoiceConfig) {
			cfg.Script = []voice_config.ScriptEntry{
				{Phrase: "hello", Reply: "first"},
				{Phrase: "hello there", Reply: "second"},
			}
		})
		h.toConversation(t)
		h.output.said = nil

		h.queue(utter("hello there"))
		h.voice.Step(context.Background())

		assert.Equal(t, []string{"first"}, h.output.said)
	})

	t.Run("unmatched utterance keeps the conversation alive", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeNameListen, func(cfg *voice_config.VoiceConfig) {
			demoScript(cfg)
			cfg.ConversationTimeoutSec = 5
		})
		h.toConversation(t)

		for i := 0; i < 6; i++ {
			h.queue(utter("nothing scripted here"))
			h.voice.Step(context.Background())
		}

		assert.Equal(t, voice_config.ModeConversation, h.voice.Mode())
	})

	t.Run("silence times out to name_listen", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeNameListen, func(cfg *voice_config.VoiceConfig) {
			cfg.ConversationTimeoutSec = 5
		})
		h.toConversation(t)

		for i := 0; i < 5; i++ {
			h.voice.Step(context.Background())
		}

		assert.Equal(t, voice_config.ModeNameListen, h.voice.Mode())
		assert.Equal(t, "Voice control ready.", h.lastSaid())
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Transitions.WithLabelValues("conversation", "name_listen", reasonTimeout)))
	})
}

func TestLLMDummy(t *testing.T) {
	t.Run("reply is spoken and raw text forwarded", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeNameListen, demoScript)
		h.toLLM(t)

		h.queue(utter("What's the weather?"))
		h.voice.Step(context.Background())

		assert.Equal(t, []string{"What's the weather?"}, h.llm.calls)
		assert.Equal(t, "Hello there.", h.lastSaid())
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.LLMExchanges.WithLabelValues("ok")))
	})

	t.Run("failure speaks an apology and stays", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeNameListen, demoScript)
		h.toLLM(t)
		h.llm.err = voice_errors.New(voice_errors.LLMTransportError, "llm.exchange", "status 500")

		h.queue(utter("tell me a story"))
		h.voice.Step(context.Background())

		assert.Equal(t, voice_config.ModeLLMDummy, h.voice.Mode())
		assert.Equal(t, llmApology, h.lastSaid())
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.LLMExchanges.WithLabelValues("LLMTransportError")))
	})

	t.Run("recurring activity never times out", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeNameListen, func(cfg *voice_config.VoiceConfig) {
			demoScript(cfg)
			cfg.LLMTimeoutSec = 10
		})
		h.toLLM(t)

		// one utterance every fourth chunk: roughly 8 s apart with 2 s chunks
		for i := 0; i < 60; i++ {
			if i%4 == 0 {
				h.queue(utter("still here"))
			}
			h.voice.Step(context.Background())
			require.Equal(t, voice_config.ModeLLMDummy, h.voice.Mode(), "iteration %d", i)
		}
	})

	t.Run("silence times out within one chunk and skips the llm", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeNameListen, func(cfg *voice_config.VoiceConfig) {
			demoScript(cfg)
			cfg.LLMTimeoutSec = 10
		})
		h.toLLM(t)
		entered := h.clock.now
		chunk := 2 * time.Second

		var transitionedAt time.Time
		for i := 0; i < 20 && h.voice.Mode() == voice_config.ModeLLMDummy; i++ {
			before := h.clock.now
			calls := h.capture.calls

			h.voice.Step(context.Background())

			if h.voice.Mode() != voice_config.ModeLLMDummy {
				transitionedAt = before
				assert.Equal(t, calls, h.capture.calls, "no capture in the timeout iteration")
			}
		}

		require.False(t, transitionedAt.IsZero())
		elapsed := transitionedAt.Sub(entered)
		assert.GreaterOrEqual(t, elapsed, 10*time.Second)
		assert.Less(t, elapsed, 10*time.Second+chunk+time.Second)
		assert.Equal(t, voice_config.ModeNameListen, h.persistedMode(t))
		assert.Empty(t, h.llm.calls)

		h.queue(utter("are you there"))
		h.voice.Step(context.Background())
		assert.Empty(t, h.llm.calls)
	})
}

func TestExternalRequests(t *testing.T) {
	t.Run("deaf is honoured from conversation", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeNameListen, nil)
		h.toConversation(t)
		calls := h.capture.calls

		require.NoError(t, h.store.SetMode(voice_config.ModeDeaf))
		h.voice.Step(context.Background())

		assert.Equal(t, voice_config.ModeDeaf, h.voice.Mode())
		assert.Equal(t, "Voice control off.", h.lastSaid())
		assert.Equal(t, deafLeadMs, h.output.leads[len(h.output.leads)-1])
		assert.Equal(t, calls, h.capture.calls)
	})

	t.Run("name_listen wakes a deaf unit", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeDeaf, nil)
		h.voice.Step(context.Background())

		require.NoError(t, h.store.SetMode(voice_config.ModeNameListen))
		h.voice.Step(context.Background())

		assert.Equal(t, voice_config.ModeNameListen, h.voice.Mode())
		assert.Equal(t, []string{"Voice control ready."}, h.output.said)
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Transitions.WithLabelValues("deaf", "name_listen", reasonExternal)))
	})

	t.Run("a failed persist is retried, not read back as a request", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeNameListen, nil)
		flaky := &flakyStore{ConfigStore: h.store, failures: 1}
		h.voice.store = flaky

		h.toConversation(t)
		require.Equal(t, voice_config.ModeNameListen, h.persistedMode(t))

		h.queue(captureResult{})
		h.voice.Step(context.Background())

		assert.Equal(t, voice_config.ModeConversation, h.voice.Mode())
		assert.Equal(t, voice_config.ModeConversation, h.persistedMode(t))
		assert.Equal(t, 2, flaky.calls)
		assert.Zero(t, testutil.ToFloat64(h.metrics.Transitions.WithLabelValues("conversation", "name_listen", reasonExternal)))
	})

	t.Run("internal modes are ignored and overwritten", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeNameListen, nil)
		h.voice.Step(context.Background())

		require.NoError(t, h.store.SetMode(voice_config.ModeLLMDummy))
		h.voice.Step(context.Background())

		assert.Equal(t, voice_config.ModeNameListen, h.voice.Mode())
		assert.Equal(t, voice_config.ModeNameListen, h.persistedMode(t))
	})
}

func TestCaptureErrors(t *testing.T) {
	t.Run("engine unavailable drops to name_listen", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeNameListen, nil)
		h.toConversation(t)

		h.queue(captureResult{err: voice_errors.New(voice_errors.EngineUnavailable, "speech_to_text.recognize", "model missing")})
		h.voice.Step(context.Background())

		assert.Equal(t, voice_config.ModeNameListen, h.voice.Mode())
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CaptureFailures.WithLabelValues("EngineUnavailable")))
	})

	t.Run("capture failure keeps the mode and backs off", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeNameListen, nil)
		h.toConversation(t)

		h.queue(captureResult{err: voice_errors.New(voice_errors.CaptureFailure, "audio_capture.record", "chunk too small (44 bytes)")})
		before := h.clock.now
		h.voice.Step(context.Background())

		assert.Equal(t, voice_config.ModeConversation, h.voice.Mode())
		assert.Equal(t, 2*time.Second+errorBackoff, h.clock.now.Sub(before))
	})

	t.Run("panic is recovered into name_listen", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeNameListen, nil)
		h.toConversation(t)

		h.queue(captureResult{panics: true})
		assert.NotPanics(t, func() { h.voice.Step(context.Background()) })

		assert.Equal(t, voice_config.ModeNameListen, h.voice.Mode())
		assert.Equal(t, voice_config.ModeNameListen, h.persistedMode(t))
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Panics))

		var found bool
		for _, entry := range h.hook.AllEntries() {
			if entry.Message == "voice loop iteration failed" {
				found = true
				assert.Equal(t, "recognizer exploded", entry.Data["error"])
				assert.Equal(t, "string", entry.Data["type"])
			}
		}
		assert.True(t, found)
	})

	t.Run("errors after cancellation are not counted", func(t *testing.T) {
		h := newHarness(t, voice_config.ModeNameListen, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		h.queue(captureResult{err: voice_errors.Wrap(voice_errors.CaptureFailure, "audio_capture.record", context.Canceled)})
		h.voice.Step(ctx)

		assert.Zero(t, testutil.ToFloat64(h.metrics.CaptureFailures.WithLabelValues("CaptureFailure")))
	})
}

func TestTransitionsAreDeterministic(t *testing.T) {
	run := func() []voice_config.Mode {
		h := newHarness(t, voice_config.ModeNameListen, func(cfg *voice_config.VoiceConfig) {
			demoScript(cfg)
			cfg.LLMTimeoutSec = 4
		})
		h.queue(
			utter("twin scout alpha"),
			utter("how are you"),
			utter("lets talk"),
			utter("what time is it"),
			captureResult{},
			captureResult{},
			captureResult{},
			utter("twin scout alpha"),
			captureResult{err: errors.New("boom")},
		)

		var modes []voice_config.Mode
		for i := 0; i < 12; i++ {
			h.voice.Step(context.Background())
			modes = append(modes, h.voice.Mode())
		}
		return modes
	}

	first := run()
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, run())
	}
	assert.Contains(t, first, voice_config.ModeLLMDummy)
}

func TestHeartbeat(t *testing.T) {
	h := newHarness(t, voice_config.ModeNameListen, demoScript)
	h.voice.Step(context.Background())
	h.hook.Reset()

	h.voice.heartbeat()

	entry := h.hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "heartbeat", entry.Message)
	assert.Equal(t, voice_config.ModeNameListen, entry.Data["mode"])
	assert.Equal(t, 2, entry.Data["script_len"])
	assert.Equal(t, true, entry.Data["engine_ready"])
}

func TestListenLoop(t *testing.T) {
	h := newHarness(t, voice_config.ModeNameListen, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, h.voice.ListenLoop(ctx))
	assert.Zero(t, h.capture.calls)
}
