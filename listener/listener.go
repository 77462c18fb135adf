package listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"scanner-voice/audio_capture"
	"scanner-voice/clients/llm"
	"scanner-voice/service_control"
	"scanner-voice/text_match"
	"scanner-voice/voice_config"
	"scanner-voice/voice_errors"
	"scanner-voice/voice_output"
)

const (
	deafIdle       = 500 * time.Millisecond
	errorBackoff   = 200 * time.Millisecond
	shortIdle      = 50 * time.Millisecond
	deafLeadMs     = 1200
	heartbeatSpec  = "@every 10s"
	statusAck      = "Status report."
	llmApology     = "Sorry, I could not get an answer right now."
	reasonRestart  = "restart"
	reasonExternal = "external"
	reasonWake     = "wake"
	reasonScript   = "script"
	reasonTimeout  = "timeout"
	reasonEngine   = "engine_unavailable"
	reasonPanic    = "internal_error"
)

type snapshot struct {
	mode        voice_config.Mode
	scriptLen   int
	convTimeout int
	llmTimeout  int
	engineReady bool
}

type voiceImpl struct {
	store     ConfigStore
	capture   audio_capture.Interface
	output    voice_output.Interface
	llmClient llm.Interface
	services  service_control.Interface
	engine    EngineStatus
	clock     Clock
	metrics   *Metrics
	log       *logrus.Logger

	identity   string
	callsign   string
	prefixes   []string
	thresholds text_match.Thresholds

	started      bool
	mode         voice_config.Mode
	persisted    voice_config.Mode // last mode known to be on disk
	lastActivity time.Time
	lastCfg      *voice_config.VoiceConfig

	mu   sync.Mutex
	snap snapshot
}

type Config struct {
	Store     ConfigStore
	Capture   audio_capture.Interface
	Output    voice_output.Interface
	LLMClient llm.Interface
	Services  service_control.Interface
	Engine    EngineStatus
	Identity  string
	Logger    *logrus.Logger
	// Clock defaults to the wall clock.
	Clock Clock
	// Metrics defaults to collectors on a private registry.
	Metrics *Metrics
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Store == nil {
		return nil, fmt.Errorf("store is nil")
	}

	if cfg.Capture == nil {
		return nil, fmt.Errorf("capture is nil")
	}

	if cfg.Output == nil {
		return nil, fmt.Errorf("output is nil")
	}

	if cfg.LLMClient == nil {
		return nil, fmt.Errorf("llmClient is nil")
	}

	if cfg.Services == nil {
		return nil, fmt.Errorf("services is nil")
	}

	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is nil")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}

	v := &voiceImpl{
		store:      cfg.Store,
		capture:    cfg.Capture,
		output:     cfg.Output,
		llmClient:  cfg.LLMClient,
		services:   cfg.Services,
		engine:     cfg.Engine,
		clock:      clock,
		metrics:    metrics,
		log:        cfg.Logger,
		identity:   cfg.Identity,
		callsign:   voice_config.Callsign(cfg.Identity),
		prefixes:   voice_config.PrefixWords(cfg.Identity),
		thresholds: text_match.DefaultThresholds,
	}

	if v.callsign == "" {
		v.log.Warn("identity is empty, wake name matching is disabled")
	}

	return v, nil
}

func (v *voiceImpl) Mode() voice_config.Mode {
	return v.mode
}

func (v *voiceImpl) ListenLoop(ctx context.Context) error {
	v.log.WithFields(logrus.Fields{
		"identity": v.identity,
		"callsign": v.callsign,
		"prefixes": v.prefixes,
	}).Info("voice service start")

	heartbeat := cron.New()
	if _, err := heartbeat.AddFunc(heartbeatSpec, v.heartbeat); err != nil {
		return fmt.Errorf("schedule heartbeat: %w", err)
	}

	heartbeat.Start()
	defer heartbeat.Stop()

	for {
		if ctx.Err() != nil {
			v.log.Info("exiting gracefully")

			return nil
		}

		v.Step(ctx)
	}
}

// Step runs one iteration. A panic anywhere in it is logged and forces name_listen.
func (v *voiceImpl) Step(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			v.metrics.Panics.Inc()
			v.log.WithFields(logrus.Fields{
				"type":  fmt.Sprintf("%T", r),
				"error": fmt.Sprint(r),
			}).Error("voice loop iteration failed")

			v.recoverToNameListen(ctx)
			v.clock.Sleep(ctx, errorBackoff)
		}
	}()

	v.step(ctx)
}

func (v *voiceImpl) step(ctx context.Context) {
	cfg, err := v.store.Load()
	if err != nil {
		v.log.WithError(err).Error("loading voice config")
		v.clock.Sleep(ctx, errorBackoff)

		return
	}

	v.lastCfg = cfg

	if !v.started {
		v.startup(ctx, cfg)
	} else {
		v.reconcile(ctx, cfg)
	}

	v.updateSnapshot(cfg)

	if v.mode == voice_config.ModeDeaf {
		v.clock.Sleep(ctx, deafIdle)

		return
	}

	if v.timedOut(cfg) {
		v.enter(ctx, cfg, voice_config.ModeNameListen, reasonTimeout)

		return
	}

	transcript, err := v.capture.CaptureAndTranscribe(ctx, cfg)
	v.updateSnapshot(cfg)
	if err != nil {
		v.handleCaptureError(ctx, cfg, err)

		return
	}

	if transcript.Silent || len(transcript.Normalized) < cfg.MinUtteranceChars {
		v.clock.Sleep(ctx, shortIdle)

		return
	}

	v.metrics.Utterances.Inc()
	v.log.WithFields(logrus.Fields{
		"mode": v.mode,
		"raw":  transcript.Raw,
		"norm": transcript.Normalized,
	}).Info("heard")

	switch v.mode {
	case voice_config.ModeNameListen:
		v.handleNameListen(ctx, cfg, transcript)
	case voice_config.ModeConversation:
		v.handleConversation(ctx, cfg, transcript)
	case voice_config.ModeLLMDummy:
		v.handleLLM(ctx, cfg, transcript)
	}
}

// startup adopts the persisted mode. Internal modes left over from a previous run reset to
// name_listen; any other non-deaf mode is announced.
func (v *voiceImpl) startup(ctx context.Context, cfg *voice_config.VoiceConfig) {
	v.started = true
	v.mode = cfg.Mode
	v.persisted = cfg.Mode
	v.lastActivity = v.clock.Now()
	v.metrics.setMode(v.mode)

	v.log.WithField("mode", v.mode).Info("initial mode")

	switch cfg.Mode {
	case voice_config.ModeConversation, voice_config.ModeLLMDummy:
		v.enter(ctx, cfg, voice_config.ModeNameListen, reasonRestart)
	case voice_config.ModeNameListen:
		v.announce(ctx, cfg, voice_config.ModeNameListen)
	}
}

// reconcile applies external writes of the mode field. Only deaf and name_listen may be
// requested; anything else is ignored and the internal mode written back. A file still
// holding the last mode this loop wrote is a failed persist, not a request.
func (v *voiceImpl) reconcile(ctx context.Context, cfg *voice_config.VoiceConfig) {
	requested := cfg.Mode
	if requested == v.mode {
		v.persisted = requested
		return
	}

	if requested == v.persisted {
		v.log.WithFields(logrus.Fields{
			"on_disk": requested,
			"mode":    v.mode,
		}).Warn("retrying mode persist")

		v.persist(v.mode)

		return
	}

	if requested.Requestable() {
		v.log.WithFields(logrus.Fields{
			"from": v.mode,
			"to":   requested,
		}).Info("external mode request")

		v.enter(ctx, cfg, requested, reasonExternal)

		return
	}

	v.log.WithFields(logrus.Fields{
		"requested": requested,
		"mode":      v.mode,
	}).Warn("ignoring external request for an internal mode")

	v.persist(v.mode)
}

func (v *voiceImpl) timedOut(cfg *voice_config.VoiceConfig) bool {
	var limit int

	switch v.mode {
	case voice_config.ModeConversation:
		limit = cfg.ConversationTimeoutSec
	case voice_config.ModeLLMDummy:
		limit = cfg.LLMTimeoutSec
	default:
		return false
	}

	return v.clock.Now().Sub(v.lastActivity) >= time.Duration(limit)*time.Second
}

func (v *voiceImpl) handleCaptureError(ctx context.Context, cfg *voice_config.VoiceConfig, err error) {
	if ctx.Err() != nil {
		return
	}

	kind := voice_errors.KindOf(err)
	v.metrics.CaptureFailures.WithLabelValues(kind.String()).Inc()

	if kind == voice_errors.EngineUnavailable {
		v.log.WithError(err).Error("speech engine unavailable")

		if v.mode != voice_config.ModeNameListen {
			v.enter(ctx, cfg, voice_config.ModeNameListen, reasonEngine)
		}
	} else {
		v.log.WithError(err).Warn("chunk error")
	}

	v.clock.Sleep(ctx, errorBackoff)
}

func (v *voiceImpl) handleNameListen(ctx context.Context, cfg *voice_config.VoiceConfig, transcript audio_capture.Transcript) {
	result := text_match.WakeResult{Matched: true, Score: 1, Reason: "test_wake_always"}

	if !cfg.TestWakeAlways {
		result = text_match.MatchWakeName(transcript.Normalized, v.callsign, text_match.WakeOptions{
			Prefixes:          v.prefixes,
			AllowCallsignOnly: cfg.AllowCallsignOnly,
			Thresholds:        v.thresholds,
		})
	}

	v.log.WithFields(logrus.Fields{
		"norm":   transcript.Normalized,
		"score":  result.Score,
		"reason": result.Reason,
	}).Debug("wake check")

	if !result.Matched {
		return
	}

	v.logMatch(text_match.MatchEvent{
		Kind:       text_match.MatchKindName,
		Raw:        transcript.Raw,
		Normalized: transcript.Normalized,
		Target:     v.identity,
		Score:      result.Score,
	})

	if cfg.BeepOnWake {
		if _, err := v.output.Beep(ctx, voice_output.DefaultBeep); err != nil {
			v.metrics.OutputFailures.Inc()
			v.log.WithError(err).Warn("beep failed")
		}
	}

	v.enter(ctx, cfg, voice_config.ModeConversation, reasonWake)
}

// handleConversation tests script entries in order; the first match wins.
func (v *voiceImpl) handleConversation(ctx context.Context, cfg *voice_config.VoiceConfig, transcript audio_capture.Transcript) {
	v.lastActivity = v.clock.Now()

	for _, entry := range cfg.Script {
		ok, score := text_match.MatchPhrase(entry.Phrase, transcript.Normalized, v.thresholds)
		if !ok {
			continue
		}

		v.logMatch(text_match.MatchEvent{
			Kind:       text_match.MatchKindPhrase,
			Raw:        transcript.Raw,
			Normalized: transcript.Normalized,
			Target:     entry.Phrase,
			Score:      score,
		})

		if entry.Reply != "" {
			v.say(ctx, cfg, entry.Reply, cfg.TTSLeadMs)
		}

		switch entry.Action {
		case voice_config.ActionStatusReport:
			v.say(ctx, cfg, statusAck, cfg.TTSLeadMs)
			v.say(ctx, cfg, v.services.Summary(ctx, cfg.StatusServices), cfg.TTSLeadMs)
		case voice_config.ActionEnterLLM:
			v.enter(ctx, cfg, voice_config.ModeLLMDummy, reasonScript)
		}

		return
	}

	v.log.WithField("norm", transcript.Normalized).Debug("no script entry matched")
}

// handleLLM forwards the utterance. Speech, a delivered reply and a failed exchange all
// count as activity.
func (v *voiceImpl) handleLLM(ctx context.Context, cfg *voice_config.VoiceConfig, transcript audio_capture.Transcript) {
	v.lastActivity = v.clock.Now()

	text := transcript.Raw
	if text == "" {
		text = transcript.Normalized
	}

	reply, err := v.llmClient.Exchange(ctx, cfg.LLM, text)
	if err != nil {
		v.metrics.LLMExchanges.WithLabelValues(voice_errors.KindOf(err).String()).Inc()
		v.log.WithError(err).Warn("llm exchange failed")

		v.say(ctx, cfg, llmApology, cfg.TTSLeadMs)
		v.lastActivity = v.clock.Now()

		return
	}

	v.metrics.LLMExchanges.WithLabelValues("ok").Inc()

	if reply != "" {
		v.log.WithField("reply", reply).Info("llm reply")

		v.say(ctx, cfg, reply, cfg.TTSLeadMs)
		v.lastActivity = v.clock.Now()
	}
}

// enter performs a transition: persist, reset the activity timer, speak the enter prompt.
func (v *voiceImpl) enter(ctx context.Context, cfg *voice_config.VoiceConfig, to voice_config.Mode, reason string) {
	from := v.mode

	v.mode = to
	v.lastActivity = v.clock.Now()
	v.persist(to)

	v.metrics.Transitions.WithLabelValues(string(from), string(to), reason).Inc()
	v.metrics.setMode(to)

	v.log.WithFields(logrus.Fields{
		"from":   from,
		"to":     to,
		"reason": reason,
	}).Info("mode transition")

	v.mu.Lock()
	v.snap.mode = to
	v.mu.Unlock()

	v.announce(ctx, cfg, to)
}

func (v *voiceImpl) announce(ctx context.Context, cfg *voice_config.VoiceConfig, mode voice_config.Mode) {
	prompt := cfg.EnterPrompt(mode)
	if prompt == "" {
		return
	}

	lead := cfg.TTSLeadMs
	if mode == voice_config.ModeDeaf {
		lead = deafLeadMs
	}

	v.say(ctx, cfg, prompt, lead)
}

func (v *voiceImpl) persist(mode voice_config.Mode) {
	if err := v.store.SetMode(mode); err != nil {
		v.log.WithError(err).WithField("mode", mode).Error("persisting mode")
		return
	}

	v.persisted = mode
}

func (v *voiceImpl) say(ctx context.Context, cfg *voice_config.VoiceConfig, text string, leadMs int) {
	opts := voice_output.SayOptionsFrom(cfg)
	opts.LeadMs = leadMs

	detail, err := v.output.Say(ctx, text, opts)
	if err != nil {
		v.metrics.OutputFailures.Inc()
		v.log.WithError(err).WithField("text", text).Warn("say failed")

		return
	}

	v.log.WithField("detail", detail).Debug("said")
}

func (v *voiceImpl) logMatch(ev text_match.MatchEvent) {
	v.metrics.Matches.WithLabelValues(string(ev.Kind)).Inc()

	v.log.WithFields(logrus.Fields{
		"kind":   ev.Kind,
		"raw":    ev.Raw,
		"norm":   ev.Normalized,
		"target": ev.Target,
		"score":  fmt.Sprintf("%.2f", ev.Score),
	}).Info("matched")
}

// recoverToNameListen forces name_listen after a panic. It must not panic itself.
func (v *voiceImpl) recoverToNameListen(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			v.log.WithField("error", fmt.Sprint(r)).Error("recovery transition failed")
			v.mode = voice_config.ModeNameListen
		}
	}()

	cfg := v.lastCfg
	if cfg == nil {
		cfg = voice_config.Default("")
	}

	v.started = true
	v.enter(ctx, cfg, voice_config.ModeNameListen, reasonPanic)
}

func (v *voiceImpl) updateSnapshot(cfg *voice_config.VoiceConfig) {
	ready := v.engine.Ready()

	v.mu.Lock()
	defer v.mu.Unlock()

	v.snap = snapshot{
		mode:        v.mode,
		scriptLen:   len(cfg.Script),
		convTimeout: cfg.ConversationTimeoutSec,
		llmTimeout:  cfg.LLMTimeoutSec,
		engineReady: ready,
	}
}

func (v *voiceImpl) heartbeat() {
	v.mu.Lock()
	snap := v.snap
	v.mu.Unlock()

	v.log.WithFields(logrus.Fields{
		"mode":         snap.mode,
		"script_len":   snap.scriptLen,
		"conv_timeout": snap.convTimeout,
		"llm_timeout":  snap.llmTimeout,
		"engine_ready": snap.engineReady,
	}).Info("heartbeat")
}
