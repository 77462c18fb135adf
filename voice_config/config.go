package voice_config

import (
	"path/filepath"
	"reflect"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

const (
	ActionNone         = ""
	ActionStatusReport = "status.report"
	ActionEnterLLM     = "enter.llm"
)

const (
	DefaultConversationTimeoutSec = 20
	DefaultLLMTimeoutSec          = 30
	DefaultLLMBaseURL             = "https://api.openai.com/v1/responses"
	DefaultSystemPrompt           = "You are a small helpful voice assistant running on a Raspberry Pi robot. " +
		"Be brief, clear, and practical. No long explanations unless asked."
)

type ScriptEntry struct {
	Phrase string `json:"phrase" validate:"required"`
	Reply  string `json:"reply"`
	Action string `json:"action" validate:"oneof='' status.report enter.llm"`
}

type LLMConfig struct {
	Model           string  `json:"model"`
	BaseURL         string  `json:"base_url"`
	APIKeyFile      string  `json:"api_key_file"`
	TimeoutSec      int     `json:"timeout_sec" validate:"min=1"`
	MaxOutputTokens int     `json:"max_output_tokens" validate:"min=1"`
	Temperature     float64 `json:"temperature" validate:"min=0,max=2"`
	SessionID       string  `json:"session_id"`
	SystemPrompt    string  `json:"system_prompt"`

	Extra map[string]jsoniter.RawMessage `json:"-"`

	issues []string
}

// VoiceConfig is the persisted control document. Keys it does not recognize are kept in
// Extra and written back unchanged.
type VoiceConfig struct {
	Mode                   Mode          `json:"mode" validate:"oneof=deaf name_listen conversation llm_dummy"`
	ConversationTimeoutSec int           `json:"conversation_timeout_sec" validate:"min=1"`
	LLMTimeoutSec          int           `json:"llm_timeout_sec" validate:"min=1"`
	Script                 []ScriptEntry `json:"script" validate:"dive"`
	LLM                    LLMConfig     `json:"llm"`

	STTEngine         string  `json:"stt_engine" validate:"oneof=vosk whisper"`
	VoskModelDir      string  `json:"vosk_model_dir"`
	WhisperModelPath  string  `json:"whisper_model_path"`
	Recorder          string  `json:"recorder" validate:"oneof=arecord portaudio"`
	MicDev            string  `json:"mic_dev"`
	SampleRate        int     `json:"sample_rate" validate:"min=1"`
	Channels          int     `json:"channels" validate:"min=1"`
	ChunkSec          int     `json:"chunk_sec" validate:"min=1"`
	MinChunkBytes     int64   `json:"min_chunk_bytes" validate:"min=1"`
	SilenceFlux       float64 `json:"silence_flux" validate:"min=0"`
	MinUtteranceChars int     `json:"min_utterance_chars" validate:"min=1"`

	TTSVolume    int  `json:"tts_volume" validate:"min=0,max=100"`
	TTSLeadMs    int  `json:"tts_lead_ms" validate:"min=0"`
	TTSRate      int  `json:"tts_rate"`
	TTSAmplitude int  `json:"tts_amplitude"`
	BeepOnWake   bool `json:"beep_on_wake"`

	SayEnterDeaf         string `json:"say_enter_deaf"`
	SayEnterNameListen   string `json:"say_enter_name_listen"`
	SayEnterConversation string `json:"say_enter_conversation"`
	SayEnterLLM          string `json:"say_enter_llm"`

	AllowCallsignOnly bool     `json:"allow_callsign_only"`
	TestWakeAlways    bool     `json:"test_wake_always"`
	StatusServices    []string `json:"status_services"`

	Extra map[string]jsoniter.RawMessage `json:"-"`

	// issues lists keys of the last decode that had the wrong type.
	issues []string
}

// Default returns the document written on first access. voiceDir anchors the default model path.
func Default(voiceDir string) *VoiceConfig {
	return &VoiceConfig{
		Mode:                   ModeDeaf,
		ConversationTimeoutSec: DefaultConversationTimeoutSec,
		LLMTimeoutSec:          DefaultLLMTimeoutSec,
		Script:                 []ScriptEntry{},
		LLM: LLMConfig{
			BaseURL:         DefaultLLMBaseURL,
			TimeoutSec:      30,
			MaxOutputTokens: 300,
			Temperature:     0.4,
			SystemPrompt:    DefaultSystemPrompt,
		},
		STTEngine:            "vosk",
		VoskModelDir:         filepath.Join(voiceDir, "models", "vosk-model-small-en-us-0.15"),
		Recorder:             "arecord",
		MicDev:               "plughw:1,0",
		SampleRate:           16000,
		Channels:             1,
		ChunkSec:             2,
		MinChunkBytes:        2000,
		MinUtteranceChars:    3,
		TTSVolume:            90,
		TTSLeadMs:            300,
		BeepOnWake:           true,
		SayEnterDeaf:         "Voice control off.",
		SayEnterNameListen:   "Voice control ready.",
		SayEnterConversation: "Yes, I am listening.",
		SayEnterLLM:          "Okay, let's talk.",
		AllowCallsignOnly:    true,
		StatusServices:       []string{"scanner-agent.service", "scanner-poller.service"},
	}
}

// EnterPrompt is the sentence spoken when entering m. Empty means silent.
func (c *VoiceConfig) EnterPrompt(m Mode) string {
	switch m {
	case ModeDeaf:
		return c.SayEnterDeaf
	case ModeNameListen:
		return c.SayEnterNameListen
	case ModeConversation:
		return c.SayEnterConversation
	case ModeLLMDummy:
		return c.SayEnterLLM
	}
	return ""
}

// Clone returns a deep copy so callers can mutate without touching a shared value.
func (c *VoiceConfig) Clone() *VoiceConfig {
	out := *c
	out.Script = append([]ScriptEntry(nil), c.Script...)
	out.StatusServices = append([]string(nil), c.StatusServices...)
	out.Extra = cloneExtras(c.Extra)
	out.LLM.Extra = cloneExtras(c.LLM.Extra)
	return &out
}

func cloneExtras(in map[string]jsoniter.RawMessage) map[string]jsoniter.RawMessage {
	if in == nil {
		return nil
	}
	out := make(map[string]jsoniter.RawMessage, len(in))
	for k, v := range in {
		out[k] = append(jsoniter.RawMessage(nil), v...)
	}
	return out
}

// normalize applies the coercion rules: unknown enums fall back, non-positive tunables take
// their default, phraseless script entries are dropped.
func (c *VoiceConfig) normalize(def *VoiceConfig) {
	c.Mode = ParseMode(strings.TrimSpace(string(c.Mode)))

	if c.ConversationTimeoutSec <= 0 {
		c.ConversationTimeoutSec = def.ConversationTimeoutSec
	}
	if c.LLMTimeoutSec <= 0 {
		c.LLMTimeoutSec = def.LLMTimeoutSec
	}
	c.Script = CleanScript(c.Script)

	if c.STTEngine != "vosk" && c.STTEngine != "whisper" {
		c.STTEngine = def.STTEngine
	}
	if strings.TrimSpace(c.VoskModelDir) == "" {
		c.VoskModelDir = def.VoskModelDir
	}
	if c.Recorder != "arecord" && c.Recorder != "portaudio" {
		c.Recorder = def.Recorder
	}
	if strings.TrimSpace(c.MicDev) == "" {
		c.MicDev = def.MicDev
	}
	if c.SampleRate <= 0 {
		c.SampleRate = def.SampleRate
	}
	if c.Channels <= 0 {
		c.Channels = def.Channels
	}
	if c.ChunkSec <= 0 {
		c.ChunkSec = def.ChunkSec
	}
	if c.MinChunkBytes <= 0 {
		c.MinChunkBytes = def.MinChunkBytes
	}
	if c.SilenceFlux < 0 {
		c.SilenceFlux = 0
	}
	if c.MinUtteranceChars <= 0 {
		c.MinUtteranceChars = def.MinUtteranceChars
	}
	c.TTSVolume = ClampVolume(c.TTSVolume)
	if c.TTSLeadMs < 0 {
		c.TTSLeadMs = 0
	}
	if c.StatusServices == nil {
		c.StatusServices = def.StatusServices
	}

	c.LLM.normalize(def.LLM)
}

func (l *LLMConfig) normalize(def LLMConfig) {
	l.Model = strings.TrimSpace(l.Model)
	l.BaseURL = strings.TrimSpace(l.BaseURL)
	l.APIKeyFile = strings.TrimSpace(l.APIKeyFile)
	l.SessionID = strings.TrimSpace(l.SessionID)
	if l.BaseURL == "" {
		l.BaseURL = def.BaseURL
	}
	if l.TimeoutSec <= 0 {
		l.TimeoutSec = def.TimeoutSec
	}
	if l.MaxOutputTokens <= 0 {
		l.MaxOutputTokens = def.MaxOutputTokens
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		l.Temperature = def.Temperature
	}
	if strings.TrimSpace(l.SystemPrompt) == "" {
		l.SystemPrompt = def.SystemPrompt
	}
}

// CleanScript trims every entry, drops entries without a phrase and blanks unknown actions.
func CleanScript(entries []ScriptEntry) []ScriptEntry {
	out := make([]ScriptEntry, 0, len(entries))
	for _, e := range entries {
		e.Phrase = strings.TrimSpace(e.Phrase)
		e.Reply = strings.TrimSpace(e.Reply)
		e.Action = strings.TrimSpace(e.Action)
		if e.Phrase == "" {
			continue
		}
		switch e.Action {
		case ActionNone, ActionStatusReport, ActionEnterLLM:
		default:
			e.Action = ActionNone
		}
		out = append(out, e)
	}
	return out
}

func ClampVolume(v int) int {
	return max(0, min(100, v))
}

func (c *VoiceConfig) UnmarshalJSON(data []byte) error {
	type plain VoiceConfig
	p := plain(*c)
	extras, issues, err := decodeFields(data, reflect.ValueOf(&p).Elem())
	if err != nil {
		return err
	}
	for _, issue := range p.LLM.issues {
		issues = append(issues, "llm."+issue)
	}
	p.LLM.issues = nil
	p.Extra = extras
	p.issues = issues
	*c = VoiceConfig(p)
	return nil
}

func (c VoiceConfig) MarshalJSON() ([]byte, error) {
	type plain VoiceConfig
	encoded, err := json.Marshal(plain(c))
	if err != nil {
		return nil, err
	}
	return mergeExtras(encoded, c.Extra)
}

func (l *LLMConfig) UnmarshalJSON(data []byte) error {
	type plain LLMConfig
	p := plain(*l)
	extras, issues, err := decodeFields(data, reflect.ValueOf(&p).Elem())
	if err != nil {
		return err
	}
	p.Extra = extras
	p.issues = issues

	// conversation_id is the older name of session_id
	if strings.TrimSpace(p.SessionID) == "" {
		if raw, ok := extras["conversation_id"]; ok {
			var legacy string
			if json.Unmarshal(raw, &legacy) == nil {
				p.SessionID = strings.TrimSpace(legacy)
			}
		}
	}
	*l = LLMConfig(p)
	return nil
}

func (l LLMConfig) MarshalJSON() ([]byte, error) {
	type plain LLMConfig
	encoded, err := json.Marshal(plain(l))
	if err != nil {
		return nil, err
	}
	return mergeExtras(encoded, l.Extra)
}
