package speech_to_text

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"scanner-voice/voice_config"
	"scanner-voice/voice_errors"
)

const (
	EngineVosk    = "vosk"
	EngineWhisper = "whisper"
)

type sttImpl struct {
	fileSys   afero.Fs
	factories map[string]EngineFactory
	log       *logrus.Logger

	mu       sync.Mutex
	engine   Engine
	settings Settings
}

type Config struct {
	FileSys   afero.Fs
	Factories map[string]EngineFactory
	Logger    *logrus.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.FileSys == nil {
		return nil, fmt.Errorf("fileSys is nil")
	}

	if len(cfg.Factories) == 0 {
		return nil, fmt.Errorf("factories is empty")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	return &sttImpl{
		fileSys:   cfg.FileSys,
		factories: cfg.Factories,
		log:       cfg.Logger,
	}, nil
}

// SettingsFrom picks the model path that belongs to the configured engine.
func SettingsFrom(cfg *voice_config.VoiceConfig) Settings {
	s := Settings{Engine: cfg.STTEngine, SampleRate: cfg.SampleRate}
	if s.Engine == EngineWhisper {
		s.ModelPath = cfg.WhisperModelPath
	} else {
		s.ModelPath = cfg.VoskModelDir
	}
	return s
}

// Decode reads a 16-bit PCM WAV chunk. Only mono input is accepted.
func (stt *sttImpl) Decode(path string) (*audio.IntBuffer, error) {
	f, err := stt.fileSys.Open(path)
	if err != nil {
		return nil, voice_errors.Wrap(voice_errors.TranscriptionFailure, "speech_to_text.decode", err)
	}

	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, voice_errors.New(voice_errors.TranscriptionFailure, "speech_to_text.decode", "not a valid wav file")
	}

	if decoder.NumChans != 1 {
		return nil, voice_errors.New(voice_errors.TranscriptionFailure, "speech_to_text.decode",
			fmt.Sprintf("audio must be mono, got %d channels", decoder.NumChans))
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, voice_errors.Wrap(voice_errors.TranscriptionFailure, "speech_to_text.decode", err)
	}

	return buf, nil
}

func (stt *sttImpl) Recognize(buf *audio.IntBuffer, settings Settings) (string, error) {
	if buf == nil || len(buf.Data) == 0 {
		return "", nil
	}

	if buf.Format != nil && buf.Format.NumChannels != 1 {
		return "", voice_errors.New(voice_errors.TranscriptionFailure, "speech_to_text.recognize", "audio must be mono")
	}

	stt.mu.Lock()
	defer stt.mu.Unlock()

	engine, err := stt.ensureEngine(settings)
	if err != nil {
		return "", err
	}

	text, err := engine.Process(buf)
	if err != nil {
		return "", voice_errors.Wrap(voice_errors.TranscriptionFailure, "speech_to_text.recognize", err)
	}

	return strings.TrimSpace(text), nil
}

// ensureEngine returns the cached engine, loading it on first use or when settings changed.
func (stt *sttImpl) ensureEngine(settings Settings) (Engine, error) {
	if stt.engine != nil && stt.settings == settings {
		return stt.engine, nil
	}

	if stt.engine != nil {
		if err := stt.engine.Close(); err != nil {
			stt.log.WithError(err).Warn("closing previous speech engine")
		}
		stt.engine = nil
	}

	factory, ok := stt.factories[settings.Engine]
	if !ok {
		return nil, voice_errors.New(voice_errors.EngineUnavailable, "speech_to_text.load",
			fmt.Sprintf("engine %q is not built in", settings.Engine))
	}

	if settings.ModelPath == "" {
		return nil, voice_errors.New(voice_errors.EngineUnavailable, "speech_to_text.load", "model path is not configured")
	}

	exists, err := afero.Exists(stt.fileSys, settings.ModelPath)
	if err != nil || !exists {
		return nil, voice_errors.New(voice_errors.EngineUnavailable, "speech_to_text.load",
			fmt.Sprintf("model not found at %s", settings.ModelPath))
	}

	engine, err := factory(settings)
	if err != nil {
		return nil, voice_errors.Wrap(voice_errors.EngineUnavailable, "speech_to_text.load", err)
	}

	stt.log.WithFields(logrus.Fields{
		"engine": settings.Engine,
		"model":  settings.ModelPath,
		"rate":   settings.SampleRate,
	}).Info("speech engine loaded")

	stt.engine = engine
	stt.settings = settings

	return engine, nil
}

func (stt *sttImpl) Ready() bool {
	stt.mu.Lock()
	defer stt.mu.Unlock()

	return stt.engine != nil
}

func (stt *sttImpl) Close() error {
	stt.mu.Lock()
	defer stt.mu.Unlock()

	if stt.engine == nil {
		return nil
	}

	err := stt.engine.Close()
	stt.engine = nil
	return err
}
