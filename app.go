package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"scanner-voice/audio_capture"
	"scanner-voice/audio_capture/portaudio_recorder"
	"scanner-voice/clients/llm"
	"scanner-voice/command"
	"scanner-voice/control"
	"scanner-voice/logging"
	"scanner-voice/service_control"
	"scanner-voice/speech_to_text"
	"scanner-voice/speech_to_text/vosk_engine"
	"scanner-voice/speech_to_text/whisper_engine"
	"scanner-voice/voice_config"
	"scanner-voice/voice_output"
)

// app holds the components shared by every command. Audio components are built on demand
// so control commands work on machines without a microphone.
type app struct {
	settings Settings
	log      *logrus.Logger
	fileSys  afero.Fs
	runner   command.Runner
	store    *voice_config.Store
	services service_control.Interface
	control  control.Interface
}

func newApp(settings Settings, withFileLog bool) (*app, error) {
	logFile := ""
	if withFileLog {
		logFile = settings.LogFile
	}

	logger, err := logging.New(logging.Config{File: logFile, Level: settings.LogLevel})
	if err != nil {
		return nil, err
	}

	fileSys := afero.NewOsFs()
	runner := command.New()

	store, err := voice_config.New(&voice_config.Config{
		FileSys: fileSys,
		Path:    settings.Config,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("error with voice_config.New: %w", err)
	}

	services, err := service_control.New(&service_control.Config{
		Runner: runner,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("error with service_control.New: %w", err)
	}

	ctl, err := control.New(&control.Config{
		Store:       store,
		Services:    services,
		ServiceName: settings.ServiceName,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("error with control.New: %w", err)
	}

	return &app{
		settings: settings,
		log:      logger,
		fileSys:  fileSys,
		runner:   runner,
		store:    store,
		services: services,
		control:  ctl,
	}, nil
}

func (a *app) identity() string {
	return voice_config.ReadIdentity(a.fileSys, a.settings.IdentityFile)
}

func (a *app) newSpeechToText() (speech_to_text.Interface, error) {
	stt, err := speech_to_text.New(&speech_to_text.Config{
		FileSys: a.fileSys,
		Factories: map[string]speech_to_text.EngineFactory{
			speech_to_text.EngineVosk:    vosk_engine.New,
			speech_to_text.EngineWhisper: whisper_engine.New,
		},
		Logger: a.log,
	})
	if err != nil {
		return nil, fmt.Errorf("error with speech_to_text.New: %w", err)
	}

	return stt, nil
}

// newCapture returns the capturer and a cleanup releasing the engine and the audio device.
func (a *app) newCapture(stt speech_to_text.Interface) (audio_capture.Interface, func(), error) {
	pa, err := portaudio_recorder.New(&portaudio_recorder.Config{
		FileSys: a.fileSys,
		Logger:  a.log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("error with portaudio_recorder.New: %w", err)
	}

	capture, err := audio_capture.New(&audio_capture.Config{
		FileSys: a.fileSys,
		Recorders: map[string]audio_capture.Recorder{
			audio_capture.RecorderArecord:   audio_capture.NewArecord(a.runner),
			audio_capture.RecorderPortaudio: pa,
		},
		STTEngine:   stt,
		ScratchPath: a.settings.ScratchWav,
		Logger:      a.log,
	})
	if err != nil {
		pa.Close()
		return nil, nil, fmt.Errorf("error with audio_capture.New: %w", err)
	}

	cleanup := func() {
		pa.Close()
		if err := stt.Close(); err != nil {
			a.log.WithError(err).Warn("closing speech engine")
		}
	}

	return capture, cleanup, nil
}

func (a *app) newOutput() (voice_output.Interface, error) {
	out, err := voice_output.New(&voice_output.Config{
		Runner:    a.runner,
		TTSScript: a.settings.TTSScript,
	})
	if err != nil {
		return nil, fmt.Errorf("error with voice_output.New: %w", err)
	}

	return out, nil
}

func (a *app) newLLM() (llm.Interface, error) {
	client, err := llm.NewClient(&llm.Config{
		FileSys:   a.fileSys,
		StatePath: a.settings.State,
		Logger:    a.log,
	})
	if err != nil {
		return nil, fmt.Errorf("error with llm.NewClient: %w", err)
	}

	return client, nil
}
