package audio_capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"scanner-voice/audio_capture/vad"
	"scanner-voice/speech_to_text"
	"scanner-voice/text_match"
	"scanner-voice/voice_config"
	"scanner-voice/voice_errors"
)

type captureImpl struct {
	fileSys     afero.Fs
	recorders   map[string]Recorder
	sttEngine   speech_to_text.Interface
	scratchPath string
	log         *logrus.Logger
}

type Config struct {
	FileSys afero.Fs
	// Recorders are keyed by the recorder setting; arecord is the fallback.
	Recorders   map[string]Recorder
	STTEngine   speech_to_text.Interface
	ScratchPath string
	Logger      *logrus.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.FileSys == nil {
		return nil, fmt.Errorf("fileSys is nil")
	}

	if cfg.Recorders[RecorderArecord] == nil {
		return nil, fmt.Errorf("arecord recorder is nil")
	}

	if cfg.STTEngine == nil {
		return nil, fmt.Errorf("sttEngine is nil")
	}

	if cfg.ScratchPath == "" {
		return nil, fmt.Errorf("scratchPath is empty")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	return &captureImpl{
		fileSys:     cfg.FileSys,
		recorders:   cfg.Recorders,
		sttEngine:   cfg.STTEngine,
		scratchPath: cfg.ScratchPath,
		log:         cfg.Logger,
	}, nil
}

func (c *captureImpl) CaptureAndTranscribe(ctx context.Context, cfg *voice_config.VoiceConfig) (Transcript, error) {
	if err := c.record(ctx, cfg); err != nil {
		return Transcript{}, err
	}

	buf, err := c.sttEngine.Decode(c.scratchPath)
	if err != nil {
		return Transcript{}, err
	}

	if cfg.SilenceFlux > 0 {
		if peak := vad.PeakFlux(buf.Data, vad.DefaultFrameSize); peak < cfg.SilenceFlux {
			c.log.WithField("flux", peak).Debug("chunk below silence gate")
			return Transcript{Silent: true}, nil
		}
	}

	raw, err := c.sttEngine.Recognize(buf, speech_to_text.SettingsFrom(cfg))
	if err != nil {
		return Transcript{}, err
	}

	return Transcript{
		Raw:        raw,
		Normalized: text_match.Normalize(raw),
	}, nil
}

func (c *captureImpl) record(ctx context.Context, cfg *voice_config.VoiceConfig) error {
	if err := c.fileSys.Remove(c.scratchPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return voice_errors.Wrap(voice_errors.CaptureFailure, "audio_capture.record", err)
	}

	recorder := c.recorders[cfg.Recorder]
	if recorder == nil {
		recorder = c.recorders[RecorderArecord]
	}

	err := recorder.Record(ctx, RecordRequest{
		Device:     cfg.MicDev,
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		Seconds:    cfg.ChunkSec,
		Path:       c.scratchPath,
	})
	if err != nil {
		return voice_errors.Wrap(voice_errors.CaptureFailure, "audio_capture.record", err)
	}

	info, err := c.fileSys.Stat(c.scratchPath)
	if err != nil {
		return voice_errors.Wrap(voice_errors.CaptureFailure, "audio_capture.record", err)
	}

	if info.Size() < cfg.MinChunkBytes {
		return voice_errors.New(voice_errors.CaptureFailure, "audio_capture.record",
			fmt.Sprintf("chunk too small (%d bytes)", info.Size()))
	}

	return nil
}
