// Package portaudio_recorder captures chunks in-process from the default input device. It
// links libportaudio through cgo.
package portaudio_recorder

import (
	"context"
	"fmt"

	"github.com/gordonklaus/portaudio"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/zenwerk/go-wave"

	"scanner-voice/audio_capture"
)

const framesPerBuffer = 1024

type Interface interface {
	audio_capture.Recorder
	Close()
}

type recorderImpl struct {
	fileSys      afero.Fs
	log          *logrus.Logger
	audioRunning bool
}

type Config struct {
	FileSys afero.Fs
	Logger  *logrus.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.FileSys == nil {
		return nil, fmt.Errorf("fileSys is nil")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	return &recorderImpl{
		fileSys: cfg.FileSys,
		log:     cfg.Logger,
	}, nil
}

// Record reads Seconds of audio from the default input stream. The device setting is
// ignored; portaudio always opens the default device.
func (r *recorderImpl) Record(ctx context.Context, req audio_capture.RecordRequest) error {
	if err := r.initAudio(); err != nil {
		return err
	}

	in := make([]int16, framesPerBuffer*req.Channels)
	stream, err := portaudio.OpenDefaultStream(req.Channels, 0, float64(req.SampleRate), framesPerBuffer, in)
	if err != nil {
		return err
	}

	defer stream.Close()

	waveFile, err := r.fileSys.Create(req.Path)
	if err != nil {
		return err
	}

	param := wave.WriterParam{
		Out:           waveFile,
		Channel:       req.Channels,
		SampleRate:    req.SampleRate,
		BitsPerSample: 16,
	}

	waveWriter, err := wave.NewWriter(param)
	if err != nil {
		_ = waveFile.Close()
		return err
	}

	defer waveWriter.Close()

	err = stream.Start()
	if err != nil {
		return err
	}

	remaining := req.SampleRate * req.Seconds

	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			_ = stream.Stop()
			return err
		}

		err = stream.Read()
		if err != nil {
			_ = stream.Stop()
			return err
		}

		frames := min(framesPerBuffer, remaining)

		_, err = waveWriter.WriteSample16(in[:frames*req.Channels])
		if err != nil {
			_ = stream.Stop()
			return err
		}

		remaining -= frames
	}

	return stream.Stop()
}

func (r *recorderImpl) initAudio() error {
	if !r.audioRunning {
		err := portaudio.Initialize()
		if err != nil {
			return err
		}

		r.audioRunning = true
	}

	return nil
}

// Close releases portaudio.
func (r *recorderImpl) Close() {
	if r.audioRunning {
		err := portaudio.Terminate()
		if err != nil {
			r.log.WithError(err).Warn("error while freeing audio")
		}

		r.audioRunning = false
	}
}
