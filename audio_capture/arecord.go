package audio_capture

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"scanner-voice/command"
)

const (
	RecorderArecord   = "arecord"
	RecorderPortaudio = "portaudio"

	// arecordGrace is added to the chunk length before the recorder is killed.
	arecordGrace = 3 * time.Second
)

type arecordImpl struct {
	runner command.Runner
	bin    string
}

func NewArecord(runner command.Runner) Recorder {
	return &arecordImpl{
		runner: runner,
		bin:    "arecord",
	}
}

func (a *arecordImpl) Record(ctx context.Context, req RecordRequest) error {
	_, err := a.runner.Run(ctx, command.Request{
		Name: a.bin,
		Args: []string{
			"-D", req.Device,
			"-f", "S16_LE",
			"-r", strconv.Itoa(req.SampleRate),
			"-c", strconv.Itoa(req.Channels),
			"-d", strconv.Itoa(req.Seconds),
			req.Path,
		},
		Timeout: time.Duration(req.Seconds)*time.Second + arecordGrace,
	})
	if err != nil {
		return fmt.Errorf("arecord: %w", err)
	}

	return nil
}
