package audio_capture

import (
	"context"

	"scanner-voice/voice_config"
)

type RecordRequest struct {
	Device     string
	SampleRate int
	Channels   int
	Seconds    int
	Path       string
}

// Recorder writes one fixed-length 16-bit WAV chunk to RecordRequest.Path.
type Recorder interface {
	Record(ctx context.Context, req RecordRequest) error
}

type Transcript struct {
	Raw        string
	Normalized string
	// Silent is set when the chunk was skipped by the silence gate.
	Silent bool
}

type Interface interface {
	// CaptureAndTranscribe records one chunk and recognizes it. Failures are
	// voice_errors values; the caller backs off and tries again next iteration.
	CaptureAndTranscribe(ctx context.Context, cfg *voice_config.VoiceConfig) (Transcript, error)
}
