package voice_output

import "context"

type BeepOptions struct {
	DurationMs int
	FreqHz     int
	Volume     int
}

type SayOptions struct {
	LeadMs int
	Volume int
	// Rate and Amplitude are handed to the TTS pipeline; 0 keeps its defaults.
	Rate      int
	Amplitude int
}

// Interface plays audio through external programs. Both calls return a detail string for
// logs and a voice_errors.OutputFailure on error; callers only log failures.
type Interface interface {
	Beep(ctx context.Context, opts BeepOptions) (string, error)
	Say(ctx context.Context, text string, opts SayOptions) (string, error)
}
