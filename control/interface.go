package control

import (
	"context"

	"scanner-voice/voice_config"
)

// StartArgs carries the optional settings applied before the service is started. Nil fields
// and empty strings leave the stored value alone.
type StartArgs struct {
	Mode                   voice_config.Mode
	ConversationTimeoutSec *int
	LLMTimeoutSec          *int

	STTEngine    string
	VoskModelDir string
	MicDev       string
	SampleRate   *int
	Channels     *int
	ChunkSec     *int

	TTSVolume            *int
	SayEnterDeaf         *string
	SayEnterNameListen   *string
	SayEnterConversation *string
	SayEnterLLM          *string
}

// Interface is what remote commands and the local CLI use to steer the voice service.
// Every operation returns a one-line detail for the caller's reply.
type Interface interface {
	Start(ctx context.Context, args StartArgs) (string, error)
	Stop(ctx context.Context) (string, error)
	SetMode(mode voice_config.Mode) (string, error)
	SetScript(entries []voice_config.ScriptEntry) (string, error)
	// Dispatch runs one of voice.start, voice.stop, voice.mode.set or voice.script.set.
	Dispatch(ctx context.Context, action string, args map[string]any) (string, error)
}
