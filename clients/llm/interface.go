package llm

import (
	"context"

	"scanner-voice/voice_config"
)

type Interface interface {
	// Exchange sends one utterance and returns the assistant reply. Empty input returns ("", nil).
	Exchange(ctx context.Context, settings voice_config.LLMConfig, userText string) (string, error)
}
