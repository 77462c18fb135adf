package voice_config

type Mode string

const (
	ModeDeaf         Mode = "deaf"
	ModeNameListen   Mode = "name_listen"
	ModeConversation Mode = "conversation"
	ModeLLMDummy     Mode = "llm_dummy"
)

var Modes = []Mode{ModeDeaf, ModeNameListen, ModeConversation, ModeLLMDummy}

func (m Mode) Valid() bool {
	switch m {
	case ModeDeaf, ModeNameListen, ModeConversation, ModeLLMDummy:
		return true
	}
	return false
}

// Requestable reports whether an external collaborator may ask for this mode.
// conversation and llm_dummy are only reachable through internal transitions.
func (m Mode) Requestable() bool {
	return m == ModeDeaf || m == ModeNameListen
}

// ParseMode coerces unknown values to deaf.
func ParseMode(s string) Mode {
	m := Mode(s)
	if m.Valid() {
		return m
	}
	return ModeDeaf
}
