package speech_to_text

import "github.com/go-audio/audio"

// Engine is an offline recognizer holding a loaded model. Process consumes a whole mono
// chunk and returns one final hypothesis.
type Engine interface {
	Process(buf *audio.IntBuffer) (string, error)
	Close() error
}

type EngineFactory func(settings Settings) (Engine, error)

// Settings identify a loaded engine. A change in any field replaces the cached engine.
type Settings struct {
	Engine     string
	ModelPath  string
	SampleRate int
}

type Interface interface {
	Decode(path string) (*audio.IntBuffer, error)
	Recognize(buf *audio.IntBuffer, settings Settings) (string, error)
	Ready() bool
	Close() error
}
