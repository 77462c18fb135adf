// Package whisper_engine adapts whisper.cpp. It links libwhisper through cgo.
package whisper_engine

import (
	"fmt"
	"io"
	"strings"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/go-audio/audio"

	"scanner-voice/speech_to_text"
)

type whisperImpl struct {
	model whisper.Model
}

// New loads the model file. It is a speech_to_text.EngineFactory.
func New(settings speech_to_text.Settings) (speech_to_text.Engine, error) {
	if settings.SampleRate != whisper.SampleRate {
		return nil, fmt.Errorf("whisper needs %d Hz audio, configured %d", whisper.SampleRate, settings.SampleRate)
	}

	model, err := whisper.New(settings.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model %s: %w", settings.ModelPath, err)
	}

	return &whisperImpl{
		model: model,
	}, nil
}

func (w *whisperImpl) Process(buf *audio.IntBuffer) (string, error) {
	context, err := w.model.NewContext()
	if err != nil {
		return "", err
	}

	err = context.Process(scaled(buf), nil)
	if err != nil {
		return "", err
	}

	segments, err := collectSegments(context)
	if err != nil {
		return "", err
	}

	return strings.Join(segments, " "), nil
}

// scaled converts PCM to the [-1, 1] float range whisper expects.
func scaled(buf *audio.IntBuffer) []float32 {
	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	peak := float32(audio.IntMaxSignedValue(bitDepth))

	data := buf.AsFloat32Buffer().Data
	for i := range data {
		data[i] /= peak
	}
	return data
}

// collectSegments drains the context, skipping bracketed annotations such as "[BLANK_AUDIO]"
// and repeated segments.
func collectSegments(context whisper.Context) ([]string, error) {
	seenText := make(map[string]bool)

	segments := make([]string, 0)

	for {
		segment, err := context.NextSegment()
		if err == io.EOF {
			return segments, nil
		} else if err != nil {
			return nil, err
		}

		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}

		if text[0] == '(' || text[0] == '[' || text[len(text)-1] == ')' || text[len(text)-1] == ']' {
			continue
		}

		if seenText[text] {
			continue
		}
		seenText[text] = true

		segments = append(segments, text)
	}
}

func (w *whisperImpl) Close() error {
	return w.model.Close()
}
