// Package vosk_engine adapts the Vosk offline recognizer. It links libvosk through cgo.
package vosk_engine

import (
	"encoding/binary"
	"fmt"

	vosk "github.com/alphacep/vosk-api/go"
	"github.com/go-audio/audio"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"

	"scanner-voice/speech_to_text"
)

// frameBytes is how much PCM is fed per AcceptWaveform call (4000 16-bit frames).
const frameBytes = 8000

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type voskImpl struct {
	model      *vosk.VoskModel
	recognizer *vosk.VoskRecognizer
}

type finalResult struct {
	Text string `json:"text"`
}

func init() {
	vosk.SetLogLevel(-1)
}

// modelFiles are the files any loadable Vosk model directory carries.
var modelFiles = []string{"am/final.mdl", "conf/model.conf"}

// New loads the model directory. It is a speech_to_text.EngineFactory.
func New(settings speech_to_text.Settings) (speech_to_text.Engine, error) {
	// libvosk returns NULL handles for a bad directory instead of an error
	if err := speech_to_text.RequireModelFile(afero.NewOsFs(), settings.ModelPath, modelFiles...); err != nil {
		return nil, err
	}

	model, err := vosk.NewModel(settings.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load vosk model %s: %w", settings.ModelPath, err)
	}
	if model == nil {
		return nil, fmt.Errorf("load vosk model %s: no model returned", settings.ModelPath)
	}

	rec, err := vosk.NewRecognizer(model, float64(settings.SampleRate))
	if err != nil || rec == nil {
		model.Free()
		return nil, fmt.Errorf("create vosk recognizer at %d Hz: %v", settings.SampleRate, err)
	}

	return &voskImpl{
		model:      model,
		recognizer: rec,
	}, nil
}

func (v *voskImpl) Process(buf *audio.IntBuffer) (string, error) {
	pcm := make([]byte, len(buf.Data)*2)
	for i, sample := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(sample)))
	}

	for start := 0; start < len(pcm); start += frameBytes {
		end := min(start+frameBytes, len(pcm))
		if v.recognizer.AcceptWaveform(pcm[start:end]) < 0 {
			return "", fmt.Errorf("vosk rejected waveform")
		}
	}

	// FinalResult also resets the recognizer for the next chunk
	var res finalResult
	if err := json.Unmarshal([]byte(v.recognizer.FinalResult()), &res); err != nil {
		return "", fmt.Errorf("parse vosk result: %w", err)
	}

	return res.Text, nil
}

// Close frees the C recognizer and model. The bindings set no finalizers.
func (v *voskImpl) Close() error {
	if v.recognizer != nil {
		v.recognizer.Free()
		v.recognizer = nil
	}

	if v.model != nil {
		v.model.Free()
		v.model = nil
	}

	return nil
}
