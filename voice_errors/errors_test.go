package voice_errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	t.Run("wrapped errors keep their kind", func(t *testing.T) {
		base := New(EngineUnavailable, "vosk.init", "model missing")
		err := fmt.Errorf("capture: %w", base)

		assert.Equal(t, EngineUnavailable, KindOf(err))
		assert.True(t, Is(err, EngineUnavailable))
		assert.False(t, Is(err, CaptureFailure))
	})

	t.Run("foreign and nil errors are unknown", func(t *testing.T) {
		assert.Equal(t, Unknown, KindOf(errors.New("boom")))
		assert.Equal(t, Unknown, KindOf(nil))
		assert.False(t, Is(nil, Unknown))
	})
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("exit status 1")
	err := Wrap(CaptureFailure, "arecord", cause)
	err.Detail = "rc=1"

	assert.Equal(t, "[CaptureFailure] arecord: rc=1: exit status 1", err.Error())
	assert.ErrorIs(t, err, cause)
}
