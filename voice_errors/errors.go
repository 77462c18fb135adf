// Package voice_errors defines the failure taxonomy shared by every I/O boundary of the voice
// service. Each boundary returns a *Error so the loop can decide between logging, transitioning
// and retrying without inspecting message text.
package voice_errors

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Unknown Kind = iota
	CaptureFailure
	TranscriptionFailure
	EngineUnavailable
	ConfigCorruption
	LLMConfigError
	LLMTransportError
	LLMRejected
	OutputFailure
)

func (k Kind) String() string {
	switch k {
	case CaptureFailure:
		return "CaptureFailure"
	case TranscriptionFailure:
		return "TranscriptionFailure"
	case EngineUnavailable:
		return "EngineUnavailable"
	case ConfigCorruption:
		return "ConfigCorruption"
	case LLMConfigError:
		return "LLMConfigError"
	case LLMTransportError:
		return "LLMTransportError"
	case LLMRejected:
		return "LLMRejected"
	case OutputFailure:
		return "OutputFailure"
	default:
		return "Unknown"
	}
}

type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns Unknown for nil errors and for errors outside the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
