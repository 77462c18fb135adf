package llm

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"

	"scanner-voice/voice_config"
)

// TimestampLayout is the local time format of SessionState.UpdatedAt.
const TimestampLayout = "2006-01-02-15:04:05"

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary

	safeID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// SessionState is the continuation document kept next to the voice config.
type SessionState struct {
	SessionID          string `json:"session_id,omitempty"`
	PreviousResponseID string `json:"previous_response_id,omitempty"`
	UpdatedAt          string `json:"updated_at,omitempty"`
}

func IsSafeID(id string) bool {
	return safeID.MatchString(id)
}

type SessionStore struct {
	fileSys afero.Fs
	path    string
}

func NewSessionStore(fileSys afero.Fs, path string) *SessionStore {
	return &SessionStore{
		fileSys: fileSys,
		path:    path,
	}
}

// Load returns an empty state when the document is missing. A document that does not parse
// is reported alongside an empty state.
func (s *SessionStore) Load() (SessionState, error) {
	var state SessionState

	data, err := afero.ReadFile(s.fileSys, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("read %s: %w", s.path, err)
	}

	if err := json.Unmarshal(data, &state); err != nil {
		return SessionState{}, fmt.Errorf("parse %s: %w", s.path, err)
	}

	return state, nil
}

func (s *SessionStore) Save(state SessionState) error {
	if err := s.fileSys.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(s.path), err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	return voice_config.WriteFileAtomic(s.fileSys, s.path, data)
}
