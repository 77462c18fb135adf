package voice_config

import (
	"bytes"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"scanner-voice/voice_errors"
)

type Config struct {
	FileSys afero.Fs
	Path    string
	Logger  *logrus.Logger
}

// Store owns the persisted control document. It is shared by the voice loop and by the
// control commands; every write is a whole-document atomic replace, so concurrent writers
// resolve as last-writer-wins.
type Store struct {
	fs       afero.Fs
	path     string
	log      *logrus.Logger
	validate *validator.Validate
}

func New(cfg *Config) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.FileSys == nil {
		return nil, fmt.Errorf("fileSys is nil")
	}

	if cfg.Path == "" {
		return nil, fmt.Errorf("path is empty")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	return &Store{
		fs:       cfg.FileSys,
		path:     cfg.Path,
		log:      cfg.Logger,
		validate: validator.New(),
	}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Defaults() *VoiceConfig {
	return Default(filepath.Dir(s.path))
}

// Load reads the document, creating it with defaults when missing. A key holding a value of
// the wrong type falls back on its own; only a document that is not a JSON object is replaced
// by defaults on disk. Only filesystem failures are returned.
func (s *Store) Load() (*VoiceConfig, error) {
	def := s.Defaults()

	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := s.Save(def); err != nil {
			return nil, err
		}
		return def, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	cfg := s.Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return s.heal(voice_errors.Wrap(voice_errors.ConfigCorruption, "voice_config.load", err))
	}

	if len(cfg.issues) > 0 {
		s.log.WithFields(logrus.Fields{
			"path":   s.path,
			"issues": cfg.issues,
		}).Warn("voice config keys with the wrong type")
		cfg.issues = nil
	}

	cfg.normalize(def)

	if err := s.validate.Struct(cfg); err != nil {
		return s.heal(voice_errors.Wrap(voice_errors.ConfigCorruption, "voice_config.validate", err))
	}

	return cfg, nil
}

func (s *Store) heal(cause error) (*VoiceConfig, error) {
	s.log.WithFields(logrus.Fields{
		"path":  s.path,
		"error": cause.Error(),
	}).Warn("voice config unreadable, regenerating defaults")

	def := s.Defaults()
	if err := s.Save(def); err != nil {
		return nil, err
	}
	return def, nil
}

// Save writes cfg to a temporary file next to the document and renames it into place.
func (s *Store) Save(cfg *VoiceConfig) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(s.path), err)
	}

	data, err := Encode(cfg)
	if err != nil {
		return err
	}

	return WriteFileAtomic(s.fs, s.path, data)
}

// Encode renders cfg as the on-disk document: two-space indented JSON.
func Encode(cfg *VoiceConfig) ([]byte, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode voice config: %w", err)
	}

	// custom marshalers bypass jsoniter's indentation
	var buf bytes.Buffer
	if err := stdjson.Indent(&buf, data, "", "  "); err != nil {
		return nil, fmt.Errorf("indent voice config: %w", err)
	}
	buf.WriteByte('\n')

	return buf.Bytes(), nil
}

// Patch is a read-modify-write of the whole document. A mutation that leaves the document
// invalid is rejected and nothing is written.
func (s *Store) Patch(mutate func(cfg *VoiceConfig) error) (*VoiceConfig, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}

	if err := mutate(cfg); err != nil {
		return nil, err
	}

	if err := s.validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid voice config patch: %w", err)
	}

	if err := s.Save(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SetMode persists only the mode field.
func (s *Store) SetMode(m Mode) error {
	if !m.Valid() {
		return fmt.Errorf("invalid mode %q", m)
	}

	_, err := s.Patch(func(cfg *VoiceConfig) error {
		cfg.Mode = m
		return nil
	})
	return err
}

// WriteFileAtomic writes data to path+".tmp", syncs it and renames it over path, so readers
// never observe a partially written file.
func WriteFileAtomic(fsys afero.Fs, path string, data []byte) error {
	tmp := path + ".tmp"

	f, err := fsys.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", tmp, err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", tmp, err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync %s: %w", tmp, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}

	if err := fsys.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}

	return nil
}
