package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "SCANNER_VOICE"

// Settings are the process-level paths. They come from flags, SCANNER_VOICE_* variables or an
// env file, in that order of precedence.
type Settings struct {
	BaseDir      string `mapstructure:"base_dir"`
	VoiceDir     string `mapstructure:"voice_dir"`
	Config       string `mapstructure:"config"`
	State        string `mapstructure:"state"`
	IdentityFile string `mapstructure:"identity_file"`
	LogFile      string `mapstructure:"log_file"`
	LogLevel     string `mapstructure:"log_level"`
	ScratchWav   string `mapstructure:"scratch_wav"`
	TTSScript    string `mapstructure:"tts_script"`
	ServiceName  string `mapstructure:"service_name"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
}

var settingFlags = []struct {
	key, flag, def, usage string
}{
	{"base_dir", "base-dir", "/home/pi/_RunScanner", "scanner base directory"},
	{"voice_dir", "voice-dir", "", "voice directory (default <base-dir>/voice)"},
	{"config", "config", "", "voice config document (default <voice-dir>/voice_config.json)"},
	{"state", "state", "", "llm session state (default <voice-dir>/llm_state.json)"},
	{"identity_file", "identity-file", "", "unit identity file (default <base-dir>/scanner_name.txt)"},
	{"log_file", "log-file", "", "rotating log file (default <voice-dir>/voice_service.log)"},
	{"log_level", "log-level", "info", "log level"},
	{"scratch_wav", "scratch-wav", "/tmp/voice_chunk.wav", "scratch file for recorded chunks"},
	{"tts_script", "tts-script", "", "speech script (default <base-dir>/av/tts_say.sh)"},
	{"service_name", "service-name", "scanner-voice.service", "systemd unit of the voice service"},
	{"metrics_addr", "metrics-addr", "", "serve prometheus metrics on this address when set"},
}

func bindSettings(cmd *cobra.Command, v *viper.Viper) error {
	flags := cmd.PersistentFlags()
	flags.String("env-file", ".env", "optional env file")

	for _, s := range settingFlags {
		flags.String(s.flag, s.def, s.usage)
		v.SetDefault(s.key, s.def)
		if err := v.BindPFlag(s.key, flags.Lookup(s.flag)); err != nil {
			return err
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return nil
}

// loadSettings reads the env file, if any, then resolves every path left empty.
func loadSettings(cmd *cobra.Command, v *viper.Viper) (Settings, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile != "" {
		err := godotenv.Load(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Settings{}, fmt.Errorf("env file %s: %w", envFile, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("settings: %w", err)
	}

	s.resolve()

	return s, nil
}

func (s *Settings) resolve() {
	if s.BaseDir == "" {
		s.BaseDir = "/home/pi/_RunScanner"
	}

	s.VoiceDir = orDefault(s.VoiceDir, filepath.Join(s.BaseDir, "voice"))
	s.Config = orDefault(s.Config, filepath.Join(s.VoiceDir, "voice_config.json"))
	s.State = orDefault(s.State, filepath.Join(s.VoiceDir, "llm_state.json"))
	s.IdentityFile = orDefault(s.IdentityFile, filepath.Join(s.BaseDir, "scanner_name.txt"))
	s.LogFile = orDefault(s.LogFile, filepath.Join(s.VoiceDir, "voice_service.log"))
	s.ScratchWav = orDefault(s.ScratchWav, filepath.Join(os.TempDir(), "voice_chunk.wav"))
	s.TTSScript = orDefault(s.TTSScript, filepath.Join(s.BaseDir, "av", "tts_say.sh"))
	s.ServiceName = orDefault(s.ServiceName, "scanner-voice.service")
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
