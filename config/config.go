package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RecognitionConfig struct {
	Provider          string `yaml:"provider"`
	APIKey            string `yaml:"api_key"`
	URL               string `yaml:"url"`
	Model             string `yaml:"model"`
	NoSpeechTimeoutMS int    `yaml:"no_speech_timeout_ms"`
	FinalizeTimeoutMS int    `yaml:"finalize_timeout_ms"`
}

type AudioConfig struct {
	Device string `yaml:"device"`
	WAV    string `yaml:"wav"`
}

type UIConfig struct {
	CopyStatusMS int  `yaml:"copy_status_ms"`
	Beep         bool `yaml:"beep"`
}

type LogConfig struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	Bind string `yaml:"bind"`
}

type Config struct {
	Language    string            `yaml:"language"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Audio       AudioConfig       `yaml:"audio"`
	UI          UIConfig          `yaml:"ui"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

func Default() Config {
	return Config{
		Language: "bn-BD",
		Recognition: RecognitionConfig{
			Provider:          "deepgram",
			Model:             "nova-2",
			NoSpeechTimeoutMS: 8000,
			FinalizeTimeoutMS: 1000,
		},
		UI: UIConfig{
			CopyStatusMS: 2500,
			Beep:         true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path (when non-empty) over the defaults, then applies BOLO_*
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Language, "BOLO_LANGUAGE")
	overrideString(&cfg.Recognition.Provider, "BOLO_RECOGNITION_PROVIDER")
	overrideString(&cfg.Recognition.APIKey, "DEEPGRAM_API_KEY")
	overrideString(&cfg.Recognition.APIKey, "BOLO_RECOGNITION_API_KEY")
	overrideString(&cfg.Recognition.URL, "BOLO_RECOGNITION_URL")
	overrideString(&cfg.Recognition.Model, "BOLO_RECOGNITION_MODEL")
	overrideInt(&cfg.Recognition.NoSpeechTimeoutMS, "BOLO_RECOGNITION_NO_SPEECH_TIMEOUT_MS")
	overrideInt(&cfg.Recognition.FinalizeTimeoutMS, "BOLO_RECOGNITION_FINALIZE_TIMEOUT_MS")
	overrideString(&cfg.Audio.Device, "BOLO_AUDIO_DEVICE")
	overrideString(&cfg.Audio.WAV, "BOLO_AUDIO_WAV")
	overrideInt(&cfg.UI.CopyStatusMS, "BOLO_UI_COPY_STATUS_MS")
	overrideBool(&cfg.UI.Beep, "BOLO_UI_BEEP")
	overrideString(&cfg.Log.Path, "BOLO_LOG_PATH")
	overrideString(&cfg.Log.Level, "BOLO_LOG_LEVEL")
	overrideString(&cfg.Metrics.Bind, "BOLO_METRICS_BIND")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			*target = parsed
		}
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Language) == "" {
		return errors.New("language must not be empty")
	}
	switch c.Recognition.Provider {
	case "deepgram", "none":
	default:
		return fmt.Errorf("recognition.provider must be one of deepgram|none, got %q", c.Recognition.Provider)
	}
	if c.Recognition.NoSpeechTimeoutMS < 0 {
		return errors.New("recognition.no_speech_timeout_ms must be >= 0")
	}
	if c.Recognition.FinalizeTimeoutMS <= 0 {
		return errors.New("recognition.finalize_timeout_ms must be positive")
	}
	if c.UI.CopyStatusMS <= 0 {
		return errors.New("ui.copy_status_ms must be positive")
	}
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error", "disabled":
	default:
		return fmt.Errorf("log.level must be one of trace|debug|info|warn|error|disabled, got %q", c.Log.Level)
	}
	return nil
}

func (c Config) NoSpeechTimeout() time.Duration {
	return time.Duration(c.Recognition.NoSpeechTimeoutMS) * time.Millisecond
}

func (c Config) FinalizeTimeout() time.Duration {
	return time.Duration(c.Recognition.FinalizeTimeoutMS) * time.Millisecond
}

func (c Config) CopyStatusDelay() time.Duration {
	return time.Duration(c.UI.CopyStatusMS) * time.Millisecond
}
