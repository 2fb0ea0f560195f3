package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration.
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Database      DatabaseConfig      `yaml:"database"`
	Audio         AudioConfig         `yaml:"audio"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Analysis      AnalysisConfig      `yaml:"analysis"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains the control API server configuration.
type HTTPConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// DatabaseConfig contains the Postgres connection settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// AudioConfig contains capture parameters.
type AudioConfig struct {
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	FrameMs    int    `yaml:"frame_ms"`
	Device     string `yaml:"device"`   // empty selects the system default
	FakeWAV    string `yaml:"fake_wav"` // replay a WAV file instead of a real device
}

// TranscriptionConfig contains streaming transcription settings.
type TranscriptionConfig struct {
	Endpoint      string  `yaml:"endpoint"`
	APIKey        string  `yaml:"api_key"` // falls back to DEEPGRAM_API_KEY
	Model         string  `yaml:"model"`
	Language      string  `yaml:"language"`
	BaseDelay     float64 `yaml:"base_delay"` // seconds
	MaxDelay      float64 `yaml:"max_delay"`  // seconds
	MaxReconnects int     `yaml:"max_reconnects"`
}

// AnalysisConfig contains annotation service settings.
type AnalysisConfig struct {
	Endpoint       string  `yaml:"endpoint"`
	APIKey         string  `yaml:"api_key"`
	Timeout        int     `yaml:"timeout"`         // seconds
	ThrottleWindow float64 `yaml:"throttle_window"` // seconds between dispatches
	MinChars       int     `yaml:"min_chars"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = "0.0.0.0"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = 1
	}
	if c.Audio.FrameMs == 0 {
		c.Audio.FrameMs = 100
	}
	if c.Transcription.Endpoint == "" {
		c.Transcription.Endpoint = "wss://api.deepgram.com/v1/listen"
	}
	if c.Transcription.APIKey == "" {
		c.Transcription.APIKey = os.Getenv("DEEPGRAM_API_KEY")
	}
	if c.Transcription.Model == "" {
		c.Transcription.Model = "nova-2"
	}
	if c.Transcription.Language == "" {
		c.Transcription.Language = "en"
	}
	if c.Transcription.BaseDelay == 0 {
		c.Transcription.BaseDelay = 1
	}
	if c.Transcription.MaxDelay == 0 {
		c.Transcription.MaxDelay = 30
	}
	if c.Transcription.MaxReconnects == 0 {
		c.Transcription.MaxReconnects = 5
	}
	if c.Analysis.Timeout == 0 {
		c.Analysis.Timeout = 30
	}
	if c.Analysis.ThrottleWindow == 0 {
		c.Analysis.ThrottleWindow = 5
	}
	if c.Analysis.MinChars == 0 {
		c.Analysis.MinChars = 50
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stderr"
	}
}

// Validate performs validation of the configuration.
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}
	if err := c.Analysis.Validate(); err != nil {
		return fmt.Errorf("analysis config: %w", err)
	}
	return nil
}

func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}
	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	return nil
}

func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz, got %d", a.SampleRate)
	}
	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}
	if a.FrameMs < 20 || a.FrameMs > 1000 {
		return fmt.Errorf("frame_ms must be between 20 and 1000, got %d", a.FrameMs)
	}
	return nil
}

func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}
	if t.BaseDelay <= 0 {
		return fmt.Errorf("base_delay must be positive, got %f", t.BaseDelay)
	}
	if t.MaxDelay < t.BaseDelay {
		return fmt.Errorf("max_delay (%f) must be at least base_delay (%f)", t.MaxDelay, t.BaseDelay)
	}
	if t.MaxReconnects < 1 {
		return fmt.Errorf("max_reconnects must be at least 1, got %d", t.MaxReconnects)
	}
	return nil
}

func (a *AnalysisConfig) Validate() error {
	if a.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}
	if a.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", a.Timeout)
	}
	if a.ThrottleWindow <= 0 {
		return fmt.Errorf("throttle_window must be positive, got %f", a.ThrottleWindow)
	}
	if a.MinChars < 1 {
		return fmt.Errorf("min_chars must be at least 1, got %d", a.MinChars)
	}
	return nil
}

// GetFrameDuration returns the audio frame duration as a time.Duration.
func (a *AudioConfig) GetFrameDuration() time.Duration {
	return time.Duration(a.FrameMs) * time.Millisecond
}

// GetBaseDelay returns the reconnect base delay as a time.Duration.
func (t *TranscriptionConfig) GetBaseDelay() time.Duration {
	return time.Duration(t.BaseDelay * float64(time.Second))
}

// GetMaxDelay returns the reconnect delay cap as a time.Duration.
func (t *TranscriptionConfig) GetMaxDelay() time.Duration {
	return time.Duration(t.MaxDelay * float64(time.Second))
}

// GetTimeout returns the analysis request timeout as a time.Duration.
func (a *AnalysisConfig) GetTimeout() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}

// GetThrottleWindow returns the minimum time between dispatches.
func (a *AnalysisConfig) GetThrottleWindow() time.Duration {
	return time.Duration(a.ThrottleWindow * float64(time.Second))
}
