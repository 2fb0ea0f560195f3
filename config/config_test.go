package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		HTTP: HTTPConfig{Address: "0.0.0.0", Port: 8080},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			FrameMs:    100,
		},
		Transcription: TranscriptionConfig{
			Endpoint:      "wss://api.deepgram.com/v1/listen",
			APIKey:        "test-key",
			BaseDelay:     1,
			MaxDelay:      30,
			MaxReconnects: 5,
		},
		Analysis: AnalysisConfig{
			Endpoint:       "https://api.example.com/analyze",
			Timeout:        30,
			ThrottleWindow: 5,
			MinChars:       50,
		},
		Logging: LoggingConfig{Level: "info", Output: "stderr"},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{name: "valid configuration", mutate: func(*Config) {}},
		{
			name:        "invalid http port",
			mutate:      func(c *Config) { c.HTTP.Port = 70000 },
			expectError: true,
		},
		{
			name:        "wrong sample rate",
			mutate:      func(c *Config) { c.Audio.SampleRate = 44100 },
			expectError: true,
		},
		{
			name:        "stereo rejected",
			mutate:      func(c *Config) { c.Audio.Channels = 2 },
			expectError: true,
		},
		{
			name:        "max delay below base delay",
			mutate:      func(c *Config) { c.Transcription.MaxDelay = 0.5 },
			expectError: true,
		},
		{
			name:        "zero reconnect attempts",
			mutate:      func(c *Config) { c.Transcription.MaxReconnects = 0 },
			expectError: true,
		},
		{
			name:        "missing analysis endpoint",
			mutate:      func(c *Config) { c.Analysis.Endpoint = "" },
			expectError: true,
		},
		{
			name:        "zero throttle window",
			mutate:      func(c *Config) { c.Analysis.ThrottleWindow = 0 },
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.expectError && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	yaml := `
analysis:
  endpoint: "https://api.example.com/analyze"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.Transcription.MaxReconnects != 5 {
		t.Errorf("MaxReconnects = %d, want 5", cfg.Transcription.MaxReconnects)
	}
	if got := cfg.Transcription.GetBaseDelay(); got != time.Second {
		t.Errorf("GetBaseDelay = %v, want 1s", got)
	}
	if got := cfg.Transcription.GetMaxDelay(); got != 30*time.Second {
		t.Errorf("GetMaxDelay = %v, want 30s", got)
	}
	if got := cfg.Analysis.GetThrottleWindow(); got != 5*time.Second {
		t.Errorf("GetThrottleWindow = %v, want 5s", got)
	}
	if got := cfg.Audio.GetFrameDuration(); got != 100*time.Millisecond {
		t.Errorf("GetFrameDuration = %v, want 100ms", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("audio: [not a map"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed yaml")
	}
}
