package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/lectern/internal/config"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: debug
synthesis:
  backend: piper
  voice_id: en-amy
  speed: 1.25
  fallback_voices:
    - en-brian
    - en-kate
  options:
    model_path: /opt/voices/amy.onnx
pipeline:
  max_sentence_lookahead: 6
  max_paragraph_window: 3
  max_buffer_bytes: 16777216
  max_retries: 2
  workers: 4
cache:
  backend: sqlite
  path: /var/lib/lectern/alignments.db
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Synthesis.Backend != "piper" {
		t.Errorf("synthesis.backend: got %q, want %q", cfg.Synthesis.Backend, "piper")
	}
	if cfg.Synthesis.VoiceID != "en-amy" {
		t.Errorf("synthesis.voice_id: got %q, want %q", cfg.Synthesis.VoiceID, "en-amy")
	}
	if cfg.Synthesis.Speed != 1.25 {
		t.Errorf("synthesis.speed: got %v, want 1.25", cfg.Synthesis.Speed)
	}
	if len(cfg.Synthesis.FallbackVoices) != 2 || cfg.Synthesis.FallbackVoices[0] != "en-brian" {
		t.Errorf("fallback_voices: got %v, want [en-brian en-kate]", cfg.Synthesis.FallbackVoices)
	}
	if got, ok := cfg.Synthesis.Options["model_path"].(string); !ok || got != "/opt/voices/amy.onnx" {
		t.Errorf("options.model_path: got %v", cfg.Synthesis.Options["model_path"])
	}
	if cfg.Pipeline.MaxSentenceLookahead != 6 {
		t.Errorf("max_sentence_lookahead: got %d, want 6", cfg.Pipeline.MaxSentenceLookahead)
	}
	if cfg.Pipeline.Workers != 4 {
		t.Errorf("workers: got %d, want 4", cfg.Pipeline.Workers)
	}
	if cfg.Cache.Backend != config.CacheSQLite {
		t.Errorf("cache.backend: got %q, want %q", cfg.Cache.Backend, config.CacheSQLite)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  log_level: info
  port: 8080
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_MalformedYAML(t *testing.T) {
	t.Parallel()

	if _, err := config.LoadFromReader(strings.NewReader("server: [")); err == nil {
		t.Fatal("expected error for malformed yaml, got nil")
	}
}

func TestValidate_Failures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantSub string
	}{
		{
			name:    "invalid log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = "verbose" },
			wantSub: "log_level",
		},
		{
			name:    "speed too slow",
			mutate:  func(c *config.Config) { c.Synthesis.Speed = 0.25 },
			wantSub: "speed",
		},
		{
			name:    "speed too fast",
			mutate:  func(c *config.Config) { c.Synthesis.Speed = 3.5 },
			wantSub: "speed",
		},
		{
			name:    "empty fallback voice",
			mutate:  func(c *config.Config) { c.Synthesis.FallbackVoices = []string{""} },
			wantSub: "fallback_voices",
		},
		{
			name:    "negative lookahead",
			mutate:  func(c *config.Config) { c.Pipeline.MaxSentenceLookahead = -1 },
			wantSub: "max_sentence_lookahead",
		},
		{
			name:    "negative workers",
			mutate:  func(c *config.Config) { c.Pipeline.Workers = -2 },
			wantSub: "workers",
		},
		{
			name:    "unknown cache backend",
			mutate:  func(c *config.Config) { c.Cache.Backend = "redis" },
			wantSub: "cache.backend",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *config.Config) { c.Cache.Backend = config.CachePostgres },
			wantSub: "postgres_dsn",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{}
			tc.mutate(cfg)
			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

func TestValidate_MultipleErrorsJoined(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Server.LogLevel = "loud"
	cfg.Synthesis.Speed = 9
	cfg.Pipeline.MaxRetries = -1

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	for _, sub := range []string{"log_level", "speed", "max_retries"} {
		if !strings.Contains(err.Error(), sub) {
			t.Errorf("joined error %q does not mention %q", err, sub)
		}
	}
}

func TestValidate_ZeroConfigIsValid(t *testing.T) {
	t.Parallel()

	// All zero values fall back to defaults elsewhere; nothing to reject.
	if err := config.Validate(&config.Config{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Synthesis.VoiceID != "en-amy" {
		t.Errorf("voice_id: got %q, want %q", cfg.Synthesis.VoiceID, "en-amy")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	t.Parallel()

	if _, err := config.Load("/nonexistent/lectern.yaml"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}
