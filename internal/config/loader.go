package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Synthesis
	if cfg.Synthesis.VoiceID == "" {
		slog.Warn("synthesis.voice_id is empty; the backend's default voice will be used")
	}
	if cfg.Synthesis.Speed != 0 {
		if cfg.Synthesis.Speed < 0.5 || cfg.Synthesis.Speed > 2.0 {
			errs = append(errs, fmt.Errorf("synthesis.speed %.2f is out of range [0.5, 2.0]", cfg.Synthesis.Speed))
		}
	}
	for i, voice := range cfg.Synthesis.FallbackVoices {
		if voice == "" {
			errs = append(errs, fmt.Errorf("synthesis.fallback_voices[%d] is empty", i))
		}
		if voice == cfg.Synthesis.VoiceID {
			slog.Warn("fallback voice duplicates the primary voice", "voice", voice)
		}
	}

	// Pipeline
	if cfg.Pipeline.MaxSentenceLookahead < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_sentence_lookahead %d is negative", cfg.Pipeline.MaxSentenceLookahead))
	}
	if cfg.Pipeline.MaxParagraphWindow < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_paragraph_window %d is negative", cfg.Pipeline.MaxParagraphWindow))
	}
	if cfg.Pipeline.MaxBufferBytes < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_buffer_bytes %d is negative", cfg.Pipeline.MaxBufferBytes))
	}
	if cfg.Pipeline.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_retries %d is negative", cfg.Pipeline.MaxRetries))
	}
	if cfg.Pipeline.Workers < 0 {
		errs = append(errs, fmt.Errorf("pipeline.workers %d is negative", cfg.Pipeline.Workers))
	}

	// Cache
	if cfg.Cache.Backend != "" && !cfg.Cache.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("cache.backend %q is invalid; valid values: sqlite, postgres, none", cfg.Cache.Backend))
	}
	switch cfg.Cache.Backend {
	case CachePostgres:
		if cfg.Cache.PostgresDSN == "" {
			errs = append(errs, errors.New("cache.postgres_dsn is required when cache.backend is postgres"))
		}
	case CacheNone:
		slog.Warn("cache.backend is none; alignments will be recomputed after every restart")
	}

	return errors.Join(errs...)
}
