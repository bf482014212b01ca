package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidLLMProviders lists known LLM backend names. Used by [Validate] to
// warn about unrecognised provider names.
var ValidLLMProviders = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Audio.CaptureRate == 0 {
		cfg.Audio.CaptureRate = 16000
	}
	if cfg.Audio.BlockSize == 0 {
		cfg.Audio.BlockSize = 4096
	}
	if cfg.Audio.PlaybackRate == 0 {
		cfg.Audio.PlaybackRate = 24000
	}
	if cfg.Papers.DefaultCount == 0 {
		cfg.Papers.DefaultCount = 5
	}
	if cfg.Papers.MaxCount == 0 {
		cfg.Papers.MaxCount = 20
	}
	if cfg.Live.Model == "" {
		cfg.Live.Model = "gemini-2.0-flash-live-001"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.LLM.Provider != "" && !slices.Contains(ValidLLMProviders, cfg.LLM.Provider) {
		slog.Warn("unknown llm provider name — may be a typo or third-party provider",
			"name", cfg.LLM.Provider,
			"known", ValidLLMProviders,
		)
	}
	if cfg.LLM.Provider != "" && cfg.LLM.Model == "" {
		errs = append(errs, fmt.Errorf("llm.model is required when llm.provider is set"))
	}
	if cfg.LLM.Provider == "" {
		slog.Warn("no llm provider configured; paper search and chat will be unavailable")
	}

	if cfg.Live.APIKey == "" {
		slog.Warn("live.api_key is empty; the voice agent will be unavailable")
	}

	if cfg.Audio.CaptureRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.capture_rate %d must be positive", cfg.Audio.CaptureRate))
	}
	if cfg.Audio.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must be positive", cfg.Audio.BlockSize))
	}
	if cfg.Audio.PlaybackRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.playback_rate %d must be positive", cfg.Audio.PlaybackRate))
	}

	if cfg.Papers.DefaultCount < 1 {
		errs = append(errs, fmt.Errorf("papers.default_count %d must be at least 1", cfg.Papers.DefaultCount))
	}
	if cfg.Papers.MaxCount < cfg.Papers.DefaultCount {
		errs = append(errs, fmt.Errorf("papers.max_count %d must be >= papers.default_count %d", cfg.Papers.MaxCount, cfg.Papers.DefaultCount))
	}

	return errors.Join(errs...)
}
