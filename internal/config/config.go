// Package config provides the configuration schema and loader for the
// Paperwave research-paper assistant service.
package config

// LogLevel controls log verbosity for the Paperwave server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Paperwave.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	LLM    LLMConfig    `yaml:"llm"`
	Live   LiveConfig   `yaml:"live"`
	Audio  AudioConfig  `yaml:"audio"`
	Papers PapersConfig `yaml:"papers"`
}

// ServerConfig holds network and logging settings for the Paperwave server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// LLMConfig selects the language model used for paper summarisation and
// grounded chat.
type LLMConfig struct {
	// Provider selects the backend (e.g., "openai", "anthropic", "ollama").
	Provider string `yaml:"provider"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// APIKey is the authentication key for the provider's API, if any.
	// Falls back to the provider's environment variable when empty.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`
}

// LiveConfig selects the real-time voice backend.
type LiveConfig struct {
	// Model is the live voice model (e.g., "gemini-2.0-flash-live-001").
	Model string `yaml:"model"`

	// Voice selects the prebuilt voice for synthesised speech output.
	Voice string `yaml:"voice"`

	// APIKey is the authentication key for the live service.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the default WebSocket endpoint. Used in tests.
	BaseURL string `yaml:"base_url"`
}

// AudioConfig holds the fixed parameters of the audio pipeline.
type AudioConfig struct {
	// CaptureRate is the microphone sample rate in Hz. Default: 16000.
	CaptureRate int `yaml:"capture_rate"`

	// BlockSize is the samples-per-block count for capture. Default: 4096.
	BlockSize int `yaml:"block_size"`

	// PlaybackRate is the inbound synthesised-audio sample rate in Hz.
	// Default: 24000.
	PlaybackRate int `yaml:"playback_rate"`
}

// PapersConfig holds settings for the paper summary fetcher.
type PapersConfig struct {
	// DefaultCount is the number of paper records requested when the caller
	// does not specify one. Default: 5.
	DefaultCount int `yaml:"default_count"`

	// MaxCount caps the per-request paper count. Default: 20.
	MaxCount int `yaml:"max_count"`
}
