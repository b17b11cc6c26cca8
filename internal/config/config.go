// Package config provides the configuration schema, loader, and provider
// registry for the earshot monitoring pipeline.
package config

import "time"

// LogLevel controls log verbosity for the earshot server.
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

// AudioSource selects where the pipeline captures audio from.
type AudioSource string

const (
	// SourcePulse captures the default PulseAudio monitor via parec.
	SourcePulse AudioSource = "pulse"

	// SourceDiscord captures a single user's stream from a Discord voice channel.
	SourceDiscord AudioSource = "discord"

	// SourceMock is a scripted in-process source for tests and dry runs.
	SourceMock AudioSource = "mock"
)

// IsValid reports whether s is a recognised audio source.
func (s AudioSource) IsValid() bool {
	switch s {
	case SourcePulse, SourceDiscord, SourceMock:
		return true
	}
	return false
}

// Config is the root configuration structure for earshot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Audio       AudioConfig       `yaml:"audio"`
	VAD         VADConfig         `yaml:"vad"`
	Segmenter   SegmenterConfig   `yaml:"segmenter"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Knowledge   KnowledgeConfig   `yaml:"knowledge"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
}

// ServerConfig holds network and logging settings for the earshot server.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP/WebSocket server listens on.
	// Default: ":5001".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Default: "info".
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig selects and parameterises the capture source.
type AudioConfig struct {
	// Source selects the capture backend.
	Source AudioSource `yaml:"source"`

	// SampleRate is the capture rate in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the channel count. Only mono capture is supported.
	// Default: 1.
	Channels int `yaml:"channels"`

	// FrameMs is the duration of each captured frame in milliseconds.
	// Default: 20.
	FrameMs int `yaml:"frame_ms"`

	// Pulse configures the PulseAudio source. Ignored for other sources.
	Pulse PulseConfig `yaml:"pulse"`

	// Discord configures the Discord voice source. Ignored for other sources.
	Discord DiscordConfig `yaml:"discord"`
}

// PulseConfig holds PulseAudio capture settings.
type PulseConfig struct {
	// Device is the PulseAudio source name passed to parec.
	// Empty selects the default monitor.
	Device string `yaml:"device"`
}

// DiscordConfig holds Discord voice capture settings.
type DiscordConfig struct {
	// Token is the bot token.
	Token string `yaml:"token"`

	// GuildID is the server hosting the voice channel.
	GuildID string `yaml:"guild_id"`

	// ChannelID is the voice channel to join.
	ChannelID string `yaml:"channel_id"`

	// UserID restricts capture to a single speaker's stream. Empty captures
	// the mixed channel audio.
	UserID string `yaml:"user_id"`
}

// VADConfig tunes the RMS energy classifier.
type VADConfig struct {
	// SpeechThreshold is the RMS level above which a frame counts as voiced.
	// Default: 0.015.
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// SilenceThreshold is the RMS level below which an in-speech frame counts
	// as silent. Must not exceed SpeechThreshold. Default: 0.008.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// SpeechFrames is the number of consecutive voiced frames required to
	// enter speech. Default: 3.
	SpeechFrames int `yaml:"speech_frames"`
}

// SegmenterConfig tunes utterance boundary detection.
type SegmenterConfig struct {
	// HangoverMs is the trailing silence, in milliseconds, that ends an open
	// utterance. Default: 600.
	HangoverMs int `yaml:"hangover_ms"`

	// MinUtteranceMs discards finalized utterances shorter than this.
	// Default: 300.
	MinUtteranceMs int `yaml:"min_utterance_ms"`

	// MaxUtteranceS force-finalizes an utterance that reaches this length in
	// seconds. Default: 30.
	MaxUtteranceS int `yaml:"max_utterance_s"`

	// QueueSize bounds the finalized-utterance queue; when full the oldest
	// pending utterance is dropped. Default: 8.
	QueueSize int `yaml:"queue_size"`
}

// CalibrationConfig tunes the one-time speaker binding phase.
type CalibrationConfig struct {
	// WindowS is the length of the audio window, in seconds, diarized per
	// calibration attempt. Default: 10.
	WindowS int `yaml:"window_s"`

	// MaxRetries is the number of calibration attempts before giving up.
	// Default: 3.
	MaxRetries int `yaml:"max_retries"`

	// DisplayName labels the bound speaker in emitted events.
	// Default: "participant".
	DisplayName string `yaml:"display_name"`
}

// ProvidersConfig declares which backend to use for each pipeline stage.
// Each Name selects a factory registered in the [Registry].
type ProvidersConfig struct {
	Diarize ProviderEntry `yaml:"diarize"`
	STT     STTConfig     `yaml:"stt"`
	LLM     LLMConfig     `yaml:"llm"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "pyannote",
	// "whispercpp", "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "ggml-base.bin", "llama3.2:3b").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// STTConfig configures the transcription backend.
type STTConfig struct {
	ProviderEntry `yaml:",inline"`

	// Language is the BCP-47 hint passed with every transcription request.
	// Default: "es".
	Language string `yaml:"language"`
}

// LLMConfig configures the reply-generation backend.
type LLMConfig struct {
	ProviderEntry `yaml:",inline"`

	// MaxTokens caps the generated reply length. Default: 150.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls output randomness in [0.0, 2.0]. Zero uses the
	// backend default.
	Temperature float64 `yaml:"temperature"`

	// PromptTemplate shapes the generation prompt. A template containing the
	// {transcription} placeholder is rendered with each transcript and sent
	// as the user message; without the placeholder it is the system prompt
	// and the transcript is delivered as the user message. Empty uses the
	// built-in prompt.
	PromptTemplate string `yaml:"prompt_template"`
}

// KnowledgeConfig configures the optional background-knowledge store. When
// DSN is empty the feature is off and replies are generated from the
// transcript alone. The store is a static, pre-indexed knowledge base;
// session audio and transcripts are never written to it.
type KnowledgeConfig struct {
	// DSN is the PostgreSQL connection string for the pgvector-backed
	// chunks table. Empty disables knowledge retrieval.
	DSN string `yaml:"dsn"`

	// Embedder selects the embedding backend used for both indexing and
	// per-transcript queries. Required when DSN is set.
	Embedder ProviderEntry `yaml:"embedder"`

	// TopK is the number of snippets retrieved per transcript. Default: 3.
	TopK int `yaml:"top_k"`

	// TimeoutS bounds each retrieval (embed + search) in seconds.
	// Default: 5.
	TimeoutS int `yaml:"timeout_s"`

	// SeedDir, when set, names a directory whose .txt and .md files are
	// indexed into the store at startup, one document per file.
	SeedDir string `yaml:"seed_dir"`
}

// Timeout returns the per-retrieval deadline.
func (k KnowledgeConfig) Timeout() time.Duration {
	return time.Duration(k.TimeoutS) * time.Second
}

// PipelineConfig tunes the downstream utterance pipeline.
type PipelineConfig struct {
	// AttributeTimeoutS bounds each diarization call in seconds. Default: 10.
	AttributeTimeoutS int `yaml:"attribute_timeout_s"`

	// TranscribeTimeoutS bounds each transcription call in seconds. Default: 30.
	TranscribeTimeoutS int `yaml:"transcribe_timeout_s"`

	// GenerateTimeoutS bounds each reply-generation call in seconds. Default: 30.
	GenerateTimeoutS int `yaml:"generate_timeout_s"`

	// FailureThreshold is the number of consecutive provider failures that
	// flips the pipeline into degraded mode. Default: 5.
	FailureThreshold int `yaml:"failure_threshold"`
}

// AttributeTimeout returns the per-call diarization deadline.
func (p PipelineConfig) AttributeTimeout() time.Duration {
	return time.Duration(p.AttributeTimeoutS) * time.Second
}

// TranscribeTimeout returns the per-call transcription deadline.
func (p PipelineConfig) TranscribeTimeout() time.Duration {
	return time.Duration(p.TranscribeTimeoutS) * time.Second
}

// GenerateTimeout returns the per-call generation deadline.
func (p PipelineConfig) GenerateTimeout() time.Duration {
	return time.Duration(p.GenerateTimeoutS) * time.Second
}

// Hangover returns the segmenter hangover as a duration.
func (s SegmenterConfig) Hangover() time.Duration {
	return time.Duration(s.HangoverMs) * time.Millisecond
}

// MinUtterance returns the minimum utterance length as a duration.
func (s SegmenterConfig) MinUtterance() time.Duration {
	return time.Duration(s.MinUtteranceMs) * time.Millisecond
}

// MaxUtterance returns the utterance length cap as a duration.
func (s SegmenterConfig) MaxUtterance() time.Duration {
	return time.Duration(s.MaxUtteranceS) * time.Second
}

// Window returns the calibration window as a duration.
func (c CalibrationConfig) Window() time.Duration {
	return time.Duration(c.WindowS) * time.Second
}

// ApplyDefaults fills zero-valued fields with their documented defaults.
// It is called by [LoadFromReader] before validation.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":5001"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.FrameMs == 0 {
		cfg.Audio.FrameMs = 20
	}
	if cfg.VAD.SpeechThreshold == 0 {
		cfg.VAD.SpeechThreshold = 0.015
	}
	if cfg.VAD.SilenceThreshold == 0 {
		cfg.VAD.SilenceThreshold = 0.008
	}
	if cfg.VAD.SpeechFrames == 0 {
		cfg.VAD.SpeechFrames = 3
	}
	if cfg.Segmenter.HangoverMs == 0 {
		cfg.Segmenter.HangoverMs = 600
	}
	if cfg.Segmenter.MinUtteranceMs == 0 {
		cfg.Segmenter.MinUtteranceMs = 300
	}
	if cfg.Segmenter.MaxUtteranceS == 0 {
		cfg.Segmenter.MaxUtteranceS = 30
	}
	if cfg.Segmenter.QueueSize == 0 {
		cfg.Segmenter.QueueSize = 8
	}
	if cfg.Calibration.WindowS == 0 {
		cfg.Calibration.WindowS = 10
	}
	if cfg.Calibration.MaxRetries == 0 {
		cfg.Calibration.MaxRetries = 3
	}
	if cfg.Calibration.DisplayName == "" {
		cfg.Calibration.DisplayName = "participant"
	}
	if cfg.Providers.STT.Language == "" {
		cfg.Providers.STT.Language = "es"
	}
	if cfg.Providers.LLM.MaxTokens == 0 {
		cfg.Providers.LLM.MaxTokens = 150
	}
	if cfg.Knowledge.TopK == 0 {
		cfg.Knowledge.TopK = 3
	}
	if cfg.Knowledge.TimeoutS == 0 {
		cfg.Knowledge.TimeoutS = 5
	}
	if cfg.Pipeline.AttributeTimeoutS == 0 {
		cfg.Pipeline.AttributeTimeoutS = 10
	}
	if cfg.Pipeline.TranscribeTimeoutS == 0 {
		cfg.Pipeline.TranscribeTimeoutS = 30
	}
	if cfg.Pipeline.GenerateTimeoutS == 0 {
		cfg.Pipeline.GenerateTimeoutS = 30
	}
	if cfg.Pipeline.FailureThreshold == 0 {
		cfg.Pipeline.FailureThreshold = 5
	}
}
