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

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"diarize": {"pyannote", "mock"},
	"stt":     {"whispercpp", "whisper-server", "mock"},
	"llm":     {"ollama", "openai", "anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "mock"},
	"embed":   {"ollama", "openai", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, fills defaults, and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Validate assumes defaults have already been applied.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if cfg.Audio.Source == "" {
		errs = append(errs, errors.New("audio.source is required; valid values: pulse, discord, mock"))
	} else if !cfg.Audio.Source.IsValid() {
		errs = append(errs, fmt.Errorf("audio.source %q is invalid; valid values: pulse, discord, mock", cfg.Audio.Source))
	}
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels != 1 {
		errs = append(errs, fmt.Errorf("audio.channels %d is unsupported; only mono capture is implemented", cfg.Audio.Channels))
	}
	if cfg.Audio.FrameMs <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d must be positive", cfg.Audio.FrameMs))
	}
	if cfg.Audio.Source == SourceDiscord {
		if cfg.Audio.Discord.Token == "" {
			errs = append(errs, errors.New("audio.discord.token is required when audio.source is discord"))
		}
		if cfg.Audio.Discord.GuildID == "" {
			errs = append(errs, errors.New("audio.discord.guild_id is required when audio.source is discord"))
		}
		if cfg.Audio.Discord.ChannelID == "" {
			errs = append(errs, errors.New("audio.discord.channel_id is required when audio.source is discord"))
		}
	}

	// VAD
	if cfg.VAD.SpeechThreshold <= 0 {
		errs = append(errs, fmt.Errorf("vad.speech_threshold %.4f must be positive", cfg.VAD.SpeechThreshold))
	}
	if cfg.VAD.SilenceThreshold <= 0 {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %.4f must be positive", cfg.VAD.SilenceThreshold))
	}
	if cfg.VAD.SilenceThreshold > cfg.VAD.SpeechThreshold {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %.4f must not exceed vad.speech_threshold %.4f", cfg.VAD.SilenceThreshold, cfg.VAD.SpeechThreshold))
	}
	if cfg.VAD.SpeechFrames < 1 {
		errs = append(errs, fmt.Errorf("vad.speech_frames %d must be at least 1", cfg.VAD.SpeechFrames))
	}

	// Segmenter
	if cfg.Segmenter.HangoverMs <= 0 {
		errs = append(errs, fmt.Errorf("segmenter.hangover_ms %d must be positive", cfg.Segmenter.HangoverMs))
	}
	if cfg.Segmenter.MinUtteranceMs <= 0 {
		errs = append(errs, fmt.Errorf("segmenter.min_utterance_ms %d must be positive", cfg.Segmenter.MinUtteranceMs))
	}
	if cfg.Segmenter.MaxUtteranceS <= 0 {
		errs = append(errs, fmt.Errorf("segmenter.max_utterance_s %d must be positive", cfg.Segmenter.MaxUtteranceS))
	}
	if cfg.Segmenter.MinUtterance() >= cfg.Segmenter.MaxUtterance() {
		errs = append(errs, fmt.Errorf("segmenter.min_utterance_ms %d must be shorter than segmenter.max_utterance_s %d", cfg.Segmenter.MinUtteranceMs, cfg.Segmenter.MaxUtteranceS))
	}
	if cfg.Segmenter.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("segmenter.queue_size %d must be at least 1", cfg.Segmenter.QueueSize))
	}

	// Calibration
	if cfg.Calibration.WindowS <= 0 {
		errs = append(errs, fmt.Errorf("calibration.window_s %d must be positive", cfg.Calibration.WindowS))
	}
	if cfg.Calibration.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("calibration.max_retries %d must be at least 1", cfg.Calibration.MaxRetries))
	}

	// Providers — unknown names warn rather than fail so third-party
	// registrations keep working.
	validateProviderName("diarize", cfg.Providers.Diarize.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)

	if cfg.Providers.Diarize.Name == "" {
		errs = append(errs, errors.New("providers.diarize.name is required; calibration and attribution cannot run without diarization"))
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no transcription provider configured; matched utterances will be discarded")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no reply-generation provider configured; transcripts will be emitted without replies")
	}
	if cfg.Providers.LLM.Temperature < 0 || cfg.Providers.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("providers.llm.temperature %.2f is out of range [0.0, 2.0]", cfg.Providers.LLM.Temperature))
	}
	if cfg.Providers.LLM.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("providers.llm.max_tokens %d must not be negative", cfg.Providers.LLM.MaxTokens))
	}

	// Knowledge
	if cfg.Knowledge.DSN != "" {
		validateProviderName("embed", cfg.Knowledge.Embedder.Name)
		if cfg.Knowledge.Embedder.Name == "" {
			errs = append(errs, errors.New("knowledge.embedder.name is required when knowledge.dsn is set"))
		}
		if cfg.Knowledge.TopK < 1 {
			errs = append(errs, fmt.Errorf("knowledge.top_k %d must be at least 1", cfg.Knowledge.TopK))
		}
		if cfg.Knowledge.TimeoutS <= 0 {
			errs = append(errs, fmt.Errorf("knowledge.timeout_s %d must be positive", cfg.Knowledge.TimeoutS))
		}
	}

	// Pipeline
	if cfg.Pipeline.AttributeTimeoutS <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.attribute_timeout_s %d must be positive", cfg.Pipeline.AttributeTimeoutS))
	}
	if cfg.Pipeline.TranscribeTimeoutS <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.transcribe_timeout_s %d must be positive", cfg.Pipeline.TranscribeTimeoutS))
	}
	if cfg.Pipeline.GenerateTimeoutS <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.generate_timeout_s %d must be positive", cfg.Pipeline.GenerateTimeoutS))
	}
	if cfg.Pipeline.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("pipeline.failure_threshold %d must be at least 1", cfg.Pipeline.FailureThreshold))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
