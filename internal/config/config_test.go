package config_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/earshot-audio/earshot/internal/config"
	"github.com/earshot-audio/earshot/pkg/audio"
	audiomock "github.com/earshot-audio/earshot/pkg/audio/mock"
	"github.com/earshot-audio/earshot/pkg/provider/diarize"
	diarizemock "github.com/earshot-audio/earshot/pkg/provider/diarize/mock"
	"github.com/earshot-audio/earshot/pkg/provider/llm"
	llmmock "github.com/earshot-audio/earshot/pkg/provider/llm/mock"
	"github.com/earshot-audio/earshot/pkg/provider/stt"
	sttmock "github.com/earshot-audio/earshot/pkg/provider/stt/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":5001"
  log_level: info

audio:
  source: pulse
  sample_rate: 16000
  frame_ms: 20
  pulse:
    device: alsa_output.pci-0000_00_1f.3.analog-stereo.monitor

vad:
  speech_threshold: 0.02
  silence_threshold: 0.01
  speech_frames: 3

segmenter:
  hangover_ms: 600
  min_utterance_ms: 300
  max_utterance_s: 30
  queue_size: 8

calibration:
  window_s: 10
  max_retries: 3
  display_name: Dexter

providers:
  diarize:
    name: pyannote
    base_url: http://localhost:8000
  stt:
    name: whispercpp
    model: models/ggml-base.bin
    language: es
  llm:
    name: ollama
    model: llama3.2:3b
    max_tokens: 150

pipeline:
  attribute_timeout_s: 10
  transcribe_timeout_s: 30
  generate_timeout_s: 30
  failure_threshold: 5
`

func load(t *testing.T, yaml string) (*config.Config, error) {
	t.Helper()
	return config.LoadFromReader(strings.NewReader(yaml))
}

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := load(t, sampleYAML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":5001" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":5001")
	}
	if cfg.Audio.Source != config.SourcePulse {
		t.Errorf("audio.source: got %q, want pulse", cfg.Audio.Source)
	}
	if cfg.Audio.Pulse.Device == "" {
		t.Error("audio.pulse.device should round-trip")
	}
	if cfg.VAD.SpeechThreshold != 0.02 {
		t.Errorf("vad.speech_threshold: got %.3f, want 0.02", cfg.VAD.SpeechThreshold)
	}
	if cfg.Calibration.DisplayName != "Dexter" {
		t.Errorf("calibration.display_name: got %q, want Dexter", cfg.Calibration.DisplayName)
	}
	if cfg.Providers.STT.Language != "es" {
		t.Errorf("providers.stt.language: got %q, want es", cfg.Providers.STT.Language)
	}
	if cfg.Providers.LLM.Model != "llama3.2:3b" {
		t.Errorf("providers.llm.model: got %q", cfg.Providers.LLM.Model)
	}
	if cfg.Pipeline.FailureThreshold != 5 {
		t.Errorf("pipeline.failure_threshold: got %d, want 5", cfg.Pipeline.FailureThreshold)
	}
}

func TestLoadFromReader_DefaultsApplied(t *testing.T) {
	// A minimal config gets the documented defaults for everything omitted.
	cfg, err := load(t, `
audio:
  source: mock
providers:
  diarize:
    name: mock
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":5001" {
		t.Errorf("default listen_addr: got %q, want :5001", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("default log_level: got %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("default sample_rate: got %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.FrameMs != 20 {
		t.Errorf("default frame_ms: got %d, want 20", cfg.Audio.FrameMs)
	}
	if cfg.VAD.SpeechThreshold != 0.015 || cfg.VAD.SilenceThreshold != 0.008 {
		t.Errorf("default vad thresholds: got %.3f/%.3f", cfg.VAD.SpeechThreshold, cfg.VAD.SilenceThreshold)
	}
	if cfg.Segmenter.HangoverMs != 600 || cfg.Segmenter.MinUtteranceMs != 300 || cfg.Segmenter.MaxUtteranceS != 30 {
		t.Errorf("default segmenter: got %+v", cfg.Segmenter)
	}
	if cfg.Segmenter.QueueSize != 8 {
		t.Errorf("default queue_size: got %d, want 8", cfg.Segmenter.QueueSize)
	}
	if cfg.Calibration.WindowS != 10 || cfg.Calibration.MaxRetries != 3 {
		t.Errorf("default calibration: got %+v", cfg.Calibration)
	}
	if cfg.Calibration.DisplayName != "participant" {
		t.Errorf("default display_name: got %q", cfg.Calibration.DisplayName)
	}
	if cfg.Providers.STT.Language != "es" {
		t.Errorf("default stt language: got %q, want es", cfg.Providers.STT.Language)
	}
	if cfg.Providers.LLM.MaxTokens != 150 {
		t.Errorf("default max_tokens: got %d, want 150", cfg.Providers.LLM.MaxTokens)
	}
	if cfg.Pipeline.FailureThreshold != 5 {
		t.Errorf("default failure_threshold: got %d, want 5", cfg.Pipeline.FailureThreshold)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	_, err := load(t, `
audio:
  source: mock
  bitrate: 320
providers:
  diarize:
    name: mock
`)
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_InvalidLogLevel(t *testing.T) {
	_, err := load(t, `
server:
  log_level: verbose
audio:
  source: mock
providers:
  diarize:
    name: mock
`)
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_MissingSource(t *testing.T) {
	_, err := load(t, `
providers:
  diarize:
    name: mock
`)
	if err == nil {
		t.Fatal("expected error for missing audio.source, got nil")
	}
	if !strings.Contains(err.Error(), "audio.source") {
		t.Errorf("error should mention audio.source, got: %v", err)
	}
}

func TestValidate_InvalidSource(t *testing.T) {
	_, err := load(t, `
audio:
  source: jack
providers:
  diarize:
    name: mock
`)
	if err == nil {
		t.Fatal("expected error for invalid audio.source, got nil")
	}
}

func TestValidate_StereoRejected(t *testing.T) {
	_, err := load(t, `
audio:
  source: mock
  channels: 2
providers:
  diarize:
    name: mock
`)
	if err == nil {
		t.Fatal("expected error for stereo capture, got nil")
	}
	if !strings.Contains(err.Error(), "channels") {
		t.Errorf("error should mention channels, got: %v", err)
	}
}

func TestValidate_SilenceAboveSpeech(t *testing.T) {
	_, err := load(t, `
audio:
  source: mock
vad:
  speech_threshold: 0.01
  silence_threshold: 0.02
providers:
  diarize:
    name: mock
`)
	if err == nil {
		t.Fatal("expected error for silence_threshold > speech_threshold, got nil")
	}
}

func TestValidate_MinAboveMax(t *testing.T) {
	_, err := load(t, `
audio:
  source: mock
segmenter:
  min_utterance_ms: 40000
  max_utterance_s: 30
providers:
  diarize:
    name: mock
`)
	if err == nil {
		t.Fatal("expected error for min_utterance >= max_utterance, got nil")
	}
}

func TestValidate_MissingDiarize(t *testing.T) {
	_, err := load(t, `
audio:
  source: mock
`)
	if err == nil {
		t.Fatal("expected error for missing diarize provider, got nil")
	}
	if !strings.Contains(err.Error(), "diarize") {
		t.Errorf("error should mention diarize, got: %v", err)
	}
}

func TestValidate_DiscordRequiresCredentials(t *testing.T) {
	_, err := load(t, `
audio:
  source: discord
providers:
  diarize:
    name: mock
`)
	if err == nil {
		t.Fatal("expected error for discord source without credentials, got nil")
	}
	for _, want := range []string{"token", "guild_id", "channel_id"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_TemperatureRange(t *testing.T) {
	_, err := load(t, `
audio:
  source: mock
providers:
  diarize:
    name: mock
  llm:
    name: ollama
    temperature: 3.5
`)
	if err == nil {
		t.Fatal("expected error for out-of-range temperature, got nil")
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_UnknownProviders(t *testing.T) {
	reg := config.NewRegistry()

	if _, err := reg.CreateDiarize(config.ProviderEntry{Name: "nonexistent"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("diarize: expected ErrProviderNotRegistered, got: %v", err)
	}
	if _, err := reg.CreateSTT(config.STTConfig{ProviderEntry: config.ProviderEntry{Name: "nonexistent"}}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("stt: expected ErrProviderNotRegistered, got: %v", err)
	}
	if _, err := reg.CreateLLM(config.LLMConfig{ProviderEntry: config.ProviderEntry{Name: "nonexistent"}}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("llm: expected ErrProviderNotRegistered, got: %v", err)
	}
	if _, err := reg.CreateAudio(config.AudioConfig{Source: "nonexistent"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("audio: expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_RegisteredDiarize(t *testing.T) {
	reg := config.NewRegistry()
	want := &diarizemock.Provider{}
	reg.RegisterDiarize("mock", func(e config.ProviderEntry) (diarize.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateDiarize(config.ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
}

func TestRegistry_RegisteredSTT(t *testing.T) {
	reg := config.NewRegistry()
	want := &sttmock.Provider{}
	var gotLang string
	reg.RegisterSTT("mock", func(c config.STTConfig) (stt.Provider, error) {
		gotLang = c.Language
		return want, nil
	})
	got, err := reg.CreateSTT(config.STTConfig{
		ProviderEntry: config.ProviderEntry{Name: "mock"},
		Language:      "es",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
	if gotLang != "es" {
		t.Errorf("factory received language %q, want es", gotLang)
	}
}

func TestRegistry_RegisteredLLM(t *testing.T) {
	reg := config.NewRegistry()
	want := &llmmock.Provider{}
	reg.RegisterLLM("mock", func(c config.LLMConfig) (llm.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateLLM(config.LLMConfig{ProviderEntry: config.ProviderEntry{Name: "mock"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
}

func TestRegistry_RegisteredAudio(t *testing.T) {
	reg := config.NewRegistry()
	want := audiomock.NewSource(1)
	reg.RegisterAudio(config.SourceMock, func(c config.AudioConfig) (audio.Source, error) {
		return want, nil
	})
	got, err := reg.CreateAudio(config.AudioConfig{Source: config.SourceMock})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned source is not the expected instance")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterLLM("broken", func(c config.LLMConfig) (llm.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateLLM(config.LLMConfig{ProviderEntry: config.ProviderEntry{Name: "broken"}})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}
