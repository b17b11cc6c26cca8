// Command earshot is the main entry point for the earshot monitoring server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/earshot-audio/earshot/internal/app"
	"github.com/earshot-audio/earshot/internal/config"
	"github.com/earshot-audio/earshot/internal/knowledge"
	"github.com/earshot-audio/earshot/internal/observe"
	"github.com/earshot-audio/earshot/pkg/audio"
	audiodiscord "github.com/earshot-audio/earshot/pkg/audio/discord"
	"github.com/earshot-audio/earshot/pkg/audio/pulse"
	"github.com/earshot-audio/earshot/pkg/provider/diarize"
	"github.com/earshot-audio/earshot/pkg/provider/diarize/pyannote"
	"github.com/earshot-audio/earshot/pkg/provider/embeddings"
	embedollama "github.com/earshot-audio/earshot/pkg/provider/embeddings/ollama"
	embedoai "github.com/earshot-audio/earshot/pkg/provider/embeddings/openai"
	"github.com/earshot-audio/earshot/pkg/provider/llm"
	"github.com/earshot-audio/earshot/pkg/provider/llm/anyllm"
	oaillm "github.com/earshot-audio/earshot/pkg/provider/llm/openai"
	"github.com/earshot-audio/earshot/pkg/provider/stt"
	sttserver "github.com/earshot-audio/earshot/pkg/provider/stt/server"
	"github.com/earshot-audio/earshot/pkg/provider/stt/whispercpp"
)

// shutdownTimeout bounds the graceful teardown after the signal arrives.
const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshot: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("earshot starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"audio_source", cfg.Audio.Source,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "earshot",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Config hot-reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, next *config.Config, diff config.ConfigDiff) {
		if diff.LogLevelChanged {
			level.Set(slogLevel(next.Server.LogLevel))
			slog.Info("log level changed", "level", next.Server.LogLevel)
		}
		if diff.RestartRequired {
			slog.Warn("config change requires a restart to take effect")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with earshot. Used for startup logging.
var builtinProviders = map[string][]string{
	"diarize": {"pyannote"},
	"stt":     {"whispercpp", "whisper-server"},
	"llm":     {"ollama", "openai", "anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embed":   {"ollama", "openai"},
	"audio":   {"pulse", "discord"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry) {
	// ── Diarization ───────────────────────────────────────────────────────────

	reg.RegisterDiarize("pyannote", func(entry config.ProviderEntry) (diarize.Provider, error) {
		var opts []pyannote.Option
		if n := optInt(entry.Options, "min_speakers"); n > 0 {
			opts = append(opts, pyannote.WithMinSpeakers(n))
		}
		if n := optInt(entry.Options, "max_speakers"); n > 0 {
			opts = append(opts, pyannote.WithMaxSpeakers(n))
		}
		return pyannote.New(entry.BaseURL, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whispercpp", func(cfg config.STTConfig) (stt.Provider, error) {
		modelPath := cfg.Model
		if modelPath == "" {
			modelPath = optString(cfg.Options, "model_path")
		}
		var opts []whispercpp.Option
		if cfg.Language != "" {
			opts = append(opts, whispercpp.WithLanguage(cfg.Language))
		}
		return whispercpp.New(modelPath, opts...)
	})

	reg.RegisterSTT("whisper-server", func(cfg config.STTConfig) (stt.Provider, error) {
		var opts []sttserver.Option
		if cfg.Model != "" {
			opts = append(opts, sttserver.WithModel(cfg.Model))
		}
		if cfg.Language != "" {
			opts = append(opts, sttserver.WithLanguage(cfg.Language))
		}
		return sttserver.New(cfg.BaseURL, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// The cloud backends share the same pattern: optional APIKey + BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(cfg config.LLMConfig) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if cfg.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
			}
			if cfg.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
			}
			return anyllm.New(providerName, cfg.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(cfg config.LLMConfig) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if cfg.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
		}
		return anyllm.NewOllama(cfg.Model, opts...)
	})

	// openai uses the official SDK for tighter error mapping.
	reg.RegisterLLM("openai", func(cfg config.LLMConfig) (llm.Provider, error) {
		var opts []oaillm.Option
		if cfg.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(cfg.BaseURL))
		}
		return oaillm.New(cfg.APIKey, cfg.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbed("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []embedollama.Option
		if n := optInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, embedollama.WithDimensions(n))
		}
		return embedollama.New(entry.BaseURL, entry.Model, opts...)
	})

	reg.RegisterEmbed("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []embedoai.Option
		if entry.BaseURL != "" {
			opts = append(opts, embedoai.WithBaseURL(entry.BaseURL))
		}
		return embedoai.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Audio sources ─────────────────────────────────────────────────────────

	reg.RegisterAudio(config.SourcePulse, func(cfg config.AudioConfig) (audio.Source, error) {
		return pulse.New(pulse.Config{
			Device:     cfg.Pulse.Device,
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
			FrameMs:    cfg.FrameMs,
		})
	})

	reg.RegisterAudio(config.SourceDiscord, func(cfg config.AudioConfig) (audio.Source, error) {
		src, err := audiodiscord.Connect(ctx, audiodiscord.Config{
			Token:     cfg.Discord.Token,
			GuildID:   cfg.Discord.GuildID,
			ChannelID: cfg.Discord.ChannelID,
		})
		if err != nil {
			return nil, err
		}
		// Discord delivers 48 kHz stereo; downstream consumers expect the
		// configured working format.
		return audio.Converted(src, audio.Format{
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
		}), nil
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates everything named in cfg using the registry and
// returns the slots in an [app.Providers] struct.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	src, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("create audio source %q: %w", cfg.Audio.Source, err)
	}
	ps.Source = src
	slog.Info("audio source ready", "source", cfg.Audio.Source, "sample_rate", cfg.Audio.SampleRate)

	p, err := reg.CreateDiarize(cfg.Providers.Diarize)
	if err != nil {
		return nil, fmt.Errorf("create diarize provider %q: %w", cfg.Providers.Diarize.Name, err)
	}
	ps.Diarize = p
	slog.Info("provider created", "kind", "diarize", "name", cfg.Providers.Diarize.Name)

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown stt provider — transcription disabled", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		} else {
			ps.STT = p
			slog.Info("provider created", "kind", "stt", "name", name)
		}
	}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown llm provider — reply generation disabled", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.LLM = p
			slog.Info("provider created", "kind", "llm", "name", name)
		}
	}

	if dsn := cfg.Knowledge.DSN; dsn != "" {
		embedder, err := reg.CreateEmbed(cfg.Knowledge.Embedder)
		if err != nil {
			return nil, fmt.Errorf("create embedder %q: %w", cfg.Knowledge.Embedder.Name, err)
		}
		store, err := knowledge.NewStore(ctx, dsn, embedder)
		if err != nil {
			return nil, fmt.Errorf("open knowledge store: %w", err)
		}
		if dir := cfg.Knowledge.SeedDir; dir != "" {
			docs, err := knowledge.LoadDir(dir)
			if err != nil {
				store.Close()
				return nil, fmt.Errorf("load knowledge seed dir %q: %w", dir, err)
			}
			if err := store.Index(ctx, docs); err != nil {
				store.Close()
				return nil, fmt.Errorf("seed knowledge store: %w", err)
			}
		}
		ps.Knowledge = store
		slog.Info("knowledge store ready",
			"embedder", cfg.Knowledge.Embedder.Name,
			"model", embedder.ModelID(),
			"top_k", cfg.Knowledge.TopK,
		)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         earshot — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Audio", string(cfg.Audio.Source), "")
	printProvider("Diarize", cfg.Providers.Diarize.Name, cfg.Providers.Diarize.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	fmt.Printf("║  Participant     : %-19s ║\n", cfg.Calibration.DisplayName)
	fmt.Printf("║  Language        : %-19s ║\n", cfg.Providers.STT.Language)
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an int value from a provider Options map[string]any. YAML
// decodes integers as int; anything else yields 0.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	n, _ := opts[key].(int)
	return n
}
