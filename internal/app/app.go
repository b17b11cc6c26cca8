// Package app wires all earshot subsystems into a running application.
//
// New connects capture, segmentation, calibration, the pipeline orchestrator,
// and the operator console; Run executes them until the context is cancelled
// or the session fails; Shutdown tears everything down in order.
//
// For testing, inject mock providers through the [Providers] struct and
// override the operator boundary with [WithSelector].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/earshot-audio/earshot/internal/calibrate"
	"github.com/earshot-audio/earshot/internal/config"
	"github.com/earshot-audio/earshot/internal/health"
	"github.com/earshot-audio/earshot/internal/knowledge"
	"github.com/earshot-audio/earshot/internal/observe"
	"github.com/earshot-audio/earshot/internal/pipeline"
	"github.com/earshot-audio/earshot/internal/resilience"
	"github.com/earshot-audio/earshot/internal/segment"
	"github.com/earshot-audio/earshot/internal/transcript"
	"github.com/earshot-audio/earshot/internal/web"
	"github.com/earshot-audio/earshot/pkg/audio"
	"github.com/earshot-audio/earshot/pkg/provider/diarize"
	"github.com/earshot-audio/earshot/pkg/provider/llm"
	"github.com/earshot-audio/earshot/pkg/provider/stt"
)

// shutdownGrace bounds the HTTP server drain when Run unwinds.
const shutdownGrace = 5 * time.Second

// Providers holds one interface value per provider slot, populated by main
// via the config registry. Source and Diarize are required; a nil STT or LLM
// disables the corresponding pipeline stage.
type Providers struct {
	Source  audio.Source
	Diarize diarize.Provider
	STT     stt.Provider
	LLM     llm.Provider

	// Knowledge, when non-nil, grounds replies with background snippets
	// retrieved per transcript.
	Knowledge *knowledge.Store
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	met       *observe.Metrics

	console *web.Server
	orch    *pipeline.Orchestrator
	httpSrv *http.Server

	mu   sync.Mutex
	addr string // actual listen address, set once Run binds

	selector calibrate.Selector

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithMetrics sets the metrics collector. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.met = m }
}

// WithSelector overrides the speaker-selection boundary. By default the
// operator console's WebSocket clients answer calibration prompts; tests and
// headless deployments can select programmatically instead.
func WithSelector(s calibrate.Selector) Option {
	return func(a *App) { a.selector = s }
}

// New wires the application from cfg and the instantiated providers. The
// remote transcription and generation providers are wrapped in circuit
// breakers so a failing backend is skipped rather than hammered.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
		met:       observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}

	var errs []error
	if providers == nil || providers.Source == nil {
		errs = append(errs, errors.New("audio source is required"))
	}
	if providers == nil || providers.Diarize == nil {
		errs = append(errs, errors.New("diarization provider is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("app: %w", errors.Join(errs...))
	}

	// ── Operator console + health ────────────────────────────────────────
	checks := health.New(
		health.Calibrated(func() bool {
			return a.orch != nil && a.orch.Binding().SpeakerID != ""
		}),
		health.NotDegraded(func() bool {
			return a.orch != nil && a.orch.Degraded()
		}),
	)
	a.console = web.New(checks, web.WithLogger(a.log))
	if a.selector == nil {
		a.selector = a.console
	}

	// ── Segmentation ─────────────────────────────────────────────────────
	classifier := segment.NewClassifier(segment.ClassifierConfig{
		SpeechThreshold:  a.cfg.VAD.SpeechThreshold,
		SilenceThreshold: a.cfg.VAD.SilenceThreshold,
		SpeechFrames:     a.cfg.VAD.SpeechFrames,
	})
	segmenter := segment.NewSegmenter(classifier, segment.SegmenterConfig{
		Hangover:     a.cfg.Segmenter.Hangover(),
		MinUtterance: a.cfg.Segmenter.MinUtterance(),
		MaxUtterance: a.cfg.Segmenter.MaxUtterance(),
	}, segment.WithSegmenterLogger(a.log), segment.WithSegmenterMetrics(a.met))
	queue := segment.NewQueue(a.cfg.Segmenter.QueueSize,
		segment.WithQueueLogger(a.log), segment.WithQueueMetrics(a.met))

	// ── Calibration ──────────────────────────────────────────────────────
	calibrator := calibrate.NewEngine(providers.Diarize, a.selector, calibrate.Config{
		Window:      a.cfg.Calibration.Window(),
		MaxRetries:  a.cfg.Calibration.MaxRetries,
		DisplayName: a.cfg.Calibration.DisplayName,
	}, calibrate.WithEngineLogger(a.log), calibrate.WithEngineMetrics(a.met))

	// ── Pipeline ─────────────────────────────────────────────────────────
	deps := pipeline.Deps{
		Source:      providers.Source,
		Segmenter:   segmenter,
		Queue:       queue,
		Calibrator:  calibrator,
		Diarizer:    providers.Diarize,
		Transcriber: a.wrapTranscriber(providers.STT),
		Generator:   a.wrapGenerator(providers.LLM),
		Filter:      transcript.New(),
		Sink:        a.console,
	}
	// A typed-nil store must not become a non-nil Retriever interface.
	if providers.Knowledge != nil {
		deps.Knowledge = providers.Knowledge
	}
	orch, err := pipeline.New(deps, pipeline.Config{
		AttributeTimeout:  a.cfg.Pipeline.AttributeTimeout(),
		TranscribeTimeout: a.cfg.Pipeline.TranscribeTimeout(),
		GenerateTimeout:   a.cfg.Pipeline.GenerateTimeout(),
		FailureThreshold:  a.cfg.Pipeline.FailureThreshold,
		Language:          a.cfg.Providers.STT.Language,
		Prompt:            a.cfg.Providers.LLM.PromptTemplate,
		MaxTokens:         a.cfg.Providers.LLM.MaxTokens,
		Temperature:       a.cfg.Providers.LLM.Temperature,
		RetrieveTimeout:   a.cfg.Knowledge.Timeout(),
		RetrieveLimit:     a.cfg.Knowledge.TopK,
	}, pipeline.WithLogger(a.log), pipeline.WithMetrics(a.met))
	if err != nil {
		return nil, fmt.Errorf("app: build pipeline: %w", err)
	}
	a.orch = orch
	a.console.SetRecalibrator(orch)

	// ── HTTP server ──────────────────────────────────────────────────────
	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.met)(a.console.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.closers = append(a.closers, providers.Source.Close)
	if providers.Knowledge != nil {
		a.closers = append(a.closers, providers.Knowledge.Close)
	}

	return a, nil
}

// wrapTranscriber puts a circuit breaker in front of the transcription
// backend. Nil stays nil: the stage is disabled.
func (a *App) wrapTranscriber(p stt.Provider) stt.Provider {
	if p == nil {
		return nil
	}
	return resilience.NewTranscriberFallback(p, a.cfg.Providers.STT.Name, resilience.FallbackConfig{
		Logger: a.log,
	})
}

// wrapGenerator puts a circuit breaker in front of the generation backend.
func (a *App) wrapGenerator(p llm.Provider) llm.Provider {
	if p == nil {
		return nil
	}
	return resilience.NewGeneratorFallback(p, a.cfg.Providers.LLM.Name, resilience.FallbackConfig{
		Logger: a.log,
	})
}

// Addr returns the console's bound listen address once Run has started, or
// "" before that. Useful when the configured address uses port 0.
func (a *App) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Pipeline exposes the orchestrator for status inspection.
func (a *App) Pipeline() *pipeline.Orchestrator {
	return a.orch
}

// Run binds the console listener and executes the monitoring session. It
// blocks until ctx is cancelled (clean shutdown, nil return) or a
// session-level failure occurs.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr().String()
	a.mu.Unlock()
	a.log.Info("console listening", "addr", a.addr)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.httpSrv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.orch.Run(gctx)
	})

	// Drain the HTTP server once the session is over.
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := a.httpSrv.Shutdown(sctx); err != nil {
			a.log.Warn("console shutdown", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Shutdown tears down the remaining subsystems in order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil && !errors.Is(err, audio.ErrSourceClosed) {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
