package calibrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/earshot-audio/earshot/internal/observe"
	"github.com/earshot-audio/earshot/pkg/audio"
	"github.com/earshot-audio/earshot/pkg/provider/diarize"
)

// Default engine tuning.
const (
	defaultWindow      = 10 * time.Second
	defaultMaxRetries  = 3
	defaultDisplayName = "participant"
)

// Config tunes the calibration engine. Zero values take the defaults.
type Config struct {
	// Window is the amount of audio accumulated per calibration attempt.
	Window time.Duration

	// MaxRetries is the number of full-window attempts before calibration
	// fails the session.
	MaxRetries int

	// DisplayName is the human-readable name attached to the binding.
	DisplayName string
}

// EngineOption is a functional option for configuring an [Engine].
type EngineOption func(*Engine)

// WithEngineLogger sets the logger. Default: slog.Default().
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.log = l
	}
}

// WithEngineMetrics sets the metrics sink for calibration attempt counters.
// When nil (the default), nothing is recorded.
func WithEngineMetrics(m *observe.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// Engine performs the one-time calibration pass. It is used once and
// discarded; it holds no state across Run calls.
type Engine struct {
	provider diarize.Provider
	selector Selector
	cfg      Config
	log      *slog.Logger
	metrics  *observe.Metrics
}

// NewEngine returns an Engine diarizing with provider and presenting
// discovered speakers to selector.
func NewEngine(provider diarize.Provider, selector Selector, cfg Config, opts ...EngineOption) *Engine {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = defaultDisplayName
	}
	e := &Engine{
		provider: provider,
		selector: selector,
		cfg:      cfg,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run accumulates calibration windows from frames and produces the session
// binding. Each attempt consumes a fresh window; attempts that find no
// speakers or end without a selection are retried up to the configured
// limit, after which Run fails with [ErrRetriesExhausted] wrapping the last
// cause.
//
// A closed frames channel means the capture device is gone; Run fails
// immediately with [audio.ErrSourceClosed]. Context cancellation aborts the
// attempt in progress.
func (e *Engine) Run(ctx context.Context, frames <-chan audio.Frame) (Binding, error) {
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		binding, err := e.attempt(ctx, frames)
		if err == nil {
			e.log.Info("calibration complete",
				"speaker", binding.SpeakerID,
				"attempt", attempt,
			)
			e.recordAttempt(ctx, "ok")
			return binding, nil
		}

		// Device loss and cancellation are not retryable.
		if errors.Is(err, audio.ErrSourceClosed) || ctx.Err() != nil {
			return Binding{}, err
		}

		status := "error"
		if errors.Is(err, ErrNoSpeakers) {
			status = "no_speakers"
		}
		e.recordAttempt(ctx, status)
		e.log.Warn("calibration attempt failed",
			"attempt", attempt,
			"max_retries", e.cfg.MaxRetries,
			"error", err,
		)
		lastErr = err
	}

	return Binding{}, fmt.Errorf("calibrate: after %d attempts: %w: %w", e.cfg.MaxRetries, ErrRetriesExhausted, lastErr)
}

// attempt runs one full calibration window.
func (e *Engine) attempt(ctx context.Context, frames <-chan audio.Frame) (Binding, error) {
	buf, sampleRate, err := e.accumulate(ctx, frames)
	if err != nil {
		return Binding{}, err
	}

	segments, err := e.provider.Diarize(ctx, buf, sampleRate)
	if err != nil {
		return Binding{}, fmt.Errorf("calibrate: diarize window: %w", err)
	}

	speakers := Summarize(segments)
	if len(speakers) == 0 {
		return Binding{}, ErrNoSpeakers
	}
	e.log.Info("calibration window diarized",
		"speakers", len(speakers),
		"window", e.cfg.Window,
	)

	id, err := e.selector.Select(ctx, speakers)
	if err != nil {
		return Binding{}, fmt.Errorf("calibrate: operator selection: %w", err)
	}
	if !known(speakers, id) {
		return Binding{}, fmt.Errorf("calibrate: selected speaker %q not in window: %w", id, ErrNoSelection)
	}

	return Binding{SpeakerID: id, DisplayName: e.cfg.DisplayName}, nil
}

// accumulate drains frames until a full window of audio is collected.
func (e *Engine) accumulate(ctx context.Context, frames <-chan audio.Frame) ([]byte, int, error) {
	var (
		buf        []byte
		sampleRate int
		collected  time.Duration
	)
	for collected < e.cfg.Window {
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil, 0, fmt.Errorf("calibrate: frame stream ended: %w", audio.ErrSourceClosed)
			}
			if sampleRate == 0 {
				sampleRate = f.SampleRate
			}
			buf = append(buf, f.Data...)
			collected += f.Duration()
		}
	}
	return buf, sampleRate, nil
}

// known reports whether id appears in speakers.
func known(speakers []SpeakerSummary, id string) bool {
	for _, s := range speakers {
		if s.SpeakerID == id {
			return true
		}
	}
	return false
}

func (e *Engine) recordAttempt(ctx context.Context, status string) {
	if e.metrics != nil {
		e.metrics.RecordCalibrationAttempt(ctx, status)
	}
}
