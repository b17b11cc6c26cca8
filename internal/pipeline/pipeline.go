// Package pipeline wires audio capture, segmentation, calibration,
// attribution, transcription, and reply generation into one monitoring
// session.
//
// The [Orchestrator] owns two goroutines: an ingestion loop that turns raw
// frames into finalized utterances, and a downstream loop that drains the
// utterance queue one entry at a time. Utterances are processed strictly in
// finalization order with at most one in flight; a slow backend therefore
// backs pressure up into the bounded queue, where the oldest pending
// utterance is dropped first.
//
// Failures are split into two classes. Per-utterance failures (a timeout, a
// rejected buffer, an unreachable generation backend) discard that utterance
// and the session continues; enough of them in a row flips the degraded flag.
// Session failures (the capture source closing, calibration running out of
// retries) terminate [Orchestrator.Run].
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/earshot-audio/earshot/internal/attribute"
	"github.com/earshot-audio/earshot/internal/calibrate"
	"github.com/earshot-audio/earshot/internal/observe"
	"github.com/earshot-audio/earshot/internal/segment"
	"github.com/earshot-audio/earshot/internal/transcript"
	"github.com/earshot-audio/earshot/pkg/audio"
	"github.com/earshot-audio/earshot/pkg/provider/diarize"
	"github.com/earshot-audio/earshot/pkg/provider/llm"
	"github.com/earshot-audio/earshot/pkg/provider/stt"
)

// ErrServiceTimeout marks a per-utterance stage that exceeded its configured
// deadline. It always wraps context.DeadlineExceeded, so both
// errors.Is(err, ErrServiceTimeout) and errors.Is(err, context.DeadlineExceeded)
// hold.
var ErrServiceTimeout = errors.New("pipeline: service call timed out")

// defaultSystemPrompt is used when no prompt template is configured. The
// transcript is delivered as the user message.
const defaultSystemPrompt = "You hear short spoken remarks from one person. " +
	"Reply to each remark briefly and naturally, in the same language the " +
	"speaker used. Do not mention that you are listening or transcribing."

// transcriptPlaceholder marks where a configured prompt template wants the
// transcript substituted.
const transcriptPlaceholder = "{transcription}"

// noSignalPeak is the minimum normalised peak amplitude a finalized
// utterance must reach to be worth transcribing. Quieter buffers slipped
// past the energy gate on accumulated noise and carry no speech.
const noSignalPeak = 1e-4

const (
	defaultAttributeTimeout  = 10 * time.Second
	defaultTranscribeTimeout = 30 * time.Second
	defaultGenerateTimeout   = 30 * time.Second
	defaultFailureThreshold  = 5
	defaultRetrieveTimeout   = 5 * time.Second
	defaultRetrieveLimit     = 3
)

// Config tunes the downstream loop.
type Config struct {
	// AttributeTimeout bounds each diarization call. Default: 10s.
	AttributeTimeout time.Duration

	// TranscribeTimeout bounds each transcription call. Default: 30s.
	TranscribeTimeout time.Duration

	// GenerateTimeout bounds each reply-generation call. Default: 30s.
	GenerateTimeout time.Duration

	// FailureThreshold is the number of consecutively failed utterances
	// that flips the degraded flag. Default: 5.
	FailureThreshold int

	// Language is the transcription language hint.
	Language string

	// Prompt overrides the built-in generation prompt. A prompt containing
	// the {transcription} placeholder is rendered with the transcript and
	// delivered as the user message; otherwise it is sent as the system
	// prompt with the transcript as the user turn.
	Prompt string

	// MaxTokens caps generated replies. Zero leaves the backend default.
	MaxTokens int

	// Temperature is passed through to the generation backend.
	Temperature float64

	// RetrieveTimeout bounds each knowledge lookup. Default: 5s.
	RetrieveTimeout time.Duration

	// RetrieveLimit is the number of knowledge snippets requested per
	// transcript. Default: 3.
	RetrieveLimit int
}

// Retriever looks up background snippets relevant to a transcript. Snippets
// are appended to the system prompt before reply generation; a failing
// Retriever never blocks a reply.
type Retriever interface {
	Relevant(ctx context.Context, query string, limit int) ([]string, error)
}

// Deps are the collaborators an [Orchestrator] drives. Source, Segmenter,
// Queue, Calibrator, and Diarizer are required. A nil Transcriber discards
// matched utterances after attribution; a nil Generator emits transcriptions
// without replies. A nil Filter disables transcript screening, a nil
// Knowledge skips context retrieval, and a nil Sink falls back to [NopSink].
type Deps struct {
	Source      audio.Source
	Segmenter   *segment.Segmenter
	Queue       *segment.Queue
	Calibrator  *calibrate.Engine
	Diarizer    diarize.Provider
	Transcriber stt.Provider
	Generator   llm.Provider
	Filter      *transcript.Filter
	Knowledge   Retriever
	Sink        Sink
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics sets the metrics collector. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.met = m
		}
	}
}

// Orchestrator runs one monitoring session.
type Orchestrator struct {
	deps Deps
	cfg  Config
	log  *slog.Logger
	met  *observe.Metrics

	mu         sync.Mutex
	state      State
	binding    calibrate.Binding
	attributor *attribute.Attributor

	degraded    bool
	consecFails int

	recalibrate chan chan error
}

// New validates deps and returns a ready-to-run Orchestrator.
func New(deps Deps, cfg Config, opts ...Option) (*Orchestrator, error) {
	var errs []error
	if deps.Source == nil {
		errs = append(errs, errors.New("pipeline: Source is required"))
	}
	if deps.Segmenter == nil {
		errs = append(errs, errors.New("pipeline: Segmenter is required"))
	}
	if deps.Queue == nil {
		errs = append(errs, errors.New("pipeline: Queue is required"))
	}
	if deps.Calibrator == nil {
		errs = append(errs, errors.New("pipeline: Calibrator is required"))
	}
	if deps.Diarizer == nil {
		errs = append(errs, errors.New("pipeline: Diarizer is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if deps.Sink == nil {
		deps.Sink = NopSink{}
	}
	if cfg.AttributeTimeout <= 0 {
		cfg.AttributeTimeout = defaultAttributeTimeout
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = defaultTranscribeTimeout
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = defaultGenerateTimeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.Prompt == "" {
		cfg.Prompt = defaultSystemPrompt
	}
	if cfg.RetrieveTimeout <= 0 {
		cfg.RetrieveTimeout = defaultRetrieveTimeout
	}
	if cfg.RetrieveLimit <= 0 {
		cfg.RetrieveLimit = defaultRetrieveLimit
	}

	o := &Orchestrator{
		deps:        deps,
		cfg:         cfg,
		log:         slog.Default(),
		met:         observe.DefaultMetrics(),
		state:       StateIdle,
		recalibrate: make(chan chan error),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// State returns the orchestrator's current operating mode.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Binding returns the current speaker binding. The zero value means no
// calibration has completed yet.
func (o *Orchestrator) Binding() calibrate.Binding {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.binding
}

// Degraded reports whether consecutive provider failures have crossed the
// configured threshold. The flag clears on the next successful provider call.
func (o *Orchestrator) Degraded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.degraded
}

// Recalibrate asks the ingestion loop to re-run calibration against live
// audio and blocks until it finishes. On failure the existing binding is
// kept and the error returned. Recalibrate is a no-op request while the
// orchestrator is not monitoring.
func (o *Orchestrator) Recalibrate(ctx context.Context) error {
	errc := make(chan error, 1)
	select {
	case o.recalibrate <- errc:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes the session: calibration first, then the ingestion and
// downstream loops until ctx is cancelled or a session-level failure occurs.
// Cancellation is a clean shutdown and returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.setState(StateCalibrating)

	binding, err := o.deps.Calibrator.Run(ctx, o.deps.Source.Frames())
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("pipeline: calibration: %w", err)
	}
	o.bind(binding)
	o.setState(StateMonitoring)
	o.log.Info("monitoring started",
		"speaker_id", binding.SpeakerID,
		"participant", binding.DisplayName)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.ingest(gctx) })
	g.Go(func() error { return o.drain(gctx) })

	err = g.Wait()
	if flushed := o.deps.Segmenter.Flush(); flushed != nil {
		o.log.Debug("discarding utterance open at shutdown", "utterance", flushed.ID)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ingest moves frames from the source through the segmenter into the queue.
// It also services re-calibration requests, during which it is the sole
// reader of the frames channel.
func (o *Orchestrator) ingest(ctx context.Context) error {
	frames := o.deps.Source.Frames()
	gaps := o.deps.Source.Gaps()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case errc := <-o.recalibrate:
			errc <- o.runRecalibration(ctx)

		case g, ok := <-gaps:
			if !ok {
				gaps = nil
				continue
			}
			// An utterance cannot span a dropout; close whatever is open.
			o.log.Warn("capture gap", "at", g.At, "missing", g.Missing)
			if u := o.deps.Segmenter.Flush(); u != nil {
				o.deps.Queue.Put(u)
			}

		case f, ok := <-frames:
			if !ok {
				return fmt.Errorf("pipeline: capture ended: %w", audio.ErrSourceClosed)
			}
			u, err := o.deps.Segmenter.Process(f)
			if err != nil {
				o.log.Warn("frame rejected", "error", err)
				continue
			}
			if u != nil {
				o.deps.Queue.Put(u)
			}
		}
	}
}

// runRecalibration re-runs the calibration engine over live audio. The open
// utterance is flushed and dropped first: it straddles the mode switch and
// cannot be attributed cleanly.
func (o *Orchestrator) runRecalibration(ctx context.Context) error {
	if u := o.deps.Segmenter.Flush(); u != nil {
		o.log.Debug("discarding utterance open at re-calibration", "utterance", u.ID)
	}
	o.setState(StateCalibrating)
	defer o.setState(StateMonitoring)

	binding, err := o.deps.Calibrator.Run(ctx, o.deps.Source.Frames())
	if err != nil {
		o.log.Error("re-calibration failed, keeping existing binding", "error", err)
		return err
	}
	o.bind(binding)
	o.log.Info("re-calibrated",
		"speaker_id", binding.SpeakerID,
		"participant", binding.DisplayName)
	return nil
}

// drain processes queued utterances one at a time, in order.
func (o *Orchestrator) drain(ctx context.Context) error {
	for {
		u, err := o.deps.Queue.Take(ctx)
		if err != nil {
			return err
		}
		o.handle(ctx, u)
	}
}

// handle runs one utterance through attribution, filtering, transcription,
// and generation. All failures here are per-utterance: they are logged,
// counted, and swallowed.
func (o *Orchestrator) handle(ctx context.Context, u *segment.Utterance) {
	start := time.Now()
	log := o.log.With("utterance", u.ID, "duration", u.Duration())

	if audio.PeakAmplitude(u.Audio) < noSignalPeak {
		log.Debug("utterance below signal floor")
		o.met.RecordUtterance(ctx, observe.OutcomeDiscardedNoise)
		o.healthy(ctx)
		return
	}

	// Attribution.
	actx, cancel := context.WithTimeout(ctx, o.cfg.AttributeTimeout)
	attrStart := time.Now()
	decision, err := o.attr().Match(actx, u)
	cancel()
	o.met.AttributeDuration.Record(ctx, time.Since(attrStart).Seconds())
	if err != nil {
		o.fail(ctx, log, "attribute", o.classify(err, "attribute", o.cfg.AttributeTimeout))
		o.met.RecordUtterance(ctx, observe.OutcomeFailed)
		return
	}
	o.succeed(ctx, "diarize")
	if !decision.Match {
		log.Debug("utterance not from bound speaker",
			"dominant", decision.DominantSpeaker,
			"overlap", decision.Overlap)
		o.met.RecordUtterance(ctx, observe.OutcomeDiscardedNonMatch)
		o.healthy(ctx)
		return
	}

	if o.deps.Transcriber == nil {
		o.met.RecordUtterance(ctx, observe.OutcomeDiscardedEmpty)
		o.healthy(ctx)
		return
	}

	// Transcription.
	tctx, cancel := context.WithTimeout(ctx, o.cfg.TranscribeTimeout)
	txStart := time.Now()
	result, err := o.deps.Transcriber.Transcribe(tctx, u.Audio, u.SampleRate, o.cfg.Language)
	cancel()
	o.met.TranscribeDuration.Record(ctx, time.Since(txStart).Seconds())
	if err != nil {
		if errors.Is(err, stt.ErrMalformedAudio) {
			// The buffer itself is bad; not a backend health signal.
			log.Warn("transcription rejected buffer", "error", err)
			o.met.RecordUtterance(ctx, observe.OutcomeDiscardedNoise)
			o.healthy(ctx)
			return
		}
		o.fail(ctx, log, "transcribe", o.classify(err, "transcribe", o.cfg.TranscribeTimeout))
		o.met.RecordUtterance(ctx, observe.OutcomeFailed)
		return
	}
	o.succeed(ctx, "stt")

	text, outcome, ok := o.screen(result.Text)
	if !ok {
		log.Debug("transcript discarded", "outcome", outcome)
		o.met.RecordUtterance(ctx, outcome)
		o.healthy(ctx)
		return
	}

	binding := o.Binding()
	o.deps.Sink.EmitTranscription(Transcription{
		Participant: binding.DisplayName,
		Text:        text,
		Confidence:  result.Confidence,
		Utterance:   u.ID,
		At:          time.Now(),
	})
	log.Info("transcribed", "text", text, "confidence", result.Confidence)

	if o.deps.Generator == nil {
		o.met.RecordUtterance(ctx, observe.OutcomeEmitted)
		o.met.UtteranceDuration.Record(ctx, time.Since(start).Seconds())
		o.healthy(ctx)
		return
	}

	// Generation.
	system, user := o.renderPrompt(text)
	if o.deps.Knowledge != nil {
		kctx, cancel := context.WithTimeout(ctx, o.cfg.RetrieveTimeout)
		snippets, err := o.deps.Knowledge.Relevant(kctx, text, o.cfg.RetrieveLimit)
		cancel()
		if err != nil {
			// Retrieval enriches the prompt; it never blocks the reply.
			log.Warn("knowledge lookup failed", "err", err)
		} else if len(snippets) > 0 {
			system = withBackground(system, snippets)
			log.Debug("knowledge retrieved", "snippets", len(snippets))
		}
	}
	gctx, cancel := context.WithTimeout(ctx, o.cfg.GenerateTimeout)
	genStart := time.Now()
	resp, err := o.deps.Generator.Complete(gctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: "user", Content: user}},
		Temperature:  o.cfg.Temperature,
		MaxTokens:    o.cfg.MaxTokens,
	})
	cancel()
	o.met.GenerateDuration.Record(ctx, time.Since(genStart).Seconds())
	if err != nil {
		o.fail(ctx, log, "generate", o.classify(err, "generate", o.cfg.GenerateTimeout))
		o.met.RecordUtterance(ctx, observe.OutcomeFailed)
		return
	}
	o.succeed(ctx, "llm")

	o.deps.Sink.EmitReply(Reply{
		Participant: binding.DisplayName,
		Transcript:  text,
		Reply:       resp.Content,
		Utterance:   u.ID,
		At:          time.Now(),
	})
	log.Info("reply emitted", "reply", resp.Content)
	o.met.RecordUtterance(ctx, observe.OutcomeEmitted)
	o.met.UtteranceDuration.Record(ctx, time.Since(start).Seconds())
	o.healthy(ctx)
}

// renderPrompt splits the configured prompt into system and user content.
// A template carrying the {transcription} placeholder is rendered with the
// transcript and sent as the user message under the built-in system prompt;
// any other prompt is the system message and the transcript travels as the
// user turn.
func (o *Orchestrator) renderPrompt(text string) (system, user string) {
	if strings.Contains(o.cfg.Prompt, transcriptPlaceholder) {
		return defaultSystemPrompt, strings.ReplaceAll(o.cfg.Prompt, transcriptPlaceholder, text)
	}
	return o.cfg.Prompt, text
}

// withBackground appends retrieved knowledge snippets to the system prompt
// as a bulleted context block.
func withBackground(system string, snippets []string) string {
	var b strings.Builder
	b.WriteString(system)
	b.WriteString("\n\nBackground that may be relevant:\n")
	for _, s := range snippets {
		b.WriteString("- ")
		b.WriteString(s)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// screen applies the transcript filter, mapping its verdict to an utterance
// outcome label.
func (o *Orchestrator) screen(text string) (string, string, bool) {
	if o.deps.Filter == nil {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return "", observe.OutcomeDiscardedEmpty, false
		}
		return trimmed, "", true
	}
	clean, reason, ok := o.deps.Filter.Evaluate(text)
	if ok {
		return clean, "", true
	}
	switch reason {
	case transcript.ReasonEmpty:
		return "", observe.OutcomeDiscardedEmpty, false
	case transcript.ReasonTooShort:
		return "", observe.OutcomeDiscardedEmpty, false
	default:
		return "", observe.OutcomeDiscardedNoise, false
	}
}

// classify converts a stage error into its reportable form, folding deadline
// hits into [ErrServiceTimeout].
func (o *Orchestrator) classify(err error, stage string, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s after %s: %w: %w", stage, timeout, ErrServiceTimeout, err)
	}
	return fmt.Errorf("%s: %w", stage, err)
}

// fail records a provider failure and flips the degraded flag once the
// consecutive-failure threshold is crossed.
func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, kind string, err error) {
	log.Error("stage failed", "stage", kind, "error", err)
	o.met.RecordProviderError(ctx, kind, kind)

	o.mu.Lock()
	o.consecFails++
	crossed := !o.degraded && o.consecFails >= o.cfg.FailureThreshold
	if crossed {
		o.degraded = true
	}
	o.mu.Unlock()

	if crossed {
		o.log.Error("pipeline degraded",
			"consecutive_failures", o.cfg.FailureThreshold)
		o.met.SetDegraded(ctx, true)
		o.emitStatus()
	}
}

// succeed records a completed provider call.
func (o *Orchestrator) succeed(ctx context.Context, kind string) {
	o.met.RecordProviderRequest(ctx, kind, kind, "ok")
}

// healthy resets the consecutive-failure counter and clears the degraded
// flag if set. Called when an utterance finishes without a provider failure;
// a later stage failing must still see the failures before it, so per-call
// successes do not reset the count.
func (o *Orchestrator) healthy(ctx context.Context) {
	o.mu.Lock()
	o.consecFails = 0
	recovered := o.degraded
	o.degraded = false
	o.mu.Unlock()

	if recovered {
		o.log.Info("pipeline recovered")
		o.met.SetDegraded(ctx, false)
		o.emitStatus()
	}
}

// attr returns the current attributor under the lock; it is swapped on
// re-calibration.
func (o *Orchestrator) attr() *attribute.Attributor {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attributor
}

// bind installs a new speaker binding and its attributor.
func (o *Orchestrator) bind(b calibrate.Binding) {
	o.mu.Lock()
	o.binding = b
	o.attributor = attribute.New(o.deps.Diarizer, b, attribute.WithLogger(o.log))
	o.mu.Unlock()
}

// setState transitions the operating mode and emits a status event.
func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.emitStatus()
}

// emitStatus sends the current status snapshot to the sink.
func (o *Orchestrator) emitStatus() {
	o.mu.Lock()
	s := Status{
		State:    o.state,
		Degraded: o.degraded,
		Binding:  o.binding,
		At:       time.Now(),
	}
	o.mu.Unlock()
	o.deps.Sink.EmitStatus(s)
}
