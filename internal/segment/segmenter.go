package segment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/earshot-audio/earshot/internal/observe"
	"github.com/earshot-audio/earshot/pkg/audio"
)

// Default segmenter tuning.
const (
	defaultHangover     = 600 * time.Millisecond
	defaultMinUtterance = 300 * time.Millisecond
	defaultMaxUtterance = 30 * time.Second
)

// SegmenterConfig tunes utterance boundary detection. Zero values take the
// package defaults.
type SegmenterConfig struct {
	// Hangover is the consecutive trailing silence required to finalize an
	// open utterance.
	Hangover time.Duration

	// MinUtterance is the minimum utterance duration; shorter finalized
	// spans are discarded as noise and never emitted.
	MinUtterance time.Duration

	// MaxUtterance force-finalizes an open utterance that reaches this
	// duration even without trailing silence, so continuous talking cannot
	// grow the buffer without bound.
	MaxUtterance time.Duration
}

// SegmenterOption is a functional option for configuring a [Segmenter].
type SegmenterOption func(*Segmenter)

// WithSegmenterLogger sets the logger used for discard and cap events.
// Default: slog.Default().
func WithSegmenterLogger(l *slog.Logger) SegmenterOption {
	return func(s *Segmenter) {
		s.log = l
	}
}

// WithSegmenterMetrics sets the metrics sink for utterance outcome counters.
// When nil (the default), nothing is recorded.
func WithSegmenterMetrics(m *observe.Metrics) SegmenterOption {
	return func(s *Segmenter) {
		s.metrics = m
	}
}

// Segmenter groups contiguous voiced frames into utterances. It owns exactly
// one open utterance at a time and is not safe for concurrent use; the
// ingestion loop is its single caller.
type Segmenter struct {
	vad     *Classifier
	cfg     SegmenterConfig
	log     *slog.Logger
	metrics *observe.Metrics

	// open is the utterance currently being collected, nil in silence.
	open *Utterance

	// voicedEnd is the stream timestamp just past the last voiced frame of
	// the open utterance; voicedLen is len(open.Audio) at that point. Audio
	// appended after voicedEnd is hangover silence and is trimmed away on
	// finalization.
	voicedEnd time.Duration
	voicedLen int

	// silence is the accumulated trailing silence inside the open utterance.
	silence time.Duration

	// frameEnd is the stream timestamp just past the last processed frame,
	// used to reject out-of-order input.
	frameEnd time.Duration
}

// NewSegmenter returns a Segmenter classifying frames with vad and applying
// cfg over the package defaults.
func NewSegmenter(vad *Classifier, cfg SegmenterConfig, opts ...SegmenterOption) *Segmenter {
	if cfg.Hangover <= 0 {
		cfg.Hangover = defaultHangover
	}
	if cfg.MinUtterance <= 0 {
		cfg.MinUtterance = defaultMinUtterance
	}
	if cfg.MaxUtterance <= 0 {
		cfg.MaxUtterance = defaultMaxUtterance
	}
	s := &Segmenter{
		vad: vad,
		cfg: cfg,
		log: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Process consumes one frame and returns a finalized utterance when this
// frame closed one, or nil otherwise. Emitted utterances never overlap and
// are ordered by non-decreasing start time.
//
// Frames must arrive in non-decreasing timestamp order; a frame starting
// before the previous frame ended is rejected with an error and not
// classified.
func (s *Segmenter) Process(f audio.Frame) (*Utterance, error) {
	if f.Timestamp < s.frameEnd {
		return nil, fmt.Errorf("segment: frame at %v precedes stream position %v", f.Timestamp, s.frameEnd)
	}
	end := f.Timestamp + f.Duration()
	s.frameEnd = end

	voiced := s.vad.Classify(f)

	if s.open == nil {
		if !voiced {
			return nil, nil
		}
		s.openAt(f)
		return nil, nil
	}

	// Duration cap: finalize what we have before touching this frame. A
	// voiced capping frame seeds the next utterance so continuous speech
	// splits into back-to-back spans, none exceeding the cap.
	if end-s.open.Start > s.cfg.MaxUtterance {
		u := s.finalize(s.voicedEnd, s.voicedLen, "cap")
		if voiced {
			s.openAt(f)
		}
		return u, nil
	}

	s.open.Audio = append(s.open.Audio, f.Data...)

	if voiced {
		s.silence = 0
		s.voicedEnd = end
		s.voicedLen = len(s.open.Audio)
		return nil, nil
	}

	s.silence += f.Duration()
	if s.silence >= s.cfg.Hangover {
		return s.finalize(s.voicedEnd, s.voicedLen, "hangover"), nil
	}
	return nil, nil
}

// Flush finalizes and returns any open utterance, or nil when none is open
// or the open one is below the minimum duration. Call on stream gaps and at
// shutdown; the classifier state is reset as well.
func (s *Segmenter) Flush() *Utterance {
	s.vad.Reset()
	if s.open == nil {
		return nil
	}
	return s.finalize(s.voicedEnd, s.voicedLen, "flush")
}

// openAt starts a new utterance seeded with frame f.
func (s *Segmenter) openAt(f audio.Frame) {
	s.open = newUtterance(f.Timestamp, f.SampleRate)
	s.open.Audio = append(s.open.Audio, f.Data...)
	s.silence = 0
	s.voicedEnd = f.Timestamp + f.Duration()
	s.voicedLen = len(s.open.Audio)
}

// finalize closes the open utterance at end, trimming the audio buffer to
// audioLen bytes, and returns it, or nil when it is below the minimum
// duration and is discarded.
func (s *Segmenter) finalize(end time.Duration, audioLen int, cause string) *Utterance {
	u := s.open
	s.open = nil
	s.silence = 0

	u.End = end
	u.Audio = u.Audio[:audioLen]

	if u.Duration() < s.cfg.MinUtterance {
		s.log.Debug("utterance discarded below minimum duration",
			"utterance", u.ID,
			"duration", u.Duration(),
			"cause", cause,
		)
		if s.metrics != nil {
			s.metrics.RecordUtterance(context.Background(), observe.OutcomeDiscardedShort)
		}
		return nil
	}

	u.Finalized = true
	return u
}
