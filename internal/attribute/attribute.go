// Package attribute decides whether a finalized utterance belongs to the
// calibrated participant.
//
// The [Attributor] submits the utterance's audio to the diarization provider
// and computes, per speaker, the cumulative duration of returned segments
// overlapping the utterance span. The speaker with the greatest overlap
// dominates; exact ties go to the speaker whose earliest segment starts
// first. The utterance matches only when the dominant speaker equals the
// session binding, and an empty diarization result is always a non-match —
// inconclusive audio is never assumed to be the participant.
package attribute

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/earshot-audio/earshot/internal/calibrate"
	"github.com/earshot-audio/earshot/internal/segment"
	"github.com/earshot-audio/earshot/pkg/provider/diarize"
)

// Decision is the outcome of attributing one utterance.
type Decision struct {
	// Match is true when the dominant speaker equals the bound participant.
	Match bool

	// DominantSpeaker is the speaker with the greatest cumulative overlap,
	// or empty when diarization returned no segments.
	DominantSpeaker string

	// Overlap is the dominant speaker's cumulative overlapped duration.
	Overlap time.Duration
}

// Option is a functional option for configuring an [Attributor].
type Option func(*Attributor)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Attributor) {
		a.log = l
	}
}

// Attributor matches utterances against the session's speaker binding. It is
// read-only after construction and safe for concurrent use as long as the
// provider is.
type Attributor struct {
	provider diarize.Provider
	binding  calibrate.Binding
	log      *slog.Logger
}

// New returns an Attributor matching against binding.
func New(provider diarize.Provider, binding calibrate.Binding, opts ...Option) *Attributor {
	a := &Attributor{
		provider: provider,
		binding:  binding,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Binding returns the session binding the attributor matches against.
func (a *Attributor) Binding() calibrate.Binding {
	return a.binding
}

// Match attributes u and reports whether it belongs to the bound
// participant. The caller bounds the provider call through ctx.
func (a *Attributor) Match(ctx context.Context, u *segment.Utterance) (Decision, error) {
	segments, err := a.provider.Diarize(ctx, u.Audio, u.SampleRate)
	if err != nil {
		return Decision{}, fmt.Errorf("attribute: diarize utterance %s: %w", u.ID, err)
	}

	dominant, overlap := Dominant(segments, u.Duration())
	d := Decision{
		Match:           dominant != "" && dominant == a.binding.SpeakerID,
		DominantSpeaker: dominant,
		Overlap:         overlap,
	}

	a.log.Debug("utterance attributed",
		"utterance", u.ID,
		"dominant", d.DominantSpeaker,
		"overlap", d.Overlap,
		"match", d.Match,
	)
	return d, nil
}

// Dominant returns the speaker with the greatest cumulative segment duration
// within [0, span], together with that duration. Segments are clipped to the
// span before accumulation so a segment extending past the utterance cannot
// dominate on out-of-span speech. Exact duration ties are broken by the
// earliest segment start; an empty input yields ("", 0).
func Dominant(segments []diarize.Segment, span time.Duration) (string, time.Duration) {
	type tally struct {
		total time.Duration
		first time.Duration
	}
	byID := make(map[string]*tally)

	for _, seg := range segments {
		start, end := seg.Start, seg.End
		if start < 0 {
			start = 0
		}
		if end > span {
			end = span
		}
		if end <= start {
			continue
		}
		tl, ok := byID[seg.SpeakerID]
		if !ok {
			tl = &tally{first: seg.Start}
			byID[seg.SpeakerID] = tl
		}
		tl.total += end - start
		if seg.Start < tl.first {
			tl.first = seg.Start
		}
	}

	var (
		dominant string
		best     *tally
	)
	for id, tl := range byID {
		switch {
		case best == nil,
			tl.total > best.total,
			tl.total == best.total && tl.first < best.first,
			tl.total == best.total && tl.first == best.first && id < dominant:
			dominant = id
			best = tl
		}
	}
	if best == nil {
		return "", 0
	}
	return dominant, best.total
}
