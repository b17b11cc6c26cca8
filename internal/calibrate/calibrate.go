// Package calibrate implements the one-time speaker calibration that binds
// an operator-selected diarized speaker to the monitored participant.
//
// Calibration runs exactly once per session, before steady-state monitoring:
// the [Engine] accumulates a fixed window of audio, submits it to the
// diarization provider, aggregates the returned segments into per-speaker
// summaries, and suspends on the operator's [Selector] until one speaker is
// chosen. The result is an immutable [Binding] held for the lifetime of the
// session. When the window yields no speakers, or the operator declines to
// choose, the whole window is retried with fresh audio up to a configured
// limit, after which calibration fails the session.
package calibrate

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/earshot-audio/earshot/pkg/provider/diarize"
)

// Sentinel errors. All three are calibration failures; only
// ErrRetriesExhausted is terminal for the session.
var (
	// ErrNoSpeakers indicates the diarization provider found no distinct
	// speakers in the calibration window.
	ErrNoSpeakers = errors.New("calibrate: no speakers found in window")

	// ErrNoSelection indicates the operator declined or failed to select a
	// speaker from the presented summary.
	ErrNoSelection = errors.New("calibrate: no speaker selected")

	// ErrRetriesExhausted indicates calibration failed on every allowed
	// attempt and the session cannot proceed.
	ErrRetriesExhausted = errors.New("calibrate: retries exhausted")
)

// Binding is the immutable result of calibration: the diarized speaker
// identifier bound to the monitored participant. Exactly one Binding exists
// per session; it is read-only after creation.
type Binding struct {
	// SpeakerID is the provider-assigned label of the bound speaker. It is
	// an opaque equality-comparable key with no meaning across sessions.
	SpeakerID string

	// DisplayName is the human-readable name shown with emitted replies.
	DisplayName string
}

// SpeakerSummary aggregates a speaker's presence in the calibration window,
// presented to the operator so they can tell the speakers apart.
type SpeakerSummary struct {
	// SpeakerID is the provider-assigned label.
	SpeakerID string

	// Segments is the number of diarization segments attributed to this
	// speaker in the window.
	Segments int

	// TotalSpeech is the cumulative duration of those segments.
	TotalSpeech time.Duration

	// First and Last are the earliest segment start and latest segment end,
	// relative to the window.
	First, Last time.Duration
}

// Selector is the operator-selection boundary: it presents discovered
// speakers and blocks until one is chosen. Implementations decide the
// medium — the web console presents summaries over a WebSocket.
//
// Select returns the chosen SpeakerID, or an error (wrap [ErrNoSelection])
// when the operator declines. Blocking until ctx is done is acceptable.
type Selector interface {
	Select(ctx context.Context, speakers []SpeakerSummary) (string, error)
}

// SelectorFunc adapts a function to the [Selector] interface.
type SelectorFunc func(ctx context.Context, speakers []SpeakerSummary) (string, error)

// Select implements [Selector].
func (f SelectorFunc) Select(ctx context.Context, speakers []SpeakerSummary) (string, error) {
	return f(ctx, speakers)
}

// Summarize aggregates diarization segments into per-speaker summaries,
// sorted by total speech descending so the most prominent speaker is listed
// first. Equal totals order by SpeakerID for determinism. An empty input
// yields an empty (non-nil) slice.
func Summarize(segments []diarize.Segment) []SpeakerSummary {
	byID := make(map[string]*SpeakerSummary)
	for _, seg := range segments {
		s, ok := byID[seg.SpeakerID]
		if !ok {
			s = &SpeakerSummary{
				SpeakerID: seg.SpeakerID,
				First:     seg.Start,
				Last:      seg.End,
			}
			byID[seg.SpeakerID] = s
		}
		s.Segments++
		s.TotalSpeech += seg.Duration()
		if seg.Start < s.First {
			s.First = seg.Start
		}
		if seg.End > s.Last {
			s.Last = seg.End
		}
	}

	out := make([]SpeakerSummary, 0, len(byID))
	for _, s := range byID {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalSpeech != out[j].TotalSpeech {
			return out[i].TotalSpeech > out[j].TotalSpeech
		}
		return out[i].SpeakerID < out[j].SpeakerID
	})
	return out
}
