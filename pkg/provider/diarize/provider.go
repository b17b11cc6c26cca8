// Package diarize defines the Provider interface for speaker-embedding
// (diarization) backends.
//
// A diarization provider maps an audio buffer to an ordered set of
// time-labelled speaker segments. Speaker identifiers are opaque: they are
// assigned by the backing model at runtime ("SPEAKER_00", "SPEAKER_01", …)
// and carry no meaning beyond equality comparison within one session. The
// calibration and attribution stages treat them purely as keys.
//
// Providers must be idempotent: diarizing the same buffer twice yields the
// same segments. They may legitimately return zero segments for audio that
// is too short or inconclusive — callers must never assume a speaker by
// default in that case.
//
// Implementations must be safe for concurrent use.
package diarize

import (
	"context"
	"time"
)

// Segment is a contiguous span of one speaker's speech within a diarized
// buffer. Times are relative to the start of the submitted buffer.
type Segment struct {
	// Start of the span.
	Start time.Duration

	// End of the span. Always ≥ Start.
	End time.Duration

	// SpeakerID is the model-assigned opaque speaker label.
	SpeakerID string
}

// Duration returns the length of the segment.
func (s Segment) Duration() time.Duration {
	return s.End - s.Start
}

// Provider is the abstraction over any diarization backend.
type Provider interface {
	// Diarize submits a 16-bit signed little-endian mono PCM buffer and
	// returns the speaker segments found in it, ordered by start time.
	//
	// A nil or empty segment slice with a nil error is a valid result and
	// means the backend could not attribute any speech in the buffer.
	// Implementations must respect ctx cancellation and deadlines.
	Diarize(ctx context.Context, pcm []byte, sampleRate int) ([]Segment, error)
}
