// Package segment turns a continuous audio frame stream into discrete
// utterances.
//
// A [Classifier] labels each frame voiced or unvoiced using RMS energy with
// hysteresis. The [Segmenter] consumes labelled frames through a two-state
// machine (silence/speech), applying a trailing-silence hangover rule to
// decide when an utterance has ended, a minimum-duration rule to drop noise
// blips, and a maximum-duration cap so continuous talking cannot grow a
// buffer without bound. Finalized utterances flow through a bounded [Queue]
// that drops the oldest pending entry under backpressure, keeping ingestion
// decoupled from the slower downstream pipeline.
//
// None of the types in this package are safe for concurrent use by multiple
// goroutines except [Queue], which is a single-producer/single-consumer
// hand-off point.
package segment

import (
	"time"

	"github.com/google/uuid"
)

// Utterance is a contiguous span of detected speech, bounded by silence or
// the duration cap. It is created when speech onset is detected, extended
// while speech continues, and immutable once Finalized is set.
type Utterance struct {
	// ID uniquely identifies the utterance for logging and event correlation.
	ID string

	// Start is the stream timestamp of the first voiced frame.
	Start time.Duration

	// End is the stream timestamp just past the last voiced frame. Zero
	// until the utterance is finalized.
	End time.Duration

	// Audio is the s16le PCM captured between Start and End.
	Audio []byte

	// SampleRate is the sample rate of Audio in Hz.
	SampleRate int

	// SpeakerID is the attributed speaker label, filled in by attribution
	// after finalization. Empty until then.
	SpeakerID string

	// Finalized is set once the utterance is closed by hangover silence, the
	// duration cap, or a flush. Only finalized utterances leave this package.
	Finalized bool
}

// newUtterance opens an utterance starting at the given stream timestamp.
func newUtterance(start time.Duration, sampleRate int) *Utterance {
	return &Utterance{
		ID:         uuid.NewString(),
		Start:      start,
		SampleRate: sampleRate,
	}
}

// Duration returns End - Start. It is meaningful only once the utterance is
// finalized; the segmenter tracks the open utterance's span itself.
func (u *Utterance) Duration() time.Duration {
	return u.End - u.Start
}
