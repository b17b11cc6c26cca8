package pipeline

import (
	"time"

	"github.com/earshot-audio/earshot/internal/calibrate"
)

// State is the coarse operating mode of the [Orchestrator].
type State int

const (
	// StateIdle means Run has not started yet.
	StateIdle State = iota

	// StateCalibrating means the orchestrator is accumulating audio and
	// waiting for a speaker selection.
	StateCalibrating

	// StateMonitoring means a binding exists and utterances are flowing
	// through the downstream stages.
	StateMonitoring
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCalibrating:
		return "calibrating"
	case StateMonitoring:
		return "monitoring"
	default:
		return "unknown"
	}
}

// Transcription is emitted after a matched utterance has been transcribed and
// has passed the hallucination filter, before reply generation starts.
type Transcription struct {
	// Participant is the display name of the bound speaker.
	Participant string

	// Text is the cleaned transcript.
	Text string

	// Confidence is the backend's 0-1 score, zero when unreported.
	Confidence float64

	// Utterance is the ID of the source utterance.
	Utterance string

	// At is the wall-clock emission time.
	At time.Time
}

// Reply is the terminal product of one utterance: the generated response to
// what the bound speaker said. Replies are handed to the [Sink] and never
// stored.
type Reply struct {
	// Participant is the display name of the bound speaker.
	Participant string

	// Transcript is the cleaned transcript the reply responds to.
	Transcript string

	// Reply is the generated response text.
	Reply string

	// Utterance is the ID of the source utterance.
	Utterance string

	// At is the wall-clock emission time.
	At time.Time
}

// Status is emitted on every state or degradation change.
type Status struct {
	// State is the orchestrator's operating mode.
	State State

	// Degraded is set while consecutive provider failures exceed the
	// configured threshold.
	Degraded bool

	// Binding is the current speaker binding; zero during calibration.
	Binding calibrate.Binding

	// At is the wall-clock emission time.
	At time.Time
}

// Sink receives pipeline output events. Implementations must not block:
// a slow sink stalls the downstream loop. All methods may be called from a
// single goroutine only.
type Sink interface {
	// EmitTranscription delivers a finished transcription.
	EmitTranscription(Transcription)

	// EmitReply delivers a generated reply.
	EmitReply(Reply)

	// EmitStatus delivers a state or degradation change.
	EmitStatus(Status)
}

// NopSink discards all events. Useful as a default and in tests.
type NopSink struct{}

var _ Sink = NopSink{}

func (NopSink) EmitTranscription(Transcription) {}
func (NopSink) EmitReply(Reply)                 {}
func (NopSink) EmitStatus(Status)               {}
