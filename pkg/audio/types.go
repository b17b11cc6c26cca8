// Package audio defines the frame types and the Source interface that feed
// the earshot monitoring pipeline.
//
// A [Source] is a live, continuous producer of fixed-duration PCM frames —
// a PulseAudio monitor device, a Discord voice channel, or a scripted mock
// in tests. The pipeline consumes frames one at a time and never seeks or
// rewinds; once a frame has been classified it is discarded.
//
// This package lives under pkg/ because external integrators are expected
// to implement [Source] for platforms earshot does not ship an adapter for.
package audio

import (
	"errors"
	"time"
)

// ErrSourceClosed reports that a [Source] has terminated: its device or
// connection is gone and the Frames channel is closed. Consumers treat it
// as a fatal device failure.
var ErrSourceClosed = errors.New("audio: source closed")

// Frame is a single fixed-duration block of PCM audio flowing through the
// pipeline. Frames are immutable once produced.
type Frame struct {
	// Data is raw 16-bit signed little-endian PCM.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for transcription input, 48000 for
	// Discord Opus decode output).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame, derived from its
// PCM length, sample rate, and channel count. Returns 0 for malformed frames.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Gap signals a dropout in the frame stream: the source lost or skipped
// audio and is reporting it rather than silently resuming. Consumers use
// gaps to reset segmentation state so a half-captured utterance is not
// stitched across the hole.
type Gap struct {
	// At is the stream timestamp at which the dropout was detected.
	At time.Duration

	// Missing is the estimated duration of lost audio. May be zero when the
	// source cannot quantify the loss.
	Missing time.Duration
}

// Source is a live audio frame producer.
//
// Frames arrive in non-decreasing Timestamp order. The Frames channel is
// closed when the underlying device or connection terminates — consumers
// must treat that as a fatal device failure, not as a pause. Dropouts are
// signalled on the Gaps channel, never silently skipped.
//
// Implementations must be safe for concurrent use and must not block frame
// production on slow consumers; it is the consumer's job to keep up or to
// make an explicit drop decision.
type Source interface {
	// Frames returns the read-only frame channel. The same channel is
	// returned on every call.
	Frames() <-chan Frame

	// Gaps returns the read-only dropout channel. The same channel is
	// returned on every call. Sources that cannot detect dropouts return a
	// channel that never delivers.
	Gaps() <-chan Gap

	// Close stops capture and releases the underlying device or connection.
	// After Close returns, the Frames channel is closed. Calling Close more
	// than once is safe and returns nil.
	Close() error
}
