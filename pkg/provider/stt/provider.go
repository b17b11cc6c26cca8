// Package stt defines the Provider interface for speech-to-text backends.
//
// Unlike a live-captioning system, earshot transcribes complete finalized
// utterances, so the interface is a stateless batch call: one audio buffer
// in, one transcript out. Streaming partials offer nothing here — the
// utterance boundary has already been decided by the segmenter before the
// backend ever sees the audio.
//
// Implementations must be safe for concurrent use, although the pipeline
// only ever has one transcription in flight at a time.
package stt

import (
	"context"
	"errors"
)

// ErrMalformedAudio is returned when the backend rejects the submitted
// buffer as undecodable (wrong alignment, empty, impossible sample rate).
// It is a per-utterance failure: the caller discards the utterance and
// continues.
var ErrMalformedAudio = errors.New("stt: malformed audio buffer")

// Result is a completed transcription.
type Result struct {
	// Text is the transcribed speech. May be empty for buffers the model
	// considers non-speech — callers must treat an empty transcript as a
	// discard, not an error.
	Text string

	// Language is the detected (or configured) BCP-47 language code.
	Language string

	// Confidence is a rough 0–1 score. Zero when the backend does not
	// report one.
	Confidence float64
}

// Provider is the abstraction over any speech-to-text backend.
type Provider interface {
	// Transcribe converts a 16-bit signed little-endian mono PCM buffer
	// into text. language is a BCP-47 hint; empty lets the backend detect
	// the language if it supports that.
	//
	// Returns ErrMalformedAudio (possibly wrapped) for undecodable input.
	// Implementations must respect ctx cancellation and deadlines.
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (Result, error)
}
