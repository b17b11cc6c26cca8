// Package mock provides a test double for the audio.Source interface.
//
// Use Source to script a deterministic frame sequence into pipeline tests
// without a live capture device. Frames and gaps queued before Start are
// delivered in order; closing the source closes the Frames channel the way
// a real device failure would.
//
// Example:
//
//	src := mock.NewSource(16)
//	src.Push(frameA, frameB)
//	src.Finish() // closes Frames after the queued frames drain
package mock

import (
	"sync"
	"time"

	"github.com/earshot-audio/earshot/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Source = (*Source)(nil)

// Source is a scripted implementation of audio.Source.
type Source struct {
	frames chan audio.Frame
	gaps   chan audio.Gap

	mu        sync.Mutex
	closed    bool
	CloseErr  error
	CloseCnt  int
	finishOne sync.Once
}

// NewSource creates a Source whose Frames channel is buffered to depth n.
func NewSource(n int) *Source {
	return &Source{
		frames: make(chan audio.Frame, n),
		gaps:   make(chan audio.Gap, 4),
	}
}

// Push queues frames for delivery in order. Push blocks if the buffer is
// full, so tests can exercise consumer backpressure deliberately.
func (s *Source) Push(frames ...audio.Frame) {
	for _, f := range frames {
		s.frames <- f
	}
}

// PushGap queues a dropout signal.
func (s *Source) PushGap(g audio.Gap) {
	s.gaps <- g
}

// Finish closes the Frames channel once all queued frames have been taken.
// Safe to call multiple times.
func (s *Source) Finish() {
	s.finishOne.Do(func() { close(s.frames) })
}

// Frames implements audio.Source.
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// Gaps implements audio.Source.
func (s *Source) Gaps() <-chan audio.Gap { return s.gaps }

// Close implements audio.Source. It records the call, closes the Frames
// channel and returns CloseErr.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCnt++
	if s.closed {
		return nil
	}
	s.closed = true
	s.Finish()
	return s.CloseErr
}

// Tone generates n frames of a sine-like square wave at the given amplitude
// (0–1), useful for driving the VAD above its speech threshold. Frames are
// frameMs long at rate Hz mono, timestamped consecutively from start.
func Tone(n int, frameMs, rate int, amplitude float64, start time.Duration) []audio.Frame {
	samplesPerFrame := rate * frameMs / 1000
	level := int16(amplitude * 32767)
	frames := make([]audio.Frame, n)
	for i := range frames {
		data := make([]byte, samplesPerFrame*2)
		for j := 0; j < samplesPerFrame; j++ {
			v := level
			if j%2 == 1 {
				v = -level
			}
			data[j*2] = byte(v)
			data[j*2+1] = byte(v >> 8)
		}
		frames[i] = audio.Frame{
			Data:       data,
			SampleRate: rate,
			Channels:   1,
			Timestamp:  start + time.Duration(i*frameMs)*time.Millisecond,
		}
	}
	return frames
}

// Silence generates n frames of digital silence, timestamped consecutively
// from start.
func Silence(n int, frameMs, rate int, start time.Duration) []audio.Frame {
	samplesPerFrame := rate * frameMs / 1000
	frames := make([]audio.Frame, n)
	for i := range frames {
		frames[i] = audio.Frame{
			Data:       make([]byte, samplesPerFrame*2),
			SampleRate: rate,
			Channels:   1,
			Timestamp:  start + time.Duration(i*frameMs)*time.Millisecond,
		}
	}
	return frames
}
