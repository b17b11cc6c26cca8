// Package mock provides a test double for the diarize.Provider interface.
//
// Use Provider to feed deterministic speaker segments into calibration and
// attribution tests. Responses are consumed from a scripted queue, or a
// single fixed result when the queue is empty, which also makes idempotence
// tests straightforward.
//
// Example:
//
//	p := &mock.Provider{Segments: []diarize.Segment{
//	    {Start: 0, End: time.Second, SpeakerID: "SPEAKER_00"},
//	}}
//	segs, _ := p.Diarize(ctx, pcm, 16000)
package mock

import (
	"context"
	"sync"

	"github.com/earshot-audio/earshot/pkg/provider/diarize"
)

// Compile-time assertion that Provider implements diarize.Provider.
var _ diarize.Provider = (*Provider)(nil)

// DiarizeCall records a single invocation of Diarize.
type DiarizeCall struct {
	// PCM is a copy of the buffer passed to Diarize.
	PCM []byte
	// SampleRate is the rate passed to Diarize.
	SampleRate int
}

// Provider is a mock implementation of diarize.Provider.
// Zero values cause Diarize to return (nil, nil).
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Segments is returned by every Diarize call when Queue is empty.
	Segments []diarize.Segment

	// Queue, when non-empty, is consumed one response per call before
	// falling back to Segments. Use it to script differing results across
	// consecutive calls (e.g., calibration retries).
	Queue [][]diarize.Segment

	// Err, if non-nil, is returned as the error from Diarize.
	Err error

	// Block, if non-nil, makes Diarize wait until the channel is closed or
	// ctx is done. Use it to exercise timeout paths.
	Block chan struct{}

	// --- Call records (read after test) ---

	// Calls records every invocation of Diarize in order.
	Calls []DiarizeCall
}

// Diarize records the call and returns the next scripted response.
func (p *Provider) Diarize(ctx context.Context, pcm []byte, sampleRate int) ([]diarize.Segment, error) {
	p.mu.Lock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	p.Calls = append(p.Calls, DiarizeCall{PCM: cp, SampleRate: sampleRate})

	var out []diarize.Segment
	if len(p.Queue) > 0 {
		out = p.Queue[0]
		p.Queue = p.Queue[1:]
	} else {
		out = p.Segments
	}
	block := p.Block
	err := p.Err
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CallCount returns the number of Diarize invocations so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
