// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to feed controlled transcripts into pipeline tests without a
// live transcription backend.
//
// Example:
//
//	p := &mock.Provider{Result: stt.Result{Text: "hello there"}}
//	r, _ := p.Transcribe(ctx, pcm, 16000, "en")
package mock

import (
	"context"
	"sync"

	"github.com/earshot-audio/earshot/pkg/provider/stt"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// PCM is a copy of the buffer passed to Transcribe.
	PCM []byte
	// SampleRate is the rate passed to Transcribe.
	SampleRate int
	// Language is the hint passed to Transcribe.
	Language string
}

// Provider is a mock implementation of stt.Provider.
// Zero values cause Transcribe to return an empty Result and nil error.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Result is returned by every Transcribe call when Queue is empty.
	Result stt.Result

	// Queue, when non-empty, is consumed one result per call before
	// falling back to Result.
	Queue []stt.Result

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Block, if non-nil, makes Transcribe wait until the channel is closed
	// or ctx is done. Use it to exercise timeout paths.
	Block chan struct{}

	// --- Call records (read after test) ---

	// Calls records every invocation of Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the next scripted result.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (stt.Result, error) {
	p.mu.Lock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	p.Calls = append(p.Calls, TranscribeCall{PCM: cp, SampleRate: sampleRate, Language: language})

	out := p.Result
	if len(p.Queue) > 0 {
		out = p.Queue[0]
		p.Queue = p.Queue[1:]
	}
	block := p.Block
	err := p.Err
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return stt.Result{}, ctx.Err()
		}
	}
	if err != nil {
		return stt.Result{}, err
	}
	return out, nil
}

// CallCount returns the number of Transcribe invocations so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
