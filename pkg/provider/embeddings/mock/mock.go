// Package mock provides a test double for the embeddings.Provider interface.
//
// Use Provider to feed deterministic vectors into knowledge-store tests
// without a live embedding backend.
package mock

import (
	"context"
	"sync"

	"github.com/earshot-audio/earshot/pkg/provider/embeddings"
)

// Compile-time assertion that Provider implements embeddings.Provider.
var _ embeddings.Provider = (*Provider)(nil)

// Provider is a mock implementation of embeddings.Provider. The zero value
// returns a zero vector of length Dims (default 4) for every input.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Dims is the vector length reported and produced. Zero defaults to 4.
	Dims int

	// Vectors maps input text to the vector returned for it. Inputs not in
	// the map get a zero vector.
	Vectors map[string][]float32

	// Err, if non-nil, is returned from Embed and EmbedBatch.
	Err error

	// --- Call records (read after test) ---

	// Calls records every text passed to Embed or EmbedBatch in order.
	Calls []string
}

// Embed records the call and returns the scripted vector for text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch records each text and returns its scripted vector.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, texts...)
	err := p.Err
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := p.Vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = make([]float32, p.Dimensions())
	}
	return out, nil
}

// Dimensions returns Dims, defaulting to 4.
func (p *Provider) Dimensions() int {
	if p.Dims == 0 {
		return 4
	}
	return p.Dims
}

// ModelID identifies the mock in logs.
func (p *Provider) ModelID() string { return "mock-embed" }

// CallCount returns the number of texts embedded so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
