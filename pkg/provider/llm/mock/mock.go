// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the pipeline sends correct
// CompletionRequests and to feed controlled responses without a live LLM
// backend. All fields are safe to set before calling any method; mutating
// them during a concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    Response: &llm.CompletionResponse{Content: "Hello!"},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/earshot-audio/earshot/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause Complete to return nil, nil.
// Set Err to inject an error.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Response is returned by every Complete call once Queue is exhausted.
	// May be nil.
	Response *llm.CompletionResponse

	// Queue, if non-empty, supplies responses one call at a time before
	// Response takes over.
	Queue []*llm.CompletionResponse

	// Err, if non-nil, is returned as the error from Complete.
	Err error

	// Block, if non-nil, makes Complete wait until the channel is closed or
	// ctx is cancelled. Use it to exercise timeout paths.
	Block chan struct{}

	// --- Call records (read after test) ---

	// Calls records every invocation of Complete in order.
	Calls []CompleteCall
}

// Complete records the call and returns the configured response and error.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, CompleteCall{Ctx: ctx, Req: req})
	resp := p.Response
	if len(p.Queue) > 0 {
		resp = p.Queue[0]
		p.Queue = p.Queue[1:]
	}
	err := p.Err
	block := p.Block
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
	return resp, nil
}

// CallCount returns the number of Complete invocations so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
