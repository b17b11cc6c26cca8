package resilience

import (
	"context"

	"github.com/earshot-audio/earshot/pkg/provider/llm"
)

// Compile-time assertion that GeneratorFallback implements llm.Provider.
var _ llm.Provider = (*GeneratorFallback)(nil)

// GeneratorFallback wraps one or more [llm.Provider] instances behind a
// [FallbackGroup], so a failing reply-generation backend is bypassed in favour
// of the next healthy one. It implements [llm.Provider] and can be dropped in
// wherever a single backend is expected.
type GeneratorFallback struct {
	group *FallbackGroup[llm.Provider]
}

// NewGeneratorFallback creates a fallback wrapper with primary as the first
// backend tried.
func NewGeneratorFallback(primary llm.Provider, name string, cfg FallbackConfig) *GeneratorFallback {
	return &GeneratorFallback{
		group: NewFallbackGroup(primary, name, cfg),
	}
}

// AddFallback registers an additional backend, tried after all previously
// registered ones.
func (g *GeneratorFallback) AddFallback(name string, p llm.Provider) {
	g.group.AddFallback(name, p)
}

// Complete runs the request against the first healthy backend.
func (g *GeneratorFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(g.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}
