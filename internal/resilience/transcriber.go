package resilience

import (
	"context"

	"github.com/earshot-audio/earshot/pkg/provider/stt"
)

// Compile-time assertion that TranscriberFallback implements stt.Provider.
var _ stt.Provider = (*TranscriberFallback)(nil)

// TranscriberFallback wraps one or more [stt.Provider] instances behind a
// [FallbackGroup], so a failing transcription backend is bypassed in favour of
// the next healthy one. It implements [stt.Provider] and can be dropped in
// wherever a single backend is expected.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Provider]
}

// NewTranscriberFallback creates a fallback wrapper with primary as the first
// backend tried.
func NewTranscriberFallback(primary stt.Provider, name string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{
		group: NewFallbackGroup(primary, name, cfg),
	}
}

// AddFallback registers an additional backend, tried after all previously
// registered ones.
func (t *TranscriberFallback) AddFallback(name string, p stt.Provider) {
	t.group.AddFallback(name, p)
}

// Transcribe runs the request against the first healthy backend.
func (t *TranscriberFallback) Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (stt.Result, error) {
	return ExecuteWithResult(t.group, func(p stt.Provider) (stt.Result, error) {
		return p.Transcribe(ctx, pcm, sampleRate, language)
	})
}
