package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/earshot-audio/earshot/pkg/audio"
	"github.com/earshot-audio/earshot/pkg/provider/diarize"
	"github.com/earshot-audio/earshot/pkg/provider/embeddings"
	"github.com/earshot-audio/earshot/pkg/provider/llm"
	"github.com/earshot-audio/earshot/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// pipeline stage. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	diarize map[string]func(ProviderEntry) (diarize.Provider, error)
	stt     map[string]func(STTConfig) (stt.Provider, error)
	llm     map[string]func(LLMConfig) (llm.Provider, error)
	embed   map[string]func(ProviderEntry) (embeddings.Provider, error)
	audio   map[AudioSource]func(AudioConfig) (audio.Source, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		diarize: make(map[string]func(ProviderEntry) (diarize.Provider, error)),
		stt:     make(map[string]func(STTConfig) (stt.Provider, error)),
		llm:     make(map[string]func(LLMConfig) (llm.Provider, error)),
		embed:   make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
		audio:   make(map[AudioSource]func(AudioConfig) (audio.Source, error)),
	}
}

// RegisterDiarize registers a diarization provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDiarize(name string, factory func(ProviderEntry) (diarize.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diarize[name] = factory
}

// RegisterSTT registers a transcription provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(STTConfig) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterLLM registers a reply-generation provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(LLMConfig) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterEmbed registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbed(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embed[name] = factory
}

// RegisterAudio registers an audio source factory for the given source kind.
func (r *Registry) RegisterAudio(source AudioSource, factory func(AudioConfig) (audio.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[source] = factory
}

// CreateDiarize instantiates a diarization provider using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateDiarize(entry ProviderEntry) (diarize.Provider, error) {
	r.mu.RLock()
	factory, ok := r.diarize[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: diarize/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSTT instantiates a transcription provider using the factory registered
// under cfg.Name.
func (r *Registry) CreateSTT(cfg STTConfig) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// CreateLLM instantiates a reply-generation provider using the factory
// registered under cfg.Name.
func (r *Registry) CreateLLM(cfg LLMConfig) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// CreateEmbed instantiates an embeddings provider using the factory
// registered under entry.Name.
func (r *Registry) CreateEmbed(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embed[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embed/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAudio instantiates an audio source using the factory registered for
// cfg.Source.
func (r *Registry) CreateAudio(cfg AudioConfig) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.audio[cfg.Source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, cfg.Source)
	}
	return factory(cfg)
}
