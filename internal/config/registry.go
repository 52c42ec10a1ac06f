package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/advisorsim/pkg/provider/chat"
	"github.com/MrWong99/advisorsim/pkg/provider/llm"
	"github.com/MrWong99/advisorsim/pkg/provider/s2s"
	"github.com/MrWong99/advisorsim/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	chat map[string]func(ProviderEntry) (chat.Provider, error)
	llm  map[string]func(ProviderEntry) (llm.Provider, error)
	s2s  map[string]func(ProviderEntry) (s2s.Provider, error)
	tts  map[string]func(ProviderEntry) (tts.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		chat: make(map[string]func(ProviderEntry) (chat.Provider, error)),
		llm:  make(map[string]func(ProviderEntry) (llm.Provider, error)),
		s2s:  make(map[string]func(ProviderEntry) (s2s.Provider, error)),
		tts:  make(map[string]func(ProviderEntry) (tts.Provider, error)),
	}
}

// RegisterChat registers a chat provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterChat(name string, factory func(ProviderEntry) (chat.Provider, error)) {
	register(r, r.chat, name, factory)
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	register(r, r.llm, name, factory)
}

// RegisterS2S registers an S2S provider factory under name.
func (r *Registry) RegisterS2S(name string, factory func(ProviderEntry) (s2s.Provider, error)) {
	register(r, r.s2s, name, factory)
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	register(r, r.tts, name, factory)
}

// CreateChat instantiates a chat provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateChat(entry ProviderEntry) (chat.Provider, error) {
	return create(r, r.chat, "chat", entry)
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, r.llm, "llm", entry)
}

// CreateS2S instantiates an S2S provider using the factory registered under entry.Name.
func (r *Registry) CreateS2S(entry ProviderEntry) (s2s.Provider, error) {
	return create(r, r.s2s, "s2s", entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(r, r.tts, "tts", entry)
}

// Names returns the sorted provider names registered for kind ("chat",
// "llm", "s2s" or "tts").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "chat":
		return slices.Sorted(maps.Keys(r.chat))
	case "llm":
		return slices.Sorted(maps.Keys(r.llm))
	case "s2s":
		return slices.Sorted(maps.Keys(r.s2s))
	case "tts":
		return slices.Sorted(maps.Keys(r.tts))
	}
	return nil
}

func register[P any](r *Registry, m map[string]func(ProviderEntry) (P, error), name string, factory func(ProviderEntry) (P, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m[name] = factory
}

func create[P any](r *Registry, m map[string]func(ProviderEntry) (P, error), kind string, entry ProviderEntry) (P, error) {
	r.mu.RLock()
	factory, ok := m[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}
