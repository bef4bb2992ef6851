package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/aria/pkg/provider/asr"
	"github.com/MrWong99/aria/pkg/provider/llm"
	"github.com/MrWong99/aria/pkg/provider/nlu"
	"github.com/MrWong99/aria/pkg/provider/playback"
	"github.com/MrWong99/aria/pkg/provider/textproc"
	"github.com/MrWong99/aria/pkg/provider/trigger"
	"github.com/MrWong99/aria/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. Factories receive the full config so each can pull its own
// section plus system-wide settings such as the default language. The
// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	tts      map[string]func(*Config) (tts.Provider, error)
	playback map[string]func(*Config) (playback.Provider, error)
	asr      map[string]func(*Config) (asr.Provider, error)
	llm      map[string]func(*Config) (llm.Provider, error)
	trigger  map[string]func(*Config) (trigger.Provider, error)
	nlu      map[string]func(*Config) (nlu.Provider, error)
	textproc map[string]func(*Config) (textproc.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		tts:      make(map[string]func(*Config) (tts.Provider, error)),
		playback: make(map[string]func(*Config) (playback.Provider, error)),
		asr:      make(map[string]func(*Config) (asr.Provider, error)),
		llm:      make(map[string]func(*Config) (llm.Provider, error)),
		trigger:  make(map[string]func(*Config) (trigger.Provider, error)),
		nlu:      make(map[string]func(*Config) (nlu.Provider, error)),
		textproc: make(map[string]func(*Config) (textproc.Provider, error)),
	}
}

// RegisterTTS registers a TTS provider factory under name. Subsequent calls
// with the same name overwrite the previous registration.
func (r *Registry) RegisterTTS(name string, factory func(*Config) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterPlayback registers an audio playback provider factory under name.
func (r *Registry) RegisterPlayback(name string, factory func(*Config) (playback.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playback[name] = factory
}

// RegisterASR registers an ASR provider factory under name.
func (r *Registry) RegisterASR(name string, factory func(*Config) (asr.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asr[name] = factory
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(*Config) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterTrigger registers a voice trigger provider factory under name.
func (r *Registry) RegisterTrigger(name string, factory func(*Config) (trigger.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trigger[name] = factory
}

// RegisterNLU registers an NLU provider factory under name.
func (r *Registry) RegisterNLU(name string, factory func(*Config) (nlu.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nlu[name] = factory
}

// RegisterTextProc registers a text processor provider factory under name.
func (r *Registry) RegisterTextProc(name string, factory func(*Config) (textproc.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.textproc[name] = factory
}

// CreateTTS instantiates the TTS provider registered under name. Returns
// [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateTTS(cfg *Config, name string) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}

// CreatePlayback instantiates the playback provider registered under name.
func (r *Registry) CreatePlayback(cfg *Config, name string) (playback.Provider, error) {
	r.mu.RLock()
	factory, ok := r.playback[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}

// CreateASR instantiates the ASR provider registered under name.
func (r *Registry) CreateASR(cfg *Config, name string) (asr.Provider, error) {
	r.mu.RLock()
	factory, ok := r.asr[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: asr/%q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}

// CreateLLM instantiates the LLM provider registered under name.
func (r *Registry) CreateLLM(cfg *Config, name string) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}

// CreateTrigger instantiates the voice trigger provider registered under name.
func (r *Registry) CreateTrigger(cfg *Config, name string) (trigger.Provider, error) {
	r.mu.RLock()
	factory, ok := r.trigger[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: voice_trigger/%q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}

// CreateNLU instantiates the NLU provider registered under name.
func (r *Registry) CreateNLU(cfg *Config, name string) (nlu.Provider, error) {
	r.mu.RLock()
	factory, ok := r.nlu[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: nlu/%q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}

// CreateTextProc instantiates the text processor registered under name.
func (r *Registry) CreateTextProc(cfg *Config, name string) (textproc.Provider, error) {
	r.mu.RLock()
	factory, ok := r.textproc[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: text_processor/%q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}
