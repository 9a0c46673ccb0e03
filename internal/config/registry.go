package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/parivox/pkg/audio"
	"github.com/MrWong99/parivox/pkg/vad"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// Registry maps backend names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]func(AudioConfig) (audio.Devices, error)
	vad     map[string]func(BargeInConfig) (vad.Engine, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]func(AudioConfig) (audio.Devices, error)),
		vad:     make(map[string]func(BargeInConfig) (vad.Engine, error)),
	}
}

// RegisterDevices registers an audio devices factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDevices(name string, factory func(AudioConfig) (audio.Devices, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(BargeInConfig) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// CreateDevices instantiates the audio backend named by cfg.Backend.
// Returns [ErrBackendNotRegistered] if no factory has been registered for it.
func (r *Registry) CreateDevices(cfg AudioConfig) (audio.Devices, error) {
	r.mu.RLock()
	factory, ok := r.devices[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// CreateVAD instantiates the VAD engine named by cfg.VAD.
func (r *Registry) CreateVAD(cfg BargeInConfig) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[cfg.VAD]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrBackendNotRegistered, cfg.VAD)
	}
	return factory(cfg)
}
