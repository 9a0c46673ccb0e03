// Package persona holds the catalog of voice personas a session can speak as
// and resolves the free-form agent names the model uses in transfer requests.
//
// Resolution runs in four steps, stopping at the first hit:
//
//  1. Exact key or display name, case-insensitive.
//  2. Alias substring: every alias contained in the lowercased request is a
//     candidate; the longest alias wins and ties go to the persona listed
//     later in the catalog.
//  3. Jaro-Winkler similarity against keys and display names, accepted at or
//     above the fuzzy threshold (default 0.85).
//  4. The default persona.
package persona

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/antzucaro/matchr"
	"google.golang.org/genai"

	"github.com/MrWong99/parivox/internal/tools"
)

const defaultFuzzyThreshold = 0.85

// Persona is one voice agent.
type Persona struct {
	// Key identifies the persona in config and transfer log lines.
	Key string

	// Name is the display name the model is told to be.
	Name string

	// Voice is the prebuilt voice name requested in the setup envelope.
	Voice string

	// Instruction is the system instruction.
	Instruction string

	// Tools lists the tool names this persona may call.
	Tools []string

	// Aliases are lowercase keywords that route a transfer here.
	Aliases []string
}

// Declarations returns the tool schemas for the persona.
func (p Persona) Declarations() ([]*genai.FunctionDeclaration, error) {
	return tools.Declarations(p.Tools...)
}

// Option configures a [Registry].
type Option func(*Registry)

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for step 3 of
// resolution.
func WithFuzzyThreshold(threshold float64) Option {
	return func(r *Registry) { r.fuzzyThreshold = threshold }
}

// Registry is the persona catalog. All methods are safe for concurrent use;
// [Registry.Replace] swaps the whole catalog atomically.
type Registry struct {
	fuzzyThreshold float64

	mu       sync.RWMutex
	order    []string
	personas map[string]Persona
	def      string
}

// NewRegistry validates entries and builds a registry. defaultKey must name
// one of them.
func NewRegistry(entries []Persona, defaultKey string, opts ...Option) (*Registry, error) {
	r := &Registry{fuzzyThreshold: defaultFuzzyThreshold}
	for _, o := range opts {
		o(r)
	}
	if err := r.Replace(entries, defaultKey); err != nil {
		return nil, err
	}
	return r, nil
}

// Replace swaps in a new catalog. The registry is unchanged on error.
func (r *Registry) Replace(entries []Persona, defaultKey string) error {
	personas := make(map[string]Persona, len(entries))
	order := make([]string, 0, len(entries))
	var errs []error
	for i, p := range entries {
		if p.Key == "" {
			errs = append(errs, fmt.Errorf("persona[%d]: key is required", i))
			continue
		}
		if _, dup := personas[p.Key]; dup {
			errs = append(errs, fmt.Errorf("persona[%d]: duplicate key %q", i, p.Key))
			continue
		}
		for _, t := range p.Tools {
			if !tools.Known(t) {
				errs = append(errs, fmt.Errorf("persona %q: unknown tool %q", p.Key, t))
			}
		}
		if p.Name == "" {
			p.Name = p.Key
		}
		p.Tools = append([]string(nil), p.Tools...)
		aliases := make([]string, 0, len(p.Aliases))
		for _, a := range p.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				aliases = append(aliases, a)
			}
		}
		p.Aliases = aliases
		personas[p.Key] = p
		order = append(order, p.Key)
	}
	if len(order) == 0 {
		errs = append(errs, errors.New("persona: at least one persona is required"))
	} else if _, ok := personas[defaultKey]; !ok {
		errs = append(errs, fmt.Errorf("persona: default %q is not defined", defaultKey))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	r.mu.Lock()
	r.personas, r.order, r.def = personas, order, defaultKey
	r.mu.Unlock()
	return nil
}

// Lookup returns the persona with the exact key.
func (r *Registry) Lookup(key string) (Persona, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.personas[key]
	return p, ok
}

// Default returns the default persona.
func (r *Registry) Default() Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.personas[r.def]
}

// Keys returns all persona keys in catalog order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Resolve maps a spoken or model-supplied agent name to a persona.
func (r *Registry) Resolve(name string) Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(name))
	if q == "" {
		return r.personas[r.def]
	}

	for _, k := range r.order {
		p := r.personas[k]
		if q == strings.ToLower(p.Key) || q == strings.ToLower(p.Name) {
			return p
		}
	}

	best, bestLen := "", 0
	for _, k := range r.order {
		for _, a := range r.personas[k].Aliases {
			if len(a) >= bestLen && strings.Contains(q, a) {
				best, bestLen = k, len(a)
			}
		}
	}
	if best != "" {
		return r.personas[best]
	}

	best, bestScore := "", r.fuzzyThreshold
	for _, k := range r.order {
		p := r.personas[k]
		for _, cand := range []string{strings.ToLower(p.Key), strings.ToLower(p.Name)} {
			if s := matchr.JaroWinkler(q, cand, false); s >= bestScore {
				best, bestScore = k, s
			}
		}
	}
	if best != "" {
		return r.personas[best]
	}
	return r.personas[r.def]
}
