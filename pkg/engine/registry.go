package engine

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Entry pairs a registered descriptor with its extractor.
type Entry struct {
	Descriptor Descriptor
	Extractor  Extractor
}

// Registry is the static catalog of extractors, keyed by provider:service.
// Registration happens once at startup; a failed registration leaves the
// registry usable with a partial catalog. Read operations are safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty extractor registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
	}
}

// Register adds an extractor under its provider:service key. A duplicate
// key or a nil extractor is logged and returned as an error; the registry
// keeps serving its existing catalog.
func (r *Registry) Register(desc Descriptor, ex Extractor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := desc.Key()
	if desc.Provider == "" || desc.Service == "" {
		err := NewPermanentError("descriptor must carry provider and service", nil).
			WithCode(ErrCodeValidation)
		log.Warn().Str("extractor", key).Err(err).Msg("extractor registration rejected")
		return err
	}
	if ex == nil {
		err := NewPermanentError("extractor is nil", nil).
			WithCode(ErrCodeValidation).WithExtractor(key, "")
		log.Warn().Str("extractor", key).Err(err).Msg("extractor registration rejected")
		return err
	}
	if _, exists := r.entries[key]; exists {
		err := NewPermanentError("extractor already registered", nil).
			WithCode(ErrCodeAlreadyExists).WithExtractor(key, "")
		log.Warn().Str("extractor", key).Err(err).Msg("extractor registration rejected")
		return err
	}

	r.entries[key] = Entry{Descriptor: desc, Extractor: ex}
	return nil
}

// Resolve returns all entries matching the provider and service filters.
// An empty provider matches all providers; an empty service list matches
// all services of the matched providers. No match is not an error: the
// orchestrator treats an empty resolution as a job that completes
// immediately with zero artifacts.
func (r *Registry) Resolve(provider string, services []string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[string]bool, len(services))
	for _, s := range services {
		wanted[s] = true
	}

	matched := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if provider != "" && e.Descriptor.Provider != provider {
			continue
		}
		if len(wanted) > 0 && !wanted[e.Descriptor.Service] {
			continue
		}
		matched = append(matched, e)
	}

	// Stable order keeps dispatch and logs deterministic.
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Descriptor.Key() < matched[j].Descriptor.Key()
	})
	return matched
}

// List returns the descriptors matching the provider and service filters.
func (r *Registry) List(provider string, services []string) []Descriptor {
	entries := r.Resolve(provider, services)
	descs := make([]Descriptor, 0, len(entries))
	for _, e := range entries {
		descs = append(descs, e.Descriptor)
	}
	return descs
}

// Len returns the number of registered extractors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
