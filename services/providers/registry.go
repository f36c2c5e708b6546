package providers

import (
	"errors"
	"fmt"
	"sort"

	"github.com/upb/provider-orchestrator/internal/concurrency"
)

var (
	// ErrInvalidProvider is returned when a provider fails validation
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrProviderAlreadyRegistered is returned when two providers share an id
	ErrProviderAlreadyRegistered = errors.New("provider already registered")
)

// Registry is the immutable catalog of providers.
// It is built once at startup and exposes no mutation API.
type Registry struct {
	byID    *concurrency.ConcurrentMap[string, Provider]
	ordered []Provider          // sorted by priority, fallback order, id
	byModel map[string][]string // model -> provider ids in registry order
}

// NewRegistry validates the providers and builds the catalog
func NewRegistry(list ...Provider) (*Registry, error) {
	r := &Registry{
		byID:    concurrency.NewConcurrentMap[string, Provider](),
		byModel: make(map[string][]string),
	}

	for _, p := range list {
		if err := p.Validate(); err != nil {
			return nil, err
		}

		p = p.clone()
		p.Models = dedupe(p.Models)
		if p.Type == "" {
			p.Type = TypeGeneric
		}
		if p.Name == "" {
			p.Name = p.ID
		}

		if _, inserted := r.byID.SetIfAbsent(p.ID, p); !inserted {
			return nil, fmt.Errorf("%w: %s", ErrProviderAlreadyRegistered, p.ID)
		}
		r.ordered = append(r.ordered, p)
	}

	sort.SliceStable(r.ordered, func(i, j int) bool {
		return Less(r.ordered[i], r.ordered[j])
	})

	for _, p := range r.ordered {
		for _, m := range p.Models {
			r.byModel[m] = append(r.byModel[m], p.ID)
		}
	}

	return r, nil
}

// Less orders providers by priority, then fallback order, then id
func Less(a, b Provider) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.FallbackOrder != b.FallbackOrder {
		return a.FallbackOrder < b.FallbackOrder
	}
	return a.ID < b.ID
}

// List returns every provider in priority order
func (r *Registry) List() []Provider {
	out := make([]Provider, 0, len(r.ordered))
	for _, p := range r.ordered {
		out = append(out, p.clone())
	}
	return out
}

// Get retrieves a provider by id
func (r *Registry) Get(id string) (Provider, bool) {
	p, ok := r.byID.Get(id)
	if !ok {
		return Provider{}, false
	}
	return p.clone(), true
}

// FindSupporting returns the providers that list model, active or not, in priority order
func (r *Registry) FindSupporting(model string) []Provider {
	ids := r.byModel[model]
	out := make([]Provider, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.Get(id); ok {
			out = append(out, p)
		}
	}
	return out
}

// IDs returns every provider id in priority order
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.ordered))
	for _, p := range r.ordered {
		ids = append(ids, p.ID)
	}
	return ids
}

// Count returns the number of registered providers
func (r *Registry) Count() int {
	return r.byID.Size()
}

// Models returns every supported model, sorted
func (r *Registry) Models() []string {
	models := make([]string, 0, len(r.byModel))
	for m := range r.byModel {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

func dedupe(models []string) []string {
	seen := make(map[string]struct{}, len(models))
	out := models[:0]
	for _, m := range models {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
