package provider

import (
	"arbor/internal/domain"
)

// Registry routes model names to the provider that serves them.
type Registry struct {
	providers []Provider
}

// NewRegistry creates a registry over the given providers; order is
// the lookup order.
func NewRegistry(providers ...Provider) *Registry {
	return &Registry{providers: providers}
}

// Register appends a provider.
func (r *Registry) Register(p Provider) {
	r.providers = append(r.providers, p)
}

// ForModel returns the first provider that supports the model.
func (r *Registry) ForModel(model string) (Provider, error) {
	for _, p := range r.providers {
		if p.SupportsModel(model) {
			return p, nil
		}
	}
	return nil, &domain.ValidationError{Message: "no provider supports model " + model}
}

// Names returns the registered provider names in lookup order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name())
	}
	return names
}
