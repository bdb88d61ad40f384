package handler

import (
	"log/slog"
	"net/http"

	"arbor/internal/capabilities"
	"arbor/internal/httputil"
)

// ModelsHandler serves model capability metadata to the UI
type ModelsHandler struct {
	capabilities *capabilities.Registry
	available    []string // providers actually wired at startup
	logger       *slog.Logger
}

// NewModelsHandler creates a new models handler. Only providers in
// available are listed; capability YAML for an unconfigured provider
// (anthropic without an API key) stays hidden.
func NewModelsHandler(caps *capabilities.Registry, available []string, logger *slog.Logger) *ModelsHandler {
	return &ModelsHandler{
		capabilities: caps,
		available:    available,
		logger:       logger,
	}
}

// ProviderModels groups a provider's models for the API response
type ProviderModels struct {
	Provider string                           `json:"provider"`
	Models   []capabilities.ModelCapabilities `json:"models"`
}

// List returns the models of every available provider, in YAML order
// GET /api/models
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	providers := make([]ProviderModels, 0, len(h.available))
	for _, name := range h.available {
		models, err := h.capabilities.ListProviderModels(name)
		if err != nil {
			h.logger.Warn("provider has no capability config", "provider", name)
			continue
		}
		providers = append(providers, ProviderModels{Provider: name, Models: models})
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{"providers": providers})
}
