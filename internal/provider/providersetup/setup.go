package providersetup

import (
	"fmt"
	"log/slog"

	"arbor/internal/provider"
	"arbor/internal/provider/anthropic"
	"arbor/internal/provider/lorem"
)

// Setup builds the provider registry from configuration. The lorem
// provider is always available so the app works without any API keys;
// anthropic joins when a key is configured.
func Setup(anthropicAPIKey string, logger *slog.Logger) (*provider.Registry, error) {
	providers := []provider.Provider{lorem.NewProvider()}
	logger.Info("provider available", "name", "lorem", "models", "lorem-*")

	if anthropicAPIKey != "" {
		p, err := anthropic.NewProvider(anthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("setup anthropic provider: %w", err)
		}
		providers = append(providers, p)
		logger.Info("provider available", "name", "anthropic", "models", "claude-*")
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set - Anthropic provider not available")
	}

	return provider.NewRegistry(providers...), nil
}
