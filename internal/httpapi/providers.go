package httpapi

import (
	"context"
	"fmt"

	"github.com/agentrt/core/internal/providers"
)

// providerFor returns a cached Provider for name, building one through
// the configured ProviderFactory on first use. One process-lifetime
// provider per name is enough here: providers are stateless RPC clients,
// so nothing is gained by rebuilding one per request.
func (s *Server) providerFor(ctx context.Context, name string) (providers.Provider, error) {
	s.providerMu.Lock()
	defer s.providerMu.Unlock()

	if p, ok := s.providers[name]; ok {
		return p, nil
	}
	if _, ok := s.llm.Providers[name]; !ok {
		return nil, fmt.Errorf("httpapi: provider %q is not configured", name)
	}
	p, err := s.providerFactory(ctx, name, s.llm)
	if err != nil {
		return nil, fmt.Errorf("httpapi: build provider %q: %w", name, err)
	}
	s.providers[name] = p
	return p, nil
}
