package scheduler

import (
	"context"
	"fmt"

	"github.com/agentrt/core/internal/config"
	"github.com/agentrt/core/internal/providers"
	"github.com/agentrt/core/internal/providers/anthropic"
	"github.com/agentrt/core/internal/providers/bedrock"
	"github.com/agentrt/core/internal/providers/oauthcache"
	"github.com/agentrt/core/internal/providers/openai"
)

// ProviderFactory builds a provider instance for the named provider,
// configured from the global LLM configuration. A Scheduler is given one
// via WithProviderFactory; DefaultProviderFactory covers the providers the
// rest of the module ships.
type ProviderFactory func(ctx context.Context, name string, llm config.LLMConfig) (providers.Provider, error)

// DefaultProviderFactory builds anthropic, openai, or bedrock providers by
// name, the three the module's providers package implements. Region and
// API-key material come from the matching entry in llm.Providers.
func DefaultProviderFactory(ctx context.Context, name string, llm config.LLMConfig) (providers.Provider, error) {
	entry := llm.Providers[name]

	switch name {
	case "anthropic":
		cfg := anthropic.Config{APIKey: entry.APIKey, BaseURL: entry.BaseURL}
		if entry.APIKey == "" && entry.OAuth.ClientID != "" {
			cfg.OAuth = &oauthcache.Config{
				Provider:     "anthropic",
				ClientID:     entry.OAuth.ClientID,
				ClientSecret: entry.OAuth.ClientSecret,
				AuthURL:      entry.OAuth.AuthURL,
				TokenURL:     entry.OAuth.TokenURL,
				Scopes:       entry.OAuth.Scopes,
				RedirectPort: entry.OAuth.RedirectPort,
			}
		}
		return anthropic.New(cfg)
	case "openai":
		return openai.New(openai.Config{APIKey: entry.APIKey})
	case "bedrock":
		return bedrock.New(ctx, bedrock.Config{Region: llm.Bedrock.Region})
	default:
		return nil, fmt.Errorf("scheduler: unknown provider %q", name)
	}
}

// resolveProviderModel picks the provider/model pair for a run: the
// recipe's own fields win when set, otherwise the global LLM default,
// matching the original scheduler's GOOSE_PROVIDER/GOOSE_MODEL fallback.
func resolveProviderModel(recipe *Recipe, llm config.LLMConfig) (providerName, modelName string, err error) {
	providerName = recipe.Provider
	if providerName == "" {
		providerName = llm.DefaultProvider
	}
	if providerName == "" {
		return "", "", fmt.Errorf("scheduler: no provider configured; set a default provider or recipe.provider")
	}

	modelName = recipe.Model
	if modelName == "" {
		modelName = llm.Providers[providerName].DefaultModel
	}
	if modelName == "" {
		return "", "", fmt.Errorf("scheduler: no model configured for provider %q; set a default model or recipe.model", providerName)
	}
	return providerName, modelName, nil
}
