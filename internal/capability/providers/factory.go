// Package providers resolves a config.ModelSpec to a concrete
// capability.LLMClient, mirroring the teacher's provider-selection factory.
package providers

import (
	"context"
	"fmt"

	"github.com/maestro-research/maestro/internal/capability"
	"github.com/maestro-research/maestro/internal/capability/providers/anthropic"
	"github.com/maestro-research/maestro/internal/capability/providers/google"
	"github.com/maestro-research/maestro/internal/capability/providers/openai"
	"github.com/maestro-research/maestro/internal/config"
)

// Credentials bundles the API keys needed to construct any provider client.
type Credentials struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string
}

// Prices gives a rough per-provider cost table used to populate
// capability.Usage.CostUSD; callers supply real pricing from their own
// deployment config.
type Prices struct {
	Anthropic anthropic.PricePerMillion
	OpenAI    openai.PricePerMillion
	Google    google.PricePerMillion
}

// Build resolves one config.ModelSpec to a capability.LLMClient.
func Build(ctx context.Context, spec config.ModelSpec, creds Credentials, prices Prices) (capability.LLMClient, error) {
	switch spec.Provider {
	case "anthropic":
		return anthropic.New(creds.AnthropicAPIKey, spec.Model, prices.Anthropic), nil
	case "openai":
		return openai.New(creds.OpenAIAPIKey, spec.Model, "text-embedding-3-small", 1536, prices.OpenAI), nil
	case "google":
		return google.New(ctx, creds.GoogleAPIKey, spec.Model, prices.Google)
	default:
		return nil, fmt.Errorf("providers: unknown provider %q", spec.Provider)
	}
}

// RoleRouter implements capability.LLMClient by dispatching to the client
// bound to the Role carried on each request, so agents can hold a single
// RoleRouter instance instead of four separate clients.
type RoleRouter struct {
	clients map[config.ModelRole]capability.LLMClient
}

// NewRoleRouter resolves every role in models and returns a router over them.
func NewRoleRouter(ctx context.Context, models config.ModelsConfig, creds Credentials, prices Prices) (*RoleRouter, error) {
	router := &RoleRouter{clients: make(map[config.ModelRole]capability.LLMClient, 4)}

	specs := map[config.ModelRole]config.ModelSpec{
		config.RoleFast:        models.Fast,
		config.RoleMid:         models.Mid,
		config.RoleIntelligent: models.Intelligent,
		config.RoleVerifier:    models.Verifier,
	}
	for role, spec := range specs {
		client, err := Build(ctx, spec, creds, prices)
		if err != nil {
			return nil, fmt.Errorf("providers: building role %s: %w", role, err)
		}
		router.clients[role] = client
	}
	return router, nil
}

func (r *RoleRouter) Complete(ctx context.Context, req capability.CompletionRequest) (capability.CompletionResponse, error) {
	client, ok := r.clients[req.Role]
	if !ok {
		return capability.CompletionResponse{}, fmt.Errorf("providers: no client bound for role %q", req.Role)
	}
	return client.Complete(ctx, req)
}

func (r *RoleRouter) Stream(ctx context.Context, req capability.CompletionRequest, handler capability.StreamHandler) error {
	client, ok := r.clients[req.Role]
	if !ok {
		err := fmt.Errorf("providers: no client bound for role %q", req.Role)
		handler.OnError(err)
		return err
	}
	return client.Stream(ctx, req, handler)
}
