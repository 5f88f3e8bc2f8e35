// Package openai implements provider.Adapter against OpenAI's chat
// completions API.
package openai

import (
	"context"

	"github.com/agentforge/workflow-engine/provider"
	"github.com/agentforge/workflow-engine/provider/internal/openaicompat"
)

const endpoint = "https://api.openai.com/v1/chat/completions"

// Adapter talks to OpenAI's chat completions endpoint.
type Adapter struct {
	client *openaicompat.Client
}

// New creates an OpenAI adapter for the given API key. baseURL overrides
// the default chat-completions endpoint when non-empty (e.g. for an
// Azure-style or proxied deployment).
func New(apiKey, baseURL string) *Adapter {
	if baseURL == "" {
		baseURL = endpoint
	}
	return &Adapter{client: openaicompat.New("openai", baseURL, apiKey, nil)}
}

func (a *Adapter) Stream(ctx context.Context, messages []provider.Message, cfg provider.Config) (<-chan provider.Chunk, error) {
	return a.client.Stream(ctx, messages, cfg)
}

func (a *Adapter) Complete(ctx context.Context, messages []provider.Message, cfg provider.Config) (provider.CompleteResult, error) {
	return a.client.Complete(ctx, messages, cfg)
}

// ValidateAPIKeyFormat checks for OpenAI's "sk-" key prefix and a plausible
// minimum length.
func (a *Adapter) ValidateAPIKeyFormat(key string) bool {
	return openaicompat.ValidateAPIKeyFormat(key, "sk-", 20)
}

var _ provider.Adapter = (*Adapter)(nil)
