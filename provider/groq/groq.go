// Package groq implements provider.Adapter against Groq's OpenAI-compatible
// chat completions API.
package groq

import (
	"context"

	"github.com/agentforge/workflow-engine/provider"
	"github.com/agentforge/workflow-engine/provider/internal/openaicompat"
)

const endpoint = "https://api.groq.com/openai/v1/chat/completions"

// Adapter talks to Groq's chat completions endpoint.
type Adapter struct {
	client *openaicompat.Client
}

// New creates a Groq adapter for the given API key. baseURL overrides the
// default endpoint when non-empty.
func New(apiKey, baseURL string) *Adapter {
	if baseURL == "" {
		baseURL = endpoint
	}
	return &Adapter{client: openaicompat.New("groq", baseURL, apiKey, nil)}
}

func (a *Adapter) Stream(ctx context.Context, messages []provider.Message, cfg provider.Config) (<-chan provider.Chunk, error) {
	return a.client.Stream(ctx, messages, cfg)
}

func (a *Adapter) Complete(ctx context.Context, messages []provider.Message, cfg provider.Config) (provider.CompleteResult, error) {
	return a.client.Complete(ctx, messages, cfg)
}

// ValidateAPIKeyFormat checks for Groq's "gsk_" key prefix.
func (a *Adapter) ValidateAPIKeyFormat(key string) bool {
	return openaicompat.ValidateAPIKeyFormat(key, "gsk_", 20)
}

var _ provider.Adapter = (*Adapter)(nil)
