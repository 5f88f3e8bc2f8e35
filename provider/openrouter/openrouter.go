// Package openrouter implements provider.Adapter against OpenRouter's
// OpenAI-compatible chat completions API, with the HTTP-Referer/X-Title
// attribution headers OpenRouter asks integrators to send.
package openrouter

import (
	"context"

	"github.com/agentforge/workflow-engine/provider"
	"github.com/agentforge/workflow-engine/provider/internal/openaicompat"
)

const endpoint = "https://openrouter.ai/api/v1/chat/completions"

// Adapter talks to OpenRouter's chat completions endpoint.
type Adapter struct {
	client *openaicompat.Client
}

// New creates an OpenRouter adapter. referer and title are sent as the
// HTTP-Referer and X-Title headers OpenRouter uses to attribute traffic;
// either may be empty. baseURL overrides the default endpoint when
// non-empty.
func New(apiKey, baseURL, referer, title string) *Adapter {
	if baseURL == "" {
		baseURL = endpoint
	}
	headers := map[string]string{}
	if referer != "" {
		headers["HTTP-Referer"] = referer
	}
	if title != "" {
		headers["X-Title"] = title
	}
	return &Adapter{client: openaicompat.New("openrouter", baseURL, apiKey, headers)}
}

func (a *Adapter) Stream(ctx context.Context, messages []provider.Message, cfg provider.Config) (<-chan provider.Chunk, error) {
	return a.client.Stream(ctx, messages, cfg)
}

func (a *Adapter) Complete(ctx context.Context, messages []provider.Message, cfg provider.Config) (provider.CompleteResult, error) {
	return a.client.Complete(ctx, messages, cfg)
}

// ValidateAPIKeyFormat checks for OpenRouter's "sk-or-" key prefix.
func (a *Adapter) ValidateAPIKeyFormat(key string) bool {
	return openaicompat.ValidateAPIKeyFormat(key, "sk-or-", 20)
}

var _ provider.Adapter = (*Adapter)(nil)
