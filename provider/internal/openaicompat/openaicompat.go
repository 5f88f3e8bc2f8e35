// Package openaicompat implements the chat-completions wire format shared
// by OpenAI, Groq and OpenRouter: Bearer auth, SSE framed as
// "data: <json>" lines terminated by "data: [DONE]".
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agentforge/workflow-engine/provider"
	"github.com/agentforge/workflow-engine/provider/internal/sse"
)

// RequestTimeout is the total per-call budget shared by every adapter.
const RequestTimeout = 120 * time.Second

// Client is the shared implementation behind the openai, groq and
// openrouter adapters. Name identifies the vendor for error messages;
// Endpoint is the fixed chat-completions URL; ExtraHeaders lets openrouter
// add HTTP-Referer/X-Title without a separate code path.
type Client struct {
	Name         string
	Endpoint     string
	APIKey       string
	ExtraHeaders map[string]string
	HTTP         *http.Client
}

// New builds a Client with a dedicated http.Client reused across calls.
func New(name, endpoint, apiKey string, extraHeaders map[string]string) *Client {
	return &Client{
		Name:         name,
		Endpoint:     endpoint,
		APIKey:       apiKey,
		ExtraHeaders: extraHeaders,
		HTTP:         &http.Client{Timeout: RequestTimeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

func toWireMessages(messages []provider.Message) []chatMessage {
	out := make([]chatMessage, len(messages))
	for i, m := range messages {
		out[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

func (c *Client) newRequest(ctx context.Context, messages []provider.Message, cfg provider.Config, stream bool) (*http.Request, error) {
	body, err := json.Marshal(chatRequest{
		Model:       cfg.Model,
		Messages:    toWireMessages(messages),
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", c.Name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", c.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	for k, v := range c.ExtraHeaders {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (c *Client) doAndClassify(req *http.Request) (*http.Response, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &provider.ProviderError{Provider: c.Name, Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classify(c.Name, resp.StatusCode, string(body))
	}
	return resp, nil
}

func classify(name string, status int, body string) error {
	switch status {
	case http.StatusUnauthorized:
		return &provider.AuthError{Provider: name, Status: status}
	case http.StatusTooManyRequests:
		return &provider.RateLimitError{Provider: name}
	default:
		return &provider.ProviderError{Provider: name, Status: status, Message: body}
	}
}

type streamDelta struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Stream implements provider.Adapter.Stream for OpenAI-compatible vendors.
func (c *Client) Stream(ctx context.Context, messages []provider.Message, cfg provider.Config) (<-chan provider.Chunk, error) {
	req, err := c.newRequest(ctx, messages, cfg, true)
	if err != nil {
		return nil, err
	}
	resp, err := c.doAndClassify(req)
	if err != nil {
		return nil, err
	}

	out := make(chan provider.Chunk)
	go func() {
		defer close(out)
		defer func() { _ = resp.Body.Close() }()

		reader := sse.NewReader(resp.Body)
		tokensUsed := 0
		for {
			payload, ok := reader.Next()
			if !ok {
				break
			}
			if payload == "[DONE]" {
				break
			}
			var delta streamDelta
			if err := json.Unmarshal([]byte(payload), &delta); err != nil {
				continue // malformed frame: skip, keep streaming
			}
			if delta.Usage != nil {
				tokensUsed = delta.Usage.TotalTokens
			}
			if len(delta.Choices) > 0 && delta.Choices[0].Delta.Content != "" {
				out <- provider.Chunk{Content: delta.Choices[0].Delta.Content}
			}
		}
		out <- provider.Chunk{IsFinal: true, TokensUsed: tokensUsed}
	}()
	return out, nil
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

// Complete implements provider.Adapter.Complete for OpenAI-compatible vendors.
func (c *Client) Complete(ctx context.Context, messages []provider.Message, cfg provider.Config) (provider.CompleteResult, error) {
	req, err := c.newRequest(ctx, messages, cfg, false)
	if err != nil {
		return provider.CompleteResult{}, err
	}
	resp, err := c.doAndClassify(req)
	if err != nil {
		return provider.CompleteResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return provider.CompleteResult{}, &provider.ProviderError{Provider: c.Name, Message: "malformed response: " + err.Error()}
	}
	content := ""
	if len(parsed.Choices) > 0 {
		content = parsed.Choices[0].Message.Content
	}
	return provider.CompleteResult{Content: content, TokensUsed: parsed.Usage.TotalTokens, Model: parsed.Model}, nil
}

// ValidateAPIKeyFormat performs the cheap syntactic check shared by every
// Bearer-token vendor: at least minLen bytes long and, when prefix is
// non-empty, starting with prefix.
func ValidateAPIKeyFormat(key string, prefix string, minLen int) bool {
	if len(key) < minLen {
		return false
	}
	if prefix == "" {
		return true
	}
	return len(key) >= len(prefix) && key[:len(prefix)] == prefix
}
