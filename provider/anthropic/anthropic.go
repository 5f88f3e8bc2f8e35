// Package anthropic implements provider.Adapter against Anthropic's
// Messages API: x-api-key auth, a top-level system field instead of a
// system message, and a typed SSE event stream instead of plain
// "data: <json>" deltas.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentforge/workflow-engine/provider"
	"github.com/agentforge/workflow-engine/provider/internal/sse"
)

const (
	endpoint      = "https://api.anthropic.com/v1/messages"
	apiVersion    = "2023-06-01"
	requestTimeout = 120 * time.Second
)

// Adapter talks to Anthropic's Messages API.
type Adapter struct {
	apiKey   string
	endpoint string
	http     *http.Client
}

// New creates an Anthropic adapter for the given API key. baseURL
// overrides the default endpoint when non-empty.
func New(apiKey, baseURL string) *Adapter {
	if baseURL == "" {
		baseURL = endpoint
	}
	return &Adapter{apiKey: apiKey, endpoint: baseURL, http: &http.Client{Timeout: requestTimeout}}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

// splitSystem lifts any system-role messages to Anthropic's top-level
// "system" field and returns the remaining conversation.
func splitSystem(messages []provider.Message) (string, []wireMessage) {
	var system strings.Builder
	rest := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == provider.RoleSystem {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
			continue
		}
		rest = append(rest, wireMessage{Role: m.Role, Content: m.Content})
	}
	return system.String(), rest
}

func (a *Adapter) newRequest(ctx context.Context, messages []provider.Message, cfg provider.Config, stream bool) (*http.Request, error) {
	system, rest := splitSystem(messages)
	body, err := json.Marshal(messagesRequest{
		Model:       cfg.Model,
		System:      system,
		Messages:    rest,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	return req, nil
}

func (a *Adapter) doAndClassify(req *http.Request) (*http.Response, error) {
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, &provider.ProviderError{Provider: "anthropic", Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return nil, &provider.AuthError{Provider: "anthropic", Status: resp.StatusCode}
		case http.StatusTooManyRequests:
			return nil, &provider.RateLimitError{Provider: "anthropic"}
		default:
			return nil, &provider.ProviderError{Provider: "anthropic", Status: resp.StatusCode, Message: string(body)}
		}
	}
	return resp, nil
}

type messageStartEvent struct {
	Message struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

type contentBlockDeltaEvent struct {
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
}

type messageDeltaEvent struct {
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Stream implements provider.Adapter.Stream.
func (a *Adapter) Stream(ctx context.Context, messages []provider.Message, cfg provider.Config) (<-chan provider.Chunk, error) {
	req, err := a.newRequest(ctx, messages, cfg, true)
	if err != nil {
		return nil, err
	}
	resp, err := a.doAndClassify(req)
	if err != nil {
		return nil, err
	}

	out := make(chan provider.Chunk)
	go func() {
		defer close(out)
		defer func() { _ = resp.Body.Close() }()

		reader := sse.NewReader(resp.Body)
		inputTokens, outputTokens := 0, 0
		for {
			event, payload, ok := reader.NextEvent()
			if !ok {
				break
			}
			switch event {
			case "message_start":
				var e messageStartEvent
				if json.Unmarshal([]byte(payload), &e) == nil {
					inputTokens = e.Message.Usage.InputTokens
				}
			case "content_block_delta":
				var e contentBlockDeltaEvent
				if json.Unmarshal([]byte(payload), &e) == nil && e.Delta.Text != "" {
					out <- provider.Chunk{Content: e.Delta.Text}
				}
			case "message_delta":
				var e messageDeltaEvent
				if json.Unmarshal([]byte(payload), &e) == nil {
					outputTokens = e.Usage.OutputTokens
				}
			case "message_stop":
				out <- provider.Chunk{IsFinal: true, TokensUsed: inputTokens + outputTokens}
				return
			default:
				// ping, content_block_start/stop, error: ignore.
			}
		}
		out <- provider.Chunk{IsFinal: true, TokensUsed: inputTokens + outputTokens}
	}()
	return out, nil
}

type messagesResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

// Complete implements provider.Adapter.Complete.
func (a *Adapter) Complete(ctx context.Context, messages []provider.Message, cfg provider.Config) (provider.CompleteResult, error) {
	req, err := a.newRequest(ctx, messages, cfg, false)
	if err != nil {
		return provider.CompleteResult{}, err
	}
	resp, err := a.doAndClassify(req)
	if err != nil {
		return provider.CompleteResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var parsed messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return provider.CompleteResult{}, &provider.ProviderError{Provider: "anthropic", Message: "malformed response: " + err.Error()}
	}
	var text strings.Builder
	for _, block := range parsed.Content {
		text.WriteString(block.Text)
	}
	return provider.CompleteResult{
		Content:    text.String(),
		TokensUsed: parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		Model:      parsed.Model,
	}, nil
}

// ValidateAPIKeyFormat checks for Anthropic's "sk-ant-" key prefix.
func (a *Adapter) ValidateAPIKeyFormat(key string) bool {
	const prefix = "sk-ant-"
	return len(key) >= 20 && strings.HasPrefix(key, prefix)
}

var _ provider.Adapter = (*Adapter)(nil)
