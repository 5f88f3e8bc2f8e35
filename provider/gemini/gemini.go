// Package gemini implements provider.Adapter against Google's Generative
// Language API: API key carried as a query parameter instead of a header,
// a top-level systemInstruction instead of a system message, and SSE
// framing selected with an alt=sse query parameter.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentforge/workflow-engine/provider"
	"github.com/agentforge/workflow-engine/provider/internal/sse"
)

const (
	baseURLDefault = "https://generativelanguage.googleapis.com/v1beta/models"
	requestTimeout = 120 * time.Second
)

// Adapter talks to the Gemini generateContent/streamGenerateContent API.
type Adapter struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// New creates a Gemini adapter for the given API key. baseURL overrides
// the "…/v1beta/models" prefix when non-empty.
func New(apiKey, baseURL string) *Adapter {
	if baseURL == "" {
		baseURL = baseURLDefault
	}
	return &Adapter{apiKey: apiKey, baseURL: baseURL, http: &http.Client{Timeout: requestTimeout}}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	Contents          []content          `json:"contents"`
	SystemInstruction *systemInstruction `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig   `json:"generationConfig"`
}

// toRole maps the shared role vocabulary onto Gemini's "model"/"user" pair.
func toRole(role string) string {
	if role == provider.RoleAssistant {
		return "model"
	}
	return "user"
}

func buildRequest(messages []provider.Message, cfg provider.Config) generateRequest {
	var system *systemInstruction
	contents := make([]content, 0, len(messages))
	for _, m := range messages {
		if m.Role == provider.RoleSystem {
			if system == nil {
				system = &systemInstruction{}
			}
			system.Parts = append(system.Parts, part{Text: m.Content})
			continue
		}
		contents = append(contents, content{Role: toRole(m.Role), Parts: []part{{Text: m.Content}}})
	}
	return generateRequest{
		Contents:          contents,
		SystemInstruction: system,
		GenerationConfig:  generationConfig{Temperature: cfg.Temperature, MaxOutputTokens: cfg.MaxTokens},
	}
}

func (a *Adapter) newRequest(ctx context.Context, messages []provider.Message, cfg provider.Config, stream bool) (*http.Request, error) {
	body, err := json.Marshal(buildRequest(messages, cfg))
	if err != nil {
		return nil, fmt.Errorf("gemini: encode request: %w", err)
	}

	method := "generateContent"
	if stream {
		method = "streamGenerateContent"
	}
	endpoint := fmt.Sprintf("%s/%s:%s", a.baseURL, cfg.Model, method)
	q := url.Values{}
	q.Set("key", a.apiKey)
	if stream {
		q.Set("alt", "sse")
	}
	endpoint += "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (a *Adapter) doAndClassify(req *http.Request) (*http.Response, error) {
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, &provider.ProviderError{Provider: "gemini", Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			// Gemini returns 403 for a malformed/revoked key as often as 401.
			return nil, &provider.AuthError{Provider: "gemini", Status: resp.StatusCode}
		case http.StatusTooManyRequests:
			return nil, &provider.RateLimitError{Provider: "gemini"}
		default:
			return nil, &provider.ProviderError{Provider: "gemini", Status: resp.StatusCode, Message: string(body)}
		}
	}
	return resp, nil
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func extractText(resp generateResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return text.String()
}

// Stream implements provider.Adapter.Stream.
//
// Gemini's SSE frames each carry the full usageMetadata seen so far rather
// than a delta, so TokensUsed on the final chunk is last-write-wins, not
// accumulated.
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
		tokensUsed := 0
		for {
			payload, ok := reader.Next()
			if !ok {
				break
			}
			var parsed generateResponse
			if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
				continue // malformed frame: skip, keep streaming
			}
			if parsed.UsageMetadata.TotalTokenCount > 0 {
				tokensUsed = parsed.UsageMetadata.TotalTokenCount
			}
			if text := extractText(parsed); text != "" {
				out <- provider.Chunk{Content: text}
			}
		}
		out <- provider.Chunk{IsFinal: true, TokensUsed: tokensUsed}
	}()
	return out, nil
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

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return provider.CompleteResult{}, &provider.ProviderError{Provider: "gemini", Message: "malformed response: " + err.Error()}
	}
	return provider.CompleteResult{
		Content:    extractText(parsed),
		TokensUsed: parsed.UsageMetadata.TotalTokenCount,
		Model:      cfg.Model,
	}, nil
}

// ValidateAPIKeyFormat checks for Google API keys' "AIza" prefix and
// plausible length.
func (a *Adapter) ValidateAPIKeyFormat(key string) bool {
	return len(key) >= 20 && strings.HasPrefix(key, "AIza")
}

var _ provider.Adapter = (*Adapter)(nil)
