// Package mock is a test double for provider.Adapter, used to drive
// orchestrator scenarios without making real network calls.
package mock

import (
	"context"
	"sync"

	"github.com/agentforge/workflow-engine/provider"
)

// Call records one Stream or Complete invocation.
type Call struct {
	Messages []provider.Message
	Config   provider.Config
}

// Adapter returns a scripted sequence of responses, repeating the last
// one once exhausted, and records every call it receives. Safe for
// concurrent use.
type Adapter struct {
	// Chunks, if set, is streamed verbatim by Stream (the caller supplies
	// the trailing IsFinal chunk itself). If empty, Stream sends the next
	// Responses entry (advancing the same way Complete does) as one content
	// chunk followed by a final chunk carrying its TokensUsed.
	Chunks []provider.Chunk

	// Responses is the sequence of Complete results returned, advancing
	// one per call and repeating the last entry once exhausted.
	Responses []provider.CompleteResult

	// Err, if set, is returned instead of a response by both Stream and
	// Complete.
	Err error

	// KeyFormatValid controls ValidateAPIKeyFormat's return value.
	KeyFormatValid bool

	mu        sync.Mutex
	calls     []Call
	callIndex int
}

// New builds an Adapter that always returns content as its sole response.
func New(content string) *Adapter {
	return &Adapter{
		Responses:      []provider.CompleteResult{{Content: content}},
		KeyFormatValid: true,
	}
}

func (a *Adapter) record(messages []provider.Message, cfg provider.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, Call{Messages: messages, Config: cfg})
}

// Calls returns a copy of the recorded call history.
func (a *Adapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.calls))
	copy(out, a.calls)
	return out
}

func (a *Adapter) nextResponse() provider.CompleteResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.Responses) == 0 {
		return provider.CompleteResult{}
	}
	idx := a.callIndex
	if idx >= len(a.Responses) {
		idx = len(a.Responses) - 1
	} else {
		a.callIndex++
	}
	return a.Responses[idx]
}

// Stream implements provider.Adapter.
func (a *Adapter) Stream(ctx context.Context, messages []provider.Message, cfg provider.Config) (<-chan provider.Chunk, error) {
	a.record(messages, cfg)
	if a.Err != nil {
		return nil, a.Err
	}

	out := make(chan provider.Chunk, len(a.Chunks)+1)
	go func() {
		defer close(out)
		if len(a.Chunks) > 0 {
			for _, c := range a.Chunks {
				select {
				case <-ctx.Done():
					return
				case out <- c:
				}
			}
			return
		}
		resp := a.nextResponse()
		out <- provider.Chunk{Content: resp.Content}
		out <- provider.Chunk{IsFinal: true, TokensUsed: resp.TokensUsed}
	}()
	return out, nil
}

// Complete implements provider.Adapter.
func (a *Adapter) Complete(ctx context.Context, messages []provider.Message, cfg provider.Config) (provider.CompleteResult, error) {
	a.record(messages, cfg)
	if a.Err != nil {
		return provider.CompleteResult{}, a.Err
	}
	return a.nextResponse(), nil
}

// ValidateAPIKeyFormat implements provider.Adapter.
func (a *Adapter) ValidateAPIKeyFormat(key string) bool {
	return a.KeyFormatValid
}

var _ provider.Adapter = (*Adapter)(nil)
