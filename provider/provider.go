// Package provider abstracts the wire-incompatible streaming chat APIs of
// the LLM vendors a workflow node may call, behind one uniform interface.
package provider

import "context"

// Message is one turn in a conversation sent to an adapter.
type Message struct {
	Role    string
	Content string
}

// Standard roles shared by every provider's wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Config carries the sampling parameters for one Stream/Complete call.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Chunk is one fragment of a streamed response. Exactly one Chunk with
// IsFinal set terminates a stream; TokensUsed is only meaningful on that
// final chunk (0 if the provider never reported usage).
type Chunk struct {
	Content    string
	IsFinal    bool
	TokensUsed int
}

// CompleteResult is the non-streaming counterpart to a finished Stream.
type CompleteResult struct {
	Content    string
	TokensUsed int
	Model      string
}

// Adapter is the capability set every vendor integration implements. There
// is deliberately no shared base type between adapters — each is a
// self-contained value satisfying this interface.
type Adapter interface {
	// Stream sends messages and, once the HTTP response status is known,
	// either returns an error (AuthError/RateLimitError/ProviderError — the
	// request never started streaming) or a channel of Chunks. The channel
	// is closed after exactly one IsFinal chunk is sent. A connection that
	// drops mid-stream is not reported as an error: the adapter emits a
	// final chunk carrying whatever token count it last saw, per the
	// "never leave a consumer waiting" contract every adapter shares.
	Stream(ctx context.Context, messages []Message, cfg Config) (<-chan Chunk, error)

	// Complete performs the same request without streaming, returning the
	// whole response in one shot.
	Complete(ctx context.Context, messages []Message, cfg Config) (CompleteResult, error)

	// ValidateAPIKeyFormat performs a cheap syntactic check only — no
	// network call.
	ValidateAPIKeyFormat(key string) bool
}
