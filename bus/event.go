package bus

import (
	"encoding/json"
	"time"
)

// EventType is the closed set of event kinds a channel may carry.
type EventType string

const (
	EventWorkflowStatus    EventType = "workflow_status"
	EventAgentStatus       EventType = "agent_status"
	EventAgentOutputChunk  EventType = "agent_output_chunk"
	EventAgentCompleted    EventType = "agent_completed"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventError             EventType = "error"
)

// Event is the JSON envelope published on a run's channel. Fields beyond
// Type and Timestamp vary by EventType (see the New* constructors below);
// Extra carries those type-specific fields and is flattened into the
// marshaled JSON object alongside type/timestamp.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Extra     map[string]any
}

// MarshalJSON flattens Type, Timestamp and Extra into one JSON object, so
// subscribers see `{"type":"...", "timestamp":"...", ...extra fields}`
// rather than a nested envelope.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Extra)+2)
	for k, v := range e.Extra {
		out[k] = v
	}
	out["type"] = string(e.Type)
	out["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	return json.Marshal(out)
}

// UnmarshalJSON recovers Type and Timestamp from a flattened event object,
// keeping everything else in Extra. Used by subscribers (e.g. the
// transport forwarder) that need to inspect the type without hand-parsing.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if t, ok := raw["type"].(string); ok {
		e.Type = EventType(t)
		delete(raw, "type")
	}
	if ts, ok := raw["timestamp"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = parsed
		}
		delete(raw, "timestamp")
	}
	e.Extra = raw
	return nil
}

// WorkflowStatus builds a workflow_status event.
func WorkflowStatus(status string) Event {
	return Event{Type: EventWorkflowStatus, Extra: map[string]any{"status": status}}
}

// AgentStatus builds an agent_status event.
func AgentStatus(agentID, status string) Event {
	return Event{Type: EventAgentStatus, Extra: map[string]any{"agent_id": agentID, "status": status}}
}

// AgentOutputChunk builds an agent_output_chunk event.
func AgentOutputChunk(agentID, chunk string) Event {
	return Event{Type: EventAgentOutputChunk, Extra: map[string]any{"agent_id": agentID, "chunk": chunk}}
}

// AgentCompleted builds an agent_completed event. output is expected to
// already be truncated to the 500-character limit by the caller.
func AgentCompleted(agentID, output string, tokensUsed, latencyMs int) Event {
	return Event{Type: EventAgentCompleted, Extra: map[string]any{
		"agent_id":    agentID,
		"output":      output,
		"tokens_used": tokensUsed,
		"latency_ms":  latencyMs,
	}}
}

// ExecutionError builds an error event. agentID may be empty, which
// marshals to a JSON null per the schema's "agent_id (may be null)".
func ExecutionError(agentID, message string) Event {
	var id any
	if agentID != "" {
		id = agentID
	}
	return Event{Type: EventError, Extra: map[string]any{
		"agent_id": id,
		"message":  message,
		"code":     "EXECUTION_ERROR",
	}}
}

// WorkflowCompleted builds a workflow_completed event. totalTokens is
// omitted from the marshaled object when includeTokens is false (it has
// no meaning for a cancelled run).
func WorkflowCompleted(executionID, status string, totalTokens int, includeTokens bool) Event {
	extra := map[string]any{"execution_id": executionID, "status": status}
	if includeTokens {
		extra["total_tokens"] = totalTokens
	}
	return Event{Type: EventWorkflowCompleted, Extra: extra}
}
