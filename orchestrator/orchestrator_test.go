package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/agentforge/workflow-engine/bus"
	"github.com/agentforge/workflow-engine/provider"
	"github.com/agentforge/workflow-engine/provider/mock"
	"github.com/agentforge/workflow-engine/store"
)

func newTestEngine(t *testing.T, adapter provider.Adapter) (*Engine, store.Store, bus.Bus) {
	t.Helper()
	st := store.NewMemoryStore()
	b := bus.NewLocalBus()
	registry := provider.NewRegistry()
	registry.Register("openai", func(apiKey, baseURL string) provider.Adapter { return adapter })
	t.Cleanup(func() {
		_ = st.Close()
		_ = b.Close()
	})
	return New(st, b, registry, nil, nil, nil, nil), st, b
}

func twoNodeCanvas() string {
	return `{
		"nodes": [
			{"id": "n1", "type": "input", "data": {}},
			{"id": "n2", "type": "agent", "data": {"provider": "openai", "model": "gpt-4o"}}
		],
		"edges": [
			{"source": "n1", "target": "n2"}
		]
	}`
}

func TestEngine_Run_Success(t *testing.T) {
	adapter := mock.New("hello world")
	eng, st, b := newTestEngine(t, adapter)

	ctx := context.Background()
	run := store.WorkflowRun{ID: "run-1", WorkflowID: "wf-1", Status: store.WorkflowPending, TriggerInput: `{"input":"hi there"}`}
	if err := st.CreateWorkflowRun(ctx, run); err != nil {
		t.Fatalf("CreateWorkflowRun: %v", err)
	}

	sub, err := b.Subscribe(ctx, bus.RunChannel(run.ID))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	def := WorkflowDefinition{ID: "wf-1", CanvasData: twoNodeCanvas()}
	eng.Run(ctx, run, def, map[string]string{"openai": "sk-test"})

	got, err := st.GetWorkflowRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetWorkflowRun: %v", err)
	}
	if got.Status != store.WorkflowCompleted {
		t.Fatalf("expected completed, got %q (error=%q)", got.Status, got.Error)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatal("expected StartedAt and CompletedAt to be set")
	}

	agentRuns, err := st.ListAgentRuns(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListAgentRuns: %v", err)
	}
	if len(agentRuns) != 2 {
		t.Fatalf("expected 2 agent runs, got %d", len(agentRuns))
	}
	if agentRuns[0].Status != store.AgentSkipped {
		t.Errorf("expected n1 skipped, got %q", agentRuns[0].Status)
	}
	if agentRuns[1].Status != store.AgentCompleted {
		t.Errorf("expected n2 completed, got %q", agentRuns[1].Status)
	}
	var output map[string]string
	if err := json.Unmarshal([]byte(agentRuns[1].OutputData), &output); err != nil {
		t.Fatalf("unmarshal output_data: %v", err)
	}
	if output["content"] != "hello world" {
		t.Errorf("expected content %q, got %q", "hello world", output["content"])
	}

	var sawCompleted, sawTerminal bool
	drain := time.After(100 * time.Millisecond)
loop:
	for {
		select {
		case ev := <-sub.C:
			switch ev.Type {
			case bus.EventAgentCompleted:
				sawCompleted = true
			case bus.EventWorkflowCompleted:
				sawTerminal = true
				break loop
			}
		case <-drain:
			break loop
		}
	}
	if !sawCompleted {
		t.Error("expected an agent_completed event")
	}
	if !sawTerminal {
		t.Error("expected a terminal workflow_completed event")
	}
}

func TestEngine_Run_NoNodesFails(t *testing.T) {
	eng, st, _ := newTestEngine(t, mock.New("unused"))
	ctx := context.Background()

	run := store.WorkflowRun{ID: "run-empty", WorkflowID: "wf-1", Status: store.WorkflowPending, TriggerInput: "{}"}
	if err := st.CreateWorkflowRun(ctx, run); err != nil {
		t.Fatalf("CreateWorkflowRun: %v", err)
	}

	def := WorkflowDefinition{ID: "wf-1", CanvasData: `{"nodes":[],"edges":[]}`}
	eng.Run(ctx, run, def, nil)

	got, err := st.GetWorkflowRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetWorkflowRun: %v", err)
	}
	if got.Status != store.WorkflowFailed {
		t.Fatalf("expected failed, got %q", got.Status)
	}
	if !strings.Contains(got.Error, "no nodes") {
		t.Errorf("expected error mentioning 'no nodes', got %q", got.Error)
	}
}

func TestEngine_Run_CycleFails(t *testing.T) {
	eng, st, _ := newTestEngine(t, mock.New("unused"))
	ctx := context.Background()

	run := store.WorkflowRun{ID: "run-cycle", WorkflowID: "wf-1", Status: store.WorkflowPending, TriggerInput: "{}"}
	if err := st.CreateWorkflowRun(ctx, run); err != nil {
		t.Fatalf("CreateWorkflowRun: %v", err)
	}

	canvas := `{
		"nodes": [{"id":"a","type":"agent","data":{}}, {"id":"b","type":"agent","data":{}}],
		"edges": [{"source":"a","target":"b"}, {"source":"b","target":"a"}]
	}`
	def := WorkflowDefinition{ID: "wf-1", CanvasData: canvas}
	eng.Run(ctx, run, def, map[string]string{"openai": "sk-test"})

	got, err := st.GetWorkflowRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetWorkflowRun: %v", err)
	}
	if got.Status != store.WorkflowFailed {
		t.Fatalf("expected failed, got %q", got.Status)
	}
}

func TestEngine_Run_ProviderAuthFailurePropagates(t *testing.T) {
	eng, st, _ := newTestEngine(t, mock.New("unused"))
	ctx := context.Background()

	run := store.WorkflowRun{ID: "run-auth", WorkflowID: "wf-1", Status: store.WorkflowPending, TriggerInput: "{}"}
	if err := st.CreateWorkflowRun(ctx, run); err != nil {
		t.Fatalf("CreateWorkflowRun: %v", err)
	}

	canvas := `{"nodes":[{"id":"a","type":"agent","data":{"provider":"openai"}}],"edges":[]}`
	def := WorkflowDefinition{ID: "wf-1", CanvasData: canvas}
	// No API key supplied: registry.Get rejects with AuthError.
	eng.Run(ctx, run, def, map[string]string{})

	got, err := st.GetWorkflowRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetWorkflowRun: %v", err)
	}
	if got.Status != store.WorkflowFailed {
		t.Fatalf("expected failed, got %q", got.Status)
	}
	if !strings.Contains(got.Error, "a:") {
		t.Errorf("expected error to carry the failing node ID, got %q", got.Error)
	}

	agentRuns, err := st.ListAgentRuns(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListAgentRuns: %v", err)
	}
	if len(agentRuns) != 1 || agentRuns[0].Status != store.AgentFailed {
		t.Fatalf("expected one failed agent run, got %+v", agentRuns)
	}
}

func TestEngine_Run_CancellationBeforeFirstAgent(t *testing.T) {
	eng, st, _ := newTestEngine(t, mock.New("unused"))
	ctx := context.Background()

	run := store.WorkflowRun{ID: "run-cancel", WorkflowID: "wf-1", Status: store.WorkflowPending, TriggerInput: "{}"}
	if err := st.CreateWorkflowRun(ctx, run); err != nil {
		t.Fatalf("CreateWorkflowRun: %v", err)
	}

	canvas := `{"nodes":[{"id":"a","type":"agent","data":{"provider":"openai"}}],"edges":[]}`
	def := WorkflowDefinition{ID: "wf-1", CanvasData: canvas}

	eng.Cancellation.Request(run.ID)
	eng.Run(ctx, run, def, map[string]string{"openai": "sk-test"})

	got, err := st.GetWorkflowRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetWorkflowRun: %v", err)
	}
	if got.Status != store.WorkflowCancelled {
		t.Fatalf("expected cancelled, got %q", got.Status)
	}
	if eng.Cancellation.IsRequested(run.ID) {
		t.Error("expected cancellation registry entry to be cleared after the run finishes")
	}
}

func TestEngine_Run_ParentOutputsJoinedWithSeparator(t *testing.T) {
	adapter := mock.New("final")
	eng, st, _ := newTestEngine(t, adapter)
	ctx := context.Background()

	run := store.WorkflowRun{ID: "run-join", WorkflowID: "wf-1", Status: store.WorkflowPending, TriggerInput: `{"input":"seed"}`}
	if err := st.CreateWorkflowRun(ctx, run); err != nil {
		t.Fatalf("CreateWorkflowRun: %v", err)
	}

	canvas := `{
		"nodes": [
			{"id":"p1","type":"input","data":{}},
			{"id":"p2","type":"input","data":{}},
			{"id":"c","type":"agent","data":{"provider":"openai"}}
		],
		"edges": [
			{"source":"p1","target":"c"},
			{"source":"p2","target":"c"}
		]
	}`
	def := WorkflowDefinition{ID: "wf-1", CanvasData: canvas}
	eng.Run(ctx, run, def, map[string]string{"openai": "sk-test"})

	calls := adapter.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one provider call, got %d", len(calls))
	}
	userMsg := calls[0].Messages[len(calls[0].Messages)-1]
	// Both parents resolve the same trigger_input.input, joined by the
	// fixed separator.
	want := "seed" + "\n\n---\n\n" + "seed"
	if userMsg.Content != want {
		t.Errorf("expected joined parent context %q, got %q", want, userMsg.Content)
	}
}
