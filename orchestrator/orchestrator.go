// Package orchestrator drives one workflow run to completion: the main
// run algorithm of spec §4.6, its per-agent sub-algorithm of §4.6.1, and
// the shared cancellation registry, metrics, and tracing that surround
// them.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/agentforge/workflow-engine/bus"
	"github.com/agentforge/workflow-engine/dag"
	"github.com/agentforge/workflow-engine/logging"
	"github.com/agentforge/workflow-engine/provider"
	"github.com/agentforge/workflow-engine/store"
)

const (
	// agentOutputTruncateLen is the fixed policy for the agent_completed
	// event's output field — the persisted AgentRun.OutputData is never
	// truncated.
	agentOutputTruncateLen = 500

	// providerCallTimeout bounds a single adapter Stream/Complete call.
	providerCallTimeout = 120 * time.Second

	nodeTypeAgent = "agent"
)

// Engine runs workflow executions against a Store, a Bus, and a provider
// Registry. One Engine may drive many concurrent runs; per-run state
// (outputs map, AgentRun records) is scoped to a single Run call.
type Engine struct {
	Store        store.Store
	Bus          bus.Bus
	Registry     *provider.Registry
	Cancellation *CancellationRegistry
	Metrics      *Metrics
	Tracer       *Tracer
	Logger       *slog.Logger
}

// New builds an Engine. cancellation may be nil (a fresh registry is
// created); metrics and tracer may be nil to disable those concerns;
// logger may be nil (defaults to an Info-level text logger on stdout).
func New(st store.Store, b bus.Bus, registry *provider.Registry, cancellation *CancellationRegistry, metrics *Metrics, tracer *Tracer, logger *slog.Logger) *Engine {
	if cancellation == nil {
		cancellation = NewCancellationRegistry()
	}
	if logger == nil {
		logger = logging.New(nil, false, false)
	}
	return &Engine{
		Store:        st,
		Bus:          b,
		Registry:     registry,
		Cancellation: cancellation,
		Metrics:      metrics,
		Tracer:       tracer,
		Logger:       logger,
	}
}

// Run executes def against run, which must already be persisted in
// WorkflowPending, driving it through to a terminal status. Run is meant
// to be launched as a background task decoupled from whatever request
// created the run (see cmd/enginectl); it blocks until the run finishes
// and never returns an error — the outcome is the persisted WorkflowRun
// and the events published on its channel.
func (e *Engine) Run(ctx context.Context, run store.WorkflowRun, def WorkflowDefinition, apiKeys map[string]string) {
	logger := logging.WithRun(e.Logger, run.ID)
	channel := bus.RunChannel(run.ID)

	ctx, endRunSpan := e.Tracer.StartRun(ctx, run.ID, def.ID)
	e.Metrics.RunStarted(def.ID)
	defer e.Cancellation.Clear(run.ID)

	status, _, err := e.execute(ctx, &run, def, apiKeys, channel, logger)

	e.Metrics.RunFinished(def.ID, status)
	endRunSpan(status)
	if err != nil {
		logger.Error("workflow run ended in error", "status", status, "error", err)
	}
}

// execute implements spec §4.6 steps 1-8.
func (e *Engine) execute(ctx context.Context, run *store.WorkflowRun, def WorkflowDefinition, apiKeys map[string]string, channel string, logger *slog.Logger) (status string, totalTokens int, resultErr error) {
	defer func() {
		if r := recover(); r != nil {
			resultErr = fmt.Errorf("panic: %v", r)
			status = e.finalize(ctx, run, channel, store.WorkflowFailed, resultErr.Error(), totalTokens)
		}
	}()

	// Step 1: start.
	now := time.Now().UTC()
	run.Status = store.WorkflowRunning
	run.StartedAt = &now
	if err := e.Store.UpdateWorkflowRun(ctx, *run); err != nil {
		logger.Error("failed to persist run start", "error", err)
	}
	e.publish(ctx, channel, bus.WorkflowStatus("running"))

	// Step 2: prepare.
	nodeOrder, nodes, edges, err := parseCanvas(def.CanvasData)
	if err != nil {
		status = e.finalize(ctx, run, channel, store.WorkflowFailed, err.Error(), 0)
		return status, 0, err
	}
	if len(nodeOrder) == 0 {
		execErr := fmt.Errorf("no nodes")
		status = e.finalize(ctx, run, channel, store.WorkflowFailed, execErr.Error(), 0)
		return status, 0, execErr
	}

	// Step 3: order.
	order, err := dag.TopologicalOrder(nodeOrder, edges)
	if err != nil {
		status = e.finalize(ctx, run, channel, store.WorkflowFailed, err.Error(), 0)
		return status, 0, err
	}

	// Step 4: seed agent runs.
	agentRuns := make(map[string]*store.AgentRun, len(order))
	seed := make([]store.AgentRun, len(order))
	for i, nodeID := range order {
		seed[i] = store.AgentRun{
			ID:            uuid.NewString(),
			WorkflowRunID: run.ID,
			NodeID:        nodeID,
			Status:        store.AgentIdle,
			InputData:     "{}",
			OutputData:    "{}",
		}
	}
	if err := e.Store.CreateAgentRuns(ctx, seed); err != nil {
		execErr := fmt.Errorf("seed agent runs: %w", err)
		status = e.finalize(ctx, run, channel, store.WorkflowFailed, execErr.Error(), 0)
		return status, 0, execErr
	}
	for i := range seed {
		agentRuns[seed[i].NodeID] = &seed[i]
	}

	outputs := make(map[string]string, len(order))

	// Step 5: iterate.
	for _, nodeID := range order {
		if e.Cancellation.IsRequested(run.ID) {
			status = e.finalize(ctx, run, channel, store.WorkflowCancelled, "", totalTokens)
			return status, totalTokens, nil
		}

		node := nodes[nodeID]
		ar := agentRuns[nodeID]

		if node.Type != nodeTypeAgent {
			ar.Status = store.AgentSkipped
			if err := e.Store.UpdateAgentRun(ctx, *ar); err != nil {
				logger.Warn("failed to persist skipped agent run", "node_id", nodeID, "error", err)
			}
			e.publish(ctx, channel, bus.AgentStatus(ar.ID, "skipped"))
			outputs[nodeID] = gjson.Get(run.TriggerInput, "input").String()
			continue
		}

		tokens, err := e.runAgent(ctx, run.ID, node, edges, ar, apiKeys, outputs, channel, logger)
		if err != nil {
			execErr := &ExecutionError{NodeID: nodeID, Err: err}
			status = e.finalize(ctx, run, channel, store.WorkflowFailed, execErr.Error(), totalTokens)
			return status, totalTokens, execErr
		}
		totalTokens += tokens
	}

	// Step 6: finalize (success).
	status = e.finalize(ctx, run, channel, store.WorkflowCompleted, "", totalTokens)
	return status, totalTokens, nil
}

// finalize implements the shared tail of steps 6/7 (and the cancellation
// branch of step 5): persist the terminal status, optionally publish an
// error event, then always publish the terminal workflow_completed event.
func (e *Engine) finalize(ctx context.Context, run *store.WorkflowRun, channel, status, errMsg string, totalTokens int) string {
	now := time.Now().UTC()
	run.Status = status
	run.CompletedAt = &now
	run.Error = errMsg
	if err := e.Store.UpdateWorkflowRun(ctx, *run); err != nil {
		e.Logger.Error("failed to persist workflow run finalization", "run_id", run.ID, "error", err)
	}

	if errMsg != "" {
		e.publish(ctx, channel, bus.ExecutionError("", errMsg))
	}
	includeTokens := status == store.WorkflowCompleted
	e.publish(ctx, channel, bus.WorkflowCompleted(run.ID, status, totalTokens, includeTokens))
	return status
}

// runAgent implements spec §4.6.1 steps a-j (and the failure path) for
// one agent-type node.
func (e *Engine) runAgent(ctx context.Context, runID string, node canvasNode, edges []dag.Edge, ar *store.AgentRun, apiKeys map[string]string, outputs map[string]string, channel string, logger *slog.Logger) (tokensUsed int, resultErr error) {
	logger = logging.WithAgent(logger, node.ID)

	providerName := node.Data.Get("provider").String()
	if providerName == "" {
		providerName = "openai"
	}

	defer func() {
		if r := recover(); r != nil {
			resultErr = fmt.Errorf("panic: %v", r)
		}
		if resultErr != nil {
			e.failAgent(ctx, ar, channel, logger, resultErr)
		}
	}()

	// a. idle -> running.
	now := time.Now().UTC()
	ar.Status = store.AgentRunning
	ar.StartedAt = &now
	if err := e.Store.UpdateAgentRun(ctx, *ar); err != nil {
		logger.Warn("failed to persist agent run start", "error", err)
	}
	e.publish(ctx, channel, bus.AgentStatus(ar.ID, "running"))

	// b. start the timer.
	start := time.Now()
	ctx, endAgentSpan := e.Tracer.StartAgent(ctx, runID, node.ID, providerName)

	// c. assemble input context from parent outputs.
	parents := dag.ParentsOf(node.ID, edges)
	parts := make([]string, 0, len(parents))
	for _, p := range parents {
		if out, ok := outputs[p]; ok {
			parts = append(parts, out)
		}
	}
	inputContext := strings.Join(parts, "\n\n---\n\n")

	// d. resolve adapter + config.
	apiKey := apiKeys[providerName]
	adapter, err := e.Registry.Get(providerName, apiKey, "")
	if err != nil {
		endAgentSpan("failed", 0)
		e.Metrics.AgentFinished(providerName, "failed", time.Since(start), 0)
		return 0, err
	}

	model := node.Data.Get("model").String()
	if model == "" {
		model = "gpt-4o"
	}
	temperature := 0.7
	if t := node.Data.Get("temperature"); t.Exists() {
		temperature = t.Float()
	}
	maxTokens := 2048
	if mt := node.Data.Get("maxTokens"); mt.Exists() {
		maxTokens = int(mt.Int())
	}
	cfg := provider.Config{Model: model, Temperature: temperature, MaxTokens: maxTokens}

	// e. build messages.
	systemPrompt := node.Data.Get("systemPrompt").String()
	var messages []provider.Message
	if systemPrompt != "" {
		messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: systemPrompt})
	}
	userContent := inputContext
	if userContent == "" {
		userContent = "No input provided."
	}
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: userContent})

	// f. record input_data.
	inputJSON, _ := json.Marshal(map[string]string{"context": inputContext, "system_prompt": systemPrompt})
	ar.InputData = string(inputJSON)
	if err := e.Store.UpdateAgentRun(ctx, *ar); err != nil {
		logger.Warn("failed to persist agent run input_data", "error", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, providerCallTimeout)
	defer cancel()

	chunks, err := adapter.Stream(callCtx, messages, cfg)
	if err != nil {
		endAgentSpan("failed", 0)
		e.Metrics.AgentFinished(providerName, "failed", time.Since(start), 0)
		return 0, err
	}

	// g. consume the stream.
	var accumulator strings.Builder
	for chunk := range chunks {
		if !chunk.IsFinal {
			accumulator.WriteString(chunk.Content)
			e.publish(ctx, channel, bus.AgentOutputChunk(ar.ID, chunk.Content))
			continue
		}
		tokensUsed = chunk.TokensUsed
	}

	// h. compute latency; store the output.
	latency := time.Since(start)
	latencyMs := int(latency.Milliseconds())
	content := accumulator.String()
	outputs[node.ID] = content

	// i. running -> completed.
	completedAt := time.Now().UTC()
	ar.Status = store.AgentCompleted
	outputJSON, _ := json.Marshal(map[string]string{"content": content})
	ar.OutputData = string(outputJSON)
	ar.TokensUsed = tokensUsed
	ar.LatencyMs = latencyMs
	ar.CompletedAt = &completedAt
	if err := e.Store.UpdateAgentRun(ctx, *ar); err != nil {
		logger.Warn("failed to persist agent run completion", "error", err)
	}
	e.publish(ctx, channel, bus.AgentCompleted(ar.ID, truncateRunes(content, agentOutputTruncateLen), tokensUsed, latencyMs))

	endAgentSpan("completed", tokensUsed)
	e.Metrics.AgentFinished(providerName, "completed", latency, tokensUsed)

	// j. return tokens_used to the orchestrator's running total.
	return tokensUsed, nil
}

// failAgent implements the shared failure path of §4.6.1's final
// paragraph: mark the AgentRun failed and publish its status event. The
// caller is responsible for re-raising as ExecutionError.
func (e *Engine) failAgent(ctx context.Context, ar *store.AgentRun, channel string, logger *slog.Logger, cause error) {
	completedAt := time.Now().UTC()
	ar.Status = store.AgentFailed
	ar.CompletedAt = &completedAt
	if err := e.Store.UpdateAgentRun(ctx, *ar); err != nil {
		logger.Warn("failed to persist agent run failure", "error", err)
	}
	e.publish(ctx, channel, bus.AgentStatus(ar.ID, "failed"))
	logger.Warn("agent run failed", "error", cause)
}

// publish is a best-effort wrapper: a nil Bus or a publish error never
// fails the run, since the bus is an observability channel, not the
// source of truth (the Store is).
func (e *Engine) publish(ctx context.Context, channel string, ev bus.Event) {
	if e.Bus == nil {
		return
	}
	if err := e.Bus.Publish(ctx, channel, ev); err != nil {
		e.Logger.Warn("bus publish failed", "channel", channel, "error", err)
	}
}

// truncateRunes truncates s to at most n runes, never splitting a
// multi-byte UTF-8 sequence.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
