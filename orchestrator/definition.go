package orchestrator

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/agentforge/workflow-engine/dag"
)

// WorkflowDefinition is the read-only graph a run executes. CanvasData is
// the opaque JSON blob described by spec §3: only nodes[].id/.type/.data
// and edges[].source/.target are ever read from it.
type WorkflowDefinition struct {
	ID         string
	Name       string
	CanvasData string
	IsTemplate bool
}

// canvasNode is one parsed entry from canvas_data.nodes. Data stays a
// gjson.Result rather than a decoded struct: node.data fields vary by
// node type and this engine only ever reads a handful of named leaves
// from it (provider, model, temperature, maxTokens, systemPrompt).
type canvasNode struct {
	ID   string
	Type string
	Data gjson.Result
}

// parseCanvas extracts node IDs in document order, the node set keyed by
// ID, and the routing edges from a WorkflowDefinition's CanvasData blob.
func parseCanvas(canvasData string) (order []string, nodes map[string]canvasNode, edges []dag.Edge, err error) {
	if !gjson.Valid(canvasData) {
		return nil, nil, nil, fmt.Errorf("orchestrator: canvas_data is not valid JSON")
	}

	nodes = make(map[string]canvasNode)
	for _, n := range gjson.Get(canvasData, "nodes").Array() {
		id := n.Get("id").String()
		if id == "" {
			continue
		}
		order = append(order, id)
		nodes[id] = canvasNode{ID: id, Type: n.Get("type").String(), Data: n.Get("data")}
	}

	for _, e := range gjson.Get(canvasData, "edges").Array() {
		edges = append(edges, dag.Edge{Source: e.Get("source").String(), Target: e.Get("target").String()})
	}

	return order, nodes, edges, nil
}
