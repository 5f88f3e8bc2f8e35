package dag

import (
	"errors"
	"reflect"
	"testing"
)

func TestTopologicalOrder_Linear(t *testing.T) {
	nodes := []string{"a", "b"}
	edges := []Edge{{Source: "a", Target: "b"}}

	order, err := TopologicalOrder(nodes, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"a", "b"}) {
		t.Errorf("expected [a b], got %v", order)
	}
}

func TestTopologicalOrder_Diamond(t *testing.T) {
	// start -> left, start -> right, left -> join, right -> join
	nodes := []string{"join", "left", "right", "start"}
	edges := []Edge{
		{Source: "start", Target: "left"},
		{Source: "start", Target: "right"},
		{Source: "left", Target: "join"},
		{Source: "right", Target: "join"},
	}

	order, err := TopologicalOrder(nodes, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"start", "left", "right", "join"}) {
		t.Errorf("expected [start left right join], got %v", order)
	}
}

func TestTopologicalOrder_DeterministicAcrossRuns(t *testing.T) {
	nodes := []string{"c", "a", "b", "d"}
	edges := []Edge{{Source: "a", Target: "d"}, {Source: "b", Target: "d"}}

	first, err := TopologicalOrder(nodes, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		order, err := TopologicalOrder(nodes, edges)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(order, first) {
			t.Errorf("run %d diverged: got %v, want %v", i, order, first)
		}
	}
}

func TestTopologicalOrder_Cycle(t *testing.T) {
	nodes := []string{"a", "b", "c"}
	edges := []Edge{
		{Source: "a", Target: "b"},
		{Source: "b", Target: "c"},
		{Source: "c", Target: "a"},
	}

	_, err := TopologicalOrder(nodes, edges)
	if err == nil {
		t.Fatal("expected a cycle error")
	}
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %T", err)
	}
	if !errors.Is(err, ErrGraphCycle) {
		t.Error("expected errors.Is(err, ErrGraphCycle) to hold")
	}
	if len(cycleErr.Unemitted) != 3 {
		t.Errorf("expected all 3 nodes unemitted, got %v", cycleErr.Unemitted)
	}
}

func TestTopologicalOrder_PartialCycle(t *testing.T) {
	// "entry" is acyclic and precedes the cycle among b/c.
	nodes := []string{"entry", "b", "c"}
	edges := []Edge{
		{Source: "entry", Target: "b"},
		{Source: "b", Target: "c"},
		{Source: "c", Target: "b"},
	}

	_, err := TopologicalOrder(nodes, edges)
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %v", err)
	}
	if len(cycleErr.Unemitted) != 2 {
		t.Errorf("expected b and c unemitted, got %v", cycleErr.Unemitted)
	}
}

func TestTopologicalOrder_EmptyGraph(t *testing.T) {
	order, err := TopologicalOrder(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 0 {
		t.Errorf("expected empty order, got %v", order)
	}
}

func TestTopologicalOrder_IgnoresUnknownEndpoints(t *testing.T) {
	nodes := []string{"a", "b"}
	edges := []Edge{
		{Source: "a", Target: "b"},
		{Source: "a", Target: "ghost"},
		{Source: "ghost", Target: "b"},
	}

	order, err := TopologicalOrder(nodes, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"a", "b"}) {
		t.Errorf("expected [a b], got %v", order)
	}
}

func TestParentsOf_PreservesInsertionOrder(t *testing.T) {
	edges := []Edge{
		{Source: "z", Target: "join"},
		{Source: "a", Target: "join"},
		{Source: "m", Target: "join"},
		{Source: "a", Target: "other"},
	}

	parents := ParentsOf("join", edges)
	if !reflect.DeepEqual(parents, []string{"z", "a", "m"}) {
		t.Errorf("expected [z a m], got %v", parents)
	}
}

func TestParentsOf_NoParents(t *testing.T) {
	parents := ParentsOf("orphan", []Edge{{Source: "a", Target: "b"}})
	if parents != nil {
		t.Errorf("expected nil, got %v", parents)
	}
}
