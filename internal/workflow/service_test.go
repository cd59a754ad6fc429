package workflow

import (
	"encoding/json"
	"testing"
)

func TestValidateDefinitionRequiresTrigger(t *testing.T) {
	s := &Service{}
	def := WorkflowDefinition{
		Nodes: []Node{{ID: "a", Type: string(NodeTypeAgent)}},
	}
	err := s.validateDefinition(def)
	if err == nil {
		t.Fatal("expected error for missing trigger node")
	}
}

func TestValidateDefinitionRejectsCycle(t *testing.T) {
	s := &Service{}
	def := WorkflowDefinition{
		Nodes: []Node{
			{ID: "t", Type: string(NodeTypeTriggerWebhook)},
			{ID: "a", Type: string(NodeTypeAgent)},
		},
		Edges: []Edge{
			{Source: "t", Target: "a"},
			{Source: "a", Target: "t"},
		},
	}
	if err := s.validateDefinition(def); err == nil {
		t.Fatal("expected cycle to be rejected")
	}
}

func TestValidateDefinitionAccepts(t *testing.T) {
	s := &Service{}
	def := WorkflowDefinition{
		Nodes: []Node{
			{ID: "t", Type: string(NodeTypeTriggerWebhook)},
			{ID: "a", Type: string(NodeTypeAgent)},
		},
		Edges: []Edge{{Source: "t", Target: "a"}},
	}
	if err := s.validateDefinition(def); err != nil {
		t.Fatalf("expected valid definition, got %v", err)
	}
}

func TestDryRunReportsLevelsAndCriticalPath(t *testing.T) {
	s := &Service{}
	def := WorkflowDefinition{
		Nodes: []Node{
			{ID: "t", Type: string(NodeTypeTriggerWebhook)},
			{ID: "a", Type: string(NodeTypeActionHTTP)},
			{ID: "b", Type: string(NodeTypeActionHTTP)},
		},
		Edges: []Edge{
			{Source: "t", Target: "a"},
			{Source: "t", Target: "b"},
		},
	}
	result := s.DryRun(def)
	if !result.Valid {
		t.Fatalf("expected valid dry run, got errors: %v", result.Errors)
	}
	if len(result.Levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(result.Levels))
	}
	if len(result.Levels[1]) != 2 {
		t.Fatalf("expected second level to hold both fan-out nodes, got %v", result.Levels[1])
	}
}

func TestDryRunWarnsOnUnresolvedVariableReference(t *testing.T) {
	s := &Service{}
	config, _ := json.Marshal(map[string]string{"body": "${steps.missing.output}"})
	def := WorkflowDefinition{
		Nodes: []Node{
			{ID: "t", Type: string(NodeTypeTriggerWebhook)},
			{ID: "a", Type: string(NodeTypeActionHTTP), Data: NodeData{Config: config}},
		},
		Edges: []Edge{{Source: "t", Target: "a"}},
	}
	result := s.DryRun(def)
	if !result.Valid {
		t.Fatalf("unresolved references are warnings, not errors: %v", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected a warning about the unresolved reference")
	}
}

func TestPaginationCursorRoundTrip(t *testing.T) {
	c := PaginationCursor{ID: "abc"}
	encoded := c.Encode()
	decoded, err := DecodePaginationCursor(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.ID != c.ID {
		t.Fatalf("got %q, want %q", decoded.ID, c.ID)
	}
}

func TestDecodePaginationCursorRejectsGarbage(t *testing.T) {
	if _, err := DecodePaginationCursor("not-base64!!"); err == nil {
		t.Fatal("expected error for malformed cursor")
	}
}
