package graph

import (
	"context"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func TestValidNodeType(t *testing.T) {
	if !ValidNodeType(NodeConcept) {
		t.Error("NodeConcept should be valid")
	}
	if ValidNodeType(NodeType("Widget")) {
		t.Error("Widget should not be a valid node type")
	}
}

func TestValidRelationType(t *testing.T) {
	if !ValidRelationType(RelDocumentedIn) {
		t.Error("RelDocumentedIn should be valid")
	}
	if ValidRelationType(RelationType("MENTIONS")) {
		t.Error("MENTIONS should not be a valid relation type")
	}
}

func TestMergeNode_UnknownTypeIsValidationErrorBeforeTouchingDriver(t *testing.T) {
	// MergeNode validates node.Type before it ever opens a session, so a
	// zero-value Store (no driver configured) is enough to exercise this
	// path without a live Neo4j connection.
	store := &Store{}
	err := store.MergeNode(context.Background(), Node{Name: "Widget", Type: NodeType("Widget")})
	if err == nil {
		t.Fatal("MergeNode() with an unknown type should return an error")
	}
}

func TestNodeFromNeo4j_ExtractsNameAndType(t *testing.T) {
	node := nodeFromNeo4j(neo4j.Node{
		Labels: []string{"Concept"},
		Props:  map[string]any{"name": "Flow State", "aliases": []any{"flow"}},
	})
	if node.Name != "Flow State" {
		t.Errorf("Name = %q, want %q", node.Name, "Flow State")
	}
	if node.Type != NodeConcept {
		t.Errorf("Type = %q, want %q", node.Type, NodeConcept)
	}

	if _, ok := node.Properties["name"]; ok {
		t.Error("name should be excluded from Properties")
	}
	if _, ok := node.Properties["aliases"]; !ok {
		t.Error("non-name properties should be preserved")
	}
}
