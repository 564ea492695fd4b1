// Package graphbuild extracts typed entities and relationships from a
// Document via an LLM and merges them into the knowledge graph.
package graphbuild

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aletheia-kb/aletheia/pkg/document"
	"github.com/aletheia-kb/aletheia/pkg/graph"
	"github.com/aletheia-kb/aletheia/pkg/llm"
)

// maxContentChars bounds how much of a document is sent to the LLM per
// extraction call.
const maxContentChars = 3000

// Builder extracts entities and relationships from Documents and merges
// them into a graph.Store.
type Builder struct {
	llm   llm.Provider
	store *graph.Store
}

// New builds a Builder.
func New(provider llm.Provider, store *graph.Store) *Builder {
	return &Builder{llm: provider, store: store}
}

type extractedEntity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type extractedRelationship struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type extraction struct {
	Entities      []extractedEntity       `json:"entities"`
	Relationships []extractedRelationship `json:"relationships"`
}

var extractionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"entities": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":        map[string]any{"type": "string"},
					"type":        map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
				},
				"required": []any{"name", "type"},
			},
		},
		"relationships": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"from":        map[string]any{"type": "string"},
					"to":          map[string]any{"type": "string"},
					"type":        map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
				},
				"required": []any{"from", "to"},
			},
		},
	},
	"required": []any{"entities", "relationships"},
}

// ExtractAndMerge prompts the LLM for entities and relationships in doc,
// merges the Document node and every extracted entity/relationship into
// the graph, plus a DOCUMENTED_IN edge from each entity to the Document
// node. It logs and returns nil on extraction or parse failure so a single
// document's failure doesn't abort an ingestion run.
func (b *Builder) ExtractAndMerge(ctx context.Context, doc *document.Document) error {
	result, err := b.extract(ctx, doc)
	if err != nil {
		slog.Warn("graph extraction failed, skipping document", "source", doc.Path, "error", err)
		return nil
	}

	if err := b.store.MergeNode(ctx, graph.Node{
		Type: graph.NodeDocument,
		Name: doc.Title,
		Properties: map[string]any{
			"source": doc.Path,
			"type":   string(doc.Type),
		},
	}); err != nil {
		slog.Warn("failed to merge document node", "source", doc.Path, "error", err)
		return nil
	}

	for _, e := range result.Entities {
		nodeType := graph.NodeType(e.Type)
		if !graph.ValidNodeType(nodeType) {
			slog.Debug("skipping entity with unknown type", "name", e.Name, "type", e.Type)
			continue
		}
		if err := b.store.MergeNode(ctx, graph.Node{
			Type: nodeType,
			Name: e.Name,
			Properties: map[string]any{
				"description": e.Description,
				"source":      doc.Title,
				"type":        string(doc.Type),
			},
		}); err != nil {
			slog.Warn("failed to merge entity node", "name", e.Name, "error", err)
			continue
		}
		if err := b.store.MergeEdge(ctx, graph.Edge{
			From: e.Name,
			To:   doc.Title,
			Type: graph.RelDocumentedIn,
		}); err != nil {
			slog.Warn("failed to merge DOCUMENTED_IN edge", "name", e.Name, "error", err)
		}
	}

	for _, r := range result.Relationships {
		relType := graph.RelationType(r.Type)
		if relType == "" {
			relType = graph.RelRelatesTo
		}
		if !graph.ValidRelationType(relType) {
			slog.Debug("skipping relationship with unknown type", "from", r.From, "to", r.To, "type", r.Type)
			continue
		}
		if err := b.store.MergeEdge(ctx, graph.Edge{
			From:        r.From,
			To:          r.To,
			Type:        relType,
			Description: r.Description,
		}); err != nil {
			slog.Warn("failed to merge relationship edge", "from", r.From, "to", r.To, "error", err)
		}
	}

	return nil
}

func (b *Builder) extract(ctx context.Context, doc *document.Document) (*extraction, error) {
	content := doc.Raw
	if len(content) > maxContentChars {
		content = content[:maxContentChars]
	}

	prompt := fmt.Sprintf(`Extract named entities and the relationships between them from the following document.

Entity types: Concept, Project, Person, Tool, Document, Technique, Theory.
Relationship types: RELATES_TO, ENABLES, REQUIRES, PART_OF, DOCUMENTED_IN, USES, IMPLEMENTS, ANALYZES, DERIVES_FROM.

Document title: %s

Content:
%s`, doc.Title, llm.SanitizeInput(content))

	messages := []llm.Message{{Role: llm.RoleUser, Content: prompt}}

	text, err := b.llm.GenerateJSON(ctx, messages, extractionSchema)
	if err != nil {
		return nil, fmt.Errorf("graphbuild: generate: %w", err)
	}

	var result extraction
	if err := json.Unmarshal([]byte(llm.StripJSONFence(text)), &result); err != nil {
		return nil, fmt.Errorf("graphbuild: parse response: %w", err)
	}
	return &result, nil
}
