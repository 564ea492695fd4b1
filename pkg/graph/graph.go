// Package graph stores the knowledge graph extracted from the corpus: typed
// named entities and the directed, typed relations between them.
package graph

// NodeType is one of the fixed entity labels the graph builder extracts.
type NodeType string

const (
	NodeConcept   NodeType = "Concept"
	NodeProject   NodeType = "Project"
	NodePerson    NodeType = "Person"
	NodeTool      NodeType = "Tool"
	NodeDocument  NodeType = "Document"
	NodeTechnique NodeType = "Technique"
	NodeTheory    NodeType = "Theory"
)

// nodeTypes lists every valid NodeType, used to validate labels before they
// are interpolated into a Cypher query (Neo4j has no parameter syntax for
// labels or relationship types).
var nodeTypes = map[NodeType]bool{
	NodeConcept: true, NodeProject: true, NodePerson: true, NodeTool: true,
	NodeDocument: true, NodeTechnique: true, NodeTheory: true,
}

// ValidNodeType reports whether t is one of the fixed node labels.
func ValidNodeType(t NodeType) bool { return nodeTypes[t] }

// RelationType is one of the fixed directed relation labels the graph
// builder extracts.
type RelationType string

const (
	RelRelatesTo    RelationType = "RELATES_TO"
	RelEnables      RelationType = "ENABLES"
	RelRequires     RelationType = "REQUIRES"
	RelPartOf       RelationType = "PART_OF"
	RelDocumentedIn RelationType = "DOCUMENTED_IN"
	RelUses         RelationType = "USES"
	RelImplements   RelationType = "IMPLEMENTS"
	RelAnalyzes     RelationType = "ANALYZES"
	RelDerivesFrom  RelationType = "DERIVES_FROM"
)

var relationTypes = map[RelationType]bool{
	RelRelatesTo: true, RelEnables: true, RelRequires: true, RelPartOf: true,
	RelDocumentedIn: true, RelUses: true, RelImplements: true, RelAnalyzes: true,
	RelDerivesFrom: true,
}

// ValidRelationType reports whether r is one of the fixed relation labels.
func ValidRelationType(r RelationType) bool { return relationTypes[r] }

// Node is a named entity. Name is unique within Type.
type Node struct {
	Type       NodeType
	Name       string
	Properties map[string]any
}

// Edge is a directed relation between two nodes, matched by name.
type Edge struct {
	From        string
	To          string
	Type        RelationType
	Description string
}

// Path is the result of ShortestPath: an alternating sequence of nodes and
// the relation types connecting them (len(Relations) == len(Nodes)-1).
type Path struct {
	Nodes     []Node
	Relations []RelationType
}

// Stats summarizes the graph's size for the admin API.
type Stats struct {
	TotalNodes    int
	TotalEdges    int
	CountsByLabel map[NodeType]int
}
