package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/aletheia-kb/aletheia/pkg/apperr"
	"github.com/aletheia-kb/aletheia/pkg/config"
)

// maxNeighborDepth bounds Neighbors' traversal, matching the documented
// depth <= 3 invariant; Neo4j requires variable-length path bounds as
// literals, so callers can't parametrize past this.
const maxNeighborDepth = 3

// Store is the knowledge graph adapter, backed by a Neo4j database over
// the Bolt protocol.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewStore dials Neo4j and declares the node-uniqueness constraints used
// by MergeNode. The constraint statements are idempotent (IF NOT EXISTS),
// so repeated calls across process restarts are safe.
func NewStore(ctx context.Context, cfg config.GraphStoreConfig) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, apperr.RemoteUnavailable("graph", "NewStore", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, apperr.RemoteUnavailable("graph", "NewStore", err)
	}

	store := &Store{driver: driver, database: cfg.Database}
	if err := store.ensureConstraints(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
}

func (s *Store) ensureConstraints(ctx context.Context) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	for label := range nodeTypes {
		stmt := fmt.Sprintf(
			"CREATE CONSTRAINT IF NOT EXISTS FOR (n:%s) REQUIRE n.name IS UNIQUE", string(label))
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return apperr.RemoteUnavailable("graph", "ensureConstraints", err)
		}
	}
	return nil
}

// MergeNode idempotently upserts a node by (label, name), setting any
// additional properties. Calling MergeNode twice with the same name and
// type leaves exactly one node.
func (s *Store) MergeNode(ctx context.Context, node Node) error {
	if !ValidNodeType(node.Type) {
		return apperr.Validation("graph", "MergeNode", "unknown node type: "+string(node.Type))
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	stmt := fmt.Sprintf("MERGE (n:%s {name: $name}) SET n += $props", string(node.Type))
	_, err := session.Run(ctx, stmt, map[string]any{
		"name":  node.Name,
		"props": node.Properties,
	})
	if err != nil {
		return apperr.RemoteUnavailable("graph", "MergeNode", err)
	}
	return nil
}

// MergeEdge idempotently upserts a directed edge between two nodes,
// matched by name across any label. The relation type must be one of the
// fixed RelationType values, since Cypher has no parameter syntax for
// relationship types.
func (s *Store) MergeEdge(ctx context.Context, edge Edge) error {
	if !ValidRelationType(edge.Type) {
		return apperr.Validation("graph", "MergeEdge", "unknown relation type: "+string(edge.Type))
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	stmt := fmt.Sprintf(
		"MATCH (a {name: $from}), (b {name: $to}) MERGE (a)-[r:%s]->(b) SET r.description = $description",
		string(edge.Type))
	_, err := session.Run(ctx, stmt, map[string]any{
		"from":        edge.From,
		"to":          edge.To,
		"description": edge.Description,
	})
	if err != nil {
		return apperr.RemoteUnavailable("graph", "MergeEdge", err)
	}
	return nil
}

// Neighbors returns distinct nodes reachable from name within depth
// edges (clamped to maxNeighborDepth), ordered by path length.
func (s *Store) Neighbors(ctx context.Context, name string, depth int) ([]Node, error) {
	if depth <= 0 {
		depth = 1
	}
	if depth > maxNeighborDepth {
		depth = maxNeighborDepth
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	stmt := fmt.Sprintf(
		`MATCH path = (n {name: $name})-[*1..%d]-(m)
		 WHERE m.name <> $name
		 RETURN DISTINCT m, min(length(path)) AS dist
		 ORDER BY dist`, depth)

	result, err := session.Run(ctx, stmt, map[string]any{"name": name})
	if err != nil {
		return nil, apperr.RemoteUnavailable("graph", "Neighbors", err)
	}

	var nodes []Node
	for result.Next(ctx) {
		n, ok := result.Record().Get("m")
		if !ok {
			continue
		}
		if neoNode, ok := n.(neo4j.Node); ok {
			nodes = append(nodes, nodeFromNeo4j(neoNode))
		}
	}
	if err := result.Err(); err != nil {
		return nil, apperr.RemoteUnavailable("graph", "Neighbors", err)
	}
	return nodes, nil
}

// ShortestPath returns the node sequence and interleaved relation-type
// sequence of the shortest path between a and b. ShortestPath(a, a)
// returns a single-node, zero-edge path.
func (s *Store) ShortestPath(ctx context.Context, a, b string) (Path, error) {
	if a == b {
		session := s.session(ctx)
		defer session.Close(ctx)

		result, err := session.Run(ctx, "MATCH (n {name: $name}) RETURN n", map[string]any{"name": a})
		if err != nil {
			return Path{}, apperr.RemoteUnavailable("graph", "ShortestPath", err)
		}
		if result.Next(ctx) {
			if n, ok := result.Record().Get("n"); ok {
				if neoNode, ok := n.(neo4j.Node); ok {
					return Path{Nodes: []Node{nodeFromNeo4j(neoNode)}}, nil
				}
			}
		}
		return Path{}, apperr.NotFound("graph", "ShortestPath", "node not found: "+a)
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		"MATCH p = shortestPath((a {name: $a})-[*..15]-(b {name: $b})) RETURN p",
		map[string]any{"a": a, "b": b})
	if err != nil {
		return Path{}, apperr.RemoteUnavailable("graph", "ShortestPath", err)
	}

	if !result.Next(ctx) {
		return Path{}, apperr.NotFound("graph", "ShortestPath", fmt.Sprintf("no path between %q and %q", a, b))
	}

	raw, ok := result.Record().Get("p")
	if !ok {
		return Path{}, apperr.NotFound("graph", "ShortestPath", "no path in result")
	}
	neoPath, ok := raw.(neo4j.Path)
	if !ok {
		return Path{}, apperr.RemoteBadResponse("graph", "ShortestPath", "unexpected path shape", nil)
	}

	path := Path{}
	for _, n := range neoPath.Nodes {
		path.Nodes = append(path.Nodes, nodeFromNeo4j(n))
	}
	for _, r := range neoPath.Relationships {
		path.Relations = append(path.Relations, RelationType(r.Type))
	}
	return path, nil
}

// DocumentsFor returns up to k distinct Document nodes within two hops of
// name.
func (s *Store) DocumentsFor(ctx context.Context, name string, k int) ([]Node, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (n {name: $name})-[*1..2]-(d:Document)
		 RETURN DISTINCT d LIMIT $k`,
		map[string]any{"name": name, "k": k})
	if err != nil {
		return nil, apperr.RemoteUnavailable("graph", "DocumentsFor", err)
	}

	var nodes []Node
	for result.Next(ctx) {
		if n, ok := result.Record().Get("d"); ok {
			if neoNode, ok := n.(neo4j.Node); ok {
				nodes = append(nodes, nodeFromNeo4j(neoNode))
			}
		}
	}
	if err := result.Err(); err != nil {
		return nil, apperr.RemoteUnavailable("graph", "DocumentsFor", err)
	}
	return nodes, nil
}

// NodesOfType returns up to k nodes of the given type.
func (s *Store) NodesOfType(ctx context.Context, nodeType NodeType, k int) ([]Node, error) {
	if !ValidNodeType(nodeType) {
		return nil, apperr.Validation("graph", "NodesOfType", "unknown node type: "+string(nodeType))
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	stmt := fmt.Sprintf("MATCH (n:%s) RETURN n LIMIT $k", string(nodeType))
	result, err := session.Run(ctx, stmt, map[string]any{"k": k})
	if err != nil {
		return nil, apperr.RemoteUnavailable("graph", "NodesOfType", err)
	}

	var nodes []Node
	for result.Next(ctx) {
		if n, ok := result.Record().Get("n"); ok {
			if neoNode, ok := n.(neo4j.Node); ok {
				nodes = append(nodes, nodeFromNeo4j(neoNode))
			}
		}
	}
	if err := result.Err(); err != nil {
		return nil, apperr.RemoteUnavailable("graph", "NodesOfType", err)
	}
	return nodes, nil
}

// Stats returns the graph's total node/edge counts and per-label
// distribution.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	stats := Stats{CountsByLabel: map[NodeType]int{}}

	for label := range nodeTypes {
		stmt := fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS c", string(label))
		result, err := session.Run(ctx, stmt, nil)
		if err != nil {
			return Stats{}, apperr.RemoteUnavailable("graph", "Stats", err)
		}
		if result.Next(ctx) {
			if c, ok := result.Record().Get("c"); ok {
				count := int(c.(int64))
				stats.CountsByLabel[label] = count
				stats.TotalNodes += count
			}
		}
	}

	result, err := session.Run(ctx, "MATCH ()-[r]->() RETURN count(r) AS c", nil)
	if err != nil {
		return Stats{}, apperr.RemoteUnavailable("graph", "Stats", err)
	}
	if result.Next(ctx) {
		if c, ok := result.Record().Get("c"); ok {
			stats.TotalEdges = int(c.(int64))
		}
	}

	return stats, nil
}

// Reset deletes every node and edge in the database. Constraints are left
// in place, since they are declared IF NOT EXISTS and reused on the next
// write.
func (s *Store) Reset(ctx context.Context) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	if _, err := session.Run(ctx, "MATCH (n) DETACH DELETE n", nil); err != nil {
		return apperr.RemoteUnavailable("graph", "Reset", err)
	}
	return nil
}

// Close releases the underlying driver's connection pool.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func nodeFromNeo4j(n neo4j.Node) Node {
	node := Node{Name: "", Properties: map[string]any{}}
	for k, v := range n.Props {
		if k == "name" {
			if name, ok := v.(string); ok {
				node.Name = name
			}
			continue
		}
		node.Properties[k] = v
	}
	for _, label := range n.Labels {
		if ValidNodeType(NodeType(label)) {
			node.Type = NodeType(label)
			break
		}
	}
	return node
}
