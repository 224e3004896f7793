package graph

import "context"

// LoadMode selects the write semantics applied to every node and edge in a run.
type LoadMode string

const (
	// LoadModeUpsert merges into the existing graph, updating matched nodes/edges.
	LoadModeUpsert LoadMode = "upsert"
	// LoadModeNew rejects any row whose identity already exists.
	LoadModeNew LoadMode = "new"
	// LoadModeDelete removes nodes (and their single-parent children) instead of writing.
	LoadModeDelete LoadMode = "delete"
)

// Multiplicity describes the cardinality of a schema relationship, which
// governs how the writer enforces a parent-pointer edge.
type Multiplicity string

const (
	MultiplicityOneToOne   Multiplicity = "one-to-one"
	MultiplicityOneToMany  Multiplicity = "one-to-many"
	MultiplicityManyToOne  Multiplicity = "many-to-one"
	MultiplicityManyToMany Multiplicity = "many-to-many"
)

// Backend defines the interface for graph database operations: one
// node-create path, one edge-create path, and a raw-query escape hatch.
// Implementations are swappable; the Neo4j implementation is the only one
// this engine ships.
type Backend interface {
	// CreateNodesBatch writes a batch of same or mixed-label nodes according
	// to mode, returning per-label (created, updated) counts.
	CreateNodesBatch(ctx context.Context, nodes []GraphNode, mode LoadMode) (WriteCounters, error)

	// CreateEdgesBatch writes a batch of edges according to mode, enforcing
	// multiplicity per edge.
	CreateEdgesBatch(ctx context.Context, edges []GraphEdge, mode LoadMode, strictOneToOne bool) (WriteCounters, error)

	// DeleteCascade removes a node and every child whose only incoming
	// parent edge originates from it, recursively, evaluated against the
	// live graph.
	DeleteCascade(ctx context.Context, label, idField string, idValue any) (deleted int, err error)

	// WipeDatabase detach-deletes the entire graph. When batchSize > 0 it
	// deletes in batches until two consecutive batches delete nothing.
	WipeDatabase(ctx context.Context, batchSize int) error

	// EnsureIndex creates a BTREE index for (label, properties) if one with
	// that signature does not already exist.
	EnsureIndex(ctx context.Context, label string, properties []string) error

	// Query executes a raw parameterized Cypher query and returns records
	// as plain maps; the escape hatch for anything the typed paths above
	// don't cover (plugin queries, diagnostics).
	Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)

	// Close releases the backend's underlying connection.
	Close(ctx context.Context) error
}

// GraphNode represents a node to be written, fully self-describing so the
// Backend never needs access to the Schema Model.
type GraphNode struct {
	Label      string
	IDField    string
	IDValue    any
	Properties map[string]any
}

// GraphEdge represents an edge to be written between two identified nodes.
type GraphEdge struct {
	Label        string
	Multiplicity Multiplicity

	FromLabel   string
	FromIDField string
	FromIDValue any

	ToLabel   string
	ToIDField string
	ToIDValue any

	Properties map[string]any
}

// WriteCounters tracks per-kind/per-label outcome counts for a write batch,
// merged into the engine's running totals only after the owning transaction
// commits.
type WriteCounters struct {
	Created map[string]int
	Updated map[string]int
	Deleted map[string]int
}

// NewWriteCounters returns a zeroed counter set.
func NewWriteCounters() WriteCounters {
	return WriteCounters{
		Created: make(map[string]int),
		Updated: make(map[string]int),
		Deleted: make(map[string]int),
	}
}

// Merge folds other's counts into c.
func (c WriteCounters) Merge(other WriteCounters) {
	for k, v := range other.Created {
		c.Created[k] += v
	}
	for k, v := range other.Updated {
		c.Updated[k] += v
	}
	for k, v := range other.Deleted {
		c.Deleted[k] += v
	}
}
