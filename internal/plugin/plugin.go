// Package plugin implements the Plugin Port: pluggable emitters that may
// synthesize a missing parent node during edge resolution, or derive an
// auxiliary node after a child has been loaded.
package plugin

import (
	"context"

	"github.com/ccdi-dataloader/graphload/internal/graph"
	"github.com/ccdi-dataloader/graphload/internal/schema"
)

// EventType distinguishes the two moments a plugin may act on.
type EventType string

const (
	// EventMissingParent fires when an edge's declared parent is absent
	// from the graph during the edge pass.
	EventMissingParent EventType = "missing_parent"
	// EventPostNode fires immediately after a node has been written.
	EventPostNode EventType = "post_node"
)

// PluginContext carries the ambient run state a plugin needs to decide
// whether it applies.
type PluginContext struct {
	Dataset string
	Mode    graph.LoadMode
}

// MissingParentContext identifies the absent parent a missing-parent event
// is about. It is nil for post-node events, unifying the two differently
// shaped event callbacks behind one method signature.
type MissingParentContext struct {
	Kind    string
	IDValue string
}

// WriteSession is the write surface a plugin is given; it is a narrowed view
// of graph.Backend so a plugin cannot issue schema or lifecycle operations.
type WriteSession interface {
	CreateNode(ctx context.Context, node graph.GraphNode, mode graph.LoadMode) error
	CreateEdge(ctx context.Context, edge graph.GraphEdge, mode graph.LoadMode) error
}

// Counters tracks what one plugin instance has created across a load. It is
// an explicit struct threaded through the call chain, never package-level
// state, so counters from concurrent or repeated loads never bleed together.
type Counters struct {
	NodesCreated         int
	RelationshipsCreated int
	NodesStat            map[string]int
	RelationshipsStat    map[string]int
}

// NewCounters returns a zeroed Counters with its maps initialized.
func NewCounters() *Counters {
	return &Counters{
		NodesStat:         make(map[string]int),
		RelationshipsStat: make(map[string]int),
	}
}

// Merge folds other's counts into c.
func (c *Counters) Merge(other *Counters) {
	if other == nil {
		return
	}
	c.NodesCreated += other.NodesCreated
	c.RelationshipsCreated += other.RelationshipsCreated
	for k, v := range other.NodesStat {
		c.NodesStat[k] += v
	}
	for k, v := range other.RelationshipsStat {
		c.RelationshipsStat[k] += v
	}
}

// Plugin is the capability set every plugin implementation satisfies.
type Plugin interface {
	Name() string
	ShouldRun(ctx PluginContext, event EventType) bool

	// CreateNode is invoked for both event types. missing is non-nil only
	// for EventMissingParent; row is the raw record of the node that
	// triggered the event (the child row for a missing-parent event, the
	// just-loaded row for a post-node event). It reports whether it wrote
	// anything.
	CreateNode(ctx context.Context, session WriteSession, lineNum int, missing *MissingParentContext, row map[string]string) (bool, error)

	Counters() *Counters
}

// Factory builds a Plugin instance bound to a Schema Model and a set of
// configuration params.
type Factory func(s *schema.Schema, params map[string]any) (Plugin, error)
