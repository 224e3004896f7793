package plugin

import (
	"context"
	"fmt"

	"github.com/ccdi-dataloader/graphload/internal/graph"
	"github.com/ccdi-dataloader/graphload/internal/schema"
)

// stubParentPluginName is the registry key for StubParentPlugin.
const stubParentPluginName = "stub_parent"

func init() {
	Register(stubParentPluginName, newStubParentPlugin)
}

// StubParentPlugin synthesizes a bare parent node (carrying only its id
// field) when an edge pass discovers a parent pointer with no matching node
// in the graph, instead of failing the row. It is scoped to a configurable
// set of parent kinds so operators opt in per relationship.
type StubParentPlugin struct {
	schema   *schema.Schema
	kinds    map[string]bool
	counters *Counters
}

func newStubParentPlugin(s *schema.Schema, params map[string]any) (Plugin, error) {
	kinds := make(map[string]bool)
	raw, ok := params["kinds"]
	if ok {
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("stub_parent: params.kinds must be a list of strings")
		}
		for _, v := range list {
			name, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("stub_parent: params.kinds entries must be strings")
			}
			kinds[name] = true
		}
	}
	return &StubParentPlugin{schema: s, kinds: kinds, counters: NewCounters()}, nil
}

// Name implements Plugin.
func (p *StubParentPlugin) Name() string { return stubParentPluginName }

// ShouldRun implements Plugin: it only acts on missing-parent events for
// configured kinds (or any kind, when none were configured).
func (p *StubParentPlugin) ShouldRun(ctx PluginContext, event EventType) bool {
	return event == EventMissingParent
}

// CreateNode implements Plugin: for a missing-parent event it writes a
// minimal node carrying only the declared id field; it never acts on
// post-node events.
func (p *StubParentPlugin) CreateNode(ctx context.Context, session WriteSession, lineNum int, missing *MissingParentContext, row map[string]string) (bool, error) {
	if missing == nil {
		return false, nil
	}
	if len(p.kinds) > 0 && !p.kinds[missing.Kind] {
		return false, nil
	}
	if !p.schema.HasNodeKind(missing.Kind) {
		return false, fmt.Errorf("stub_parent: unknown node kind %q", missing.Kind)
	}

	idField := p.schema.GetIDField(missing.Kind)
	node := graph.GraphNode{
		Label:   missing.Kind,
		IDField: idField,
		IDValue: missing.IDValue,
		Properties: map[string]any{
			idField: missing.IDValue,
		},
	}

	if err := session.CreateNode(ctx, node, graph.LoadModeUpsert); err != nil {
		return false, fmt.Errorf("stub_parent: failed to create stub %s %q at line %d: %w", missing.Kind, missing.IDValue, lineNum, err)
	}

	p.counters.NodesCreated++
	p.counters.NodesStat[missing.Kind]++
	return true, nil
}

// Counters implements Plugin.
func (p *StubParentPlugin) Counters() *Counters { return p.counters }
