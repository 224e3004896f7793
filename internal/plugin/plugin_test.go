package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccdi-dataloader/graphload/internal/graph"
	"github.com/ccdi-dataloader/graphload/internal/schema"
)

type fakeSession struct {
	nodes []graph.GraphNode
	edges []graph.GraphEdge
}

func (f *fakeSession) CreateNode(ctx context.Context, node graph.GraphNode, mode graph.LoadMode) error {
	f.nodes = append(f.nodes, node)
	return nil
}

func (f *fakeSession) CreateEdge(ctx context.Context, edge graph.GraphEdge, mode graph.LoadMode) error {
	f.edges = append(f.edges, edge)
	return nil
}

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	dir := t.TempDir()
	model := `
nodes:
  Patient:
    properties:
      patient_id: {type: String, required: true}
`
	props := `
id_fields:
  Patient: patient_id
`
	modelPath := filepath.Join(dir, "model.yaml")
	propsPath := filepath.Join(dir, "properties.yaml")
	require.NoError(t, os.WriteFile(modelPath, []byte(model), 0644))
	require.NoError(t, os.WriteFile(propsPath, []byte(props), 0644))
	s, err := schema.Load([]string{modelPath}, propsPath)
	require.NoError(t, err)
	return s
}

func TestRegistry_NewInstantiatesRegisteredPlugin(t *testing.T) {
	s := testSchema(t)
	p, err := New(stubParentPluginName, s, nil)
	require.NoError(t, err)
	assert.Equal(t, stubParentPluginName, p.Name())
}

func TestRegistry_UnknownNameErrors(t *testing.T) {
	s := testSchema(t)
	_, err := New("does-not-exist", s, nil)
	assert.Error(t, err)
}

func TestStubParentPlugin_CreatesOnMissingParent(t *testing.T) {
	s := testSchema(t)
	p, err := New(stubParentPluginName, s, nil)
	require.NoError(t, err)

	ctx := PluginContext{Mode: graph.LoadModeUpsert}
	assert.True(t, p.ShouldRun(ctx, EventMissingParent))
	assert.False(t, p.ShouldRun(ctx, EventPostNode))

	session := &fakeSession{}
	missing := &MissingParentContext{Kind: "Patient", IDValue: "p1"}
	wrote, err := p.CreateNode(context.Background(), session, 5, missing, nil)
	require.NoError(t, err)
	assert.True(t, wrote)
	require.Len(t, session.nodes, 1)
	assert.Equal(t, "Patient", session.nodes[0].Label)
	assert.Equal(t, "p1", session.nodes[0].IDValue)
	assert.Equal(t, 1, p.Counters().NodesCreated)
	assert.Equal(t, 1, p.Counters().NodesStat["Patient"])
}

func TestStubParentPlugin_SkipsPostNodeEvent(t *testing.T) {
	s := testSchema(t)
	p, err := New(stubParentPluginName, s, nil)
	require.NoError(t, err)

	session := &fakeSession{}
	wrote, err := p.CreateNode(context.Background(), session, 1, nil, map[string]string{"patient_id": "p1"})
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Empty(t, session.nodes)
}

func TestStubParentPlugin_ScopedToConfiguredKinds(t *testing.T) {
	s := testSchema(t)
	p, err := New(stubParentPluginName, s, map[string]any{"kinds": []any{"Other"}})
	require.NoError(t, err)

	session := &fakeSession{}
	missing := &MissingParentContext{Kind: "Patient", IDValue: "p1"}
	wrote, err := p.CreateNode(context.Background(), session, 1, missing, nil)
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Empty(t, session.nodes)
}

func TestCounters_Merge(t *testing.T) {
	a := NewCounters()
	a.NodesCreated = 2
	a.NodesStat["Patient"] = 2

	b := NewCounters()
	b.NodesCreated = 3
	b.NodesStat["Patient"] = 1
	b.RelationshipsCreated = 1

	a.Merge(b)
	assert.Equal(t, 5, a.NodesCreated)
	assert.Equal(t, 3, a.NodesStat["Patient"])
	assert.Equal(t, 1, a.RelationshipsCreated)
}
