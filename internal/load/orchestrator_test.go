package load

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccdi-dataloader/graphload/internal/graph"
	"github.com/ccdi-dataloader/graphload/internal/history"
)

// fakeBackend is an in-memory graph.Backend used so orchestrator tests never
// open a network connection.
type fakeBackend struct {
	mu    sync.Mutex
	nodes map[string]map[any]map[string]any // label -> idValue -> props
	edges []graph.GraphEdge
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{nodes: make(map[string]map[any]map[string]any)}
}

func (b *fakeBackend) CreateNodesBatch(ctx context.Context, nodes []graph.GraphNode, mode graph.LoadMode) (graph.WriteCounters, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	counters := graph.NewWriteCounters()
	for _, n := range nodes {
		byID, ok := b.nodes[n.Label]
		if !ok {
			byID = make(map[any]map[string]any)
			b.nodes[n.Label] = byID
		}
		if _, exists := byID[n.IDValue]; exists {
			counters.Updated[n.Label]++
		} else {
			counters.Created[n.Label]++
		}
		byID[n.IDValue] = n.Properties
	}
	return counters, nil
}

func (b *fakeBackend) CreateEdgesBatch(ctx context.Context, edges []graph.GraphEdge, mode graph.LoadMode, strictOneToOne bool) (graph.WriteCounters, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	counters := graph.NewWriteCounters()
	for _, e := range edges {
		b.edges = append(b.edges, e)
		counters.Created[e.Label]++
	}
	return counters, nil
}

func (b *fakeBackend) DeleteCascade(ctx context.Context, label, idField string, idValue any) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if byID, ok := b.nodes[label]; ok {
		if _, exists := byID[idValue]; exists {
			delete(byID, idValue)
			return 1, nil
		}
	}
	return 0, nil
}

func (b *fakeBackend) WipeDatabase(ctx context.Context, batchSize int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes = make(map[string]map[any]map[string]any)
	b.edges = nil
	return nil
}

func (b *fakeBackend) EnsureIndex(ctx context.Context, label string, properties []string) error {
	return nil
}

func (b *fakeBackend) Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Only path exercised by the orchestrator: parent-existence lookups built
	// by CypherBuilder.BuildNodeExists, whose sole parameter is named "p0".
	id, ok := params["p0"]
	if !ok {
		return []map[string]any{{"count": int64(0)}}, nil
	}
	for _, byID := range b.nodes {
		if _, exists := byID[id]; exists {
			return []map[string]any{{"count": int64(1)}}, nil
		}
	}
	return []map[string]any{{"count": int64(0)}}, nil
}

func (b *fakeBackend) Close(ctx context.Context) error { return nil }

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testLedger(t *testing.T) *history.Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	l, err := history.Open(path, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func writeSchema(t *testing.T, dir string) (modelPath, propsPath string) {
	t.Helper()
	model := `
nodes:
  Patient:
    properties:
      patient_id: {type: String, required: true}
      age: {type: Int}
  Sample:
    properties:
      sample_id: {type: String, required: true}
relationships:
  - source: Patient
    label: HAS_SAMPLE
    target: Sample
    multiplicity: one-to-many
`
	properties := `
id_fields:
  Patient: patient_id
  Sample: sample_id
`
	modelPath = filepath.Join(dir, "model.yaml")
	propsPath = filepath.Join(dir, "properties.yaml")
	require.NoError(t, os.WriteFile(modelPath, []byte(model), 0644))
	require.NoError(t, os.WriteFile(propsPath, []byte(properties), 0644))
	return modelPath, propsPath
}

func TestOrchestrator_Run_LoadsNodesAndEdges(t *testing.T) {
	dir := t.TempDir()
	modelPath, propsPath := writeSchema(t, dir)

	dataset := filepath.Join(dir, "dataset")
	require.NoError(t, os.MkdirAll(dataset, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dataset, "patients.tsv"),
		[]byte("type\tpatient_id\tage\nPatient\tp1\t45\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dataset, "samples.tsv"),
		[]byte("type\tsample_id\tPatient.patient_id\nSample\ts1\tp1\n"), 0644))

	backend := newFakeBackend()
	orch := NewOrchestrator(backend, testLedger(t), testLogger())

	result, err := orch.Run(context.Background(), Options{
		Dataset:       dataset,
		SchemaFiles:   []string{modelPath},
		PropFile:      propsPath,
		Mode:          graph.LoadModeUpsert,
		NoBackup:      true,
		MaxViolations: 100,
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Aborted)
	assert.Equal(t, 2, result.FilesLoaded)
	assert.Equal(t, 1, result.Counters.Created["Patient"])
	assert.Equal(t, 1, result.Counters.Created["Sample"])
	assert.Equal(t, 1, result.Counters.Created["HAS_SAMPLE"])
}

func TestOrchestrator_Run_AbortsOnValidationFailure(t *testing.T) {
	dir := t.TempDir()
	modelPath, propsPath := writeSchema(t, dir)

	dataset := filepath.Join(dir, "dataset")
	require.NoError(t, os.MkdirAll(dataset, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dataset, "patients.tsv"),
		[]byte("type\tpatient_id\tage\nPatient\t\t45\n"), 0644))

	backend := newFakeBackend()
	orch := NewOrchestrator(backend, testLedger(t), testLogger())

	result, err := orch.Run(context.Background(), Options{
		Dataset:       dataset,
		SchemaFiles:   []string{modelPath},
		PropFile:      propsPath,
		Mode:          graph.LoadModeUpsert,
		NoBackup:      true,
		MaxViolations: 100,
	})
	require.Error(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Aborted)
	assert.Zero(t, backend.nodes["Patient"])
}

func TestOrchestrator_Run_CheatModeSkipsValidation(t *testing.T) {
	dir := t.TempDir()
	modelPath, propsPath := writeSchema(t, dir)

	dataset := filepath.Join(dir, "dataset")
	require.NoError(t, os.MkdirAll(dataset, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dataset, "patients.tsv"),
		[]byte("type\tpatient_id\tage\nPatient\tp1\t45\n"), 0644))

	backend := newFakeBackend()
	orch := NewOrchestrator(backend, testLedger(t), testLogger())

	result, err := orch.Run(context.Background(), Options{
		Dataset:     dataset,
		SchemaFiles: []string{modelPath},
		PropFile:    propsPath,
		Mode:        graph.LoadModeUpsert,
		CheatMode:   true,
		NoBackup:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Counters.Created["Patient"])
}

func TestOrchestrator_Run_DryRunIssuesNoWrites(t *testing.T) {
	dir := t.TempDir()
	modelPath, propsPath := writeSchema(t, dir)

	dataset := filepath.Join(dir, "dataset")
	require.NoError(t, os.MkdirAll(dataset, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dataset, "patients.tsv"),
		[]byte("type\tpatient_id\tage\nPatient\tp1\t45\n"), 0644))

	backend := newFakeBackend()
	orch := NewOrchestrator(backend, testLedger(t), testLogger())

	_, err := orch.Run(context.Background(), Options{
		Dataset:       dataset,
		SchemaFiles:   []string{modelPath},
		PropFile:      propsPath,
		Mode:          graph.LoadModeUpsert,
		DryRun:        true,
		MaxViolations: 100,
	})
	require.NoError(t, err)
	assert.Empty(t, backend.nodes["Patient"])
}

func TestOrchestrator_Run_DeleteModeCascades(t *testing.T) {
	dir := t.TempDir()
	modelPath, propsPath := writeSchema(t, dir)

	dataset := filepath.Join(dir, "dataset")
	require.NoError(t, os.MkdirAll(dataset, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dataset, "patients.tsv"),
		[]byte("type\tpatient_id\tage\nPatient\tp1\t45\n"), 0644))

	backend := newFakeBackend()
	orch := NewOrchestrator(backend, testLedger(t), testLogger())

	_, err := orch.Run(context.Background(), Options{
		Dataset:       dataset,
		SchemaFiles:   []string{modelPath},
		PropFile:      propsPath,
		Mode:          graph.LoadModeUpsert,
		NoBackup:      true,
		MaxViolations: 100,
	})
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), Options{
		Dataset:       dataset,
		SchemaFiles:   []string{modelPath},
		PropFile:      propsPath,
		Mode:          graph.LoadModeDelete,
		NoBackup:      true,
		MaxViolations: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Counters.Deleted["*"])
	assert.Empty(t, backend.nodes["Patient"])
}

func TestOrchestrator_Run_MissingParentWithoutPluginFails(t *testing.T) {
	dir := t.TempDir()
	modelPath, propsPath := writeSchema(t, dir)

	dataset := filepath.Join(dir, "dataset")
	require.NoError(t, os.MkdirAll(dataset, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dataset, "samples.tsv"),
		[]byte("type\tsample_id\tPatient.patient_id\nSample\ts1\tghost\n"), 0644))

	backend := newFakeBackend()
	orch := NewOrchestrator(backend, testLedger(t), testLogger())

	_, err := orch.Run(context.Background(), Options{
		Dataset:       dataset,
		SchemaFiles:   []string{modelPath},
		PropFile:      propsPath,
		Mode:          graph.LoadModeUpsert,
		NoBackup:      true,
		MaxViolations: 100,
	})
	require.Error(t, err)
}

func TestOrchestrator_Run_MissingParentResolvedByPlugin(t *testing.T) {
	dir := t.TempDir()
	modelPath, propsPath := writeSchema(t, dir)

	dataset := filepath.Join(dir, "dataset")
	require.NoError(t, os.MkdirAll(dataset, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dataset, "samples.tsv"),
		[]byte("type\tsample_id\tPatient.patient_id\nSample\ts1\tghost\n"), 0644))

	backend := newFakeBackend()
	orch := NewOrchestrator(backend, testLedger(t), testLogger())

	result, err := orch.Run(context.Background(), Options{
		Dataset:       dataset,
		SchemaFiles:   []string{modelPath},
		PropFile:      propsPath,
		Mode:          graph.LoadModeUpsert,
		NoBackup:      true,
		MaxViolations: 100,
		PluginNames:   []string{"stub_parent"},
		PluginParams:  map[string]map[string]any{"stub_parent": {"kinds": []any{"Patient"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Counters.Created["Sample"])
	assert.Equal(t, 1, result.Counters.Created["HAS_SAMPLE"])
	require.NotNil(t, backend.nodes["Patient"])
	_, ok := backend.nodes["Patient"]["ghost"]
	assert.True(t, ok)
}

func TestOrchestrator_Run_NoInputFilesErrors(t *testing.T) {
	dir := t.TempDir()
	modelPath, propsPath := writeSchema(t, dir)
	dataset := filepath.Join(dir, "dataset")
	require.NoError(t, os.MkdirAll(dataset, 0755))

	backend := newFakeBackend()
	orch := NewOrchestrator(backend, testLedger(t), testLogger())

	_, err := orch.Run(context.Background(), Options{
		Dataset:     dataset,
		SchemaFiles: []string{modelPath},
		PropFile:    propsPath,
		Mode:        graph.LoadModeUpsert,
	})
	require.Error(t, err)
}

func TestOrchestrator_SchemaVersionIsDeterministic(t *testing.T) {
	got := schemaVersion([]string{"/a/z.yaml", "/b/a.yaml"})
	assert.Equal(t, "a.yaml,z.yaml", got)
}

func TestOrchestrator_SanitizeDatasetName(t *testing.T) {
	assert.Equal(t, "my-dataset", sanitizeDatasetName("/tmp/my dataset"))
	assert.Equal(t, "dataset", sanitizeDatasetName(""))
}

func TestOrchestrator_DiscoverInputFilesErrorsOnMissingDataset(t *testing.T) {
	_, err := discoverInputFiles(fmt.Sprintf("/nonexistent/%d", os.Getpid()))
	require.Error(t, err)
}
