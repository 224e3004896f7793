package prepare

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccdi-dataloader/graphload/internal/schema"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	dir := t.TempDir()

	model := `
nodes:
  Patient:
    properties:
      patient_id: {type: String, required: true}
      age: {type: Int}
      weight: {type: Float, unit: kg}
      active: {type: Boolean}
      tags: {type: Array}
  Sample:
    properties:
      sample_id: {type: String, required: true}
      collected_on: {type: Date}
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
save_parent_id: [Sample]
relationship_delimiter: "$"
list_delimiter: ";"
`
	modelPath := filepath.Join(dir, "model.yaml")
	propsPath := filepath.Join(dir, "properties.yaml")
	require.NoError(t, os.WriteFile(modelPath, []byte(model), 0644))
	require.NoError(t, os.WriteFile(propsPath, []byte(properties), 0644))

	s, err := schema.Load([]string{modelPath}, propsPath)
	require.NoError(t, err)
	return s
}

func TestPrepare_CoercesTypes(t *testing.T) {
	s := testSchema(t)

	node, err := Prepare(s, "Patient", map[string]string{
		"type":       "Patient",
		"patient_id": "p1",
		"age":        "45",
		"weight":     "70.5",
		"active":     "yes",
		"tags":       "a;b;c",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(45), node.Props["age"])
	assert.Equal(t, 70.5, node.Props["weight"])
	assert.Equal(t, true, node.Props["active"])
	assert.Equal(t, "kg", node.Props["weight_unit"])
	assert.JSONEq(t, `["a","b","c"]`, node.Props["tags"].(string))
}

func TestPrepare_IdentityIsStableAcrossParentPointerDifferences(t *testing.T) {
	s := testSchema(t)

	a, err := Prepare(s, "Sample", map[string]string{
		"type":         "Sample",
		"sample_id":    "s1",
		"collected_on": "2024-01-15",
		"Patient.patient_id": "p1",
	})
	require.NoError(t, err)

	b, err := Prepare(s, "Sample", map[string]string{
		"type":         "Sample",
		"sample_id":    "s1",
		"collected_on": "2024-01-15",
		"Patient.patient_id": "p2",
	})
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID, "rows differing only in parent pointers must share identity")
}

func TestPrepare_ParentPointerInjectsScalar(t *testing.T) {
	s := testSchema(t)

	node, err := Prepare(s, "Sample", map[string]string{
		"type":                "Sample",
		"sample_id":           "s1",
		"Patient.patient_id":  "p1",
	})
	require.NoError(t, err)

	require.Len(t, node.ParentPointers, 1)
	assert.Equal(t, "Patient", node.ParentPointers[0].ParentKind)
	assert.Equal(t, "p1", node.ParentPointers[0].ParentIDValue)
	assert.Equal(t, "HAS_SAMPLE", node.ParentPointers[0].EdgeLabel)
	assert.Equal(t, "p1", node.Props["patient_id"])
}

func TestPrepare_ParentPointerNamespacedOnRowCollision(t *testing.T) {
	s := testSchema(t)

	node, err := Prepare(s, "Sample", map[string]string{
		"type":                "Sample",
		"sample_id":           "s1",
		"patient_id":          "own-value",
		"Patient.patient_id":  "p1",
	})
	require.NoError(t, err)

	assert.Equal(t, "own-value", node.Props["patient_id"], "the row's own column must not be clobbered")
	assert.Equal(t, "p1", node.Props["Patient_patient_id"], "the parent id falls back to the namespaced form")
}

func TestPrepare_RelationshipProperty(t *testing.T) {
	s := testSchema(t)

	node, err := Prepare(s, "Sample", map[string]string{
		"type":                    "Sample",
		"sample_id":               "s1",
		"Patient.patient_id":      "p1",
		"HAS_SAMPLE$collected_at": "2024-02-01",
	})
	require.NoError(t, err)

	require.Contains(t, node.RelationshipProps, "HAS_SAMPLE")
	assert.Equal(t, "2024-02-01", node.RelationshipProps["HAS_SAMPLE"]["collected_at"])
}

func TestPrepare_DateCanonicalized(t *testing.T) {
	s := testSchema(t)

	node, err := Prepare(s, "Sample", map[string]string{
		"type":         "Sample",
		"sample_id":    "s1",
		"collected_on": "01/15/2024",
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", node.Props["collected_on"])
}
