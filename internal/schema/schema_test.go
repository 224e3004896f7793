package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func testSchema(t *testing.T) *Schema {
	t.Helper()
	dir := t.TempDir()

	model := `
nodes:
  Patient:
    properties:
      patient_id: {type: String, required: true}
      age: {type: Int, min: 0, max: 130}
      weight: {type: Float, unit: kg}
  Sample:
    properties:
      sample_id: {type: String, required: true}
      status: {type: String, enum: ["active", "archived"]}
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
indexes:
  - kind: Patient
    properties: [patient_id]
save_parent_id: [Sample]
relationship_delimiter: "$"
list_delimiter: ";"
`
	modelPath := writeTempFile(t, dir, "model.yaml", model)
	propsPath := writeTempFile(t, dir, "properties.yaml", properties)

	s, err := Load([]string{modelPath}, propsPath)
	require.NoError(t, err)
	return s
}

func TestLoad_ResolvesNodesAndRelationships(t *testing.T) {
	s := testSchema(t)

	assert.True(t, s.HasNodeKind("Patient"))
	assert.True(t, s.HasNodeKind("Sample"))
	assert.False(t, s.HasNodeKind("Unknown"))

	rel, ok := s.GetRelationship("Patient", "Sample")
	require.True(t, ok)
	assert.Equal(t, MultiplicityOneToMany, rel.Multiplicity)
}

func TestGetIDField(t *testing.T) {
	s := testSchema(t)
	assert.Equal(t, "patient_id", s.GetIDField("Patient"))
	assert.Equal(t, "id", s.GetIDField("Unknown"))
}

func TestGetID(t *testing.T) {
	s := testSchema(t)
	id, ok := s.GetID("Patient", map[string]string{"patient_id": " p1 "})
	require.True(t, ok)
	assert.Equal(t, "p1", id)

	_, ok = s.GetID("Patient", map[string]string{})
	assert.False(t, ok)
}

func TestIsParentPointer(t *testing.T) {
	s := testSchema(t)
	kind, field, ok := s.IsParentPointer("Patient.patient_id")
	require.True(t, ok)
	assert.Equal(t, "Patient", kind)
	assert.Equal(t, "patient_id", field)

	_, _, ok = s.IsParentPointer("no_dot_here")
	assert.False(t, ok)
}

func TestIsRelationshipProperty(t *testing.T) {
	s := testSchema(t)
	label, prop, ok := s.IsRelationshipProperty("HAS_SAMPLE$collected_at")
	require.True(t, ok)
	assert.Equal(t, "HAS_SAMPLE", label)
	assert.Equal(t, "collected_at", prop)

	_, _, ok = s.IsRelationshipProperty("UNKNOWN_EDGE$prop")
	assert.False(t, ok)
}

func TestGetExtraProps(t *testing.T) {
	s := testSchema(t)
	extra := s.GetExtraProps("Patient", "weight", "70")
	assert.Equal(t, map[string]string{"weight_unit": "kg"}, extra)

	assert.Nil(t, s.GetExtraProps("Patient", "age", "30"))
}

func TestGetUUIDForNode_Deterministic(t *testing.T) {
	s := testSchema(t)
	a := s.GetUUIDForNode("Patient", "{ patient_id: p1 }")
	b := s.GetUUIDForNode("Patient", "{ patient_id: p1 }")
	assert.Equal(t, a, b)

	c := s.GetUUIDForNode("Sample", "{ patient_id: p1 }")
	assert.NotEqual(t, a, c, "identical signature under a different kind must not collide")
}

func TestCanonicalSignature_OrdersKeys(t *testing.T) {
	sig := CanonicalSignature(map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, "{ a: 1, b: 2 }", sig)
}

func TestValidateNode(t *testing.T) {
	s := testSchema(t)

	outcome := s.ValidateNode("Patient", map[string]string{"patient_id": "p1", "age": "45"})
	assert.True(t, outcome.OK)

	outcome = s.ValidateNode("Patient", map[string]string{"age": "45"})
	assert.False(t, outcome.OK)
	assert.NotEmpty(t, outcome.Messages)

	outcome = s.ValidateNode("Patient", map[string]string{"patient_id": "p1", "age": "not-a-number"})
	assert.False(t, outcome.OK)
	assert.NotEmpty(t, outcome.DataMessages)

	outcome = s.ValidateNode("Sample", map[string]string{"sample_id": "s1", "status": "unknown"})
	assert.False(t, outcome.OK)
	assert.NotEmpty(t, outcome.DataMessages)

	outcome = s.ValidateNode("Patient", map[string]string{"patient_id": "p1", "extra_unknown": "x"})
	assert.True(t, outcome.OK)
	assert.True(t, outcome.Warning)
}

func TestIndexes_IncludesIDFieldFallback(t *testing.T) {
	s := testSchema(t)
	idx := s.Indexes()

	found := map[string]bool{}
	for _, i := range idx {
		found[i.Kind] = true
	}
	assert.True(t, found["Patient"])
	assert.True(t, found["Sample"], "Sample has no explicit index but its id field should get one")
}
