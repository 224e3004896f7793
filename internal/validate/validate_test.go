package validate

import (
	"bytes"
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
`
	modelPath := filepath.Join(dir, "model.yaml")
	propsPath := filepath.Join(dir, "properties.yaml")
	require.NoError(t, os.WriteFile(modelPath, []byte(model), 0644))
	require.NoError(t, os.WriteFile(propsPath, []byte(properties), 0644))

	s, err := schema.Load([]string{modelPath}, propsPath)
	require.NoError(t, err)
	return s
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestValidateFile_PassesCleanFile(t *testing.T) {
	s := testSchema(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "patients.tsv", "type\tpatient_id\tage\nPatient\tp1\t45\nPatient\tp2\t50\n")

	result, err := ValidateFile(s, path, 100)
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, "Patient", result.Kind)
	assert.Equal(t, 2, result.RowCount)
	assert.Empty(t, result.Violations)
}

func TestValidateFile_MissingIDIsFatal(t *testing.T) {
	s := testSchema(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "patients.tsv", "type\tpatient_id\tage\nPatient\t\t45\n")

	result, err := ValidateFile(s, path, 100)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	require.NotEmpty(t, result.Violations)
	assert.Equal(t, ReasonMissingID, result.Violations[0].Reason)
}

func TestValidateFile_DuplicateDataIsWarning(t *testing.T) {
	s := testSchema(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "patients.tsv", "type\tpatient_id\tage\nPatient\tp1\t45\nPatient\tp1\t45\n")

	result, err := ValidateFile(s, path, 100)
	require.NoError(t, err)
	assert.True(t, result.Passed)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, ReasonDuplicateData, result.Violations[0].Reason)
	assert.False(t, result.Violations[0].Fatal)
}

func TestValidateFile_DuplicateIDIsFatal(t *testing.T) {
	s := testSchema(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "patients.tsv", "type\tpatient_id\tage\nPatient\tp1\t45\nPatient\tp1\t60\n")

	result, err := ValidateFile(s, path, 100)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, ReasonDuplicateID, result.Violations[0].Reason)
	assert.True(t, result.Violations[0].Fatal)
}

func TestValidateFile_InvalidTypeIsFatal(t *testing.T) {
	s := testSchema(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "patients.tsv", "type\tpatient_id\tage\nPatient\tp1\tnot-a-number\n")

	result, err := ValidateFile(s, path, 100)
	require.NoError(t, err)
	assert.False(t, result.Passed)

	var found bool
	for _, v := range result.Violations {
		if v.Reason == ReasonInvalidData {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateFile_UnknownParentPointerIsFatal(t *testing.T) {
	s := testSchema(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "samples.tsv", "type\tsample_id\tUnknown.id\nSample\ts1\tx\n")

	result, err := ValidateFile(s, path, 100)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	require.NotEmpty(t, result.Violations)
	assert.Equal(t, ReasonInvalidRelationship, result.Violations[0].Reason)
}

func TestValidateFile_MaxViolationsShortCircuits(t *testing.T) {
	s := testSchema(t)
	dir := t.TempDir()
	content := "type\tpatient_id\tage\nPatient\t\t1\nPatient\t\t2\nPatient\t\t3\nPatient\t\t4\n"
	path := writeFile(t, dir, "patients.tsv", content)

	result, err := ValidateFile(s, path, 1)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.LessOrEqual(t, len(result.Violations), 3)
}

func TestWriteLog_RendersBannerAndRows(t *testing.T) {
	report := Report{
		DataModelVersion: "v1",
		Files: []FileResult{
			{
				Filename: "patients.tsv",
				Violations: []Violation{
					{Filename: "patients.tsv", LineNumbers: []int{2}, OffendingColumn: "patient_id", Reason: ReasonMissingID},
				},
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteLog(&buf, report))

	out := buf.String()
	assert.Contains(t, out, "Data model version: v1")
	assert.Contains(t, out, "patients.tsv")
	assert.Contains(t, out, "Filename\tLineNumber\tOffendingColumn\tOffendingValue\tOffendingReason")
	assert.Contains(t, out, "MISSING_ID")
}
