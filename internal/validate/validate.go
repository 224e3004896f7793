package validate

import (
	"fmt"
	"strings"

	"github.com/ccdi-dataloader/graphload/internal/errors"
	"github.com/ccdi-dataloader/graphload/internal/prepare"
	"github.com/ccdi-dataloader/graphload/internal/schema"
)

// Reason is one of the closed set of validation-log reasons.
type Reason string

const (
	ReasonMissingID             Reason = "MISSING_ID"
	ReasonMissingIDField        Reason = "MISSING_ID_FIELD"
	ReasonDuplicateID           Reason = "DUPLICATE_ID"
	ReasonDuplicateData         Reason = "DUPLICATE_DATA"
	ReasonInvalidData           Reason = "INVALID_DATA"
	ReasonInvalidRelationship   Reason = "INVALID_RELATIONSHIP"
	ReasonNodeExists            Reason = "NODE_EXISTS"
	ReasonRelationshipExists    Reason = "RELATIONSHIP_EXISTS"
	ReasonUndefinedRelationship Reason = "UNDEFINED_RELATIONSHIP"
)

// Violation is one record in the validation log.
type Violation struct {
	Filename        string
	LineNumbers     []int
	OffendingColumn string
	OffendingValue  string
	Reason          Reason
	Fatal           bool
}

// FileResult is the outcome of validating one input file.
type FileResult struct {
	Filename   string
	Kind       string
	Violations []Violation
	Passed     bool
	RowCount   int
}

type seenRow struct {
	signature string
	firstLine int
}

// ValidateFile reads one tab-separated file, checks its header against the
// schema, prepares every row without writing, and detects duplicate ids.
// The node kind is read from the mandatory `type` column of the first data
// row, the same way every row's kind is resolved.
// Validation short-circuits with failure once the error count for this
// file exceeds maxViolations.
func ValidateFile(s *schema.Schema, path string, maxViolations int) (FileResult, error) {
	scanner, closeFn, err := openTabSeparated(path)
	if err != nil {
		return FileResult{}, errors.FileSystemError(err, fmt.Sprintf("failed to open %s", path))
	}
	defer closeFn()

	result := FileResult{Filename: path, Passed: true}

	if !scanner.Scan() {
		result.Passed = false
		result.Violations = append(result.Violations, Violation{
			Filename: path, Reason: ReasonMissingID, Fatal: true,
			OffendingValue: "file is empty",
		})
		return result, nil
	}
	header := strings.Split(scanner.Text(), "\t")

	seen := make(map[string]*seenRow)
	errorCount := 0
	lineNum := 1
	kind := ""

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		result.RowCount++

		record := recordFromLine(header, line)

		if kind == "" {
			kind = strings.TrimSpace(record["type"])
			if kind == "" || !s.HasNodeKind(kind) {
				result.Passed = false
				result.Violations = append(result.Violations, Violation{
					Filename: path, LineNumbers: []int{lineNum}, OffendingColumn: "type",
					OffendingValue: kind, Reason: ReasonInvalidData, Fatal: true,
				})
				return result, nil
			}
			result.Kind = kind

			if violations := validateHeader(s, kind, path, header); len(violations) > 0 {
				result.Violations = append(result.Violations, violations...)
				for _, v := range violations {
					if v.Fatal {
						result.Passed = false
					}
				}
			}
			if !result.Passed {
				return result, nil
			}
		}

		id, ok := s.GetID(kind, record)
		if !ok {
			result.Violations = append(result.Violations, Violation{
				Filename: path, LineNumbers: []int{lineNum},
				OffendingColumn: s.GetIDField(kind), Reason: ReasonMissingID, Fatal: true,
			})
			errorCount++
			if errorCount > maxViolations {
				result.Passed = false
				return result, nil
			}
			continue
		}

		ownProps := ownPropertySignature(s, kind, record)
		if existing, dup := seen[id]; dup {
			if existing.signature == ownProps {
				result.Violations = append(result.Violations, Violation{
					Filename: path, LineNumbers: []int{existing.firstLine, lineNum},
					OffendingColumn: s.GetIDField(kind), OffendingValue: id,
					Reason: ReasonDuplicateData,
				})
			} else {
				result.Violations = append(result.Violations, Violation{
					Filename: path, LineNumbers: []int{existing.firstLine, lineNum},
					OffendingColumn: s.GetIDField(kind), OffendingValue: id,
					Reason: ReasonDuplicateID, Fatal: true,
				})
				errorCount++
			}
		} else {
			seen[id] = &seenRow{signature: ownProps, firstLine: lineNum}
		}

		outcome := s.ValidateNode(kind, record)
		for _, msg := range outcome.DataMessages {
			result.Violations = append(result.Violations, Violation{
				Filename: path, LineNumbers: []int{lineNum}, Reason: ReasonInvalidData,
				OffendingValue: msg, Fatal: true,
			})
			errorCount++
		}
		for _, msg := range outcome.RelMessages {
			result.Violations = append(result.Violations, Violation{
				Filename: path, LineNumbers: []int{lineNum}, Reason: ReasonUndefinedRelationship,
				OffendingValue: msg, Fatal: true,
			})
			errorCount++
		}

		if _, err := prepare.Prepare(s, kind, record); err != nil {
			result.Violations = append(result.Violations, Violation{
				Filename: path, LineNumbers: []int{lineNum}, Reason: ReasonInvalidData,
				OffendingValue: err.Error(), Fatal: true,
			})
			errorCount++
		}

		if errorCount > maxViolations {
			result.Passed = false
			return result, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return result, errors.FileSystemError(err, fmt.Sprintf("failed reading %s", path))
	}

	for _, v := range result.Violations {
		if v.Fatal {
			result.Passed = false
			break
		}
	}

	return result, nil
}

func validateHeader(s *schema.Schema, kind, path string, header []string) []Violation {
	var violations []Violation
	for _, column := range header {
		column = strings.TrimSpace(column)
		if column == "" || column == "type" {
			continue
		}
		if parentKind, _, ok := s.IsParentPointer(column); ok {
			if _, known := s.GetRelationship(kind, parentKind); known {
				continue
			}
			if _, known := s.GetRelationship(parentKind, kind); known {
				continue
			}
			violations = append(violations, Violation{
				Filename: path, OffendingColumn: column, Reason: ReasonInvalidRelationship, Fatal: true,
			})
			continue
		}
		if _, _, ok := s.IsRelationshipProperty(column); ok {
			continue
		}
		if strings.Contains(column, ".") {
			// Shaped like a parent pointer (parent_kind.parent_id_field) but
			// the parent kind is undeclared or the field isn't its id field:
			// always fatal, never a plain unknown-property warning.
			violations = append(violations, Violation{
				Filename: path, OffendingColumn: column, Reason: ReasonInvalidRelationship, Fatal: true,
			})
			continue
		}
		if _, known := s.GetPropDescriptor(kind, column); known {
			continue
		}
		violations = append(violations, Violation{
			Filename: path, OffendingColumn: column, Reason: ReasonInvalidData, Fatal: false,
		})
	}
	return violations
}

func recordFromLine(header []string, line string) map[string]string {
	values := strings.Split(line, "\t")
	record := make(map[string]string, len(header))
	for i, column := range header {
		if i < len(values) {
			record[strings.TrimSpace(column)] = strings.TrimSpace(values[i])
		} else {
			record[strings.TrimSpace(column)] = ""
		}
	}
	return record
}

func ownPropertySignature(s *schema.Schema, kind string, record map[string]string) string {
	own := make(map[string]string)
	for column, value := range record {
		if column == "type" {
			continue
		}
		if _, _, ok := s.IsParentPointer(column); ok {
			continue
		}
		if _, _, ok := s.IsRelationshipProperty(column); ok {
			continue
		}
		own[column] = value
	}
	return schema.CanonicalSignature(own)
}
