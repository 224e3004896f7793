package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidateNode enforces: required fields present, each value parseable as
// its declared type, enum values within the allowed set, numeric bounds,
// and that any parent-pointer column refers to a declared relationship.
// Warnings are produced for non-fatal issues such as an unknown,
// non-required property.
func (s *Schema) ValidateNode(kind string, record map[string]string) ValidationOutcome {
	outcome := ValidationOutcome{OK: true}

	node, ok := s.nodes[kind]
	if !ok {
		outcome.OK = false
		outcome.Messages = append(outcome.Messages, fmt.Sprintf("unknown node kind %q", kind))
		return outcome
	}

	for name, desc := range node.Properties {
		value, present := record[name]
		if desc.Required && (!present || strings.TrimSpace(value) == "") {
			outcome.OK = false
			outcome.Messages = append(outcome.Messages, fmt.Sprintf("missing required property %q", name))
			continue
		}
		if !present || strings.TrimSpace(value) == "" {
			continue
		}
		if msg := validateType(desc, value); msg != "" {
			outcome.OK = false
			outcome.DataMessages = append(outcome.DataMessages, fmt.Sprintf("%s: %s", name, msg))
		}
		if len(desc.Enum) > 0 && !contains(desc.Enum, value) {
			outcome.OK = false
			outcome.DataMessages = append(outcome.DataMessages, fmt.Sprintf("%s: value %q not in enum %v", name, value, desc.Enum))
		}
	}

	for column := range record {
		if column == "type" {
			continue
		}
		if _, known := node.Properties[column]; known {
			continue
		}
		if parentKind, _, ok := s.IsParentPointer(column); ok {
			if _, known := s.GetRelationship(kind, parentKind); !known {
				if _, known := s.GetRelationship(parentKind, kind); !known {
					outcome.OK = false
					outcome.RelMessages = append(outcome.RelMessages,
						fmt.Sprintf("column %q references undeclared relationship to %q", column, parentKind))
				}
			}
			continue
		}
		if label, _, ok := s.IsRelationshipProperty(column); ok {
			_ = label
			continue
		}
		outcome.Warning = true
		outcome.Messages = append(outcome.Messages, fmt.Sprintf("unknown property column %q", column))
	}

	return outcome
}

func validateType(desc PropertyDescriptor, value string) string {
	switch desc.Type {
	case PropTypeInt:
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return fmt.Sprintf("%q is not a valid integer", value)
		}
		return checkBounds(desc, float64(n))
	case PropTypeFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Sprintf("%q is not a valid float", value)
		}
		return checkBounds(desc, f)
	case PropTypeBoolean:
		v := strings.ToLower(strings.TrimSpace(value))
		if v != "yes" && v != "true" && v != "no" && v != "false" {
			return fmt.Sprintf("%q is not a valid boolean", value)
		}
	}
	return ""
}

func checkBounds(desc PropertyDescriptor, v float64) string {
	if desc.Min != nil && v < *desc.Min {
		return fmt.Sprintf("%v is below minimum %v", v, *desc.Min)
	}
	if desc.Max != nil && v > *desc.Max {
		return fmt.Sprintf("%v is above maximum %v", v, *desc.Max)
	}
	return ""
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
