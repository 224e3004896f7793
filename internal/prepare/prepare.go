// Package prepare implements the Row Preparer: turning a raw tab-separated
// record into a PreparedNode carrying coerced values, injected parent
// pointers, derived extra properties, and a stable identity.
package prepare

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ccdi-dataloader/graphload/internal/schema"
)

// ParentPointer is one resolved parent reference carried by a PreparedNode.
type ParentPointer struct {
	ParentKind    string
	ParentIDField string
	ParentIDValue string
	EdgeLabel     string
}

// PreparedNode is the output of preparing one raw record: a plain struct,
// not an interface, since the Schema Model supplies all the typing
// information needed to interpret it.
type PreparedNode struct {
	Kind              string
	ID                string
	Props             map[string]any
	ParentPointers    []ParentPointer
	RelationshipProps map[string]map[string]any // keyed by edge label
}

var canonicalDateFormats = []string{
	"2006-01-02",
	"01/02/2006",
	"2006/01/02",
	"Jan 2, 2006",
}

var canonicalDateTimeFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Prepare runs the fixed-order preparation pipeline over one raw record of
// the given kind.
func Prepare(s *schema.Schema, kind string, record map[string]string) (PreparedNode, error) {
	trimmed := trimRecord(record)

	node := PreparedNode{
		Kind:              kind,
		Props:             make(map[string]any),
		RelationshipProps: make(map[string]map[string]any),
	}

	ownProps := make(map[string]string)

	for column, value := range trimmed {
		if column == "type" {
			continue
		}

		if parentKind, parentField, ok := s.IsParentPointer(column); ok {
			if value == "" {
				continue
			}
			edgeLabel := edgeLabelFor(s, kind, parentKind)
			node.ParentPointers = append(node.ParentPointers, ParentPointer{
				ParentKind:    parentKind,
				ParentIDField: parentField,
				ParentIDValue: value,
				EdgeLabel:     edgeLabel,
			})

			if s.ShouldSaveParentID(kind) {
				propName := parentField
				if existing, ok := trimmed[parentField]; ok && existing != "" {
					propName = parentKind + "_" + parentField
				}
				node.Props[propName] = value
			}
			continue
		}

		if edgeLabel, prop, ok := s.IsRelationshipProperty(column); ok {
			if value == "" {
				continue
			}
			if node.RelationshipProps[edgeLabel] == nil {
				node.RelationshipProps[edgeLabel] = make(map[string]any)
			}
			node.RelationshipProps[edgeLabel][prop] = value
			continue
		}

		ownProps[column] = value

		desc, hasDesc := s.GetPropDescriptor(kind, column)
		coerced, err := coerce(desc, hasDesc, value, s.ListDelimiter())
		if err != nil {
			return PreparedNode{}, fmt.Errorf("column %q: %w", column, err)
		}
		if coerced != nil {
			node.Props[column] = coerced
		}

		for extraKey, extraVal := range s.GetExtraProps(kind, column, value) {
			node.Props[extraKey] = extraVal
		}
	}

	idField := s.GetIDField(kind)
	if explicitID, ok := trimmed[idField]; ok && explicitID != "" && strings.EqualFold(idField, "uuid") {
		node.ID = explicitID
	} else {
		signature := explicitID
		if signature == "" {
			signature = schema.CanonicalSignature(ownProps)
		}
		node.ID = s.GetUUIDForNode(kind, signature).String()
	}
	node.Props[idField] = node.ID

	return node, nil
}

func edgeLabelFor(s *schema.Schema, childKind, parentKind string) string {
	if rel, ok := s.GetRelationship(parentKind, childKind); ok {
		return rel.Label
	}
	if rel, ok := s.GetRelationship(childKind, parentKind); ok {
		return rel.Label
	}
	return ""
}

func trimRecord(record map[string]string) map[string]string {
	trimmed := make(map[string]string, len(record))
	for k, v := range record {
		key := strings.TrimSpace(k)
		if v == "" {
			trimmed[key] = v
			continue
		}
		trimmed[key] = strings.TrimSpace(v)
	}
	return trimmed
}

func coerce(desc schema.PropertyDescriptor, hasDesc bool, value string, listDelimiter string) (any, error) {
	if value == "" {
		return nil, nil
	}
	if !hasDesc {
		return value, nil
	}

	switch desc.Type {
	case schema.PropTypeBoolean:
		switch strings.ToLower(value) {
		case "yes", "true":
			return true, nil
		case "no", "false":
			return false, nil
		default:
			return nil, nil
		}
	case schema.PropTypeInt:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, nil
		}
		return n, nil
	case schema.PropTypeFloat:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, nil
		}
		return f, nil
	case schema.PropTypeDate:
		return canonicalizeTime(value, canonicalDateFormats, "2006-01-02"), nil
	case schema.PropTypeDateTime:
		return canonicalizeTime(value, canonicalDateTimeFormats, time.RFC3339), nil
	case schema.PropTypeArray:
		parts := strings.Split(value, listDelimiter)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		encoded, err := json.Marshal(parts)
		if err != nil {
			return nil, fmt.Errorf("failed to encode array value: %w", err)
		}
		return string(encoded), nil
	default:
		return value, nil
	}
}

func canonicalizeTime(value string, formats []string, outFormat string) any {
	for _, format := range formats {
		if t, err := time.Parse(format, value); err == nil {
			return t.Format(outFormat)
		}
	}
	return nil
}
