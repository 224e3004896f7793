// Package schema implements the Schema Model: the in-memory representation
// of the external YAML documents that describe node kinds, their
// properties, and the relationships between them.
package schema

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ccdi-dataloader/graphload/internal/errors"
)

// PropType is the declared type of a schema property.
type PropType string

const (
	PropTypeString   PropType = "String"
	PropTypeInt      PropType = "Int"
	PropTypeFloat    PropType = "Float"
	PropTypeBoolean  PropType = "Boolean"
	PropTypeDate     PropType = "Date"
	PropTypeDateTime PropType = "DateTime"
	PropTypeArray    PropType = "Array"
	PropTypeObject   PropType = "Object"
)

// PropertyDescriptor describes one property of a node kind.
type PropertyDescriptor struct {
	Type     PropType `yaml:"type"`
	Required bool     `yaml:"required"`
	Enum     []string `yaml:"enum,omitempty"`
	Min      *float64 `yaml:"min,omitempty"`
	Max      *float64 `yaml:"max,omitempty"`
	Unit     string   `yaml:"unit,omitempty"`
}

// NodeDescriptor describes one node kind and its properties.
type NodeDescriptor struct {
	Name       string
	Properties map[string]PropertyDescriptor `yaml:"properties"`
}

// Multiplicity mirrors graph.Multiplicity without importing the graph
// package, keeping the Schema Model free of write-path concerns.
type Multiplicity string

const (
	MultiplicityOneToOne   Multiplicity = "one-to-one"
	MultiplicityOneToMany  Multiplicity = "one-to-many"
	MultiplicityManyToOne  Multiplicity = "many-to-one"
	MultiplicityManyToMany Multiplicity = "many-to-many"
)

// RelationshipDescriptor describes one declared edge type.
type RelationshipDescriptor struct {
	Source       string                        `yaml:"source"`
	Label        string                        `yaml:"label"`
	Target       string                        `yaml:"target"`
	Multiplicity Multiplicity                  `yaml:"multiplicity"`
	Properties   map[string]PropertyDescriptor `yaml:"properties,omitempty"`
}

// modelDocument is the YAML shape of the node/relationship model document.
type modelDocument struct {
	Nodes         map[string]NodeDescriptor `yaml:"nodes"`
	Relationships []RelationshipDescriptor  `yaml:"relationships"`
}

// propertiesDocument is the YAML shape of the properties document.
type propertiesDocument struct {
	IDFields              map[string]string   `yaml:"id_fields"`
	Indexes               []IndexSpec         `yaml:"indexes"`
	SaveParentID          []string            `yaml:"save_parent_id"`
	RelationshipDelimiter string              `yaml:"relationship_delimiter"`
	ListDelimiter         string              `yaml:"list_delimiter"`
}

// IndexSpec declares one BTREE index to maintain.
type IndexSpec struct {
	Kind       string   `yaml:"kind"`
	Properties []string `yaml:"properties"`
}

// ValidationOutcome is the result of validating one raw record against the
// schema; OK is false if any fatal message was recorded.
type ValidationOutcome struct {
	OK           bool
	Warning      bool
	Messages     []string
	DataMessages []string
	RelMessages  []string
}

// namespaceForKind derives a stable namespace UUID for a node kind so that
// UUIDv5(namespace, signature) is deterministic across runs without needing
// to persist a namespace table.
var rootNamespace = uuid.MustParse("6b1f2f1a-39d8-4b8d-9f0a-2e6c7a5d9b1e")

func namespaceForKind(kind string) uuid.UUID {
	return uuid.NewSHA1(rootNamespace, []byte(kind))
}

// Schema is the resolved, immutable schema model built from one or more
// YAML documents. It is safe for concurrent read access: nothing here is
// mutated after Load returns.
type Schema struct {
	nodes         map[string]NodeDescriptor
	relationships map[string]RelationshipDescriptor // keyed by source+"->"+label+"->"+target
	byLabel       map[string][]RelationshipDescriptor
	idFields      map[string]string
	indexes       []IndexSpec
	saveParentID  map[string]bool
	relDelimiter  string
	listDelimiter string
}

// Load parses the model document and the properties document (in that
// order; later documents override earlier ones for the same keys) and
// builds a resolved Schema.
func Load(modelPaths []string, propertiesPath string) (*Schema, error) {
	s := &Schema{
		nodes:         make(map[string]NodeDescriptor),
		relationships: make(map[string]RelationshipDescriptor),
		byLabel:       make(map[string][]RelationshipDescriptor),
		idFields:      make(map[string]string),
		saveParentID:  make(map[string]bool),
		relDelimiter:  "$",
		listDelimiter: ";",
	}

	for _, path := range modelPaths {
		doc, err := readModelDocument(path)
		if err != nil {
			return nil, errors.FileSystemError(err, fmt.Sprintf("failed to read schema model file %s", path))
		}
		for name, node := range doc.Nodes {
			node.Name = name
			s.nodes[name] = node
		}
		for _, rel := range doc.Relationships {
			key := relationshipKey(rel.Source, rel.Label, rel.Target)
			s.relationships[key] = rel
			s.byLabel[rel.Label] = append(s.byLabel[rel.Label], rel)
		}
	}

	if propertiesPath != "" {
		props, err := readPropertiesDocument(propertiesPath)
		if err != nil {
			return nil, errors.FileSystemError(err, fmt.Sprintf("failed to read properties file %s", propertiesPath))
		}
		for kind, field := range props.IDFields {
			s.idFields[kind] = field
		}
		s.indexes = props.Indexes
		for _, kind := range props.SaveParentID {
			s.saveParentID[kind] = true
		}
		if props.RelationshipDelimiter != "" {
			s.relDelimiter = props.RelationshipDelimiter
		}
		if props.ListDelimiter != "" {
			s.listDelimiter = props.ListDelimiter
		}
	}

	if len(s.nodes) == 0 {
		return nil, errors.ConfigError("schema model defines no node kinds")
	}

	return s, nil
}

func relationshipKey(source, label, target string) string {
	return source + "->" + label + "->" + target
}

func readModelDocument(path string) (*modelDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	merged := &modelDocument{Nodes: make(map[string]NodeDescriptor)}

	for {
		var doc modelDocument
		if err := dec.Decode(&doc); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		for name, node := range doc.Nodes {
			node.Name = name
			merged.Nodes[name] = node
		}
		merged.Relationships = append(merged.Relationships, doc.Relationships...)
	}

	return merged, nil
}

func readPropertiesDocument(path string) (*propertiesDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	merged := &propertiesDocument{IDFields: make(map[string]string)}

	for {
		var doc propertiesDocument
		if err := dec.Decode(&doc); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		for kind, field := range doc.IDFields {
			merged.IDFields[kind] = field
		}
		if len(doc.Indexes) > 0 {
			merged.Indexes = doc.Indexes
		}
		if len(doc.SaveParentID) > 0 {
			merged.SaveParentID = doc.SaveParentID
		}
		if doc.RelationshipDelimiter != "" {
			merged.RelationshipDelimiter = doc.RelationshipDelimiter
		}
		if doc.ListDelimiter != "" {
			merged.ListDelimiter = doc.ListDelimiter
		}
	}

	return merged, nil
}

// GetPropType returns the declared type of (kind, prop).
func (s *Schema) GetPropType(kind, prop string) (PropType, bool) {
	node, ok := s.nodes[kind]
	if !ok {
		return "", false
	}
	desc, ok := node.Properties[prop]
	if !ok {
		return "", false
	}
	return desc.Type, true
}

// GetPropDescriptor returns the full descriptor for (kind, prop).
func (s *Schema) GetPropDescriptor(kind, prop string) (PropertyDescriptor, bool) {
	node, ok := s.nodes[kind]
	if !ok {
		return PropertyDescriptor{}, false
	}
	desc, ok := node.Properties[prop]
	return desc, ok
}

// GetPropsForNode returns the declared own-property names of a node kind.
func (s *Schema) GetPropsForNode(kind string) []string {
	node, ok := s.nodes[kind]
	if !ok {
		return nil
	}
	props := make([]string, 0, len(node.Properties))
	for name := range node.Properties {
		props = append(props, name)
	}
	return props
}

// HasNodeKind reports whether kind is a declared node kind.
func (s *Schema) HasNodeKind(kind string) bool {
	_, ok := s.nodes[kind]
	return ok
}

// GetRelationship returns the relationship declared from src to dst, if any
// (there may be more than one edge label between the same pair; callers
// that need a specific label should use GetRelationshipByLabel).
func (s *Schema) GetRelationship(src, dst string) (*RelationshipDescriptor, bool) {
	for key, rel := range s.relationships {
		if strings.HasPrefix(key, src+"->") && rel.Target == dst {
			r := rel
			return &r, true
		}
	}
	return nil, false
}

// GetRelationshipByLabel returns the declared relationship for a specific
// (src, label, dst) triple.
func (s *Schema) GetRelationshipByLabel(src, label, dst string) (*RelationshipDescriptor, bool) {
	rel, ok := s.relationships[relationshipKey(src, label, dst)]
	if !ok {
		return nil, false
	}
	return &rel, true
}

// GetRelationshipsByLabel returns every declared relationship with the
// given edge label, regardless of source/target kind.
func (s *Schema) GetRelationshipsByLabel(label string) []RelationshipDescriptor {
	return s.byLabel[label]
}

// GetIDField returns the declared id property name for kind.
func (s *Schema) GetIDField(kind string) string {
	if field, ok := s.idFields[kind]; ok {
		return field
	}
	return "id"
}

// GetID extracts the id value for kind from a raw record.
func (s *Schema) GetID(kind string, record map[string]string) (string, bool) {
	field := s.GetIDField(kind)
	value, ok := record[field]
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return strings.TrimSpace(value), true
}

// IsRelationshipProperty reports whether column names an edge-property
// column: it contains the configured delimiter and the prefix names a known
// edge label.
func (s *Schema) IsRelationshipProperty(column string) (edgeLabel, propName string, ok bool) {
	idx := strings.Index(column, s.relDelimiter)
	if idx < 0 {
		return "", "", false
	}
	label := column[:idx]
	prop := column[idx+len(s.relDelimiter):]
	if _, known := s.byLabel[label]; !known {
		return "", "", false
	}
	return label, prop, true
}

// IsParentPointer reports whether column names a parent-pointer column
// (`parent_kind.parent_id_field`), and returns the parent kind and field.
func (s *Schema) IsParentPointer(column string) (parentKind, parentIDField string, ok bool) {
	idx := strings.LastIndex(column, ".")
	if idx < 0 {
		return "", "", false
	}
	kind := column[:idx]
	field := column[idx+1:]
	if !s.HasNodeKind(kind) {
		return "", "", false
	}
	if s.GetIDField(kind) != field {
		return "", "", false
	}
	return kind, field, true
}

// ShouldSaveParentID reports whether kind copies parent ids inline onto the
// child node as an extra scalar property.
func (s *Schema) ShouldSaveParentID(kind string) bool {
	return s.saveParentID[kind]
}

// RelationshipDelimiter returns the configured edge-property delimiter.
func (s *Schema) RelationshipDelimiter() string { return s.relDelimiter }

// ListDelimiter returns the configured array-value delimiter.
func (s *Schema) ListDelimiter() string { return s.listDelimiter }

// Indexes returns the declared BTREE indexes, plus one implicit index per
// kind's own id field.
func (s *Schema) Indexes() []IndexSpec {
	seen := make(map[string]bool, len(s.indexes))
	all := make([]IndexSpec, 0, len(s.indexes)+len(s.idFields))
	for _, idx := range s.indexes {
		all = append(all, idx)
		seen[idx.Kind] = true
	}
	for kind, field := range s.idFields {
		if seen[kind] {
			continue
		}
		all = append(all, IndexSpec{Kind: kind, Properties: []string{field}})
	}
	return all
}

// GetExtraProps derives sibling properties implied by a property's unit
// (e.g. a "weight" property with unit "kg" generates a sibling
// "weight_unit" property carrying the literal unit string).
func (s *Schema) GetExtraProps(kind, prop, value string) map[string]string {
	desc, ok := s.GetPropDescriptor(kind, prop)
	if !ok || desc.Unit == "" {
		return nil
	}
	return map[string]string{prop + "_unit": desc.Unit}
}

// GetUUIDForNode derives a UUIDv5 for a node kind and signature string, in a
// namespace scoped to that kind so identical signatures under different
// kinds never collide.
func (s *Schema) GetUUIDForNode(kind, signature string) uuid.UUID {
	return uuid.NewSHA1(namespaceForKind(kind), []byte(signature))
}

// CanonicalSignature builds the canonicalized own-property signature string
// for a set of own properties: keys sorted, formatted "{ k1: v1, k2: v2 }".
func CanonicalSignature(props map[string]string) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sortStrings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, props[k]))
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
