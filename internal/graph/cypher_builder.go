package graph

import (
	"fmt"
	"regexp"
	"strings"
)

// CypherBuilder builds safe, parameterized Cypher queries.
// Security: prevents Cypher injection by using parameters for ALL values;
// labels, relationship types, and property keys are validated identifiers,
// never interpolated user input.
type CypherBuilder struct {
	params  map[string]any
	counter int
}

// NewCypherBuilder creates a query builder.
func NewCypherBuilder() *CypherBuilder {
	return &CypherBuilder{
		params: make(map[string]any),
	}
}

// AddParam adds a parameter and returns its placeholder.
func (b *CypherBuilder) AddParam(value any) string {
	paramName := fmt.Sprintf("p%d", b.counter)
	b.counter++
	b.params[paramName] = value
	return "$" + paramName
}

// Params returns all parameters for the query.
func (b *CypherBuilder) Params() map[string]any {
	return b.params
}

func setClauseFor(varName string, properties map[string]any, add func(any) string) (string, error) {
	clauses := make([]string, 0, len(properties))
	for key, value := range properties {
		if !isValidIdentifier(key) {
			return "", fmt.Errorf("invalid property key: %s (must be alphanumeric + underscore)", key)
		}
		clauses = append(clauses, fmt.Sprintf("%s.%s = %s", varName, key, add(value)))
	}
	return strings.Join(clauses, ", "), nil
}

// BuildNodeExists checks for an existing node by identity.
func (b *CypherBuilder) BuildNodeExists(label, idField string, idValue any) (string, error) {
	if !isValidIdentifier(label) || !isValidIdentifier(idField) {
		return "", fmt.Errorf("invalid label or id field")
	}
	idParam := b.AddParam(idValue)
	return fmt.Sprintf("MATCH (n:%s {%s: %s}) RETURN count(n) as count", label, idField, idParam), nil
}

// BuildUpsertEdge creates a safe MERGE query for edge creation, with
// created/updated bookkeeping identical to node upsert.
func (b *CypherBuilder) BuildUpsertEdge(
	fromLabel, fromKey string, fromValue any,
	toLabel, toKey string, toValue any,
	edgeLabel string,
	properties map[string]any,
) (string, error) {
	if !isValidIdentifier(fromLabel) {
		return "", fmt.Errorf("invalid from label: %s", fromLabel)
	}
	if !isValidIdentifier(fromKey) {
		return "", fmt.Errorf("invalid from key: %s", fromKey)
	}
	if !isValidIdentifier(toLabel) {
		return "", fmt.Errorf("invalid to label: %s", toLabel)
	}
	if !isValidIdentifier(toKey) {
		return "", fmt.Errorf("invalid to key: %s", toKey)
	}
	if !isValidIdentifier(edgeLabel) {
		return "", fmt.Errorf("invalid edge label: %s", edgeLabel)
	}

	fromParam := b.AddParam(fromValue)
	toParam := b.AddParam(toValue)

	onCreate, err := setClauseFor("r", properties, b.AddParam)
	if err != nil {
		return "", err
	}
	onMatch, err := setClauseFor("r", properties, b.AddParam)
	if err != nil {
		return "", err
	}

	query := fmt.Sprintf(
		"MATCH (from:%s {%s: %s}) MATCH (to:%s {%s: %s}) MERGE (from)-[r:%s]->(to)\n",
		fromLabel, fromKey, fromParam,
		toLabel, toKey, toParam,
		edgeLabel,
	)
	query += "ON CREATE SET r.created = datetime()"
	if onCreate != "" {
		query += ", " + onCreate
	}
	query += "\nON MATCH SET r.updated = datetime()"
	if onMatch != "" {
		query += ", " + onMatch
	}
	query += "\nRETURN from, to"
	return query, nil
}

// BuildExistingParentEdges finds the edge of a given label already linking a
// child to its current parent, used to enforce one-to-one / many-to-one
// multiplicity. Edges run child->parent throughout this engine, so the
// child is the relationship's source and the parent its (unbound) target.
func (b *CypherBuilder) BuildExistingParentEdges(childLabel, childKey string, childValue any, edgeLabel string) (string, error) {
	if !isValidIdentifier(childLabel) || !isValidIdentifier(childKey) || !isValidIdentifier(edgeLabel) {
		return "", fmt.Errorf("invalid identifier in existing-parent-edges query")
	}
	childParam := b.AddParam(childValue)
	return fmt.Sprintf(
		"MATCH (child:%s {%s: %s})-[r:%s]->(parent) RETURN id(r) as rel_id, id(parent) as parent_id",
		childLabel, childKey, childParam, edgeLabel,
	), nil
}

// BuildDeleteEdge removes a single relationship by its internal id.
func (b *CypherBuilder) BuildDeleteEdge(relID int64) string {
	param := b.AddParam(relID)
	return fmt.Sprintf("MATCH ()-[r]->() WHERE id(r) = %s DELETE r", param)
}

// BuildSingleParentChildrenByID finds children of a node (identified by its
// internal id) that have exactly one outgoing relationship of any type.
// Edges run child->parent throughout this engine, so a child of n is a node
// c with an edge pointing at n, and n is its only parent when c has exactly
// one outgoing edge of its own.
func (b *CypherBuilder) BuildSingleParentChildrenByID(internalID int64) string {
	param := b.AddParam(internalID)
	return fmt.Sprintf(
		`MATCH (c)-[]->(n) WHERE id(n) = %s AND size((c)-->()) = 1
RETURN DISTINCT id(c) as child_id`, param)
}

// BuildDetachDeleteByID detach-deletes a node identified by its internal id.
func (b *CypherBuilder) BuildDetachDeleteByID(internalID int64) string {
	param := b.AddParam(internalID)
	return fmt.Sprintf("MATCH (n) WHERE id(n) = %s DETACH DELETE n", param)
}

// BuildNodeInternalID resolves the internal Neo4j id for a node by its
// declared identity, the starting point for delete cascade.
func (b *CypherBuilder) BuildNodeInternalID(label, idField string, idValue any) (string, error) {
	if !isValidIdentifier(label) || !isValidIdentifier(idField) {
		return "", fmt.Errorf("invalid label or id field")
	}
	param := b.AddParam(idValue)
	return fmt.Sprintf("MATCH (n:%s {%s: %s}) RETURN id(n) as internal_id", label, idField, param), nil
}

// BuildWipeBatch detach-deletes up to limit nodes, used for batched
// wipe_db in split-transaction mode.
func (b *CypherBuilder) BuildWipeBatch(limit int) string {
	param := b.AddParam(limit)
	return fmt.Sprintf("MATCH (n) WITH n LIMIT %s DETACH DELETE n RETURN count(n) as deleted", param)
}

// BuildShowIndexes lists existing indexes so the writer can check before creating one.
func (b *CypherBuilder) BuildShowIndexes() string {
	return "SHOW INDEXES YIELD labelsOrTypes, properties, type WHERE type = 'BTREE' RETURN labelsOrTypes, properties"
}

// BuildCreateIndex creates a BTREE index if one does not already exist.
func (b *CypherBuilder) BuildCreateIndex(indexName, label string, properties []string) (string, error) {
	if !isValidIdentifier(indexName) || !isValidIdentifier(label) {
		return "", fmt.Errorf("invalid index name or label")
	}
	props := make([]string, len(properties))
	for i, p := range properties {
		if !isValidIdentifier(p) {
			return "", fmt.Errorf("invalid index property: %s", p)
		}
		props[i] = "n." + p
	}
	return fmt.Sprintf("CREATE INDEX %s IF NOT EXISTS FOR (n:%s) ON (%s)",
		indexName, label, strings.Join(props, ", ")), nil
}

// isValidIdentifier validates that a string can be safely used as a Cypher
// identifier: only alphanumeric characters and underscores.
// Reference: https://neo4j.com/docs/cypher-manual/current/syntax/naming/
func isValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	matched, _ := regexp.MatchString(`^[a-zA-Z_][a-zA-Z0-9_]*$`, s)
	return matched
}
