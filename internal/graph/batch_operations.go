package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// batchQueryTimeout bounds a single UNWIND batch write so a stalled
// connection can't hang a whole pass.
var batchQueryTimeout = GetConfigForOperation("batch_create").Timeout

// batchWriter handles schema-driven batch node and edge writes using the
// UNWIND pattern for the unconstrained case and a per-edge pass for
// multiplicity-constrained relationships.
//
// The UNWIND pattern is the efficient way to create many nodes of the same
// label in one round trip:
//
//	UNWIND $nodes AS node MERGE (n:Label {id: node.id}) SET n += node
//
// instead of one MERGE per node.
type batchWriter struct {
	driver   neo4j.DriverWithContext
	database string
	config   BatchConfig
	logger   *slog.Logger
}

func newBatchWriter(driver neo4j.DriverWithContext, database string, config BatchConfig) *batchWriter {
	return &batchWriter{
		driver:   driver,
		database: database,
		config:   config,
		logger:   slog.Default().With("component", "batch_writer"),
	}
}

type nodeGroupKey struct {
	label   string
	idField string
}

// createNodesBatch groups nodes by (label, idField) so each UNWIND batch can
// reference a static label and id property.
func (w *batchWriter) createNodesBatch(ctx context.Context, nodes []GraphNode, mode LoadMode) (WriteCounters, error) {
	counters := NewWriteCounters()
	if len(nodes) == 0 {
		return counters, nil
	}

	groups := make(map[nodeGroupKey][]GraphNode)
	for _, n := range nodes {
		key := nodeGroupKey{label: n.Label, idField: n.IDField}
		groups[key] = append(groups[key], n)
	}

	for key, group := range groups {
		if err := w.writeNodeGroup(ctx, key, group, mode, counters); err != nil {
			return counters, err
		}
	}

	return counters, nil
}

func (w *batchWriter) writeNodeGroup(ctx context.Context, key nodeGroupKey, nodes []GraphNode, mode LoadMode, counters WriteCounters) error {
	if !isValidIdentifier(key.label) || !isValidIdentifier(key.idField) {
		return fmt.Errorf("invalid label/id field for batch write: %s/%s", key.label, key.idField)
	}

	batchSize := w.config.NodeBatchSize
	for i := 0; i < len(nodes); i += batchSize {
		end := i + batchSize
		if end > len(nodes) {
			end = len(nodes)
		}
		batch := nodes[i:end]

		rows := make([]map[string]any, len(batch))
		for j, n := range batch {
			row := make(map[string]any, len(n.Properties)+1)
			for k, v := range n.Properties {
				row[k] = v
			}
			row[key.idField] = n.IDValue
			rows[j] = row
		}

		var query string
		switch mode {
		case LoadModeNew:
			query = fmt.Sprintf(`
				UNWIND $nodes AS node
				MERGE (n:%s {%s: node.%s})
				ON CREATE SET n = node, n.created = datetime(), n._graphload_created = true
				ON MATCH SET n._graphload_created = false
				RETURN node.%s as id, n._graphload_created as created
			`, key.label, key.idField, key.idField, key.idField)
		default: // LoadModeUpsert
			query = fmt.Sprintf(`
				UNWIND $nodes AS node
				MERGE (n:%s {%s: node.%s})
				ON CREATE SET n = node, n.created = datetime(), n._graphload_created = true
				ON MATCH SET n += node, n.updated = datetime(), n._graphload_created = false
				REMOVE n._graphload_created
				RETURN node.%s as id, n.created IS NOT NULL as created
			`, key.label, key.idField, key.idField, key.idField)
		}

		batchCtx, cancel := context.WithTimeout(ctx, batchQueryTimeout)
		result, err := neo4j.ExecuteQuery(batchCtx, w.driver, query,
			map[string]any{"nodes": rows},
			neo4j.EagerResultTransformer,
			neo4j.ExecuteQueryWithDatabase(w.database))
		cancel()
		if err != nil {
			return fmt.Errorf("batch write failed for %s (rows %d-%d): %w", key.label, i, end, err)
		}

		rejected := 0
		for _, record := range result.Records {
			created, _ := record.Get("created")
			if createdBool, ok := created.(bool); ok && createdBool {
				counters.Created[key.label]++
			} else {
				if mode == LoadModeNew {
					rejected++
					continue
				}
				counters.Updated[key.label]++
			}
		}

		if mode == LoadModeNew && rejected > 0 {
			return fmt.Errorf("%d %s node(s) already exist; rejected under insert-only mode", rejected, key.label)
		}
	}

	return nil
}

type edgeGroupKey struct {
	label       string
	fromLabel   string
	fromIDField string
	toLabel     string
	toIDField   string
}

// createEdgesBatch splits edges into multiplicity-unconstrained groups
// (batched via UNWIND) and constrained groups (one-to-one, many-to-one,
// processed edge by edge so the existing-parent check sees each write).
func (w *batchWriter) createEdgesBatch(ctx context.Context, edges []GraphEdge, mode LoadMode, strictOneToOne bool) (WriteCounters, error) {
	counters := NewWriteCounters()
	if len(edges) == 0 {
		return counters, nil
	}

	var unconstrained, constrained []GraphEdge
	for _, e := range edges {
		if e.Multiplicity == MultiplicityOneToOne || e.Multiplicity == MultiplicityManyToOne {
			constrained = append(constrained, e)
		} else {
			unconstrained = append(unconstrained, e)
		}
	}

	groups := make(map[edgeGroupKey][]GraphEdge)
	for _, e := range unconstrained {
		key := edgeGroupKey{
			label: e.Label, fromLabel: e.FromLabel, fromIDField: e.FromIDField,
			toLabel: e.ToLabel, toIDField: e.ToIDField,
		}
		groups[key] = append(groups[key], e)
	}

	for key, group := range groups {
		if err := w.writeEdgeGroup(ctx, key, group, counters); err != nil {
			return counters, err
		}
	}

	for _, e := range constrained {
		if err := w.writeConstrainedEdge(ctx, e, mode, strictOneToOne, counters); err != nil {
			return counters, err
		}
	}

	return counters, nil
}

func (w *batchWriter) writeEdgeGroup(ctx context.Context, key edgeGroupKey, edges []GraphEdge, counters WriteCounters) error {
	if !isValidIdentifier(key.label) || !isValidIdentifier(key.fromLabel) || !isValidIdentifier(key.toLabel) ||
		!isValidIdentifier(key.fromIDField) || !isValidIdentifier(key.toIDField) {
		return fmt.Errorf("invalid identifier in edge batch %+v", key)
	}

	batchSize := w.config.EdgeBatchSize
	for i := 0; i < len(edges); i += batchSize {
		end := i + batchSize
		if end > len(edges) {
			end = len(edges)
		}
		batch := edges[i:end]

		rows := make([]map[string]any, len(batch))
		for j, e := range batch {
			rows[j] = map[string]any{
				"from_id": e.FromIDValue,
				"to_id":   e.ToIDValue,
				"props":   e.Properties,
			}
		}

		query := fmt.Sprintf(`
			UNWIND $edges AS edge
			MATCH (from:%s {%s: edge.from_id})
			MATCH (to:%s {%s: edge.to_id})
			MERGE (from)-[r:%s]->(to)
			ON CREATE SET r = edge.props, r.created = datetime()
			ON MATCH SET r += edge.props, r.updated = datetime()
			RETURN count(r) as written
		`, key.fromLabel, key.fromIDField, key.toLabel, key.toIDField, key.label)

		batchCtx, cancel := context.WithTimeout(ctx, batchQueryTimeout)
		result, err := neo4j.ExecuteQuery(batchCtx, w.driver, query,
			map[string]any{"edges": rows},
			neo4j.EagerResultTransformer,
			neo4j.ExecuteQueryWithDatabase(w.database))
		cancel()
		if err != nil {
			return fmt.Errorf("batch edge write failed for %s (rows %d-%d): %w", key.label, i, end, err)
		}

		written := 0
		if len(result.Records) > 0 {
			if v, ok := result.Records[0].Get("written"); ok {
				if n, ok := v.(int64); ok {
					written = int(n)
				}
			}
		}
		if written < len(batch) {
			w.logger.Warn("some edges could not be written; parent or child node missing",
				"label", key.label, "expected", len(batch), "written", written)
		}
		counters.Created[key.label] += written
	}

	return nil
}

// writeConstrainedEdge enforces one-to-one/many-to-one multiplicity: when
// upserting, a previously linked different parent is replaced (old edge
// deleted, warning logged) unless strictOneToOne rejects the row outright.
func (w *batchWriter) writeConstrainedEdge(ctx context.Context, e GraphEdge, mode LoadMode, strictOneToOne bool, counters WriteCounters) error {
	session := w.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: w.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		builder := NewCypherBuilder()
		existingQuery, err := builder.BuildExistingParentEdges(e.FromLabel, e.FromIDField, e.FromIDValue, e.Label)
		if err != nil {
			return nil, err
		}
		result, err := tx.Run(ctx, existingQuery, builder.Params())
		if err != nil {
			return nil, fmt.Errorf("existing-parent lookup failed for %s: %w", e.Label, err)
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}

		if len(records) > 0 {
			if mode == LoadModeNew {
				return nil, fmt.Errorf("%s edge already exists for child %v under insert-only mode", e.Label, e.FromIDValue)
			}
			if strictOneToOne {
				return nil, fmt.Errorf("child %v already has a %s parent; rejected under strict one-to-one policy", e.FromIDValue, e.Label)
			}
			for _, rec := range records {
				relID, _ := rec.Get("rel_id")
				if id, ok := relID.(int64); ok {
					delBuilder := NewCypherBuilder()
					delQuery := delBuilder.BuildDeleteEdge(id)
					if _, err := tx.Run(ctx, delQuery, delBuilder.Params()); err != nil {
						return nil, fmt.Errorf("failed to delete superseded %s edge: %w", e.Label, err)
					}
				}
			}
			w.logger.Warn("replaced existing one-to-one/many-to-one parent edge",
				"edge", e.Label, "child", e.FromIDValue)
		}

		mergeBuilder := NewCypherBuilder()
		mergeQuery, err := mergeBuilder.BuildUpsertEdge(
			e.FromLabel, e.FromIDField, e.FromIDValue,
			e.ToLabel, e.ToIDField, e.ToIDValue,
			e.Label, e.Properties)
		if err != nil {
			return nil, err
		}
		mergeResult, err := tx.Run(ctx, mergeQuery, mergeBuilder.Params())
		if err != nil {
			return nil, fmt.Errorf("failed to write %s edge: %w", e.Label, err)
		}
		mergeRecords, err := mergeResult.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(mergeRecords) == 0 {
			return nil, fmt.Errorf("edge %s not written: parent or child node missing (from=%v to=%v)",
				e.Label, e.FromIDValue, e.ToIDValue)
		}

		counters.Created[e.Label]++
		return nil, nil
	})

	return err
}
