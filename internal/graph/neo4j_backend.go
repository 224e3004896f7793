package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jBackend implements Backend against a Neo4j database using
// parameterized Cypher.
type Neo4jBackend struct {
	driver   neo4j.DriverWithContext
	database string
	writer   *batchWriter
	logger   *slog.Logger
}

// NewNeo4jBackend creates a Neo4j backend instance and verifies connectivity.
func NewNeo4jBackend(ctx context.Context, uri, username, password, database string) (*Neo4jBackend, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}

	config := DefaultBatchConfig()
	return &Neo4jBackend{
		driver:   driver,
		database: database,
		writer:   newBatchWriter(driver, database, config),
		logger:   slog.Default().With("component", "neo4j_backend"),
	}, nil
}

// CreateNodesBatch writes a batch of nodes according to mode.
func (n *Neo4jBackend) CreateNodesBatch(ctx context.Context, nodes []GraphNode, mode LoadMode) (WriteCounters, error) {
	return n.writer.createNodesBatch(ctx, nodes, mode)
}

// CreateEdgesBatch writes a batch of edges according to mode.
func (n *Neo4jBackend) CreateEdgesBatch(ctx context.Context, edges []GraphEdge, mode LoadMode, strictOneToOne bool) (WriteCounters, error) {
	return n.writer.createEdgesBatch(ctx, edges, mode, strictOneToOne)
}

// DeleteCascade removes a node and, recursively, every child whose only
// incoming parent edge originates from it. The "no other parent" predicate
// is evaluated against the live database at each step of the breadth-first
// walk, not a snapshot taken up front.
func (n *Neo4jBackend) DeleteCascade(ctx context.Context, label, idField string, idValue any) (int, error) {
	session := n.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	deleted, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		idBuilder := NewCypherBuilder()
		idQuery, err := idBuilder.BuildNodeInternalID(label, idField, idValue)
		if err != nil {
			return 0, err
		}
		result, err := tx.Run(ctx, idQuery, idBuilder.Params())
		if err != nil {
			return 0, fmt.Errorf("failed to locate node for delete: %w", err)
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return 0, err
		}
		if len(records) == 0 {
			return 0, nil
		}
		rootID, _ := records[0].Get("internal_id")
		rootInternalID, ok := rootID.(int64)
		if !ok {
			return 0, fmt.Errorf("unexpected internal id type for %s %v", label, idValue)
		}

		queue := []int64{rootInternalID}
		visited := map[int64]bool{}
		count := 0

		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			if visited[current] {
				continue
			}
			visited[current] = true

			childBuilder := NewCypherBuilder()
			childQuery := childBuilder.BuildSingleParentChildrenByID(current)
			childResult, err := tx.Run(ctx, childQuery, childBuilder.Params())
			if err != nil {
				return count, fmt.Errorf("failed to enumerate children during cascade delete: %w", err)
			}
			childRecords, err := childResult.Collect(ctx)
			if err != nil {
				return count, err
			}
			for _, rec := range childRecords {
				childID, _ := rec.Get("child_id")
				if cid, ok := childID.(int64); ok && !visited[cid] {
					queue = append(queue, cid)
				}
			}

			delBuilder := NewCypherBuilder()
			delQuery := delBuilder.BuildDetachDeleteByID(current)
			if _, err := tx.Run(ctx, delQuery, delBuilder.Params()); err != nil {
				return count, fmt.Errorf("failed to detach-delete node during cascade: %w", err)
			}
			count++
		}

		return count, nil
	})
	if err != nil {
		return 0, err
	}

	return deleted.(int), nil
}

// WipeDatabase detach-deletes the entire graph. When batchSize > 0, it
// deletes in batches until two consecutive batches delete nothing, matching
// the split-transaction wipe discipline.
func (n *Neo4jBackend) WipeDatabase(ctx context.Context, batchSize int) error {
	if batchSize <= 0 {
		session := n.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
		defer session.Close(ctx)
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			_, err := tx.Run(ctx, "MATCH (n) DETACH DELETE n", nil)
			return nil, err
		})
		return err
	}

	emptyStreak := 0
	for emptyStreak < 2 {
		deletedCount, err := n.wipeBatch(ctx, batchSize)
		if err != nil {
			return err
		}
		if deletedCount == 0 {
			emptyStreak++
		} else {
			emptyStreak = 0
		}
	}
	return nil
}

func (n *Neo4jBackend) wipeBatch(ctx context.Context, batchSize int) (int64, error) {
	session := n.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		builder := NewCypherBuilder()
		query := builder.BuildWipeBatch(batchSize)
		res, err := tx.Run(ctx, query, builder.Params())
		if err != nil {
			return int64(0), err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return int64(0), err
		}
		if len(records) == 0 {
			return int64(0), nil
		}
		deleted, _ := records[0].Get("deleted")
		count, _ := deleted.(int64)
		return count, nil
	})
	if err != nil {
		return 0, fmt.Errorf("wipe batch failed: %w", err)
	}
	return result.(int64), nil
}

// EnsureIndex creates a BTREE index for (label, properties) if one with that
// signature does not already exist, checked via SHOW INDEXES first.
func (n *Neo4jBackend) EnsureIndex(ctx context.Context, label string, properties []string) error {
	builder := NewCypherBuilder()
	showQuery := builder.BuildShowIndexes()

	result, err := neo4j.ExecuteQuery(ctx, n.driver, showQuery, nil,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.database))
	if err != nil {
		return fmt.Errorf("failed to list existing indexes: %w", err)
	}

	wanted := propertySignature(properties)
	for _, record := range result.Records {
		labelsVal, _ := record.Get("labelsOrTypes")
		propsVal, _ := record.Get("properties")

		labels, _ := labelsVal.([]any)
		props, _ := propsVal.([]any)

		if !containsLabel(labels, label) {
			continue
		}
		if propertySignature(anySliceToStrings(props)) == wanted {
			n.logger.Debug("index already present", "label", label, "properties", properties)
			return nil
		}
	}

	indexName := fmt.Sprintf("idx_%s_%s", strings.ToLower(label), strings.Join(properties, "_"))
	createBuilder := NewCypherBuilder()
	createQuery, err := createBuilder.BuildCreateIndex(indexName, label, properties)
	if err != nil {
		return fmt.Errorf("failed to build index creation query: %w", err)
	}

	_, err = neo4j.ExecuteQuery(ctx, n.driver, createQuery, nil,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.database))
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", indexName, err)
	}

	n.logger.Info("created index", "name", indexName, "label", label, "properties", properties)
	return nil
}

func containsLabel(labels []any, label string) bool {
	for _, l := range labels {
		if s, ok := l.(string); ok && s == label {
			return true
		}
	}
	return false
}

func anySliceToStrings(vals []any) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func propertySignature(properties []string) string {
	sorted := append([]string(nil), properties...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// Query executes a raw parameterized Cypher query and returns all results as
// plain maps.
func (n *Neo4jBackend) Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	result, err := neo4j.ExecuteQuery(ctx, n.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.database))
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	results := make([]map[string]any, 0, len(result.Records))
	for _, record := range result.Records {
		results = append(results, record.AsMap())
	}
	return results, nil
}

// Close closes the Neo4j driver connection.
func (n *Neo4jBackend) Close(ctx context.Context) error {
	return n.driver.Close(ctx)
}
