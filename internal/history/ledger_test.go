package history

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccdi-dataloader/graphload/internal/graph"
)

func testLedger(t *testing.T) *Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	l, err := Open(path, logger)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedger_BeginAndFinish(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	id, err := l.Begin(ctx, "clinical-data", graph.LoadModeUpsert)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	counters := graph.NewWriteCounters()
	counters.Created["Patient"] = 5
	counters.Updated["Sample"] = 2

	require.NoError(t, l.Finish(ctx, id, counters, OutcomeSuccess, "", "/tmp/validation.log"))

	records, err := l.ForDataset(ctx, "clinical-data", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "success", records[0].Outcome)
	assert.Equal(t, 5, records[0].NodesCreated)
	assert.Equal(t, 2, records[0].NodesUpdated)
	assert.True(t, records[0].FinishedAt.Valid)
}

func TestLedger_RecentOrdersNewestFirst(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	id1, err := l.Begin(ctx, "a", graph.LoadModeUpsert)
	require.NoError(t, err)
	require.NoError(t, l.Finish(ctx, id1, graph.NewWriteCounters(), OutcomeSuccess, "", ""))

	id2, err := l.Begin(ctx, "b", graph.LoadModeUpsert)
	require.NoError(t, err)
	require.NoError(t, l.Finish(ctx, id2, graph.NewWriteCounters(), OutcomeFailed, "boom", ""))

	records, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "failed", records[0].Outcome)
	assert.Equal(t, "boom", records[0].ErrorMessage.String)
}
