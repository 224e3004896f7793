package graph

// BatchConfig controls how many rows are grouped into a single UNWIND
// statement during node and edge writes.
type BatchConfig struct {
	// NodeBatchSize is the number of nodes per UNWIND batch.
	NodeBatchSize int
	// EdgeBatchSize is the number of edges per UNWIND batch.
	EdgeBatchSize int
	// SplitTransactionSize is the number of rows committed per
	// split-transaction batch (fixed at 1000 per the load protocol).
	SplitTransactionSize int
}

// DefaultBatchConfig returns the standard batch sizes used by the load protocol.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		NodeBatchSize:        1000,
		EdgeBatchSize:        1000,
		SplitTransactionSize: 1000,
	}
}
