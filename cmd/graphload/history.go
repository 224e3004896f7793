package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ccdi-dataloader/graphload/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent load attempts recorded in the local history ledger",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().String("dataset", "", "restrict to load attempts for this dataset")
	historyCmd.Flags().Int("limit", 20, "maximum number of records to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg := loadConfigOrDefault()

	path := cfg.History.Path
	if path == "" {
		path = history.DefaultPath()
	}

	ledger, err := history.Open(path, logger)
	if err != nil {
		return fmt.Errorf("failed to open history ledger at %s: %w", path, err)
	}
	defer ledger.Close()

	dataset, _ := cmd.Flags().GetString("dataset")
	limit, _ := cmd.Flags().GetInt("limit")

	ctx := context.Background()
	var records []history.Record
	if dataset != "" {
		records, err = ledger.ForDataset(ctx, dataset, limit)
	} else {
		records, err = ledger.Recent(ctx, limit)
	}
	if err != nil {
		return fmt.Errorf("failed to query history: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No load attempts recorded yet.")
		return nil
	}

	fmt.Printf("%-12s %-20s %-8s %-20s %-9s %s\n", "ID", "Dataset", "Mode", "Started", "Outcome", "Nodes (C/U/D)")
	for _, r := range records {
		fmt.Printf("%-12s %-20s %-8s %-20s %-9s %d/%d/%d\n",
			shortID(r.ID), r.Dataset, r.Mode, r.StartedAt.Format("2006-01-02 15:04:05"), r.Outcome,
			r.NodesCreated, r.NodesUpdated, r.NodesDeleted)
		if r.ErrorMessage.Valid {
			fmt.Printf("             error: %s\n", r.ErrorMessage.String)
		}
	}

	return nil
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
