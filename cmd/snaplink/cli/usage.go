package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/snaplinkhq/snaplink/internal/model"
)

func newUsageCmd() *cobra.Command {
	var (
		jsonOutput bool
		limit      int
		userID     int64
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show the request usage log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsage(userID, limit, jsonOutput)
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "Only show requests for this user ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runUsage(userID int64, limit int, jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	if limit < 1 || limit > model.UsageLogCap {
		limit = model.UsageLogCap
	}

	var entries []model.UsageEntry
	if userID != 0 {
		entries, err = st.ListUsageByUser(ctx, userID, limit)
	} else {
		entries, err = st.ListUsage(ctx, limit)
	}
	if err != nil {
		return fmt.Errorf("list usage: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("Usage log is empty.")
		return nil
	}

	total, err := st.CountUsage(ctx)
	if err != nil {
		return fmt.Errorf("count usage: %w", err)
	}

	fmt.Printf("%-20s %-14s %-28s %-16s\n", "TIME", "KEY", "ENDPOINT", "IP")
	for _, e := range entries {
		fmt.Printf("%-20s %-14s %-28s %-16s\n",
			e.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			e.KeyPrefix, e.Endpoint, e.IP)
	}
	fmt.Printf("\n%d entries shown, %d total (cap %d)\n", len(entries), total, model.UsageLogCap)
	return nil
}
