package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show account and storage status",
		RunE:  runStatus,
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	Email     string  `json:"email"`
	Used      int64   `json:"used"`
	Allocated int64   `json:"allocated"`
	UsedPct   float64 `json:"used_pct"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	client, logger, err := newAPIClient(ctx)
	if err != nil {
		return err
	}

	logger.Debug("status")

	account, err := client.GetCurrentAccount(ctx)
	if err != nil {
		return fmt.Errorf("fetching account: %w", err)
	}

	usage, err := client.GetSpaceUsage(ctx)
	if err != nil {
		return fmt.Errorf("fetching space usage: %w", err)
	}

	var pct float64
	if usage.Allocated > 0 {
		pct = float64(usage.Used) / float64(usage.Allocated) * 100
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(statusOutput{
			Email:     account.Email,
			Used:      usage.Used,
			Allocated: usage.Allocated,
			UsedPct:   pct,
		})
	}

	fmt.Printf("Account: %s\n", account.Email)

	if usage.Allocated > 0 {
		fmt.Printf("Storage: %s / %s (%.1f%%)\n",
			formatSize(usage.Used), formatSize(usage.Allocated), pct)
	} else {
		fmt.Printf("Storage: %s used (no individual allocation)\n", formatSize(usage.Used))
	}

	return nil
}
