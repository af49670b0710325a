package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache usage against the byte budget",
	Long: `Display the cache's quota position including:
- Bytes used versus the configured budget
- Number of cached records
- Whether the cache has been disabled by backend failures`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cache, err := openCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	usage, err := cache.Usage(context.Background())
	if err != nil {
		return fmt.Errorf("reading usage: %w", err)
	}

	pct := 0.0
	if usage.TotalBudgetBytes > 0 {
		pct = float64(usage.UsedBytes) / float64(usage.TotalBudgetBytes) * 100
	}

	fmt.Printf("Cache directory: %s\n", cacheDir)
	fmt.Printf("Records:         %d\n", usage.Entries)
	fmt.Printf("Used:            %s of %s (%.1f%%)\n",
		formatBytes(usage.UsedBytes), formatBytes(usage.TotalBudgetBytes), pct)
	if usage.Disabled {
		fmt.Println("Status:          DISABLED (backend unavailable)")
	}
	return nil
}
