package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var vacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Evict records until usage drops to a target",
	Long: `Evict the least recently used records until usage drops to the
target, expressed as a fraction of the byte budget.

Examples:
  # Shrink the cache to half its budget
  stash vacuum --target 0.5`,
	RunE: runVacuum,
}

var vacuumTarget float64

func init() {
	vacuumCmd.Flags().Float64Var(&vacuumTarget, "target", 0.5, "target usage as a fraction of the budget")
	rootCmd.AddCommand(vacuumCmd)
}

func runVacuum(cmd *cobra.Command, args []string) error {
	if vacuumTarget < 0 || vacuumTarget > 1 {
		return fmt.Errorf("target must be in [0, 1], got %g", vacuumTarget)
	}

	cache, err := openCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	target := int64(float64(cache.Budget().TotalBudgetBytes) * vacuumTarget)
	evicted, err := cache.Vacuum(context.Background(), target)
	if err != nil {
		return fmt.Errorf("vacuum failed: %w", err)
	}

	fmt.Printf("Evicted %d record(s); target %s\n", evicted, formatBytes(target))
	return nil
}
