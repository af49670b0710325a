package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/projectmirror/stash"
	"github.com/projectmirror/stash/internal/backend/diskbackend"
	"github.com/projectmirror/stash/internal/codec/zstdcodec"
	"github.com/projectmirror/stash/internal/quota"
)

var (
	// Global flags.
	cacheDir string
	budgetMB int64
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "stash",
	Short: "Quota-aware persistent cache for project records",
	Long: `Stash maintains a bounded local mirror of remotely sourced project
records inside a size-limited key-value store, evicting the least
recently used entries when the byte budget runs out.

Examples:
  # Store a record from a file
  stash put my-project record.json

  # Fetch a record
  stash get my-project

  # Show cache usage
  stash stats`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cacheDir, "cache-dir", "d", "./stash-data", "directory holding the cache contents")
	rootCmd.PersistentFlags().Int64Var(&budgetMB, "budget-mb", 8, "total byte budget in MiB")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// openCache builds a disk-backed cache from the global flags.
func openCache() (*stash.Cache, error) {
	budget := quota.DefaultBudget()
	budget.TotalBudgetBytes = budgetMB << 20

	be, err := diskbackend.New(cacheDir, zstdcodec.New(), 0)
	if err != nil {
		return nil, fmt.Errorf("opening cache directory: %w", err)
	}

	opts := []stash.Option{
		stash.WithBackend(be),
		stash.WithBudget(budget),
	}
	if verbose {
		log, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("creating logger: %w", err)
		}
		opts = append(opts, stash.WithLogger(log))
	}

	cache, err := stash.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}
	return cache, nil
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
