package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/projectmirror/stash"
)

var getCmd = &cobra.Command{
	Use:   "get [ID]",
	Short: "Fetch the cached record for an id",
	Long: `Fetch the cached record payload for the given id and write it to
stdout. Fetching marks the record as recently used.

Examples:
  stash get my-project
  stash get my-project --timing > record.json`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

var showTiming bool

func init() {
	getCmd.Flags().BoolVar(&showTiming, "timing", false, "print fetch timing to stderr")
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	id := args[0]

	cache, err := openCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	ctx := context.Background()
	start := time.Now()

	payload, err := cache.Get(ctx, id)
	if err != nil {
		if errors.Is(err, stash.ErrNotFound) {
			return fmt.Errorf("no cached record for %q", id)
		}
		return fmt.Errorf("fetch failed: %w", err)
	}

	elapsed := time.Since(start)

	if _, err := os.Stdout.Write(payload); err != nil {
		return fmt.Errorf("writing payload: %w", err)
	}
	if showTiming {
		fmt.Fprintf(os.Stderr, "fetched %s in %s\n", formatBytes(int64(len(payload))), elapsed)
	}
	return nil
}
