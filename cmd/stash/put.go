package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/projectmirror/stash"
)

var putCmd = &cobra.Command{
	Use:   "put [ID] [FILE]",
	Short: "Store a record payload under an id",
	Long: `Store the contents of FILE as the cached record for ID, replacing
any previous payload. Use "-" to read the payload from stdin.

If the payload does not fit the remaining budget, older records are
evicted to make room. Payloads larger than the single-entry cap are
rejected.

Examples:
  stash put my-project record.json
  curl -s https://example.com/api/records/my-project | stash put my-project -`,
	Args: cobra.ExactArgs(2),
	RunE: runPut,
}

func init() {
	rootCmd.AddCommand(putCmd)
}

func runPut(cmd *cobra.Command, args []string) error {
	id, file := args[0], args[1]

	var payload []byte
	var err error
	if file == "-" {
		payload, err = io.ReadAll(os.Stdin)
	} else {
		payload, err = os.ReadFile(file)
	}
	if err != nil {
		return fmt.Errorf("reading payload: %w", err)
	}

	cache, err := openCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	ctx := context.Background()
	if err := cache.Put(ctx, id, payload); err != nil {
		switch {
		case errors.Is(err, stash.ErrEntryTooLarge):
			return fmt.Errorf("payload exceeds the single-entry cap (%s)", formatBytes(cache.Budget().MaxEntryBytes))
		case errors.Is(err, stash.ErrWriteFailed):
			return fmt.Errorf("record does not fit even after cleanup")
		default:
			return fmt.Errorf("store failed: %w", err)
		}
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "stored %s under %q\n", formatBytes(int64(len(payload))), id)
	}
	return nil
}
