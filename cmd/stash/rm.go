package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm [ID]",
	Short: "Remove the cached record for an id",
	Long: `Remove the cached record for the given id. Removing an id that is
not cached is not an error.`,
	Args: cobra.ExactArgs(1),
	RunE: runRm,
}

func init() {
	rootCmd.AddCommand(rmCmd)
}

func runRm(cmd *cobra.Command, args []string) error {
	id := args[0]

	cache, err := openCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	if err := cache.Remove(context.Background(), id); err != nil {
		return fmt.Errorf("remove failed: %w", err)
	}
	return nil
}
