package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List cached records",
	Long: `List all cached records, most recently updated first. Records whose
payloads have gone missing from the backing store are pruned from the
listing.`,
	RunE: runLs,
}

var outputJSON bool

func init() {
	lsCmd.Flags().BoolVar(&outputJSON, "json", false, "output one JSON object per line")
	rootCmd.AddCommand(lsCmd)
}

func runLs(cmd *cobra.Command, args []string) error {
	cache, err := openCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	entries, err := cache.List(context.Background())
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("Cache is empty.")
		return nil
	}

	if outputJSON {
		for _, e := range entries {
			fmt.Printf(`{"id":%q,"size_bytes":%d,"updated_at":%q,"last_accessed_at":%q}`+"\n",
				e.ID, e.SizeBytes, e.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
				e.LastAccessedAt.Format("2006-01-02T15:04:05Z07:00"))
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSIZE\tUPDATED\tLAST ACCESS")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.ID, formatBytes(e.SizeBytes),
			e.UpdatedAt.Format("2006-01-02 15:04:05"),
			e.LastAccessedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
