// Package main provides the stash CLI tool for inspecting and managing
// a disk-backed project record cache.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
