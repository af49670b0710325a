// Package evict selects eviction victims from a directory snapshot.
// Selection is a pure function over index records; all deletion I/O belongs
// to the quota manager.
package evict

import (
	"sort"

	"github.com/projectmirror/stash/internal/directory"
)

// SelectVictims returns the minimal ordered prefix of non-protected records
// whose removal brings used at or below target.
//
// Candidates are ranked oldest-accessed first; among equally stale records
// the largest goes first, freeing more per step. Protected ids are never
// selected. If the candidates are exhausted before the target is reached,
// every non-protected id is returned.
func SelectVictims(records []directory.Record, used, target int64, protected map[string]bool) []string {
	if used <= target {
		return nil
	}

	candidates := make([]directory.Record, 0, len(records))
	for _, r := range records {
		if protected[r.ID] {
			continue
		}
		candidates = append(candidates, r)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.LastAccessedAt.Equal(b.LastAccessedAt) {
			return a.LastAccessedAt.Before(b.LastAccessedAt)
		}
		if a.SizeBytes != b.SizeBytes {
			return a.SizeBytes > b.SizeBytes
		}
		return a.ID < b.ID
	})

	var victims []string
	remaining := used
	for _, r := range candidates {
		if remaining <= target {
			break
		}
		victims = append(victims, r.ID)
		remaining -= r.SizeBytes
	}
	return victims
}
