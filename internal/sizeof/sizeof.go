// Package sizeof estimates the serialized footprint of a cache entry.
//
// The estimate is len(id) + len(payload) + EntryOverheadBytes. The overhead
// constant conservatively covers the backend key prefix and the entry's
// serialized index record. Backends here store raw bytes, so no per-character
// encoding multiplier is applied; what matters for quota accounting is that
// the estimate is deterministic and monotonic in payload length, not that it
// is byte-exact.
package sizeof

// EntryOverheadBytes is the fixed per-entry overhead added on top of the id
// and payload lengths. Changing it changes every stored size estimate, so it
// is fixed for the life of a cache directory.
const EntryOverheadBytes = 128

// Estimate returns the approximate number of backend bytes an entry with the
// given id and payload will occupy, index record included.
func Estimate(id string, payload []byte) int64 {
	return int64(len(id)) + int64(len(payload)) + EntryOverheadBytes
}
