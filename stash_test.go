package stash

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/projectmirror/stash/internal/backend"
	"github.com/projectmirror/stash/internal/backend/membackend"
	"github.com/projectmirror/stash/internal/directory"
	"github.com/projectmirror/stash/internal/quota"
	"github.com/projectmirror/stash/internal/sizeof"
)

// testClock is a logical clock: every call advances one second.
type testClock struct {
	mu  sync.Mutex
	sec int64
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sec++
	return time.Unix(c.sec, 0).UTC()
}

func testBudget() quota.Budget {
	return quota.Budget{
		TotalBudgetBytes:        1000,
		WriteThresholdRatio:     0.8,
		EmergencyThresholdRatio: 0.9,
		MaxEntryBytes:           500,
		MaxRetryDepth:           3,
	}
}

// payloadOfSize returns a payload whose size estimate for a one-byte id is
// exactly size.
func payloadOfSize(t *testing.T, size int64) []byte {
	t.Helper()
	n := size - 1 - sizeof.EntryOverheadBytes
	if n < 0 {
		t.Fatalf("size %d below minimum estimate", size)
	}
	return []byte(strings.Repeat("x", int(n)))
}

func newTestCache(t *testing.T, be backend.Backend, opts ...Option) *Cache {
	t.Helper()
	opts = append([]Option{
		WithBackend(be),
		WithBudget(testBudget()),
		WithClock((&testClock{}).Now),
	}, opts...)
	c, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_RequiresBackend(t *testing.T) {
	_, err := New()
	if !errors.Is(err, ErrNoBackend) {
		t.Errorf("New() error = %v, want ErrNoBackend", err)
	}
}

func TestNew_RejectsInvalidBudget(t *testing.T) {
	bad := testBudget()
	bad.TotalBudgetBytes = -1
	_, err := New(WithBackend(membackend.New(0)), WithBudget(bad))
	if err == nil {
		t.Error("New() accepted an invalid budget")
	}
}

func TestCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, membackend.New(0))

	payload := []byte(`{"name":"demo","project_type":"web"}`)
	if err := c.Put(ctx, "proj-1", payload); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := c.Get(ctx, "proj-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("Get() = %q, want %q", got, payload)
	}
}

func TestCache_Get_Miss(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, membackend.New(0))

	_, err := c.Get(ctx, "absent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestCache_Put_EntryTooLarge(t *testing.T) {
	ctx := context.Background()
	be := membackend.New(0)
	c := newTestCache(t, be)

	err := c.Put(ctx, "huge", make([]byte, 600))
	if !errors.Is(err, ErrEntryTooLarge) {
		t.Fatalf("Put() error = %v, want ErrEntryTooLarge", err)
	}
	// No cleanup, no write: the backend must not have been touched.
	if be.SetCalls() != 0 {
		t.Errorf("backend Set calls = %d, want 0 for oversized entry", be.SetCalls())
	}
}

func TestCache_Put_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, membackend.New(0))

	if err := c.Put(ctx, "proj-1", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := c.Put(ctx, "proj-1", []byte("v2 longer payload")); err != nil {
		t.Fatal(err)
	}

	got, err := c.Get(ctx, "proj-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "v2 longer payload" {
		t.Errorf("Get() = %q, want latest write", got)
	}

	u, err := c.Usage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if u.Entries != 1 {
		t.Errorf("Usage().Entries = %d, want 1 after refresh", u.Entries)
	}
}

func TestCache_LRUOrdering(t *testing.T) {
	// A, B, C of equal size in that recency order; D forces exactly one
	// eviction, which must remove A.
	ctx := context.Background()
	c := newTestCache(t, membackend.New(0))

	payload := payloadOfSize(t, 250)
	for _, id := range []string{"A", "B", "C"} {
		if err := c.Put(ctx, id, payload); err != nil {
			t.Fatalf("Put(%s) error = %v", id, err)
		}
	}

	if err := c.Put(ctx, "D", payload); err != nil {
		t.Fatalf("Put(D) error = %v", err)
	}

	if _, err := c.Get(ctx, "A"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(A) error = %v, want ErrNotFound after eviction", err)
	}
	for _, id := range []string{"B", "C", "D"} {
		if _, err := c.Get(ctx, id); err != nil {
			t.Errorf("Get(%s) error = %v, want hit", id, err)
		}
	}
}

func TestCache_DegradationScenario(t *testing.T) {
	// Budget 1000, threshold 0.8. A(300, oldest), B(300), C(300) present:
	// used = 900. Put(D, 300) projects 1200 > 800, so tier 1 cleanup with
	// target 500 evicts A then B, leaving {C, D} at 600.
	ctx := context.Background()
	be := membackend.New(0)
	c := newTestCache(t, be)

	dir := directory.NewDirectory()
	for i, id := range []string{"A", "B", "C"} {
		if err := be.Set(ctx, c.entryKey(id), payloadOfSize(t, 300)); err != nil {
			t.Fatal(err)
		}
		ts := time.Unix(int64(i+1), 0).UTC()
		c.dirman.Upsert(dir, directory.Record{ID: id, SizeBytes: 300, LastAccessedAt: ts, UpdatedAt: ts})
	}
	if err := c.dirman.Save(ctx, dir); err != nil {
		t.Fatal(err)
	}

	if err := c.Put(ctx, "D", payloadOfSize(t, 300)); err != nil {
		t.Fatalf("Put(D) error = %v", err)
	}

	u, err := c.Usage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if u.UsedBytes != 600 {
		t.Errorf("Usage().UsedBytes = %d, want 600", u.UsedBytes)
	}
	if u.Entries != 2 {
		t.Errorf("Usage().Entries = %d, want 2", u.Entries)
	}
	for id, want := range map[string]bool{"A": false, "B": false, "C": true, "D": true} {
		_, err := c.Get(ctx, id)
		if got := err == nil; got != want {
			t.Errorf("Get(%s) present = %v, want %v", id, got, want)
		}
	}
}

func TestCache_SelfHealingIndex(t *testing.T) {
	ctx := context.Background()
	be := membackend.New(0)
	c := newTestCache(t, be)

	if err := c.Put(ctx, "proj-1", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := c.Put(ctx, "proj-2", []byte("b")); err != nil {
		t.Fatal(err)
	}

	// Delete proj-1's payload out-of-band.
	if err := be.Delete(ctx, c.entryKey("proj-1")); err != nil {
		t.Fatal(err)
	}

	entries, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "proj-2" {
		t.Errorf("List() = %d entries, want only proj-2", len(entries))
	}

	// The drop must have been persisted.
	u, err := c.Usage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if u.Entries != 1 {
		t.Errorf("Usage().Entries = %d, want 1 after heal", u.Entries)
	}
}

func TestCache_Get_DropsStaleRecord(t *testing.T) {
	ctx := context.Background()
	be := membackend.New(0)
	c := newTestCache(t, be)

	if err := c.Put(ctx, "proj-1", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := be.Delete(ctx, c.entryKey("proj-1")); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Get(ctx, "proj-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	u, err := c.Usage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if u.Entries != 0 {
		t.Errorf("Usage().Entries = %d, want 0 after self-heal", u.Entries)
	}
}

// countingBackend records Set attempts per key on top of a membackend.
type countingBackend struct {
	*membackend.Backend
	mu   sync.Mutex
	sets map[string]int
}

func newCountingBackend(inner *membackend.Backend) *countingBackend {
	return &countingBackend{Backend: inner, sets: make(map[string]int)}
}

func (b *countingBackend) Set(ctx context.Context, key string, value []byte) error {
	b.mu.Lock()
	b.sets[key]++
	b.mu.Unlock()
	return b.Backend.Set(ctx, key, value)
}

func (b *countingBackend) setCount(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sets[key]
}

func TestCache_BoundedRetry(t *testing.T) {
	// A backend that always reports quota exhaustion must produce
	// ErrWriteFailed after exactly MaxRetryDepth+1 write attempts.
	ctx := context.Background()
	inner := membackend.New(0)
	inner.FailNextSets(1 << 20)
	be := newCountingBackend(inner)
	c := newTestCache(t, be)

	err := c.Put(ctx, "X", []byte("payload"))
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("Put() error = %v, want ErrWriteFailed", err)
	}

	want := testBudget().MaxRetryDepth + 1
	if got := be.setCount(c.entryKey("X")); got != want {
		t.Errorf("entry write attempts = %d, want %d", got, want)
	}
}

func TestCache_FailedPutLeavesNoPartialState(t *testing.T) {
	ctx := context.Background()
	be := membackend.New(0)
	c := newTestCache(t, be)

	if err := c.Put(ctx, "proj-1", []byte("original")); err != nil {
		t.Fatal(err)
	}

	be.FailNextSets(1 << 20)
	if err := c.Put(ctx, "proj-1", []byte("replacement")); !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("Put() error = %v, want ErrWriteFailed", err)
	}
	be.FailNextSets(0)

	// Neither the old nor the new payload may be served.
	if _, err := c.Get(ctx, "proj-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after failed put error = %v, want ErrNotFound", err)
	}
}

func TestCache_CorruptDirectoryRecovers(t *testing.T) {
	ctx := context.Background()
	be := membackend.New(0)
	c := newTestCache(t, be)

	if err := c.Put(ctx, "proj-1", []byte("a")); err != nil {
		t.Fatal(err)
	}

	// Corrupt the index blob out-of-band.
	if err := be.Set(ctx, c.dirman.Key(), []byte("~~~ not json ~~~")); err != nil {
		t.Fatal(err)
	}

	// Structural recovery: the corrupt index is rebuilt empty and orphaned
	// entry payloads are cleared, never an error to the caller.
	entries, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("List() = %d entries after recovery, want 0", len(entries))
	}

	// The cache keeps working afterwards.
	if err := c.Put(ctx, "proj-2", []byte("b")); err != nil {
		t.Fatalf("Put() after recovery error = %v", err)
	}
	if _, err := c.Get(ctx, "proj-2"); err != nil {
		t.Errorf("Get() after recovery error = %v", err)
	}
}

func TestCache_CircuitBreaker(t *testing.T) {
	ctx := context.Background()
	be := membackend.New(0)
	c := newTestCache(t, be)

	be.SetUnavailable(true)
	if _, err := c.Get(ctx, "x"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Get() error = %v, want ErrDisabled", err)
	}

	// Even after the backend comes back, the breaker stays open and
	// operations fail fast without touching the backend.
	be.SetUnavailable(false)
	calls := be.SetCalls()
	if err := c.Put(ctx, "x", []byte("y")); !errors.Is(err, ErrDisabled) {
		t.Errorf("Put() error = %v, want ErrDisabled", err)
	}
	if be.SetCalls() != calls {
		t.Error("disabled cache still reached the backend")
	}

	u, err := c.Usage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !u.Disabled {
		t.Error("Usage().Disabled = false, want true")
	}
}

func TestCache_Remove_Idempotent(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, membackend.New(0))

	if err := c.Put(ctx, "proj-1", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := c.Remove(ctx, "proj-1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := c.Remove(ctx, "proj-1"); err != nil {
		t.Errorf("Remove() second call error = %v, want nil", err)
	}
	if err := c.Remove(ctx, "never-existed"); err != nil {
		t.Errorf("Remove() of absent id error = %v, want nil", err)
	}
	if _, err := c.Get(ctx, "proj-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after remove error = %v, want ErrNotFound", err)
	}
}

func TestCache_ProtectedIDsSurviveCleanup(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, membackend.New(0), WithProtectedIDs("session"))

	payload := payloadOfSize(t, 250)
	// "session" is the oldest entry but must never be evicted.
	if err := c.Put(ctx, "session", payload); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"A", "B", "C"} {
		if err := c.Put(ctx, id, payload); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := c.Get(ctx, "session"); err != nil {
		t.Errorf("Get(session) error = %v, want protected entry to survive", err)
	}
}

func TestCache_Vacuum(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, membackend.New(0))

	payload := payloadOfSize(t, 250)
	for _, id := range []string{"A", "B", "C"} {
		if err := c.Put(ctx, id, payload); err != nil {
			t.Fatal(err)
		}
	}

	evicted, err := c.Vacuum(ctx, 500)
	if err != nil {
		t.Fatalf("Vacuum() error = %v", err)
	}
	if evicted != 1 {
		t.Errorf("Vacuum() evicted = %d, want 1", evicted)
	}
	u, err := c.Usage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if u.UsedBytes > 500 {
		t.Errorf("Usage().UsedBytes = %d after vacuum, want <= 500", u.UsedBytes)
	}
}

func TestCache_List_Order(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, membackend.New(0))

	for _, id := range []string{"first", "second", "third"} {
		if err := c.Put(ctx, id, []byte(id)); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"third", "second", "first"} // newest write first
	if len(entries) != len(want) {
		t.Fatalf("List() = %d entries, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.ID != want[i] {
			t.Errorf("List()[%d] = %s, want %s", i, e.ID, want[i])
		}
		if string(e.Payload) != e.ID {
			t.Errorf("List()[%d] payload = %q, want %q", i, e.Payload, e.ID)
		}
	}
}

func TestCache_Close(t *testing.T) {
	c := newTestCache(t, membackend.New(0))

	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := c.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("Close() second call error = %v, want ErrClosed", err)
	}
	if _, err := c.Get(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Errorf("Get() after close error = %v, want ErrClosed", err)
	}
}

func TestCache_CleanupSparesSiblingNamespaces(t *testing.T) {
	// Two namespaces share one quota-constrained backend. Tenant A's put
	// cannot fit and escalates through every cleanup tier, but nothing the
	// escalation does may touch tenant B's keys.
	ctx := context.Background()
	be := membackend.New(300)

	victim := strings.Repeat("b", 60)
	index := `{"version":1,"records":{}}`
	if err := be.Set(ctx, "tenant-b/entry/victim", []byte(victim)); err != nil {
		t.Fatal(err)
	}
	if err := be.Set(ctx, "tenant-b/index", []byte(index)); err != nil {
		t.Fatal(err)
	}

	a := newTestCache(t, be, WithNamespace("tenant-a"))
	if err := a.Put(ctx, "mine", payloadOfSize(t, 260)); !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("Put() error = %v, want ErrWriteFailed", err)
	}

	if got, err := be.Get(ctx, "tenant-b/entry/victim"); err != nil || string(got) != victim {
		t.Errorf("tenant B entry after cleanup = %q, %v; want it untouched", got, err)
	}
	if got, err := be.Get(ctx, "tenant-b/index"); err != nil || string(got) != index {
		t.Errorf("tenant B index after cleanup = %q, %v; want it untouched", got, err)
	}
}

// wedgedBackend refuses to store one specific entry while any other entry
// payload remains, mimicking a store whose real usage is far above the
// index's estimate: only clearing every entry makes the write fit.
type wedgedBackend struct {
	*membackend.Backend
	entryPrefix string
	selfKey     string
}

func (b *wedgedBackend) Set(ctx context.Context, key string, value []byte) error {
	if key == b.selfKey {
		keys, err := b.Backend.Keys(ctx)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if k != b.selfKey && strings.HasPrefix(k, b.entryPrefix) {
				return backend.ErrQuotaExceeded
			}
		}
	}
	return b.Backend.Set(ctx, key, value)
}

func TestCache_StructuralRecoveryAfterExhaustedRetries(t *testing.T) {
	// The index records five entries at a fraction of their real size, so
	// LRU eviction frees almost nothing per round and the backend keeps
	// refusing after the retry budget. The refusal alone must escalate to
	// structural recovery, which clears the wedge and lands the write.
	ctx := context.Background()
	be := &wedgedBackend{Backend: membackend.New(0)}
	c := newTestCache(t, be)
	be.entryPrefix = c.entryPrefix
	be.selfKey = c.entryKey("D")

	dir := directory.NewDirectory()
	for i, id := range []string{"A", "B", "C", "E", "F"} {
		if err := be.Set(ctx, c.entryKey(id), payloadOfSize(t, 450)); err != nil {
			t.Fatal(err)
		}
		ts := time.Unix(int64(i+1), 0).UTC()
		c.dirman.Upsert(dir, directory.Record{ID: id, SizeBytes: 10, LastAccessedAt: ts, UpdatedAt: ts})
	}
	if err := c.dirman.Save(ctx, dir); err != nil {
		t.Fatal(err)
	}

	if err := c.Put(ctx, "D", payloadOfSize(t, 300)); err != nil {
		t.Fatalf("Put(D) error = %v, want recovery to land the write", err)
	}

	if _, err := c.Get(ctx, "D"); err != nil {
		t.Errorf("Get(D) error = %v, want hit", err)
	}
	u, err := c.Usage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if u.Entries != 1 {
		t.Errorf("Usage().Entries = %d, want only the recovered write", u.Entries)
	}
}

func TestCache_NamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	be := membackend.New(0)

	a := newTestCache(t, be, WithNamespace("tenant-a"))
	b := newTestCache(t, be, WithNamespace("tenant-b"))

	if err := a.Put(ctx, "proj-1", []byte("from a")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Get(ctx, "proj-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() across namespaces error = %v, want ErrNotFound", err)
	}
}
