package membackend

import (
	"context"
	"errors"
	"testing"

	"github.com/projectmirror/stash/internal/backend"
)

func TestBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	b := New(0)

	if err := b.Set(ctx, "k", []byte("value")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := b.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "value" {
		t.Errorf("Get() = %q, want %q", got, "value")
	}

	// The returned slice is a copy; mutating it must not corrupt the store.
	got[0] = 'X'
	again, _ := b.Get(ctx, "k")
	if string(again) != "value" {
		t.Error("Get() exposed internal storage to caller mutation")
	}
}

func TestBackend_QuotaEnforced(t *testing.T) {
	ctx := context.Background()
	b := New(10)

	if err := b.Set(ctx, "a", []byte("12345")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := b.Set(ctx, "b", []byte("123456")); !errors.Is(err, backend.ErrQuotaExceeded) {
		t.Fatalf("Set() error = %v, want ErrQuotaExceeded", err)
	}

	// Overwrites account for the replaced value's size.
	if err := b.Set(ctx, "a", []byte("1234567890")); err != nil {
		t.Errorf("Set() overwrite error = %v", err)
	}
}

func TestBackend_FailNextSets(t *testing.T) {
	ctx := context.Background()
	b := New(0)
	b.FailNextSets(2)

	for i := 0; i < 2; i++ {
		if err := b.Set(ctx, "k", []byte("v")); !errors.Is(err, backend.ErrQuotaExceeded) {
			t.Fatalf("Set() #%d error = %v, want scripted ErrQuotaExceeded", i, err)
		}
	}
	if err := b.Set(ctx, "k", []byte("v")); err != nil {
		t.Errorf("Set() after scripted failures error = %v", err)
	}
}

func TestBackend_Unavailable(t *testing.T) {
	ctx := context.Background()
	b := New(0)
	b.SetUnavailable(true)

	if _, err := b.Get(ctx, "k"); !errors.Is(err, backend.ErrUnavailable) {
		t.Errorf("Get() error = %v, want ErrUnavailable", err)
	}
	if err := b.Set(ctx, "k", nil); !errors.Is(err, backend.ErrUnavailable) {
		t.Errorf("Set() error = %v, want ErrUnavailable", err)
	}
}

func TestBackend_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	b := New(0)

	if err := b.Set(ctx, "a", []byte("xx")); err != nil {
		t.Fatal(err)
	}
	if err := b.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := b.Delete(ctx, "a"); err != nil {
		t.Errorf("Delete() of absent key error = %v, want nil", err)
	}
	if got := b.UsedBytes(); got != 0 {
		t.Errorf("UsedBytes() = %d, want 0 after delete", got)
	}

	if err := b.Set(ctx, "b", []byte("yy")); err != nil {
		t.Fatal(err)
	}
	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	keys, err := b.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("Keys() after Clear = %v, want none", keys)
	}
}
