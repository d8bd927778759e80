// Package storagetest holds the behavioural suite every storage.Store
// backend must pass.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmcleod/sessiongate/storage"
)

// Clock advances the backend's notion of time by d. Backends with a real
// server clock (miniredis) fast-forward; in-process backends move an
// injected clock.
type Clock func(d time.Duration)

// Run exercises store against the storage.Store contract.
func Run(t *testing.T, store storage.Store, advance Clock) {
	t.Helper()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := store.Set(ctx, "k-get", []byte("v1"), time.Hour); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, err := store.Get(ctx, "k-get")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != "v1" {
			t.Fatalf("got %q, want %q", got, "v1")
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.Get(ctx, "no-such-key")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = store.Set(ctx, "k-ow", []byte("old"), time.Hour)
		if err := store.Set(ctx, "k-ow", []byte("new"), time.Hour); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, err := store.Get(ctx, "k-ow")
		if err != nil || string(got) != "new" {
			t.Fatalf("got %q (%v), want %q", got, err, "new")
		}
	})

	t.Run("Exists", func(t *testing.T) {
		_ = store.Set(ctx, "k-ex", []byte("v"), time.Hour)
		ok, err := store.Exists(ctx, "k-ex")
		if err != nil || !ok {
			t.Fatalf("Exists = %v, %v; want true", ok, err)
		}
		ok, err = store.Exists(ctx, "k-ex-missing")
		if err != nil || ok {
			t.Fatalf("Exists = %v, %v; want false", ok, err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = store.Set(ctx, "k-del", []byte("v"), time.Hour)
		if err := store.Delete(ctx, "k-del"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := store.Get(ctx, "k-del"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		if err := store.Delete(ctx, "never-existed"); err != nil {
			t.Fatalf("Delete of absent key should succeed, got %v", err)
		}
	})

	t.Run("ValueIsCopied", func(t *testing.T) {
		v := []byte("abc")
		_ = store.Set(ctx, "k-copy", v, time.Hour)
		v[0] = 'X'
		got, _ := store.Get(ctx, "k-copy")
		if string(got) != "abc" {
			t.Fatalf("store retained caller slice: got %q", got)
		}
	})

	t.Run("TTLExpiry", func(t *testing.T) {
		_ = store.Set(ctx, "k-short", []byte("s"), 10*time.Second)
		_ = store.Set(ctx, "k-long", []byte("l"), 20*time.Second)

		advance(11 * time.Second)

		if ok, _ := store.Exists(ctx, "k-short"); ok {
			t.Fatal("short-lived key should have expired")
		}
		if _, err := store.Get(ctx, "k-short"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for expired key, got %v", err)
		}
		if ok, _ := store.Exists(ctx, "k-long"); !ok {
			t.Fatal("long-lived key should still exist")
		}

		advance(10 * time.Second)
		if ok, _ := store.Exists(ctx, "k-long"); ok {
			t.Fatal("long-lived key should have expired")
		}
	})

	t.Run("ReadDoesNotRenewTTL", func(t *testing.T) {
		_ = store.Set(ctx, "k-read", []byte("r"), 10*time.Second)
		advance(6 * time.Second)
		if _, err := store.Get(ctx, "k-read"); err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		advance(6 * time.Second)
		if ok, _ := store.Exists(ctx, "k-read"); ok {
			t.Fatal("read must not extend TTL")
		}
	})

	t.Run("ZeroTTLPersists", func(t *testing.T) {
		_ = store.Set(ctx, "k-forever", []byte("f"), 0)
		advance(365 * 24 * time.Hour)
		if ok, _ := store.Exists(ctx, "k-forever"); !ok {
			t.Fatal("zero TTL key should not expire")
		}
	})

	t.Run("ConcurrentAccess", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := "k-conc"
				_ = store.Set(ctx, key, []byte{byte(i)}, time.Hour)
				_, _ = store.Get(ctx, key)
				_, _ = store.Exists(ctx, key)
			}(i)
		}
		wg.Wait()
		if ok, _ := store.Exists(ctx, "k-conc"); !ok {
			t.Fatal("expected key after concurrent writes")
		}
	})
}
