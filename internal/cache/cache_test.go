package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/talon/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, tenantID, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, tenantID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, tenantID, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "key2", []byte("value2"), time.Minute)

		err := cache.Delete(ctx, tenantID, "key2")
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, tenantID, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "expiring", []byte("temp"), 10*time.Millisecond)

		val, _ := cache.Get(ctx, tenantID, "expiring")
		if val == nil {
			t.Fatal("expected value before expiration")
		}

		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, tenantID, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_ = cache.Set(ctx, "tenant-a", "shared-key", []byte("a"), time.Minute)
		_ = cache.Set(ctx, "tenant-b", "shared-key", []byte("b"), time.Minute)

		valA, _ := cache.Get(ctx, "tenant-a", "shared-key")
		valB, _ := cache.Get(ctx, "tenant-b", "shared-key")
		if string(valA) != "a" || string(valB) != "b" {
			t.Errorf("tenant isolation broken: %s, %s", valA, valB)
		}
	})

	t.Run("RequiresTenant", func(t *testing.T) {
		if _, err := cache.Get(ctx, "", "key"); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})
}

func TestLRUEviction(t *testing.T) {
	cache := NewLRUCache(3)
	ctx := context.Background()
	tenantID := "tenant-001"

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("key%d", i)
		_ = cache.Set(ctx, tenantID, key, []byte(key), time.Minute)
	}

	size, capacity := cache.Stats()
	if size != 3 || capacity != 3 {
		t.Errorf("expected size 3 of capacity 3, got %d/%d", size, capacity)
	}

	// Oldest entries should be evicted
	if val, _ := cache.Get(ctx, tenantID, "key0"); val != nil {
		t.Error("expected key0 to be evicted")
	}
	if val, _ := cache.Get(ctx, tenantID, "key4"); val == nil {
		t.Error("expected key4 to survive")
	}
}

func TestNewFactory(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 10})
	if err != nil {
		t.Fatalf("New(memory) failed: %v", err)
	}
	defer c.Close()

	if _, err := New(domain.CacheConfig{Type: "bogus"}); err == nil {
		t.Error("expected error for unsupported cache type")
	}
}
