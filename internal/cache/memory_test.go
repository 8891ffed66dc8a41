package cache

import (
	"bytes"
	"context"
	"strconv"
	"testing"
	"time"
)

func TestMemoryCacheSetGet(t *testing.T) {
	mc := NewMemoryCache(100, time.Minute)
	defer mc.Close()
	ctx := context.Background()

	if err := mc.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	val, ok, err := mc.Get(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("Get = (%v, %v), want hit", ok, err)
	}
	if !bytes.Equal(val, []byte("v1")) {
		t.Fatalf("Get = %q, want v1", val)
	}

	if _, ok, _ := mc.Get(ctx, "missing"); ok {
		t.Fatal("missing key reported as hit")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc := NewMemoryCache(100, time.Minute)
	defer mc.Close()
	ctx := context.Background()

	mc.Set(ctx, "k1", []byte("v1"), 20*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	if _, ok, _ := mc.Get(ctx, "k1"); ok {
		t.Fatal("expired entry still served")
	}
}

func TestMemoryCacheDelete(t *testing.T) {
	mc := NewMemoryCache(100, time.Minute)
	defer mc.Close()
	ctx := context.Background()

	mc.Set(ctx, "k1", []byte("v1"), time.Minute)
	mc.Delete(ctx, "k1")
	if _, ok, _ := mc.Get(ctx, "k1"); ok {
		t.Fatal("deleted entry still served")
	}
}

func TestMemoryCacheGetMultiple(t *testing.T) {
	mc := NewMemoryCache(100, time.Minute)
	defer mc.Close()
	ctx := context.Background()

	mc.SetMultiple(ctx, map[string][]byte{
		"a": []byte("1"),
		"b": []byte("2"),
	}, time.Minute)
	mc.Set(ctx, "expired", []byte("3"), -time.Second)

	got, err := mc.GetMultiple(ctx, []string{"a", "b", "expired", "missing"})
	if err != nil {
		t.Fatalf("GetMultiple: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetMultiple returned %d entries, want 2", len(got))
	}
	if !bytes.Equal(got["a"], []byte("1")) || !bytes.Equal(got["b"], []byte("2")) {
		t.Fatalf("GetMultiple values wrong: %v", got)
	}
}

func TestMemoryCacheCleanupEnforcesMaxSize(t *testing.T) {
	mc := NewMemoryCache(5, 20*time.Millisecond)
	defer mc.Close()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		// Staggered TTLs so the oldest-expiring entries are well defined.
		mc.Set(ctx, "k"+strconv.Itoa(i), []byte("v"), time.Minute+time.Duration(i)*time.Second)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		count := 0
		mc.data.Range(func(_, _ interface{}) bool {
			count++
			return true
		})
		if count == 5 {
			// The entries expiring soonest were the ones dropped.
			if _, ok, _ := mc.Get(ctx, "k0"); ok {
				t.Fatal("oldest-expiring entry survived size enforcement")
			}
			if _, ok, _ := mc.Get(ctx, "k9"); !ok {
				t.Fatal("newest entry lost during size enforcement")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("cleanup never brought the cache down to max size")
}
