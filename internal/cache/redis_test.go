package cache

import (
	"context"
	"testing"
	"time"

	"inkwell/api/internal/store"

	"github.com/alicebob/miniredis/v2"
)

func setupTestCache(t *testing.T) (*HistoryCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	cache, err := NewHistoryCache("redis://"+s.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("failed to create history cache: %v", err)
	}
	return cache, s
}

func sampleHistory() []store.Version {
	return []store.Version{
		{ID: "ver_2", DocumentID: "doc-1", VersionNumber: 2, Content: "Hello world"},
		{ID: "ver_1", DocumentID: "doc-1", VersionNumber: 1, Content: "Hello"},
	}
}

func TestSetAndGetHistory(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()

	if _, found := cache.GetHistory(ctx, "doc-1"); found {
		t.Fatal("expected miss before set")
	}

	if err := cache.SetHistory(ctx, "doc-1", sampleHistory()); err != nil {
		t.Fatalf("SetHistory failed: %v", err)
	}

	versions, found := cache.GetHistory(ctx, "doc-1")
	if !found {
		t.Fatal("expected hit after set")
	}
	if len(versions) != 2 || versions[0].ID != "ver_2" {
		t.Errorf("unexpected cached history: %v", versions)
	}
}

func TestInvalidateBumpsGeneration(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if err := cache.SetHistory(ctx, "doc-1", sampleHistory()); err != nil {
		t.Fatalf("SetHistory failed: %v", err)
	}

	cache.Invalidate(ctx, "doc-1")

	if _, found := cache.GetHistory(ctx, "doc-1"); found {
		t.Error("expected miss after invalidation")
	}

	// a fresh set under the new generation is readable again
	if err := cache.SetHistory(ctx, "doc-1", sampleHistory()[:1]); err != nil {
		t.Fatalf("SetHistory after invalidate failed: %v", err)
	}
	versions, found := cache.GetHistory(ctx, "doc-1")
	if !found || len(versions) != 1 {
		t.Errorf("expected 1 cached version after refresh, found=%v n=%d", found, len(versions))
	}
}

func TestHistoryEntryExpires(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()
	cache, err := NewHistoryCache("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create history cache: %v", err)
	}
	defer cache.Close()

	ctx := context.Background()
	if err := cache.SetHistory(ctx, "doc-1", sampleHistory()); err != nil {
		t.Fatalf("SetHistory failed: %v", err)
	}

	s.FastForward(2 * time.Minute)

	if _, found := cache.GetHistory(ctx, "doc-1"); found {
		t.Error("expected miss after TTL expiry")
	}
}

func TestNilCacheIsNoOp(t *testing.T) {
	var cache *HistoryCache
	ctx := context.Background()

	if _, found := cache.GetHistory(ctx, "doc-1"); found {
		t.Error("nil cache should always miss")
	}
	if err := cache.SetHistory(ctx, "doc-1", sampleHistory()); err != nil {
		t.Errorf("nil cache set should be a no-op, got %v", err)
	}
	cache.Invalidate(ctx, "doc-1")
	if err := cache.Ping(ctx); err != nil {
		t.Errorf("nil cache ping should be nil, got %v", err)
	}
}
