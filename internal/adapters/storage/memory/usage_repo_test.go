package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"turnstile-service/internal/domain/access"
)

func TestUsageRepo_ConsumeUse_StopsAtMax(t *testing.T) {
	repo := NewUsageRepo()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := repo.Create(ctx, access.UsageEntry{JTI: "j1", MaxUses: 2, Status: access.UsagePending}); err != nil {
		t.Fatal(err)
	}

	e, ok, err := repo.ConsumeUse(ctx, "j1", now)
	if err != nil || !ok {
		t.Fatalf("first consume: ok=%v err=%v", ok, err)
	}
	if e.UsedCount != 1 || e.Status != access.UsageActive {
		t.Fatalf("after first consume: %+v", e)
	}
	if !e.LastSyncAt.Equal(now) {
		t.Fatalf("consume must touch LastSyncAt")
	}

	if _, ok, _ := repo.ConsumeUse(ctx, "j1", now); !ok {
		t.Fatalf("second consume of a 2-use entry must succeed")
	}

	e, ok, err = repo.ConsumeUse(ctx, "j1", now)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("third consume must be rejected")
	}
	if e.UsedCount != 2 {
		t.Fatalf("rejected consume must not mutate the counter, got %d", e.UsedCount)
	}
}

func TestUsageRepo_ConsumeUse_NotFound(t *testing.T) {
	repo := NewUsageRepo()
	if _, _, err := repo.ConsumeUse(context.Background(), "missing", time.Now()); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// UsedCount nunca puede superar MaxUses, aunque los consumos lleguen en paralelo.
func TestUsageRepo_ConsumeUse_Concurrent(t *testing.T) {
	repo := NewUsageRepo()
	ctx := context.Background()

	const maxUses = 3
	const attempts = 64

	if err := repo.Create(ctx, access.UsageEntry{JTI: "race", MaxUses: maxUses}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := repo.ConsumeUse(ctx, "race", time.Now()); err == nil && ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != maxUses {
		t.Fatalf("expected exactly %d grants, got %d", maxUses, granted)
	}
	e, err := repo.GetByJTI(ctx, "race")
	if err != nil {
		t.Fatal(err)
	}
	if e.UsedCount != maxUses {
		t.Fatalf("expected used count %d, got %d", maxUses, e.UsedCount)
	}
}

func TestUsageRepo_ListStale(t *testing.T) {
	repo := NewUsageRepo()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []access.UsageEntry{
		{JTI: "stale-active", Status: access.UsageActive, LastSyncAt: now.Add(-time.Hour), MaxUses: 1},
		{JTI: "stale-revoked", Status: access.UsageRevoked, LastSyncAt: now.Add(-time.Hour), MaxUses: 1},
		{JTI: "fresh-active", Status: access.UsageActive, LastSyncAt: now, MaxUses: 1},
	}
	for _, e := range entries {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := repo.ListStale(ctx, now.Add(-time.Minute), []access.UsageStatus{access.UsageActive, access.UsagePending})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].JTI != "stale-active" {
		t.Fatalf("expected only stale-active, got %+v", got)
	}
}
