package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"turnstile-service/internal/domain/pendingsync"
)

func TestPendingSyncRepo_List_OrderAndLimit(t *testing.T) {
	repo := NewPendingSyncRepo()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"c", "a", "b"} {
		offsets := []time.Duration{2 * time.Minute, 0, time.Minute}
		err := repo.Create(ctx, pendingsync.Record{
			ID:        id,
			JTI:       "jti-" + id,
			Gate:      "G1",
			Status:    pendingsync.StatusPending,
			Timestamp: base.Add(offsets[i]),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := repo.List(ctx, pendingsync.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	// Más viejos primero.
	if got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
		t.Fatalf("wrong order: %s %s %s", got[0].ID, got[1].ID, got[2].ID)
	}

	got, err = repo.List(ctx, pendingsync.Filter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].ID != "b" {
		t.Fatalf("limit must keep the oldest: %+v", got)
	}
}

func TestPendingSyncRepo_Claim_OnlyOnce(t *testing.T) {
	repo := NewPendingSyncRepo()
	ctx := context.Background()
	now := time.Now()

	if err := repo.Create(ctx, pendingsync.Record{ID: "r1", Status: pendingsync.StatusPending}); err != nil {
		t.Fatal(err)
	}

	const runners = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	claimed := 0

	for i := 0; i < runners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Claim(ctx, "r1", pendingsync.StatusPending, now)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if ok {
				mu.Lock()
				claimed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if claimed != 1 {
		t.Fatalf("exactly one runner must win the claim, got %d", claimed)
	}
}

func TestPendingSyncRepo_Claim_MissingIsNoop(t *testing.T) {
	repo := NewPendingSyncRepo()
	ok, err := repo.Claim(context.Background(), "gone", pendingsync.StatusPending, time.Now())
	if err != nil {
		t.Fatalf("claiming a deleted record is not an error: %v", err)
	}
	if ok {
		t.Fatalf("deleted record must not be claimable")
	}
}

func TestPendingSyncRepo_Claim_HonorsSourceStatus(t *testing.T) {
	repo := NewPendingSyncRepo()
	ctx := context.Background()
	now := time.Now()

	if err := repo.Create(ctx, pendingsync.Record{ID: "r1", Status: pendingsync.StatusProcessing}); err != nil {
		t.Fatal(err)
	}

	// Un barrido normal no puede tomar algo que ya está processing.
	if ok, _ := repo.Claim(ctx, "r1", pendingsync.StatusPending, now); ok {
		t.Fatalf("pending claim must not steal a processing record")
	}
	// Un reclamo explícito desde processing sí lo re-toma.
	ok, err := repo.Claim(ctx, "r1", pendingsync.StatusProcessing, now)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("processing claim must recover an orphaned record")
	}
}

func TestPendingSyncRepo_RequeueStale(t *testing.T) {
	repo := NewPendingSyncRepo()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []pendingsync.Record{
		{ID: "stalled", Status: pendingsync.StatusProcessing, LastRetryAt: now.Add(-time.Hour)},
		{ID: "in-flight", Status: pendingsync.StatusProcessing, LastRetryAt: now},
		{ID: "queued", Status: pendingsync.StatusPending, LastRetryAt: now.Add(-time.Hour)},
	}
	for _, rec := range records {
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	requeued, err := repo.RequeueStale(ctx, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if requeued != 1 {
		t.Fatalf("expected 1 requeued, got %d", requeued)
	}

	if n, _ := repo.CountByStatus(ctx, "", pendingsync.StatusPending); n != 2 {
		t.Fatalf("stalled record must be pending again, got %d pending", n)
	}
	if n, _ := repo.CountByStatus(ctx, "", pendingsync.StatusProcessing); n != 1 {
		t.Fatalf("fresh in-flight record must stay processing, got %d", n)
	}
}

func TestPendingSyncRepo_DeleteTerminalOlderThan(t *testing.T) {
	repo := NewPendingSyncRepo()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -40)

	records := []pendingsync.Record{
		{ID: "old-completed", Status: pendingsync.StatusCompleted, Timestamp: old},
		{ID: "old-failed", Status: pendingsync.StatusFailed, Timestamp: old},
		{ID: "old-pending", Status: pendingsync.StatusPending, Timestamp: old},
		{ID: "new-completed", Status: pendingsync.StatusCompleted, Timestamp: now},
	}
	for _, rec := range records {
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	dropped, err := repo.DeleteTerminalOlderThan(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		t.Fatal(err)
	}
	if dropped != 2 {
		t.Fatalf("expected 2 dropped, got %d", dropped)
	}

	if n, _ := repo.CountByStatus(ctx, "", pendingsync.StatusPending); n != 1 {
		t.Fatalf("pending records must survive cleanup")
	}
	if n, _ := repo.CountByStatus(ctx, "", pendingsync.StatusCompleted); n != 1 {
		t.Fatalf("recent terminal records must survive cleanup")
	}
}
