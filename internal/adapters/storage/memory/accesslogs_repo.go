package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"turnstile-service/internal/domain/access"

	"github.com/google/uuid"
)

type accessLogsRepo struct {
	mu      sync.RWMutex
	entries []access.LogEntry
}

func NewAccessLogsRepo() access.LogRepository {
	return &accessLogsRepo{
		entries: make([]access.LogEntry, 0),
	}
}

func (r *accessLogsRepo) Append(ctx context.Context, e access.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *accessLogsRepo) ListRecent(ctx context.Context, gate string, limit int) ([]access.LogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]access.LogEntry, 0)
	for _, e := range r.entries {
		if gate != "" && e.Gate != gate {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *accessLogsRepo) CountSynced(ctx context.Context, gate string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, e := range r.entries {
		if gate != "" && e.Gate != gate {
			continue
		}
		if e.Synced {
			n++
		}
	}
	return n, nil
}

func (r *accessLogsRepo) LastSyncedAt(ctx context.Context, gate string) (*time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var last *time.Time
	for _, e := range r.entries {
		if gate != "" && e.Gate != gate {
			continue
		}
		if !e.Synced || e.SyncTimestamp == nil {
			continue
		}
		if last == nil || e.SyncTimestamp.After(*last) {
			t := *e.SyncTimestamp
			last = &t
		}
	}
	return last, nil
}

func (r *accessLogsRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make([]access.LogEntry, 0, len(r.entries))
	var dropped int64
	for _, e := range r.entries {
		if e.Timestamp.Before(cutoff) {
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return dropped, nil
}
