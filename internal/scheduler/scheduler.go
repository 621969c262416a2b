package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"turnstile-service/internal/domain/pendingsync"
	"turnstile-service/internal/platform/logger"
)

// Scheduler corre los barridos de fondo del servicio: reconciliación
// periódica, refresco del cache offline y limpieza por retención.
// Las corridas son secuenciales por tarea; un tick que sigue corriendo
// no se solapa con el siguiente.
type Scheduler struct {
	sync *pendingsync.Service
	log  logger.Logger

	syncInterval    time.Duration
	refreshInterval time.Duration
	cleanupInterval time.Duration
	startupDelay    time.Duration
	retentionDays   int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Options struct {
	Sync   *pendingsync.Service
	Logger logger.Logger

	SyncInterval    time.Duration // default 5m
	RefreshInterval time.Duration // default 5m
	CleanupInterval time.Duration // default 24h
	StartupDelay    time.Duration // default 10s
	RetentionDays   int           // default 30
}

func New(opts Options) *Scheduler {
	s := &Scheduler{
		sync:            opts.Sync,
		log:             opts.Logger,
		syncInterval:    opts.SyncInterval,
		refreshInterval: opts.RefreshInterval,
		cleanupInterval: opts.CleanupInterval,
		startupDelay:    opts.StartupDelay,
		retentionDays:   opts.RetentionDays,
	}
	if s.log == nil {
		s.log = logger.New(logger.Options{Level: logger.Info})
	}
	if s.syncInterval <= 0 {
		s.syncInterval = 5 * time.Minute
	}
	if s.refreshInterval <= 0 {
		s.refreshInterval = 5 * time.Minute
	}
	if s.cleanupInterval <= 0 {
		s.cleanupInterval = 24 * time.Hour
	}
	if s.startupDelay <= 0 {
		s.startupDelay = 10 * time.Second
	}
	if s.retentionDays <= 0 {
		s.retentionDays = 30
	}
	return s
}

// Start lanza las goroutines de fondo. Llamar Stop para frenarlas.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(3)
	go s.runSyncLoop(ctx)
	go s.runLoop(ctx, s.refreshInterval, "cache refresh", func(ctx context.Context) error {
		return s.sync.RefreshCache(ctx)
	})
	go s.runLoop(ctx, s.cleanupInterval, "cleanup", func(ctx context.Context) error {
		return s.sync.Cleanup(ctx, s.retentionDays)
	})
}

// Stop frena los loops y espera a que terminen los ticks en curso.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
}

// runSyncLoop dispara una reconciliación inicial poco después del arranque
// (si hay backlog) y después una por intervalo.
func (s *Scheduler) runSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	select {
	case <-ctx.Done():
		return
	case <-time.After(s.startupDelay):
	}

	if n, err := s.sync.PendingCount(ctx); err != nil {
		s.log.Warn("startup pending count failed", map[string]any{"error": err.Error()})
	} else if n > 0 {
		s.log.Info("startup backlog found, syncing", map[string]any{"pending": n})
		s.runSync(ctx)
	}

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runSync(ctx)
		}
	}
}

func (s *Scheduler) runSync(ctx context.Context) {
	res, err := s.sync.Sync(ctx, pendingsync.Request{})
	if err != nil {
		if errors.Is(err, pendingsync.ErrNoAuthority) {
			s.log.Debug("periodic sync skipped: no remote authority", nil)
			return
		}
		s.log.Error("periodic sync failed", map[string]any{"error": err.Error()})
		return
	}
	if res.TotalProcessed > 0 {
		s.log.Info("periodic sync finished", map[string]any{
			"synced": res.SyncedCount,
			"failed": res.FailedCount,
			"total":  res.TotalProcessed,
		})
	}
}

func (s *Scheduler) runLoop(ctx context.Context, interval time.Duration, name string, fn func(context.Context) error) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				if errors.Is(err, pendingsync.ErrNoAuthority) {
					continue
				}
				s.log.Error(name+" failed", map[string]any{"error": err.Error()})
			}
		}
	}
}
