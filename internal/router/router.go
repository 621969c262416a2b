package router

import (
	"database/sql"
	"net/http"
	"os"
	"time"

	mem "turnstile-service/internal/adapters/storage/memory"
	pg "turnstile-service/internal/adapters/storage/postgres"
	"turnstile-service/internal/domain/access"
	"turnstile-service/internal/domain/gates"
	"turnstile-service/internal/domain/pendingsync"
	"turnstile-service/internal/middleware"
	"turnstile-service/internal/platform/logger"
	"turnstile-service/internal/ports/authority"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type Options struct {
	// Authority puede ser nil (modo dev sin QR Manager): todo scan
	// cae directo a la validación offline.
	Authority authority.Consumer

	// Opcional: si viene, usa Postgres. Si no, in-memory.
	DB *sql.DB

	Logger logger.Logger

	// Tuning opcional; cero = defaults de cada service.
	ScanTimeout time.Duration
	SyncTimeout time.Duration
	BatchLimit  int
	MaxRetries  int
	StaleAfter  time.Duration
}

func NewRouter(opts Options) (http.Handler, *pendingsync.Service) {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Use(middleware.DeviceContext)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	lg := opts.Logger
	if lg == nil {
		lg = logger.NewFromEnv()
	}

	var (
		gatesRepo gates.Repository
		logsRepo  access.LogRepository
		usageRepo access.UsageRepository
		queueRepo pendingsync.Repository
	)

	// Si no te pasan DB explícita, intenta por env (para dev/handoff)
	db := opts.DB
	if db == nil {
		if dsn := os.Getenv("DB_DSN"); dsn != "" {
			opened, err := pg.Open(dsn)
			if err == nil {
				db = opened
			}
		}
	}

	if db != nil {
		gatesRepo = pg.NewGatesRepo(db)
		logsRepo = pg.NewAccessLogsRepo(db)
		usageRepo = pg.NewUsageRepo(db)
		queueRepo = pg.NewPendingSyncRepo(db)
	} else {
		gatesRepo = mem.NewGatesRepo()
		logsRepo = mem.NewAccessLogsRepo()
		usageRepo = mem.NewUsageRepo()
		queueRepo = mem.NewPendingSyncRepo()
	}

	// Services por módulo
	gatesSvc := gates.NewService(gatesRepo)

	syncSvc := pendingsync.NewService(pendingsync.ServiceConfig{
		Repo:        queueRepo,
		Logs:        logsRepo,
		Usage:       usageRepo,
		Policies:    gatesRepo,
		Remote:      opts.Authority,
		Logger:      lg,
		BatchLimit:  opts.BatchLimit,
		MaxRetries:  opts.MaxRetries,
		SyncTimeout: opts.SyncTimeout,
		StaleAfter:  opts.StaleAfter,
	})

	accessSvc := access.NewService(access.ServiceConfig{
		Logs:        logsRepo,
		Usage:       usageRepo,
		Policies:    gatesRepo,
		Remote:      opts.Authority,
		Queue:       syncSvc,
		Logger:      lg,
		ScanTimeout: opts.ScanTimeout,
	})

	// Rutas por módulo
	access.RegisterRoutes(r, accessSvc)
	gates.RegisterRoutes(r, gatesSvc)
	pendingsync.RegisterRoutes(r, syncSvc)

	return r, syncSvc
}
