package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config agrupa todo lo que el binario lee del entorno.
// Los defaults reproducen el comportamiento de una puerta en producción:
// validación remota corta, reconciliación paciente.
type Config struct {
	Addr string

	// DatabaseDSN vacío = storage en memoria (modo dev / dispositivo sin pg).
	DatabaseDSN string

	QRManagerURL string

	ScanTimeout time.Duration
	SyncTimeout time.Duration

	SyncInterval     time.Duration
	SyncBatchLimit   int
	MaxRetryAttempts int
	StartupSyncDelay time.Duration

	CacheRefreshInterval time.Duration
	CacheStaleAfter      time.Duration

	CleanupInterval   time.Duration
	DataRetentionDays int
}

func FromEnv() Config {
	return Config{
		Addr:         addrFromEnv(),
		DatabaseDSN:  strings.TrimSpace(os.Getenv("DB_DSN")),
		QRManagerURL: strings.TrimSpace(os.Getenv("QR_MANAGER_URL")),

		ScanTimeout: durationFromEnv("SCAN_TIMEOUT", 5*time.Second),
		SyncTimeout: durationFromEnv("SYNC_TIMEOUT", 10*time.Second),

		SyncInterval:     durationFromEnv("SYNC_INTERVAL", 5*time.Minute),
		SyncBatchLimit:   intFromEnv("SYNC_BATCH_LIMIT", 100),
		MaxRetryAttempts: intFromEnv("MAX_RETRY_ATTEMPTS", 5),
		StartupSyncDelay: durationFromEnv("STARTUP_SYNC_DELAY", 10*time.Second),

		CacheRefreshInterval: durationFromEnv("CACHE_REFRESH_INTERVAL", 5*time.Minute),
		CacheStaleAfter:      durationFromEnv("CACHE_STALE_AFTER", 5*time.Minute),

		CleanupInterval:   durationFromEnv("CLEANUP_INTERVAL", 24*time.Hour),
		DataRetentionDays: intFromEnv("DATA_RETENTION_DAYS", 30),
	}
}

func addrFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		return ":" + v
	}
	return ":8080"
}

// durationFromEnv acepta formato Go ("5s", "2m") o segundos pelados ("30").
func durationFromEnv(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return n
	}
	return def
}
