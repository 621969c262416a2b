package postgres

import (
	"context"
	"database/sql"
	"time"

	"turnstile-service/internal/domain/access"
)

type UsageRepo struct {
	db *sql.DB
}

func NewUsageRepo(db *sql.DB) *UsageRepo {
	return &UsageRepo{db: db}
}

const usageColumns = `
	jti, visit_id, visit_name, gate,
	window_start, window_end,
	max_uses, used_count, status,
	last_sync_at, created_at
`

func (r *UsageRepo) GetByJTI(ctx context.Context, jti string) (access.UsageEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+usageColumns+`
		FROM usage_entries
		WHERE jti = $1
	`, jti)
	return scanUsage(row)
}

func (r *UsageRepo) Create(ctx context.Context, e access.UsageEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO usage_entries (`+usageColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		e.JTI,
		e.VisitID,
		e.VisitName,
		e.Gate,
		zeroNullTime(e.WindowStart),
		zeroNullTime(e.WindowEnd),
		e.MaxUses,
		e.UsedCount,
		string(e.Status),
		e.LastSyncAt,
		e.CreatedAt,
	)
	return err
}

// ConsumeUse: un solo UPDATE condicional; la serialización por JTI la da la
// propia fila. Si la condición no matchea, releemos para devolver los
// contadores actuales.
func (r *UsageRepo) ConsumeUse(ctx context.Context, jti string, at time.Time) (access.UsageEntry, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE usage_entries
		SET
			used_count = used_count + 1,
			status = 'ACTIVE',
			last_sync_at = $2
		WHERE jti = $1 AND used_count < max_uses
		RETURNING `+usageColumns+`
	`, jti, at)

	e, err := scanUsage(row)
	if err == nil {
		return e, true, nil
	}
	if err != ErrNotFound {
		return access.UsageEntry{}, false, err
	}

	// O no existe, o ya está al límite.
	e, err = r.GetByJTI(ctx, jti)
	if err != nil {
		return access.UsageEntry{}, false, err
	}
	return e, false, nil
}

func (r *UsageRepo) SetStatus(ctx context.Context, jti string, status access.UsageStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE usage_entries SET status = $2 WHERE jti = $1
	`, jti, string(status))
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UsageRepo) UpdateLastSync(ctx context.Context, jti string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE usage_entries SET last_sync_at = $2 WHERE jti = $1
	`, jti, at)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UsageRepo) ListStale(ctx context.Context, olderThan time.Time, statuses []access.UsageStatus) ([]access.UsageEntry, error) {
	states := make([]string, 0, len(statuses))
	for _, s := range statuses {
		states = append(states, string(s))
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+usageColumns+`
		FROM usage_entries
		WHERE status = ANY($1) AND last_sync_at < $2
		ORDER BY last_sync_at ASC
	`, states, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]access.UsageEntry, 0)
	for rows.Next() {
		e, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanUsage(row rowScanner) (access.UsageEntry, error) {
	var e access.UsageEntry
	var status string
	var windowStart, windowEnd sql.NullTime

	if err := row.Scan(
		&e.JTI,
		&e.VisitID,
		&e.VisitName,
		&e.Gate,
		&windowStart,
		&windowEnd,
		&e.MaxUses,
		&e.UsedCount,
		&status,
		&e.LastSyncAt,
		&e.CreatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return access.UsageEntry{}, ErrNotFound
		}
		return access.UsageEntry{}, err
	}

	e.Status = access.UsageStatus(status)
	if windowStart.Valid {
		e.WindowStart = windowStart.Time
	}
	if windowEnd.Valid {
		e.WindowEnd = windowEnd.Time
	}
	return e, nil
}

func zeroNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: t, Valid: true}
}
