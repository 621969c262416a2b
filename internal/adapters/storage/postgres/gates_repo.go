package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"turnstile-service/internal/domain/gates"
)

type GatesRepo struct {
	db *sql.DB
}

func NewGatesRepo(db *sql.DB) *GatesRepo {
	return &GatesRepo{db: db}
}

const gatePolicyColumns = `
	gate, name, location, is_active, maintenance_mode,
	allowed_gates, working_hours,
	validation_timeout_ms, max_retry_attempts, retry_interval_ms, data_retention_days,
	last_sync_at, total_accesses, failed_syncs,
	created_at, updated_at
`

func (r *GatesRepo) Create(ctx context.Context, p gates.Policy) error {
	allowed, hours, err := policyJSON(p)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO gate_policies (`+gatePolicyColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		p.Gate,
		p.Name,
		p.Location,
		p.IsActive,
		p.MaintenanceMode,
		allowed,
		hours,
		p.ValidationTimeout.Milliseconds(),
		p.MaxRetryAttempts,
		p.RetryInterval.Milliseconds(),
		p.DataRetentionDays,
		toNullTime(p.LastSyncAt),
		p.TotalAccesses,
		p.FailedSyncs,
		p.CreatedAt,
		p.UpdatedAt,
	)
	return err
}

func (r *GatesRepo) Update(ctx context.Context, p gates.Policy) error {
	allowed, hours, err := policyJSON(p)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE gate_policies
		SET
			name = $2,
			location = $3,
			is_active = $4,
			maintenance_mode = $5,
			allowed_gates = $6,
			working_hours = $7,
			validation_timeout_ms = $8,
			max_retry_attempts = $9,
			retry_interval_ms = $10,
			data_retention_days = $11,
			updated_at = $12
		WHERE gate = $1
	`,
		p.Gate,
		p.Name,
		p.Location,
		p.IsActive,
		p.MaintenanceMode,
		allowed,
		hours,
		p.ValidationTimeout.Milliseconds(),
		p.MaxRetryAttempts,
		p.RetryInterval.Milliseconds(),
		p.DataRetentionDays,
		p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GatesRepo) GetByGate(ctx context.Context, gate string) (gates.Policy, error) {
	gate = strings.TrimSpace(gate)
	if gate == "" {
		return gates.Policy{}, ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT `+gatePolicyColumns+`
		FROM gate_policies
		WHERE gate = $1
	`, gate)

	return scanPolicy(row)
}

func (r *GatesRepo) List(ctx context.Context) ([]gates.Policy, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+gatePolicyColumns+`
		FROM gate_policies
		ORDER BY gate ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]gates.Policy, 0)
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *GatesRepo) Delete(ctx context.Context, gate string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM gate_policies WHERE gate = $1`, gate)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GatesRepo) IncrementStats(ctx context.Context, gate string, accesses, failedSyncs int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE gate_policies
		SET
			total_accesses = total_accesses + $2,
			failed_syncs = failed_syncs + $3,
			last_sync_at = $4,
			updated_at = $4
		WHERE gate = $1
	`, gate, accesses, failedSyncs, at)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (gates.Policy, error) {
	var p gates.Policy
	var allowed, hours []byte
	var validationMs, retryMs int64
	var lastSync sql.NullTime

	if err := row.Scan(
		&p.Gate,
		&p.Name,
		&p.Location,
		&p.IsActive,
		&p.MaintenanceMode,
		&allowed,
		&hours,
		&validationMs,
		&p.MaxRetryAttempts,
		&retryMs,
		&p.DataRetentionDays,
		&lastSync,
		&p.TotalAccesses,
		&p.FailedSyncs,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return gates.Policy{}, ErrNotFound
		}
		return gates.Policy{}, err
	}

	p.ValidationTimeout = time.Duration(validationMs) * time.Millisecond
	p.RetryInterval = time.Duration(retryMs) * time.Millisecond
	if lastSync.Valid {
		t := lastSync.Time
		p.LastSyncAt = &t
	}
	if len(allowed) > 0 {
		if err := json.Unmarshal(allowed, &p.AllowedGates); err != nil {
			return gates.Policy{}, err
		}
	}
	if len(hours) > 0 {
		var wh gates.WorkingHours
		if err := json.Unmarshal(hours, &wh); err != nil {
			return gates.Policy{}, err
		}
		p.WorkingHours = &wh
	}
	return p, nil
}

func policyJSON(p gates.Policy) ([]byte, []byte, error) {
	var allowed, hours []byte
	var err error
	if p.AllowedGates != nil {
		if allowed, err = json.Marshal(p.AllowedGates); err != nil {
			return nil, nil, err
		}
	}
	if p.WorkingHours != nil {
		if hours, err = json.Marshal(p.WorkingHours); err != nil {
			return nil, nil, err
		}
	}
	return allowed, hours, nil
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
