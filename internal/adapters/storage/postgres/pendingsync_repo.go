package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"turnstile-service/internal/domain/access"
	"turnstile-service/internal/domain/credentials"
	"turnstile-service/internal/domain/pendingsync"
)

type PendingSyncRepo struct {
	db *sql.DB
}

func NewPendingSyncRepo(db *sql.DB) *PendingSyncRepo {
	return &PendingSyncRepo{db: db}
}

const pendingSyncColumns = `
	id, jti, gate, user_id,
	access_type, ts, reason, payload,
	retry_count, last_retry_at, status,
	error_message, created_at
`

func (r *PendingSyncRepo) Create(ctx context.Context, rec pendingsync.Record) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pending_sync (`+pendingSyncColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		rec.ID,
		rec.JTI,
		rec.Gate,
		rec.UserID,
		string(rec.AccessType),
		rec.Timestamp,
		rec.Reason,
		payload,
		rec.RetryCount,
		rec.LastRetryAt,
		string(rec.Status),
		rec.ErrorMessage,
		rec.CreatedAt,
	)
	return err
}

func (r *PendingSyncRepo) List(ctx context.Context, f pendingsync.Filter) ([]pendingsync.Record, error) {
	query := `SELECT ` + pendingSyncColumns + ` FROM pending_sync`
	where := ""
	args := []any{}

	addCond := func(cond string, v any) {
		args = append(args, v)
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += fmt.Sprintf(cond, len(args))
	}

	if f.Status != "" {
		addCond("status = $%d", string(f.Status))
	}
	if f.Gate != "" {
		addCond("gate = $%d", f.Gate)
	}
	if !f.From.IsZero() {
		addCond("ts >= $%d", f.From)
	}
	if !f.To.IsZero() {
		addCond("ts <= $%d", f.To)
	}

	query += where + " ORDER BY ts ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]pendingsync.Record, 0)
	for rows.Next() {
		rec, err := scanPendingRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Claim pasa el registro de from a processing. Devuelve false si otro
// barrido ya lo tomo o si el registro desaparecio.
func (r *PendingSyncRepo) Claim(ctx context.Context, id string, from pendingsync.Status, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE pending_sync
		SET status = $2, last_retry_at = $3
		WHERE id = $1 AND status = $4
	`, id, string(pendingsync.StatusProcessing), at, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PendingSyncRepo) RequeueStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE pending_sync
		SET status = $1
		WHERE status = $2 AND last_retry_at < $3
	`, string(pendingsync.StatusPending), string(pendingsync.StatusProcessing), olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PendingSyncRepo) Release(ctx context.Context, id string, retryCount int, status pendingsync.Status, errorMessage string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE pending_sync
		SET status = $2, retry_count = $3, error_message = $4, last_retry_at = $5
		WHERE id = $1
	`, id, string(status), retryCount, errorMessage, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PendingSyncRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pending_sync WHERE id = $1`, id)
	return err
}

func (r *PendingSyncRepo) CountByStatus(ctx context.Context, gate string, status pendingsync.Status) (int64, error) {
	var n int64
	var err error
	if gate != "" {
		err = r.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM pending_sync WHERE status = $1 AND gate = $2`,
			string(status), gate).Scan(&n)
	} else {
		err = r.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM pending_sync WHERE status = $1`,
			string(status)).Scan(&n)
	}
	return n, err
}

func (r *PendingSyncRepo) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM pending_sync
		WHERE status IN ($1, $2) AND ts < $3
	`, string(pendingsync.StatusCompleted), string(pendingsync.StatusFailed), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanPendingRecord(row rowScanner) (pendingsync.Record, error) {
	var rec pendingsync.Record
	var accessType, status string
	var payload []byte

	if err := row.Scan(
		&rec.ID,
		&rec.JTI,
		&rec.Gate,
		&rec.UserID,
		&accessType,
		&rec.Timestamp,
		&rec.Reason,
		&payload,
		&rec.RetryCount,
		&rec.LastRetryAt,
		&status,
		&rec.ErrorMessage,
		&rec.CreatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return pendingsync.Record{}, ErrNotFound
		}
		return pendingsync.Record{}, err
	}

	rec.AccessType = access.Decision(accessType)
	rec.Status = pendingsync.Status(status)
	if len(payload) > 0 {
		var p credentials.Payload
		if err := json.Unmarshal(payload, &p); err != nil {
			return pendingsync.Record{}, err
		}
		rec.Payload = p
	}
	return rec, nil
}
