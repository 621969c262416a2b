package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"turnstile-service/internal/domain/access"
	"turnstile-service/internal/domain/credentials"

	"github.com/google/uuid"
)

type AccessLogsRepo struct {
	db *sql.DB
}

func NewAccessLogsRepo(db *sql.DB) *AccessLogsRepo {
	return &AccessLogsRepo{db: db}
}

const accessLogColumns = `
	id, jti, gate, user_id,
	access_type, access_method,
	ts, reason, synced, sync_timestamp,
	payload, manager_response
`

func (r *AccessLogsRepo) Append(ctx context.Context, e access.LogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO access_logs (`+accessLogColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		e.ID,
		e.JTI,
		e.Gate,
		e.UserID,
		string(e.AccessType),
		string(e.AccessMethod),
		e.Timestamp,
		e.Reason,
		e.Synced,
		toNullTime(e.SyncTimestamp),
		payload,
		nilIfEmpty(e.ManagerResponse),
	)
	return err
}

func (r *AccessLogsRepo) ListRecent(ctx context.Context, gate string, limit int) ([]access.LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + accessLogColumns + `
		FROM access_logs
	`
	args := []any{}
	if gate != "" {
		query += ` WHERE gate = $1 ORDER BY ts DESC LIMIT $2`
		args = append(args, gate, limit)
	} else {
		query += ` ORDER BY ts DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]access.LogEntry, 0)
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *AccessLogsRepo) CountSynced(ctx context.Context, gate string) (int64, error) {
	var n int64
	var err error
	if gate != "" {
		err = r.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM access_logs WHERE synced AND gate = $1`, gate).Scan(&n)
	} else {
		err = r.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM access_logs WHERE synced`).Scan(&n)
	}
	return n, err
}

func (r *AccessLogsRepo) LastSyncedAt(ctx context.Context, gate string) (*time.Time, error) {
	var last sql.NullTime
	var err error
	if gate != "" {
		err = r.db.QueryRowContext(ctx,
			`SELECT MAX(sync_timestamp) FROM access_logs WHERE synced AND gate = $1`, gate).Scan(&last)
	} else {
		err = r.db.QueryRowContext(ctx,
			`SELECT MAX(sync_timestamp) FROM access_logs WHERE synced`).Scan(&last)
	}
	if err != nil {
		return nil, err
	}
	if !last.Valid {
		return nil, nil
	}
	t := last.Time
	return &t, nil
}

func (r *AccessLogsRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM access_logs WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanLogEntry(row rowScanner) (access.LogEntry, error) {
	var e access.LogEntry
	var accessType, accessMethod string
	var syncTS sql.NullTime
	var payload, managerResp []byte

	if err := row.Scan(
		&e.ID,
		&e.JTI,
		&e.Gate,
		&e.UserID,
		&accessType,
		&accessMethod,
		&e.Timestamp,
		&e.Reason,
		&e.Synced,
		&syncTS,
		&payload,
		&managerResp,
	); err != nil {
		if err == sql.ErrNoRows {
			return access.LogEntry{}, ErrNotFound
		}
		return access.LogEntry{}, err
	}

	e.AccessType = access.Decision(accessType)
	e.AccessMethod = access.Method(accessMethod)
	if syncTS.Valid {
		t := syncTS.Time
		e.SyncTimestamp = &t
	}
	if len(payload) > 0 {
		var p credentials.Payload
		if err := json.Unmarshal(payload, &p); err != nil {
			return access.LogEntry{}, err
		}
		e.Payload = p
	}
	if len(managerResp) > 0 {
		e.ManagerResponse = json.RawMessage(managerResp)
	}
	return e, nil
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
