package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when no journal row matches.
var ErrNotFound = errors.New("failed send not found")

const failedColumns = `id, temp_id, conversation_id, sender_id, receiver_id, content, reason,
	status, resent_temp_id, attempts, created_at, updated_at`

// RecordFailure journals f with status failed. Recording the same tempId
// again updates the reason.
func (db *DB) RecordFailure(ctx context.Context, f FailedSend) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO failed_sends (temp_id, conversation_id, sender_id, receiver_id, content, reason, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'failed', ?, ?)
		ON CONFLICT(temp_id) DO UPDATE SET reason = excluded.reason, status = 'failed', updated_at = excluded.updated_at`,
		f.TempID, f.ConversationID, f.SenderID, f.ReceiverID, f.Content, f.Reason, now, now)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// FailedSends lists journal rows, newest first. With no statuses given,
// every row is returned.
func (db *DB) FailedSends(ctx context.Context, statuses ...string) ([]FailedSend, error) {
	q := `SELECT ` + failedColumns + ` FROM failed_sends`
	var args []any
	if len(statuses) > 0 {
		q += ` WHERE status IN (?` + strings.Repeat(",?", len(statuses)-1) + `)`
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	q += ` ORDER BY updated_at DESC, id DESC`
	return db.queryFailed(ctx, q, args...)
}

// QueuedRetries returns the rows waiting to be resent, oldest first.
func (db *DB) QueuedRetries(ctx context.Context) ([]FailedSend, error) {
	return db.queryFailed(ctx, `SELECT `+failedColumns+`
		FROM failed_sends WHERE status = 'queued' ORDER BY updated_at ASC, id ASC`)
}

// GetFailedSend returns the row for tempID.
func (db *DB) GetFailedSend(ctx context.Context, tempID string) (*FailedSend, error) {
	rows, err := db.queryFailed(ctx, `SELECT `+failedColumns+` FROM failed_sends WHERE temp_id = ?`, tempID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// QueueRetry moves a failed row to queued. Rows already queued are left as
// they are; resent rows cannot be queued again.
func (db *DB) QueueRetry(ctx context.Context, tempID string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE failed_sends SET status = 'queued', updated_at = ?
		WHERE temp_id = ? AND status IN ('failed', 'queued')`,
		time.Now().UnixMilli(), tempID)
	if err != nil {
		return fmt.Errorf("queue retry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue retry: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkResent records that tempID went out again as resentTempID.
func (db *DB) MarkResent(ctx context.Context, tempID, resentTempID string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE failed_sends SET status = 'resent', resent_temp_id = ?, attempts = attempts + 1, updated_at = ?
		WHERE temp_id = ?`,
		resentTempID, time.Now().UnixMilli(), tempID)
	if err != nil {
		return fmt.Errorf("mark resent: %w", err)
	}
	return nil
}

// MarkRetryFailed puts a queued row back to failed with reason.
func (db *DB) MarkRetryFailed(ctx context.Context, tempID, reason string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE failed_sends SET status = 'failed', reason = ?, attempts = attempts + 1, updated_at = ?
		WHERE temp_id = ?`,
		reason, time.Now().UnixMilli(), tempID)
	if err != nil {
		return fmt.Errorf("mark retry failed: %w", err)
	}
	return nil
}

func (db *DB) queryFailed(ctx context.Context, q string, args ...any) ([]FailedSend, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed sends: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []FailedSend
	for rows.Next() {
		var f FailedSend
		var created, updated int64
		if err := rows.Scan(&f.ID, &f.TempID, &f.ConversationID, &f.SenderID, &f.ReceiverID, &f.Content,
			&f.Reason, &f.Status, &f.ResentTempID, &f.Attempts, &created, &updated); err != nil {
			return nil, err
		}
		f.CreatedAt = time.UnixMilli(created)
		f.UpdatedAt = time.UnixMilli(updated)
		out = append(out, f)
	}
	return out, rows.Err()
}
