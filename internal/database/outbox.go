package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/weekpath/pkg/models"
)

// OutboxEntry is a progress record waiting to reach the remote store
type OutboxEntry struct {
	Record     models.ProgressRecord
	Tries      int
	LastError  string
	EnqueuedAt time.Time
}

type outboxRow struct {
	progressRow
	Tries      int       `db:"tries"`
	LastError  string    `db:"last_error"`
	EnqueuedAt time.Time `db:"enqueued_at"`
}

// Outbox holds remote writes that have not been confirmed yet. It lives in
// the local database so pending writes survive restarts. Entries are keyed
// by the natural key; enqueuing the same key again keeps whichever record
// the merge rule prefers.
type Outbox struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewOutbox(db *sqlx.DB) *Outbox {
	return &Outbox{db: db, now: time.Now}
}

// Enqueue adds or merges a pending write
func (o *Outbox) Enqueue(ctx context.Context, rec models.ProgressRecord) error {
	row := newRow(rec)
	_, err := o.db.ExecContext(ctx, `
		INSERT INTO outbox (progress_key, `+progressColumns+`, tries, last_error, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, '', ?)
		ON CONFLICT (progress_key) DO UPDATE SET
			record_id = excluded.record_id,
			completed = excluded.completed,
			score = excluded.score,
			completed_at = excluded.completed_at,
			enqueued_at = excluded.enqueued_at
		WHERE `+supersedes("outbox"),
		rec.Key.String(), row.RecordID, row.UnitID, row.Kind, row.SubIndex, row.Completed, row.Score, row.CompletedAt, o.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", rec.Key, err)
	}
	return nil
}

// Pending lists queued writes, oldest first. limit <= 0 means no limit.
func (o *Outbox) Pending(ctx context.Context, limit int) ([]OutboxEntry, error) {
	query := `
		SELECT ` + progressColumns + `, tries, last_error, enqueued_at
		FROM outbox
		ORDER BY enqueued_at, progress_key
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []outboxRow
	if err := o.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list outbox: %w", err)
	}

	out := make([]OutboxEntry, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record(models.SourceLocal)
		if err != nil {
			return nil, err
		}
		out = append(out, OutboxEntry{
			Record:     rec,
			Tries:      row.Tries,
			LastError:  row.LastError,
			EnqueuedAt: row.EnqueuedAt,
		})
	}
	return out, nil
}

// Ack removes a delivered entry. A newer record enqueued for the same key
// while the write was in flight stays queued.
func (o *Outbox) Ack(ctx context.Context, rec models.ProgressRecord) error {
	_, err := o.db.ExecContext(ctx,
		"DELETE FROM outbox WHERE progress_key = ? AND record_id = ?",
		rec.Key.String(), rec.ID.String())
	if err != nil {
		return fmt.Errorf("failed to ack %s: %w", rec.Key, err)
	}
	return nil
}

// Fail records a failed delivery attempt
func (o *Outbox) Fail(ctx context.Context, rec models.ProgressRecord, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := o.db.ExecContext(ctx,
		"UPDATE outbox SET tries = tries + 1, last_error = ? WHERE progress_key = ? AND record_id = ?",
		msg, rec.Key.String(), rec.ID.String())
	if err != nil {
		return fmt.Errorf("failed to mark %s: %w", rec.Key, err)
	}
	return nil
}

// Len returns the number of queued writes
func (o *Outbox) Len(ctx context.Context) (int, error) {
	var n int
	if err := o.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM outbox"); err != nil {
		return 0, fmt.Errorf("failed to count outbox: %w", err)
	}
	return n, nil
}
