package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/weekpath/pkg/models"
)

// LocalCache is the device-scoped progress store. Every write is kept in
// local_attempts; local_progress holds the current record per key.
type LocalCache struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewLocalCache creates a cache over an opened local database
func NewLocalCache(db *sqlx.DB) *LocalCache {
	return &LocalCache{db: db, now: time.Now}
}

// Write stores a progress fact. A fact that does not supersede the stored
// record (for example a failed quiz after a pass) is still kept in history.
func (c *LocalCache) Write(ctx context.Context, rec models.ProgressRecord) error {
	row := newRow(rec)
	key := rec.Key.String()

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO local_attempts (progress_key, `+progressColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (record_id) DO NOTHING
	`, key, row.RecordID, row.UnitID, row.Kind, row.SubIndex, row.Completed, row.Score, row.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to append attempt %s: %w", key, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO local_progress (progress_key, `+progressColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (progress_key) DO UPDATE SET
			record_id = excluded.record_id,
			completed = excluded.completed,
			score = excluded.score,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at
		WHERE `+supersedes("local_progress"),
		key, row.RecordID, row.UnitID, row.Kind, row.SubIndex, row.Completed, row.Score, row.CompletedAt, c.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write progress %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit progress %s: %w", key, err)
	}
	return nil
}

// Read returns the current record for key; ok is false when nothing was written
func (c *LocalCache) Read(ctx context.Context, key models.ProgressKey) (models.ProgressRecord, bool, error) {
	var row progressRow
	err := c.db.GetContext(ctx, &row,
		"SELECT "+progressColumns+" FROM local_progress WHERE progress_key = ?", key.String())
	if errors.Is(err, sql.ErrNoRows) {
		return models.ProgressRecord{}, false, nil
	}
	if err != nil {
		return models.ProgressRecord{}, false, fmt.Errorf("failed to read progress %s: %w", key, err)
	}
	rec, err := row.record(models.SourceLocal)
	if err != nil {
		return models.ProgressRecord{}, false, err
	}
	return rec, true, nil
}

// ReadAll returns every current record whose key starts with prefix.
// An empty prefix returns everything.
func (c *LocalCache) ReadAll(ctx context.Context, prefix string) ([]models.ProgressRecord, error) {
	var rows []progressRow
	err := c.db.SelectContext(ctx, &rows, `
		SELECT `+progressColumns+` FROM local_progress
		WHERE progress_key LIKE ? ESCAPE '\'
		ORDER BY unit_id, kind, sub_index
	`, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	return toRecords(rows, models.SourceLocal)
}

// Attempts returns the full history for key, oldest first
func (c *LocalCache) Attempts(ctx context.Context, key models.ProgressKey) ([]models.ProgressRecord, error) {
	var rows []progressRow
	err := c.db.SelectContext(ctx, &rows, `
		SELECT `+progressColumns+` FROM local_attempts
		WHERE progress_key = ?
		ORDER BY completed_at, record_id
	`, key.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts %s: %w", key, err)
	}
	return toRecords(rows, models.SourceLocal)
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
