package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/weekpath/pkg/models"
)

var ErrMissingUser = errors.New("missing user id")

// RemoteStore is the durable multi-device progress store. Upserts are
// idempotent on (user_id, unit_id, kind, sub_index).
type RemoteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewRemoteStore creates a store over an opened remote database
func NewRemoteStore(db *sqlx.DB) *RemoteStore {
	return &RemoteStore{db: db, now: time.Now}
}

// Upsert records rec for userID. Writing the same record twice leaves one
// row with the same content; a stale or failed record never replaces a
// completed one.
func (s *RemoteStore) Upsert(ctx context.Context, userID string, rec models.ProgressRecord) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrMissingUser
	}
	row := newRow(rec)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO progress_attempts (user_id, `+progressColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (record_id) DO NOTHING
	`), userID, row.RecordID, row.UnitID, row.Kind, row.SubIndex, row.Completed, row.Score, row.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to append remote attempt %s: %w", rec.Key, err)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO progress_records (user_id, `+progressColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, unit_id, kind, sub_index) DO UPDATE SET
			record_id = excluded.record_id,
			completed = excluded.completed,
			score = excluded.score,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at
		WHERE `+supersedes("progress_records")),
		userID, row.RecordID, row.UnitID, row.Kind, row.SubIndex, row.Completed, row.Score, row.CompletedAt, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert remote progress %s: %w", rec.Key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit remote progress %s: %w", rec.Key, err)
	}
	return nil
}

// ReadAll returns the current record of every key for userID
func (s *RemoteStore) ReadAll(ctx context.Context, userID string) ([]models.ProgressRecord, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrMissingUser
	}

	var rows []progressRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+progressColumns+` FROM progress_records
		WHERE user_id = ?
		ORDER BY unit_id, kind, sub_index
	`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote progress: %w", err)
	}
	return toRecords(rows, models.SourceRemote)
}

// History returns every attempt recorded remotely for one key, oldest first
func (s *RemoteStore) History(ctx context.Context, userID string, key models.ProgressKey) ([]models.ProgressRecord, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrMissingUser
	}

	var rows []progressRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+progressColumns+` FROM progress_attempts
		WHERE user_id = ? AND unit_id = ? AND kind = ? AND sub_index = ?
		ORDER BY completed_at, record_id
	`), userID, key.UnitID, string(key.Kind), key.Index)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote history %s: %w", key, err)
	}
	return toRecords(rows, models.SourceRemote)
}
