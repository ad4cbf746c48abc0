package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/weekpath/pkg/models"
)

// progressRow is the column set shared by every progress table
type progressRow struct {
	RecordID    string          `db:"record_id"`
	UnitID      int             `db:"unit_id"`
	Kind        string          `db:"kind"`
	SubIndex    int             `db:"sub_index"`
	Completed   bool            `db:"completed"`
	Score       sql.NullFloat64 `db:"score"`
	CompletedAt time.Time       `db:"completed_at"`
}

const progressColumns = "record_id, unit_id, kind, sub_index, completed, score, completed_at"

// supersedes is the monotonic merge rule expressed over an upsert: the
// incoming row replaces the stored one only if it completes the key, or has
// the same completion and is at least as recent.
func supersedes(table string) string {
	return fmt.Sprintf(`(excluded.completed AND NOT %[1]s.completed)
		OR (excluded.completed = %[1]s.completed AND excluded.completed_at >= %[1]s.completed_at)`, table)
}

func newRow(rec models.ProgressRecord) progressRow {
	row := progressRow{
		RecordID:    rec.ID.String(),
		UnitID:      rec.Key.UnitID,
		Kind:        string(rec.Key.Kind),
		SubIndex:    rec.Key.Index,
		Completed:   rec.Completed,
		CompletedAt: rec.CompletedAt.UTC(),
	}
	if rec.Score != nil {
		row.Score = sql.NullFloat64{Float64: *rec.Score, Valid: true}
	}
	return row
}

func (r progressRow) record(source models.Source) (models.ProgressRecord, error) {
	id, err := uuid.Parse(r.RecordID)
	if err != nil {
		return models.ProgressRecord{}, fmt.Errorf("bad record id %q: %w", r.RecordID, err)
	}
	rec := models.ProgressRecord{
		ID:          id,
		Key:         models.ProgressKey{UnitID: r.UnitID, Kind: models.SubUnitKind(r.Kind), Index: r.SubIndex},
		Completed:   r.Completed,
		CompletedAt: r.CompletedAt.UTC(),
		Source:      source,
	}
	if r.Score.Valid {
		score := r.Score.Float64
		rec.Score = &score
	}
	return rec, nil
}

func toRecords(rows []progressRow, source models.Source) ([]models.ProgressRecord, error) {
	out := make([]models.ProgressRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record(source)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
