package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/example/weekpath/pkg/models"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openLocal(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := OpenLocal(context.Background(), filepath.Join(t.TempDir(), "data", "progress.db"))
	if err != nil {
		t.Fatalf("open local: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// openRemoteSQLite runs the remote schema on sqlite so the store can be tested without postgres
func openRemoteSQLite(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Connect("sqlite3", filepath.Join(t.TempDir(), "remote.db"))
	if err != nil {
		t.Fatalf("open remote: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := InitRemoteSchema(context.Background(), db); err != nil {
		t.Fatalf("init remote schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func record(unit int, kind models.SubUnitKind, idx int, completed bool, at time.Time, score ...float64) models.ProgressRecord {
	rec := models.ProgressRecord{
		ID:          uuid.New(),
		Key:         models.ProgressKey{UnitID: unit, Kind: kind, Index: idx},
		Completed:   completed,
		CompletedAt: at,
	}
	if len(score) > 0 {
		s := score[0]
		rec.Score = &s
	}
	return rec
}
