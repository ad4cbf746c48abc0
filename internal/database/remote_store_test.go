package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/weekpath/pkg/models"
)

func TestRemoteUpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openRemoteSQLite(t)
	store := NewRemoteStore(db)

	rec := record(3, models.KindQuiz, 0, true, base, 88)
	for i := 0; i < 2; i++ {
		if err := store.Upsert(ctx, "learner-1", rec); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
		got, err := store.ReadAll(ctx, "learner-1")
		if err != nil {
			t.Fatalf("read all: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected one logical row, got %d", len(got))
		}
		if got[0].ID != rec.ID || *got[0].Score != 88 || !got[0].CompletedAt.Equal(base) || got[0].Source != models.SourceRemote {
			t.Fatalf("unexpected row %+v", got[0])
		}
	}

	var rows int
	if err := db.Get(&rows, "SELECT COUNT(*) FROM progress_attempts"); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected one history row, got %d", rows)
	}
}

func TestRemoteUpsertMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewRemoteStore(openRemoteSQLite(t))

	done := record(1, models.KindModule, 2, true, base)
	stale := record(1, models.KindModule, 2, false, base.Add(time.Hour))
	if err := store.Upsert(ctx, "u", done); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.Upsert(ctx, "u", stale); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.ReadAll(ctx, "u")
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(got) != 1 || !got[0].Completed {
		t.Fatalf("completion was lost: %+v", got)
	}

	history, err := store.History(ctx, "u", done.Key)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
}

func TestRemoteScopesByUser(t *testing.T) {
	ctx := context.Background()
	store := NewRemoteStore(openRemoteSQLite(t))

	if err := store.Upsert(ctx, "a", record(1, models.KindModule, 0, true, base)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := store.ReadAll(ctx, "b")
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("user b must not see user a's progress")
	}

	if err := store.Upsert(ctx, " ", record(1, models.KindModule, 0, true, base)); !errors.Is(err, ErrMissingUser) {
		t.Fatalf("expected ErrMissingUser, got %v", err)
	}
	if _, err := store.ReadAll(ctx, ""); !errors.Is(err, ErrMissingUser) {
		t.Fatalf("expected ErrMissingUser, got %v", err)
	}
	if _, err := store.History(ctx, "", models.ProgressKey{UnitID: 1, Kind: models.KindModule}); !errors.Is(err, ErrMissingUser) {
		t.Fatalf("expected ErrMissingUser from History, got %v", err)
	}
}
