package tracker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/example/weekpath/internal/catalog"
	"github.com/example/weekpath/internal/database"
	"github.com/example/weekpath/internal/events"
	"github.com/example/weekpath/internal/platform/logger"
	"github.com/example/weekpath/internal/progress"
	"github.com/example/weekpath/pkg/models"
)

var errOffline = errors.New("network unreachable")

// fakeRemote is an in-memory remote store that can fail or hang on demand
type fakeRemote struct {
	mu      sync.Mutex
	rows    map[models.ProgressKey]models.ProgressRecord
	history []models.ProgressRecord
	upserts int
	failing bool
	// hang makes calls block until release is closed, ignoring ctx
	hang    bool
	release chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{rows: make(map[models.ProgressKey]models.ProgressRecord), release: make(chan struct{})}
}

func (f *fakeRemote) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *fakeRemote) wait() error {
	f.mu.Lock()
	hang, failing := f.hang, f.failing
	f.mu.Unlock()
	if hang {
		<-f.release
	}
	if failing {
		return errOffline
	}
	return nil
}

func (f *fakeRemote) Upsert(_ context.Context, _ string, rec models.ProgressRecord) error {
	if err := f.wait(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	rec.Source = models.SourceRemote
	f.history = append(f.history, rec)
	if cur, ok := f.rows[rec.Key]; ok {
		rec = progress.Merge(cur, rec)
	}
	f.rows[rec.Key] = rec
	return nil
}

func (f *fakeRemote) ReadAll(_ context.Context, _ string) ([]models.ProgressRecord, error) {
	if err := f.wait(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ProgressRecord, 0, len(f.rows))
	for _, r := range f.rows {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRemote) History(_ context.Context, _ string, key models.ProgressKey) ([]models.ProgressRecord, error) {
	if err := f.wait(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ProgressRecord
	for _, r := range f.history {
		if r.Key == key {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRemote) addHistory(rec models.ProgressRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.Source = models.SourceRemote
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	f.history = append(f.history, rec)
}

func (f *fakeRemote) put(rec models.ProgressRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.Source = models.SourceRemote
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	f.rows[rec.Key] = rec
}

func (f *fakeRemote) has(key models.ProgressKey) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[key]
	return ok
}

type failingLocal struct{}

func (failingLocal) Write(context.Context, models.ProgressRecord) error { return errors.New("disk full") }
func (failingLocal) ReadAll(context.Context, string) ([]models.ProgressRecord, error) {
	return nil, nil
}
func (failingLocal) Attempts(context.Context, models.ProgressKey) ([]models.ProgressRecord, error) {
	return nil, nil
}

type fixture struct {
	svc    *Service
	local  *database.LocalCache
	outbox *database.Outbox
	remote *fakeRemote
	bus    *events.Bus
}

func newFixture(t *testing.T, remote *fakeRemote, policy progress.UnitPolicy) *fixture {
	t.Helper()
	db, err := database.OpenLocal(context.Background(), filepath.Join(t.TempDir(), "progress.db"))
	if err != nil {
		t.Fatalf("open local: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	c := catalog.Default()
	log := logger.NewNop()
	bus := events.NewBus(log)
	local := database.NewLocalCache(db)
	outbox := database.NewOutbox(db)

	var rs RemoteStore
	if remote != nil {
		rs = remote
	}
	svc := NewService(c, progress.NewEvaluator(c, policy), local, rs, outbox, bus, log, Options{
		UserID:        "learner-1",
		DeviceID:      "phone",
		RemoteTimeout: 100 * time.Millisecond,
	})
	t.Cleanup(func() {
		if remote != nil {
			select {
			case <-remote.release:
			default:
				close(remote.release)
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})
	return &fixture{svc: svc, local: local, outbox: outbox, remote: remote, bus: bus}
}

func (f *fixture) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.svc.Close(ctx); err != nil {
		t.Fatalf("in-flight writes did not finish: %v", err)
	}
}

func score(v float64) *float64 { return &v }
