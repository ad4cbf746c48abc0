package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/weekpath/internal/catalog"
	"github.com/example/weekpath/internal/events"
	"github.com/example/weekpath/internal/platform/logger"
	"github.com/example/weekpath/internal/progress"
	"github.com/example/weekpath/pkg/models"
)

func TestRecordCompletionWritesLocalAndRemote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newFakeRemote(), nil)

	var mu sync.Mutex
	var seen []models.ProgressChanged
	f.bus.Subscribe(func(evt models.ProgressChanged) {
		mu.Lock()
		seen = append(seen, evt)
		mu.Unlock()
	})

	rec, err := f.svc.RecordCompletion(ctx, 1, models.KindModule, 0, Payload{})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !rec.Completed || rec.Source != models.SourceLocal {
		t.Fatalf("unexpected record %+v", rec)
	}

	// the local cache reflects the completion before any remote round trip
	got, ok, err := f.local.Read(ctx, rec.Key)
	if err != nil || !ok || got.ID != rec.ID {
		t.Fatalf("local cache missing record: ok=%v err=%v", ok, err)
	}

	mu.Lock()
	if len(seen) != 1 || seen[0].Record.ID != rec.ID || seen[0].DeviceID != "phone" {
		t.Fatalf("expected one ProgressChanged, got %+v", seen)
	}
	mu.Unlock()

	f.settle(t)
	if !f.remote.has(rec.Key) {
		t.Fatalf("remote never received the write")
	}
	if n, _ := f.outbox.Len(ctx); n != 0 {
		t.Fatalf("delivered write should leave the outbox, %d left", n)
	}
}

func TestRemoteWriteFailureKeepsLocal(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.setFailing(true)
	f := newFixture(t, remote, nil)

	published := 0
	f.bus.Subscribe(func(models.ProgressChanged) { published++ })

	rec, err := f.svc.RecordCompletion(ctx, 1, models.KindModule, 0, Payload{})
	if err != nil {
		t.Fatalf("remote failure must not surface: %v", err)
	}
	if published != 1 {
		t.Fatalf("event must be emitted regardless of remote outcome")
	}
	f.settle(t)

	if _, ok, _ := f.local.Read(ctx, rec.Key); !ok {
		t.Fatalf("local write was rolled back")
	}
	pending, err := f.outbox.Pending(ctx, 0)
	if err != nil || len(pending) != 1 || pending[0].Tries != 1 {
		t.Fatalf("expected one failed outbox entry, got %+v err=%v", pending, err)
	}

	// connectivity comes back
	remote.setFailing(false)
	res, err := f.svc.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if res.Delivered != 1 || res.Remaining != 0 {
		t.Fatalf("unexpected flush result %+v", res)
	}
	if !remote.has(rec.Key) {
		t.Fatalf("flush did not reach remote")
	}
}

func TestFlushStopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.setFailing(true)
	f := newFixture(t, remote, nil)

	for i := 0; i < 3; i++ {
		if _, err := f.svc.RecordCompletion(ctx, 1, models.KindModule, i, Payload{}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	f.settle(t)

	res, err := f.svc.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if res.Delivered != 0 || res.Failed != 1 || res.Remaining != 3 {
		t.Fatalf("unexpected flush result %+v", res)
	}
}

func TestLocalWriteFailureIsFatal(t *testing.T) {
	c := catalog.Default()
	log := logger.NewNop()
	bus := events.NewBus(log)
	remote := newFakeRemote()
	svc := NewService(c, progress.NewEvaluator(c, nil), failingLocal{}, remote, nil, bus, log, Options{UserID: "u"})

	published := false
	bus.Subscribe(func(models.ProgressChanged) { published = true })

	_, err := svc.RecordCompletion(context.Background(), 1, models.KindModule, 0, Payload{})
	if !errors.Is(err, ErrLocalWrite) {
		t.Fatalf("expected ErrLocalWrite, got %v", err)
	}
	if published {
		t.Fatalf("no event may be published for a failed local write")
	}
	_ = svc.Close(context.Background())
	if remote.upserts != 0 {
		t.Fatalf("remote must not be written when the local write failed")
	}
}

func TestRecordCompletionValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)

	tests := []struct {
		name string
		unit int
		kind models.SubUnitKind
		idx  int
		p    Payload
		want error
	}{
		{name: "unknown unit", unit: 99, kind: models.KindModule, want: catalog.ErrUnknownUnit},
		{name: "module out of range", unit: 1, kind: models.KindModule, idx: 4, want: catalog.ErrUnknownSubUnit},
		{name: "quiz without score", unit: 1, kind: models.KindQuiz, want: ErrScoreRequired},
		{name: "score too high", unit: 1, kind: models.KindQuiz, p: Payload{Score: score(101)}, want: ErrInvalidScore},
		{name: "exam on weekly unit", unit: 1, kind: models.KindFinalExam, p: Payload{Score: score(80)}, want: catalog.ErrUnknownSubUnit},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.RecordCompletion(ctx, tc.unit, tc.kind, tc.idx, tc.p)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestQuizThresholdAndHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)

	for i := 0; i < 4; i++ {
		if _, err := f.svc.RecordCompletion(ctx, 1, models.KindModule, i, Payload{}); err != nil {
			t.Fatalf("module %d: %v", i, err)
		}
	}

	first := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	failed, err := f.svc.RecordCompletion(ctx, 1, models.KindQuiz, 0, Payload{Score: score(65), At: first})
	if err != nil {
		t.Fatalf("quiz: %v", err)
	}
	if failed.Completed {
		t.Fatalf("65 must not pass a 70 threshold")
	}
	st, err := f.svc.GetUnitStatus(ctx, 1)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Status != models.StatusInProgress || st.Percent != 50 {
		t.Fatalf("failed quiz must not regress modules, got %s %d", st.Status, st.Percent)
	}

	if _, err := f.svc.RecordCompletion(ctx, 1, models.KindQuiz, 0, Payload{Score: score(70), At: first.Add(time.Hour)}); err != nil {
		t.Fatalf("quiz: %v", err)
	}
	st, _ = f.svc.GetUnitStatus(ctx, 1)
	if st.Status != models.StatusCompleted || st.Percent != 100 {
		t.Fatalf("expected completed unit, got %s %d", st.Status, st.Percent)
	}

	history, err := f.svc.History(ctx, 1, models.KindQuiz, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Completed || !history[1].Completed {
		t.Fatalf("expected failed then passed attempt, got %+v", history)
	}
}

func TestStartedMarker(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)

	rec, err := f.svc.RecordCompletion(ctx, 2, models.KindModule, 0, Payload{Started: true})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.Completed {
		t.Fatalf("start marker must not complete the module")
	}
	st, _ := f.svc.GetUnitStatus(ctx, 2)
	if st.Status != models.StatusInProgress || st.Modules[0].Status != models.StatusInProgress {
		t.Fatalf("expected in_progress, got %s / %s", st.Status, st.Modules[0].Status)
	}
}

func TestGetUnitStatusMergesRemote(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	f := newFixture(t, remote, nil)

	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		if _, err := f.svc.RecordCompletion(ctx, 1, models.KindModule, i, Payload{At: at}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	f.settle(t)

	// another device finished module 2; this device never saw it
	remote.put(models.ProgressRecord{
		Key:         models.ProgressKey{UnitID: 1, Kind: models.KindModule, Index: 2},
		Completed:   true,
		CompletedAt: at.Add(time.Hour),
	})
	// and a stale row claims module 1 is not done
	remote.put(models.ProgressRecord{
		Key:         models.ProgressKey{UnitID: 1, Kind: models.KindModule, Index: 1},
		CompletedAt: at.Add(2 * time.Hour),
	})

	st, err := f.svc.GetUnitStatus(ctx, 1)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for i := 0; i < 3; i++ {
		if st.Modules[i].Status != models.StatusCompleted {
			t.Fatalf("module %d should be completed, got %s", i, st.Modules[i].Status)
		}
	}
	if st.Modules[3].Status != models.StatusAvailable {
		t.Fatalf("module 3 should be available, got %s", st.Modules[3].Status)
	}
}

func TestOfflineDegradation(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	f := newFixture(t, remote, nil)

	if _, err := f.svc.RecordCompletion(ctx, 1, models.KindModule, 0, Payload{}); err != nil {
		t.Fatalf("record: %v", err)
	}
	f.settle(t)

	remote.mu.Lock()
	remote.hang = true
	remote.mu.Unlock()

	start := time.Now()
	st, err := f.svc.GetUnitStatus(ctx, 1)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("status took %s, expected to give up after the remote timeout", elapsed)
	}
	if st.Modules[0].Status != models.StatusCompleted || st.Modules[1].Status != models.StatusAvailable {
		t.Fatalf("expected local-only status, got %+v", st.Modules)
	}
}

func TestRemoteReadFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	f := newFixture(t, remote, nil)

	remote.put(models.ProgressRecord{Key: models.ProgressKey{UnitID: 1, Kind: models.KindQuiz}, Completed: true, Score: score(90)})
	remote.setFailing(true)

	st, err := f.svc.GetUnitStatus(ctx, 1)
	if err != nil {
		t.Fatalf("remote read failure must not surface: %v", err)
	}
	if st.Status != models.StatusAvailable {
		t.Fatalf("expected local-only view, got %s", st.Status)
	}
}

func TestPullHydratesLocalCache(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	f := newFixture(t, remote, progress.Sequential())

	quiz := models.ProgressRecord{
		Key:         models.ProgressKey{UnitID: 1, Kind: models.KindQuiz},
		Completed:   true,
		Score:       score(88),
		CompletedAt: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
	}
	remote.put(quiz)
	// outside the catalog; ignored
	remote.put(models.ProgressRecord{Key: models.ProgressKey{UnitID: 42, Kind: models.KindModule}, Completed: true})

	relayed := 0
	f.bus.Subscribe(func(evt models.ProgressChanged) {
		if evt.Relayed {
			relayed++
		}
	})

	n, err := f.svc.Pull(ctx)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if n != 1 || relayed != 1 {
		t.Fatalf("expected one pulled record and event, got %d / %d", n, relayed)
	}
	if n, _ := f.svc.Pull(ctx); n != 0 {
		t.Fatalf("second pull should be a no-op, pulled %d", n)
	}

	remote.setFailing(true)
	curriculum, err := f.svc.GetCurriculum(ctx)
	if err != nil {
		t.Fatalf("curriculum: %v", err)
	}
	if curriculum[0].Status != models.StatusCompleted || curriculum[1].Status != models.StatusAvailable {
		t.Fatalf("pulled pass should unlock week 2 offline, got %s / %s", curriculum[0].Status, curriculum[1].Status)
	}
}

func TestPullWithoutRemote(t *testing.T) {
	f := newFixture(t, nil, nil)
	if _, err := f.svc.Pull(context.Background()); !errors.Is(err, ErrNoRemote) {
		t.Fatalf("expected ErrNoRemote, got %v", err)
	}
	res, err := f.svc.Flush(context.Background())
	if err != nil || res != (FlushResult{}) {
		t.Fatalf("flush without remote should be a no-op, got %+v %v", res, err)
	}
}

func TestOfflineStartQueuesWrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)

	rec, err := f.svc.RecordCompletion(ctx, 1, models.KindModule, 0, Payload{})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if n, err := f.outbox.Len(ctx); err != nil || n != 1 {
		t.Fatalf("write made while offline must be queued, len=%d err=%v", n, err)
	}

	res, err := f.svc.Flush(ctx)
	if err != nil || res.Delivered != 0 || res.Remaining != 1 {
		t.Fatalf("flush without remote must keep the queue, got %+v %v", res, err)
	}

	// the shared store becomes reachable later in the session
	if f.svc.RemoteAttached() {
		t.Fatalf("no remote should be attached yet")
	}
	remote := newFakeRemote()
	f.svc.AttachRemote(remote)
	if !f.svc.RemoteAttached() {
		t.Fatalf("remote not attached")
	}
	res, err = f.svc.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if res.Delivered != 1 || res.Remaining != 0 || !remote.has(rec.Key) {
		t.Fatalf("queued write not delivered after attach: %+v", res)
	}
}

func TestSlowSubscriberDoesNotBlockWrites(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.mu.Lock()
	remote.hang = true
	remote.mu.Unlock()
	f := newFixture(t, remote, nil)

	hold := make(chan struct{})
	evaluated := make(chan models.UnitStatus, 1)
	f.svc.OnProgressChanged(func(evt models.ProgressChanged) {
		// re-evaluates against the hanging store, then stalls further
		st, _ := f.svc.GetUnitStatus(context.Background(), evt.Record.Key.UnitID)
		<-hold
		evaluated <- st
	})

	returned := make(chan error, 1)
	go func() {
		_, err := f.svc.RecordCompletion(ctx, 1, models.KindModule, 0, Payload{})
		returned <- err
	}()

	select {
	case err := <-returned:
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	case <-time.After(2 * time.Second):
		close(hold)
		t.Fatalf("RecordCompletion waited on a subscriber")
	}

	close(hold)
	select {
	case st := <-evaluated:
		if st.Modules[0].Status != models.StatusCompleted {
			t.Fatalf("subscriber should see the local write, got %s", st.Modules[0].Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("subscriber never ran")
	}
}

func TestHistoryIncludesRemoteAttempts(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	f := newFixture(t, remote, nil)

	at := time.Date(2026, 4, 6, 8, 0, 0, 0, time.UTC)
	if _, err := f.svc.RecordCompletion(ctx, 1, models.KindQuiz, 0, Payload{Score: score(55), At: at.Add(time.Hour)}); err != nil {
		t.Fatalf("record: %v", err)
	}
	f.settle(t)

	// an earlier attempt made on another device
	remote.addHistory(models.ProgressRecord{
		Key:         models.ProgressKey{UnitID: 1, Kind: models.KindQuiz},
		Score:       score(40),
		CompletedAt: at,
	})

	history, err := f.svc.History(ctx, 1, "Quiz", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected local and remote attempt once each, got %+v", history)
	}
	if *history[0].Score != 40 || *history[1].Score != 55 {
		t.Fatalf("expected attempts oldest first, got %v then %v", *history[0].Score, *history[1].Score)
	}

	remote.setFailing(true)
	history, err = f.svc.History(ctx, 1, models.KindQuiz, 0)
	if err != nil || len(history) != 1 {
		t.Fatalf("expected local attempts only while remote fails, got %d %v", len(history), err)
	}
}
