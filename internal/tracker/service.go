// Package tracker is the single entry point for progress reads and writes.
// Consumers record completions and read unit status here and never touch
// the underlying stores.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/weekpath/internal/catalog"
	"github.com/example/weekpath/internal/database"
	"github.com/example/weekpath/internal/events"
	"github.com/example/weekpath/internal/platform/logger"
	"github.com/example/weekpath/internal/progress"
	"github.com/example/weekpath/pkg/models"
)

var (
	ErrLocalWrite    = errors.New("could not save progress, try again")
	ErrScoreRequired = errors.New("score required")
	ErrInvalidScore  = errors.New("score must be between 0 and 100")
)

// DefaultRemoteTimeout bounds every remote call made on behalf of a caller
const DefaultRemoteTimeout = 5 * time.Second

// EventBuffer is how many ProgressChanged events a slow subscriber may lag
// behind before further events are dropped for it
const EventBuffer = 64

// LocalStore is the device cache
type LocalStore interface {
	Write(ctx context.Context, rec models.ProgressRecord) error
	ReadAll(ctx context.Context, prefix string) ([]models.ProgressRecord, error)
	Attempts(ctx context.Context, key models.ProgressKey) ([]models.ProgressRecord, error)
}

// RemoteStore is the shared, possibly unreachable store
type RemoteStore interface {
	Upsert(ctx context.Context, userID string, rec models.ProgressRecord) error
	ReadAll(ctx context.Context, userID string) ([]models.ProgressRecord, error)
}

// HistoryReader is implemented by remote stores that keep every attempt
type HistoryReader interface {
	History(ctx context.Context, userID string, key models.ProgressKey) ([]models.ProgressRecord, error)
}

// Queue holds remote writes until they are confirmed
type Queue interface {
	Enqueue(ctx context.Context, rec models.ProgressRecord) error
	Pending(ctx context.Context, limit int) ([]database.OutboxEntry, error)
	Ack(ctx context.Context, rec models.ProgressRecord) error
	Fail(ctx context.Context, rec models.ProgressRecord, cause error) error
	Len(ctx context.Context) (int, error)
}

// Payload carries the learner action behind a completion
type Payload struct {
	// Score in percent, required for quizzes and the final exam
	Score *float64
	// Started records a lesson-start marker instead of a completion
	Started bool
	// At overrides the event time; zero means now
	At time.Time
}

type Options struct {
	UserID        string
	DeviceID      string
	RemoteTimeout time.Duration
	Now           func() time.Time
}

type Service struct {
	catalog   *catalog.Catalog
	evaluator *progress.Evaluator
	local     LocalStore
	outbox    Queue
	bus       *events.Bus
	log       *logger.Logger

	userID        string
	deviceID      string
	remoteTimeout time.Duration
	now           func() time.Time

	remoteMu sync.RWMutex
	remote   RemoteStore

	inflight sync.WaitGroup
	flushMu  sync.Mutex
}

// NewService wires the engine. remote may be nil while the shared store is
// unreachable; writes still queue in outbox and AttachRemote connects later.
// outbox may be nil for a device that never syncs.
func NewService(
	c *catalog.Catalog,
	evaluator *progress.Evaluator,
	local LocalStore,
	remote RemoteStore,
	outbox Queue,
	bus *events.Bus,
	log *logger.Logger,
	opts Options,
) *Service {
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = DefaultRemoteTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		catalog:       c,
		evaluator:     evaluator,
		local:         local,
		remote:        remote,
		outbox:        outbox,
		bus:           bus,
		log:           log.With("component", "Tracker", "user_id", opts.UserID),
		userID:        opts.UserID,
		deviceID:      opts.DeviceID,
		remoteTimeout: opts.RemoteTimeout,
		now:           opts.Now,
	}
}

// RecordCompletion is the only write path. The local write must succeed
// before it returns; the remote write happens in the background and its
// failure never reverses the local one.
func (s *Service) RecordCompletion(ctx context.Context, unitID int, kind models.SubUnitKind, index int, p Payload) (models.ProgressRecord, error) {
	kind = models.SubUnitKind(strings.ToLower(string(kind)))
	key := models.ProgressKey{UnitID: unitID, Kind: kind, Index: index}
	unit, err := s.catalog.Validate(key)
	if err != nil {
		return models.ProgressRecord{}, err
	}

	rec, err := s.newRecord(unit, key, p)
	if err != nil {
		return models.ProgressRecord{}, err
	}

	if err := s.local.Write(ctx, rec); err != nil {
		s.log.Error("local progress write failed", "key", key.String(), "error", err)
		return models.ProgressRecord{}, fmt.Errorf("%w: %w", ErrLocalWrite, err)
	}

	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, rec); err != nil {
			s.log.Warn("outbox enqueue failed", "key", key.String(), "error", err)
		}
	}
	if remote := s.remoteStore(); remote != nil {
		s.push(remote, rec)
	}

	s.bus.Publish(models.ProgressChanged{UserID: s.userID, DeviceID: s.deviceID, Record: rec})
	return rec, nil
}

func (s *Service) newRecord(unit catalog.Unit, key models.ProgressKey, p Payload) (models.ProgressRecord, error) {
	at := p.At
	if at.IsZero() {
		at = s.now()
	}
	rec := models.ProgressRecord{
		ID:          uuid.New(),
		Key:         key,
		CompletedAt: at.UTC(),
		Source:      models.SourceLocal,
	}

	if p.Score != nil {
		if *p.Score < 0 || *p.Score > 100 {
			return models.ProgressRecord{}, ErrInvalidScore
		}
		score := *p.Score
		rec.Score = &score
	}

	switch {
	case p.Started:
		rec.Completed = false
	case key.Kind.Scored():
		if rec.Score == nil {
			return models.ProgressRecord{}, fmt.Errorf("%s: %w", key, ErrScoreRequired)
		}
		rec.Completed = unit.Passed(*rec.Score)
	default:
		rec.Completed = true
	}
	return rec, nil
}

// AttachRemote installs the shared store once it becomes reachable
func (s *Service) AttachRemote(remote RemoteStore) {
	s.remoteMu.Lock()
	s.remote = remote
	s.remoteMu.Unlock()
	s.log.Info("remote store attached")
}

// RemoteAttached reports whether a shared store is in use
func (s *Service) RemoteAttached() bool {
	return s.remoteStore() != nil
}

func (s *Service) remoteStore() RemoteStore {
	s.remoteMu.RLock()
	defer s.remoteMu.RUnlock()
	return s.remote
}

func (s *Service) push(remote RemoteStore, rec models.ProgressRecord) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.remoteTimeout)
		defer cancel()
		if err := s.deliver(ctx, remote, rec); err != nil {
			s.log.Warn("remote progress write failed, left in outbox", "key", rec.Key.String(), "error", err)
		}
	}()
}

func (s *Service) deliver(ctx context.Context, remote RemoteStore, rec models.ProgressRecord) error {
	err := remote.Upsert(ctx, s.userID, rec)
	if s.outbox == nil {
		return err
	}

	// outbox bookkeeping is local and must not inherit an expired remote deadline
	bookCtx, cancel := context.WithTimeout(context.Background(), s.remoteTimeout)
	defer cancel()
	if err != nil {
		if ferr := s.outbox.Fail(bookCtx, rec, err); ferr != nil {
			s.log.Warn("outbox update failed", "key", rec.Key.String(), "error", ferr)
		}
		return err
	}
	if aerr := s.outbox.Ack(bookCtx, rec); aerr != nil {
		s.log.Warn("outbox ack failed", "key", rec.Key.String(), "error", aerr)
	}
	return nil
}

// GetUnitStatus reconciles both stores and evaluates one unit
func (s *Service) GetUnitStatus(ctx context.Context, unitID int) (models.UnitStatus, error) {
	if _, err := s.catalog.Unit(unitID); err != nil {
		return models.UnitStatus{}, err
	}
	merged, err := s.load(ctx)
	if err != nil {
		return models.UnitStatus{}, err
	}
	return s.evaluator.Evaluate(unitID, merged)
}

// GetCurriculum evaluates every unit from one reconciliation pass
func (s *Service) GetCurriculum(ctx context.Context) ([]models.UnitStatus, error) {
	merged, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return s.evaluator.EvaluateAll(merged), nil
}

// History lists every recorded attempt for one sub-unit, oldest first. When
// the shared store is reachable its attempts from other devices are included.
func (s *Service) History(ctx context.Context, unitID int, kind models.SubUnitKind, index int) ([]models.ProgressRecord, error) {
	kind = models.SubUnitKind(strings.ToLower(string(kind)))
	key := models.ProgressKey{UnitID: unitID, Kind: kind, Index: index}
	if _, err := s.catalog.Validate(key); err != nil {
		return nil, err
	}
	local, err := s.local.Attempts(ctx, key)
	if err != nil {
		return nil, err
	}

	reader, ok := s.remoteStore().(HistoryReader)
	if !ok {
		return local, nil
	}
	remote, err := bounded(ctx, s.remoteTimeout, func(ctx context.Context) ([]models.ProgressRecord, error) {
		return reader.History(ctx, s.userID, key)
	})
	if err != nil {
		s.log.Warn("remote history unavailable, using local attempts", "key", key.String(), "error", err)
		return local, nil
	}

	seen := make(map[uuid.UUID]bool, len(local))
	out := make([]models.ProgressRecord, 0, len(local)+len(remote))
	for _, rec := range local {
		seen[rec.ID] = true
		out = append(out, rec)
	}
	for _, rec := range remote {
		if !seen[rec.ID] {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CompletedAt.Before(out[j].CompletedAt) })
	return out, nil
}

// OnProgressChanged subscribes fn and returns the unsubscribe function. fn
// runs on its own goroutine, so a slow consumer never holds up a write.
func (s *Service) OnProgressChanged(fn func(models.ProgressChanged)) func() {
	return s.bus.SubscribeAsync(fn, EventBuffer)
}

// Close waits for in-flight remote writes, or until ctx is done
func (s *Service) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) load(ctx context.Context) (models.MergedState, error) {
	local, err := s.local.ReadAll(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read local progress: %w", err)
	}
	remote, _ := s.readRemote(ctx)
	return progress.Reconcile(local, remote), nil
}

type result[T any] struct {
	val T
	err error
}

// bounded runs fn with a deadline and returns by the deadline even if fn
// ignores its context
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		ch <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// readRemote returns the remote view or nil when the store is absent,
// failing or slower than the timeout.
func (s *Service) readRemote(ctx context.Context) ([]models.ProgressRecord, error) {
	remote := s.remoteStore()
	if remote == nil {
		return nil, nil
	}

	recs, err := bounded(ctx, s.remoteTimeout, func(ctx context.Context) ([]models.ProgressRecord, error) {
		return remote.ReadAll(ctx, s.userID)
	})
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		s.log.Warn("remote progress read timed out, using local data", "timeout", s.remoteTimeout.String())
		return nil, err
	case err != nil:
		s.log.Warn("remote progress read failed, using local data", "error", err)
		return nil, err
	}
	return recs, nil
}
