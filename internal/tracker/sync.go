package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/weekpath/internal/progress"
	"github.com/example/weekpath/pkg/models"
)

var ErrNoRemote = errors.New("remote store not configured")

// FlushResult reports one pass over the outbox
type FlushResult struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// Flush pushes queued writes to the remote store, oldest first. It stops at
// the first failure since the store is most likely unreachable again.
func (s *Service) Flush(ctx context.Context) (FlushResult, error) {
	var res FlushResult
	remote := s.remoteStore()
	if s.outbox == nil {
		return res, nil
	}
	if remote == nil {
		// writes stay queued until AttachRemote
		n, err := s.outbox.Len(ctx)
		res.Remaining = n
		return res, err
	}

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	pending, err := s.outbox.Pending(ctx, 0)
	if err != nil {
		return res, err
	}

	for _, entry := range pending {
		if err := ctx.Err(); err != nil {
			break
		}
		callCtx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
		err := s.deliver(callCtx, remote, entry.Record)
		cancel()
		if err != nil {
			res.Failed++
			s.log.Warn("outbox flush stopped", "key", entry.Record.Key.String(), "tries", entry.Tries+1, "error", err)
			break
		}
		res.Delivered++
	}

	res.Remaining, err = s.outbox.Len(ctx)
	if err != nil {
		return res, err
	}
	if res.Delivered > 0 {
		s.log.Info("outbox flushed", "delivered", res.Delivered, "remaining", res.Remaining)
	}
	return res, nil
}

// Pull copies remote records that change this device's view into the local
// cache, so progress made on other devices stays visible offline. Each copied
// record is announced as a relayed ProgressChanged.
func (s *Service) Pull(ctx context.Context) (int, error) {
	if s.remoteStore() == nil {
		return 0, ErrNoRemote
	}

	remote, err := s.readRemote(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read remote progress: %w", err)
	}
	local, err := s.local.ReadAll(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to read local progress: %w", err)
	}

	mine := progress.Reconcile(local, nil)
	pulled := 0
	for _, rec := range remote {
		if _, err := s.catalog.Validate(rec.Key); err != nil {
			s.log.Debug("skipping remote record outside catalog", "key", rec.Key.String())
			continue
		}
		cur, seen := mine[rec.Key]
		if seen && (cur.ID == rec.ID || progress.Merge(cur, rec).ID != rec.ID) {
			continue
		}

		rec.Source = models.SourceRemote
		if err := s.local.Write(ctx, rec); err != nil {
			return pulled, fmt.Errorf("%w: %w", ErrLocalWrite, err)
		}
		pulled++
		s.bus.Publish(models.ProgressChanged{UserID: s.userID, DeviceID: s.deviceID, Record: rec, Relayed: true})
	}

	if pulled > 0 {
		s.log.Info("pulled remote progress", "records", pulled)
	}
	return pulled, nil
}
