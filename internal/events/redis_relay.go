package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/weekpath/internal/platform/logger"
	"github.com/example/weekpath/pkg/models"
)

// relayBuffer bounds how far Redis publishing may lag behind local events
const relayBuffer = 64

// RedisRelay mirrors ProgressChanged between devices of the same learner.
// Local events are published to a Redis channel; events from the learner's
// other devices are re-published on the local bus with Relayed set.
type RedisRelay struct {
	log      *logger.Logger
	rdb      *redis.Client
	channel  string
	userID   string
	deviceID string
	bus      *Bus
}

func NewRedisRelay(addr, channel, userID, deviceID string, bus *Bus, log *logger.Logger) (*RedisRelay, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if channel == "" {
		channel = "progress"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisRelay{
		log:      log.With("component", "RedisRelay"),
		rdb:      rdb,
		channel:  channel,
		userID:   userID,
		deviceID: deviceID,
		bus:      bus,
	}, nil
}

// Start subscribes to the channel and hooks the relay into the bus. It
// returns once the subscription is confirmed; forwarding stops with ctx.
func (r *RedisRelay) Start(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	unsubscribe := r.bus.SubscribeAsync(func(evt models.ProgressChanged) {
		if !shouldRelay(evt, r.deviceID) {
			return
		}
		pubCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.publish(pubCtx, evt); err != nil {
			r.log.Warn("relay publish failed", "key", evt.Record.Key.String(), "error", err)
		}
	}, relayBuffer)

	go func() {
		defer unsubscribe()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				evt, err := decodeRelayed(m.Payload, r.userID, r.deviceID)
				if err != nil {
					r.log.Warn("bad relay payload", "error", err)
					continue
				}
				if evt == nil {
					continue
				}
				r.bus.Publish(*evt)
			}
		}
	}()
	return nil
}

func (r *RedisRelay) publish(ctx context.Context, evt models.ProgressChanged) error {
	raw, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, raw).Err()
}

func (r *RedisRelay) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}

// shouldRelay keeps relayed events from bouncing back to Redis
func shouldRelay(evt models.ProgressChanged, deviceID string) bool {
	return !evt.Relayed && evt.DeviceID == deviceID
}

// decodeRelayed parses a payload from Redis. It returns nil for events this
// device published itself and for events of other learners sharing the channel.
func decodeRelayed(payload, userID, deviceID string) (*models.ProgressChanged, error) {
	var evt models.ProgressChanged
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return nil, err
	}
	if evt.UserID != userID || evt.DeviceID == deviceID {
		return nil, nil
	}
	evt.Relayed = true
	evt.Record.Source = models.SourceRemote
	return &evt, nil
}
