// Package events delivers committed escrow events to Redis subscribers and
// to the PostgreSQL audit journal.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"jobmate/escrow-service/internal/escrow"
)

// publisher is the subset of *redis.Client used here.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes each event as JSON on a channel named after its
// type, e.g. EVENT_JOB_POSTED, for the Gateway SSE forwarder.
type RedisPublisher struct {
	rdb publisher
}

// NewRedisPublisher returns a publisher writing through rdb.
func NewRedisPublisher(rdb publisher) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

// Publish implements escrow.EventSink.
func (p *RedisPublisher) Publish(ctx context.Context, ev escrow.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}
	if err := p.rdb.Publish(ctx, string(ev.Type), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// Fanout forwards every event to each sink and joins their errors.
type Fanout []escrow.EventSink

// Publish implements escrow.EventSink.
func (f Fanout) Publish(ctx context.Context, ev escrow.Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
