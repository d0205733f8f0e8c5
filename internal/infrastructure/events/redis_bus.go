package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"deskbridge/internal/core/domain"
	"deskbridge/pkg/batch"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "deskbridge:events"

// Envelope is the wire form of a session event on the Redis channel.
type Envelope struct {
	InstanceID string              `json:"instance_id"`
	Event      domain.SessionEvent `json:"event"`
}

// RedisBus mirrors session events onto a Redis pub/sub channel so other
// instances and external consumers can follow session activity. Publish
// never blocks the session: events are queued and sent in pipelined
// batches.
type RedisBus struct {
	client         *redis.Client
	instanceID     string
	channel        string
	publishTimeout time.Duration
	queue          *batch.Batcher[domain.SessionEvent]
	logger         *zap.SugaredLogger
}

func NewRedisBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *RedisBus {
	b := &RedisBus{
		client:         client,
		instanceID:     instanceID,
		channel:        DefaultChannel,
		publishTimeout: 2 * time.Second,
		logger:         logger,
	}
	b.queue = batch.New(batch.Config{
		Size:       32,
		Interval:   20 * time.Millisecond,
		MaxPending: 1024,
	}, b.publishBatch)
	b.queue.OnError(func(err error, items int) {
		logger.Warnw("Failed to mirror session events",
			"events", items,
			"error", err,
		)
	})
	return b
}

func (b *RedisBus) Publish(event domain.SessionEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if !b.queue.Add(event) {
		b.logger.Debugw("Event mirror closed, dropping event",
			"session_id", event.SessionID,
			"type", event.Type,
		)
	}
}

// PublishContext sends one event immediately.
func (b *RedisBus) PublishContext(ctx context.Context, event domain.SessionEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, err := b.encode(event)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (b *RedisBus) encode(event domain.SessionEvent) ([]byte, error) {
	data, err := json.Marshal(Envelope{InstanceID: b.instanceID, Event: event})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

func (b *RedisBus) publishBatch(ctx context.Context, events []domain.SessionEvent) error {
	ctx, cancel := context.WithTimeout(ctx, b.publishTimeout)
	defer cancel()

	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, ev := range events {
			data, err := b.encode(ev)
			if err != nil {
				return err
			}
			pipe.Publish(ctx, b.channel, data)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish %d events: %w", len(events), err)
	}
	return nil
}

// Close sends whatever is still queued. Publish drops events afterwards.
func (b *RedisBus) Close() {
	b.queue.Stop()
	if n := b.queue.Dropped(); n > 0 {
		b.logger.Warnw("Event mirror dropped events under backpressure", "events", n)
	}
}

// Subscribe calls handler for every event published by other instances
// until ctx is done.
func (b *RedisBus) Subscribe(ctx context.Context, handler func(instanceID string, event domain.SessionEvent)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}
			if env.InstanceID == b.instanceID {
				continue
			}
			handler(env.InstanceID, env.Event)
		}
	}
}
