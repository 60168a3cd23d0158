package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionEventChannel = "voice:session:%s:events"
	eventBufferSize     = 64
)

type EventPublisher interface {
	Publish(ctx context.Context, ev *Event) error
}

// EventBus fans session events out over redis pub/sub so any instance can
// serve an event stream for a session it does not host.
type EventBus struct {
	redis  *redis.Client
	logger *slog.Logger
}

func NewEventBus(redisClient *redis.Client, logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		redis:  redisClient,
		logger: logger.With("component", "event_bus"),
	}
}

func (b *EventBus) Publish(ctx context.Context, ev *Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.redis.Publish(ctx, fmt.Sprintf(sessionEventChannel, ev.SessionID), data).Err()
}

// Subscribe returns the events of one session until ctx ends. The
// subscription is confirmed before Subscribe returns.
func (b *EventBus) Subscribe(ctx context.Context, sessionID string) (<-chan *Event, error) {
	channel := fmt.Sprintf(sessionEventChannel, sessionID)
	pubsub := b.redis.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan *Event, eventBufferSize)
	go func() {
		defer close(out)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}

				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Error("unmarshal session event", "error", err, "session_id", sessionID)
					continue
				}

				select {
				case out <- &ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	b.logger.Debug("subscribed to session events", "session_id", sessionID, "channel", channel)
	return out, nil
}
