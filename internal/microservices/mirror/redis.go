package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"possync/internal/logging"
	udp "possync/internal/microservices/udp-server"
)

// LatestTTL bounds how long the last tick stays readable after the server stops.
const LatestTTL = time.Minute

// RedisMirror publishes every broadcast tick to a Redis channel and keeps the most recent
// one under "<channel>:latest". A nil mirror or one without a client does nothing.
type RedisMirror struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisMirror connects and pings before returning.
func NewRedisMirror(addr, password, channel string, logger *zap.Logger) (*RedisMirror, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisMirror(rdb, channel, logger), nil
}

func newRedisMirror(client *redis.Client, channel string, logger *zap.Logger) *RedisMirror {
	return &RedisMirror{client: client, channel: channel, logger: logging.OrNop(logger)}
}

func (r *RedisMirror) latestKey() string {
	return r.channel + ":latest"
}

// OnTick makes the mirror a udp.TickObserver.
func (r *RedisMirror) OnTick(ctx context.Context, event udp.TickEvent) error {
	if r == nil || r.client == nil {
		return nil
	}
	payload, err := EncodeTick(event)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Publish(ctx, r.channel, payload)
	pipe.Set(ctx, r.latestKey(), payload, LatestTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mirror tick %d: %w", event.Tick, err)
	}
	return nil
}

// Latest returns the most recently mirrored tick. ok is false when nothing is stored.
func (r *RedisMirror) Latest(ctx context.Context) (event udp.TickEvent, ok bool, err error) {
	if r == nil || r.client == nil {
		return udp.TickEvent{}, false, nil
	}
	data, err := r.client.Get(ctx, r.latestKey()).Bytes()
	if err == redis.Nil {
		return udp.TickEvent{}, false, nil
	}
	if err != nil {
		return udp.TickEvent{}, false, err
	}
	event, err = DecodeTick(data)
	if err != nil {
		return udp.TickEvent{}, false, err
	}
	return event, true, nil
}

// Subscribe calls fn for every tick published on the channel until ctx is cancelled.
// Payloads that do not decode are logged and skipped.
func (r *RedisMirror) Subscribe(ctx context.Context, fn func(udp.TickEvent)) error {
	if r == nil || r.client == nil {
		return nil
	}
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			event, err := DecodeTick([]byte(msg.Payload))
			if err != nil {
				r.logger.Warn("mirror_payload_invalid", zap.Error(err))
				continue
			}
			fn(event)
		}
	}
}

func (r *RedisMirror) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

var _ udp.TickObserver = (*RedisMirror)(nil)

// EncodeTick is the JSON payload published per tick.
func EncodeTick(event udp.TickEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tick %d: %w", event.Tick, err)
	}
	return data, nil
}

func DecodeTick(data []byte) (udp.TickEvent, error) {
	var event udp.TickEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return udp.TickEvent{}, fmt.Errorf("failed to decode tick: %w", err)
	}
	return event, nil
}
