package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Delivery is one fan-out request. A connection receives the payload at most once
// even when it sits in several of the target rooms.
type Delivery struct {
	Rooms      []string        `json:"rooms,omitempty"`
	All        bool            `json:"all,omitempty"`
	ExceptConn string          `json:"exceptConn,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// Broker carries deliveries to every hub that may hold a target connection.
type Broker interface {
	Publish(ctx context.Context, d Delivery) error
	// Subscribe blocks, handing each delivery to fn until ctx is done.
	Subscribe(ctx context.Context, fn func(Delivery)) error
}

var errBrokerClosed = errors.New("broker closed")

// LocalBroker keeps fan-out inside one process. Once its subscriber returns, Publish
// fails instead of waiting on a buffer nobody drains.
type LocalBroker struct {
	ch        chan Delivery
	done      chan struct{}
	closeOnce sync.Once
}

func NewLocalBroker(buffer int) *LocalBroker {
	return &LocalBroker{ch: make(chan Delivery, buffer), done: make(chan struct{})}
}

func (b *LocalBroker) Publish(ctx context.Context, d Delivery) error {
	select {
	case <-b.done:
		return errBrokerClosed
	default:
	}
	select {
	case b.ch <- d:
		return nil
	case <-b.done:
		return errBrokerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *LocalBroker) Subscribe(ctx context.Context, fn func(Delivery)) error {
	defer b.closeOnce.Do(func() { close(b.done) })
	for {
		select {
		case d := <-b.ch:
			fn(d)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

const redisChannel = "counsel:deliveries"

// RedisBroker fans deliveries out to every server instance through Redis pub/sub.
type RedisBroker struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisBroker(client *redis.Client, logger *slog.Logger) *RedisBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBroker{client: client, logger: logger.With("component", "broker")}
}

func (b *RedisBroker) Publish(ctx context.Context, d Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}
	return b.client.Publish(ctx, redisChannel, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, fn func(Delivery)) error {
	pubsub := b.client.Subscribe(ctx, redisChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var d Delivery
			if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
				b.logger.WarnContext(ctx, "dropping malformed delivery",
					"operation", "broker_subscribe",
					"outcome", "failure",
					"error", err.Error(),
				)
				continue
			}
			fn(d)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
