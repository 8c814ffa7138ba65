// Package redis bridges a notify.Signal across coordinator processes with
// Redis pub/sub. Every Notify is published on one channel; every process
// subscribed to it forwards the message to its local Signal, so a
// submission accepted by one process wakes the claim loop in another.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	bridge := redisnotify.New(client, signal)
//	d.AddRunner(bridge)
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/docket/notify"
)

// DefaultChannel is the pub/sub channel used unless WithChannel is given.
const DefaultChannel = "docket:wake"

// Ensure Bridge implements notify.Notifier at compile time.
var _ notify.Notifier = (*Bridge)(nil)

// Option configures the Bridge.
type Option func(*Bridge)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithChannel overrides the pub/sub channel name.
func WithChannel(name string) Option {
	return func(b *Bridge) { b.channel = name }
}

// Bridge publishes wake-ups to Redis and forwards received ones to a
// local signal.
type Bridge struct {
	client  redis.UniversalClient
	local   *notify.Signal
	channel string
	logger  *slog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// New creates a Bridge. The caller owns the Redis client lifecycle.
func New(client redis.UniversalClient, local *notify.Signal, opts ...Option) *Bridge {
	b := &Bridge{
		client:  client,
		local:   local,
		channel: DefaultChannel,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Channel returns the pub/sub channel name.
func (b *Bridge) Channel() string { return b.channel }

// Notify wakes the local signal and publishes the wake-up. The local
// wake-up happens even when Redis is unreachable.
func (b *Bridge) Notify(ctx context.Context) error {
	if b.local != nil {
		_ = b.local.Notify(ctx)
	}
	if err := b.client.Publish(ctx, b.channel, "wake").Err(); err != nil {
		return fmt.Errorf("docket/redis: publish %s: %w", b.channel, err)
	}
	return nil
}

// Start subscribes to the channel and forwards messages until Stop.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub != nil {
		return nil
	}

	ps := b.client.Subscribe(ctx, b.channel)
	// Wait for the subscription confirmation so no publish after Start
	// returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("docket/redis: subscribe %s: %w", b.channel, err)
	}

	b.pubsub = ps
	b.done = make(chan struct{})
	go b.forward(ps.Channel(), b.done)

	b.logger.Info("wake bridge subscribed", slog.String("channel", b.channel))
	return nil
}

// Stop closes the subscription and waits for the forwarder to exit.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	ps, done := b.pubsub, b.done
	b.pubsub, b.done = nil, nil
	b.mu.Unlock()
	if ps == nil {
		return nil
	}

	err := ps.Close()
	if errors.Is(err, redis.ErrClosed) {
		err = nil
	}
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	if err != nil {
		return fmt.Errorf("docket/redis: unsubscribe %s: %w", b.channel, err)
	}
	return nil
}

func (b *Bridge) forward(msgs <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for range msgs {
		if b.local != nil {
			_ = b.local.Notify(context.Background())
		}
	}
}
