// Package redisbus carries cross-tab signals over Redis pub/sub, for tabs
// that run as separate agent processes.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jrsteele09/election-session/crosstab"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Bus is a crosstab.Channel on one Redis channel.
type Bus struct {
	client  *redis.Client
	channel string
	log     zerolog.Logger
}

var _ crosstab.Channel = (*Bus)(nil)

// Option configures a Bus.
type Option func(*Bus)

// WithChannel overrides crosstab.ChannelName, e.g. to isolate environments
// sharing one Redis.
func WithChannel(name string) Option {
	return func(b *Bus) {
		b.channel = name
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bus) {
		b.log = l
	}
}

// New creates a bus on client. The client stays owned by the caller.
func New(client *redis.Client, options ...Option) (*Bus, error) {
	if client == nil {
		return nil, fmt.Errorf("[redisbus.New] client is required")
	}
	b := &Bus{
		client:  client,
		channel: crosstab.ChannelName,
		log:     log.Logger.With().Str("component", "redisbus").Logger(),
	}
	for _, opt := range options {
		opt(b)
	}
	return b, nil
}

// Dial connects to addr and checks the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (b *Bus) Publish(ctx context.Context, sig crosstab.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish signal: %w", err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so a signal
// published after Subscribe returns is never missed.
func (b *Bus) Subscribe(fn func(crosstab.Signal)) (func(), error) {
	ctx := context.Background()
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			var sig crosstab.Signal
			if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
				b.log.Warn().Err(err).Msg("dropping undecodable signal")
				continue
			}
			fn(sig)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = pubsub.Close()
			<-done
		})
	}, nil
}
