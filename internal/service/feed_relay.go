package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// FeedRelay carries encoded feed envelopes between service instances.
type FeedRelay interface {
	Name() string
	Publish(ctx context.Context, payload []byte) error
	// Serve consumes envelopes until ctx is done or the transport fails.
	Serve(ctx context.Context, deliver func([]byte)) error
}

type redisFeedRelay struct {
	client  *redis.Client
	channel string
}

// NewRedisFeedRelay relays feed events over Redis pub/sub on <channelBase>:feed.
func NewRedisFeedRelay(client *redis.Client, channelBase string) FeedRelay {
	return &redisFeedRelay{client: client, channel: channelBase + ":feed"}
}

func (r *redisFeedRelay) Name() string { return "redis" }

func (r *redisFeedRelay) Publish(ctx context.Context, payload []byte) error {
	return r.client.Publish(ctx, r.channel, payload).Err()
}

func (r *redisFeedRelay) Serve(ctx context.Context, deliver func([]byte)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("redis feed relay: %w", err)
		}
		deliver([]byte(msg.Payload))
	}
}

type natsFeedRelay struct {
	conn    *nats.Conn
	subject string
}

// NewNATSFeedRelay relays feed events over NATS on <channelBase>.feed. Every
// instance subscribes without a queue group so each one sees every event.
func NewNATSFeedRelay(conn *nats.Conn, channelBase string) FeedRelay {
	return &natsFeedRelay{conn: conn, subject: strings.ReplaceAll(channelBase, ":", ".") + ".feed"}
}

func (r *natsFeedRelay) Name() string { return "nats" }

func (r *natsFeedRelay) Publish(_ context.Context, payload []byte) error {
	return r.conn.Publish(r.subject, payload)
}

func (r *natsFeedRelay) Serve(ctx context.Context, deliver func([]byte)) error {
	sub, err := r.conn.Subscribe(r.subject, func(msg *nats.Msg) {
		deliver(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.subject, err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("drain %s: %w", r.subject, err)
	}
	return ctx.Err()
}

// relayConsumer adapts a FeedRelay to a supervised service.
type relayConsumer struct {
	relay   FeedRelay
	deliver func([]byte)
}

func (c *relayConsumer) Serve(ctx context.Context) error {
	return c.relay.Serve(ctx, c.deliver)
}

func (c *relayConsumer) String() string {
	return c.relay.Name() + "-feed-relay"
}
