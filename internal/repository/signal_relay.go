package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-feed-engine/internal/models"
)

// RelayEnvelope carries a live signal between API instances.
type RelayEnvelope struct {
	Origin   string        `json:"origin"`
	Signal   models.Signal `json:"signal"`
	Audience []string      `json:"audience"`
}

// RedisRelay fans live signals out to every API instance over Redis pub/sub.
// Each instance, including the publisher, delivers to its own sessions from
// its subscription.
type RedisRelay struct {
	client     *redis.Client
	channel    string
	instanceID string
	logger     *zap.Logger
}

// NewRedisRelay creates a relay on the given channel.
func NewRedisRelay(client *redis.Client, channel string, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{client: client, channel: channel, instanceID: uuid.NewString(), logger: logger}
}

// Publish sends a signal for the audience to every instance.
func (r *RedisRelay) Publish(ctx context.Context, sig models.Signal, audience []string) error {
	payload, err := json.Marshal(RelayEnvelope{Origin: r.instanceID, Signal: sig, Audience: audience})
	if err != nil {
		return fmt.Errorf("marshal relay envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", r.channel, err)
	}
	return nil
}

// RelaySubscription is a confirmed subscription to the relay channel.
type RelaySubscription struct {
	pubsub *redis.PubSub
	logger *zap.Logger
}

// Subscribe returns once Redis confirmed the subscription.
func (r *RedisRelay) Subscribe(ctx context.Context) (*RelaySubscription, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}
	return &RelaySubscription{pubsub: pubsub, logger: r.logger}, nil
}

// Run hands every relayed envelope to deliver until ctx ends.
func (s *RelaySubscription) Run(ctx context.Context, deliver func(context.Context, models.Signal, []string)) error {
	defer s.pubsub.Close()
	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("relay channel closed")
			}
			var env RelayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				s.logger.Warn("drop malformed relay message", zap.Error(err))
				continue
			}
			deliver(ctx, env.Signal, env.Audience)
		}
	}
}
