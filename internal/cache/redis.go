package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ticketon/ticketon/config"
	"github.com/ticketon/ticketon/internal/domain"
)

type RedisCache struct {
	client          *redis.Client
	availabilityTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig, availabilityTTL time.Duration) *RedisCache {
	return &RedisCache{
		client:          redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		availabilityTTL: availabilityTTL,
	}
}

func NewRedisCacheWithClient(client *redis.Client, availabilityTTL time.Duration) *RedisCache {
	return &RedisCache{client: client, availabilityTTL: availabilityTTL}
}

func (c *RedisCache) GetAvailability(ctx context.Context, eventID string) ([]domain.TicketTypeAvailability, error) {
	data, err := c.client.Get(ctx, availabilityKey(eventID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var types []domain.TicketTypeAvailability
	if err := json.Unmarshal(data, &types); err != nil {
		return nil, err
	}
	return types, nil
}

func (c *RedisCache) SetAvailability(ctx context.Context, eventID string, types []domain.TicketTypeAvailability) error {
	payload, err := json.Marshal(types)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, availabilityKey(eventID), payload, c.availabilityTTL).Err()
}

// InvalidateAvailability drops the cached listing after a claim or
// settlement changed the pool. Best effort; the TTL bounds staleness anyway.
func (c *RedisCache) InvalidateAvailability(ctx context.Context, eventID string) error {
	return c.client.Del(ctx, availabilityKey(eventID)).Err()
}

// MarkNotificationSeen is an advisory dedup guard for provider webhook
// retries. The transaction state machine remains the authority; this only
// saves a round trip for notifications we have demonstrably seen already.
func (c *RedisCache) MarkNotificationSeen(ctx context.Context, provider, notificationID string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, notificationKey(provider, notificationID), "seen", ttl).Result()
}

func availabilityKey(eventID string) string {
	return fmt.Sprintf("cache:availability:%s", eventID)
}

func notificationKey(provider, notificationID string) string {
	return fmt.Sprintf("webhook:seen:%s:%s", provider, notificationID)
}
