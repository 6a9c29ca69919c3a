package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultKeyPrefix = "sv:latest:"

// cachedValue is the wire form of one cached latest value.
type cachedValue struct {
	Value float64   `json:"value"`
	At    time.Time `json:"at"`
}

// LatestCache mirrors the latest-value projection into Redis so aggregate
// evaluation can read fleets without touching Postgres.
type LatestCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// CacheOption customizes the cache.
type CacheOption func(*LatestCache)

// WithKeyPrefix overrides the key prefix.
func WithKeyPrefix(prefix string) CacheOption {
	return func(c *LatestCache) {
		c.keyPrefix = prefix
	}
}

// WithTTL overrides the entry lifetime. Zero keeps entries until overwritten.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *LatestCache) {
		c.ttl = ttl
	}
}

// NewLatestCache constructs a cache over a Redis client.
func NewLatestCache(client *redis.Client, opts ...CacheOption) (*LatestCache, error) {
	if client == nil {
		return nil, errors.New("latest cache: nil redis client")
	}
	cache := &LatestCache{
		client:    client,
		keyPrefix: defaultKeyPrefix,
		ttl:       24 * time.Hour,
	}
	for _, opt := range opts {
		opt(cache)
	}
	return cache, nil
}

func (c *LatestCache) key(deviceExternalID, name string) string {
	return c.keyPrefix + deviceExternalID + ":" + name
}

// SetLatest stores the latest value for (device, name).
func (c *LatestCache) SetLatest(ctx context.Context, deviceExternalID, name string, value float64, at time.Time) error {
	if c == nil || c.client == nil {
		return errors.New("latest cache: nil client")
	}
	payload, err := json.Marshal(cachedValue{Value: value, At: at.UTC()})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(deviceExternalID, name), payload, c.ttl).Err()
}

// GetLatest reads the latest value for (device, name). A cache miss returns
// (nil, nil).
func (c *LatestCache) GetLatest(ctx context.Context, deviceExternalID, name string) (*float64, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("latest cache: nil client")
	}
	raw, err := c.client.Get(ctx, c.key(deviceExternalID, name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var cached cachedValue
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return nil, err
	}
	value := cached.Value
	return &value, nil
}

// LatestValuesByDevices reads the latest value of one named variable for each
// listed device in a single round trip. Missing entries are absent from the
// result.
func (c *LatestCache) LatestValuesByDevices(ctx context.Context, deviceExternalIDs []string, name string) (map[string]float64, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("latest cache: nil client")
	}
	result := make(map[string]float64)
	if len(deviceExternalIDs) == 0 {
		return result, nil
	}
	keys := make([]string, len(deviceExternalIDs))
	for i, id := range deviceExternalIDs {
		keys[i] = c.key(id, name)
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, raw := range values {
		text, ok := raw.(string)
		if !ok {
			continue
		}
		var cached cachedValue
		if err := json.Unmarshal([]byte(text), &cached); err != nil {
			continue
		}
		result[deviceExternalIDs[i]] = cached.Value
	}
	return result, nil
}
