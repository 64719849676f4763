package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

// DefaultCacheTTL keeps availability hints short-lived. The database is the
// source of truth; a stale hint only survives until the next write or expiry.
const DefaultCacheTTL = 10 * time.Second

// Cache stores computed availability snapshots per listing. All methods are
// best-effort: Redis being down degrades to recomputing from the database.
type Cache struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *logger.Logger
}

func NewCache(client *redis.Client, log *logger.Logger) *Cache {
	return &Cache{Client: client, TTL: DefaultCacheTTL, Logger: log}
}

func availabilityKey(listingID string) string {
	return "availability:" + listingID
}

func (c *Cache) Get(ctx context.Context, listingID string) (*models.Availability, bool) {
	val, err := c.Client.Get(ctx, availabilityKey(listingID)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logWarn(fmt.Sprintf("availability cache get failed for %s: %v", listingID, err))
		return nil, false
	}

	var availability models.Availability
	if err := json.Unmarshal([]byte(val), &availability); err != nil {
		c.logWarn(fmt.Sprintf("availability cache entry for %s is corrupt, dropping: %v", listingID, err))
		c.Invalidate(ctx, listingID)
		return nil, false
	}
	return &availability, true
}

func (c *Cache) Set(ctx context.Context, availability *models.Availability) {
	if availability == nil {
		return
	}
	payload, err := json.Marshal(availability)
	if err != nil {
		c.logWarn(fmt.Sprintf("availability cache marshal failed for %s: %v", availability.ListingID, err))
		return
	}
	if err := c.Client.Set(ctx, availabilityKey(availability.ListingID), payload, c.TTL).Err(); err != nil {
		c.logWarn(fmt.Sprintf("availability cache set failed for %s: %v", availability.ListingID, err))
	}
}

func (c *Cache) Invalidate(ctx context.Context, listingID string) {
	if err := c.Client.Del(ctx, availabilityKey(listingID)).Err(); err != nil {
		c.logWarn(fmt.Sprintf("availability cache invalidate failed for %s: %v", listingID, err))
	}
}

func (c *Cache) logWarn(message string) {
	if c.Logger != nil {
		c.Logger.Warn("AVAILABILITY", message)
	}
}
