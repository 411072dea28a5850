package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"registration-system/models"
)

// Availability is the public capacity snapshot of an event.
type Availability struct {
	EventID              string `json:"event_id"`
	IsRegistrationOpen   bool   `json:"is_registration_open"`
	HasAvailableSpots    bool   `json:"has_available_spots"`
	CurrentRegistrations int    `json:"current_registrations"`
	SpotsLeft            int    `json:"spots_left"` // -1 when unlimited
}

func availabilityOf(e *models.Event, now time.Time) Availability {
	return Availability{
		EventID:              e.ID,
		IsRegistrationOpen:   e.IsRegistrationOpen(now),
		HasAvailableSpots:    e.HasAvailableSpots(),
		CurrentRegistrations: e.CurrentRegistrations,
		SpotsLeft:            e.SpotsLeft(),
	}
}

// AvailabilityCache keeps availability snapshots in Redis hashes. A nil cache or
// a nil client turns every call into a miss.
type AvailabilityCache struct {
	Redis redis.Cmdable
	ttl   time.Duration
}

func NewAvailabilityCache(redisClient redis.Cmdable, ttl time.Duration) *AvailabilityCache {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &AvailabilityCache{Redis: redisClient, ttl: ttl}
}

func availabilityKey(eventID string) string {
	return fmt.Sprintf("event:availability:%s", eventID)
}

func (c *AvailabilityCache) enabled() bool {
	return c != nil && c.Redis != nil
}

func (c *AvailabilityCache) Get(ctx context.Context, eventID string) (Availability, bool) {
	if !c.enabled() {
		return Availability{}, false
	}

	data, err := c.Redis.HGetAll(ctx, availabilityKey(eventID)).Result()
	if err != nil {
		slog.Warn("Failed to read availability cache", "error", err, "event_id", eventID)
		return Availability{}, false
	}
	if len(data) == 0 {
		return Availability{}, false
	}

	current, err1 := strconv.Atoi(data["current"])
	left, err2 := strconv.Atoi(data["spots_left"])
	if err1 != nil || err2 != nil {
		return Availability{}, false
	}
	return Availability{
		EventID:              eventID,
		IsRegistrationOpen:   data["open"] == "1",
		HasAvailableSpots:    data["has_spots"] == "1",
		CurrentRegistrations: current,
		SpotsLeft:            left,
	}, true
}

func (c *AvailabilityCache) Put(ctx context.Context, a Availability) {
	if !c.enabled() {
		return
	}

	key := availabilityKey(a.EventID)
	if err := c.Redis.HSet(ctx, key,
		"open", boolFlag(a.IsRegistrationOpen),
		"has_spots", boolFlag(a.HasAvailableSpots),
		"current", strconv.Itoa(a.CurrentRegistrations),
		"spots_left", strconv.Itoa(a.SpotsLeft),
	).Err(); err != nil {
		slog.Warn("Failed to write availability cache", "error", err, "event_id", a.EventID)
		return
	}
	if err := c.Redis.Expire(ctx, key, c.ttl).Err(); err != nil {
		slog.Warn("Failed to set availability cache ttl", "error", err, "event_id", a.EventID)
	}
}

// Invalidate drops the snapshot after the event or its counter changed.
func (c *AvailabilityCache) Invalidate(ctx context.Context, eventID string) {
	if !c.enabled() {
		return
	}
	if err := c.Redis.Del(ctx, availabilityKey(eventID)).Err(); err != nil {
		slog.Warn("Failed to invalidate availability cache", "error", err, "event_id", eventID)
	}
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
