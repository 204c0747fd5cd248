// Package cache provides the shared result cache used by funnel and
// metrics queries. It is a time-bounded key-value store with explicit,
// eager invalidation: entries are removed as soon as an event that could
// affect them is recorded, rather than waiting for TTL expiry.
// This is part of the platform layer and contains no business logic.
package cache

import (
	"context"
	"fmt"
	"time"
)

// InvalidationHook is called after keys are invalidated. Hooks receive the
// exact keys or prefix pattern that was cleared so subscribers (tests,
// realtime notifications) can observe the invalidation contract.
type InvalidationHook func(keys []string)

// Store is the result cache abstraction. Implementations must apply the
// configured default TTL on Set and fire registered hooks on invalidation.
type Store interface {
	// Get unmarshals the cached value for key into dest.
	// Returns false when the key is absent or expired.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)

	// Set stores value under key with the store's default TTL.
	Set(ctx context.Context, key string, value interface{}) error

	// SetWithTTL stores value under key with an explicit TTL.
	SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Invalidate removes the given keys eagerly.
	Invalidate(ctx context.Context, keys ...string) error

	// InvalidatePrefix removes every key sharing the given prefix.
	InvalidatePrefix(ctx context.Context, prefix string) error

	// OnInvalidate registers a hook fired after every invalidation.
	OnInvalidate(hook InvalidationHook)
}

// Key builders shared by the services that read through the cache.
// Keeping them here keeps producers and invalidators in agreement.

// FunnelKeyPrefix covers every funnel/metrics query entry.
const FunnelKeyPrefix = "funnel:"

// FunnelSnapshotKey is the cache key for the funnel-wide snapshot.
func FunnelSnapshotKey() string {
	return FunnelKeyPrefix + "snapshot"
}

// MetricsKey builds the cache key for a conversion metrics query.
// Zero times produce a stable key for the unbounded query.
func MetricsKey(from, to time.Time) string {
	return fmt.Sprintf("%smetrics:%d:%d", FunnelKeyPrefix, from.Unix(), to.Unix())
}

// ScoreKey is the cache key for a lead's score profile.
func ScoreKey(leadID string) string {
	return "score:" + leadID
}

// AttributionPrefix covers every attribution result entry. Invalidated
// wholesale when a model's configuration changes.
const AttributionPrefix = "attribution:"

// AttributionKey builds the cache key for an attribution query.
func AttributionKey(leadID, conversionID, modelID string) string {
	return fmt.Sprintf("%s%s:%s:%s", AttributionPrefix, leadID, conversionID, modelID)
}

// AttributionKeyPrefix covers every attribution entry for a lead.
func AttributionKeyPrefix(leadID string) string {
	return AttributionPrefix + leadID + ":"
}
