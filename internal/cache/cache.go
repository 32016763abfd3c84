// Package cache holds read-through copies of available quantities. It is
// never the source of truth: a miss or an error falls back to the database.
package cache

import "context"

const keyPrefix = "stocksync:avail:"

// StoreKey is the cache key of one store's availability for sku.
func StoreKey(sku, storeID string) string {
	return keyPrefix + "store:" + sku + ":" + storeID
}

// CentralKey is the cache key of the network-wide availability for sku.
func CentralKey(sku string) string {
	return keyPrefix + "central:" + sku
}

// AvailabilityCache caches available quantities.
type AvailabilityCache interface {
	// GetStore reports a cached store availability and whether it was found.
	GetStore(ctx context.Context, sku, storeID string) (int, bool, error)
	// SetStore caches the availability computed from product version. A write
	// older than the cached version is dropped.
	SetStore(ctx context.Context, sku, storeID string, available int, version int64) error
	GetCentral(ctx context.Context, sku string) (int, bool, error)
	SetCentral(ctx context.Context, sku string, available int) error
	InvalidateCentral(ctx context.Context, skus ...string) error
}

// Noop is used when caching is disabled. Every lookup misses.
type Noop struct{}

var _ AvailabilityCache = Noop{}

func (Noop) GetStore(context.Context, string, string) (int, bool, error) {
	return 0, false, nil
}

func (Noop) SetStore(context.Context, string, string, int, int64) error {
	return nil
}

func (Noop) GetCentral(context.Context, string) (int, bool, error) {
	return 0, false, nil
}

func (Noop) SetCentral(context.Context, string, int) error {
	return nil
}

func (Noop) InvalidateCentral(context.Context, ...string) error {
	return nil
}
