/**
 * @description
 * This package provides a redis-backed read-through cache of the per-cluster
 * tracked address set. The webhook receiver consults it on every inbound
 * batch, which keeps the hot intersection check off the control-plane
 * database; provider sync invalidates the entry whenever the aggregate
 * grows.
 *
 * A cache failure is never fatal: callers fall back to the aggregate store.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/redis/go-redis/v9: The redis client.
 * - internal/domain: For the Cluster type.
 */
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/solixdb/ingestion-service/internal/domain"
)

const defaultTTL = 5 * time.Minute

// AddressCache caches the tracked address set per cluster.
type AddressCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates an AddressCache. A nil client yields a cache whose lookups
// always miss, so the service degrades to store reads when redis is absent.
func New(client *redis.Client) *AddressCache {
	return &AddressCache{client: client, ttl: defaultTTL}
}

func key(cluster domain.Cluster) string {
	return fmt.Sprintf("tracked_addresses:%s", cluster)
}

// Get returns the cached address set for a cluster and whether the entry was
// present.
func (c *AddressCache) Get(ctx context.Context, cluster domain.Cluster) ([]string, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	addrs, err := c.client.SMembers(ctx, key(cluster)).Result()
	if err != nil || len(addrs) == 0 {
		return nil, false
	}
	return addrs, true
}

// Set replaces the cached address set for a cluster.
func (c *AddressCache) Set(ctx context.Context, cluster domain.Cluster, addresses []string) {
	if c == nil || c.client == nil || len(addresses) == 0 {
		return
	}
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key(cluster))
	members := make([]interface{}, len(addresses))
	for i, addr := range addresses {
		members[i] = addr
	}
	pipe.SAdd(ctx, key(cluster), members...)
	pipe.Expire(ctx, key(cluster), c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		// Best effort; the next read falls back to the store.
		return
	}
}

// Invalidate drops the cached entry for a cluster. Called after the
// aggregate grows so the receiver picks up new addresses promptly.
func (c *AddressCache) Invalidate(ctx context.Context, cluster domain.Cluster) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Del(ctx, key(cluster))
}
