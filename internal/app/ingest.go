/**
 * @description
 * This file contains the matching half of the webhook receiver: deciding
 * which tenants a provider event belongs to and enqueueing one replication
 * job per matched (event, tenant database) pair.
 *
 * The provider is only supposed to push events for registered addresses,
 * but the receiver does not trust that blindly: every event is intersected
 * against the aggregate's tracked address set (read through the redis cache)
 * before any subscription lookup happens.
 */

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/solixdb/ingestion-service/internal/domain"
)

// trackedAddresses returns the cluster's currently-registered address set,
// preferring the cache and falling back to the aggregate store.
func (s *Service) trackedAddresses(ctx context.Context, cluster domain.Cluster) (map[string]struct{}, error) {
	if addrs, ok := s.addressCache.Get(ctx, cluster); ok {
		return toSet(addrs), nil
	}

	agg, err := s.repo.GetAggregate(ctx, cluster)
	if err != nil {
		return nil, fmt.Errorf("read aggregate: %w", err)
	}
	s.addressCache.Set(ctx, cluster, agg.Addresses)
	return toSet(agg.Addresses), nil
}

// IngestEvent matches one provider event against the cluster's subscriptions
// and enqueues a replication job for every matched tenant database. It
// returns the number of jobs enqueued; an error means at least one job could
// not be durably enqueued and the whole batch should be redelivered by the
// provider (downstream inserts are idempotent, so partial enqueue is safe).
func (s *Service) IngestEvent(ctx context.Context, cluster domain.Cluster, event *domain.ProviderEvent, raw json.RawMessage) (int, error) {
	tracked, err := s.trackedAddresses(ctx, cluster)
	if err != nil {
		return 0, err
	}

	var matched []string
	for _, addr := range event.TouchedAddresses() {
		if _, ok := tracked[addr]; ok {
			matched = append(matched, addr)
		}
	}
	if len(matched) == 0 {
		return 0, nil
	}

	data := event.ToReplicationData(raw)
	enqueued := 0
	seenDatabases := make(map[uuid.UUID]struct{})
	for _, addr := range matched {
		subs, err := s.repo.FindActiveSubscriptionsByAddress(ctx, cluster, addr)
		if err != nil {
			return enqueued, fmt.Errorf("resolve subscriptions for address: %w", err)
		}
		for i := range subs {
			sub := &subs[i]
			if !subscribesToCategory(sub, event.Type) {
				continue
			}
			// One job per (event, tenant database); replaying into the same
			// database would be a no-op anyway but needless queue traffic.
			if _, ok := seenDatabases[sub.DatabaseID]; ok {
				continue
			}
			seenDatabases[sub.DatabaseID] = struct{}{}

			job := domain.ReplicationJob{
				JobID:      uuid.New(),
				TenantID:   sub.TenantID,
				DatabaseID: sub.DatabaseID,
				Cluster:    cluster,
				Category:   event.Type,
				Signature:  event.Signature,
				Event:      data,
				EnqueuedAt: time.Now().UTC(),
			}
			if err := s.eventProducer.Publish(ctx, s.eventsExchange, s.jobRoutingKey, job); err != nil {
				return enqueued, fmt.Errorf("enqueue replication job: %w", err)
			}
			enqueued++
		}
	}

	if enqueued > 0 {
		log.Printf("level=info component=ingest msg=\"replication jobs enqueued\" cluster=%s signature=%s jobs=%d", cluster, event.Signature, enqueued)
	}
	return enqueued, nil
}

func subscribesToCategory(sub *domain.Subscription, category string) bool {
	for _, c := range sub.Categories {
		if c == category {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
