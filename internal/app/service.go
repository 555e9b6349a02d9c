/**
 * @description
 * This file contains the core business logic for the ingestion-service. The
 * `Service` struct orchestrates the tenant-facing operations: storing
 * database connections, creating indexing subscriptions, and the provider
 * sync that reconciles a subscription against the shared per-cluster
 * webhook aggregate.
 *
 * Key features:
 * - EnsureRegistered implements the shared-webhook reconciliation: diff the
 *   subscription against the aggregate union, register the grown union with
 *   the provider, then commit it through the aggregate's compare-and-swap,
 *   recomputing on version conflicts.
 * - The PENDING -> IN_PROGRESS transition and the credit decrement are
 *   executed atomically by the repository ledger; a registration that needed
 *   no external call costs nothing.
 * - Provider failures leave the subscription PENDING and surface to the
 *   caller; retry is the caller's decision.
 *
 * @dependencies
 * - context, errors, fmt, log: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/cache, internal/domain, internal/store, internal/vault: Domain
 *   models, data access, credential encryption, address cache.
 * - pkg/provider, pkg/rabbitmq: External provider client and queue producer.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/solixdb/ingestion-service/internal/cache"
	"github.com/solixdb/ingestion-service/internal/domain"
	"github.com/solixdb/ingestion-service/internal/store"
	"github.com/solixdb/ingestion-service/internal/vault"
	"github.com/solixdb/ingestion-service/pkg/provider"
	"github.com/solixdb/ingestion-service/pkg/rabbitmq"
)

const (
	// FreeTierSubscriptionLimit caps active subscriptions for FREE tenants.
	FreeTierSubscriptionLimit = 1

	// aggregateCASAttempts bounds the conflict-retry loop. Conflicts resolve
	// by recomputing the union against the fresh baseline, so a handful of
	// attempts is plenty even under heavy contention.
	aggregateCASAttempts = 10
)

var (
	ErrUnknownCluster       = errors.New("unknown cluster")
	ErrInvalidCategory      = errors.New("invalid index category")
	ErrSubscriptionLimit    = errors.New("subscription limit reached for plan")
	ErrAggregateContention  = errors.New("aggregate update contention not resolved")
	ErrSubscriptionNotOwned = errors.New("subscription does not belong to tenant")
)

// ProviderAPI is the subset of the provider client the service uses.
type ProviderAPI interface {
	UpsertWebhook(ctx context.Context, apiKey string, req provider.WebhookRequest) (*provider.WebhookResponse, error)
}

// ClusterCredentials carries the per-cluster provider API key and the shared
// secret the provider echoes back on inbound pushes.
type ClusterCredentials struct {
	APIKey        string
	WebhookSecret string
}

// Service provides the core business logic for ingestion and registration.
type Service struct {
	repo          store.Repository
	providerAPI   ProviderAPI
	eventProducer rabbitmq.Publisher
	credentials   map[domain.Cluster]ClusterCredentials
	addressCache  *cache.AddressCache
	vault         *vault.Vault

	webhookURL     string
	eventsExchange string
	jobRoutingKey  string
	creditCost     int64

	testConnection ConnectionTester
}

// NewService creates a new ingestion service instance.
func NewService(
	repo store.Repository,
	providerAPI ProviderAPI,
	producer rabbitmq.Publisher,
	credentialVault *vault.Vault,
	addressCache *cache.AddressCache,
	credentials map[domain.Cluster]ClusterCredentials,
	webhookURL, eventsExchange, jobRoutingKey string,
	creditCost int64,
) *Service {
	return &Service{
		repo:           repo,
		providerAPI:    providerAPI,
		eventProducer:  producer,
		vault:          credentialVault,
		addressCache:   addressCache,
		credentials:    credentials,
		webhookURL:     webhookURL,
		eventsExchange: eventsExchange,
		jobRoutingKey:  jobRoutingKey,
		creditCost:     creditCost,
	}
}

// ResolveTenant looks up the tenant for a validated dashboard identity.
func (s *Service) ResolveTenant(ctx context.Context, email string) (*domain.Tenant, error) {
	return s.repo.FindTenantByEmail(ctx, email)
}

// RegistrationResult reports whether EnsureRegistered had to call the
// external provider. Only external calls cost credits.
type RegistrationResult struct {
	UsedExternalCall bool `json:"used_external_call"`
}

// EnsureRegistered reconciles a subscription against the cluster's shared
// webhook registration. If the aggregate already covers the subscription's
// address and categories, the call is a free no-op apart from the status
// transition. Otherwise the full grown union is registered with the provider
// first, then committed to the aggregate store via CAS; on a version
// conflict the union is recomputed against the fresh baseline and the
// provider is called again only if that fresh union differs from what was
// just registered.
func (s *Service) EnsureRegistered(ctx context.Context, tenantID, subscriptionID uuid.UUID) (*RegistrationResult, error) {
	sub, err := s.repo.FindSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.TenantID != tenantID {
		return nil, ErrSubscriptionNotOwned
	}

	creds, ok := s.credentials[sub.Cluster]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCluster, sub.Cluster)
	}

	agg, err := s.repo.GetAggregate(ctx, sub.Cluster)
	if err != nil {
		return nil, fmt.Errorf("read aggregate: %w", err)
	}

	if agg.ContainsAddress(sub.TargetAddr) && len(agg.MissingCategories(sub.Categories)) == 0 {
		// Fully covered by the existing registration; no external call, no
		// credit cost.
		if err := s.repo.MarkSubscriptionInProgress(ctx, sub.ID, tenantID, 0); err != nil {
			return nil, fmt.Errorf("mark subscription in progress: %w", err)
		}
		return &RegistrationResult{UsedExternalCall: false}, nil
	}

	// The external call is about to be billed; verify the balance up front so
	// a broke tenant cannot grow the shared registration for free and ride
	// the covered path on a later retry. The ledger still enforces the
	// decrement atomically, this only closes the register-then-fail window.
	if s.creditCost > 0 {
		tenant, err := s.repo.FindTenantByID(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("load tenant: %w", err)
		}
		if tenant.Credits < s.creditCost {
			return nil, store.ErrInsufficientCredits
		}
	}

	addresses, categories := agg.UnionWith(sub.TargetAddr, sub.Categories)
	if err := s.registerUnion(ctx, creds, addresses, categories); err != nil {
		// Registration failure must not be recorded as success: the
		// aggregate is untouched and the subscription stays PENDING.
		log.Printf("level=error component=provider_sync msg=\"webhook registration failed\" cluster=%s subscription_id=%s err=%v", sub.Cluster, sub.ID, err)
		return nil, fmt.Errorf("register webhook: %w", err)
	}

	registeredAddresses, registeredCategories := addresses, categories
	for attempt := 0; ; attempt++ {
		if attempt >= aggregateCASAttempts {
			return nil, ErrAggregateContention
		}

		err := s.repo.TryUpdateAggregate(ctx, sub.Cluster, addresses, categories, agg.Version)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrAggregateConflict) {
			return nil, fmt.Errorf("update aggregate: %w", err)
		}

		// Another writer advanced the aggregate. Recompute the union against
		// the fresh baseline; re-register with the provider only if the
		// fresh union differs from what was just registered, which avoids a
		// redundant duplicate external call when the concurrent update
		// already covered this subscription's needs.
		agg, err = s.repo.GetAggregate(ctx, sub.Cluster)
		if err != nil {
			return nil, fmt.Errorf("re-read aggregate: %w", err)
		}
		addresses, categories = agg.UnionWith(sub.TargetAddr, sub.Categories)
		if !sameSet(addresses, registeredAddresses) || !sameSet(categories, registeredCategories) {
			if err := s.registerUnion(ctx, creds, addresses, categories); err != nil {
				log.Printf("level=error component=provider_sync msg=\"webhook re-registration failed after conflict\" cluster=%s subscription_id=%s err=%v", sub.Cluster, sub.ID, err)
				return nil, fmt.Errorf("re-register webhook: %w", err)
			}
			registeredAddresses, registeredCategories = addresses, categories
		}
	}

	if err := s.repo.MarkSubscriptionInProgress(ctx, sub.ID, tenantID, s.creditCost); err != nil {
		return nil, fmt.Errorf("mark subscription in progress: %w", err)
	}

	s.addressCache.Invalidate(ctx, sub.Cluster)
	log.Printf("level=info component=provider_sync msg=\"subscription registered\" cluster=%s subscription_id=%s addresses=%d categories=%d", sub.Cluster, sub.ID, len(addresses), len(categories))
	return &RegistrationResult{UsedExternalCall: true}, nil
}

func (s *Service) registerUnion(ctx context.Context, creds ClusterCredentials, addresses, categories []string) error {
	_, err := s.providerAPI.UpsertWebhook(ctx, creds.APIKey, provider.WebhookRequest{
		WebhookURL:       s.webhookURL,
		TransactionTypes: categories,
		AccountAddresses: addresses,
		AuthHeader:       creds.WebhookSecret,
	})
	return err
}

// sameSet reports whether two string slices contain the same elements,
// ignoring order.
func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, v := range a {
		seen[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := seen[v]; !ok {
			return false
		}
	}
	return true
}
