/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all control-plane data access required by the ingestion-service:
 * tenants, their database connections, indexing subscriptions, the
 * per-cluster subscription aggregate, and the transactional status/credit
 * ledger. Defining an interface decouples the business logic from the
 * PostgreSQL implementation and makes the app layer testable with stubs.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/solixdb/ingestion-service/internal/domain"
)

// Repository defines the set of methods for interacting with the control-plane database.
type Repository interface {
	// Tenant methods
	FindTenantByID(ctx context.Context, tenantID uuid.UUID) (*domain.Tenant, error)
	FindTenantByEmail(ctx context.Context, email string) (*domain.Tenant, error)

	// Database connection methods
	CreateDatabaseConnection(ctx context.Context, conn *domain.DatabaseConnection) error
	FindDatabaseConnectionByID(ctx context.Context, databaseID uuid.UUID) (*domain.DatabaseConnection, error)
	FindTenantDatabaseConnection(ctx context.Context, tenantID, databaseID uuid.UUID) (*domain.DatabaseConnection, error)

	// Subscription methods
	CreateSubscription(ctx context.Context, sub *domain.Subscription) error
	FindSubscriptionByID(ctx context.Context, subscriptionID uuid.UUID) (*domain.Subscription, error)
	FindActiveSubscriptionsByAddress(ctx context.Context, cluster domain.Cluster, address string) ([]domain.Subscription, error)
	CountTenantSubscriptions(ctx context.Context, tenantID uuid.UUID) (int, error)

	// Subscription aggregate methods (optimistic concurrency; see
	// TryUpdateAggregate for the CAS contract)
	GetAggregate(ctx context.Context, cluster domain.Cluster) (*domain.SubscriptionAggregate, error)
	TryUpdateAggregate(ctx context.Context, cluster domain.Cluster, addresses, categories []string, expectedVersion int64) error

	// Status/credit ledger: transitions PENDING -> IN_PROGRESS and decrements
	// the tenant's credits in one transaction; both apply or neither does.
	MarkSubscriptionInProgress(ctx context.Context, subscriptionID, tenantID uuid.UUID, creditCost int64) error
}
