/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL for the control-plane tables: tenants,
 * database_connections, subscriptions, and the per-cluster
 * webhook_aggregates row that mirrors the provider's registered filter set.
 *
 * The aggregate row is the one piece of shared mutable state in the system;
 * every write goes through a compare-and-swap on its version counter, never
 * a blind overwrite. The aggregate only ever grows: subscription removal
 * does not shrink it (deliberate, see DESIGN.md).
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/solixdb/ingestion-service/internal/domain"
)

var (
	ErrTenantNotFound       = errors.New("tenant not found")
	ErrDatabaseNotFound     = errors.New("database connection not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrAggregateConflict    = errors.New("aggregate version conflict")
	ErrInsufficientCredits  = errors.New("insufficient credits")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindTenantByID retrieves a tenant by their internal UUID.
func (r *PostgresRepository) FindTenantByID(ctx context.Context, tenantID uuid.UUID) (*domain.Tenant, error) {
	var tenant domain.Tenant
	query := `SELECT id, email, credits, plan, created_at FROM tenants WHERE id = $1`
	err := r.db.QueryRow(ctx, query, tenantID).Scan(&tenant.ID, &tenant.Email, &tenant.Credits, &tenant.Plan, &tenant.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	return &tenant, nil
}

// FindTenantByEmail resolves a tenant from the email carried in a validated
// dashboard token.
func (r *PostgresRepository) FindTenantByEmail(ctx context.Context, email string) (*domain.Tenant, error) {
	var tenant domain.Tenant
	query := `SELECT id, email, credits, plan, created_at FROM tenants WHERE lower(btrim(email)) = lower(btrim($1))`
	err := r.db.QueryRow(ctx, query, email).Scan(&tenant.ID, &tenant.Email, &tenant.Credits, &tenant.Plan, &tenant.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	return &tenant, nil
}

// CreateDatabaseConnection persists a tenant-owned database connection.
// The password field must already be vault ciphertext.
func (r *PostgresRepository) CreateDatabaseConnection(ctx context.Context, conn *domain.DatabaseConnection) error {
	query := `
		INSERT INTO database_connections (id, tenant_id, name, host, port, username, encrypted_password, db_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query,
		conn.ID, conn.TenantID, conn.Name, conn.Host, conn.Port,
		conn.Username, conn.EncryptedPassword, conn.DBName,
	).Scan(&conn.CreatedAt)
}

// FindDatabaseConnectionByID retrieves a database connection without tenant
// scoping. Used by the replication worker, which trusts job provenance.
func (r *PostgresRepository) FindDatabaseConnectionByID(ctx context.Context, databaseID uuid.UUID) (*domain.DatabaseConnection, error) {
	return r.findDatabaseConnection(ctx,
		`SELECT id, tenant_id, name, host, port, username, encrypted_password, db_name, created_at
		 FROM database_connections WHERE id = $1`, databaseID)
}

// FindTenantDatabaseConnection retrieves a database connection owned by the
// given tenant. Used by the dashboard-facing API handlers.
func (r *PostgresRepository) FindTenantDatabaseConnection(ctx context.Context, tenantID, databaseID uuid.UUID) (*domain.DatabaseConnection, error) {
	return r.findDatabaseConnection(ctx,
		`SELECT id, tenant_id, name, host, port, username, encrypted_password, db_name, created_at
		 FROM database_connections WHERE id = $2 AND tenant_id = $1`, tenantID, databaseID)
}

func (r *PostgresRepository) findDatabaseConnection(ctx context.Context, query string, args ...interface{}) (*domain.DatabaseConnection, error) {
	var conn domain.DatabaseConnection
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&conn.ID, &conn.TenantID, &conn.Name, &conn.Host, &conn.Port,
		&conn.Username, &conn.EncryptedPassword, &conn.DBName, &conn.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrDatabaseNotFound
		}
		return nil, err
	}
	return &conn, nil
}

// CreateSubscription persists a new indexing subscription in PENDING state.
func (r *PostgresRepository) CreateSubscription(ctx context.Context, sub *domain.Subscription) error {
	query := `
		INSERT INTO subscriptions (id, tenant_id, database_id, target_addr, categories, cluster, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		sub.ID, sub.TenantID, sub.DatabaseID, sub.TargetAddr,
		sub.Categories, string(sub.Cluster), sub.Status,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
}

// FindSubscriptionByID retrieves a subscription by id.
func (r *PostgresRepository) FindSubscriptionByID(ctx context.Context, subscriptionID uuid.UUID) (*domain.Subscription, error) {
	var sub domain.Subscription
	var cluster string
	query := `
		SELECT id, tenant_id, database_id, target_addr, categories, cluster, status, created_at, updated_at
		FROM subscriptions WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, subscriptionID).Scan(
		&sub.ID, &sub.TenantID, &sub.DatabaseID, &sub.TargetAddr,
		&sub.Categories, &cluster, &sub.Status, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	sub.Cluster = domain.Cluster(cluster)
	return &sub, nil
}

// FindActiveSubscriptionsByAddress returns every non-terminal subscription
// watching the given address on the given cluster. An address may be watched
// by more than one tenant; the receiver enqueues one job per match.
func (r *PostgresRepository) FindActiveSubscriptionsByAddress(ctx context.Context, cluster domain.Cluster, address string) ([]domain.Subscription, error) {
	query := `
		SELECT id, tenant_id, database_id, target_addr, categories, cluster, status, created_at, updated_at
		FROM subscriptions
		WHERE cluster = $1 AND target_addr = $2 AND status IN ($3, $4)
	`
	rows, err := r.db.Query(ctx, query, string(cluster), address, domain.SubscriptionPending, domain.SubscriptionInProgress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		var clusterValue string
		if err := rows.Scan(
			&sub.ID, &sub.TenantID, &sub.DatabaseID, &sub.TargetAddr,
			&sub.Categories, &clusterValue, &sub.Status, &sub.CreatedAt, &sub.UpdatedAt,
		); err != nil {
			return nil, err
		}
		sub.Cluster = domain.Cluster(clusterValue)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// CountTenantSubscriptions returns the number of non-terminal subscriptions
// owned by a tenant. Used to enforce plan-tier limits.
func (r *PostgresRepository) CountTenantSubscriptions(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM subscriptions WHERE tenant_id = $1 AND status IN ($2, $3)`
	err := r.db.QueryRow(ctx, query, tenantID, domain.SubscriptionPending, domain.SubscriptionInProgress).Scan(&count)
	return count, err
}

// GetAggregate returns the per-cluster union of registered addresses and
// categories with its version counter. A cluster with no row yet reads as an
// empty aggregate at version 0; the row is created by the first TryUpdateAggregate.
func (r *PostgresRepository) GetAggregate(ctx context.Context, cluster domain.Cluster) (*domain.SubscriptionAggregate, error) {
	agg := domain.SubscriptionAggregate{Cluster: cluster}
	query := `SELECT addresses, categories, version FROM webhook_aggregates WHERE cluster = $1`
	err := r.db.QueryRow(ctx, query, string(cluster)).Scan(&agg.Addresses, &agg.Categories, &agg.Version)
	if err != nil {
		if err == pgx.ErrNoRows {
			return &agg, nil
		}
		return nil, err
	}
	return &agg, nil
}

// TryUpdateAggregate conditionally replaces the aggregate's address and
// category sets. The write succeeds only if the stored version still equals
// expectedVersion; otherwise ErrAggregateConflict is returned and the caller
// must re-read, recompute the union against the fresh baseline, and retry.
// The union operation is idempotent and commutative, so blind retry on
// conflict is always safe.
func (r *PostgresRepository) TryUpdateAggregate(ctx context.Context, cluster domain.Cluster, addresses, categories []string, expectedVersion int64) error {
	if expectedVersion == 0 {
		// First writer for this cluster creates the row. A concurrent
		// creator losing the insert race reads as a version conflict.
		query := `
			INSERT INTO webhook_aggregates (cluster, addresses, categories, version)
			VALUES ($1, $2, $3, 1)
			ON CONFLICT (cluster) DO NOTHING
		`
		tag, err := r.db.Exec(ctx, query, string(cluster), addresses, categories)
		if err != nil {
			return fmt.Errorf("insert aggregate: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrAggregateConflict
		}
		return nil
	}

	query := `
		UPDATE webhook_aggregates
		SET addresses = $2, categories = $3, version = version + 1, updated_at = NOW()
		WHERE cluster = $1 AND version = $4
	`
	tag, err := r.db.Exec(ctx, query, string(cluster), addresses, categories, expectedVersion)
	if err != nil {
		return fmt.Errorf("update aggregate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAggregateConflict
	}
	return nil
}

// MarkSubscriptionInProgress transitions a subscription from PENDING to
// IN_PROGRESS and decrements the tenant's credits by creditCost in a single
// transaction. Either both apply or neither does. A subscription already in
// IN_PROGRESS is a no-op success, which keeps the operation idempotent and
// guarantees a registration is never billed twice.
func (r *PostgresRepository) MarkSubscriptionInProgress(ctx context.Context, subscriptionID, tenantID uuid.UUID, creditCost int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE subscriptions SET status = $3, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND status = $4
	`, subscriptionID, tenantID, domain.SubscriptionInProgress, domain.SubscriptionPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Verify the subscription exists; if it is already IN_PROGRESS the
		// transition (and any billing) happened in an earlier call.
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM subscriptions WHERE id = $1 AND tenant_id = $2`, subscriptionID, tenantID).Scan(&status)
		if err != nil {
			if err == pgx.ErrNoRows {
				return ErrSubscriptionNotFound
			}
			return err
		}
		return tx.Commit(ctx)
	}

	if creditCost > 0 {
		tag, err := tx.Exec(ctx, `
			UPDATE tenants SET credits = credits - $2
			WHERE id = $1 AND credits >= $2
		`, tenantID, creditCost)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrInsufficientCredits
		}
	}

	return tx.Commit(ctx)
}
