/**
 * @description
 * This file contains the dashboard-origin operations that feed the ingestion
 * pipeline: attaching a tenant database (connection test, password
 * encryption, persistence) and creating an indexing subscription in PENDING
 * state. Registration with the provider is a separate, explicit step
 * (EnsureRegistered) triggered by the tenant.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/solixdb/ingestion-service/internal/domain"
	"github.com/solixdb/ingestion-service/internal/tenantdb"
)

var ErrInvalidDatabaseParams = errors.New("invalid database parameters")

// ConnectionTester verifies that tenant-supplied connection parameters work
// before they are persisted. Extracted for testability; production wiring
// uses tenantdb.Ping.
type ConnectionTester func(ctx context.Context, conn *domain.DatabaseConnection, password string) error

// SetConnectionTester overrides the connection test used by StoreDatabase.
func (s *Service) SetConnectionTester(tester ConnectionTester) {
	s.testConnection = tester
}

// StoreDatabase validates and persists a tenant database connection. The
// password is verified against the live database, then stored only as vault
// ciphertext.
func (s *Service) StoreDatabase(ctx context.Context, tenant *domain.Tenant, req domain.StoreDatabaseRequest) (*domain.DatabaseConnection, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Host = strings.TrimSpace(req.Host)
	req.Username = strings.TrimSpace(req.Username)
	req.DBName = strings.TrimSpace(req.DBName)
	if req.Name == "" || req.Host == "" || req.Username == "" || req.DBName == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: all fields are required", ErrInvalidDatabaseParams)
	}
	if req.Port <= 0 || req.Port > 65535 {
		return nil, fmt.Errorf("%w: port out of range", ErrInvalidDatabaseParams)
	}

	conn := &domain.DatabaseConnection{
		ID:       uuid.New(),
		TenantID: tenant.ID,
		Name:     req.Name,
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		DBName:   req.DBName,
	}

	tester := s.testConnection
	if tester == nil {
		tester = tenantdb.Ping
	}
	if err := tester(ctx, conn, req.Password); err != nil {
		return nil, fmt.Errorf("database connection test failed: %w", err)
	}

	ciphertext, err := s.vault.Encrypt(req.Password)
	if err != nil {
		return nil, fmt.Errorf("encrypt password: %w", err)
	}
	conn.EncryptedPassword = ciphertext

	if err := s.repo.CreateDatabaseConnection(ctx, conn); err != nil {
		return nil, fmt.Errorf("store database connection: %w", err)
	}
	return conn, nil
}

// CreateSubscription creates an indexing subscription in PENDING state.
// Plan-tier limits are enforced here; the aggregate and the provider are
// untouched until the tenant starts indexing.
func (s *Service) CreateSubscription(ctx context.Context, tenant *domain.Tenant, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	if !req.Cluster.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCluster, req.Cluster)
	}
	if len(req.Categories) == 0 {
		return nil, fmt.Errorf("%w: at least one category is required", ErrInvalidCategory)
	}
	for _, category := range req.Categories {
		if _, ok := domain.IndexCategories[category]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCategory, category)
		}
	}
	if strings.TrimSpace(req.TargetAddr) == "" {
		return nil, errors.New("target address is required")
	}

	if tenant.Plan == domain.PlanFree {
		count, err := s.repo.CountTenantSubscriptions(ctx, tenant.ID)
		if err != nil {
			return nil, fmt.Errorf("count subscriptions: %w", err)
		}
		if count >= FreeTierSubscriptionLimit {
			return nil, ErrSubscriptionLimit
		}
	}

	// The subscription must point at a database the tenant actually owns.
	if _, err := s.repo.FindTenantDatabaseConnection(ctx, tenant.ID, req.DatabaseID); err != nil {
		return nil, err
	}

	sub := &domain.Subscription{
		ID:         uuid.New(),
		TenantID:   tenant.ID,
		DatabaseID: req.DatabaseID,
		TargetAddr: strings.TrimSpace(req.TargetAddr),
		Categories: req.Categories,
		Cluster:    req.Cluster,
		Status:     domain.SubscriptionPending,
	}
	if err := s.repo.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return sub, nil
}
