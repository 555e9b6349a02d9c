/**
 * @description
 * This file defines the core domain models for the ingestion-service.
 * These structs represent the main entities used throughout the service's
 * business logic, database interactions, and API layers: tenants, their
 * attached databases, indexing subscriptions, and the per-cluster webhook
 * aggregate mirrored to the upstream data provider.
 *
 * @notes
 * - Tenant database passwords only ever appear here in encrypted form; the
 *   plaintext exists transiently inside the replication write path.
 * - Credits are stored as an `int64` and decremented by a fixed cost per
 *   provider registration call.
 */

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Cluster identifies an isolated network environment with its own provider
// credentials and inbound webhook secret.
type Cluster string

const (
	ClusterMainnet Cluster = "MAINNET"
	ClusterDevnet  Cluster = "DEVNET"
)

// Valid reports whether the cluster is one of the known environments.
func (c Cluster) Valid() bool {
	return c == ClusterMainnet || c == ClusterDevnet
}

// Subscription status values. The ingestion core only owns the
// PENDING -> IN_PROGRESS transition; terminal states are managed by the
// surrounding product.
const (
	SubscriptionPending    = "PENDING"
	SubscriptionInProgress = "IN_PROGRESS"
	SubscriptionCompleted  = "COMPLETED"
	SubscriptionFailed     = "FAILED"
)

// Plan tiers. FREE tenants are limited to a single active subscription.
const (
	PlanFree = "FREE"
	PlanPro  = "PRO"
)

// IndexCategory values accepted from the dashboard and forwarded to the
// provider as transaction-type filters.
var IndexCategories = map[string]struct{}{
	"TRANSFER":    {},
	"DEPOSIT":     {},
	"WITHDRAW":    {},
	"NFT_SALE":    {},
	"NFT_MINT":    {},
	"SWAP":        {},
	"TOKEN_MINT":  {},
	"LOAN":        {},
	"STAKE_TOKEN": {},
	"BURN":        {},
}

// Tenant represents an end user of the dashboard. Created on first sign-in;
// never hard-deleted while subscriptions exist.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Credits   int64     `json:"credits"`
	Plan      string    `json:"plan"`
	CreatedAt time.Time `json:"created_at"`
}

// DatabaseConnection holds a tenant's own Postgres connection parameters.
// The password field is AES-GCM ciphertext, never plaintext.
type DatabaseConnection struct {
	ID                uuid.UUID `json:"id"`
	TenantID          uuid.UUID `json:"tenant_id"`
	Name              string    `json:"name"`
	Host              string    `json:"host"`
	Port              int       `json:"port"`
	Username          string    `json:"username"`
	EncryptedPassword string    `json:"-"`
	DBName            string    `json:"db_name"`
	CreatedAt         time.Time `json:"created_at"`
}

// Subscription is a tenant's request to replicate a set of event categories
// for one target address on one cluster into one of their databases.
type Subscription struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	DatabaseID uuid.UUID `json:"database_id"`
	TargetAddr string    `json:"target_addr"`
	Categories []string  `json:"categories"`
	Cluster    Cluster   `json:"cluster"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SubscriptionAggregate is the per-cluster union of every tenant's
// subscription requirements, as currently registered with the provider.
// Version is a monotonically increasing counter used for optimistic
// concurrency control; all writers go through compare-and-swap.
type SubscriptionAggregate struct {
	Cluster    Cluster  `json:"cluster"`
	Addresses  []string `json:"addresses"`
	Categories []string `json:"categories"`
	Version    int64    `json:"version"`
}

// ContainsAddress reports whether the aggregate already tracks addr.
func (a *SubscriptionAggregate) ContainsAddress(addr string) bool {
	for _, existing := range a.Addresses {
		if existing == addr {
			return true
		}
	}
	return false
}

// MissingCategories returns the categories in want that the aggregate does
// not yet carry.
func (a *SubscriptionAggregate) MissingCategories(want []string) []string {
	known := make(map[string]struct{}, len(a.Categories))
	for _, c := range a.Categories {
		known[c] = struct{}{}
	}
	var missing []string
	for _, c := range want {
		if _, ok := known[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

// UnionWith returns the aggregate's address and category sets extended with
// the given address and categories. The result is sorted-insensitive: order
// follows the existing slices with new entries appended, which keeps the
// operation idempotent and commutative for CAS retries.
func (a *SubscriptionAggregate) UnionWith(addr string, categories []string) (addresses, cats []string) {
	addresses = append([]string(nil), a.Addresses...)
	if !a.ContainsAddress(addr) {
		addresses = append(addresses, addr)
	}
	cats = append([]string(nil), a.Categories...)
	cats = append(cats, a.MissingCategories(categories)...)
	return addresses, cats
}

// StoreDatabaseRequest is the DTO for attaching a tenant database via the
// dashboard API.
type StoreDatabaseRequest struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
}

// CreateSubscriptionRequest is the DTO for configuring indexing for one
// target address.
type CreateSubscriptionRequest struct {
	DatabaseID uuid.UUID `json:"database_id"`
	TargetAddr string    `json:"target_addr"`
	Categories []string  `json:"categories"`
	Cluster    Cluster   `json:"cluster"`
}

// ReplicationJob is the immutable envelope enqueued once per matched
// (provider event, tenant) pair and consumed by a replication worker.
type ReplicationJob struct {
	JobID      uuid.UUID       `json:"job_id"`
	TenantID   uuid.UUID       `json:"tenant_id"`
	DatabaseID uuid.UUID       `json:"database_id"`
	Cluster    Cluster         `json:"cluster"`
	Category   string          `json:"category"`
	Signature  string          `json:"signature"`
	Event      ReplicationData `json:"event"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// ReplicationData is the projected event payload written into the tenant's
// replication table. TRANSFER events carry the typed columns; every other
// category is replicated as the raw envelope.
type ReplicationData struct {
	Type         string          `json:"type"`
	Slot         int64           `json:"slot"`
	Signature    string          `json:"signature"`
	FeePayer     string          `json:"fee_payer"`
	Fee          int64           `json:"fee"`
	Description  string          `json:"description"`
	AccountData  json.RawMessage `json:"account_data,omitempty"`
	Instructions json.RawMessage `json:"instructions,omitempty"`
	RawData      json.RawMessage `json:"raw_data,omitempty"`
}
