/**
 * @description
 * This package manages connections to tenant-owned databases: an arena of
 * lazily-created, independently-lived pgx pools keyed by database-connection
 * id, plus the lazy provisioning of the tenant's logical database and
 * replication table, and the idempotent event insert the replication worker
 * performs.
 *
 * Key features:
 * - Pools are created on first use from decrypted credentials and closed
 *   again after a period of inactivity.
 * - Before a pool is first opened, the tenant's logical database is created
 *   if absent by connecting to the server's `postgres` maintenance database.
 *   A job must not dead-letter just because the tenant never ran
 *   CREATE DATABASE themselves.
 * - Connection establishment retries transient failures with the shared
 *   bounded-backoff policy before surfacing ErrUnreachable.
 * - The replication table is created with CREATE TABLE IF NOT EXISTS and a
 *   unique signature column, so concurrent provisioning from multiple
 *   workers is safe at the database level without an application lock.
 * - Inserts use ON CONFLICT (signature) DO NOTHING, making replay of the
 *   same job a no-op.
 *
 * @dependencies
 * - context, fmt, sync, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5, pgxpool, pgconn: Per-tenant connections.
 * - internal/domain, pkg/retry: Domain models and the shared retry policy.
 */
package tenantdb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/solixdb/ingestion-service/internal/domain"
	"github.com/solixdb/ingestion-service/pkg/retry"
)

// ErrUnreachable indicates the tenant database could not be reached within
// the bounded retry budget. Treated as transient by the worker.
var ErrUnreachable = errors.New("tenantdb: database unreachable")

// TableName is the replication table created in every tenant database.
const TableName = "solixdb_transactions"

// pgDuplicateDatabase is the SQLSTATE a concurrent CREATE DATABASE loser sees.
const pgDuplicateDatabase = "42P04"

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Writer is the interface the replication worker depends on. Extracted so
// worker tests can substitute an in-memory implementation.
type Writer interface {
	EnsureSchema(ctx context.Context, conn *domain.DatabaseConnection, password string) error
	InsertEvent(ctx context.Context, conn *domain.DatabaseConnection, password string, data domain.ReplicationData) error
}

// execer is the subset of pool behavior the provisioner and writer use.
// *pgxpool.Pool satisfies it; tests substitute an in-memory implementation.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

type poolEntry struct {
	pool        execer
	schemaReady bool
	lastUsed    time.Time
}

// Manager is the pool arena for tenant databases.
type Manager struct {
	mu      sync.Mutex
	pools   map[uuid.UUID]*poolEntry
	policy  retry.Policy
	idleTTL time.Duration

	// Seams for connection establishment and logical-database provisioning.
	// Production wiring uses pgx; tests substitute stubs.
	openPool       func(ctx context.Context, conn *domain.DatabaseConnection, password string) (execer, error)
	ensureDatabase func(ctx context.Context, conn *domain.DatabaseConnection, password string) error
}

// NewManager creates a Manager. Pools idle for longer than idleTTL are
// closed by CloseIdle.
func NewManager(policy retry.Policy, idleTTL time.Duration) *Manager {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	m := &Manager{
		pools:   make(map[uuid.UUID]*poolEntry),
		policy:  policy,
		idleTTL: idleTTL,
	}
	m.openPool = m.openPgxPool
	m.ensureDatabase = ensureDatabaseExists
	return m
}

// connString assembles the tenant connection URL. The decrypted password is
// used here and nowhere else; it is never logged.
func connString(conn *domain.DatabaseConnection, password string) string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=require",
		url.QueryEscape(conn.Username),
		url.QueryEscape(password),
		conn.Host,
		conn.Port,
		conn.DBName,
	)
}

// maintenanceConnString targets the server's always-present `postgres`
// database, used only to check for and create the tenant's logical database.
func maintenanceConnString(conn *domain.DatabaseConnection, password string) string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/postgres?sslmode=require",
		url.QueryEscape(conn.Username),
		url.QueryEscape(password),
		conn.Host,
		conn.Port,
	)
}

// Ping verifies connection parameters by opening and closing a single
// connection with a bounded timeout. Used when a tenant first attaches a
// database, before the credentials are persisted. The logical database may
// not exist yet at this point, so Ping targets the maintenance database.
func Ping(ctx context.Context, conn *domain.DatabaseConnection, password string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := pgx.Connect(ctx, maintenanceConnString(conn, password))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer c.Close(context.Background())
	return c.Ping(ctx)
}

// ensureDatabaseExists creates the tenant's logical database if it is absent.
// Concurrent workers may race on the CREATE DATABASE; the loser's
// duplicate-database error counts as success.
func ensureDatabaseExists(ctx context.Context, conn *domain.DatabaseConnection, password string) error {
	if !identifierPattern.MatchString(conn.DBName) {
		return fmt.Errorf("tenantdb: invalid database name %q", conn.DBName)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := pgx.Connect(ctx, maintenanceConnString(conn, password))
	if err != nil {
		return fmt.Errorf("connect maintenance database: %w", err)
	}
	defer c.Close(context.Background())

	var exists bool
	if err := c.QueryRow(ctx, `SELECT EXISTS (SELECT FROM pg_database WHERE datname = $1)`, conn.DBName).Scan(&exists); err != nil {
		return fmt.Errorf("check database existence: %w", err)
	}
	if exists {
		return nil
	}

	// CREATE DATABASE cannot be parameterized; the name passed the
	// identifier check above and is double-quoted here.
	if _, err := c.Exec(ctx, fmt.Sprintf(`CREATE DATABASE %q`, conn.DBName)); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgDuplicateDatabase {
			return nil
		}
		return fmt.Errorf("create database: %w", err)
	}
	log.Printf("level=info component=tenantdb msg=\"tenant database created\" database_id=%s db_name=%s", conn.ID, conn.DBName)
	return nil
}

// openPgxPool dials the tenant database and verifies it with a bounded ping.
func (m *Manager) openPgxPool(ctx context.Context, conn *domain.DatabaseConnection, password string) (execer, error) {
	poolConfig, err := pgxpool.ParseConfig(connString(conn, password))
	if err != nil {
		return nil, fmt.Errorf("parse tenant connection config: %w", err)
	}
	poolConfig.MaxConns = 4
	poolConfig.MaxConnIdleTime = m.idleTTL

	p, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if pingErr := p.Ping(pingCtx); pingErr != nil {
		p.Close()
		return nil, pingErr
	}
	return p, nil
}

// acquire returns the pool for a tenant database, creating it on first use.
// The first use also provisions the logical database if the tenant never
// created it; establishment is retried with bounded backoff.
func (m *Manager) acquire(ctx context.Context, conn *domain.DatabaseConnection, password string) (*poolEntry, error) {
	m.mu.Lock()
	if entry, ok := m.pools[conn.ID]; ok {
		entry.lastUsed = time.Now()
		m.mu.Unlock()
		return entry, nil
	}
	m.mu.Unlock()

	var pool execer
	err := m.policy.Do(ctx, func(ctx context.Context) error {
		if provErr := m.ensureDatabase(ctx, conn, password); provErr != nil {
			return provErr
		}
		p, dialErr := m.openPool(ctx, conn, password)
		if dialErr != nil {
			return dialErr
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.pools[conn.ID]; ok {
		// Another worker connected concurrently; keep theirs.
		pool.Close()
		existing.lastUsed = time.Now()
		return existing, nil
	}
	entry := &poolEntry{pool: pool, lastUsed: time.Now()}
	m.pools[conn.ID] = entry
	return entry, nil
}

// EnsureSchema lazily creates the replication table in the tenant database.
// Safe to call concurrently from multiple workers: the creation statement is
// idempotent and atomic at the database level.
func (m *Manager) EnsureSchema(ctx context.Context, conn *domain.DatabaseConnection, password string) error {
	if !identifierPattern.MatchString(TableName) {
		return fmt.Errorf("tenantdb: invalid table name %q", TableName)
	}

	entry, err := m.acquire(ctx, conn, password)
	if err != nil {
		return err
	}

	m.mu.Lock()
	ready := entry.schemaReady
	m.mu.Unlock()
	if ready {
		return nil
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			signature TEXT NOT NULL UNIQUE,
			category TEXT NOT NULL,
			slot BIGINT NOT NULL DEFAULT 0,
			fee_payer TEXT,
			fee BIGINT NOT NULL DEFAULT 0,
			description TEXT,
			account_data JSONB,
			instructions JSONB,
			raw_data JSONB,
			received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, TableName)

	err = m.policy.Do(ctx, func(ctx context.Context) error {
		_, execErr := entry.pool.Exec(ctx, ddl)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("ensure replication table: %w", err)
	}

	m.mu.Lock()
	entry.schemaReady = true
	m.mu.Unlock()
	return nil
}

// InsertEvent writes one replicated event. Duplicate deliveries are no-ops
// thanks to the unique signature constraint.
func (m *Manager) InsertEvent(ctx context.Context, conn *domain.DatabaseConnection, password string, data domain.ReplicationData) error {
	entry, err := m.acquire(ctx, conn, password)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (signature, category, slot, fee_payer, fee, description, account_data, instructions, raw_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (signature) DO NOTHING
	`, TableName)

	_, err = entry.pool.Exec(ctx, query,
		data.Signature, data.Type, data.Slot, data.FeePayer, data.Fee,
		data.Description, data.AccountData, data.Instructions, data.RawData,
	)
	if err != nil {
		return fmt.Errorf("insert replicated event: %w", err)
	}
	return nil
}

// CloseIdle closes pools that have not been used within the idle TTL.
// Intended to be called periodically from a janitor goroutine.
func (m *Manager) CloseIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-m.idleTTL)
	for id, entry := range m.pools {
		if entry.lastUsed.Before(cutoff) {
			entry.pool.Close()
			delete(m.pools, id)
			log.Printf("level=info component=tenantdb msg=\"closed idle tenant pool\" database_id=%s", id)
		}
	}
}

// Close shuts down every pool in the arena.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, entry := range m.pools {
		entry.pool.Close()
		delete(m.pools, id)
	}
}
