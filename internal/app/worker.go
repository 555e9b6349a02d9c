/**
 * @description
 * This file contains the replication worker: the queue consumer that turns a
 * ReplicationJob into a row in the owning tenant's database. For each job it
 * resolves the database connection, decrypts the credentials, lazily
 * provisions the replication table, and performs an idempotent insert.
 *
 * Failure semantics:
 * - Malformed payloads are validation errors: logged and dropped, never
 *   retried.
 * - A missing database connection is permanent: the tenant deleted it after
 *   the job was enqueued. Logged and dropped.
 * - Everything else (unreachable database, decrypt failure, write error) is
 *   reported as Retry; the queue's bounded redelivery routes the job to the
 *   dead-letter destination once the budget is exhausted.
 *
 * @dependencies
 * - context, encoding/json, errors, log, time: Standard Go libraries.
 * - internal/domain, internal/store, internal/tenantdb, internal/vault,
 *   pkg/rabbitmq: Data access, tenant writes, credential decryption, queue
 *   outcome types.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/solixdb/ingestion-service/internal/domain"
	"github.com/solixdb/ingestion-service/internal/store"
	"github.com/solixdb/ingestion-service/internal/tenantdb"
	"github.com/solixdb/ingestion-service/internal/vault"
	"github.com/solixdb/ingestion-service/pkg/rabbitmq"
)

// ReplicationConsumer consumes ReplicationJob messages from the delivery
// queue and writes them into tenant databases.
type ReplicationConsumer struct {
	repo   store.Repository
	vault  *vault.Vault
	writer tenantdb.Writer
}

// NewReplicationConsumer creates a new replication worker.
func NewReplicationConsumer(repo store.Repository, credentialVault *vault.Vault, writer tenantdb.Writer) *ReplicationConsumer {
	return &ReplicationConsumer{repo: repo, vault: credentialVault, writer: writer}
}

// HandleMessage processes one delivery and reports the queue outcome.
func (c *ReplicationConsumer) HandleMessage(body []byte) rabbitmq.Outcome {
	var job domain.ReplicationJob
	if err := json.Unmarshal(body, &job); err != nil {
		log.Printf("level=warn component=replication_worker msg=\"dropping malformed job payload\" err=%v", err)
		return rabbitmq.Ack
	}
	if job.Signature == "" || job.DatabaseID == (uuid.UUID{}) {
		log.Printf("level=warn component=replication_worker msg=\"dropping job with missing signature or database id\" job_id=%s", job.JobID)
		return rabbitmq.Ack
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := c.processJob(ctx, &job); err != nil {
		if errors.Is(err, store.ErrDatabaseNotFound) {
			log.Printf("level=warn component=replication_worker msg=\"database connection gone; dropping job\" job_id=%s database_id=%s", job.JobID, job.DatabaseID)
			return rabbitmq.Ack
		}
		log.Printf("level=error component=replication_worker msg=\"job failed; scheduling retry\" job_id=%s signature=%s err=%v", job.JobID, job.Signature, err)
		return rabbitmq.Retry
	}

	return rabbitmq.Ack
}

func (c *ReplicationConsumer) processJob(ctx context.Context, job *domain.ReplicationJob) error {
	conn, err := c.repo.FindDatabaseConnectionByID(ctx, job.DatabaseID)
	if err != nil {
		return err
	}

	// The plaintext password lives only for the duration of this write.
	password, err := c.vault.Decrypt(conn.EncryptedPassword)
	if err != nil {
		// Tampering or key rotation mismatch; surfaced loudly, bounded
		// redelivery parks the job for operators.
		return err
	}

	if err := c.writer.EnsureSchema(ctx, conn, password); err != nil {
		return err
	}
	return c.writer.InsertEvent(ctx, conn, password, job.Event)
}
