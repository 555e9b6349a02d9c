package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/solixdb/ingestion-service/internal/domain"
	"github.com/solixdb/ingestion-service/internal/store"
	"github.com/solixdb/ingestion-service/internal/vault"
	"github.com/solixdb/ingestion-service/pkg/rabbitmq"
)

const workerTestKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

type workerRepoStub struct {
	store.Repository

	conn *domain.DatabaseConnection
	err  error
}

func (s *workerRepoStub) FindDatabaseConnectionByID(ctx context.Context, databaseID uuid.UUID) (*domain.DatabaseConnection, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.conn, nil
}

type fakeWriter struct {
	schemaCalls int
	inserted    []domain.ReplicationData
	passwords   []string

	schemaErr error
	insertErr error
}

func (w *fakeWriter) EnsureSchema(ctx context.Context, conn *domain.DatabaseConnection, password string) error {
	w.schemaCalls++
	w.passwords = append(w.passwords, password)
	return w.schemaErr
}

func (w *fakeWriter) InsertEvent(ctx context.Context, conn *domain.DatabaseConnection, password string, data domain.ReplicationData) error {
	if w.insertErr != nil {
		return w.insertErr
	}
	w.inserted = append(w.inserted, data)
	return nil
}

func newWorkerFixture(t *testing.T, repoErr error) (*ReplicationConsumer, *workerRepoStub, *fakeWriter) {
	t.Helper()
	v, err := vault.New(workerTestKey)
	if err != nil {
		t.Fatalf("vault init failed: %v", err)
	}
	ciphertext, err := v.Encrypt("tenant-db-password")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	repo := &workerRepoStub{
		conn: &domain.DatabaseConnection{
			ID:                uuid.New(),
			TenantID:          uuid.New(),
			Host:              "db.tenant.example.com",
			Port:              5432,
			Username:          "indexer",
			DBName:            "events",
			EncryptedPassword: ciphertext,
		},
		err: repoErr,
	}
	writer := &fakeWriter{}
	return NewReplicationConsumer(repo, v, writer), repo, writer
}

func replicationJobBody(t *testing.T, databaseID uuid.UUID) []byte {
	t.Helper()
	job := domain.ReplicationJob{
		JobID:      uuid.New(),
		TenantID:   uuid.New(),
		DatabaseID: databaseID,
		Cluster:    domain.ClusterMainnet,
		Category:   "TRANSFER",
		Signature:  "sig-worker-1",
		Event: domain.ReplicationData{
			Type:      "TRANSFER",
			Slot:      314159,
			Signature: "sig-worker-1",
			FeePayer:  "payer-1",
			Fee:       5000,
		},
	}
	body, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal job failed: %v", err)
	}
	return body
}

func TestHandleMessage_WritesEventAndAcks(t *testing.T) {
	consumer, repo, writer := newWorkerFixture(t, nil)

	outcome := consumer.HandleMessage(replicationJobBody(t, repo.conn.ID))
	if outcome != rabbitmq.Ack {
		t.Fatalf("expected Ack, got %v", outcome)
	}
	if writer.schemaCalls != 1 {
		t.Fatalf("expected schema provisioning, got %d calls", writer.schemaCalls)
	}
	if len(writer.inserted) != 1 {
		t.Fatalf("expected one insert, got %d", len(writer.inserted))
	}
	if writer.inserted[0].Signature != "sig-worker-1" {
		t.Fatalf("unexpected inserted signature %q", writer.inserted[0].Signature)
	}
	if writer.passwords[0] != "tenant-db-password" {
		t.Fatal("expected the decrypted password to reach the writer")
	}
}

func TestHandleMessage_MalformedPayloadAcked(t *testing.T) {
	consumer, _, writer := newWorkerFixture(t, nil)

	if outcome := consumer.HandleMessage([]byte("not json")); outcome != rabbitmq.Ack {
		t.Fatalf("expected malformed payload to be dropped, got %v", outcome)
	}
	if outcome := consumer.HandleMessage([]byte(`{"signature":""}`)); outcome != rabbitmq.Ack {
		t.Fatalf("expected empty job to be dropped, got %v", outcome)
	}
	if writer.schemaCalls != 0 {
		t.Fatal("expected no writes for dropped payloads")
	}
}

func TestHandleMessage_MissingDatabaseAcked(t *testing.T) {
	consumer, _, writer := newWorkerFixture(t, store.ErrDatabaseNotFound)

	if outcome := consumer.HandleMessage(replicationJobBody(t, uuid.New())); outcome != rabbitmq.Ack {
		t.Fatalf("expected deleted database to drop the job, got %v", outcome)
	}
	if writer.schemaCalls != 0 {
		t.Fatal("expected no writes when the database connection is gone")
	}
}

func TestHandleMessage_WriteFailureRetries(t *testing.T) {
	consumer, repo, writer := newWorkerFixture(t, nil)
	writer.insertErr = errors.New("connection reset")

	if outcome := consumer.HandleMessage(replicationJobBody(t, repo.conn.ID)); outcome != rabbitmq.Retry {
		t.Fatalf("expected transient write failure to retry, got %v", outcome)
	}
}

func TestHandleMessage_DecryptFailureRetries(t *testing.T) {
	consumer, repo, _ := newWorkerFixture(t, nil)
	repo.conn.EncryptedPassword = "not-a-ciphertext"

	if outcome := consumer.HandleMessage(replicationJobBody(t, repo.conn.ID)); outcome != rabbitmq.Retry {
		t.Fatalf("expected decrypt failure to retry, got %v", outcome)
	}
}

func TestHandleMessage_ReplayIsIdempotentAtWriter(t *testing.T) {
	consumer, repo, writer := newWorkerFixture(t, nil)
	body := replicationJobBody(t, repo.conn.ID)

	if outcome := consumer.HandleMessage(body); outcome != rabbitmq.Ack {
		t.Fatalf("expected Ack on first delivery, got %v", outcome)
	}
	if outcome := consumer.HandleMessage(body); outcome != rabbitmq.Ack {
		t.Fatalf("expected Ack on replay, got %v", outcome)
	}
	// The writer sees both inserts; deduplication lives in the tenant
	// table's unique signature constraint.
	if len(writer.inserted) != 2 {
		t.Fatalf("expected both replayed inserts to reach the writer, got %d", len(writer.inserted))
	}
	if writer.inserted[0].Signature != writer.inserted[1].Signature {
		t.Fatal("expected identical signatures across replays")
	}
}
