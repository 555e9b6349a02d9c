package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/solixdb/ingestion-service/internal/domain"
	"github.com/solixdb/ingestion-service/internal/store"
)

type ingestRepoStub struct {
	store.Repository

	agg *domain.SubscriptionAggregate

	// subscriptions keyed by target address
	subs map[string][]domain.Subscription

	lookupCalls int
}

func (s *ingestRepoStub) GetAggregate(ctx context.Context, cluster domain.Cluster) (*domain.SubscriptionAggregate, error) {
	if s.agg == nil {
		return &domain.SubscriptionAggregate{Cluster: cluster}, nil
	}
	return s.agg, nil
}

func (s *ingestRepoStub) FindActiveSubscriptionsByAddress(ctx context.Context, cluster domain.Cluster, address string) ([]domain.Subscription, error) {
	s.lookupCalls++
	return s.subs[address], nil
}

func transferEvent(signature string, accounts ...string) *domain.ProviderEvent {
	entries := make([]domain.ProviderAccountEntry, len(accounts))
	for i, acc := range accounts {
		entries[i] = domain.ProviderAccountEntry{Account: acc}
	}
	return &domain.ProviderEvent{
		Type:        "TRANSFER",
		Slot:        271828,
		Signature:   signature,
		FeePayer:    accounts[0],
		Fee:         5000,
		Description: "test transfer",
		AccountData: entries,
	}
}

func TestIngestEvent_UnmatchedAddressesEnqueueNothing(t *testing.T) {
	repo := &ingestRepoStub{
		agg: &domain.SubscriptionAggregate{
			Cluster:   domain.ClusterMainnet,
			Addresses: []string{"tracked-1"},
		},
	}
	pub := &publisherStub{}
	svc := newTestService(repo, &providerStub{}, pub)

	event := transferEvent("sig-1", "stranger-1", "stranger-2")
	enqueued, err := svc.IngestEvent(context.Background(), domain.ClusterMainnet, event, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if enqueued != 0 {
		t.Fatalf("expected no jobs, got %d", enqueued)
	}
	if repo.lookupCalls != 0 {
		t.Fatal("expected no subscription lookups for unmatched addresses")
	}
	if len(pub.jobs) != 0 {
		t.Fatalf("expected no published jobs, got %d", len(pub.jobs))
	}
}

func TestIngestEvent_EnqueuesOneJobPerTenantDatabase(t *testing.T) {
	tenantA := uuid.New()
	tenantB := uuid.New()
	dbA := uuid.New()
	dbB := uuid.New()

	repo := &ingestRepoStub{
		agg: &domain.SubscriptionAggregate{
			Cluster:   domain.ClusterMainnet,
			Addresses: []string{"tracked-1"},
		},
		subs: map[string][]domain.Subscription{
			"tracked-1": {
				{ID: uuid.New(), TenantID: tenantA, DatabaseID: dbA, TargetAddr: "tracked-1", Categories: []string{"TRANSFER"}, Cluster: domain.ClusterMainnet},
				{ID: uuid.New(), TenantID: tenantB, DatabaseID: dbB, TargetAddr: "tracked-1", Categories: []string{"TRANSFER", "SWAP"}, Cluster: domain.ClusterMainnet},
				// Subscribed to a different category; must not match.
				{ID: uuid.New(), TenantID: uuid.New(), DatabaseID: uuid.New(), TargetAddr: "tracked-1", Categories: []string{"NFT_SALE"}, Cluster: domain.ClusterMainnet},
			},
		},
	}
	pub := &publisherStub{}
	svc := newTestService(repo, &providerStub{}, pub)

	event := transferEvent("sig-2", "tracked-1", "stranger-1")
	enqueued, err := svc.IngestEvent(context.Background(), domain.ClusterMainnet, event, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if enqueued != 2 {
		t.Fatalf("expected 2 jobs, got %d", enqueued)
	}
	if len(pub.jobs) != 2 {
		t.Fatalf("expected 2 published jobs, got %d", len(pub.jobs))
	}

	job := pub.jobs[0]
	if job.Signature != "sig-2" {
		t.Fatalf("expected job signature sig-2, got %q", job.Signature)
	}
	if job.Cluster != domain.ClusterMainnet {
		t.Fatalf("expected mainnet cluster, got %q", job.Cluster)
	}
	if job.Category != "TRANSFER" {
		t.Fatalf("expected TRANSFER category, got %q", job.Category)
	}
	if job.Event.FeePayer != "tracked-1" || job.Event.Fee != 5000 {
		t.Fatalf("expected typed transfer payload, got %+v", job.Event)
	}
}

func TestIngestEvent_DeduplicatesDatabaseAcrossAddresses(t *testing.T) {
	tenantID := uuid.New()
	dbID := uuid.New()
	sub := domain.Subscription{
		ID: uuid.New(), TenantID: tenantID, DatabaseID: dbID,
		Categories: []string{"TRANSFER"}, Cluster: domain.ClusterMainnet,
	}

	repo := &ingestRepoStub{
		agg: &domain.SubscriptionAggregate{
			Cluster:   domain.ClusterMainnet,
			Addresses: []string{"tracked-1", "tracked-2"},
		},
		subs: map[string][]domain.Subscription{
			"tracked-1": {sub},
			"tracked-2": {sub},
		},
	}
	pub := &publisherStub{}
	svc := newTestService(repo, &providerStub{}, pub)

	// One event touching both tracked addresses of the same database.
	event := transferEvent("sig-3", "tracked-1", "tracked-2")
	enqueued, err := svc.IngestEvent(context.Background(), domain.ClusterMainnet, event, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if enqueued != 1 {
		t.Fatalf("expected a single deduplicated job, got %d", enqueued)
	}
}

func TestIngestEvent_PublishFailureSurfaces(t *testing.T) {
	repo := &ingestRepoStub{
		agg: &domain.SubscriptionAggregate{
			Cluster:   domain.ClusterMainnet,
			Addresses: []string{"tracked-1"},
		},
		subs: map[string][]domain.Subscription{
			"tracked-1": {
				{ID: uuid.New(), TenantID: uuid.New(), DatabaseID: uuid.New(), Categories: []string{"TRANSFER"}, Cluster: domain.ClusterMainnet},
			},
		},
	}
	pub := &publisherStub{err: context.DeadlineExceeded}
	svc := newTestService(repo, &providerStub{}, pub)

	event := transferEvent("sig-4", "tracked-1")
	if _, err := svc.IngestEvent(context.Background(), domain.ClusterMainnet, event, json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected publish failure to surface for batch redelivery")
	}
}
