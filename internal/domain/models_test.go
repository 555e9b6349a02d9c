package domain

import (
	"encoding/json"
	"testing"
)

func TestSubscriptionAggregate_UnionWith(t *testing.T) {
	agg := &SubscriptionAggregate{
		Cluster:    ClusterMainnet,
		Addresses:  []string{"addr-0"},
		Categories: []string{"TRANSFER"},
		Version:    3,
	}

	addrs, cats := agg.UnionWith("addr-1", []string{"TRANSFER", "SWAP"})
	if len(addrs) != 2 || addrs[1] != "addr-1" {
		t.Fatalf("expected appended address, got %v", addrs)
	}
	if len(cats) != 2 || cats[1] != "SWAP" {
		t.Fatalf("expected appended category, got %v", cats)
	}

	// Union with already-covered inputs must not grow the sets.
	addrs, cats = agg.UnionWith("addr-0", []string{"TRANSFER"})
	if len(addrs) != 1 || len(cats) != 1 {
		t.Fatalf("expected unchanged sets, got %v %v", addrs, cats)
	}

	// The receiver is never mutated.
	if len(agg.Addresses) != 1 || len(agg.Categories) != 1 {
		t.Fatal("expected UnionWith to leave the aggregate untouched")
	}
}

func TestProviderEvent_TouchedAddressesDeduplicates(t *testing.T) {
	event := &ProviderEvent{
		Type:      "TRANSFER",
		Signature: "sig-1",
		AccountData: []ProviderAccountEntry{
			{Account: "addr-1"},
			{Account: ""},
			{Account: "addr-2"},
			{Account: "addr-1"},
		},
	}
	addrs := event.TouchedAddresses()
	if len(addrs) != 2 || addrs[0] != "addr-1" || addrs[1] != "addr-2" {
		t.Fatalf("expected deduplicated addresses in payload order, got %v", addrs)
	}
}

func TestProviderEvent_ToReplicationData(t *testing.T) {
	raw := json.RawMessage(`{"type":"SWAP","signature":"sig-2"}`)
	event := &ProviderEvent{Type: "SWAP", Slot: 100, Signature: "sig-2"}

	data := event.ToReplicationData(raw)
	if data.RawData == nil {
		t.Fatal("expected non-TRANSFER category to carry the raw envelope")
	}
	if data.AccountData != nil {
		t.Fatal("expected no typed columns for a raw envelope")
	}

	transfer := &ProviderEvent{
		Type: "TRANSFER", Slot: 100, Signature: "sig-3", FeePayer: "payer", Fee: 5000,
		AccountData: []ProviderAccountEntry{{Account: "addr-1"}},
	}
	data = transfer.ToReplicationData(json.RawMessage(`{}`))
	if data.RawData != nil {
		t.Fatal("expected TRANSFER to use typed columns, not the raw envelope")
	}
	if data.FeePayer != "payer" || data.Fee != 5000 {
		t.Fatalf("expected typed transfer fields, got %+v", data)
	}
}
