package domain

import "encoding/json"

// ProviderEvent represents one enhanced transaction pushed by the upstream
// data provider. The provider posts a JSON array of these; each event lists
// every account it touched and carries a unique signature used downstream as
// the replication idempotency key.
type ProviderEvent struct {
	Type         string                 `json:"type"`
	Slot         int64                  `json:"slot"`
	Signature    string                 `json:"signature"`
	FeePayer     string                 `json:"feePayer"`
	Fee          int64                  `json:"fee"`
	Description  string                 `json:"description"`
	AccountData  []ProviderAccountEntry `json:"accountData"`
	Instructions json.RawMessage        `json:"instructions"`
}

// ProviderAccountEntry is one touched account within a provider event.
type ProviderAccountEntry struct {
	Account        string          `json:"account"`
	NativeChange   int64           `json:"nativeBalanceChange"`
	TokenTransfers json.RawMessage `json:"tokenBalanceChanges,omitempty"`
}

// TouchedAddresses returns the distinct account addresses referenced by the
// event, in payload order.
func (e *ProviderEvent) TouchedAddresses() []string {
	seen := make(map[string]struct{}, len(e.AccountData))
	var addrs []string
	for _, entry := range e.AccountData {
		if entry.Account == "" {
			continue
		}
		if _, ok := seen[entry.Account]; ok {
			continue
		}
		seen[entry.Account] = struct{}{}
		addrs = append(addrs, entry.Account)
	}
	return addrs
}

// ToReplicationData projects the provider event into the payload persisted
// in a tenant's replication table. TRANSFER events keep their typed columns;
// unknown categories are preserved verbatim under raw_data.
func (e *ProviderEvent) ToReplicationData(raw json.RawMessage) ReplicationData {
	accountData, _ := json.Marshal(e.AccountData)
	switch e.Type {
	case "TRANSFER":
		return ReplicationData{
			Type:         e.Type,
			Slot:         e.Slot,
			Signature:    e.Signature,
			FeePayer:     e.FeePayer,
			Fee:          e.Fee,
			Description:  e.Description,
			AccountData:  accountData,
			Instructions: e.Instructions,
		}
	default:
		return ReplicationData{
			Type:      e.Type,
			Slot:      e.Slot,
			Signature: e.Signature,
			RawData:   raw,
		}
	}
}
