package nats

import (
	"time"

	"github.com/moxen-gg/vault/service/db"
)

// SettlementEvent represents a settled payment published to NATS.
// This is published to the subject "settlements.{user_id}" in JetStream.
type SettlementEvent struct {
	// Pending transaction identifiers
	TransactionID     string `json:"transaction_id"`
	SettlingSignature string `json:"settling_signature"`

	// Owner
	UserID string `json:"user_id"`

	// Settlement details
	Kind          string `json:"kind"`
	Asset         string `json:"asset"`
	SettledAmount int64  `json:"settled_amount"`

	// BalanceCredited is the off-chain balance credited by this
	// settlement, zero for kinds that credit nothing.
	BalanceCredited int64 `json:"balance_credited"`

	// Timing information
	SettledAt   time.Time `json:"settled_at"`
	PublishedAt time.Time `json:"published_at"`
}

// FromSettledTransaction converts a settled pending transaction to a
// SettlementEvent for publishing.
func FromSettledTransaction(txn *db.PendingTransaction, balanceCredited int64) *SettlementEvent {
	event := &SettlementEvent{
		TransactionID:   txn.ID.String(),
		UserID:          txn.UserID,
		Kind:            txn.Kind,
		Asset:           txn.Asset,
		BalanceCredited: balanceCredited,
		SettledAt:       txn.UpdatedAt,
		PublishedAt:     time.Now().UTC(),
	}

	if txn.SettlingSignature != nil {
		event.SettlingSignature = *txn.SettlingSignature
	}
	if txn.SettledAmount != nil {
		event.SettledAmount = *txn.SettledAmount
	}

	return event
}
