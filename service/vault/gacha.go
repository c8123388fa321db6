package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/moxen-gg/vault/service/db"
)

// GachaPurchase is the response to a gacha initiation: the payload the
// user must sign, and nothing about the outcome.
type GachaPurchase struct {
	TransactionID       uuid.UUID `json:"transaction_id"`
	UnsignedTransaction string    `json:"unsigned_transaction"`
	TokenAmount         int64     `json:"token_amount"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// GachaResult is the revealed outcome of a confirmed roll.
type GachaResult struct {
	Success bool       `json:"success"`
	Item    RolledItem `json:"item"`
}

// gachaOutcome is the committed outcome payload persisted at initiation.
type gachaOutcome struct {
	Item       RolledItem `json:"item"`
	CostAmount int64      `json:"cost_amount"`
}

// InitiateGachaRoll pre-rolls the item, builds the unsigned token burn
// transaction, and persists the PENDING record. The roll happens before
// anything is persisted and is never recomputed: the outcome is fixed
// before the user commits funds.
func (s *Service) InitiateGachaRoll(ctx context.Context, userID string) (*GachaPurchase, error) {
	_, wallet, err := s.userWallet(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	item, err := rollItem()
	if err != nil {
		return nil, err
	}

	built, err := s.builder.BuildTokenBurn(ctx, wallet, uint64(GachaCostTokens))
	if err != nil {
		return nil, err
	}

	outcome, err := json.Marshal(gachaOutcome{Item: item, CostAmount: GachaCostTokens})
	if err != nil {
		return nil, fmt.Errorf("failed to encode committed outcome: %w", err)
	}

	expiresAt := s.now().Add(s.pendingTTL)
	txn, err := s.store.CreatePendingTransaction(ctx, db.CreatePendingTransactionParams{
		ID:                      uuid.New(),
		UserID:                  userID,
		Kind:                    db.KindGachaRoll,
		Asset:                   db.AssetToken,
		Amount:                  GachaCostTokens,
		SourceAddress:           built.Source.String(),
		DestinationAddress:      built.Destination.String(),
		AuthorityAddress:        built.Authority.String(),
		UnsignedTransactionBlob: built.Blob,
		CommittedOutcome:        outcome,
		LastValidBlockHeight:    int64(built.LastValidBlockHeight),
		ExpiresAt:               expiresAt,
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordPurchaseInitiated(db.KindGachaRoll)
	}
	s.logger.InfoContext(ctx, "gacha roll initiated",
		"transaction_id", txn.ID.String(),
		"user_id", userID,
		"cost", GachaCostTokens,
		"expires_at", expiresAt,
	)

	return &GachaPurchase{
		TransactionID:       txn.ID,
		UnsignedTransaction: txn.UnsignedTransactionBlob,
		TokenAmount:         GachaCostTokens,
		ExpiresAt:           txn.ExpiresAt,
	}, nil
}

// ConfirmGachaRoll verifies the burn on-chain and reveals the committed
// item. Retried calls with the same signature return the same item
// without re-applying anything.
func (s *Service) ConfirmGachaRoll(ctx context.Context, userID string, transactionID uuid.UUID, signature string) (*GachaResult, error) {
	result, err := s.confirmPending(ctx, userID, transactionID, signature, db.KindGachaRoll, 0)
	if err != nil {
		return nil, err
	}

	var outcome gachaOutcome
	if err := json.Unmarshal(result.txn.CommittedOutcome, &outcome); err != nil {
		return nil, fmt.Errorf("committed outcome for %s is corrupt: %w", result.txn.ID.String(), err)
	}

	if !result.replayed {
		s.publishSettlement(ctx, result.txn, 0)
	}

	return &GachaResult{
		Success: true,
		Item:    outcome.Item,
	}, nil
}
