package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/moxen-gg/vault/service/db"
	"github.com/moxen-gg/vault/service/solana"
)

// RewardClaim is the response to a reward claim initiation. The payload
// is partially signed by the vault; the claimant adds the final signature
// and pays the network fee.
type RewardClaim struct {
	TransactionID       uuid.UUID `json:"transaction_id"`
	UnsignedTransaction string    `json:"unsigned_transaction"`
	Asset               string    `json:"asset"`
	Amount              int64     `json:"amount"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// RewardResult is the settled outcome of a confirmed reward claim.
type RewardResult struct {
	Success bool   `json:"success"`
	Asset   string `json:"asset"`
	Amount  int64  `json:"amount"`
}

// rewardOutcome is the committed outcome payload persisted at initiation.
type rewardOutcome struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

// InitiateRewardClaim builds a vault-pays transfer of the given asset and
// amount to the claimant's wallet, partially signed by the vault, and
// persists the PENDING record. The amount is decided by the caller
// (a trusted upstream), not by the claimant.
func (s *Service) InitiateRewardClaim(ctx context.Context, userID, asset string, amount int64) (*RewardClaim, error) {
	if asset != db.AssetSOL && asset != db.AssetToken {
		return nil, validationErr("asset", "must be \"sol\" or \"token\"")
	}
	if amount <= 0 {
		return nil, validationErr("amount", "must be greater than zero")
	}

	_, wallet, err := s.userWallet(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var built *solana.BuiltTransaction
	if asset == db.AssetSOL {
		built, err = s.builder.BuildSOLReward(ctx, wallet, uint64(amount))
	} else {
		built, err = s.builder.BuildTokenReward(ctx, wallet, uint64(amount))
	}
	if err != nil {
		return nil, err
	}

	outcome, err := json.Marshal(rewardOutcome{Asset: asset, Amount: amount})
	if err != nil {
		return nil, fmt.Errorf("failed to encode committed outcome: %w", err)
	}

	expiresAt := s.now().Add(s.pendingTTL)
	txn, err := s.store.CreatePendingTransaction(ctx, db.CreatePendingTransactionParams{
		ID:                      uuid.New(),
		UserID:                  userID,
		Kind:                    db.KindRewardClaim,
		Asset:                   asset,
		Amount:                  amount,
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
		s.metrics.RecordPurchaseInitiated(db.KindRewardClaim)
	}
	s.logger.InfoContext(ctx, "reward claim initiated",
		"transaction_id", txn.ID.String(),
		"user_id", userID,
		"asset", asset,
		"amount", amount,
		"expires_at", expiresAt,
	)

	return &RewardClaim{
		TransactionID:       txn.ID,
		UnsignedTransaction: txn.UnsignedTransactionBlob,
		Asset:               asset,
		Amount:              amount,
		ExpiresAt:           txn.ExpiresAt,
	}, nil
}

// ConfirmRewardClaim verifies the vault's transfer to the claimant
// landed on-chain. The reward is the on-chain transfer itself; no
// off-chain balance moves.
func (s *Service) ConfirmRewardClaim(ctx context.Context, userID string, transactionID uuid.UUID, signature string) (*RewardResult, error) {
	result, err := s.confirmPending(ctx, userID, transactionID, signature, db.KindRewardClaim, 0)
	if err != nil {
		return nil, err
	}

	var outcome rewardOutcome
	if err := json.Unmarshal(result.txn.CommittedOutcome, &outcome); err != nil {
		return nil, fmt.Errorf("committed outcome for %s is corrupt: %w", result.txn.ID.String(), err)
	}

	if !result.replayed {
		s.publishSettlement(ctx, result.txn, 0)
	}

	return &RewardResult{
		Success: true,
		Asset:   outcome.Asset,
		Amount:  outcome.Amount,
	}, nil
}

// PendingTransactionsForUser lists a user's pending transactions, newest
// first, optionally filtered by status.
func (s *Service) PendingTransactionsForUser(ctx context.Context, userID, status string, limit int32) ([]*db.PendingTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	switch status {
	case "", db.StatusPending, db.StatusConfirmed, db.StatusFailed, db.StatusExpired:
	default:
		return nil, validationErr("status", "unknown status filter")
	}
	return s.store.ListPendingTransactionsByUser(ctx, userID, status, limit)
}
