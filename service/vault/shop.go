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

// BalancePurchase is the response to a balance bundle initiation.
type BalancePurchase struct {
	TransactionID       uuid.UUID `json:"transaction_id"`
	UnsignedTransaction string    `json:"unsigned_transaction"`
	SOLPrice            string    `json:"sol_price"`
	Lamports            int64     `json:"lamports"`
	BalanceAmount       int64     `json:"balance_amount"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// BalanceResult is the settled outcome of a confirmed balance purchase.
type BalanceResult struct {
	Success      bool  `json:"success"`
	BalanceAdded int64 `json:"balance_added"`
	NewBalance   int64 `json:"new_balance"`
}

// balanceOutcome is the committed outcome payload persisted at initiation.
type balanceOutcome struct {
	ShopItemID    string `json:"shop_item_id"`
	ItemName      string `json:"item_name"`
	BalanceAmount int64  `json:"balance_amount"`
	SOLPrice      string `json:"sol_price"`
}

// Catalog returns the active shop items, optionally filtered to a single
// item type. An empty itemType returns the whole catalog.
func (s *Service) Catalog(ctx context.Context, itemType string) ([]*db.ShopItem, error) {
	return s.store.ListShopItems(ctx, itemType)
}

// BalanceBundles returns the active items that credit off-chain balance
// when purchased.
func (s *Service) BalanceBundles(ctx context.Context) ([]*db.ShopItem, error) {
	return s.store.ListBalanceBundles(ctx)
}

// InitiateBalancePurchase looks up the catalog entry, converts its
// decimal SOL price into lamports exactly, builds the unsigned SOL
// transfer to the vault, and persists the PENDING record.
func (s *Service) InitiateBalancePurchase(ctx context.Context, userID, itemID string) (*BalancePurchase, error) {
	_, wallet, err := s.userWallet(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	item, err := s.store.GetShopItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !item.Active {
		return nil, validationErr("item_id", "item is not available for purchase")
	}
	if item.ItemType != db.ItemTypeBalance {
		return nil, validationErr("item_id", "item does not credit balance")
	}

	lamports, err := ParseDecimalAmount(item.PriceSOL, SOLDecimals)
	if err != nil {
		return nil, fmt.Errorf("catalog item %s has a bad price: %w", item.ID, err)
	}

	built, err := s.builder.BuildSOLTransferToVault(ctx, wallet, uint64(lamports))
	if err != nil {
		return nil, err
	}

	outcome, err := json.Marshal(balanceOutcome{
		ShopItemID:    item.ID,
		ItemName:      item.Name,
		BalanceAmount: item.BalanceAmount,
		SOLPrice:      item.PriceSOL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode committed outcome: %w", err)
	}

	expiresAt := s.now().Add(s.pendingTTL)
	txn, err := s.store.CreatePendingTransaction(ctx, db.CreatePendingTransactionParams{
		ID:                      uuid.New(),
		UserID:                  userID,
		Kind:                    db.KindBalancePurchase,
		Asset:                   db.AssetSOL,
		Amount:                  lamports,
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
		s.metrics.RecordPurchaseInitiated(db.KindBalancePurchase)
	}
	s.logger.InfoContext(ctx, "balance purchase initiated",
		"transaction_id", txn.ID.String(),
		"user_id", userID,
		"item_id", item.ID,
		"lamports", lamports,
		"expires_at", expiresAt,
	)

	return &BalancePurchase{
		TransactionID:       txn.ID,
		UnsignedTransaction: txn.UnsignedTransactionBlob,
		SOLPrice:            item.PriceSOL,
		Lamports:            lamports,
		BalanceAmount:       item.BalanceAmount,
		ExpiresAt:           txn.ExpiresAt,
	}, nil
}

// ConfirmBalancePurchase verifies the SOL transfer on-chain and credits
// the committed balance amount. The status transition and the credit are
// one atomic unit: a verified payment is never confirmed without its
// credit, nor credited twice on retries.
func (s *Service) ConfirmBalancePurchase(ctx context.Context, userID string, transactionID uuid.UUID, signature string) (*BalanceResult, error) {
	// The credit amount comes from the record frozen at initiation, so
	// it must be read before the settle. The short-circuit path inside
	// confirmPending covers replays, where nothing is credited.
	txn, err := s.store.GetPendingTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var outcome balanceOutcome
	if err := json.Unmarshal(txn.CommittedOutcome, &outcome); err != nil {
		return nil, fmt.Errorf("committed outcome for %s is corrupt: %w", transactionID.String(), err)
	}

	result, err := s.confirmPending(ctx, userID, transactionID, signature, db.KindBalancePurchase, outcome.BalanceAmount)
	if err != nil {
		return nil, err
	}

	if !result.replayed {
		s.publishSettlement(ctx, result.txn, outcome.BalanceAmount)
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &BalanceResult{
		Success:      true,
		BalanceAdded: outcome.BalanceAmount,
		NewBalance:   user.Balance,
	}, nil
}
