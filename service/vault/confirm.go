package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/moxen-gg/vault/service/db"
	"github.com/moxen-gg/vault/service/solana"
)

// ErrSignatureReused is returned when a signature has already settled a
// different pending transaction. A signature settles at most one record.
var ErrSignatureReused = errors.New("signature already settled another transaction")

// confirmResult is the outcome of the shared confirm pipeline.
type confirmResult struct {
	txn *db.PendingTransaction
	// replayed is true when the signature had already settled this
	// record and the committed outcome is being returned again. No
	// effect was applied by this call.
	replayed bool
}

// confirmPending runs the full confirm pipeline for one pending record:
// idempotency short-circuit, ownership and state gates, on-chain
// verification, then the atomic settle. creditAmount, when positive, is
// applied to the record owner's balance inside the settle transaction.
func (s *Service) confirmPending(ctx context.Context, userID string, transactionID uuid.UUID, rawSignature string, kind string, creditAmount int64) (*confirmResult, error) {
	signature, err := solana.DecodeSignature(rawSignature)
	if err != nil {
		return nil, validationErr("signature", "not a valid base58 transaction signature")
	}

	// Idempotency short-circuit: a signature that already settled a
	// record yields that record's committed outcome again, making
	// retried confirm calls safe.
	if existing, err := s.store.GetPendingTransactionBySignature(ctx, signature.String()); err == nil {
		if existing.UserID != userID {
			return nil, ErrForbidden
		}
		if existing.ID != transactionID || existing.Kind != kind {
			return nil, ErrSignatureReused
		}
		if existing.Status == db.StatusConfirmed {
			return &confirmResult{txn: existing, replayed: true}, nil
		}
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	txn, err := s.store.GetPendingTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if txn.UserID != userID {
		return nil, ErrForbidden
	}
	if txn.Kind != kind {
		return nil, ErrNotFound
	}
	switch txn.Status {
	case db.StatusConfirmed:
		// A concurrent confirm with this signature may have settled the
		// record after the short-circuit lookup above missed it.
		if txn.SettlingSignature != nil && *txn.SettlingSignature == signature.String() {
			return &confirmResult{txn: txn, replayed: true}, nil
		}
		return nil, ErrAlreadySettled
	case db.StatusFailed:
		return nil, ErrAlreadyFailed
	case db.StatusExpired:
		return nil, ErrExpired
	}
	// The sweeper transitions the status eventually; confirm enforces
	// the window itself rather than trusting the sweeper's timing.
	if s.now().After(txn.ExpiresAt) {
		return nil, ErrExpired
	}

	actualAmount, err := s.verifyAgainstRecord(ctx, signature, txn)
	if err != nil {
		if verr, ok := solana.AsVerificationError(err); ok {
			return nil, s.failPending(ctx, txn, verr)
		}
		// Infrastructure error: no status mutation, the caller may retry.
		return nil, err
	}

	settled, replayed, err := s.settlePending(ctx, txn, signature.String(), actualAmount, creditAmount)
	if err != nil {
		return nil, err
	}
	return &confirmResult{txn: settled, replayed: replayed}, nil
}

// verifyAgainstRecord checks the on-chain transaction against the
// counterparties and minimum amount frozen on the record.
func (s *Service) verifyAgainstRecord(ctx context.Context, signature solanago.Signature, txn *db.PendingTransaction) (uint64, error) {
	expected, err := expectedTransfer(txn)
	if err != nil {
		return 0, err
	}

	switch txn.Asset {
	case db.AssetSOL:
		return s.verifier.VerifySOLTransfer(ctx, signature, expected)
	case db.AssetToken:
		return s.verifier.VerifyTokenTransfer(ctx, signature, expected)
	default:
		return 0, fmt.Errorf("pending transaction %s has unknown asset %q", txn.ID.String(), txn.Asset)
	}
}

func expectedTransfer(txn *db.PendingTransaction) (solana.ExpectedTransfer, error) {
	source, err := solanago.PublicKeyFromBase58(txn.SourceAddress)
	if err != nil {
		return solana.ExpectedTransfer{}, fmt.Errorf("stored source address is corrupt: %w", err)
	}
	destination, err := solanago.PublicKeyFromBase58(txn.DestinationAddress)
	if err != nil {
		return solana.ExpectedTransfer{}, fmt.Errorf("stored destination address is corrupt: %w", err)
	}
	authority, err := solanago.PublicKeyFromBase58(txn.AuthorityAddress)
	if err != nil {
		return solana.ExpectedTransfer{}, fmt.Errorf("stored authority address is corrupt: %w", err)
	}
	return solana.ExpectedTransfer{
		Source:      source,
		Destination: destination,
		Authority:   authority,
		MinAmount:   uint64(txn.Amount),
	}, nil
}

// failPending records a verification rejection as a terminal FAILED
// status and re-raises the rejection to the caller. A concurrent
// transition losing the race is not an error: the record already reached
// a terminal state.
func (s *Service) failPending(ctx context.Context, txn *db.PendingTransaction, verr *solana.VerificationError) error {
	if _, err := s.store.FailPendingTransaction(ctx, txn.ID, string(verr.Reason)); err != nil {
		var conflict *db.StatusConflictError
		if !errors.As(err, &conflict) {
			s.logger.ErrorContext(ctx, "failed to mark pending transaction failed",
				"transaction_id", txn.ID.String(),
				"reason", verr.Reason,
				"error", err,
			)
			return err
		}
	}

	if s.metrics != nil {
		s.metrics.RecordPurchaseFailed(txn.Kind, string(verr.Reason))
	}
	s.logger.InfoContext(ctx, "verification rejected, pending transaction failed",
		"transaction_id", txn.ID.String(),
		"kind", txn.Kind,
		"reason", verr.Reason,
	)
	return verr
}

// settlePending applies the CONFIRMED transition plus the balance credit
// atomically. When a concurrent confirm with the same signature won the
// race, this call degrades to a replay and applies nothing.
func (s *Service) settlePending(ctx context.Context, txn *db.PendingTransaction, signature string, actualAmount uint64, creditAmount int64) (*db.PendingTransaction, bool, error) {
	start := time.Now()
	params := db.SettlePendingTransactionParams{
		ID:                txn.ID,
		SettlingSignature: signature,
		SettledAmount:     int64(actualAmount),
	}
	if creditAmount > 0 {
		params.CreditUserID = txn.UserID
		params.CreditAmount = creditAmount
	}

	settled, err := s.store.SettlePendingTransaction(ctx, params)
	if err != nil {
		if errors.Is(err, db.ErrSignatureAlreadyUsed) {
			return nil, false, ErrSignatureReused
		}
		var conflict *db.StatusConflictError
		if errors.As(err, &conflict) {
			if conflict.Status == db.StatusConfirmed {
				current, getErr := s.store.GetPendingTransaction(ctx, txn.ID)
				if getErr != nil {
					return nil, false, getErr
				}
				if current.SettlingSignature != nil && *current.SettlingSignature == signature {
					return current, true, nil
				}
				return nil, false, ErrAlreadySettled
			}
			return nil, false, statusErr(conflict.Status)
		}
		return nil, false, err
	}

	if s.metrics != nil {
		s.metrics.RecordPurchaseConfirmed(txn.Kind, time.Since(start).Seconds())
		if creditAmount > 0 {
			s.metrics.RecordBalanceCredited(txn.Kind, float64(creditAmount))
		}
	}
	s.logger.InfoContext(ctx, "pending transaction settled",
		"transaction_id", txn.ID.String(),
		"kind", txn.Kind,
		"signature", signature,
		"settled_amount", actualAmount,
		"balance_credited", creditAmount,
	)
	return settled, false, nil
}

func statusErr(status string) error {
	switch status {
	case db.StatusConfirmed:
		return ErrAlreadySettled
	case db.StatusFailed:
		return ErrAlreadyFailed
	case db.StatusExpired:
		return ErrExpired
	default:
		return fmt.Errorf("unexpected pending transaction status %q", status)
	}
}
