package solana

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/moxen-gg/vault/service/metrics"
)

// RejectReason classifies why a verification attempt rejected a transaction.
type RejectReason string

const (
	ReasonNotFound             RejectReason = "not_found"
	ReasonChainExecutionFailed RejectReason = "chain_execution_failed"
	ReasonInstructionNotFound  RejectReason = "instruction_not_found"
	ReasonCounterpartyMismatch RejectReason = "counterparty_mismatch"
	ReasonInsufficientAmount   RejectReason = "insufficient_amount"
)

// VerificationError is a terminal rejection of a verification attempt.
// Unlike ErrChainUnavailable it means the transaction was observed (or
// conclusively absent) and does not match the expectation; callers record
// the attempt as failed.
type VerificationError struct {
	Reason RejectReason
	// Field names the mismatching counterparty field for
	// ReasonCounterpartyMismatch ("source", "destination", "authority").
	Field  string
	Detail string
}

func (e *VerificationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("verification rejected (%s, field=%s): %s", e.Reason, e.Field, e.Detail)
	}
	return fmt.Sprintf("verification rejected (%s): %s", e.Reason, e.Detail)
}

// AsVerificationError unwraps err to a *VerificationError if it is one.
func AsVerificationError(err error) (*VerificationError, bool) {
	var verr *VerificationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

// Verifier decides whether a finalized on-chain transaction actually
// performed an expected transfer. It is pure with respect to this
// service's own state: it never mutates pending records.
type Verifier struct {
	client  *Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewVerifier creates a Verifier reading through the given chain client.
func NewVerifier(client *Client, m *metrics.Metrics, logger *slog.Logger) *Verifier {
	return &Verifier{
		client:  client,
		logger:  logger,
		metrics: m,
	}
}

// VerifyTokenTransfer verifies that the finalized transaction with the
// given signature contains a Token-2022 transfer matching expected.
// Returns the actual transferred amount, which may exceed
// expected.MinAmount when a transfer tax is paid on top.
func (v *Verifier) VerifyTokenTransfer(ctx context.Context, signature solana.Signature, expected ExpectedTransfer) (uint64, error) {
	tx, err := v.fetchFinalized(ctx, signature)
	if err != nil {
		return 0, err
	}

	transfer, err := v.findTokenTransfer(tx)
	if err != nil {
		return 0, err
	}

	return v.checkExpectation(ctx, signature, transfer, expected)
}

// VerifySOLTransfer verifies that the finalized transaction with the given
// signature contains a System Program transfer matching expected. For SOL
// the source wallet is also the signing authority.
func (v *Verifier) VerifySOLTransfer(ctx context.Context, signature solana.Signature, expected ExpectedTransfer) (uint64, error) {
	tx, err := v.fetchFinalized(ctx, signature)
	if err != nil {
		return 0, err
	}

	transfer, err := v.findSOLTransfer(tx)
	if err != nil {
		return 0, err
	}

	return v.checkExpectation(ctx, signature, transfer, expected)
}

// parsedTransfer is the decoded view of a single transfer instruction.
type parsedTransfer struct {
	source      solana.PublicKey
	destination solana.PublicKey
	authority   solana.PublicKey
	amount      uint64
}

// fetchFinalized loads and decodes the transaction, rejecting anything
// that executed with an error.
func (v *Verifier) fetchFinalized(ctx context.Context, signature solana.Signature) (*solana.Transaction, error) {
	result, err := v.client.GetFinalizedTransaction(ctx, signature)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return nil, v.reject(&VerificationError{
				Reason: ReasonNotFound,
				Detail: fmt.Sprintf("no finalized transaction for signature %s", signature.String()),
			})
		}
		// Infrastructure error: surface as-is so callers can retry
		// without mutating state.
		return nil, err
	}

	if result.Meta != nil && result.Meta.Err != nil {
		return nil, v.reject(&VerificationError{
			Reason: ReasonChainExecutionFailed,
			Detail: fmt.Sprintf("transaction executed with error: %v", result.Meta.Err),
		})
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction %s: %w", signature.String(), err)
	}

	return tx, nil
}

// findTokenTransfer scans the instruction list for the single Token-2022
// transfer-shaped instruction. The match is a closed set: Transfer (3) and
// TransferChecked (12). Anything else under the token program is not a
// candidate, and a transaction with no candidate at all is rejected.
func (v *Verifier) findTokenTransfer(tx *solana.Transaction) (*parsedTransfer, error) {
	accountKeys := tx.Message.AccountKeys
	for _, instruction := range tx.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			continue
		}
		programID := accountKeys[instruction.ProgramIDIndex]
		if !programID.Equals(Token2022ProgramID) {
			continue
		}
		if len(instruction.Data) == 0 {
			continue
		}

		switch instruction.Data[0] {
		case TokenProgramTransferInstruction:
			// Transfer: data [0]=3, [1..9]=amount; accounts [source, destination, authority]
			if len(instruction.Data) < 9 || len(instruction.Accounts) < 3 {
				continue
			}
			source, ok1 := accountAt(instruction, accountKeys, 0)
			destination, ok2 := accountAt(instruction, accountKeys, 1)
			authority, ok3 := accountAt(instruction, accountKeys, 2)
			if !ok1 || !ok2 || !ok3 {
				continue
			}
			return &parsedTransfer{
				source:      source,
				destination: destination,
				authority:   authority,
				amount:      binary.LittleEndian.Uint64(instruction.Data[1:9]),
			}, nil

		case TokenProgramTransferCheckedInstruction:
			// TransferChecked: data [0]=12, [1..9]=amount, [9]=decimals;
			// accounts [source, mint, destination, authority]
			if len(instruction.Data) < 10 || len(instruction.Accounts) < 4 {
				continue
			}
			source, ok1 := accountAt(instruction, accountKeys, 0)
			destination, ok2 := accountAt(instruction, accountKeys, 2)
			authority, ok3 := accountAt(instruction, accountKeys, 3)
			if !ok1 || !ok2 || !ok3 {
				continue
			}
			return &parsedTransfer{
				source:      source,
				destination: destination,
				authority:   authority,
				amount:      binary.LittleEndian.Uint64(instruction.Data[1:9]),
			}, nil
		}
	}

	return nil, v.reject(&VerificationError{
		Reason: ReasonInstructionNotFound,
		Detail: "no token transfer instruction found",
	})
}

// findSOLTransfer scans the instruction list for the single System Program
// Transfer instruction (u32 type 2).
func (v *Verifier) findSOLTransfer(tx *solana.Transaction) (*parsedTransfer, error) {
	accountKeys := tx.Message.AccountKeys
	for _, instruction := range tx.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			continue
		}
		programID := accountKeys[instruction.ProgramIDIndex]
		if !programID.Equals(SystemProgramID) {
			continue
		}

		// System Transfer: data [0..4]=type (u32, 2), [4..12]=lamports (u64);
		// accounts [from, to]
		if len(instruction.Data) < 12 || len(instruction.Accounts) < 2 {
			continue
		}
		if binary.LittleEndian.Uint32(instruction.Data[0:4]) != SystemProgramTransferInstruction {
			continue
		}

		source, ok1 := accountAt(instruction, accountKeys, 0)
		destination, ok2 := accountAt(instruction, accountKeys, 1)
		if !ok1 || !ok2 {
			continue
		}
		return &parsedTransfer{
			source:      source,
			destination: destination,
			// The funding account signs a system transfer.
			authority: source,
			amount:    binary.LittleEndian.Uint64(instruction.Data[4:12]),
		}, nil
	}

	return nil, v.reject(&VerificationError{
		Reason: ReasonInstructionNotFound,
		Detail: "no SOL transfer instruction found",
	})
}

// checkExpectation structurally compares the parsed transfer against the
// expectation and enforces the minimum amount.
func (v *Verifier) checkExpectation(ctx context.Context, signature solana.Signature, transfer *parsedTransfer, expected ExpectedTransfer) (uint64, error) {
	if !transfer.source.Equals(expected.Source) {
		return 0, v.reject(&VerificationError{
			Reason: ReasonCounterpartyMismatch,
			Field:  "source",
			Detail: fmt.Sprintf("got %s, want %s", transfer.source.String(), expected.Source.String()),
		})
	}
	if !transfer.destination.Equals(expected.Destination) {
		return 0, v.reject(&VerificationError{
			Reason: ReasonCounterpartyMismatch,
			Field:  "destination",
			Detail: fmt.Sprintf("got %s, want %s", transfer.destination.String(), expected.Destination.String()),
		})
	}
	if !transfer.authority.Equals(expected.Authority) {
		return 0, v.reject(&VerificationError{
			Reason: ReasonCounterpartyMismatch,
			Field:  "authority",
			Detail: fmt.Sprintf("got %s, want %s", transfer.authority.String(), expected.Authority.String()),
		})
	}

	// Amounts above the minimum are accepted: an externally-imposed
	// transfer tax may be paid on top, but the minimum is never shorted.
	if transfer.amount < expected.MinAmount {
		return 0, v.reject(&VerificationError{
			Reason: ReasonInsufficientAmount,
			Detail: fmt.Sprintf("transferred %d is less than required %d", transfer.amount, expected.MinAmount),
		})
	}

	v.logger.DebugContext(ctx, "transfer verified",
		"signature", signature.String(),
		"source", transfer.source.String(),
		"destination", transfer.destination.String(),
		"amount", transfer.amount,
		"min_amount", expected.MinAmount,
	)

	return transfer.amount, nil
}

// reject records the rejection metric and returns the error.
func (v *Verifier) reject(verr *VerificationError) error {
	if v.metrics != nil {
		v.metrics.RecordVerificationRejected(string(verr.Reason))
	}
	return verr
}

// accountAt resolves the instruction's i-th account index into the
// transaction's account key table.
func accountAt(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey, i int) (solana.PublicKey, bool) {
	if i >= len(instruction.Accounts) {
		return solana.PublicKey{}, false
	}
	keyIndex := instruction.Accounts[i]
	if int(keyIndex) >= len(accountKeys) {
		return solana.PublicKey{}, false
	}
	return accountKeys[keyIndex], true
}

// DecodeSignature parses a base58 transaction signature. Signatures are
// accepted in base58 only; there is no multi-encoding fallback, so what
// was verified is never ambiguous.
func DecodeSignature(s string) (solana.Signature, error) {
	sig, err := solana.SignatureFromBase58(s)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("invalid base58 signature: %w", err)
	}
	return sig, nil
}
