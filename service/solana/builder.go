package solana

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// Builder constructs unsigned (or vault-partially-signed) transactions for
// the four payment shapes the service supports:
//
//   - user burns tokens (user ATA -> dead-address ATA)
//   - user pays SOL to the vault
//   - vault pays SOL to a user (partially signed by the vault)
//   - vault pays tokens to a user (partially signed by the vault)
//
// The builder is a pure function of chain state and request parameters:
// it never touches persistence and never verifies anything. Amounts are
// integers in the asset's smallest unit.
type Builder struct {
	client      *Client
	mint        solana.PublicKey
	deadAddress solana.PublicKey
	vaultKey    solana.PrivateKey
	logger      *slog.Logger
}

// NewBuilder creates a Builder. The vault keypair signs its own transfer on
// vault-pays shapes before the payload is handed to the recipient.
func NewBuilder(client *Client, mint, deadAddress solana.PublicKey, vaultKey solana.PrivateKey, logger *slog.Logger) *Builder {
	return &Builder{
		client:      client,
		mint:        mint,
		deadAddress: deadAddress,
		vaultKey:    vaultKey,
		logger:      logger,
	}
}

// VaultPublicKey returns the vault authority address.
func (b *Builder) VaultPublicKey() solana.PublicKey {
	return b.vaultKey.PublicKey()
}

// TokenMint returns the game token mint address.
func (b *Builder) TokenMint() solana.PublicKey {
	return b.mint
}

// AssociatedTokenAddress derives the owner's token account for the game
// token. Token-2022 accounts hash the token program into the derivation,
// so the classic helper (which assumes the legacy token program) does not apply.
func (b *Builder) AssociatedTokenAddress(owner solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{
			owner.Bytes(),
			Token2022ProgramID.Bytes(),
			b.mint.Bytes(),
		},
		solana.SPLAssociatedTokenAccountProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated token address for %s: %w", owner.String(), err)
	}
	return addr, nil
}

// BuildTokenBurn builds an unsigned transaction transferring amount game
// tokens from the user's token account to the dead address's token account.
// The user is the fee payer and sole signer.
func (b *Builder) BuildTokenBurn(ctx context.Context, userWallet solana.PublicKey, amount uint64) (*BuiltTransaction, error) {
	userTokenAccount, err := b.AssociatedTokenAddress(userWallet)
	if err != nil {
		return nil, err
	}

	deadTokenAccount, err := b.AssociatedTokenAddress(b.deadAddress)
	if err != nil {
		return nil, err
	}

	blockhash, err := b.client.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			tokenTransferInstruction(userTokenAccount, deadTokenAccount, userWallet, amount),
		},
		blockhash.Hash,
		solana.TransactionPayer(userWallet),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build token burn transaction: %w", err)
	}

	blob, err := serialize(tx)
	if err != nil {
		return nil, err
	}

	b.logger.DebugContext(ctx, "built token burn transaction",
		"user_wallet", userWallet.String(),
		"user_token_account", userTokenAccount.String(),
		"dead_token_account", deadTokenAccount.String(),
		"amount", amount,
	)

	return &BuiltTransaction{
		Blob:                 blob,
		Source:               userTokenAccount,
		Destination:          deadTokenAccount,
		Authority:            userWallet,
		Amount:               amount,
		LastValidBlockHeight: blockhash.LastValidBlockHeight,
	}, nil
}

// BuildSOLTransferToVault builds an unsigned transaction transferring
// lamports from the user's wallet to the vault. The user is the fee payer
// and sole signer.
func (b *Builder) BuildSOLTransferToVault(ctx context.Context, userWallet solana.PublicKey, lamports uint64) (*BuiltTransaction, error) {
	blockhash, err := b.client.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	vault := b.vaultKey.PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, userWallet, vault).Build(),
		},
		blockhash.Hash,
		solana.TransactionPayer(userWallet),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build sol transfer transaction: %w", err)
	}

	blob, err := serialize(tx)
	if err != nil {
		return nil, err
	}

	b.logger.DebugContext(ctx, "built sol transfer transaction",
		"user_wallet", userWallet.String(),
		"vault", vault.String(),
		"lamports", lamports,
	)

	return &BuiltTransaction{
		Blob:                 blob,
		Source:               userWallet,
		Destination:          vault,
		Authority:            userWallet,
		Amount:               lamports,
		LastValidBlockHeight: blockhash.LastValidBlockHeight,
	}, nil
}

// BuildSOLReward builds a transaction transferring lamports from the vault
// to the recipient. The recipient pays fees; the vault partially signs its
// own transfer so only the recipient's signature is still required.
func (b *Builder) BuildSOLReward(ctx context.Context, recipientWallet solana.PublicKey, lamports uint64) (*BuiltTransaction, error) {
	blockhash, err := b.client.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	vault := b.vaultKey.PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, vault, recipientWallet).Build(),
		},
		blockhash.Hash,
		solana.TransactionPayer(recipientWallet),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build sol reward transaction: %w", err)
	}

	if err := b.partialSign(tx); err != nil {
		return nil, err
	}

	blob, err := serialize(tx)
	if err != nil {
		return nil, err
	}

	b.logger.DebugContext(ctx, "built sol reward transaction",
		"recipient", recipientWallet.String(),
		"vault", vault.String(),
		"lamports", lamports,
	)

	return &BuiltTransaction{
		Blob:                 blob,
		Source:               vault,
		Destination:          recipientWallet,
		Authority:            vault,
		Amount:               lamports,
		LastValidBlockHeight: blockhash.LastValidBlockHeight,
	}, nil
}

// BuildTokenReward builds a transaction transferring amount game tokens
// from the vault's token account to the recipient's token account. The
// recipient pays fees; the vault partially signs its own transfer.
func (b *Builder) BuildTokenReward(ctx context.Context, recipientWallet solana.PublicKey, amount uint64) (*BuiltTransaction, error) {
	vault := b.vaultKey.PublicKey()

	vaultTokenAccount, err := b.AssociatedTokenAddress(vault)
	if err != nil {
		return nil, err
	}

	recipientTokenAccount, err := b.AssociatedTokenAddress(recipientWallet)
	if err != nil {
		return nil, err
	}

	blockhash, err := b.client.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			tokenTransferInstruction(vaultTokenAccount, recipientTokenAccount, vault, amount),
		},
		blockhash.Hash,
		solana.TransactionPayer(recipientWallet),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build token reward transaction: %w", err)
	}

	if err := b.partialSign(tx); err != nil {
		return nil, err
	}

	blob, err := serialize(tx)
	if err != nil {
		return nil, err
	}

	b.logger.DebugContext(ctx, "built token reward transaction",
		"recipient", recipientWallet.String(),
		"vault_token_account", vaultTokenAccount.String(),
		"recipient_token_account", recipientTokenAccount.String(),
		"amount", amount,
	)

	return &BuiltTransaction{
		Blob:                 blob,
		Source:               vaultTokenAccount,
		Destination:          recipientTokenAccount,
		Authority:            vault,
		Amount:               amount,
		LastValidBlockHeight: blockhash.LastValidBlockHeight,
	}, nil
}

// partialSign signs the transaction with the vault key only, leaving the
// remaining signature slots empty for the recipient.
func (b *Builder) partialSign(tx *solana.Transaction) error {
	vault := b.vaultKey.PublicKey()
	_, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(vault) {
			return &b.vaultKey
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to partially sign with vault key: %w", err)
	}
	return nil
}

// tokenTransferInstruction builds a Token-2022 Transfer instruction.
// Data layout: [0] = instruction type (u8, 3 = Transfer), [1..9] = amount (u64 LE).
// Account layout: [source, destination, authority].
func tokenTransferInstruction(source, destination, authority solana.PublicKey, amount uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = TokenProgramTransferInstruction
	binary.LittleEndian.PutUint64(data[1:9], amount)

	return solana.NewInstruction(
		Token2022ProgramID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(source, true, false),
			solana.NewAccountMeta(destination, true, false),
			solana.NewAccountMeta(authority, false, true),
		},
		data,
	)
}

// serialize encodes the transaction to its base64 wire form. Signature
// slots that have not been filled yet are serialized as zeroes, which is
// what wallets expect for an unsigned or partially-signed payload.
func serialize(tx *solana.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
