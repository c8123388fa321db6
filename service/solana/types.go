package solana

import (
	"github.com/gagliardetto/solana-go"
)

// Well-known Solana program IDs
var (
	// SystemProgramID is the native SOL transfer program.
	SystemProgramID = solana.SystemProgramID

	// Token2022ProgramID is the Token Extensions program (Token-2022).
	// The game token is minted under Token-2022, so all token transfers
	// in this service go through this program.
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
)

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// Token Program instruction types
const (
	TokenProgramTransferInstruction        = uint8(3)
	TokenProgramTransferCheckedInstruction = uint8(12)
)

// Blockhash is a freshness reference for transaction construction.
// A transaction stamped with it becomes unsubmittable once the chain
// passes LastValidBlockHeight.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// ExpectedTransfer describes the transfer a finalized transaction must
// contain for verification to succeed. Amounts are in the asset's
// smallest unit (lamports for SOL, base units for tokens).
type ExpectedTransfer struct {
	Source      solana.PublicKey
	Destination solana.PublicKey
	Authority   solana.PublicKey // signing owner; ignored for SOL where source is the signer
	MinAmount   uint64
}

// BuiltTransaction is the output of the transaction builder: an opaque
// serialized payload plus the counterparties the resulting on-chain
// transfer must match, so callers can persist them for later verification.
type BuiltTransaction struct {
	// Blob is the base64-encoded wire transaction. Unsigned for
	// user-pays shapes, partially signed by the vault for vault-pays shapes.
	Blob string

	Source      solana.PublicKey
	Destination solana.PublicKey
	Authority   solana.PublicKey
	Amount      uint64

	// LastValidBlockHeight bounds how long the blob is submittable.
	LastValidBlockHeight uint64
}
