package vault

import (
	"context"
	"log/slog"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/moxen-gg/vault/service/db"
	"github.com/moxen-gg/vault/service/metrics"
	natspkg "github.com/moxen-gg/vault/service/nats"
	"github.com/moxen-gg/vault/service/solana"
)

// GachaCostTokens is the fixed price of one roll: 1000 game tokens in
// base units (9 decimals).
const GachaCostTokens = int64(1000) * 1_000_000_000

// SOLDecimals is the number of decimal places in one SOL.
const SOLDecimals = 9

// TokenDecimals is the number of decimal places in the game token mint.
const TokenDecimals = 9

// DefaultPendingTTL is the window a pending transaction stays settleable.
const DefaultPendingTTL = 5 * time.Minute

// Store is the persistence surface the orchestrators need.
// *db.Store satisfies it.
type Store interface {
	CreatePendingTransaction(ctx context.Context, params db.CreatePendingTransactionParams) (*db.PendingTransaction, error)
	GetPendingTransaction(ctx context.Context, id uuid.UUID) (*db.PendingTransaction, error)
	GetPendingTransactionBySignature(ctx context.Context, signature string) (*db.PendingTransaction, error)
	ListPendingTransactionsByUser(ctx context.Context, userID string, status string, limit int32) ([]*db.PendingTransaction, error)
	SettlePendingTransaction(ctx context.Context, params db.SettlePendingTransactionParams) (*db.PendingTransaction, error)
	FailPendingTransaction(ctx context.Context, id uuid.UUID, reason string) (*db.PendingTransaction, error)
	GetUser(ctx context.Context, id string) (*db.User, error)
	GetShopItem(ctx context.Context, id string) (*db.ShopItem, error)
	ListShopItems(ctx context.Context, itemType string) ([]*db.ShopItem, error)
	ListBalanceBundles(ctx context.Context) ([]*db.ShopItem, error)
}

// Builder constructs the unsigned (or vault-partially-signed) payloads.
// *solana.Builder satisfies it.
type Builder interface {
	BuildTokenBurn(ctx context.Context, userWallet solanago.PublicKey, amount uint64) (*solana.BuiltTransaction, error)
	BuildSOLTransferToVault(ctx context.Context, userWallet solanago.PublicKey, lamports uint64) (*solana.BuiltTransaction, error)
	BuildSOLReward(ctx context.Context, recipientWallet solanago.PublicKey, lamports uint64) (*solana.BuiltTransaction, error)
	BuildTokenReward(ctx context.Context, recipientWallet solanago.PublicKey, amount uint64) (*solana.BuiltTransaction, error)
}

// Verifier decides whether a finalized transaction matches an expected
// transfer. *solana.Verifier satisfies it.
type Verifier interface {
	VerifyTokenTransfer(ctx context.Context, signature solanago.Signature, expected solana.ExpectedTransfer) (uint64, error)
	VerifySOLTransfer(ctx context.Context, signature solanago.Signature, expected solana.ExpectedTransfer) (uint64, error)
}

// Service sequences intent -> build -> persist -> verify -> settle for
// every purchase shape, enforcing idempotency and ownership throughout.
type Service struct {
	store      Store
	builder    Builder
	verifier   Verifier
	publisher  natspkg.Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	pendingTTL time.Duration
	now        func() time.Time
}

// NewService creates a Service. A nil publisher disables settlement
// events; a zero pendingTTL falls back to DefaultPendingTTL.
func NewService(
	store Store,
	builder Builder,
	verifier Verifier,
	publisher natspkg.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
	pendingTTL time.Duration,
) *Service {
	if pendingTTL <= 0 {
		pendingTTL = DefaultPendingTTL
	}
	return &Service{
		store:      store,
		builder:    builder,
		verifier:   verifier,
		publisher:  publisher,
		metrics:    m,
		logger:     logger,
		pendingTTL: pendingTTL,
		now:        time.Now,
	}
}

// userWallet resolves the caller's persisted wallet binding. User ids and
// wallet addresses are distinct namespaces; nothing here assumes one can
// stand in for the other.
func (s *Service) userWallet(ctx context.Context, userID string) (*db.User, solanago.PublicKey, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, solanago.PublicKey{}, err
	}
	wallet, err := solanago.PublicKeyFromBase58(user.WalletAddress)
	if err != nil {
		return nil, solanago.PublicKey{}, validationErr("wallet_address", "not a valid base58 address")
	}
	return user, wallet, nil
}

// publishSettlement emits a settlement event. Publish failures are logged
// and dropped: the settlement is already durable and must not be undone
// or retried into a double-effect by the event layer.
func (s *Service) publishSettlement(ctx context.Context, txn *db.PendingTransaction, balanceCredited int64) {
	if s.publisher == nil {
		return
	}
	event := natspkg.FromSettledTransaction(txn, balanceCredited)
	if err := s.publisher.PublishSettlement(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish settlement event",
			"transaction_id", txn.ID.String(),
			"error", err,
		)
	}
}
