package vault

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/moxen-gg/vault/service/db"
	natspkg "github.com/moxen-gg/vault/service/nats"
	"github.com/moxen-gg/vault/service/solana"
)

// mockStore is an in-memory Store with the same transition semantics as
// the database layer: conditional PENDING transitions, a unique settling
// signature, and atomic settle-plus-credit under one lock.
type mockStore struct {
	mu           sync.Mutex
	users        map[string]*db.User
	items        map[string]*db.ShopItem
	transactions map[uuid.UUID]*db.PendingTransaction
	bySignature  map[string]uuid.UUID

	createErr error
	settleErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		users:        make(map[string]*db.User),
		items:        make(map[string]*db.ShopItem),
		transactions: make(map[uuid.UUID]*db.PendingTransaction),
		bySignature:  make(map[string]uuid.UUID),
	}
}

func (m *mockStore) addUser(id, wallet string, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = &db.User{ID: id, WalletAddress: wallet, Balance: balance}
}

func (m *mockStore) addItem(item *db.ShopItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
}

func (m *mockStore) get(id uuid.UUID) *db.PendingTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn := *m.transactions[id]
	return &txn
}

func (m *mockStore) setStatus(id uuid.UUID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[id].Status = status
}

func (m *mockStore) CreatePendingTransaction(ctx context.Context, params db.CreatePendingTransactionParams) (*db.PendingTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	now := time.Now()
	txn := &db.PendingTransaction{
		ID:                      params.ID,
		UserID:                  params.UserID,
		Kind:                    params.Kind,
		Status:                  db.StatusPending,
		Asset:                   params.Asset,
		Amount:                  params.Amount,
		SourceAddress:           params.SourceAddress,
		DestinationAddress:      params.DestinationAddress,
		AuthorityAddress:        params.AuthorityAddress,
		UnsignedTransactionBlob: params.UnsignedTransactionBlob,
		CommittedOutcome:        params.CommittedOutcome,
		LastValidBlockHeight:    params.LastValidBlockHeight,
		CreatedAt:               now,
		UpdatedAt:               now,
		ExpiresAt:               params.ExpiresAt,
	}
	m.transactions[txn.ID] = txn
	copied := *txn
	return &copied, nil
}

func (m *mockStore) GetPendingTransaction(ctx context.Context, id uuid.UUID) (*db.PendingTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactions[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *txn
	return &copied, nil
}

func (m *mockStore) GetPendingTransactionBySignature(ctx context.Context, signature string) (*db.PendingTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.bySignature[signature]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *m.transactions[id]
	return &copied, nil
}

func (m *mockStore) ListPendingTransactionsByUser(ctx context.Context, userID string, status string, limit int32) ([]*db.PendingTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*db.PendingTransaction
	for _, txn := range m.transactions {
		if txn.UserID != userID {
			continue
		}
		if status != "" && txn.Status != status {
			continue
		}
		copied := *txn
		out = append(out, &copied)
		if int32(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (m *mockStore) SettlePendingTransaction(ctx context.Context, params db.SettlePendingTransactionParams) (*db.PendingTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settleErr != nil {
		return nil, m.settleErr
	}
	txn, ok := m.transactions[params.ID]
	if !ok {
		return nil, db.ErrNotFound
	}
	if txn.Status != db.StatusPending {
		return nil, &db.StatusConflictError{Status: txn.Status}
	}
	if existing, used := m.bySignature[params.SettlingSignature]; used && existing != params.ID {
		return nil, db.ErrSignatureAlreadyUsed
	}
	txn.Status = db.StatusConfirmed
	sig := params.SettlingSignature
	amt := params.SettledAmount
	txn.SettlingSignature = &sig
	txn.SettledAmount = &amt
	txn.UpdatedAt = time.Now()
	m.bySignature[sig] = txn.ID
	if params.CreditUserID != "" && params.CreditAmount > 0 {
		m.users[params.CreditUserID].Balance += params.CreditAmount
	}
	copied := *txn
	return &copied, nil
}

func (m *mockStore) FailPendingTransaction(ctx context.Context, id uuid.UUID, reason string) (*db.PendingTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactions[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	if txn.Status != db.StatusPending {
		return nil, &db.StatusConflictError{Status: txn.Status}
	}
	txn.Status = db.StatusFailed
	txn.FailureReason = &reason
	txn.UpdatedAt = time.Now()
	copied := *txn
	return &copied, nil
}

func (m *mockStore) GetUser(ctx context.Context, id string) (*db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (m *mockStore) GetShopItem(ctx context.Context, id string) (*db.ShopItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *item
	return &copied, nil
}

func (m *mockStore) ListShopItems(ctx context.Context, itemType string) ([]*db.ShopItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*db.ShopItem
	for _, item := range m.items {
		if item.Active && (itemType == "" || item.ItemType == itemType) {
			copied := *item
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *mockStore) ListBalanceBundles(ctx context.Context) ([]*db.ShopItem, error) {
	return m.ListShopItems(ctx, db.ItemTypeBalance)
}

// mockBuilder returns canned payloads keyed off the request shape.
type mockBuilder struct {
	mu     sync.Mutex
	vault  solanago.PublicKey
	err    error
	builds []string
}

func newMockBuilder() *mockBuilder {
	return &mockBuilder{vault: solanago.NewWallet().PublicKey()}
}

func (m *mockBuilder) built(shape string, source, destination, authority solanago.PublicKey, amount uint64) (*solana.BuiltTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.builds = append(m.builds, shape)
	return &solana.BuiltTransaction{
		Blob:                 "blob-" + shape,
		Source:               source,
		Destination:          destination,
		Authority:            authority,
		Amount:               amount,
		LastValidBlockHeight: 5000,
	}, nil
}

func (m *mockBuilder) BuildTokenBurn(ctx context.Context, userWallet solanago.PublicKey, amount uint64) (*solana.BuiltTransaction, error) {
	return m.built("token_burn", solanago.NewWallet().PublicKey(), solanago.NewWallet().PublicKey(), userWallet, amount)
}

func (m *mockBuilder) BuildSOLTransferToVault(ctx context.Context, userWallet solanago.PublicKey, lamports uint64) (*solana.BuiltTransaction, error) {
	return m.built("sol_to_vault", userWallet, m.vault, userWallet, lamports)
}

func (m *mockBuilder) BuildSOLReward(ctx context.Context, recipientWallet solanago.PublicKey, lamports uint64) (*solana.BuiltTransaction, error) {
	return m.built("sol_reward", m.vault, recipientWallet, m.vault, lamports)
}

func (m *mockBuilder) BuildTokenReward(ctx context.Context, recipientWallet solanago.PublicKey, amount uint64) (*solana.BuiltTransaction, error) {
	return m.built("token_reward", solanago.NewWallet().PublicKey(), solanago.NewWallet().PublicKey(), m.vault, amount)
}

// mockVerifier returns a configured amount or error and records how many
// times it was consulted.
type mockVerifier struct {
	mu     sync.Mutex
	amount uint64
	err    error
	calls  int
}

func (m *mockVerifier) verify() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	return m.amount, nil
}

func (m *mockVerifier) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockVerifier) VerifyTokenTransfer(ctx context.Context, signature solanago.Signature, expected solana.ExpectedTransfer) (uint64, error) {
	return m.verify()
}

func (m *mockVerifier) VerifySOLTransfer(ctx context.Context, signature solanago.Signature, expected solana.ExpectedTransfer) (uint64, error) {
	return m.verify()
}

// testHarness bundles a Service with its mocks.
type testHarness struct {
	service   *Service
	store     *mockStore
	builder   *mockBuilder
	verifier  *mockVerifier
	publisher *natspkg.MockPublisher
}

func newTestHarness() *testHarness {
	store := newMockStore()
	builder := newMockBuilder()
	verifier := &mockVerifier{}
	publisher := natspkg.NewMockPublisher()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := NewService(store, builder, verifier, publisher, nil, logger, 0)
	return &testHarness{
		service:   service,
		store:     store,
		builder:   builder,
		verifier:  verifier,
		publisher: publisher,
	}
}

// Well-formed base58 signatures for confirm calls.
var (
	validSignature  = solanago.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7").String()
	secondSignature = solanago.MustSignatureFromBase58("2TgM4N8qCMqLvfR8dxqTQgKygPNzT5KQkN5b5sT7eZPEkdxyLTXGnNQB3j7KG4DPFg5Qez5yNJBQRQ5r7DDnFfjG").String()
)

const testUserID = "user-1"

func (h *testHarness) seedUser() string {
	h.store.addUser(testUserID, solanago.NewWallet().PublicKey().String(), 0)
	return testUserID
}
