package vault

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moxen-gg/vault/service/db"
	"github.com/moxen-gg/vault/service/solana"
)

func seedShopItem(h *testHarness) *db.ShopItem {
	item := &db.ShopItem{
		ID:            "starter-pack",
		Name:          "Starter Pack",
		Description:   "A small balance bundle",
		ItemType:      db.ItemTypeBalance,
		PriceSOL:      "0.5",
		BalanceAmount: 500,
		Active:        true,
	}
	h.store.addItem(item)
	return item
}

func TestCatalog(t *testing.T) {
	h := newTestHarness()
	seedShopItem(h)
	h.store.addItem(&db.ShopItem{ID: "retired", Name: "Retired", ItemType: db.ItemTypeBalance, PriceSOL: "1", BalanceAmount: 1000, Active: false})

	items, err := h.service.Catalog(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "starter-pack", items[0].ID)
}

func TestCatalog_FiltersByType(t *testing.T) {
	h := newTestHarness()
	seedShopItem(h)
	h.store.addItem(&db.ShopItem{ID: "gold-skin", Name: "Gold Skin", ItemType: db.ItemTypeCosmetic, PriceSOL: "2", BalanceAmount: 1, Active: true})

	cosmetics, err := h.service.Catalog(context.Background(), db.ItemTypeCosmetic)
	require.NoError(t, err)
	require.Len(t, cosmetics, 1)
	assert.Equal(t, "gold-skin", cosmetics[0].ID)

	all, err := h.service.Catalog(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestBalanceBundles(t *testing.T) {
	h := newTestHarness()
	seedShopItem(h)
	h.store.addItem(&db.ShopItem{ID: "gold-skin", Name: "Gold Skin", ItemType: db.ItemTypeCosmetic, PriceSOL: "2", BalanceAmount: 1, Active: true})

	bundles, err := h.service.BalanceBundles(context.Background())
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	assert.Equal(t, "starter-pack", bundles[0].ID)
}

func TestInitiateBalancePurchase(t *testing.T) {
	h := newTestHarness()
	userID := h.seedUser()
	seedShopItem(h)

	purchase, err := h.service.InitiateBalancePurchase(context.Background(), userID, "starter-pack")
	require.NoError(t, err)

	assert.Equal(t, "0.5", purchase.SOLPrice)
	assert.Equal(t, int64(500_000_000), purchase.Lamports)
	assert.Equal(t, int64(500), purchase.BalanceAmount)
	assert.Equal(t, "blob-sol_to_vault", purchase.UnsignedTransaction)

	txn := h.store.get(purchase.TransactionID)
	assert.Equal(t, db.KindBalancePurchase, txn.Kind)
	assert.Equal(t, db.AssetSOL, txn.Asset)
	assert.Equal(t, int64(500_000_000), txn.Amount)
}

func TestInitiateBalancePurchase_InactiveItem(t *testing.T) {
	h := newTestHarness()
	userID := h.seedUser()
	h.store.addItem(&db.ShopItem{ID: "retired", Name: "Retired", ItemType: db.ItemTypeBalance, PriceSOL: "1", BalanceAmount: 1000, Active: false})

	_, err := h.service.InitiateBalancePurchase(context.Background(), userID, "retired")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestInitiateBalancePurchase_NonBalanceItem(t *testing.T) {
	h := newTestHarness()
	userID := h.seedUser()
	h.store.addItem(&db.ShopItem{ID: "gold-skin", Name: "Gold Skin", ItemType: db.ItemTypeCosmetic, PriceSOL: "2", BalanceAmount: 1, Active: true})

	_, err := h.service.InitiateBalancePurchase(context.Background(), userID, "gold-skin")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestInitiateBalancePurchase_UnknownItem(t *testing.T) {
	h := newTestHarness()
	userID := h.seedUser()

	_, err := h.service.InitiateBalancePurchase(context.Background(), userID, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfirmBalancePurchase_CreditsOnce(t *testing.T) {
	h := newTestHarness()
	userID := h.seedUser()
	seedShopItem(h)
	h.verifier.amount = 500_000_000

	purchase, err := h.service.InitiateBalancePurchase(context.Background(), userID, "starter-pack")
	require.NoError(t, err)

	result, err := h.service.ConfirmBalancePurchase(context.Background(), userID, purchase.TransactionID, validSignature)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(500), result.BalanceAdded)
	assert.Equal(t, int64(500), result.NewBalance)

	// The retry reveals the same outcome without a second credit.
	replay, err := h.service.ConfirmBalancePurchase(context.Background(), userID, purchase.TransactionID, validSignature)
	require.NoError(t, err)
	assert.Equal(t, int64(500), replay.NewBalance)

	user, err := h.store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), user.Balance)

	events := h.publisher.GetPublishedEventsForUser(userID)
	require.Len(t, events, 1)
	assert.Equal(t, int64(500), events[0].BalanceCredited)
}

func TestConfirmBalancePurchase_UnderpaymentFails(t *testing.T) {
	h := newTestHarness()
	userID := h.seedUser()
	seedShopItem(h)
	// 499_999_999 lamports is one short of the 0.5 SOL price; the
	// verifier rejects and the record fails without a credit.
	h.verifier.err = &solana.VerificationError{
		Reason: solana.ReasonInsufficientAmount,
		Field:  "amount",
	}

	purchase, err := h.service.InitiateBalancePurchase(context.Background(), userID, "starter-pack")
	require.NoError(t, err)

	_, err = h.service.ConfirmBalancePurchase(context.Background(), userID, purchase.TransactionID, validSignature)
	verr, ok := solana.AsVerificationError(err)
	require.True(t, ok)
	assert.Equal(t, solana.ReasonInsufficientAmount, verr.Reason)

	assert.Equal(t, db.StatusFailed, h.store.get(purchase.TransactionID).Status)
	user, err := h.store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), user.Balance)
	assert.Equal(t, 0, h.publisher.GetPublishedEventCount())
}

func TestConfirmBalancePurchase_OverpaymentSettles(t *testing.T) {
	h := newTestHarness()
	userID := h.seedUser()
	seedShopItem(h)
	h.verifier.amount = 600_000_000

	purchase, err := h.service.InitiateBalancePurchase(context.Background(), userID, "starter-pack")
	require.NoError(t, err)

	result, err := h.service.ConfirmBalancePurchase(context.Background(), userID, purchase.TransactionID, validSignature)
	require.NoError(t, err)

	// Credit stays at the listed amount; the settled amount records
	// what actually moved.
	assert.Equal(t, int64(500), result.BalanceAdded)
	txn := h.store.get(purchase.TransactionID)
	require.NotNil(t, txn.SettledAmount)
	assert.Equal(t, int64(600_000_000), *txn.SettledAmount)
}
