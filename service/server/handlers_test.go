package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moxen-gg/vault/service/db"
	"github.com/moxen-gg/vault/service/solana"
	"github.com/moxen-gg/vault/service/vault"
)

// fakeVaultService implements VaultService with overridable behavior per test.
type fakeVaultService struct {
	initiateGacha   func(ctx context.Context, userID string) (*vault.GachaPurchase, error)
	confirmGacha    func(ctx context.Context, userID string, id uuid.UUID, sig string) (*vault.GachaResult, error)
	catalog         func(ctx context.Context, itemType string) ([]*db.ShopItem, error)
	balanceBundles  func(ctx context.Context) ([]*db.ShopItem, error)
	initiateBalance func(ctx context.Context, userID, itemID string) (*vault.BalancePurchase, error)
	confirmBalance  func(ctx context.Context, userID string, id uuid.UUID, sig string) (*vault.BalanceResult, error)
	initiateReward  func(ctx context.Context, userID, asset string, amount int64) (*vault.RewardClaim, error)
	confirmReward   func(ctx context.Context, userID string, id uuid.UUID, sig string) (*vault.RewardResult, error)
	listPending     func(ctx context.Context, userID, status string, limit int32) ([]*db.PendingTransaction, error)
}

func (f *fakeVaultService) InitiateGachaRoll(ctx context.Context, userID string) (*vault.GachaPurchase, error) {
	return f.initiateGacha(ctx, userID)
}

func (f *fakeVaultService) ConfirmGachaRoll(ctx context.Context, userID string, id uuid.UUID, sig string) (*vault.GachaResult, error) {
	return f.confirmGacha(ctx, userID, id, sig)
}

func (f *fakeVaultService) Catalog(ctx context.Context, itemType string) ([]*db.ShopItem, error) {
	return f.catalog(ctx, itemType)
}

func (f *fakeVaultService) BalanceBundles(ctx context.Context) ([]*db.ShopItem, error) {
	return f.balanceBundles(ctx)
}

func (f *fakeVaultService) InitiateBalancePurchase(ctx context.Context, userID, itemID string) (*vault.BalancePurchase, error) {
	return f.initiateBalance(ctx, userID, itemID)
}

func (f *fakeVaultService) ConfirmBalancePurchase(ctx context.Context, userID string, id uuid.UUID, sig string) (*vault.BalanceResult, error) {
	return f.confirmBalance(ctx, userID, id, sig)
}

func (f *fakeVaultService) InitiateRewardClaim(ctx context.Context, userID, asset string, amount int64) (*vault.RewardClaim, error) {
	return f.initiateReward(ctx, userID, asset, amount)
}

func (f *fakeVaultService) ConfirmRewardClaim(ctx context.Context, userID string, id uuid.UUID, sig string) (*vault.RewardResult, error) {
	return f.confirmReward(ctx, userID, id, sig)
}

func (f *fakeVaultService) PendingTransactionsForUser(ctx context.Context, userID, status string, limit int32) ([]*db.PendingTransaction, error) {
	return f.listPending(ctx, userID, status, limit)
}

func testServer(svc VaultService) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(":0", svc, Options{
		VaultAddress: "Vau1tAddr",
		DeadAddress:  "DeadAddr",
		TokenMint:    "MintAddr",
	}, logger)
}

func doRequest(t *testing.T, handler http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestInitiateGachaHandler(t *testing.T) {
	txnID := uuid.New()
	svc := &fakeVaultService{
		initiateGacha: func(ctx context.Context, userID string) (*vault.GachaPurchase, error) {
			assert.Equal(t, "user-1", userID)
			return &vault.GachaPurchase{
				TransactionID:       txnID,
				UnsignedTransaction: "base64blob",
				TokenAmount:         vault.GachaCostTokens,
				ExpiresAt:           time.Now().Add(5 * time.Minute),
			}, nil
		},
	}
	handler := testServer(svc).Handler()

	rec := doRequest(t, handler, "POST", "/api/v1/gacha/purchase", "user-1", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		TransactionID       string `json:"transaction_id"`
		UnsignedTransaction string `json:"unsigned_transaction"`
		PaymentRequest      struct {
			PaymentURL string `json:"payment_url"`
			QRCodeData string `json:"qr_code_data"`
		} `json:"payment_request"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, txnID.String(), resp.TransactionID)
	assert.Equal(t, "base64blob", resp.UnsignedTransaction)
	assert.Contains(t, resp.PaymentRequest.PaymentURL, "solana:DeadAddr")
	assert.Contains(t, resp.PaymentRequest.PaymentURL, "spl-token=MintAddr")
	assert.NotEmpty(t, resp.PaymentRequest.QRCodeData)
}

func TestInitiateGachaHandler_MissingUser(t *testing.T) {
	handler := testServer(&fakeVaultService{}).Handler()

	rec := doRequest(t, handler, "POST", "/api/v1/gacha/purchase", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestConfirmGachaHandler(t *testing.T) {
	txnID := uuid.New()
	svc := &fakeVaultService{
		confirmGacha: func(ctx context.Context, userID string, id uuid.UUID, sig string) (*vault.GachaResult, error) {
			assert.Equal(t, txnID, id)
			assert.Equal(t, "somesig", sig)
			return &vault.GachaResult{
				Success: true,
				Item:    vault.RolledItem{ItemID: 42, Rarity: vault.RarityEpic},
			}, nil
		},
	}
	handler := testServer(svc).Handler()

	body := `{"transaction_id":"` + txnID.String() + `","signature":"somesig"}`
	rec := doRequest(t, handler, "POST", "/api/v1/gacha/confirm", "user-1", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp vault.GachaResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 42, resp.Item.ItemID)
	assert.Equal(t, vault.RarityEpic, resp.Item.Rarity)
}

func TestConfirmGachaHandler_BadRequests(t *testing.T) {
	handler := testServer(&fakeVaultService{}).Handler()

	tests := []struct {
		name string
		body string
	}{
		{"malformed JSON", `{"transaction_id":`},
		{"bad transaction id", `{"transaction_id":"nope","signature":"sig"}`},
		{"missing signature", `{"transaction_id":"` + uuid.NewString() + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, handler, "POST", "/api/v1/gacha/confirm", "user-1", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestConfirmHandler_ErrorMapping(t *testing.T) {
	txnID := uuid.New()
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"not found", vault.ErrNotFound, http.StatusNotFound},
		{"forbidden", vault.ErrForbidden, http.StatusForbidden},
		{"already settled", vault.ErrAlreadySettled, http.StatusConflict},
		{"already failed", vault.ErrAlreadyFailed, http.StatusConflict},
		{"expired", vault.ErrExpired, http.StatusConflict},
		{"signature reused", vault.ErrSignatureReused, http.StatusConflict},
		{"validation", &vault.ValidationError{Field: "signature", Reason: "bad"}, http.StatusBadRequest},
		{
			"verification rejected",
			&solana.VerificationError{Reason: solana.ReasonInsufficientAmount, Field: "amount"},
			http.StatusUnprocessableEntity,
		},
		{"chain unavailable", solana.ErrChainUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeVaultService{
				confirmGacha: func(ctx context.Context, userID string, id uuid.UUID, sig string) (*vault.GachaResult, error) {
					return nil, tt.err
				},
			}
			handler := testServer(svc).Handler()

			body := `{"transaction_id":"` + txnID.String() + `","signature":"sig"}`
			rec := doRequest(t, handler, "POST", "/api/v1/gacha/confirm", "user-1", body)
			assert.Equal(t, tt.expectedStatus, rec.Code)
		})
	}
}

func TestListShopItemsHandler(t *testing.T) {
	svc := &fakeVaultService{
		catalog: func(ctx context.Context, itemType string) ([]*db.ShopItem, error) {
			assert.Empty(t, itemType)
			return []*db.ShopItem{
				{ID: "starter", Name: "Starter Pack", ItemType: db.ItemTypeBalance, PriceSOL: "0.5", BalanceAmount: 500, Active: true},
			}, nil
		},
	}
	handler := testServer(svc).Handler()

	rec := doRequest(t, handler, "GET", "/api/v1/shop/items", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Items []shopItemResponse `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "starter", resp.Items[0].ID)
	assert.Equal(t, db.ItemTypeBalance, resp.Items[0].ItemType)
	assert.Equal(t, "0.5", resp.Items[0].PriceSOL)
}

func TestListShopItemsHandler_TypeFilter(t *testing.T) {
	svc := &fakeVaultService{
		catalog: func(ctx context.Context, itemType string) ([]*db.ShopItem, error) {
			assert.Equal(t, db.ItemTypeCosmetic, itemType)
			return []*db.ShopItem{
				{ID: "gold-skin", Name: "Gold Skin", ItemType: db.ItemTypeCosmetic, PriceSOL: "2", BalanceAmount: 1, Active: true},
			}, nil
		},
	}
	handler := testServer(svc).Handler()

	rec := doRequest(t, handler, "GET", "/api/v1/shop/items?type=cosmetic", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Items []shopItemResponse `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "gold-skin", resp.Items[0].ID)
}

func TestListBalanceBundlesHandler(t *testing.T) {
	svc := &fakeVaultService{
		balanceBundles: func(ctx context.Context) ([]*db.ShopItem, error) {
			return []*db.ShopItem{
				{ID: "starter", Name: "Starter Pack", ItemType: db.ItemTypeBalance, PriceSOL: "0.5", BalanceAmount: 500, Active: true},
			}, nil
		},
	}
	handler := testServer(svc).Handler()

	rec := doRequest(t, handler, "GET", "/api/v1/shop/bundles", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Items []shopItemResponse `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "starter", resp.Items[0].ID)
}

func TestInitiateBalancePurchaseHandler(t *testing.T) {
	txnID := uuid.New()
	svc := &fakeVaultService{
		initiateBalance: func(ctx context.Context, userID, itemID string) (*vault.BalancePurchase, error) {
			assert.Equal(t, "starter", itemID)
			return &vault.BalancePurchase{
				TransactionID:       txnID,
				UnsignedTransaction: "base64blob",
				SOLPrice:            "0.5",
				Lamports:            500_000_000,
				BalanceAmount:       500,
				ExpiresAt:           time.Now().Add(5 * time.Minute),
			}, nil
		},
	}
	handler := testServer(svc).Handler()

	rec := doRequest(t, handler, "POST", "/api/v1/shop/balance/purchase", "user-1", `{"item_id":"starter"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Lamports       int64 `json:"lamports"`
		PaymentRequest struct {
			PaymentURL string `json:"payment_url"`
		} `json:"payment_request"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(500_000_000), resp.Lamports)
	assert.Contains(t, resp.PaymentRequest.PaymentURL, "solana:Vau1tAddr")
	assert.Contains(t, resp.PaymentRequest.PaymentURL, "amount=0.5")
}

func TestInitiateBalancePurchaseHandler_MissingItem(t *testing.T) {
	handler := testServer(&fakeVaultService{}).Handler()

	rec := doRequest(t, handler, "POST", "/api/v1/shop/balance/purchase", "user-1", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInitiateRewardClaimHandler(t *testing.T) {
	txnID := uuid.New()
	svc := &fakeVaultService{
		initiateReward: func(ctx context.Context, userID, asset string, amount int64) (*vault.RewardClaim, error) {
			assert.Equal(t, db.AssetSOL, asset)
			assert.Equal(t, int64(1_000_000_000), amount)
			return &vault.RewardClaim{
				TransactionID:       txnID,
				UnsignedTransaction: "base64blob",
				Asset:               asset,
				Amount:              amount,
				ExpiresAt:           time.Now().Add(5 * time.Minute),
			}, nil
		},
	}
	handler := testServer(svc).Handler()

	rec := doRequest(t, handler, "POST", "/api/v1/rewards/claim", "user-1", `{"asset":"sol","amount":1000000000}`)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestListTransactionsHandler(t *testing.T) {
	reason := "insufficient_amount"
	svc := &fakeVaultService{
		listPending: func(ctx context.Context, userID, status string, limit int32) ([]*db.PendingTransaction, error) {
			assert.Equal(t, "user-1", userID)
			assert.Equal(t, db.StatusFailed, status)
			assert.Equal(t, int32(10), limit)
			return []*db.PendingTransaction{
				{
					ID:            uuid.New(),
					UserID:        userID,
					Kind:          db.KindGachaRoll,
					Status:        db.StatusFailed,
					Asset:         db.AssetToken,
					Amount:        vault.GachaCostTokens,
					FailureReason: &reason,
				},
			}, nil
		},
	}
	handler := testServer(svc).Handler()

	rec := doRequest(t, handler, "GET", "/api/v1/transactions?status=FAILED&limit=10", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Transactions []transactionResponse `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Transactions, 1)
	assert.Equal(t, db.StatusFailed, resp.Transactions[0].Status)
	require.NotNil(t, resp.Transactions[0].FailureReason)
	assert.Equal(t, reason, *resp.Transactions[0].FailureReason)
}

func TestListTransactionsHandler_BadLimit(t *testing.T) {
	handler := testServer(&fakeVaultService{}).Handler()

	rec := doRequest(t, handler, "GET", "/api/v1/transactions?limit=banana", "user-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	handler := testServer(&fakeVaultService{}).Handler()

	rec := doRequest(t, handler, "GET", "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestCORSPreflights(t *testing.T) {
	handler := testServer(&fakeVaultService{}).Handler()

	rec := doRequest(t, handler, "OPTIONS", "/api/v1/gacha/purchase", "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
