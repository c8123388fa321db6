package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/moxen-gg/vault/service/db"
	"github.com/moxen-gg/vault/service/solana"
	"github.com/moxen-gg/vault/service/vault"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for confirm payloads

	// userIDHeader carries the caller's identity, set by the upstream
	// auth proxy. The service trusts it and never sees credentials.
	userIDHeader = "X-User-ID"
)

// VaultService is the purchase surface the handlers expose over HTTP.
// *vault.Service satisfies it.
type VaultService interface {
	InitiateGachaRoll(ctx context.Context, userID string) (*vault.GachaPurchase, error)
	ConfirmGachaRoll(ctx context.Context, userID string, transactionID uuid.UUID, signature string) (*vault.GachaResult, error)
	Catalog(ctx context.Context, itemType string) ([]*db.ShopItem, error)
	BalanceBundles(ctx context.Context) ([]*db.ShopItem, error)
	InitiateBalancePurchase(ctx context.Context, userID, itemID string) (*vault.BalancePurchase, error)
	ConfirmBalancePurchase(ctx context.Context, userID string, transactionID uuid.UUID, signature string) (*vault.BalanceResult, error)
	InitiateRewardClaim(ctx context.Context, userID, asset string, amount int64) (*vault.RewardClaim, error)
	ConfirmRewardClaim(ctx context.Context, userID string, transactionID uuid.UUID, signature string) (*vault.RewardResult, error)
	PendingTransactionsForUser(ctx context.Context, userID, status string, limit int32) ([]*db.PendingTransaction, error)
}

// confirmRequest is the shared confirm payload for every purchase shape.
type confirmRequest struct {
	TransactionID string `json:"transaction_id"`
	Signature     string `json:"signature"`
}

func (r *confirmRequest) parse() (uuid.UUID, error) {
	id, err := uuid.Parse(r.TransactionID)
	if err != nil {
		return uuid.Nil, errors.New("transaction_id must be a UUID")
	}
	if r.Signature == "" {
		return uuid.Nil, errors.New("signature is required")
	}
	return id, nil
}

// handleInitiateGacha returns a handler that starts a gacha roll.
// POST /api/v1/gacha/purchase
func handleInitiateGacha(svc VaultService, pay paymentRequestConfig, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		purchase, err := svc.InitiateGachaRoll(r.Context(), userID)
		if err != nil {
			writeServiceError(w, logger, "failed to initiate gacha roll", err)
			return
		}

		logger.Debug("gacha roll initiated", "user_id", userID, "transaction_id", purchase.TransactionID)
		writeJSON(w, struct {
			*vault.GachaPurchase
			PaymentRequest PaymentRequest `json:"payment_request"`
		}{purchase, pay.tokenPaymentRequest(purchase.TokenAmount)}, http.StatusCreated)
	})
}

// handleConfirmGacha returns a handler that settles a gacha roll.
// POST /api/v1/gacha/confirm
func handleConfirmGacha(svc VaultService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		var req confirmRequest
		if !decodeBody(w, r, &req) {
			return
		}
		id, err := req.parse()
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		result, err := svc.ConfirmGachaRoll(r.Context(), userID, id, req.Signature)
		if err != nil {
			writeServiceError(w, logger, "failed to confirm gacha roll", err)
			return
		}

		writeJSON(w, result, http.StatusOK)
	})
}

// handleListShopItems returns a handler that lists the active catalog,
// optionally filtered by item type.
// GET /api/v1/shop/items?type=
func handleListShopItems(svc VaultService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.Catalog(r.Context(), r.URL.Query().Get("type"))
		if err != nil {
			writeServiceError(w, logger, "failed to list shop items", err)
			return
		}

		resp := make([]shopItemResponse, len(items))
		for i, item := range items {
			resp[i] = shopItemToResponse(item)
		}
		writeJSON(w, map[string]interface{}{"items": resp}, http.StatusOK)
	})
}

// handleListBalanceBundles returns a handler that lists only the
// balance-crediting items.
// GET /api/v1/shop/bundles
func handleListBalanceBundles(svc VaultService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.BalanceBundles(r.Context())
		if err != nil {
			writeServiceError(w, logger, "failed to list balance bundles", err)
			return
		}

		resp := make([]shopItemResponse, len(items))
		for i, item := range items {
			resp[i] = shopItemToResponse(item)
		}
		writeJSON(w, map[string]interface{}{"items": resp}, http.StatusOK)
	})
}

// handleInitiateBalancePurchase returns a handler that starts a balance
// bundle purchase.
// POST /api/v1/shop/balance/purchase
func handleInitiateBalancePurchase(svc VaultService, pay paymentRequestConfig, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		var req struct {
			ItemID string `json:"item_id"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.ItemID == "" {
			writeError(w, "item_id is required", http.StatusBadRequest)
			return
		}

		purchase, err := svc.InitiateBalancePurchase(r.Context(), userID, req.ItemID)
		if err != nil {
			writeServiceError(w, logger, "failed to initiate balance purchase", err)
			return
		}

		logger.Debug("balance purchase initiated",
			"user_id", userID,
			"item_id", req.ItemID,
			"transaction_id", purchase.TransactionID,
		)
		writeJSON(w, struct {
			*vault.BalancePurchase
			PaymentRequest PaymentRequest `json:"payment_request"`
		}{purchase, pay.solPaymentRequest(purchase.Lamports)}, http.StatusCreated)
	})
}

// handleConfirmBalancePurchase returns a handler that settles a balance
// bundle purchase.
// POST /api/v1/shop/balance/confirm
func handleConfirmBalancePurchase(svc VaultService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		var req confirmRequest
		if !decodeBody(w, r, &req) {
			return
		}
		id, err := req.parse()
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		result, err := svc.ConfirmBalancePurchase(r.Context(), userID, id, req.Signature)
		if err != nil {
			writeServiceError(w, logger, "failed to confirm balance purchase", err)
			return
		}

		writeJSON(w, result, http.StatusOK)
	})
}

// handleInitiateRewardClaim returns a handler that starts a reward claim.
// POST /api/v1/rewards/claim
func handleInitiateRewardClaim(svc VaultService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		var req struct {
			Asset  string `json:"asset"`
			Amount int64  `json:"amount"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		claim, err := svc.InitiateRewardClaim(r.Context(), userID, req.Asset, req.Amount)
		if err != nil {
			writeServiceError(w, logger, "failed to initiate reward claim", err)
			return
		}

		writeJSON(w, claim, http.StatusCreated)
	})
}

// handleConfirmRewardClaim returns a handler that settles a reward claim.
// POST /api/v1/rewards/confirm
func handleConfirmRewardClaim(svc VaultService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		var req confirmRequest
		if !decodeBody(w, r, &req) {
			return
		}
		id, err := req.parse()
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		result, err := svc.ConfirmRewardClaim(r.Context(), userID, id, req.Signature)
		if err != nil {
			writeServiceError(w, logger, "failed to confirm reward claim", err)
			return
		}

		writeJSON(w, result, http.StatusOK)
	})
}

// handleListTransactions returns a handler that lists the caller's
// pending transactions.
// GET /api/v1/transactions?status={status}&limit={limit}
func handleListTransactions(svc VaultService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		status := r.URL.Query().Get("status")
		var limit int32
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 32)
			if err != nil || parsed < 0 {
				writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
				return
			}
			limit = int32(parsed)
		}

		transactions, err := svc.PendingTransactionsForUser(r.Context(), userID, status, limit)
		if err != nil {
			writeServiceError(w, logger, "failed to list transactions", err)
			return
		}

		resp := make([]transactionResponse, len(transactions))
		for i, txn := range transactions {
			resp[i] = transactionToResponse(txn)
		}
		writeJSON(w, map[string]interface{}{"transactions": resp}, http.StatusOK)
	})
}

// shopItemResponse is the JSON shape for a catalog entry.
type shopItemResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	ItemType      string `json:"item_type"`
	PriceSOL      string `json:"price_sol"`
	BalanceAmount int64  `json:"balance_amount"`
}

func shopItemToResponse(item *db.ShopItem) shopItemResponse {
	return shopItemResponse{
		ID:            item.ID,
		Name:          item.Name,
		Description:   item.Description,
		ItemType:      item.ItemType,
		PriceSOL:      item.PriceSOL,
		BalanceAmount: item.BalanceAmount,
	}
}

// transactionResponse is the JSON shape for a pending transaction. The
// committed outcome is never exposed here: PENDING outcomes would leak
// the roll before payment.
type transactionResponse struct {
	ID            string     `json:"id"`
	Kind          string     `json:"kind"`
	Status        string     `json:"status"`
	Asset         string     `json:"asset"`
	Amount        int64      `json:"amount"`
	SettledAmount *int64     `json:"settled_amount,omitempty"`
	FailureReason *string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
}

func transactionToResponse(txn *db.PendingTransaction) transactionResponse {
	return transactionResponse{
		ID:            txn.ID.String(),
		Kind:          txn.Kind,
		Status:        txn.Status,
		Asset:         txn.Asset,
		Amount:        txn.Amount,
		SettledAmount: txn.SettledAmount,
		FailureReason: txn.FailureReason,
		CreatedAt:     txn.CreatedAt,
		ExpiresAt:     txn.ExpiresAt,
	}
}

// requireUser extracts the authenticated user id from the upstream-auth
// header, writing a 401 when it is absent.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		writeError(w, "missing user identity", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

// decodeBody decodes a JSON request body with a size cap, writing a 400
// on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, "request body too large", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeServiceError maps purchase-pipeline errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	var verr *vault.ValidationError
	if errors.As(err, &verr) {
		writeError(w, verr.Error(), http.StatusBadRequest)
		return
	}
	if rejection, ok := solana.AsVerificationError(err); ok {
		writeError(w, rejection.Error(), http.StatusUnprocessableEntity)
		return
	}

	switch {
	case errors.Is(err, vault.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, vault.ErrForbidden):
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, vault.ErrAlreadySettled),
		errors.Is(err, vault.ErrAlreadyFailed),
		errors.Is(err, vault.ErrExpired),
		errors.Is(err, vault.ErrSignatureReused):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, solana.ErrChainUnavailable):
		writeError(w, "chain verification temporarily unavailable", http.StatusServiceUnavailable)
	default:
		logger.Error(msg, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
