package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pending transaction statuses. PENDING is the only non-terminal status.
const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
	StatusFailed    = "FAILED"
	StatusExpired   = "EXPIRED"
)

// Pending transaction kinds.
const (
	KindGachaRoll       = "gacha_roll"
	KindBalancePurchase = "balance_purchase"
	KindRewardClaim     = "reward_claim"
)

// Assets a pending transaction can move.
const (
	AssetToken = "token"
	AssetSOL   = "sol"
)

// Shop item types. Only balance items credit off-chain balance when
// purchased; the other types are catalog dimensions.
const (
	ItemTypeBalance  = "balance"
	ItemTypeCosmetic = "cosmetic"
	ItemTypeBoost    = "boost"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrSignatureAlreadyUsed is returned when a settling signature has
// already settled another pending transaction.
var ErrSignatureAlreadyUsed = errors.New("settling signature already used")

// StatusConflictError is returned when a conditional status transition
// finds the row in a status other than PENDING. The transition did not
// happen; Status is what the row actually holds.
type StatusConflictError struct {
	Status string
}

func (e *StatusConflictError) Error() string {
	return fmt.Sprintf("pending transaction is %s, not %s", e.Status, StatusPending)
}

// Store provides database operations for the service.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// User is a player account with a bound wallet and an off-chain balance.
type User struct {
	ID            string
	WalletAddress string
	Balance       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ShopItem is a purchasable catalog entry: pay PriceSOL (a decimal
// string, converted to lamports at purchase time), receive BalanceAmount
// of off-chain balance.
type ShopItem struct {
	ID            string
	Name          string
	Description   string
	ItemType      string
	PriceSOL      string
	BalanceAmount int64
	Active        bool
	CreatedAt     time.Time
}

// PendingTransaction is one initiated payment awaiting settlement.
// CommittedOutcome is opaque JSON frozen at initiation.
type PendingTransaction struct {
	ID                      uuid.UUID
	UserID                  string
	Kind                    string
	Status                  string
	Asset                   string
	Amount                  int64
	SourceAddress           string
	DestinationAddress      string
	AuthorityAddress        string
	UnsignedTransactionBlob string
	CommittedOutcome        json.RawMessage
	SettlingSignature       *string
	SettledAmount           *int64
	FailureReason           *string
	LastValidBlockHeight    int64
	CreatedAt               time.Time
	UpdatedAt               time.Time
	ExpiresAt               time.Time
}

// CreatePendingTransactionParams contains the parameters for creating a
// pending transaction.
type CreatePendingTransactionParams struct {
	ID                      uuid.UUID
	UserID                  string
	Kind                    string
	Asset                   string
	Amount                  int64
	SourceAddress           string
	DestinationAddress      string
	AuthorityAddress        string
	UnsignedTransactionBlob string
	CommittedOutcome        json.RawMessage
	LastValidBlockHeight    int64
	ExpiresAt               time.Time
}

// SettlePendingTransactionParams contains the parameters for settling a
// pending transaction.
type SettlePendingTransactionParams struct {
	ID                uuid.UUID
	SettlingSignature string
	SettledAmount     int64
	// CreditUserID and CreditAmount, when set, credit the user's balance
	// in the same database transaction as the status transition.
	CreditUserID string
	CreditAmount int64
}

const pendingTransactionColumns = `
	id, user_id, kind, status, asset, amount,
	source_address, destination_address, authority_address,
	unsigned_transaction_blob, committed_outcome,
	settling_signature, settled_amount, failure_reason,
	last_valid_block_height, created_at, updated_at, expires_at`

// CreatePendingTransaction inserts a new pending transaction in PENDING status.
func (s *Store) CreatePendingTransaction(ctx context.Context, params CreatePendingTransactionParams) (*PendingTransaction, error) {
	query := `
		INSERT INTO pending_transactions (
			id, user_id, kind, asset, amount,
			source_address, destination_address, authority_address,
			unsigned_transaction_blob, committed_outcome,
			last_valid_block_height, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING` + pendingTransactionColumns

	row := s.pool.QueryRow(ctx, query,
		params.ID,
		params.UserID,
		params.Kind,
		params.Asset,
		params.Amount,
		params.SourceAddress,
		params.DestinationAddress,
		params.AuthorityAddress,
		params.UnsignedTransactionBlob,
		params.CommittedOutcome,
		params.LastValidBlockHeight,
		params.ExpiresAt,
	)
	return scanPendingTransaction(row)
}

// GetPendingTransaction retrieves a pending transaction by id.
func (s *Store) GetPendingTransaction(ctx context.Context, id uuid.UUID) (*PendingTransaction, error) {
	query := `SELECT` + pendingTransactionColumns + ` FROM pending_transactions WHERE id = $1`
	return scanPendingTransaction(s.pool.QueryRow(ctx, query, id))
}

// GetPendingTransactionBySignature retrieves the pending transaction a
// settling signature was recorded against, if any.
func (s *Store) GetPendingTransactionBySignature(ctx context.Context, signature string) (*PendingTransaction, error) {
	query := `SELECT` + pendingTransactionColumns + ` FROM pending_transactions WHERE settling_signature = $1`
	return scanPendingTransaction(s.pool.QueryRow(ctx, query, signature))
}

// ListPendingTransactionsByUser retrieves a user's pending transactions,
// newest first. An empty status lists all statuses.
func (s *Store) ListPendingTransactionsByUser(ctx context.Context, userID string, status string, limit int32) ([]*PendingTransaction, error) {
	query := `
		SELECT` + pendingTransactionColumns + `
		FROM pending_transactions
		WHERE user_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, userID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []*PendingTransaction
	for rows.Next() {
		txn, err := scanPendingTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// SettlePendingTransaction transitions a pending transaction from PENDING
// to CONFIRMED, records the settling signature and amount, and optionally
// credits the user's balance. The status transition and the credit happen
// in one database transaction: either both apply or neither does.
//
// Returns ErrSignatureAlreadyUsed if the signature settled another record,
// and *StatusConflictError if the record is no longer PENDING.
func (s *Store) SettlePendingTransaction(ctx context.Context, params SettlePendingTransactionParams) (*PendingTransaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE pending_transactions
		SET status = $2, settling_signature = $3, settled_amount = $4, updated_at = now()
		WHERE id = $1 AND status = $5
		RETURNING` + pendingTransactionColumns

	row := tx.QueryRow(ctx, query, params.ID, StatusConfirmed, params.SettlingSignature, params.SettledAmount, StatusPending)
	settled, err := scanPendingTransaction(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, s.settleConflict(ctx, params.ID)
		}
		if isUniqueViolation(err) {
			return nil, ErrSignatureAlreadyUsed
		}
		return nil, err
	}

	if params.CreditAmount > 0 {
		tag, err := tx.Exec(ctx,
			`UPDATE users SET balance = balance + $2, updated_at = now() WHERE id = $1`,
			params.CreditUserID, params.CreditAmount,
		)
		if err != nil {
			return nil, err
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("credit user %s: %w", params.CreditUserID, ErrNotFound)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSignatureAlreadyUsed
		}
		return nil, err
	}
	return settled, nil
}

// settleConflict reports why a conditional settle matched no row.
func (s *Store) settleConflict(ctx context.Context, id uuid.UUID) error {
	current, err := s.GetPendingTransaction(ctx, id)
	if err != nil {
		return err
	}
	return &StatusConflictError{Status: current.Status}
}

// FailPendingTransaction transitions a pending transaction from PENDING to
// FAILED with a reason. Returns *StatusConflictError if the record is no
// longer PENDING.
func (s *Store) FailPendingTransaction(ctx context.Context, id uuid.UUID, reason string) (*PendingTransaction, error) {
	query := `
		UPDATE pending_transactions
		SET status = $2, failure_reason = $3, updated_at = now()
		WHERE id = $1 AND status = $4
		RETURNING` + pendingTransactionColumns

	row := s.pool.QueryRow(ctx, query, id, StatusFailed, reason, StatusPending)
	failed, err := scanPendingTransaction(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, s.settleConflict(ctx, id)
		}
		return nil, err
	}
	return failed, nil
}

// ExpirePendingTransactions transitions every PENDING transaction whose
// expiry has passed to EXPIRED. Returns the number of rows expired.
func (s *Store) ExpirePendingTransactions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pending_transactions
		 SET status = $1, updated_at = now()
		 WHERE status = $2 AND expires_at < $3`,
		StatusExpired, StatusPending, now,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CreateUser inserts a new user with a bound wallet address and zero balance.
func (s *Store) CreateUser(ctx context.Context, id, walletAddress string) (*User, error) {
	query := `
		INSERT INTO users (id, wallet_address)
		VALUES ($1, $2)
		RETURNING id, wallet_address, balance, created_at, updated_at`
	return scanUser(s.pool.QueryRow(ctx, query, id, walletAddress))
}

// GetUser retrieves a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	query := `SELECT id, wallet_address, balance, created_at, updated_at FROM users WHERE id = $1`
	return scanUser(s.pool.QueryRow(ctx, query, id))
}

// GetUserByWallet retrieves a user by bound wallet address.
func (s *Store) GetUserByWallet(ctx context.Context, walletAddress string) (*User, error) {
	query := `SELECT id, wallet_address, balance, created_at, updated_at FROM users WHERE wallet_address = $1`
	return scanUser(s.pool.QueryRow(ctx, query, walletAddress))
}

// CreditUserBalance adds amount to the user's balance and returns the
// updated user.
func (s *Store) CreditUserBalance(ctx context.Context, id string, amount int64) (*User, error) {
	query := `
		UPDATE users SET balance = balance + $2, updated_at = now()
		WHERE id = $1
		RETURNING id, wallet_address, balance, created_at, updated_at`
	return scanUser(s.pool.QueryRow(ctx, query, id, amount))
}

// GetShopItem retrieves a catalog item by id, active or not.
func (s *Store) GetShopItem(ctx context.Context, id string) (*ShopItem, error) {
	query := `
		SELECT id, name, description, item_type, price_sol, balance_amount, active, created_at
		FROM shop_items WHERE id = $1`
	return scanShopItem(s.pool.QueryRow(ctx, query, id))
}

// ListShopItems retrieves the active catalog. An empty itemType lists
// every active item; otherwise only items of that type are returned.
func (s *Store) ListShopItems(ctx context.Context, itemType string) ([]*ShopItem, error) {
	query := `
		SELECT id, name, description, item_type, price_sol, balance_amount, active, created_at
		FROM shop_items WHERE active AND ($1 = '' OR item_type = $1) ORDER BY id`

	rows, err := s.pool.Query(ctx, query, itemType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*ShopItem
	for rows.Next() {
		item, err := scanShopItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListBalanceBundles retrieves the active balance-crediting items.
func (s *Store) ListBalanceBundles(ctx context.Context) ([]*ShopItem, error) {
	return s.ListShopItems(ctx, ItemTypeBalance)
}

// UpsertShopItem inserts or replaces a catalog item. Used for seeding.
// An empty item type defaults to balance.
func (s *Store) UpsertShopItem(ctx context.Context, item ShopItem) (*ShopItem, error) {
	if item.ItemType == "" {
		item.ItemType = ItemTypeBalance
	}
	query := `
		INSERT INTO shop_items (id, name, description, item_type, price_sol, balance_amount, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET name = $2, description = $3, item_type = $4, price_sol = $5, balance_amount = $6, active = $7
		RETURNING id, name, description, item_type, price_sol, balance_amount, active, created_at`
	return scanShopItem(s.pool.QueryRow(ctx, query,
		item.ID, item.Name, item.Description, item.ItemType, item.PriceSOL, item.BalanceAmount, item.Active))
}

func scanPendingTransaction(row pgx.Row) (*PendingTransaction, error) {
	var txn PendingTransaction
	var settlingSignature, failureReason pgtype.Text
	var settledAmount pgtype.Int8

	err := row.Scan(
		&txn.ID,
		&txn.UserID,
		&txn.Kind,
		&txn.Status,
		&txn.Asset,
		&txn.Amount,
		&txn.SourceAddress,
		&txn.DestinationAddress,
		&txn.AuthorityAddress,
		&txn.UnsignedTransactionBlob,
		&txn.CommittedOutcome,
		&settlingSignature,
		&settledAmount,
		&failureReason,
		&txn.LastValidBlockHeight,
		&txn.CreatedAt,
		&txn.UpdatedAt,
		&txn.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	txn.SettlingSignature = stringPtrFromPgtext(settlingSignature)
	txn.FailureReason = stringPtrFromPgtext(failureReason)
	if settledAmount.Valid {
		txn.SettledAmount = &settledAmount.Int64
	}
	return &txn, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.WalletAddress, &u.Balance, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func scanShopItem(row pgx.Row) (*ShopItem, error) {
	var item ShopItem
	err := row.Scan(&item.ID, &item.Name, &item.Description, &item.ItemType, &item.PriceSOL, &item.BalanceAmount, &item.Active, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
