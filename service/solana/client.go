package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/moxen-gg/vault/service/metrics"
)

// ErrTransactionNotFound is returned when the chain has no record of a
// signature at finalized commitment.
var ErrTransactionNotFound = errors.New("transaction not found on-chain")

// ErrChainUnavailable is returned when the RPC endpoint cannot be reached
// or keeps failing transiently. Callers may retry; no state should be
// mutated on this error.
var ErrChainUnavailable = errors.New("chain unavailable")

// rpcTimeout bounds every single RPC attempt so no chain read hangs a
// request indefinitely.
const rpcTimeout = 10 * time.Second

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)

	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)
}

// Client provides read access to finalized chain state.
// It wraps the RPC client with bounded timeouts, transient retries, and metrics.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:      rpcClient,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
	}
}

// GetFinalizedTransaction fetches a transaction by signature at finalized
// commitment only. Acting on weaker commitment risks settling a payment
// that later reorganizes away.
//
// Returns ErrTransactionNotFound if the chain has no such signature, and
// ErrChainUnavailable (wrapped) if the RPC endpoint keeps failing.
func (c *Client) GetFinalizedTransaction(ctx context.Context, signature solana.Signature) (*rpc.GetTransactionResult, error) {
	maxVersion := uint64(0)
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentFinalized,
		MaxSupportedTransactionVersion: &maxVersion,
	}

	var result *rpc.GetTransactionResult
	err := c.withRetry(ctx, "GetTransaction", func(callCtx context.Context) error {
		var callErr error
		result, callErr = c.rpc.GetTransaction(callCtx, signature, opts)
		return callErr
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			c.logger.DebugContext(ctx, "transaction not found at finalized commitment",
				"signature", signature.String(),
			)
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("%w: GetTransaction %s: %v", ErrChainUnavailable, signature.String(), err)
	}

	// Some RPC implementations return a nil result instead of an error
	// for unknown signatures.
	if result == nil {
		return nil, ErrTransactionNotFound
	}

	return result, nil
}

// LatestBlockhash fetches a fresh blockhash at finalized commitment for
// stamping newly built transactions.
func (c *Client) LatestBlockhash(ctx context.Context) (*Blockhash, error) {
	var result *rpc.GetLatestBlockhashResult
	err := c.withRetry(ctx, "GetLatestBlockhash", func(callCtx context.Context) error {
		var callErr error
		result, callErr = c.rpc.GetLatestBlockhash(callCtx, rpc.CommitmentFinalized)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: GetLatestBlockhash: %v", ErrChainUnavailable, err)
	}

	if result == nil || result.Value == nil {
		return nil, fmt.Errorf("%w: GetLatestBlockhash returned empty result", ErrChainUnavailable)
	}

	return &Blockhash{
		Hash:                 result.Value.Blockhash,
		LastValidBlockHeight: result.Value.LastValidBlockHeight,
	}, nil
}

// withRetry runs a single RPC call with a bounded timeout, retrying
// transient failures with exponential backoff. Not-found results are
// returned immediately; they are an answer, not a failure.
func (c *Client) withRetry(ctx context.Context, method string, call func(context.Context) error) error {
	const maxAttempts = 3

	var err error
	for attempt := range maxAttempts {
		callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
		start := time.Now()
		err = call(callCtx)
		duration := time.Since(start).Seconds()
		cancel()

		status := "success"
		if err != nil {
			status = "error"
		}
		if c.metrics != nil {
			c.metrics.RecordRPCCall(method, status, c.endpoint, duration)
		}

		if err == nil {
			return nil
		}
		if errors.Is(err, rpc.ErrNotFound) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		// Handle rate limiting (429 Too Many Requests) with longer backoff
		backoff := time.Duration(1<<uint(attempt)) * time.Second // 1s, 2s, 4s
		reason := "timeout_or_error"
		if strings.Contains(err.Error(), "429") {
			backoff = time.Duration(2<<uint(attempt)) * time.Second // 2s, 4s, 8s
			reason = "rate_limit"
		}

		if attempt == maxAttempts-1 {
			break
		}

		c.logger.WarnContext(ctx, "rpc call failed, retrying",
			"method", method,
			"attempt", attempt+1,
			"error", err,
			"backoff_seconds", backoff.Seconds(),
		)
		if c.metrics != nil {
			c.metrics.RecordRPCRetry(method, reason)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.logger.ErrorContext(ctx, "rpc call failed after retries",
		"method", method,
		"error", err,
	)
	return err
}
