package temporal

import (
	"context"
	"log/slog"
	"time"

	"github.com/moxen-gg/vault/service/metrics"
)

// SweepPendingInput contains the input parameters for one sweep run.
type SweepPendingInput struct {
	// Now overrides the sweep cutoff. Zero means the activity uses the
	// wall clock. Tests set it to make runs deterministic.
	Now time.Time `json:"now,omitempty"`
}

// SweepPendingResult contains the result of one sweep run.
type SweepPendingResult struct {
	Expired   int64     `json:"expired"`
	SweepTime time.Time `json:"sweep_time"`
	Error     *string   `json:"error,omitempty"`
}

// ExpirePendingInput contains parameters for the ExpirePendingTransactions activity.
type ExpirePendingInput struct {
	Cutoff time.Time `json:"cutoff"`
}

// ExpirePendingResult contains the result of the ExpirePendingTransactions activity.
type ExpirePendingResult struct {
	Expired int64 `json:"expired"`
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	ExpirePendingTransactions(ctx context.Context, now time.Time) (int64, error)
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	store   StoreInterface
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(store StoreInterface, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:   store,
		metrics: m,
		logger:  logger,
	}
}

// ExpirePendingTransactions transitions every PENDING record whose expiry
// window has passed to EXPIRED. Records that were confirmed or failed in
// the meantime are untouched; the transition is conditional per row.
func (a *Activities) ExpirePendingTransactions(ctx context.Context, input ExpirePendingInput) (*ExpirePendingResult, error) {
	cutoff := input.Cutoff
	if cutoff.IsZero() {
		cutoff = time.Now()
	}

	a.logger.DebugContext(ctx, "expiring pending transactions", "cutoff", cutoff)

	expired, err := a.store.ExpirePendingTransactions(ctx, cutoff)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to expire pending transactions",
			"cutoff", cutoff,
			"error", err,
		)
		return nil, err
	}

	if a.metrics != nil && expired > 0 {
		a.metrics.RecordPendingExpired(float64(expired))
	}
	if expired > 0 {
		a.logger.InfoContext(ctx, "expired pending transactions", "count", expired)
	}

	return &ExpirePendingResult{Expired: expired}, nil
}
