package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// SweepPendingWorkflow is the Temporal workflow that expires stale
// pending transactions. It is triggered by a Temporal schedule at a
// configured interval (e.g., every minute).
//
// The sweep is a cleanup pass, not a correctness dependency: the confirm
// path enforces the expiry window itself, so a late sweep never lets a
// stale record settle.
func SweepPendingWorkflow(ctx workflow.Context, input SweepPendingInput) (*SweepPendingResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("SweepPendingWorkflow started")

	cutoff := input.Now
	if cutoff.IsZero() {
		cutoff = workflow.Now(ctx)
	}

	result := &SweepPendingResult{
		SweepTime: cutoff,
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 60 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var expireResult *ExpirePendingResult
	err := workflow.ExecuteActivity(ctx, a.ExpirePendingTransactions, ExpirePendingInput{Cutoff: cutoff}).Get(ctx, &expireResult)
	if err != nil {
		errMsg := fmt.Sprintf("failed to expire pending transactions: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to expire pending transactions: %w", err)
	}

	result.Expired = expireResult.Expired
	logger.Info("SweepPendingWorkflow completed", "expired", expireResult.Expired)
	return result, nil
}
