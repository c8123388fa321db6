package temporal

import (
	"context"
	"time"
)

// Scheduler manages the Temporal schedule driving the pending-transaction
// sweep. One schedule exists per deployment.
type Scheduler interface {
	// CreateSweepSchedule creates the schedule that triggers the
	// SweepPendingWorkflow on the given interval.
	CreateSweepSchedule(ctx context.Context, interval time.Duration) error

	// PauseSweepSchedule pauses the sweep without deleting it.
	PauseSweepSchedule(ctx context.Context) error

	// ResumeSweepSchedule resumes a paused sweep.
	ResumeSweepSchedule(ctx context.Context) error

	// DeleteSweepSchedule deletes the sweep schedule.
	DeleteSweepSchedule(ctx context.Context) error
}

// sweepScheduleID is the fixed Temporal schedule ID for the sweep.
const sweepScheduleID = "sweep-pending-transactions"
