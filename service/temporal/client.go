package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// CreateSweepSchedule creates the Temporal schedule that triggers the
// pending-transaction sweep on the given interval.
func (c *Client) CreateSweepSchedule(ctx context.Context, interval time.Duration) error {
	c.logger.Debug("creating sweep schedule",
		"schedule_id", sweepScheduleID,
		"interval", interval,
	)

	scheduleSpec := client.ScheduleSpec{
		Intervals: []client.ScheduleIntervalSpec{
			{Every: interval},
		},
	}

	workflowAction := client.ScheduleWorkflowAction{
		ID:        "sweep-pending",
		Workflow:  "SweepPendingWorkflow",
		TaskQueue: c.taskQueue,
		Args:      []interface{}{SweepPendingInput{}},
	}

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID:     sweepScheduleID,
		Spec:   scheduleSpec,
		Action: &workflowAction,
		Memo: map[string]interface{}{
			"created_by": "vault",
		},
	})
	if err != nil {
		c.logger.Error("failed to create sweep schedule",
			"schedule_id", sweepScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", sweepScheduleID, err)
	}

	c.logger.Info("created sweep schedule",
		"schedule_id", sweepScheduleID,
		"interval", interval,
	)
	return nil
}

// PauseSweepSchedule pauses the sweep schedule.
func (c *Client) PauseSweepSchedule(ctx context.Context) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, sweepScheduleID)
	if err := handle.Pause(ctx, client.SchedulePauseOptions{Note: "paused via vault CLI"}); err != nil {
		return fmt.Errorf("failed to pause schedule %q: %w", sweepScheduleID, err)
	}
	c.logger.Info("paused sweep schedule", "schedule_id", sweepScheduleID)
	return nil
}

// ResumeSweepSchedule resumes a paused sweep schedule.
func (c *Client) ResumeSweepSchedule(ctx context.Context) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, sweepScheduleID)
	if err := handle.Unpause(ctx, client.ScheduleUnpauseOptions{Note: "resumed via vault CLI"}); err != nil {
		return fmt.Errorf("failed to resume schedule %q: %w", sweepScheduleID, err)
	}
	c.logger.Info("resumed sweep schedule", "schedule_id", sweepScheduleID)
	return nil
}

// DeleteSweepSchedule deletes the sweep schedule.
func (c *Client) DeleteSweepSchedule(ctx context.Context) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, sweepScheduleID)
	if err := handle.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete schedule %q: %w", sweepScheduleID, err)
	}
	c.logger.Info("deleted sweep schedule", "schedule_id", sweepScheduleID)
	return nil
}

// Close closes the underlying Temporal connection.
func (c *Client) Close() {
	c.client.Close()
}

// temporalLogger adapts slog to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
