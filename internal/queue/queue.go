package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/models"
)

const (
	finalizeBaseDelay = 15 * time.Second
	finalizeMaxDelay  = 5 * time.Minute
)

// Client enqueues publish work. It implements service.PublishQueue.
type Client struct {
	asynq            *asynq.Client
	publishMaxRetry  int
	finalizeMaxRetry int
	logger           *slog.Logger
}

func NewClient(client *asynq.Client, publishMaxRetry, finalizeMaxRetry int, logger *slog.Logger) *Client {
	return &Client{
		asynq:            client,
		publishMaxRetry:  publishMaxRetry,
		finalizeMaxRetry: finalizeMaxRetry,
		logger:           logger,
	}
}

// EnqueuePublish schedules the publish job at `at`, or right away when at is
// zero. The task's QueueID deduplicates submissions.
func (c *Client) EnqueuePublish(ctx context.Context, task *models.PublishTask, at time.Time) error {
	opts := []asynq.Option{asynq.TaskID(task.QueueID), asynq.MaxRetry(c.publishMaxRetry)}
	if !at.IsZero() {
		opts = append(opts, asynq.ProcessAt(at))
	}
	return c.enqueue(ctx, TaskTypePublish, task.ID, opts...)
}

// EnqueueFinalize schedules a finalize attempt after the first backoff step.
// A finalize job already pending for the task absorbs the call.
func (c *Client) EnqueueFinalize(ctx context.Context, taskID string) error {
	return c.enqueue(ctx, TaskTypeFinalize, taskID,
		asynq.TaskID("finalize:"+taskID),
		asynq.MaxRetry(c.finalizeMaxRetry),
		asynq.ProcessIn(finalizeBaseDelay),
	)
}

func (c *Client) enqueue(ctx context.Context, typ, taskID string, opts ...asynq.Option) error {
	payload, err := json.Marshal(PublishPayload{TaskID: taskID})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	info, err := c.asynq.EnqueueContext(ctx, asynq.NewTask(typ, payload), opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			c.logger.Info("task already queued", slog.String("type", typ), slog.String("task_id", taskID))
			return nil
		}
		return fmt.Errorf("enqueue %s: %w", typ, err)
	}

	c.logger.Info("task enqueued",
		slog.String("type", typ),
		slog.String("task_id", taskID),
		slog.String("queue_task_id", info.ID),
		slog.Time("process_at", info.NextProcessAt),
	)
	return nil
}

// RetryDelay backs finalize jobs off exponentially from 15s, capped at five
// minutes. Other task types use asynq's default.
func RetryDelay(n int, err error, t *asynq.Task) time.Duration {
	if t.Type() != TaskTypeFinalize {
		return asynq.DefaultRetryDelayFunc(n, err, t)
	}
	if n > 10 {
		return finalizeMaxDelay
	}
	return min(finalizeBaseDelay<<n, finalizeMaxDelay)
}
