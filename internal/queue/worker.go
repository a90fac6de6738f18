package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/pkg/apperrors"
)

const mediaTimeoutReason = "media processing timed out"

func (q *Queue) HandlePublishTask(ctx context.Context, task *asynq.Task) error {
	payload, err := decode(task)
	if err != nil {
		return err
	}
	return q.settle(ctx, payload.TaskID, q.publishing.Publish(ctx, payload.TaskID))
}

func (q *Queue) HandleFinalizeTask(ctx context.Context, task *asynq.Task) error {
	payload, err := decode(task)
	if err != nil {
		return err
	}
	_, err = q.publishing.FinalizePublish(ctx, payload.TaskID)
	return q.settle(ctx, payload.TaskID, err)
}

func decode(task *asynq.Task) (*PublishPayload, error) {
	var payload PublishPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
	}
	return &payload, nil
}

// settle maps a service error onto asynq retry semantics. Permanent errors
// skip retry; retryable ones are returned until the last attempt, which
// fails the task instead.
func (q *Queue) settle(ctx context.Context, taskID string, err error) error {
	if err == nil {
		return nil
	}

	log := q.logger.With(slog.String("task_id", taskID))
	switch {
	case apperrors.IsKind(err, apperrors.ErrConflict),
		apperrors.IsKind(err, apperrors.ErrNotFound),
		apperrors.IsKind(err, apperrors.ErrNonRetryable),
		apperrors.IsKind(err, apperrors.ErrAuthExpired),
		apperrors.IsKind(err, apperrors.ErrInvalidInput),
		apperrors.IsKind(err, apperrors.ErrUnsupported):
		log.Info("publish job finished without retry", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if retried, maxRetry, ok := q.attempt(ctx); ok && retried >= maxRetry {
		reason := "publish failed after retries"
		if apperrors.IsKind(err, apperrors.ErrRetryableMedia) {
			reason = mediaTimeoutReason
		}
		if ferr := q.publishing.FailTask(ctx, taskID, reason); ferr != nil {
			log.Error("fail exhausted task", slog.Any("error", ferr))
		}
		log.Warn("publish job retries exhausted", slog.Int("retried", retried), slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log.Warn("publish job will retry", slog.Any("error", err))
	return err
}
