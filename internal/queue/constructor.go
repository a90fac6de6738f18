package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/service"
)

const (
	TaskTypePublish  = "publish:post"
	TaskTypeFinalize = "publish:finalize"
)

type PublishPayload struct {
	TaskID string `json:"task_id"`
}

// Queue handles publish jobs on the worker side.
type Queue struct {
	publishing service.PublishingService
	logger     *slog.Logger
	// attempt reports the current retry count and the task's max retry.
	attempt func(ctx context.Context) (retried, maxRetry int, ok bool)
}

func NewQueue(publishing service.PublishingService, logger *slog.Logger) *Queue {
	return &Queue{
		publishing: publishing,
		logger:     logger,
		attempt:    asynqAttempt,
	}
}

func asynqAttempt(ctx context.Context) (int, int, bool) {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return 0, 0, false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return retried, maxRetry, ok
}

// Register mounts the publish handlers on mux.
func (q *Queue) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskTypePublish, q.HandlePublishTask)
	mux.HandleFunc(TaskTypeFinalize, q.HandleFinalizeTask)
}

// slogAdapter lets asynq log through slog.
type slogAdapter struct {
	logger *slog.Logger
}

func NewLogger(logger *slog.Logger) asynq.Logger {
	return &slogAdapter{logger: logger.With(slog.String("component", "asynq"))}
}

func (l *slogAdapter) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *slogAdapter) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *slogAdapter) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *slogAdapter) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }

func (l *slogAdapter) Fatal(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
