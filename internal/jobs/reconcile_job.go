package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/service"
)

const defaultSweepBatch = 500

// ReconcileJob polls in-flight generation tasks to completion.
type ReconcileJob struct {
	generation service.GenerationService
	batch      int
	logger     *slog.Logger
}

func NewReconcileJob(generation service.GenerationService, batch int, logger *slog.Logger) *ReconcileJob {
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &ReconcileJob{
		generation: generation,
		batch:      batch,
		logger:     logger.With(slog.String("job", "reconcile")),
	}
}

type SweepResult struct {
	Checked int
	Settled int
	Failed  int
}

// Sweep reconciles every generating task once, paging in (started_at, id)
// order so tasks that stay in flight never hide newer ones. A failing task
// is logged and skipped.
func (j *ReconcileJob) Sweep(ctx context.Context) SweepResult {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	var (
		res   SweepResult
		after models.GenerationCursor
	)
	for ctx.Err() == nil {
		tasks, err := j.generation.ListGenerating(ctx, after, j.batch)
		if err != nil {
			j.logger.Error("list generating tasks", slog.Any("error", err))
			break
		}

		for _, task := range tasks {
			if ctx.Err() != nil {
				break
			}
			res.Checked++

			settled, err := j.generation.Reconcile(ctx, task)
			if err != nil {
				res.Failed++
				j.logger.Warn("reconcile task",
					slog.String("id", task.ID),
					slog.String("task_id", task.TaskID),
					slog.Any("error", err),
				)
				continue
			}
			if settled {
				res.Settled++
			}
		}

		if len(tasks) < j.batch {
			break
		}
		after = after.After(tasks[len(tasks)-1])
	}

	if res.Checked > 0 {
		j.logger.Info("sweep complete",
			slog.Int("checked", res.Checked),
			slog.Int("settled", res.Settled),
			slog.Int("failed", res.Failed),
			slog.Duration("took", time.Since(start)),
		)
	}
	return res
}

// Run adapts Sweep to the scheduler.
func (j *ReconcileJob) Run(ctx context.Context) {
	j.Sweep(ctx)
}
