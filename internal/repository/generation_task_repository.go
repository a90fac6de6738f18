package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
)

// SettleFunc applies the billing side effect of a terminal transition inside
// the same transaction as the status update.
type SettleFunc func(ctx context.Context, tx *sql.Tx, t *models.GenerationTask) error

type GenerationTaskRepository interface {
	Create(ctx context.Context, tx *sql.Tx, t *models.GenerationTask) error
	GetByID(ctx context.Context, id string) (*models.GenerationTask, error)
	GetByTaskID(ctx context.Context, taskID string) (*models.GenerationTask, error)
	ListGenerating(ctx context.Context, after models.GenerationCursor, limit int) ([]*models.GenerationTask, error)
	Finish(ctx context.Context, id string, out models.GenerationOutcome, settle SettleFunc) (bool, error)
}

type generationTaskRepository struct {
	db *sql.DB
}

func NewGenerationTaskRepository(db *sql.DB) GenerationTaskRepository {
	return &generationTaskRepository{db: db}
}

const generationColumns = `id, task_id, user_id, user_type, model, status, points, prepaid, request, response,
	fail_reason, result_key, started_at, duration_ms, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGenerationTask(row rowScanner) (*models.GenerationTask, error) {
	var t models.GenerationTask
	var request, response []byte
	var durationMs int64
	err := row.Scan(&t.ID, &t.TaskID, &t.UserID, &t.UserType, &t.Model, &t.Status, &t.Points, &t.Prepaid,
		&request, &response, &t.FailReason, &t.ResultKey, &t.StartedAt, &durationMs, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Request = request
	t.Response = response
	t.Duration = time.Duration(durationMs) * time.Millisecond
	return &t, nil
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (r *generationTaskRepository) Create(ctx context.Context, tx *sql.Tx, t *models.GenerationTask) error {
	query := `
		INSERT INTO generation_tasks (
			id, task_id, user_id, user_type, model, status, points, prepaid, request, started_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	err := conn(r.db, tx).QueryRowContext(ctx, query,
		t.ID, t.TaskID, t.UserID, t.UserType, t.Model, t.Status, t.Points, t.Prepaid, nullJSON(t.Request), t.StartedAt,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create generation task: %w", err)
	}
	return nil
}

func (r *generationTaskRepository) GetByID(ctx context.Context, id string) (*models.GenerationTask, error) {
	query := `SELECT ` + generationColumns + ` FROM generation_tasks WHERE id = $1`

	t, err := scanGenerationTask(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get generation task: %w", err)
	}
	return t, nil
}

func (r *generationTaskRepository) GetByTaskID(ctx context.Context, taskID string) (*models.GenerationTask, error) {
	query := `SELECT ` + generationColumns + ` FROM generation_tasks WHERE task_id = $1`

	t, err := scanGenerationTask(r.db.QueryRowContext(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get generation task by external id: %w", err)
	}
	return t, nil
}

// ListGenerating returns the next page of generating tasks strictly after
// the cursor, ordered by (started_at, id).
func (r *generationTaskRepository) ListGenerating(ctx context.Context, after models.GenerationCursor, limit int) ([]*models.GenerationTask, error) {
	query := `SELECT ` + generationColumns + ` FROM generation_tasks
		WHERE status = $1 AND (started_at, id) > ($2, $3)
		ORDER BY started_at, id LIMIT $4`

	rows, err := r.db.QueryContext(ctx, query, models.GenerationStatusGenerating, after.StartedAt, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list generating tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.GenerationTask
	for rows.Next() {
		t, err := scanGenerationTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generation tasks: %w", err)
	}
	return tasks, nil
}

// Finish applies the terminal outcome and settle in one transaction, but only
// while the row is still generating. It returns false when another writer
// already finished the task.
func (r *generationTaskRepository) Finish(ctx context.Context, id string, out models.GenerationOutcome, settle SettleFunc) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin finish: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + generationColumns + ` FROM generation_tasks WHERE id = $1 FOR UPDATE`
	t, err := scanGenerationTask(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lock generation task: %w", err)
	}
	if t.Status != models.GenerationStatusGenerating {
		return false, nil
	}

	if settle != nil {
		if err := settle(ctx, tx, t); err != nil {
			return false, fmt.Errorf("settle generation task: %w", err)
		}
	}

	update := `
		UPDATE generation_tasks
		SET
			status = $2,
			response = COALESCE($3::jsonb, response),
			fail_reason = $4,
			result_key = $5,
			duration_ms = $6,
			updated_at = NOW()
		WHERE id = $1
	`
	_, err = tx.ExecContext(ctx, update, id, out.Status, nullJSON(out.Response), out.FailReason, out.ResultKey, out.Duration.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("finish generation task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit finish: %w", err)
	}
	return true, nil
}
