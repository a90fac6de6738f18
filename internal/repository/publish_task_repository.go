package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/maheshrc27/postflow/internal/models"
)

// TaskUpdate carries the optional fields written alongside a status change.
type TaskUpdate struct {
	PostID       string
	Permalink    string
	ErrorMessage string
}

type PublishTaskRepository interface {
	Create(ctx context.Context, tx *sql.Tx, t *models.PublishTask) error
	GetByID(ctx context.Context, id string) (*models.PublishTask, error)
	Transition(ctx context.Context, id string, to models.PublishStatus, upd TaskUpdate) (bool, error)
}

type publishTaskRepository struct {
	db *sql.DB
}

func NewPublishTaskRepository(db *sql.DB) PublishTaskRepository {
	return &publishTaskRepository{db: db}
}

func (r *publishTaskRepository) Create(ctx context.Context, tx *sql.Tx, t *models.PublishTask) error {
	query := `
		INSERT INTO publish_tasks (
			id, user_id, account_id, platform, type, title, text,
			image_urls, video_url, publish_time, status, queue_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`

	err := conn(r.db, tx).QueryRowContext(ctx, query,
		t.ID, t.UserID, t.AccountID, t.Platform, t.Type, t.Title, t.Text,
		pq.StringArray(t.ImageURLs), t.VideoURL, t.PublishTime, t.Status, t.QueueID,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create publish task: %w", err)
	}
	return nil
}

func (r *publishTaskRepository) GetByID(ctx context.Context, id string) (*models.PublishTask, error) {
	query := `
		SELECT id, user_id, account_id, platform, type, title, text, image_urls, video_url,
			publish_time, status, queue_id, post_id, permalink, error_message, created_at, updated_at
		FROM publish_tasks
		WHERE id = $1
	`

	var t models.PublishTask
	var images pq.StringArray
	err := r.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.UserID, &t.AccountID, &t.Platform, &t.Type,
		&t.Title, &t.Text, &images, &t.VideoURL, &t.PublishTime, &t.Status, &t.QueueID, &t.PostID,
		&t.Permalink, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get publish task: %w", err)
	}
	t.ImageURLs = images
	return &t, nil
}

// Transition moves the task to status `to` only from a strictly earlier status.
// It returns false when the stored status does not allow the move.
func (r *publishTaskRepository) Transition(ctx context.Context, id string, to models.PublishStatus, upd TaskUpdate) (bool, error) {
	from := to.Predecessors()
	if len(from) == 0 {
		return false, nil
	}

	query := `
		UPDATE publish_tasks
		SET
			status = $2,
			post_id = COALESCE(NULLIF($3, ''), post_id),
			permalink = COALESCE(NULLIF($4, ''), permalink),
			error_message = COALESCE(NULLIF($5, ''), error_message),
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($6)
	`
	res, err := r.db.ExecContext(ctx, query, id, to, upd.PostID, upd.Permalink, upd.ErrorMessage, pq.Array(from))
	if err != nil {
		return false, fmt.Errorf("transition publish task: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition publish task: %w", err)
	}
	return affected == 1, nil
}
