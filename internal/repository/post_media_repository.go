package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/maheshrc27/postflow/internal/models"
)

type PostMediaRepository interface {
	Create(ctx context.Context, tx *sql.Tx, pm *models.PostMediaContainer) error
	ListByTaskID(ctx context.Context, taskID string) ([]*models.PostMediaContainer, error)
	UpdateStatus(ctx context.Context, id int64, status models.ContainerStatus) error
}

type postMediaRepository struct {
	db *sql.DB
}

func NewPostMediaRepository(db *sql.DB) PostMediaRepository {
	return &postMediaRepository{db: db}
}

func (r *postMediaRepository) Create(ctx context.Context, tx *sql.Tx, pm *models.PostMediaContainer) error {
	query := `
		INSERT INTO post_media_containers (task_id, platform_media_id, category, status, display_order)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err := conn(r.db, tx).QueryRowContext(ctx, query,
		pm.TaskID, pm.PlatformMediaID, pm.Category, pm.Status, pm.DisplayOrder,
	).Scan(&pm.ID, &pm.CreatedAt, &pm.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create media container: %w", err)
	}
	return nil
}

func (r *postMediaRepository) ListByTaskID(ctx context.Context, taskID string) ([]*models.PostMediaContainer, error) {
	query := `
		SELECT id, task_id, platform_media_id, category, status, display_order, created_at, updated_at
		FROM post_media_containers
		WHERE task_id = $1
		ORDER BY display_order
	`

	rows, err := r.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list media containers: %w", err)
	}
	defer rows.Close()

	var containers []*models.PostMediaContainer
	for rows.Next() {
		var pm models.PostMediaContainer
		if err := rows.Scan(&pm.ID, &pm.TaskID, &pm.PlatformMediaID, &pm.Category, &pm.Status,
			&pm.DisplayOrder, &pm.CreatedAt, &pm.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan media container: %w", err)
		}
		containers = append(containers, &pm)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate media containers: %w", err)
	}
	return containers, nil
}

func (r *postMediaRepository) UpdateStatus(ctx context.Context, id int64, status models.ContainerStatus) error {
	query := `
		UPDATE post_media_containers
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("update media container: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update media container: %w", err)
	}
	if affected == 0 {
		return errors.New("update media container: no rows affected")
	}
	return nil
}
