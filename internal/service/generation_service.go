package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/pkg/apperrors"
	"github.com/maheshrc27/postflow/pkg/validator"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// RehostFailedReason replaces a failure URL that could not be copied to
// owned storage.
const RehostFailedReason = "failure media could not be re-hosted"

type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

type GenerationService interface {
	Register(ctx context.Context, userID int64, req *transfer.RegisterGenerationRequest) (*models.GenerationTask, error)
	GetTask(ctx context.Context, userID int64, id string) (*models.GenerationTask, error)
	// Reconcile queries the provider for a generating task and applies a
	// terminal result. It reports whether this call moved the task.
	Reconcile(ctx context.Context, task *models.GenerationTask) (bool, error)
	// ListGenerating pages through generating tasks in (started_at, id) order.
	ListGenerating(ctx context.Context, after models.GenerationCursor, limit int) ([]*models.GenerationTask, error)
}

type generationService struct {
	db       TxBeginner
	tasks    repository.GenerationTaskRepository
	points   repository.PointsRepository
	provider GenerationProvider
	storage  ObjectStorage
	now      func() time.Time
	logger   *slog.Logger
}

func NewGenerationService(
	db TxBeginner,
	tasks repository.GenerationTaskRepository,
	points repository.PointsRepository,
	provider GenerationProvider,
	storage ObjectStorage,
	logger *slog.Logger,
) GenerationService {
	return &generationService{
		db:       db,
		tasks:    tasks,
		points:   points,
		provider: provider,
		storage:  storage,
		now:      time.Now,
		logger:   logger,
	}
}

func (s *generationService) Register(ctx context.Context, userID int64, req *transfer.RegisterGenerationRequest) (*models.GenerationTask, error) {
	if err := validator.Validate(req); err != nil {
		return nil, err
	}
	userType := req.UserType
	if userType == "" {
		userType = models.UserTypeUser
	}
	if userType != models.UserTypeUser && userType != models.UserTypeInternal {
		return nil, apperrors.InvalidInput("unknown user_type " + userType)
	}

	existing, err := s.tasks.GetByTaskID(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.Conflict("generation task " + req.TaskID + " is already registered")
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	task := &models.GenerationTask{
		ID:        id,
		TaskID:    req.TaskID,
		UserID:    userID,
		UserType:  userType,
		Model:     req.Model,
		Status:    models.GenerationStatusGenerating,
		Points:    req.Points,
		Prepaid:   req.Prepaid,
		Request:   req.Request,
		StartedAt: s.now(),
	}

	if task.Metered() {
		balance, err := s.points.Balance(ctx, userID)
		if err != nil {
			return nil, err
		}
		if balance < task.Points {
			return nil, apperrors.InvalidInput(fmt.Sprintf("insufficient points: have %d, need %d", balance, task.Points))
		}
	}

	if !task.Metered() || !task.Prepaid {
		if err := s.tasks.Create(ctx, nil, task); err != nil {
			return nil, err
		}
		return task, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin register: %w", err)
	}
	defer tx.Rollback()

	if err := s.tasks.Create(ctx, tx, task); err != nil {
		return nil, err
	}
	if _, err := s.points.Deduct(ctx, tx, s.entry(task, repository.PointsReasonGenerationCharge)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit register: %w", err)
	}
	metrics.LedgerEntries.WithLabelValues(repository.PointsReasonGenerationCharge).Inc()
	return task, nil
}

func (s *generationService) GetTask(ctx context.Context, userID int64, id string) (*models.GenerationTask, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil || task.UserID != userID {
		return nil, apperrors.NotFound("generation task", id)
	}
	if task.Status != models.GenerationStatusGenerating {
		return task, nil
	}

	changed, err := s.Reconcile(ctx, task)
	if err != nil {
		s.logger.Warn("inline reconcile failed", slog.String("id", task.ID), slog.Any("error", err))
		return task, nil
	}
	if !changed {
		return task, nil
	}
	fresh, err := s.tasks.GetByID(ctx, id)
	if err != nil || fresh == nil {
		return task, nil
	}
	return fresh, nil
}

func (s *generationService) ListGenerating(ctx context.Context, after models.GenerationCursor, limit int) ([]*models.GenerationTask, error) {
	return s.tasks.ListGenerating(ctx, after, limit)
}

func (s *generationService) Reconcile(ctx context.Context, task *models.GenerationTask) (bool, error) {
	if task.Status != models.GenerationStatusGenerating {
		return false, nil
	}

	remote, err := s.provider.QueryTask(ctx, task.TaskID)
	if err != nil {
		return false, err
	}

	var out models.GenerationOutcome
	var settle repository.SettleFunc
	switch remote.Status {
	case transfer.ProviderStatusSuccess:
		out = models.GenerationOutcome{
			Status:   models.GenerationStatusSuccess,
			Response: remote.Raw,
			Duration: s.duration(task, remote),
		}
		if IsRemoteURL(remote.ResultURL) {
			key, err := s.storage.PutObjectFromURL(ctx, "generations/"+task.ID, remote.ResultURL)
			if err != nil {
				s.logger.Warn("re-host result media", slog.String("id", task.ID), slog.Any("error", err))
			} else {
				out.ResultKey = key
			}
		}
		if task.Metered() && !task.Prepaid {
			settle = s.ledger(repository.PointsReasonGenerationCharge, s.points.Deduct)
		}

	case transfer.ProviderStatusFailure, transfer.ProviderStatusUnknown:
		out = models.GenerationOutcome{
			Status:     models.GenerationStatusFailed,
			Response:   remote.Raw,
			FailReason: remote.FailReason,
			Duration:   s.duration(task, remote),
		}
		if out.FailReason == "" {
			out.FailReason = "generation failed"
		}
		if IsRemoteURL(out.FailReason) {
			key, err := s.storage.PutObjectFromURL(ctx, "generation-failures/"+task.ID, out.FailReason)
			if err != nil {
				s.logger.Warn("re-host failure media", slog.String("id", task.ID), slog.Any("error", err))
				out.FailReason = RehostFailedReason
			} else {
				out.FailReason, out.ResultKey = key, key
			}
		}
		if task.Metered() && task.Prepaid {
			settle = s.ledger(repository.PointsReasonGenerationRefund, s.points.Credit)
		}

	default:
		return false, nil
	}

	applied, err := s.tasks.Finish(ctx, task.ID, out, settle)
	if err != nil {
		return false, err
	}
	if applied {
		metrics.GenerationSettlements.WithLabelValues(string(out.Status)).Inc()
		s.logger.Info("generation task settled",
			slog.String("id", task.ID),
			slog.String("task_id", task.TaskID),
			slog.String("status", string(out.Status)),
		)
	}
	return applied, nil
}

// ledger builds the in-transaction billing side effect for a terminal update.
func (s *generationService) ledger(reason string, apply func(context.Context, *sql.Tx, repository.PointsEntry) (bool, error)) repository.SettleFunc {
	return func(ctx context.Context, tx *sql.Tx, t *models.GenerationTask) error {
		applied, err := apply(ctx, tx, s.entry(t, reason))
		if err != nil {
			return err
		}
		if applied {
			metrics.LedgerEntries.WithLabelValues(reason).Inc()
		} else {
			s.logger.Warn("ledger entry already recorded", slog.String("id", t.ID), slog.String("reason", reason))
		}
		return nil
	}
}

func (s *generationService) entry(t *models.GenerationTask, reason string) repository.PointsEntry {
	return repository.PointsEntry{UserID: t.UserID, Amount: t.Points, Reason: reason, RefID: t.ID}
}

func (s *generationService) duration(t *models.GenerationTask, remote *transfer.ProviderTask) time.Duration {
	end := s.now()
	if remote.FinishedAt != nil && !remote.FinishedAt.IsZero() {
		end = *remote.FinishedAt
	}
	return max(end.Sub(t.StartedAt), 0)
}
