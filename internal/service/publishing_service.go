package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/pkg/apperrors"
	"github.com/maheshrc27/postflow/pkg/validator"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// PublishQueue schedules publish work. A zero at means run now.
type PublishQueue interface {
	EnqueuePublish(ctx context.Context, task *models.PublishTask, at time.Time) error
	EnqueueFinalize(ctx context.Context, taskID string) error
}

// MediaSource resolves content references for upload.
type MediaSource interface {
	Fetch(ctx context.Context, src string) (*MediaBlob, error)
	Size(ctx context.Context, src string) (int64, string, error)
	RangeFetcher(src string) RangeFetcher
}

type PublishingService interface {
	Submit(ctx context.Context, userID int64, req *transfer.PublishRequest) (*models.PublishTask, error)
	Publish(ctx context.Context, taskID string) error
	FinalizePublish(ctx context.Context, taskID string) (*transfer.PublishResult, error)
	FailTask(ctx context.Context, taskID, reason string) error
	GetTask(ctx context.Context, userID int64, taskID string) (*models.PublishTask, error)
	DeletePost(ctx context.Context, userID int64, taskID string) (bool, error)
}

type publishingService struct {
	tasks      repository.PublishTaskRepository
	containers repository.PostMediaRepository
	accounts   repository.SocialAccountRepository
	registry   *PlatformRegistry
	uploads    *MediaUploadService
	media      MediaSource
	queue      PublishQueue
	tolerance  time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

func NewPublishingService(
	tasks repository.PublishTaskRepository,
	containers repository.PostMediaRepository,
	accounts repository.SocialAccountRepository,
	registry *PlatformRegistry,
	uploads *MediaUploadService,
	media MediaSource,
	queue PublishQueue,
	tolerance time.Duration,
	logger *slog.Logger,
) PublishingService {
	return &publishingService{
		tasks:      tasks,
		containers: containers,
		accounts:   accounts,
		registry:   registry,
		uploads:    uploads,
		media:      media,
		queue:      queue,
		tolerance:  tolerance,
		now:        time.Now,
		logger:     logger,
	}
}

func (s *publishingService) Submit(ctx context.Context, userID int64, req *transfer.PublishRequest) (*models.PublishTask, error) {
	if err := validator.Validate(req); err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil || account.UserID != userID {
		return nil, apperrors.NotFound("account", req.AccountID)
	}
	if _, err := s.registry.Get(account.Platform); err != nil {
		return nil, err
	}

	typ := models.PublishTypeText
	switch {
	case req.VideoURL != "":
		typ = models.PublishTypeVideo
	case len(req.ImageURLs) > 0:
		typ = models.PublishTypeImage
	case strings.TrimSpace(req.Text) == "":
		return nil, apperrors.InvalidInput("text is required for a post without media")
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("generate task id: %w", err)
	}

	now := s.now()
	publishAt := req.PublishTime
	if publishAt.IsZero() {
		publishAt = now
	}

	task := &models.PublishTask{
		ID:          id,
		UserID:      userID,
		AccountID:   account.ID,
		Platform:    account.Platform,
		Type:        typ,
		Title:       req.Title,
		Text:        req.Text,
		ImageURLs:   req.ImageURLs,
		VideoURL:    req.VideoURL,
		PublishTime: publishAt,
		Status:      models.PublishStatusPending,
		QueueID:     fmt.Sprintf("publish:%s:%s", typ, uuid.NewString()),
	}
	if err := s.tasks.Create(ctx, nil, task); err != nil {
		return nil, err
	}

	var at time.Time
	if d := publishAt.Sub(now); d > s.tolerance || d < -s.tolerance {
		at = publishAt
	}
	if err := s.queue.EnqueuePublish(ctx, task, at); err != nil {
		_ = s.FailTask(ctx, task.ID, "could not schedule task")
		return nil, fmt.Errorf("enqueue publish: %w", err)
	}

	s.logger.Info("publish task submitted",
		slog.String("task_id", task.ID),
		slog.String("platform", task.Platform),
		slog.String("type", string(task.Type)),
		slog.Bool("immediate", at.IsZero()),
	)
	return task, nil
}

func (s *publishingService) load(ctx context.Context, taskID string) (*models.PublishTask, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, apperrors.NotFound("publish task", taskID)
	}
	return task, nil
}

func (s *publishingService) Publish(ctx context.Context, taskID string) error {
	task, err := s.load(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return nil
	}

	platform, err := s.registry.Get(task.Platform)
	if err != nil {
		return s.fail(ctx, task, err)
	}

	if task.Status == models.PublishStatusPending {
		if task.Type == models.PublishTypeText || !platform.Capabilities().ChunkedUpload {
			return s.publishDirect(ctx, task, platform)
		}
		if err := s.transition(ctx, task, models.PublishStatusPublishing, repository.TaskUpdate{}); err != nil {
			return err
		}
	}

	// A redelivered task resumes here and only uploads what was not recorded.
	if err := s.uploadMissing(ctx, task, platform.Uploader()); err != nil {
		return err
	}
	return s.finalizeOrDefer(ctx, task.ID)
}

// publishDirect creates the post in a single call, passing any video by URL.
func (s *publishingService) publishDirect(ctx context.Context, task *models.PublishTask, platform Platform) error {
	if task.Type == models.PublishTypeImage {
		return s.fail(ctx, task, apperrors.NonRetryable(platform.Name()+" does not accept image posts", nil))
	}

	res, err := platform.CreatePost(ctx, task.AccountID, PostDraft{Title: task.Title, Text: task.Text, VideoURL: task.VideoURL})
	if err != nil {
		return s.settleError(ctx, task, err)
	}
	return s.transition(ctx, task, models.PublishStatusPublished, repository.TaskUpdate{PostID: res.PostID, Permalink: res.Permalink})
}

// expectedMedia is the number of containers a fully uploaded task has.
func expectedMedia(task *models.PublishTask) int {
	if task.Type == models.PublishTypeVideo {
		return 1
	}
	return len(task.ImageURLs)
}

// uploadMissing uploads every asset of task that has no container yet.
func (s *publishingService) uploadMissing(ctx context.Context, task *models.PublishTask, uploader MediaUploader) error {
	if uploader == nil {
		return s.fail(ctx, task, apperrors.NonRetryable(task.Platform+" does not accept uploaded media", nil))
	}

	containers, err := s.containers.ListByTaskID(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("list media containers: %w", err)
	}
	recorded := make(map[int]bool, len(containers))
	for _, c := range containers {
		recorded[c.DisplayOrder] = true
	}

	if task.Type == models.PublishTypeVideo {
		if recorded[0] {
			return nil
		}
		return s.uploadVideo(ctx, task, uploader)
	}
	for i, src := range task.ImageURLs {
		if recorded[i] {
			continue
		}
		c := &models.PostMediaContainer{TaskID: task.ID, Category: models.MediaCategoryPhoto, DisplayOrder: i}

		res, err := s.uploadImage(ctx, task.AccountID, uploader, src)
		if err != nil {
			s.logger.Error("image upload failed", slog.String("task_id", task.ID), slog.Int("index", i), slog.Any("error", err))
			c.Status = models.ContainerStatusFailed
		} else {
			c.PlatformMediaID = res.MediaID
			c.Status = res.State.ContainerStatus()
		}
		if err := s.recordContainer(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *publishingService) uploadImage(ctx context.Context, accountID string, uploader MediaUploader, src string) (*UploadResult, error) {
	blob, err := s.media.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(blob.MimeType, "image/") {
		return nil, apperrors.NonRetryable("source is not an image: "+blob.MimeType, nil)
	}
	return s.uploads.UploadBytes(ctx, uploader, accountID, blob.MimeType, models.MediaCategoryPhoto, blob.Data)
}

func (s *publishingService) uploadVideo(ctx context.Context, task *models.PublishTask, uploader MediaUploader) error {
	c := &models.PostMediaContainer{TaskID: task.ID, Category: models.MediaCategoryVideo}

	res, err := func() (*UploadResult, error) {
		size, mimeType, err := s.media.Size(ctx, task.VideoURL)
		if err != nil {
			return nil, err
		}
		return s.uploads.UploadRanged(ctx, uploader, task.AccountID, mimeType, models.MediaCategoryVideo, size, s.media.RangeFetcher(task.VideoURL))
	}()
	if err != nil {
		s.logger.Error("video upload failed", slog.String("task_id", task.ID), slog.Any("error", err))
		c.Status = models.ContainerStatusFailed
	} else {
		c.PlatformMediaID = res.MediaID
		c.Status = res.State.ContainerStatus()
	}
	return s.recordContainer(ctx, c)
}

// recordContainer fails the attempt when the row cannot be written; the
// retried job re-uploads the asset instead of posting without it.
func (s *publishingService) recordContainer(ctx context.Context, c *models.PostMediaContainer) error {
	if err := s.containers.Create(ctx, nil, c); err != nil {
		s.logger.Error("record media container",
			slog.String("task_id", c.TaskID),
			slog.Int("index", c.DisplayOrder),
			slog.Any("error", err),
		)
		return fmt.Errorf("record media container %d: %w", c.DisplayOrder, err)
	}
	return nil
}

// finalizeOrDefer tries to finish the post now and hands still-processing
// media to the finalize queue.
func (s *publishingService) finalizeOrDefer(ctx context.Context, taskID string) error {
	_, err := s.FinalizePublish(ctx, taskID)
	if apperrors.IsKind(err, apperrors.ErrRetryableMedia) {
		if qerr := s.queue.EnqueueFinalize(ctx, taskID); qerr != nil {
			return fmt.Errorf("enqueue finalize: %w", qerr)
		}
		return nil
	}
	return err
}

func (s *publishingService) FinalizePublish(ctx context.Context, taskID string) (*transfer.PublishResult, error) {
	task, err := s.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.Terminal() {
		return nil, apperrors.Conflict(fmt.Sprintf("task %s is already %s", task.ID, task.Status))
	}
	if task.Status != models.PublishStatusPublishing {
		return nil, apperrors.Conflict(fmt.Sprintf("task %s has not started publishing", task.ID))
	}

	platform, err := s.registry.Get(task.Platform)
	if err != nil {
		return nil, s.fail(ctx, task, err)
	}

	containers, err := s.containers.ListByTaskID(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	containers = firstPerOrder(containers)
	if want := expectedMedia(task); len(containers) == 0 || len(containers) < want {
		return nil, s.fail(ctx, task, apperrors.NonRetryable(
			fmt.Sprintf("%d of %d media were uploaded", len(containers), want), nil))
	}

	pending, failed := 0, 0
	for _, c := range containers {
		if c.Status == models.ContainerStatusPending || c.Status == models.ContainerStatusInProgress {
			if err := s.pollContainer(ctx, task, platform.Uploader(), c); err != nil {
				return nil, err
			}
		}
		switch c.Status {
		case models.ContainerStatusFailed:
			failed++
		case models.ContainerStatusPending, models.ContainerStatusInProgress:
			pending++
		}
	}

	if failed > 0 {
		return nil, s.fail(ctx, task, apperrors.NonRetryable(fmt.Sprintf("%d of %d media failed processing", failed, len(containers)), nil))
	}
	if pending > 0 {
		return nil, apperrors.RetryableMedia(fmt.Sprintf("%d of %d media still processing", pending, len(containers)), nil)
	}

	mediaIDs := make([]string, 0, len(containers))
	for _, c := range containers {
		mediaIDs = append(mediaIDs, c.PlatformMediaID)
	}

	res, err := platform.CreatePost(ctx, task.AccountID, PostDraft{Title: task.Title, Text: task.Text, MediaIDs: mediaIDs})
	if err != nil {
		return nil, s.settleError(ctx, task, err)
	}

	if err := s.transition(ctx, task, models.PublishStatusPublished, repository.TaskUpdate{PostID: res.PostID, Permalink: res.Permalink}); err != nil {
		return nil, err
	}
	return &transfer.PublishResult{
		TaskID:    task.ID,
		Status:    string(models.PublishStatusPublished),
		PostID:    res.PostID,
		Permalink: res.Permalink,
	}, nil
}

// firstPerOrder sorts containers by display order and keeps the earliest row
// for each position.
func firstPerOrder(containers []*models.PostMediaContainer) []*models.PostMediaContainer {
	sort.SliceStable(containers, func(i, j int) bool { return containers[i].DisplayOrder < containers[j].DisplayOrder })
	out := make([]*models.PostMediaContainer, 0, len(containers))
	for _, c := range containers {
		if n := len(out); n > 0 && out[n-1].DisplayOrder == c.DisplayOrder {
			continue
		}
		out = append(out, c)
	}
	return out
}

// pollContainer refreshes c.Status from the provider. Transport problems
// leave the container as is so the finalize job retries.
func (s *publishingService) pollContainer(ctx context.Context, task *models.PublishTask, uploader MediaUploader, c *models.PostMediaContainer) error {
	if uploader == nil || c.PlatformMediaID == "" {
		c.Status = models.ContainerStatusFailed
		return s.containers.UpdateStatus(ctx, c.ID, c.Status)
	}

	state, err := s.uploads.PollStatus(ctx, uploader, task.AccountID, c.PlatformMediaID)
	if err != nil {
		if apperrors.IsKind(err, apperrors.ErrAuthExpired) || apperrors.IsKind(err, apperrors.ErrNonRetryable) {
			return s.fail(ctx, task, err)
		}
		s.logger.Warn("media status poll failed", slog.String("task_id", task.ID), slog.Any("error", err))
		return apperrors.RetryableMedia("media status unavailable", err)
	}

	next := state.ContainerStatus()
	if next == c.Status {
		return nil
	}
	c.Status = next
	return s.containers.UpdateStatus(ctx, c.ID, next)
}

func (s *publishingService) FailTask(ctx context.Context, taskID, reason string) error {
	task, err := s.load(ctx, taskID)
	if err != nil {
		return err
	}
	return s.transition(ctx, task, models.PublishStatusFailed, repository.TaskUpdate{ErrorMessage: reason})
}

func (s *publishingService) GetTask(ctx context.Context, userID int64, taskID string) (*models.PublishTask, error) {
	task, err := s.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, apperrors.NotFound("publish task", taskID)
	}
	return task, nil
}

func (s *publishingService) DeletePost(ctx context.Context, userID int64, taskID string) (bool, error) {
	task, err := s.GetTask(ctx, userID, taskID)
	if err != nil {
		return false, err
	}

	platform, err := s.registry.Get(task.Platform)
	if err != nil {
		return false, err
	}
	if !platform.Capabilities().DeletePost {
		return false, nil
	}
	if task.Status != models.PublishStatusPublished || task.PostID == "" {
		return true, apperrors.Conflict("task has no published post")
	}

	if err := platform.DeletePost(ctx, task.AccountID, task.PostID); err != nil {
		return true, err
	}
	s.logger.Info("post deleted", slog.String("task_id", task.ID), slog.String("post_id", task.PostID))
	return true, nil
}

func (s *publishingService) transition(ctx context.Context, task *models.PublishTask, to models.PublishStatus, upd repository.TaskUpdate) error {
	ok, err := s.tasks.Transition(ctx, task.ID, to, upd)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Conflict(fmt.Sprintf("task %s cannot move to %s", task.ID, to))
	}
	task.Status = to
	metrics.PublishTransitions.WithLabelValues(task.Platform, string(to)).Inc()
	return nil
}

// settleError fails the task for permanent errors and passes transient ones
// back to the queue.
func (s *publishingService) settleError(ctx context.Context, task *models.PublishTask, err error) error {
	if apperrors.IsKind(err, apperrors.ErrNonRetryable) || apperrors.IsKind(err, apperrors.ErrAuthExpired) {
		return s.fail(ctx, task, err)
	}
	return err
}

func (s *publishingService) fail(ctx context.Context, task *models.PublishTask, cause error) error {
	if err := s.transition(ctx, task, models.PublishStatusFailed, repository.TaskUpdate{ErrorMessage: failureMessage(cause)}); err != nil {
		s.logger.Error("mark task failed", slog.String("task_id", task.ID), slog.Any("error", err))
	}
	s.logger.Warn("publish task failed", slog.String("task_id", task.ID), slog.Any("error", cause))
	return cause
}

// failureMessage is the client-safe summary stored on the task.
func failureMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Provider != nil && appErr.Provider.Detail != "" {
			return appErr.Message + ": " + appErr.Provider.Detail
		}
		return appErr.Message
	}
	return "internal error"
}
