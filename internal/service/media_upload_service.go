package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/pkg/apperrors"
)

// ChunkSize is the fixed segment size for chunked uploads.
const ChunkSize = 4 * 1024 * 1024

// Segment is one contiguous slice of an upload.
type Segment struct {
	Index  int
	Start  int64
	Length int64
}

// End is the inclusive offset of the segment's last byte.
func (s Segment) End() int64 {
	return s.Start + s.Length - 1
}

// SegmentPlan splits total bytes into ceil(total/chunk) segments. Every
// segment but the last is exactly chunk bytes long.
func SegmentPlan(total, chunk int64) []Segment {
	if total <= 0 || chunk <= 0 {
		return nil
	}
	n := (total + chunk - 1) / chunk
	plan := make([]Segment, 0, n)
	for i := int64(0); i < n; i++ {
		start := i * chunk
		plan = append(plan, Segment{
			Index:  int(i),
			Start:  start,
			Length: min(chunk, total-start),
		})
	}
	return plan
}

// RangeFetcher downloads bytes [start, end] of a source, both inclusive.
type RangeFetcher func(ctx context.Context, start, end int64) ([]byte, error)

type MediaState string

const (
	MediaStatePending    MediaState = "pending"
	MediaStateInProgress MediaState = "in_progress"
	MediaStateSucceeded  MediaState = "succeeded"
	MediaStateFailed     MediaState = "failed"
)

// ContainerStatus maps a provider processing state onto a container status.
func (s MediaState) ContainerStatus() models.ContainerStatus {
	switch s {
	case MediaStateSucceeded:
		return models.ContainerStatusFinished
	case MediaStateFailed:
		return models.ContainerStatusFailed
	case MediaStateInProgress:
		return models.ContainerStatusInProgress
	}
	return models.ContainerStatusPending
}

type InitMediaRequest struct {
	MimeType   string
	TotalBytes int64
	Category   models.MediaCategory
}

// MediaUploader is a platform's init/append/finalize/status upload protocol.
type MediaUploader interface {
	InitUpload(ctx context.Context, accountID string, req InitMediaRequest) (string, error)
	AppendSegment(ctx context.Context, accountID, mediaID string, index int, chunk []byte) error
	FinalizeUpload(ctx context.Context, accountID, mediaID string) (MediaState, error)
	UploadStatus(ctx context.Context, accountID, mediaID string) (MediaState, error)
}

type UploadResult struct {
	MediaID string
	State   MediaState
}

// MediaUploadService drives a MediaUploader through one upload. Segments are
// sent strictly in order and nothing is retried here.
type MediaUploadService struct {
	logger *slog.Logger
}

func NewMediaUploadService(logger *slog.Logger) *MediaUploadService {
	return &MediaUploadService{logger: logger}
}

// UploadBytes uploads an in-memory payload.
func (s *MediaUploadService) UploadBytes(ctx context.Context, up MediaUploader, accountID, mimeType string, category models.MediaCategory, data []byte) (*UploadResult, error) {
	fetch := func(_ context.Context, start, end int64) ([]byte, error) {
		return data[start : end+1], nil
	}
	return s.upload(ctx, up, accountID, mimeType, category, int64(len(data)), fetch)
}

// UploadRanged uploads a remote source of known size, downloading one byte
// range per segment.
func (s *MediaUploadService) UploadRanged(ctx context.Context, up MediaUploader, accountID, mimeType string, category models.MediaCategory, size int64, fetch RangeFetcher) (*UploadResult, error) {
	return s.upload(ctx, up, accountID, mimeType, category, size, fetch)
}

func (s *MediaUploadService) upload(ctx context.Context, up MediaUploader, accountID, mimeType string, category models.MediaCategory, size int64, fetch RangeFetcher) (*UploadResult, error) {
	if size <= 0 {
		return nil, apperrors.NonRetryable("media is empty", nil)
	}

	mediaID, err := up.InitUpload(ctx, accountID, InitMediaRequest{MimeType: mimeType, TotalBytes: size, Category: category})
	if err != nil {
		return nil, fmt.Errorf("init upload: %w", err)
	}

	plan := SegmentPlan(size, ChunkSize)
	for _, seg := range plan {
		chunk, err := fetch(ctx, seg.Start, seg.End())
		if err != nil {
			return nil, fmt.Errorf("read segment %d: %w", seg.Index, err)
		}
		if int64(len(chunk)) != seg.Length {
			return nil, apperrors.NonRetryable(fmt.Sprintf("segment %d: got %d bytes, want %d", seg.Index, len(chunk), seg.Length), nil)
		}
		if err := up.AppendSegment(ctx, accountID, mediaID, seg.Index, chunk); err != nil {
			return nil, fmt.Errorf("append segment %d: %w", seg.Index, err)
		}
	}

	state, err := up.FinalizeUpload(ctx, accountID, mediaID)
	if err != nil {
		return nil, fmt.Errorf("finalize upload: %w", err)
	}

	s.logger.Info("media uploaded",
		slog.String("account_id", accountID),
		slog.String("media_id", mediaID),
		slog.Int("segments", len(plan)),
		slog.String("state", string(state)),
	)
	return &UploadResult{MediaID: mediaID, State: state}, nil
}

// PollStatus reports the provider's processing state for mediaID.
func (s *MediaUploadService) PollStatus(ctx context.Context, up MediaUploader, accountID, mediaID string) (MediaState, error) {
	state, err := up.UploadStatus(ctx, accountID, mediaID)
	if err != nil {
		return "", fmt.Errorf("poll upload status: %w", err)
	}
	return state, nil
}
