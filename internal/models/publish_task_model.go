package models

import "time"

type PublishStatus string

const (
	PublishStatusPending    PublishStatus = "pending"
	PublishStatusPublishing PublishStatus = "publishing"
	PublishStatusPublished  PublishStatus = "published"
	PublishStatusFailed     PublishStatus = "failed"
)

func (s PublishStatus) rank() int {
	switch s {
	case PublishStatusPending:
		return 0
	case PublishStatusPublishing:
		return 1
	case PublishStatusPublished, PublishStatusFailed:
		return 2
	}
	return -1
}

func (s PublishStatus) Terminal() bool {
	return s.rank() == 2
}

// CanTransition reports whether moving from s to next goes strictly forward.
func (s PublishStatus) CanTransition(next PublishStatus) bool {
	return s.rank() >= 0 && next.rank() > s.rank()
}

// Predecessors lists the statuses that may move forward to s.
func (s PublishStatus) Predecessors() []string {
	var from []string
	for _, st := range []PublishStatus{PublishStatusPending, PublishStatusPublishing, PublishStatusPublished, PublishStatusFailed} {
		if st.CanTransition(s) {
			from = append(from, string(st))
		}
	}
	return from
}

type PublishType string

const (
	PublishTypeText  PublishType = "text"
	PublishTypeImage PublishType = "image"
	PublishTypeVideo PublishType = "video"
)

type PublishTask struct {
	ID           string        `db:"id" json:"id"`
	UserID       int64         `db:"user_id" json:"user_id"`
	AccountID    string        `db:"account_id" json:"account_id"`
	Platform     string        `db:"platform" json:"platform"`
	Type         PublishType   `db:"type" json:"type"`
	Title        string        `db:"title" json:"title,omitempty"`
	Text         string        `db:"text" json:"text"`
	ImageURLs    []string      `db:"image_urls" json:"image_urls,omitempty"`
	VideoURL     string        `db:"video_url" json:"video_url,omitempty"`
	PublishTime  time.Time     `db:"publish_time" json:"publish_time"`
	Status       PublishStatus `db:"status" json:"status"`
	QueueID      string        `db:"queue_id" json:"queue_id"`
	PostID       string        `db:"post_id" json:"post_id,omitempty"`
	Permalink    string        `db:"permalink" json:"permalink,omitempty"`
	ErrorMessage string        `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}

type MediaCategory string

const (
	MediaCategoryPhoto MediaCategory = "photo"
	MediaCategoryVideo MediaCategory = "video"
)

type ContainerStatus string

const (
	ContainerStatusPending    ContainerStatus = "pending"
	ContainerStatusInProgress ContainerStatus = "in_progress"
	ContainerStatusFinished   ContainerStatus = "finished"
	ContainerStatusFailed     ContainerStatus = "failed"
)

// PostMediaContainer tracks one uploaded asset of a PublishTask.
type PostMediaContainer struct {
	ID              int64           `db:"id" json:"id"`
	TaskID          string          `db:"task_id" json:"task_id"`
	PlatformMediaID string          `db:"platform_media_id" json:"platform_media_id"`
	Category        MediaCategory   `db:"category" json:"category"`
	Status          ContainerStatus `db:"status" json:"status"`
	DisplayOrder    int             `db:"display_order" json:"display_order"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}
