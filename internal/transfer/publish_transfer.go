package transfer

import "time"

type PublishRequest struct {
	AccountID   string    `json:"account_id" validate:"required"`
	Title       string    `json:"title" validate:"max=100"`
	Text        string    `json:"text" validate:"max=5000"`
	ImageURLs   []string  `json:"image_urls" validate:"omitempty,max=4,excluded_with=VideoURL,dive,http_url"`
	VideoURL    string    `json:"video_url" validate:"omitempty,http_url"`
	PublishTime time.Time `json:"publish_time"`
}

type PublishResult struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	PostID    string `json:"post_id,omitempty"`
	Permalink string `json:"permalink,omitempty"`
}

type DeletePostResult struct {
	Supported bool `json:"supported"`
	Deleted   bool `json:"deleted"`
}
