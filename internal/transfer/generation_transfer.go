package transfer

import (
	"encoding/json"
	"time"
)

type ProviderTaskStatus string

const (
	ProviderStatusSubmitted  ProviderTaskStatus = "SUBMITTED"
	ProviderStatusInProgress ProviderTaskStatus = "IN_PROGRESS"
	ProviderStatusSuccess    ProviderTaskStatus = "SUCCESS"
	ProviderStatusFailure    ProviderTaskStatus = "FAILURE"
	ProviderStatusUnknown    ProviderTaskStatus = "UNKNOWN"
)

// ProviderTask is the generation provider's view of an external task.
type ProviderTask struct {
	TaskID     string             `json:"task_id"`
	Status     ProviderTaskStatus `json:"status"`
	FailReason string             `json:"fail_reason"`
	ResultURL  string             `json:"result_url"`
	FinishedAt *time.Time         `json:"finished_at"`
	Raw        json.RawMessage    `json:"-"`
}

type RegisterGenerationRequest struct {
	TaskID   string          `json:"task_id" validate:"required"`
	Model    string          `json:"model" validate:"required"`
	Points   int64           `json:"points" validate:"gte=0"`
	Prepaid  bool            `json:"prepaid"`
	UserType string          `json:"user_type"`
	Request  json.RawMessage `json:"request"`
}
