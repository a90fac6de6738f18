package models

const (
	AuthTaskStatusPending   = 0
	AuthTaskStatusCompleted = 1
)

type AuthTask struct {
	State        string `json:"state"`
	TaskID       string `json:"task_id"`
	UserID       int64  `json:"user_id"`
	Platform     string `json:"platform"`
	CodeVerifier string `json:"code_verifier"`
	SpaceID      string `json:"space_id,omitempty"`
	Status       int    `json:"status"`
	AccountID    string `json:"account_id,omitempty"`
	Extended     bool   `json:"extended"`
}

func (t *AuthTask) Completed() bool {
	return t.Status == AuthTaskStatusCompleted
}
