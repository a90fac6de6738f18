package transfer

type AuthorizeURLRequest struct {
	Scopes  []string `query:"scopes"`
	SpaceID string   `query:"space_id"`
}

type AuthorizeURLResponse struct {
	URL    string `json:"url"`
	TaskID string `json:"taskId"`
}

type CallbackStatus string

const (
	CallbackOK                      CallbackStatus = "ok"
	CallbackTaskNotFound            CallbackStatus = "task_not_found"
	CallbackTokenExchangeFailed     CallbackStatus = "token_exchange_failed"
	CallbackProfileFetchFailed      CallbackStatus = "profile_fetch_failed"
	CallbackAccountCreationFailed   CallbackStatus = "account_creation_failed"
	CallbackCredentialPersistFailed CallbackStatus = "credential_persist_failed"
	CallbackTaskUpdateFailed        CallbackStatus = "task_update_failed"
)

// CallbackResult is returned instead of an error so the handler can forward
// the status to the browser.
type CallbackResult struct {
	Status    CallbackStatus `json:"status"`
	Message   string         `json:"message"`
	AccountID string         `json:"account_id,omitempty"`
}

func (r *CallbackResult) OK() bool {
	return r.Status == CallbackOK
}

// AuthTaskView is what a polling client sees of an authorization task.
type AuthTaskView struct {
	TaskID    string `json:"taskId"`
	Platform  string `json:"platform"`
	Status    int    `json:"status"`
	AccountID string `json:"accountId,omitempty"`
}
