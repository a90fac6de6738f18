package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/pkg/apperrors"
)

const maxProviderBody = 1 << 20

// GenerationProvider reports the state of an externally running generation.
type GenerationProvider interface {
	QueryTask(ctx context.Context, taskID string) (*transfer.ProviderTask, error)
}

type httpGenerationProvider struct {
	baseURL string
	apiKey  string
	client  *providerClient
}

func NewGenerationProvider(baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger) GenerationProvider {
	return &httpGenerationProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  newProviderClient("generation", httpClient, logger).withRateLimit(20, 20),
	}
}

// QueryTask fetches GET {base}/tasks/{id}. A task the provider no longer
// knows (404, 410) comes back as UNKNOWN so it settles as failed. Any other
// failure to get an answer is TransientProvider; the caller leaves the task
// untouched.
func (p *httpGenerationProvider) QueryTask(ctx context.Context, taskID string) (*transfer.ProviderTask, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/tasks/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.do("query generation task", req)
	if err != nil {
		return nil, apperrors.TransientProvider("query generation task", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))
	if err != nil {
		return nil, apperrors.TransientProvider("read generation task", err)
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return lostTask(taskID, resp.StatusCode, body), nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.TransientProvider(fmt.Sprintf("query generation task: status %d", resp.StatusCode), nil).
			WithProvider(apperrors.ParseProviderError(resp.StatusCode, body))
	}

	var task transfer.ProviderTask
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, apperrors.TransientProvider("decode generation task", err)
	}
	task.Status = transfer.ProviderTaskStatus(strings.ToUpper(string(task.Status)))
	task.Raw = body
	if task.TaskID == "" {
		task.TaskID = taskID
	}
	return &task, nil
}

func lostTask(taskID string, status int, body []byte) *transfer.ProviderTask {
	reason := fmt.Sprintf("task not found at provider (status %d)", status)
	if pe := apperrors.ParseProviderError(status, body); pe.Detail != "" {
		reason += ": " + pe.Detail
	}
	task := &transfer.ProviderTask{TaskID: taskID, Status: transfer.ProviderStatusUnknown, FailReason: reason}
	if json.Valid(body) {
		task.Raw = body
	}
	return task
}
