package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerationProvider_QueryTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tasks/gen-1", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"status":"success","result_url":"https://cdn.example.com/a.png"}`)
	}))
	defer srv.Close()

	p := NewGenerationProvider(srv.URL+"/v1/", "key", srv.Client(), discardLogger())
	task, err := p.QueryTask(context.Background(), "gen-1")
	require.NoError(t, err)
	assert.Equal(t, transfer.ProviderStatusSuccess, task.Status)
	assert.Equal(t, "gen-1", task.TaskID)
	assert.Equal(t, "https://cdn.example.com/a.png", task.ResultURL)
	assert.JSONEq(t, `{"status":"success","result_url":"https://cdn.example.com/a.png"}`, string(task.Raw))
}

func TestGenerationProvider_FailuresAreTransient(t *testing.T) {
	for _, tc := range []struct {
		status int
		body   string
	}{
		{http.StatusTooManyRequests, `{"message":"slow down"}`},
		{http.StatusBadGateway, `upstream error`},
		{http.StatusOK, `not json`},
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = io.WriteString(w, tc.body)
		}))

		p := NewGenerationProvider(srv.URL, "", srv.Client(), discardLogger())
		_, err := p.QueryTask(context.Background(), "gen-1")
		assert.True(t, apperrors.IsKind(err, apperrors.ErrTransientProvider), "status %d: %v", tc.status, err)
		srv.Close()
	}
}

func TestGenerationProvider_LostTaskIsUnknown(t *testing.T) {
	for _, tc := range []struct {
		status int
		body   string
		reason string
		raw    bool
	}{
		{http.StatusNotFound, `{"message":"no such task"}`, "task not found at provider (status 404): no such task", true},
		{http.StatusGone, `expired`, "task not found at provider (status 410)", false},
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = io.WriteString(w, tc.body)
		}))

		p := NewGenerationProvider(srv.URL, "", srv.Client(), discardLogger())
		task, err := p.QueryTask(context.Background(), "gen-1")
		require.NoError(t, err)
		assert.Equal(t, transfer.ProviderStatusUnknown, task.Status)
		assert.Equal(t, "gen-1", task.TaskID)
		assert.Equal(t, tc.reason, task.FailReason)
		assert.Equal(t, tc.raw, task.Raw != nil)
		srv.Close()
	}
}

func TestGenerationProvider_LostTaskSettlesFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newGenerationFixture(t, nil, generating("g1", "ext-1", false))
	f.svc.provider = NewGenerationProvider(srv.URL, "", srv.Client(), discardLogger())

	settled, err := f.svc.Reconcile(context.Background(), generating("g1", "ext-1", false))
	require.NoError(t, err)
	assert.True(t, settled)

	task, _ := f.tasks.GetByID(context.Background(), "g1")
	assert.Equal(t, models.GenerationStatusFailed, task.Status)
	assert.Contains(t, task.FailReason, "task not found at provider")
}
