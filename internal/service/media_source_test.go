package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/maheshrc27/postflow/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mediaBody = "0123456789abcdefghij"

func newTestFetcher(t *testing.T, h http.HandlerFunc) (*MediaFetcher, string) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewMediaFetcher(srv.Client(), nil, discardLogger()), srv.URL
}

func TestMediaFetcher_FetchSniffsType(t *testing.T) {
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	f, base := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(png)
	})

	blob, err := f.Fetch(context.Background(), base+"/upload/no-extension")
	require.NoError(t, err)
	assert.Equal(t, "image/png", blob.MimeType)
	assert.Equal(t, "png", blob.Extension)
	assert.Len(t, blob.Data, len(png))
}

func TestMediaFetcher_FetchFallsBackToHeaders(t *testing.T) {
	f, base := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "not a known magic number")
	})

	blob, err := f.Fetch(context.Background(), base+"/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", blob.MimeType)
	assert.Equal(t, "txt", blob.Extension)
}

func TestMediaFetcher_FetchErrors(t *testing.T) {
	tests := []struct {
		name string
		h    http.HandlerFunc
		kind error
	}{
		{"missing", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) }, apperrors.ErrNonRetryable},
		{"empty", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }, apperrors.ErrNonRetryable},
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }, apperrors.ErrTransientProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, base := newTestFetcher(t, tt.h)
			_, err := f.Fetch(context.Background(), base+"/a.jpg")
			require.Error(t, err)
			assert.True(t, apperrors.IsKind(err, tt.kind), err)
		})
	}
}

func TestMediaFetcher_Size(t *testing.T) {
	f, base := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", "52428800")
		w.WriteHeader(http.StatusOK)
	})

	size, mimeType, err := f.Size(context.Background(), base+"/clip")
	require.NoError(t, err)
	assert.Equal(t, int64(50<<20), size)
	assert.Equal(t, "video/mp4", mimeType)
}

func TestMediaFetcher_SizeWithoutLength(t *testing.T) {
	f, base := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
	})

	_, _, err := f.Size(context.Background(), base+"/clip.mp4")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.ErrNonRetryable))
}

func TestMediaFetcher_RangePartialContent(t *testing.T) {
	f, base := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		var start, end int
		if _, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(mediaBody)))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = io.WriteString(w, mediaBody[start:end+1])
	})

	got, err := f.Range(context.Background(), base+"/clip.mp4", 5, 9)
	require.NoError(t, err)
	assert.Equal(t, "56789", string(got))

	got, err = f.RangeFetcher(base+"/clip.mp4")(context.Background(), 10, 19)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij", string(got))
}

func TestMediaFetcher_RangeIgnoredByServer(t *testing.T) {
	f, base := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, mediaBody)
	})

	got, err := f.Range(context.Background(), base+"/clip.mp4", 12, 15)
	require.NoError(t, err)
	assert.Equal(t, "cdef", string(got))
}

func TestMediaFetcher_RangeShortRead(t *testing.T) {
	f, base := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
		_, _ = io.WriteString(w, "012")
	})

	_, err := f.Range(context.Background(), base+"/clip.mp4", 0, 9)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.ErrTransientProvider), err)
}

func TestMediaFetcher_RangeBeyondSourceWhenIgnored(t *testing.T) {
	f, base := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, mediaBody)
	})

	_, err := f.Range(context.Background(), base+"/clip.mp4", 30, 39)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.ErrTransientProvider), err)
}

func TestMediaFetcher_RangeRejected(t *testing.T) {
	f, base := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	})

	_, err := f.Range(context.Background(), base+"/clip.mp4", 0, 9)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.ErrNonRetryable), err)
}

// slowBody sends headers at once and then trickles the body out for longer
// than apiTimeout.
func slowBody(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "video/mp4")
	w.WriteHeader(http.StatusOK)
	for i := 0; i < 4; i++ {
		_, _ = io.WriteString(w, mediaBody[i*5:(i+1)*5])
		w.(http.Flusher).Flush()
		time.Sleep(40 * time.Millisecond)
	}
}

func TestMediaFetcher_OpenOutlastsRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(slowBody))
	t.Cleanup(srv.Close)

	apiTimeout := 50 * time.Millisecond
	f := NewMediaFetcher(&http.Client{Timeout: apiTimeout}, NewStreamingClient(time.Second), discardLogger())

	body, err := f.Open(context.Background(), srv.URL+"/clip.mp4")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, mediaBody, string(data))

	// the bounded client gives up on the same body
	_, err = f.Fetch(context.Background(), srv.URL+"/clip.mp4")
	require.Error(t, err)
}

func TestMediaFetcher_OpenHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(slowBody))
	t.Cleanup(srv.Close)

	f := NewMediaFetcher(nil, NewStreamingClient(time.Second), discardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	body, err := f.Open(ctx, srv.URL+"/clip.mp4")
	require.NoError(t, err)
	defer body.Close()
	_, err = io.ReadAll(body)
	require.Error(t, err)
}

func TestStreamingClient_HasNoRequestTimeout(t *testing.T) {
	c := NewStreamingClient(15 * time.Second)
	assert.Zero(t, c.Timeout)
	transport, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 15*time.Second, transport.ResponseHeaderTimeout)
	assert.NotZero(t, transport.IdleConnTimeout)
}
