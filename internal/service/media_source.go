package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"github.com/maheshrc27/postflow/pkg/apperrors"
)

// maxInlineMedia caps sources that are read fully into memory (images,
// failure-reason media).
const maxInlineMedia = 64 << 20

// defaultStreamHeaderTimeout applies when no streaming client is supplied.
const defaultStreamHeaderTimeout = 60 * time.Second

// MediaFetcher resolves remote media sources for upload and re-hosting.
// Bounded reads go through client; Open streams through stream, which has
// no whole-request timeout.
type MediaFetcher struct {
	client *providerClient
	stream *providerClient
}

func NewMediaFetcher(httpClient, streamClient *http.Client, logger *slog.Logger) *MediaFetcher {
	if streamClient == nil {
		streamClient = NewStreamingClient(defaultStreamHeaderTimeout)
	}
	return &MediaFetcher{
		client: newProviderClient("media-source", httpClient, logger),
		stream: newProviderClient("media-stream", streamClient, logger),
	}
}

// MediaBlob is a fully downloaded source.
type MediaBlob struct {
	Data      []byte
	MimeType  string
	Extension string
}

// Fetch downloads the whole source and sniffs its type from the bytes,
// falling back to Content-Type and then the URL extension.
func (f *MediaFetcher) Fetch(ctx context.Context, src string) (*MediaBlob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, apperrors.NonRetryable("invalid media url", err)
	}

	resp, err := f.client.do("fetch media", req)
	if err != nil {
		return nil, classifyProviderError("fetch media", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NonRetryable(fmt.Sprintf("fetch media: status %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxInlineMedia+1))
	if err != nil {
		return nil, apperrors.TransientProvider("read media", err)
	}
	if len(data) > maxInlineMedia {
		return nil, apperrors.NonRetryable("media exceeds inline size limit", nil)
	}
	if len(data) == 0 {
		return nil, apperrors.NonRetryable("media source is empty", nil)
	}

	blob := &MediaBlob{Data: data}
	if kind, err := filetype.Match(data); err == nil && kind != types.Unknown {
		blob.MimeType, blob.Extension = kind.MIME.Value, kind.Extension
	} else {
		blob.MimeType = detectMime(resp.Header.Get("Content-Type"), src)
		blob.Extension = extensionOf(src)
	}
	return blob, nil
}

// Size reports the total byte length and mime type of src without
// downloading it.
func (f *MediaFetcher) Size(ctx context.Context, src string) (int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, src, nil)
	if err != nil {
		return 0, "", apperrors.NonRetryable("invalid media url", err)
	}

	resp, err := f.client.do("head media", req)
	if err != nil {
		return 0, "", classifyProviderError("head media", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, "", apperrors.NonRetryable(fmt.Sprintf("head media: status %d", resp.StatusCode), nil)
	}

	size, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if err != nil || size <= 0 {
		return 0, "", apperrors.NonRetryable("media source has no content length", err)
	}
	return size, detectMime(resp.Header.Get("Content-Type"), src), nil
}

// Range downloads bytes [start, end] of src, both inclusive.
func (f *MediaFetcher) Range(ctx context.Context, src string, start, end int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, apperrors.NonRetryable("invalid media url", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := f.client.do("fetch media range", req)
	if err != nil {
		return nil, classifyProviderError("fetch media range", err)
	}
	defer resp.Body.Close()

	want := end - start + 1
	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		// Server ignored Range; skip to the requested window.
		if _, err := io.CopyN(io.Discard, resp.Body, start); err != nil {
			return nil, apperrors.TransientProvider("seek media range", err)
		}
	default:
		return nil, apperrors.NonRetryable(fmt.Sprintf("fetch media range: status %d", resp.StatusCode), nil)
	}

	buf := make([]byte, want)
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		return nil, apperrors.TransientProvider("read media range", err)
	}
	return buf, nil
}

// Open streams the whole source. Only ctx limits how long the body may take.
// The caller closes the reader.
func (f *MediaFetcher) Open(ctx context.Context, src string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, apperrors.NonRetryable("invalid media url", err)
	}

	resp, err := f.stream.do("open media", req)
	if err != nil {
		return nil, classifyProviderError("open media", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, apperrors.NonRetryable(fmt.Sprintf("open media: status %d", resp.StatusCode), nil)
	}
	return resp.Body, nil
}

// RangeFetcher returns a fetch function bound to src.
func (f *MediaFetcher) RangeFetcher(src string) RangeFetcher {
	return func(ctx context.Context, start, end int64) ([]byte, error) {
		return f.Range(ctx, src, start, end)
	}
}

func detectMime(contentType, src string) string {
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	if ext := extensionOf(src); ext != "" {
		if mt := mime.TypeByExtension("." + ext); mt != "" {
			mt, _, _ = strings.Cut(mt, ";")
			return mt
		}
	}
	return "application/octet-stream"
}

func extensionOf(src string) string {
	p := src
	if u, err := url.Parse(src); err == nil {
		p = u.Path
	}
	return strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
}

// IsRemoteURL reports whether s is an absolute http(s) URL.
func IsRemoteURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
