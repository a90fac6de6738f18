package service

import (
	"context"
	"sort"
	"sync"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/pkg/apperrors"
)

// Capabilities tags what a platform variant supports beyond text posts.
type Capabilities struct {
	// ChunkedUpload means media goes through the MediaUploader protocol.
	// Otherwise CreatePost receives the source URLs directly.
	ChunkedUpload bool
	DeletePost    bool
}

// PostDraft is the assembled content of one post.
type PostDraft struct {
	Title    string
	Text     string
	MediaIDs []string
	VideoURL string
}

type PostResult struct {
	PostID    string
	Permalink string
}

// Platform is one social network.
type Platform interface {
	Name() string
	Capabilities() Capabilities
	CreatePost(ctx context.Context, accountID string, draft PostDraft) (*PostResult, error)
	// Uploader is nil when Capabilities().ChunkedUpload is false.
	Uploader() MediaUploader
	DeletePost(ctx context.Context, accountID, postID string) error
	AccessTokenStatus(ctx context.Context, accountID string) (*models.TokenStatus, error)
}

type PlatformRegistry struct {
	mu        sync.RWMutex
	platforms map[string]Platform
}

func NewPlatformRegistry(platforms ...Platform) *PlatformRegistry {
	r := &PlatformRegistry{platforms: make(map[string]Platform, len(platforms))}
	for _, p := range platforms {
		r.Register(p)
	}
	return r
}

func (r *PlatformRegistry) Register(p Platform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platforms[p.Name()] = p
}

func (r *PlatformRegistry) Get(name string) (Platform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.platforms[name]
	if !ok {
		return nil, apperrors.Unsupported("unknown platform " + name)
	}
	return p, nil
}

func (r *PlatformRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.platforms))
	for name := range r.platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
