package service

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/pkg/apperrors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// credentials

type memCredentialRepo struct {
	mu    sync.Mutex
	creds map[string]models.OAuthCredential
	// beforeCAS runs inside CompareAndSwap before the version check.
	beforeCAS func(r *memCredentialRepo)
	casCalls  int
}

func newMemCredentialRepo() *memCredentialRepo {
	return &memCredentialRepo{creds: map[string]models.OAuthCredential{}}
}

func credKey(accountID, platform string) string { return platform + ":" + accountID }

func (r *memCredentialRepo) Get(_ context.Context, accountID, platform string) (*models.OAuthCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.creds[credKey(accountID, platform)]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *memCredentialRepo) put(c models.OAuthCredential) {
	r.mu.Lock()
	r.creds[credKey(c.AccountID, c.Platform)] = c
	r.mu.Unlock()
}

func (r *memCredentialRepo) Upsert(_ context.Context, _ *sql.Tx, c *models.OAuthCredential) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := credKey(c.AccountID, c.Platform)
	next := *c
	next.Version = r.creds[k].Version + 1
	r.creds[k] = next
	return next.Version, nil
}

func (r *memCredentialRepo) CompareAndSwap(_ context.Context, c *models.OAuthCredential, expected int64) (int64, bool, error) {
	if r.beforeCAS != nil {
		r.beforeCAS(r)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.casCalls++
	k := credKey(c.AccountID, c.Platform)
	cur, ok := r.creds[k]
	if !ok || cur.Version != expected {
		return 0, false, nil
	}
	next := *c
	next.Version = expected + 1
	r.creds[k] = next
	return next.Version, true, nil
}

func (r *memCredentialRepo) Delete(_ context.Context, accountID, platform string) error {
	r.mu.Lock()
	delete(r.creds, credKey(accountID, platform))
	r.mu.Unlock()
	return nil
}

func (r *memCredentialRepo) ListExpiring(_ context.Context, platform string, before time.Time) ([]*models.OAuthCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.OAuthCredential
	for _, c := range r.creds {
		if c.Platform == platform && c.ExpiresAt.Before(before) {
			c := c
			out = append(out, &c)
		}
	}
	return out, nil
}

type memCredentialCache struct {
	mu      sync.Mutex
	creds   map[string]models.OAuthCredential
	setErr  error
	deletes int
}

func newMemCredentialCache() *memCredentialCache {
	return &memCredentialCache{creds: map[string]models.OAuthCredential{}}
}

func (c *memCredentialCache) Get(_ context.Context, accountID, platform string) (*models.OAuthCredential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cred, ok := c.creds[credKey(accountID, platform)]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

func (c *memCredentialCache) Set(_ context.Context, cred *models.OAuthCredential, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.creds[credKey(cred.AccountID, cred.Platform)] = *cred
	return nil
}

func (c *memCredentialCache) Delete(_ context.Context, accountID, platform string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	delete(c.creds, credKey(accountID, platform))
	return nil
}

// accounts

type memAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*models.SocialAccount
}

func newMemAccountRepo(accounts ...*models.SocialAccount) *memAccountRepo {
	r := &memAccountRepo{accounts: map[string]*models.SocialAccount{}}
	for _, a := range accounts {
		r.accounts[a.ID] = a
	}
	return r
}

func (r *memAccountRepo) CreateOrMatch(_ context.Context, sa *models.SocialAccount) (*models.SocialAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.UserID == sa.UserID && a.Platform == sa.Platform && a.PlatformUserID == sa.PlatformUserID {
			a.AccountName, a.AccountUsername = sa.AccountName, sa.AccountUsername
			return a, nil
		}
	}
	r.accounts[sa.ID] = sa
	return sa, nil
}

func (r *memAccountRepo) GetByID(_ context.Context, id string) (*models.SocialAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accounts[id], nil
}

func (r *memAccountRepo) CheckByUserID(_ context.Context, accountID string, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	return ok && a.UserID == userID, nil
}

// publishing

type memPublishTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]*models.PublishTask
}

func newMemPublishTaskRepo(tasks ...*models.PublishTask) *memPublishTaskRepo {
	r := &memPublishTaskRepo{tasks: map[string]*models.PublishTask{}}
	for _, t := range tasks {
		r.tasks[t.ID] = t
	}
	return r
}

func (r *memPublishTaskRepo) Create(_ context.Context, _ *sql.Tx, t *models.PublishTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tasks[t.ID] = &cp
	return nil
}

func (r *memPublishTaskRepo) GetByID(_ context.Context, id string) (*models.PublishTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *memPublishTaskRepo) Transition(_ context.Context, id string, to models.PublishStatus, upd repository.TaskUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || !t.Status.CanTransition(to) {
		return false, nil
	}
	t.Status = to
	if upd.PostID != "" {
		t.PostID = upd.PostID
	}
	if upd.Permalink != "" {
		t.Permalink = upd.Permalink
	}
	if upd.ErrorMessage != "" {
		t.ErrorMessage = upd.ErrorMessage
	}
	return true, nil
}

func (r *memPublishTaskRepo) status(id string) models.PublishStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[id].Status
}

type memContainerRepo struct {
	mu         sync.Mutex
	nextID     int64
	containers []*models.PostMediaContainer
	// createErr is returned by Create call number failCreate (1-based).
	failCreate int
	creates    int
	createErr  error
}

func (r *memContainerRepo) Create(_ context.Context, _ *sql.Tx, pm *models.PostMediaContainer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if r.creates == r.failCreate {
		return r.createErr
	}
	r.nextID++
	pm.ID = r.nextID
	cp := *pm
	r.containers = append(r.containers, &cp)
	return nil
}

func (r *memContainerRepo) ListByTaskID(_ context.Context, taskID string) ([]*models.PostMediaContainer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PostMediaContainer
	for _, c := range r.containers {
		if c.TaskID == taskID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memContainerRepo) UpdateStatus(_ context.Context, id int64, status models.ContainerStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.containers {
		if c.ID == id {
			c.Status = status
		}
	}
	return nil
}

type queuedPublish struct {
	taskID string
	at     time.Time
}

type fakeQueue struct {
	mu        sync.Mutex
	publishes []queuedPublish
	finalizes []string
	err       error
}

func (q *fakeQueue) EnqueuePublish(_ context.Context, task *models.PublishTask, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.publishes = append(q.publishes, queuedPublish{taskID: task.ID, at: at})
	return nil
}

func (q *fakeQueue) EnqueueFinalize(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.finalizes = append(q.finalizes, taskID)
	return nil
}

// fakePlatform records every call and serves upload states from a map.
type fakePlatform struct {
	mu      sync.Mutex
	name    string
	caps    Capabilities
	states  map[string]MediaState
	nextID  int
	appends []appendCall
	drafts  []PostDraft
	calls   int
	postErr error
}

type appendCall struct {
	mediaID string
	index   int
	size    int
}

func newFakePlatform(name string, chunked bool) *fakePlatform {
	return &fakePlatform{name: name, caps: Capabilities{ChunkedUpload: chunked, DeletePost: true}, states: map[string]MediaState{}}
}

func (p *fakePlatform) Name() string               { return p.name }
func (p *fakePlatform) Capabilities() Capabilities { return p.caps }

func (p *fakePlatform) Uploader() MediaUploader {
	if !p.caps.ChunkedUpload {
		return nil
	}
	return p
}

func (p *fakePlatform) CreatePost(_ context.Context, _ string, draft PostDraft) (*PostResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.postErr != nil {
		return nil, p.postErr
	}
	p.drafts = append(p.drafts, draft)
	return &PostResult{PostID: "post-1", Permalink: "https://example.com/post-1"}, nil
}

func (p *fakePlatform) DeletePost(context.Context, string, string) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return nil
}

func (p *fakePlatform) AccessTokenStatus(_ context.Context, accountID string) (*models.TokenStatus, error) {
	return &models.TokenStatus{AccountID: accountID, Platform: p.name, Valid: true}, nil
}

func (p *fakePlatform) InitUpload(context.Context, string, InitMediaRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.nextID++
	id := "m" + string(rune('0'+p.nextID))
	if _, ok := p.states[id]; !ok {
		p.states[id] = MediaStateSucceeded
	}
	return id, nil
}

func (p *fakePlatform) AppendSegment(_ context.Context, _, mediaID string, index int, chunk []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.appends = append(p.appends, appendCall{mediaID: mediaID, index: index, size: len(chunk)})
	return nil
}

func (p *fakePlatform) FinalizeUpload(_ context.Context, _, mediaID string) (MediaState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.states[mediaID], nil
}

func (p *fakePlatform) UploadStatus(_ context.Context, _, mediaID string) (MediaState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.states[mediaID], nil
}

func (p *fakePlatform) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeMedia struct {
	blobs map[string]*MediaBlob
}

func (m *fakeMedia) Fetch(_ context.Context, src string) (*MediaBlob, error) {
	b, ok := m.blobs[src]
	if !ok {
		return nil, apperrors.NonRetryable("no such media "+src, nil)
	}
	return b, nil
}

func (m *fakeMedia) Size(_ context.Context, src string) (int64, string, error) {
	b, ok := m.blobs[src]
	if !ok {
		return 0, "", apperrors.NonRetryable("no such media "+src, nil)
	}
	return int64(len(b.Data)), b.MimeType, nil
}

func (m *fakeMedia) RangeFetcher(src string) RangeFetcher {
	return func(_ context.Context, start, end int64) ([]byte, error) {
		return m.blobs[src].Data[start : end+1], nil
	}
}

// generation

type fakeProvider struct {
	mu    sync.Mutex
	tasks map[string]*transfer.ProviderTask
	calls int
}

func (p *fakeProvider) QueryTask(_ context.Context, taskID string) (*transfer.ProviderTask, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	t, ok := p.tasks[taskID]
	if !ok {
		return nil, apperrors.TransientProvider("query task", nil)
	}
	return t, nil
}

type fakeStorage struct {
	err  error
	puts []string
}

func (s *fakeStorage) PutObject(context.Context, string, []byte, string) error { return s.err }

func (s *fakeStorage) PutObjectFromURL(_ context.Context, prefix, src string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.puts = append(s.puts, src)
	return prefix + "/object.png", nil
}

// memGenerationRepo applies Finish under a lock, the same
// check-then-settle-then-update that the SQL implementation does in one
// transaction.
type memGenerationRepo struct {
	mu    sync.Mutex
	tasks map[string]*models.GenerationTask
}

func newMemGenerationRepo(tasks ...*models.GenerationTask) *memGenerationRepo {
	r := &memGenerationRepo{tasks: map[string]*models.GenerationTask{}}
	for _, t := range tasks {
		r.tasks[t.ID] = t
	}
	return r
}

func (r *memGenerationRepo) Create(_ context.Context, _ *sql.Tx, t *models.GenerationTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tasks[t.ID] = &cp
	return nil
}

func (r *memGenerationRepo) GetByID(_ context.Context, id string) (*models.GenerationTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *memGenerationRepo) GetByTaskID(_ context.Context, taskID string) (*models.GenerationTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if t.TaskID == taskID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memGenerationRepo) ListGenerating(_ context.Context, after models.GenerationCursor, limit int) ([]*models.GenerationTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.GenerationTask
	for _, t := range r.tasks {
		if t.Status != models.GenerationStatusGenerating || !cursorBefore(after, t) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return cursorBefore(models.GenerationCursor{}.After(out[i]), out[j])
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cursorBefore(c models.GenerationCursor, t *models.GenerationTask) bool {
	if !c.StartedAt.Equal(t.StartedAt) {
		return c.StartedAt.Before(t.StartedAt)
	}
	return c.ID < t.ID
}

func (r *memGenerationRepo) Finish(ctx context.Context, id string, out models.GenerationOutcome, settle repository.SettleFunc) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status != models.GenerationStatusGenerating {
		return false, nil
	}
	if settle != nil {
		if err := settle(ctx, nil, t); err != nil {
			return false, err
		}
	}
	t.Status = out.Status
	t.FailReason = out.FailReason
	t.ResultKey = out.ResultKey
	t.Response = out.Response
	t.Duration = out.Duration
	return true, nil
}

type ledgerEntry struct {
	repository.PointsEntry
	credit bool
}

type memPoints struct {
	mu      sync.Mutex
	balance map[int64]int64
	entries []ledgerEntry
	seen    map[string]bool
}

func newMemPoints(balances map[int64]int64) *memPoints {
	return &memPoints{balance: balances, seen: map[string]bool{}}
}

func (p *memPoints) Balance(_ context.Context, userID int64) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance[userID], nil
}

func (p *memPoints) apply(e repository.PointsEntry, sign int64, credit bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := e.RefID + "|" + e.Reason
	if p.seen[k] {
		return false
	}
	p.seen[k] = true
	p.balance[e.UserID] += sign * e.Amount
	p.entries = append(p.entries, ledgerEntry{PointsEntry: e, credit: credit})
	return true
}

func (p *memPoints) Deduct(_ context.Context, _ *sql.Tx, e repository.PointsEntry) (bool, error) {
	return p.apply(e, -1, false), nil
}

func (p *memPoints) Credit(_ context.Context, _ *sql.Tx, e repository.PointsEntry) (bool, error) {
	return p.apply(e, 1, true), nil
}

func (p *memPoints) entriesFor(refID string) []ledgerEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []ledgerEntry
	for _, e := range p.entries {
		if e.RefID == refID {
			out = append(out, e)
		}
	}
	return out
}
