package job

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/pkg/utils"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubGeneration struct {
	service.GenerationService
	tasks   []*models.GenerationTask
	listErr error
	// results maps task id to the outcome of Reconcile.
	results map[string]error
	seen    []string
	settled map[string]bool
	pages   int
}

// ListGenerating pages through tasks in slice order, resuming after the
// cursor's id. Settled tasks drop out like they do in Postgres.
func (g *stubGeneration) ListGenerating(_ context.Context, after models.GenerationCursor, limit int) ([]*models.GenerationTask, error) {
	if g.listErr != nil {
		return nil, g.listErr
	}
	g.pages++
	start := 0
	if after.ID != "" {
		for i, t := range g.tasks {
			if t.ID == after.ID {
				start = i + 1
			}
		}
	}
	var out []*models.GenerationTask
	for _, t := range g.tasks[start:] {
		if g.settled[t.ID] {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

func (g *stubGeneration) Reconcile(_ context.Context, task *models.GenerationTask) (bool, error) {
	g.seen = append(g.seen, task.ID)
	if err := g.results[task.ID]; err != nil {
		return false, err
	}
	if task.ID == "pending" {
		return false, nil
	}
	if g.settled == nil {
		g.settled = map[string]bool{}
	}
	g.settled[task.ID] = true
	return true, nil
}

func TestReconcileJob_SweepIsolatesFailures(t *testing.T) {
	gen := &stubGeneration{
		tasks: []*models.GenerationTask{
			{ID: "a", TaskID: "p-a"},
			{ID: "b", TaskID: "p-b"},
			{ID: "pending", TaskID: "p-c"},
			{ID: "d", TaskID: "p-d"},
		},
		results: map[string]error{"b": errors.New("provider unreachable")},
	}

	res := NewReconcileJob(gen, 0, quietLogger()).Sweep(context.Background())

	assert.Equal(t, []string{"a", "b", "pending", "d"}, gen.seen)
	assert.Equal(t, SweepResult{Checked: 4, Settled: 2, Failed: 1}, res)
}

func TestReconcileJob_ListFailure(t *testing.T) {
	gen := &stubGeneration{listErr: errors.New("db down")}

	res := NewReconcileJob(gen, 10, quietLogger()).Sweep(context.Background())
	assert.Zero(t, res)
	assert.Empty(t, gen.seen)
}

func TestReconcileJob_SweepPagesPastUnsettledTasks(t *testing.T) {
	gen := &stubGeneration{
		tasks: []*models.GenerationTask{
			{ID: "pending", TaskID: "p-a", StartedAt: time.Unix(100, 0)},
			{ID: "b", TaskID: "p-b", StartedAt: time.Unix(200, 0)},
		},
	}

	res := NewReconcileJob(gen, 1, quietLogger()).Sweep(context.Background())
	assert.Equal(t, []string{"pending", "b"}, gen.seen)
	assert.Equal(t, SweepResult{Checked: 2, Settled: 1}, res)
	assert.True(t, gen.settled["b"])
	assert.Equal(t, 3, gen.pages)
}

func TestReconcileJob_StopsOnCancel(t *testing.T) {
	gen := &stubGeneration{tasks: []*models.GenerationTask{{ID: "a"}, {ID: "b"}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := NewReconcileJob(gen, 10, quietLogger()).Sweep(ctx)
	assert.Zero(t, res.Checked)
}

// credential store with a Postgres stand-in and a real Redis cache

type mapCredentials struct {
	mu    sync.Mutex
	creds map[string]models.OAuthCredential
}

func (m *mapCredentials) Get(_ context.Context, accountID, platform string) (*models.OAuthCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[platform+":"+accountID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *mapCredentials) Upsert(_ context.Context, _ *sql.Tx, c *models.OAuthCredential) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := *c
	next.Version = m.creds[c.Platform+":"+c.AccountID].Version + 1
	m.creds[c.Platform+":"+c.AccountID] = next
	return next.Version, nil
}

func (m *mapCredentials) CompareAndSwap(_ context.Context, c *models.OAuthCredential, expected int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := c.Platform + ":" + c.AccountID
	if m.creds[k].Version != expected {
		return 0, false, nil
	}
	next := *c
	next.Version = expected + 1
	m.creds[k] = next
	return next.Version, true, nil
}

func (m *mapCredentials) Delete(_ context.Context, accountID, platform string) error {
	m.mu.Lock()
	delete(m.creds, platform+":"+accountID)
	m.mu.Unlock()
	return nil
}

func (m *mapCredentials) ListExpiring(_ context.Context, platform string, before time.Time) ([]*models.OAuthCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.OAuthCredential
	for _, c := range m.creds {
		if c.Platform == platform && c.ExpiresAt.Before(before) {
			c := c
			out = append(out, &c)
		}
	}
	return out, nil
}

type refreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

func (f refreshFunc) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return f(ctx, refreshToken)
}

func TestTokenRefreshJob_RefreshesExpiringOnly(t *testing.T) {
	now := time.Now()
	store := &mapCredentials{creds: map[string]models.OAuthCredential{
		"twitter:soon":  {AccountID: "soon", Platform: service.PlatformTwitter, AccessToken: "a", RefreshToken: "r-soon", ExpiresAt: now.Add(10 * time.Minute), Version: 1},
		"twitter:later": {AccountID: "later", Platform: service.PlatformTwitter, AccessToken: "b", RefreshToken: "r-later", ExpiresAt: now.Add(3 * time.Hour), Version: 1},
		"twitter:dead":  {AccountID: "dead", Platform: service.PlatformTwitter, AccessToken: "c", RefreshToken: "r-dead", ExpiresAt: now.Add(time.Minute), Version: 1},
	}}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	cipher, err := utils.NewTokenCipher("test-secret")
	require.NoError(t, err)

	var calls atomic.Int32
	refresher := refreshFunc(func(_ context.Context, rt string) (*oauth2.Token, error) {
		calls.Add(1)
		if rt == "r-dead" {
			return nil, &oauth2.RetrieveError{ErrorCode: "invalid_grant"}
		}
		tok := &oauth2.Token{AccessToken: "fresh-" + rt, RefreshToken: rt}
		return tok.WithExtra(map[string]any{"expires_in": float64(7200)}), nil
	})

	creds := service.NewCredentialService(service.PlatformTwitter, store, repository.NewCredentialCache(rdb, cipher),
		refresher, quietLogger(), service.CredentialOptions{})

	NewTokenRefreshJob(quietLogger(), creds).Run(context.Background())

	assert.Equal(t, int32(2), calls.Load())
	soon, _ := store.Get(context.Background(), "soon", service.PlatformTwitter)
	later, _ := store.Get(context.Background(), "later", service.PlatformTwitter)
	dead, _ := store.Get(context.Background(), "dead", service.PlatformTwitter)
	assert.Equal(t, "fresh-r-soon", soon.AccessToken)
	assert.Equal(t, int64(2), soon.Version)
	assert.Equal(t, "b", later.AccessToken)
	assert.Equal(t, "c", dead.AccessToken)
}

type countingJob struct {
	runs atomic.Int32
	stop chan struct{}
}

func (j *countingJob) Run(ctx context.Context) {
	j.runs.Add(1)
	select {
	case <-ctx.Done():
	case <-j.stop:
	}
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	s := NewScheduler(quietLogger())
	job := &countingJob{stop: make(chan struct{})}
	require.NoError(t, s.Add("slow", "@every 1s", job))
	s.Start()

	time.Sleep(2500 * time.Millisecond)
	assert.Equal(t, int32(1), job.runs.Load())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.NoError(t, ctx.Err())
}

func TestScheduler_RejectsBadSpec(t *testing.T) {
	s := NewScheduler(quietLogger())
	assert.Error(t, s.Add("broken", "every tuesday-ish", &countingJob{}))
}
