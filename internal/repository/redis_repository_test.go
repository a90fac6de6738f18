package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/maheshrc27/postflow/internal/models"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// --- CredentialCache ---

func TestCredentialCache_SetGet(t *testing.T) {
	mr, client := setupMiniredis(t)
	cache := NewCredentialCache(client, newTestCipher(t))
	ctx := context.Background()

	cred := &models.OAuthCredential{
		AccountID:    "acc-1",
		Platform:     "twitter",
		AccessToken:  "plain-access",
		RefreshToken: "plain-refresh",
		ExpiresAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Version:      2,
	}
	require.NoError(t, cache.Set(ctx, cred, time.Hour))

	raw, err := mr.Get("credential:twitter:acc-1")
	require.NoError(t, err)
	assert.NotContains(t, raw, "plain-access")
	assert.Equal(t, time.Hour, mr.TTL("credential:twitter:acc-1"))

	got, err := cache.Get(ctx, "acc-1", "twitter")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "plain-access", got.AccessToken)
	assert.Equal(t, "plain-refresh", got.RefreshToken)
	assert.Equal(t, int64(2), got.Version)
	assert.True(t, cred.ExpiresAt.Equal(got.ExpiresAt))
}

func TestCredentialCache_MissAndDelete(t *testing.T) {
	_, client := setupMiniredis(t)
	cache := NewCredentialCache(client, newTestCipher(t))
	ctx := context.Background()

	got, err := cache.Get(ctx, "nobody", "twitter")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, cache.Set(ctx, &models.OAuthCredential{AccountID: "a", Platform: "twitter", AccessToken: "x"}, time.Minute))
	require.NoError(t, cache.Delete(ctx, "a", "twitter"))

	got, err = cache.Get(ctx, "a", "twitter")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// --- AuthTaskRepository ---

func TestAuthTaskRepository_Lifecycle(t *testing.T) {
	mr, client := setupMiniredis(t)
	repo := NewAuthTaskRepository(client)
	ctx := context.Background()

	task := &models.AuthTask{State: "s1", TaskID: "s1", UserID: 7, Platform: "twitter", CodeVerifier: "v"}
	require.NoError(t, repo.Create(ctx, task, 10*time.Minute))
	assert.ErrorIs(t, repo.Create(ctx, task, 10*time.Minute), ErrAuthTaskExists)

	got, err := repo.Get(ctx, "twitter", "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(7), got.UserID)
	assert.Equal(t, "v", got.CodeVerifier)

	mr.FastForward(9 * time.Minute)
	got.Extended = true
	require.NoError(t, repo.Save(ctx, got, 10*time.Minute))
	assert.Equal(t, 10*time.Minute, mr.TTL("oauth:task:twitter:s1"))

	got.Status = models.AuthTaskStatusCompleted
	require.NoError(t, repo.Save(ctx, got, 0))
	assert.Equal(t, 10*time.Minute, mr.TTL("oauth:task:twitter:s1"))

	mr.FastForward(11 * time.Minute)
	expired, err := repo.Get(ctx, "twitter", "s1")
	require.NoError(t, err)
	assert.Nil(t, expired)

	assert.Error(t, repo.Save(ctx, got, 0))
}
