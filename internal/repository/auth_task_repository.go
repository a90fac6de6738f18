package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/redis/go-redis/v9"
)

var ErrAuthTaskExists = errors.New("auth task already exists")

// AuthTaskRepository keeps short-lived OAuth tasks in Redis. Expiry is the
// store's TTL; there is no explicit delete.
type AuthTaskRepository interface {
	Create(ctx context.Context, t *models.AuthTask, ttl time.Duration) error
	Get(ctx context.Context, platform, state string) (*models.AuthTask, error)
	Save(ctx context.Context, t *models.AuthTask, ttl time.Duration) error
}

type authTaskRepository struct {
	rdb redis.UniversalClient
}

func NewAuthTaskRepository(rdb redis.UniversalClient) AuthTaskRepository {
	return &authTaskRepository{rdb: rdb}
}

func authTaskKey(platform, state string) string {
	return fmt.Sprintf("oauth:task:%s:%s", platform, state)
}

func (r *authTaskRepository) Create(ctx context.Context, t *models.AuthTask, ttl time.Duration) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode auth task: %w", err)
	}

	ok, err := r.rdb.SetNX(ctx, authTaskKey(t.Platform, t.State), raw, ttl).Result()
	if err != nil {
		return fmt.Errorf("create auth task: %w", err)
	}
	if !ok {
		return ErrAuthTaskExists
	}
	return nil
}

// Get returns nil, nil once the task's TTL has lapsed.
func (r *authTaskRepository) Get(ctx context.Context, platform, state string) (*models.AuthTask, error) {
	raw, err := r.rdb.Get(ctx, authTaskKey(platform, state)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get auth task: %w", err)
	}

	var t models.AuthTask
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode auth task: %w", err)
	}
	return &t, nil
}

// Save overwrites the task. A zero ttl keeps the current expiry.
func (r *authTaskRepository) Save(ctx context.Context, t *models.AuthTask, ttl time.Duration) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode auth task: %w", err)
	}

	key := authTaskKey(t.Platform, t.State)
	if ttl == 0 {
		err = r.rdb.SetArgs(ctx, key, raw, redis.SetArgs{KeepTTL: true, Mode: "XX"}).Err()
	} else {
		err = r.rdb.SetArgs(ctx, key, raw, redis.SetArgs{TTL: ttl, Mode: "XX"}).Err()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("save auth task: expired")
		}
		return fmt.Errorf("save auth task: %w", err)
	}
	return nil
}
