package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/service"
)

const (
	refreshWindow    = 30 * time.Minute
	concurrencyLimit = 10
)

// TokenRefreshJob refreshes credentials before they expire so publish jobs
// rarely pay for a refresh inline.
type TokenRefreshJob struct {
	credentials []*service.CredentialService
	now         func() time.Time
	logger      *slog.Logger
}

func NewTokenRefreshJob(logger *slog.Logger, credentials ...*service.CredentialService) *TokenRefreshJob {
	return &TokenRefreshJob{
		credentials: credentials,
		now:         time.Now,
		logger:      logger.With(slog.String("job", "token_refresh")),
	}
}

// RefreshTokens refreshes every credential expiring within the window, at
// most ten at a time.
func (c *TokenRefreshJob) RefreshTokens(ctx context.Context) {
	deadline := c.now().Add(refreshWindow)

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, concurrencyLimit)

	for _, creds := range c.credentials {
		expiring, err := creds.ListExpiring(ctx, deadline)
		if err != nil {
			c.logger.Error("list expiring credentials", slog.String("platform", creds.Platform()), slog.Any("error", err))
			continue
		}

		for _, cred := range expiring {
			wg.Add(1)
			semaphore <- struct{}{}

			go func(creds *service.CredentialService, cred *models.OAuthCredential) {
				defer wg.Done()
				defer func() { <-semaphore }()

				if _, err := creds.RefreshBefore(ctx, cred.AccountID, deadline); err != nil {
					c.logger.Warn("unable to refresh credential",
						slog.String("platform", cred.Platform),
						slog.String("account_id", cred.AccountID),
						slog.Any("error", err),
					)
				}
			}(creds, cred)
		}
	}

	wg.Wait()
}

func (c *TokenRefreshJob) Run(ctx context.Context) {
	c.RefreshTokens(ctx)
}
