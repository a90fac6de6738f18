package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	_ "github.com/lib/pq"
	config "github.com/maheshrc27/postflow/configs"
	job "github.com/maheshrc27/postflow/internal/jobs"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/pkg/utils"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/youtube/v3"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		return err
	}
	defer closeDB(db, logger)

	if err := db.PingContext(ctx); err != nil {
		return err
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.RedisURI}})
	defer rdb.Close()

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	asynqClient := asynq.NewClient(redisConn)
	defer asynqClient.Close()

	cipher, err := utils.NewTokenCipher(cfg.SecretKey)
	if err != nil {
		return err
	}

	providerHTTP := &http.Client{Timeout: cfg.Publishing.ProviderTimeout}
	// video bodies can outlast ProviderTimeout; the job context bounds them
	streamHTTP := service.NewStreamingClient(cfg.Publishing.ProviderTimeout)

	// repositories
	socialAccountRepo := repository.NewSocialAccountRepository(db)
	credentialRepo := repository.NewCredentialRepository(db, cipher)
	credentialCache := repository.NewCredentialCache(rdb, cipher)
	authTaskRepo := repository.NewAuthTaskRepository(rdb)
	publishTaskRepo := repository.NewPublishTaskRepository(db)
	postMediaRepo := repository.NewPostMediaRepository(db)
	generationTaskRepo := repository.NewGenerationTaskRepository(db)
	pointsRepo := repository.NewPointsRepository(db)
	apiKeyRepo := repository.NewApiKeyRepository(db)

	// platforms
	twitterOAuth := &oauth2.Config{
		ClientID:     cfg.Twitter.ClientID,
		ClientSecret: cfg.Twitter.ClientSecret,
		RedirectURL:  cfg.Twitter.RedirectURI,
		Scopes:       cfg.Twitter.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.Twitter.AuthURL,
			TokenURL:  cfg.Twitter.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	googleOAuth := &oauth2.Config{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.Google.RedirectURI,
		Scopes:       []string{youtube.YoutubeUploadScope, youtube.YoutubeReadonlyScope},
		Endpoint:     google.Endpoint,
	}

	credOpts := service.CredentialOptions{RefreshMargin: cfg.Auth.TokenRefreshMargin}

	twitterAPI := service.NewTwitterAPI(cfg.Twitter.APIBaseURL, cfg.Twitter.ClientID, cfg.Twitter.ClientSecret, providerHTTP, logger)
	twitterCredOpts := credOpts
	twitterCredOpts.Revoker = twitterAPI
	twitterCreds := service.NewCredentialService(service.PlatformTwitter, credentialRepo, credentialCache,
		&service.OAuth2Refresher{Config: twitterOAuth}, logger, twitterCredOpts)

	youtubeCredOpts := credOpts
	youtubeCredOpts.Revoker = service.NewGoogleRevoker(providerHTTP, logger)
	youtubeCreds := service.NewCredentialService(service.PlatformYoutube, credentialRepo, credentialCache,
		&service.OAuth2Refresher{Config: googleOAuth}, logger, youtubeCredOpts)

	mediaFetcher := service.NewMediaFetcher(providerHTTP, streamHTTP, logger)
	twitter := service.NewTwitterPlatform(twitterAPI, twitterCreds, socialAccountRepo, logger)
	yt := service.NewYoutubePlatform(youtubeCreds, mediaFetcher, streamHTTP, "", logger)
	registry := service.NewPlatformRegistry(twitter, yt)

	r2Service, err := service.NewR2Service(ctx, cfg.R2, mediaFetcher, logger)
	if err != nil {
		return err
	}

	// services
	oauthService := service.NewOAuthService([]*service.OAuthProvider{
		{
			Platform:        service.PlatformTwitter,
			Config:          twitterOAuth,
			ExchangeOptions: []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("client_id", cfg.Twitter.ClientID)},
			Profile:         twitter,
			Credentials:     twitterCreds,
		},
		{
			Platform:    service.PlatformYoutube,
			Config:      googleOAuth,
			AuthOptions: []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce},
			Profile:     yt,
			Credentials: youtubeCreds,
		},
	}, authTaskRepo, socialAccountRepo, cfg.Auth.AuthTaskTTL, cfg.Auth.AuthTaskExtendTTL, logger)

	publishQueue := queue.NewClient(asynqClient, cfg.Publishing.PublishMaxRetry, cfg.Publishing.FinalizeMaxRetry, logger)
	publishingService := service.NewPublishingService(
		publishTaskRepo,
		postMediaRepo,
		socialAccountRepo,
		registry,
		service.NewMediaUploadService(logger),
		mediaFetcher,
		publishQueue,
		cfg.Publishing.ImmediateTolerance,
		logger,
	)

	generationProvider := service.NewGenerationProvider(cfg.Generation.BaseURL, cfg.Generation.APIKey,
		&http.Client{Timeout: cfg.Generation.Timeout}, logger)
	generationService := service.NewGenerationService(db, generationTaskRepo, pointsRepo, generationProvider, r2Service, logger)
	platformService := service.NewPlatformService(socialAccountRepo, registry, twitterCreds, youtubeCreds)
	apiKeyService := service.NewApiKeyService(apiKeyRepo, logger)

	// cron jobs
	scheduler := job.NewScheduler(logger)
	if err := scheduler.Add("reconcile", cfg.ReconcileSchedule,
		job.NewReconcileJob(generationService, cfg.ReconcileBatch, logger)); err != nil {
		return err
	}
	if err := scheduler.Add("token_refresh", cfg.TokenRefreshSchedule,
		job.NewTokenRefreshJob(logger, twitterCreds, youtubeCreds)); err != nil {
		return err
	}
	scheduler.Start()

	// queue
	worker := asynq.NewServer(redisConn, asynq.Config{
		Concurrency:    cfg.WorkerConcurrency,
		RetryDelayFunc: queue.RetryDelay,
		Logger:         queue.NewLogger(logger),
	})
	mux := asynq.NewServeMux()
	queue.NewQueue(publishingService, logger).Register(mux)

	if err := worker.Start(mux); err != nil {
		return err
	}

	app := newApp(cfg, logger, routeDeps{
		oauth:      oauthService,
		publishing: publishingService,
		generation: generationService,
		platforms:  platformService,
		apiKeys:    apiKeyService,
	})

	errc := make(chan error, 1)
	go func() {
		errc <- app.Listen(":" + cfg.Port)
	}()
	logger.Info("server started", slog.String("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err = <-errc:
	case <-quit:
		logger.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if serr := app.ShutdownWithContext(shutdownCtx); serr != nil {
		logger.Error("shut down http server", slog.Any("error", serr))
	}
	scheduler.Stop(shutdownCtx)
	worker.Shutdown()

	logger.Info("server shutdown complete")
	return err
}

func closeDB(db *sql.DB, logger *slog.Logger) {
	if err := db.Close(); err != nil {
		logger.Error("close database", slog.Any("error", err))
	}
}
