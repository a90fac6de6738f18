package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type R2 struct {
	AccountID  string `env:"R2_ACCOUNT_ID"`
	AccessKey  string `env:"R2_ACCESS_KEY"`
	SecretKey  string `env:"R2_SECRET_KEY"`
	BucketName string `env:"R2_BUCKET_NAME"`
	// Endpoint overrides the account-derived R2 endpoint, e.g. for MinIO.
	Endpoint string `env:"R2_ENDPOINT"`
}

type Twitter struct {
	ClientID     string   `env:"TWITTER_CLIENT_ID"`
	ClientSecret string   `env:"TWITTER_CLIENT_SECRET"`
	RedirectURI  string   `env:"TWITTER_REDIRECT_URI"`
	AuthURL      string   `env:"TWITTER_AUTH_URL" envDefault:"https://x.com/i/oauth2/authorize"`
	TokenURL     string   `env:"TWITTER_TOKEN_URL" envDefault:"https://api.x.com/2/oauth2/token"`
	APIBaseURL   string   `env:"TWITTER_API_BASE_URL" envDefault:"https://api.x.com/2"`
	Scopes       []string `env:"TWITTER_SCOPES" envSeparator:"," envDefault:"tweet.read,tweet.write,users.read,media.write,offline.access"`
}

type Google struct {
	ClientID     string `env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	RedirectURI  string `env:"GOOGLE_REDIRECT_URI"`
}

type Generation struct {
	BaseURL string        `env:"GENERATION_API_BASE_URL"`
	APIKey  string        `env:"GENERATION_API_KEY"`
	Timeout time.Duration `env:"GENERATION_API_TIMEOUT" envDefault:"15s"`
}

type Publishing struct {
	ImmediateTolerance time.Duration `env:"IMMEDIATE_PUBLISH_TOLERANCE" envDefault:"60s"`
	FinalizeMaxRetry   int           `env:"FINALIZE_MAX_RETRY" envDefault:"8"`
	PublishMaxRetry    int           `env:"PUBLISH_MAX_RETRY" envDefault:"3"`
	ProviderTimeout    time.Duration `env:"PROVIDER_HTTP_TIMEOUT" envDefault:"60s"`
}

type Auth struct {
	TokenRefreshMargin time.Duration `env:"TOKEN_REFRESH_MARGIN" envDefault:"300s"`
	AuthTaskTTL        time.Duration `env:"AUTH_TASK_TTL" envDefault:"10m"`
	AuthTaskExtendTTL  time.Duration `env:"AUTH_TASK_EXTEND_TTL" envDefault:"10m"`
}

type Config struct {
	Port        string `env:"PORT" envDefault:"3000"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	PostgresURI string `env:"POSTGRES_URI,required"`
	RedisURI    string `env:"REDIS_URI,required"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`
	SecretKey   string `env:"SECRET_KEY,required"`
	CookieName  string `env:"COOKIE_NAME" envDefault:"postflow_session"`

	ReconcileSchedule    string `env:"RECONCILE_SCHEDULE" envDefault:"@every 30s"`
	ReconcileBatch       int    `env:"RECONCILE_BATCH" envDefault:"500"`
	TokenRefreshSchedule string `env:"TOKEN_REFRESH_SCHEDULE" envDefault:"@every 10m"`
	WorkerConcurrency    int    `env:"WORKER_CONCURRENCY" envDefault:"10"`

	R2         R2
	Twitter    Twitter
	Google     Google
	Generation Generation
	Publishing Publishing
	Auth       Auth
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded", "error", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
