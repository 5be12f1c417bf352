package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort int    `env:"SERVER_PORT,default=8080"`
	SecretKey  string `env:"SECRET_KEY"`

	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL,default=15m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL,default=12h"`
	TokenIssuer     string        `env:"TOKEN_ISSUER,default=bookstore"`
	CookieSecure    bool          `env:"COOKIE_SECURE,default=true"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS,default=5"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST,default=10"`

	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Enable only behind a proxy that overwrites those headers.
	TrustProxy bool `env:"TRUST_PROXY,default=false"`

	// RestockSchedule is a cron spec; empty disables the scheduled restock.
	RestockSchedule string `env:"RESTOCK_SCHEDULE"`

	Database DatabaseConfig
	Events   EventsConfig
	Receipts ReceiptsConfig
}

type DatabaseConfig struct {
	Host     string `env:"DB_HOST,default=localhost"`
	Port     int    `env:"DB_PORT,default=5432"`
	User     string `env:"DB_USER,default=libroteca"`
	Password string `env:"DB_PASSWORD,default=password"`
	DBName   string `env:"DB_NAME,default=libroteca_db"`
	UseSSL   bool   `env:"DB_USE_SSL,default=false"`
}

// URL returns the postgres connection URL shared by the pool and migrations.
func (d DatabaseConfig) URL() string {
	sslmode := "disable"
	if d.UseSSL {
		sslmode = "require"
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		User:   url.UserPassword(d.User, d.Password),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}

// EventsConfig selects where purchase events are published.
type EventsConfig struct {
	Backend  string `env:"EVENTS_BACKEND"`
	Topic    string `env:"EVENTS_TOPIC,default=purchases.completed"`
	RabbitMQ RabbitMQConfig
	PubSub   PubSubConfig
}

type RabbitMQConfig struct {
	URL      string `env:"RABBITMQ_URL"`
	Exchange string `env:"RABBITMQ_EXCHANGE,default=libroteca.events"`
	Durable  bool   `env:"RABBITMQ_DURABLE,default=true"`
}

type PubSubConfig struct {
	ProjectID       string `env:"PUBSUB_PROJECT_ID"`
	CredentialsFile string `env:"PUBSUB_CREDENTIALS_FILE"`
}

// ReceiptsConfig selects where purchase receipts are archived.
type ReceiptsConfig struct {
	Backend string `env:"RECEIPTS_BACKEND"`
	Minio   MinioConfig
	GCS     GCSConfig
}

type MinioConfig struct {
	Endpoint  string `env:"MINIO_ENDPOINT"`
	AccessKey string `env:"MINIO_ACCESS_KEY"`
	SecretKey string `env:"MINIO_SECRET_KEY"`
	Bucket    string `env:"MINIO_BUCKET,default=receipts"`
	UseSSL    bool   `env:"MINIO_USE_SSL,default=false"`
}

type GCSConfig struct {
	Bucket          string `env:"GCS_BUCKET"`
	ProjectID       string `env:"GCS_PROJECT_ID"`
	CredentialsFile string `env:"GCS_CREDENTIALS_FILE"`
}

const (
	BackendNone     = ""
	BackendRabbitMQ = "rabbitmq"
	BackendPubSub   = "pubsub"
	BackendMinio    = "minio"
	BackendGCS      = "gcs"
)

// LoadConfig reads the process environment, loading .env first in dev.
// It does not require SECRET_KEY; commands that sign tokens use
// LoadServerConfig.
func LoadConfig() (Config, error) {
	if os.Getenv("ENV") == "dev" {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadServerConfig is LoadConfig plus the checks the API server needs.
// A missing SECRET_KEY is an error.
func LoadServerConfig() (Config, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return Config{}, errors.New("SECRET_KEY is required")
	}
	return cfg, nil
}

// Validate checks values the decoder cannot express in tags.
func (c Config) Validate() error {
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	switch c.Events.Backend {
	case BackendNone, BackendRabbitMQ, BackendPubSub:
	default:
		return fmt.Errorf("unknown EVENTS_BACKEND %q", c.Events.Backend)
	}
	switch c.Receipts.Backend {
	case BackendNone, BackendMinio, BackendGCS:
	default:
		return fmt.Errorf("unknown RECEIPTS_BACKEND %q", c.Receipts.Backend)
	}
	return nil
}
