package config

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Env  string `envconfig:"APP_ENV" default:"dev"`
	Port int    `envconfig:"PORT" default:"8080"`

	// DatabaseURL wins over the DB_* parts when set.
	DatabaseURL string `envconfig:"DATABASE_URL"`
	DB          DB
	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"`

	JWTSecret string        `envconfig:"JWT_SECRET" required:"true"`
	JWTTTL    time.Duration `envconfig:"JWT_TTL" default:"23h"`

	BaseURL string `envconfig:"BASE_URL" default:"http://localhost:8080"`

	Mail   Mail
	Avatar Avatar
	S3     S3

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	RateLimit RateLimit

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	MaxBodyBytes       int64    `envconfig:"MAX_BODY_BYTES" default:"1048576"`

	OTELEndpoint string `envconfig:"OTEL_ENDPOINT"`
}

type DB struct {
	Host     string `envconfig:"DB_HOST" default:"127.0.0.1"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"accounthub"`
	Password string `envconfig:"DB_PASSWORD" default:"accounthub"`
	Name     string `envconfig:"DB_NAME" default:"accounthub"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
}

type Mail struct {
	Driver   string `envconfig:"MAIL_DRIVER" default:"log"` // log | smtp
	Host     string `envconfig:"MAIL_HOST" default:"smtp.ukr.net"`
	Port     int    `envconfig:"MAIL_PORT" default:"465"`
	User     string `envconfig:"MAIL_USER"`
	Password string `envconfig:"MAIL_PASSWORD"`
	From     string `envconfig:"MAIL_FROM" default:"no-reply@accounthub.local"`

	Timeout          time.Duration `envconfig:"MAIL_TIMEOUT" default:"5s"`
	FailureThreshold uint32        `envconfig:"MAIL_BREAKER_FAILURES" default:"3"`
	Cooldown         time.Duration `envconfig:"MAIL_BREAKER_COOLDOWN" default:"15s"`
}

type Avatar struct {
	Dir     string `envconfig:"AVATARS_DIR" default:"public/avatars"`
	TempDir string `envconfig:"UPLOAD_TMP_DIR" default:"tmp"`
	Size    int    `envconfig:"AVATAR_SIZE" default:"250"`
	Storage string `envconfig:"AVATAR_STORAGE" default:"local"` // local | s3
	MaxSize int64  `envconfig:"AVATAR_MAX_BYTES" default:"5242880"`
}

type S3 struct {
	Bucket       string `envconfig:"S3_BUCKET" default:"avatars"`
	Region       string `envconfig:"S3_REGION" default:"us-east-1"`
	BaseEndpoint string `envconfig:"S3_BASE_ENDPOINT"`
	AccessKey    string `envconfig:"S3_ACCESS_KEY"`
	SecretKey    string `envconfig:"S3_SECRET_KEY"`

	// PublicURL is the externally reachable bucket base, e.g. a CDN.
	PublicURL string `envconfig:"S3_PUBLIC_URL"`
}

type RateLimit struct {
	Limit  int           `envconfig:"RATE_LIMIT" default:"20"`
	Window time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return cfg, nil
}

func (c Config) DBURL() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DB.User, c.DB.Password),
		Host:     c.DB.Host + ":" + c.DB.Port,
		Path:     "/" + c.DB.Name,
		RawQuery: "sslmode=" + c.DB.SSLMode,
	}
	return u.String()
}

func (c Config) IsProd() bool {
	return c.Env == "prod"
}

// WithTimeout bounds a store call by the request context and d.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, d)
}
