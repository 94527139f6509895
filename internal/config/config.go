package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Remote       RemoteConfig
	Desk         DeskConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	SeedDemoData   bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// SequenceEnabled makes the desk allocate ticket numbers from a shared
	// Redis counter instead of a process-local one.
	SequenceEnabled bool
	SequenceKey     string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level       string
	Development bool
	Service     string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
}

// NotificationConfig holds the outbound event webhook. Empty disables delivery.
type NotificationConfig struct {
	WebhookURL string
}

// RemoteConfig points the desk at the ticket backend. An empty BaseURL keeps
// the desk on its local dataset.
type RemoteConfig struct {
	BaseURL         string
	Token           string
	HealthTimeoutMS int
	InitTimeoutMS   int
	WriteTimeoutMS  int
	ReadTimeoutMS   int
}

// DeskConfig holds settings for the helpdesk process.
type DeskConfig struct {
	Port             string
	Timezone         string
	SeedPasswordCost int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "helpdesk-api"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			SeedDemoData:   getEnvAsBool("POSTGRES_SEED_DEMO_DATA", true),
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:        os.Getenv("REDIS_PASSWORD"),
			DB:              redisDB,
			SequenceEnabled: getEnvAsBool("REDIS_SEQUENCE_ENABLED", false),
			SequenceKey:     getEnv("REDIS_SEQUENCE_KEY", "helpdesk:ticket_seq"),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnv("APP_ENV", "development") == "development",
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Notification: NotificationConfig{
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
		Remote: RemoteConfig{
			BaseURL:         os.Getenv("REMOTE_BASE_URL"),
			Token:           os.Getenv("REMOTE_TOKEN"),
			HealthTimeoutMS: getEnvAsInt("REMOTE_HEALTH_TIMEOUT_MS", 10000),
			InitTimeoutMS:   getEnvAsInt("REMOTE_INIT_TIMEOUT_MS", 15000),
			WriteTimeoutMS:  getEnvAsInt("REMOTE_WRITE_TIMEOUT_MS", 10000),
			ReadTimeoutMS:   getEnvAsInt("REMOTE_READ_TIMEOUT_MS", 10000),
		},
		Desk: DeskConfig{
			Port:             getEnv("DESK_PORT", "8090"),
			Timezone:         getEnv("DESK_TIMEZONE", "America/Sao_Paulo"),
			SeedPasswordCost: getEnvAsInt("DESK_SEED_PASSWORD_COST", 10),
		},
	}

	if _, err := time.LoadLocation(cfg.Desk.Timezone); err != nil {
		return nil, fmt.Errorf("invalid DESK_TIMEZONE: %w", err)
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Location resolves the desk timezone; Load has already validated it.
func (d DeskConfig) Location() *time.Location {
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Addr returns the desk bind address on the shared host.
func (d DeskConfig) Addr(host string) string {
	return fmt.Sprintf("%s:%s", host, d.Port)
}

// HealthTimeout returns the bounded health check duration.
func (r RemoteConfig) HealthTimeout() time.Duration { return millis(r.HealthTimeoutMS) }

// InitTimeout returns the startup probe budget.
func (r RemoteConfig) InitTimeout() time.Duration { return millis(r.InitTimeoutMS) }

// WriteTimeout returns the per-write remote budget.
func (r RemoteConfig) WriteTimeout() time.Duration { return millis(r.WriteTimeoutMS) }

// ReadTimeout returns the per-read remote budget.
func (r RemoteConfig) ReadTimeout() time.Duration { return millis(r.ReadTimeoutMS) }

func millis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
