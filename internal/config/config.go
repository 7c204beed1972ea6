// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Role selects which loop the process runs.
type Role string

// Role values.
const (
	RoleFiller   Role = "filler"
	RoleConsumer Role = "consumer"
)

// Config holds all process configuration parsed from environment
// variables, mirroring the external interface variable list.
type Config struct {
	Mode     Role   `env:"MODE,required"`
	NodeID   string `env:"NODE_ID,required"`
	NodeGPU  string `env:"NODE_GPU" envDefault:"unknown"`
	AdminAddr string `env:"ADMIN_ADDR" envDefault:":9090"`

	RabbitMQHost          string `env:"RABBITMQ_HOST" envDefault:"localhost:5672"`
	RabbitMQQueue         string `env:"RABBITMQ_QUEUE" envDefault:"image_generation"`
	RabbitMQQueueSize     int    `env:"RABBITMQ_QUEUE_SIZE" envDefault:"10"`
	RabbitMQDefaultUser   string `env:"RABBITMQ_DEFAULT_USER" envDefault:"guest"`
	RabbitMQDefaultPass   string `env:"RABBITMQ_DEFAULT_PASS" envDefault:"guest"`
	RabbitMQDefaultVHost  string `env:"RABBITMQ_DEFAULT_VHOST" envDefault:"/"`

	SupabasePostgresHost     string `env:"SUPABASE_POSTGRES_HOST" envDefault:"localhost"`
	SupabasePostgresPort     int    `env:"SUPABASE_POSTGRES_PORT" envDefault:"5432"`
	SupabasePostgresUser     string `env:"SUPABASE_POSTGRES_USER" envDefault:"postgres"`
	SupabasePostgresPassword string `env:"SUPABASE_POSTGRES_PASSWORD" envDefault:"postgres"`
	SupabasePostgresDB       string `env:"SUPABASE_POSTGRES_DB" envDefault:"postgres"`
	SupabaseURL              string `env:"SUPABASE_URL"`
	SupabaseKey              string `env:"SUPABASE_KEY"`

	OpenAIKey string `env:"OPENAI_KEY"`

	// JobDiscardThreshold is the TTL, in minutes on the wire, after which
	// a still-queued job is discarded by the filler rather than published.
	JobDiscardThreshold time.Duration `env:"JOB_DISCARD_THRESHOLD" envDefault:"1440m"`
	LoggingLevel        string        `env:"LOGGING_LEVEL" envDefault:"info"`

	// Filler Loop tuning (SPEC_FULL §4.4); not externally documented
	// variables of their own in §6, derived here with the spec's stated
	// defaults.
	FillerPollPeriod        time.Duration `env:"FILLER_POLL_PERIOD" envDefault:"10s"`
	FillerInterPublishPause time.Duration `env:"FILLER_INTER_PUBLISH_PAUSE" envDefault:"2s"`

	// IdempotencyCacheAddr configures the dedup cache (SPEC_FULL §11.3).
	// Empty disables the cache; the consumer then degrades to the
	// baseline at-least-once behavior.
	IdempotencyCacheAddr string `env:"IDEMPOTENCY_CACHE_ADDR"`

	// PluginCacheDir is where LoRA weights are mirrored locally
	// (SPEC_FULL §11.4).
	PluginCacheDir string `env:"PLUGIN_CACHE_DIR" envDefault:"./lora_cache"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"gpu-fleet"`
	AppEnv          string `env:"APP_ENV" envDefault:"dev"`

	// Postgres pool tuning: a filler node only ever issues short claim/
	// mark-terminal statements, while a consumer node additionally holds
	// a transaction open for InsertImages, so both roles get their own
	// dial of these knobs instead of one fixed constant.
	PostgresMaxConns        int32         `env:"POSTGRES_MAX_CONNS" envDefault:"10"`
	PostgresMaxConnIdleTime time.Duration `env:"POSTGRES_MAX_CONN_IDLE_TIME" envDefault:"5m"`
}

// PostgresDSN builds a libpq-style connection string from the
// Supabase-flavored postgres fields.
func (c Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.SupabasePostgresUser, c.SupabasePostgresPassword,
		c.SupabasePostgresHost, c.SupabasePostgresPort, c.SupabasePostgresDB,
	)
}

// Load parses environment variables into a Config. It never panics:
// a malformed or missing required variable surfaces as an error for
// the caller to log and exit on.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	switch cfg.Mode {
	case RoleFiller, RoleConsumer:
	default:
		return Config{}, fmt.Errorf("op=config.Load: invalid MODE %q, want %q or %q", cfg.Mode, RoleFiller, RoleConsumer)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }
