// Package settings loads process configuration from an optional YAML file
// and POLAR_* environment variables, then validates it.
//
// POLAR_WORKER_CONCURRENCY overrides worker.concurrency, and so on: dots
// in a key become underscores.
package settings

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/broker"
	"github.com/polarsource/polar-sub002/queue"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "POLAR"

// Settings is the full process configuration.
type Settings struct {
	Env       string `mapstructure:"env" validate:"required"`
	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json text"`

	Worker        WorkerSettings   `mapstructure:"worker"`
	Queues        []queue.Config   `mapstructure:"queues" validate:"dive"`
	Database      DatabaseSettings `mapstructure:"database"`
	Redis         RedisSettings    `mapstructure:"redis"`
	Mongo         MongoSettings    `mapstructure:"mongo"`
	Broker        broker.Settings  `mapstructure:"broker"`
	Stripe        StripeSettings   `mapstructure:"stripe"`
	Ingress       IngressSettings  `mapstructure:"ingress"`
	Webhooks      WebhookSettings  `mapstructure:"webhooks"`
	Observability Observability    `mapstructure:"observability"`
}

// WorkerSettings tune the task runtime.
type WorkerSettings struct {
	Concurrency     int           `mapstructure:"concurrency" validate:"gte=1"`
	Queues          []string      `mapstructure:"queues" validate:"min=1,dive,required"`
	PollInterval    time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
	MaxRetries      int           `mapstructure:"max_retries" validate:"gte=0"`
	MinBackoff      time.Duration `mapstructure:"min_backoff" validate:"gt=0"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff" validate:"gtefield=MinBackoff"`
}

// DatabaseSettings select the stores.
type DatabaseSettings struct {
	// Type "memory" keeps everything in process.
	Type string `mapstructure:"type" validate:"oneof=memory postgres"`
	// DSN is the Postgres connection string of the runtime and billing
	// tables.
	DSN string `mapstructure:"dsn" validate:"required_if=Type postgres"`
	// BillingDialect "sqlite" stores billing data in a local file for
	// development.
	BillingDialect string `mapstructure:"billing_dialect" validate:"omitempty,oneof=postgres sqlite"`
	SQLitePath     string `mapstructure:"sqlite_path" validate:"required_if=BillingDialect sqlite"`
	MaxConns       int32  `mapstructure:"max_conns" validate:"gte=0"`
}

// RedisSettings configure locks and debounce records. An empty Addr keeps
// them in the primary store.
type RedisSettings struct {
	Addr     string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// MongoSettings configure the meter event store. An empty URI keeps events
// in the primary store.
type MongoSettings struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database" validate:"required_with=URI"`
}

// StripeSettings configure the Stripe integration.
type StripeSettings struct {
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// IngressSettings configure the webhook HTTP server.
type IngressSettings struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// WebhookSettings restrict outbound webhook delivery.
type WebhookSettings struct {
	Events []string `mapstructure:"events"`
}

// Observability configures tracing export.
type Observability struct {
	ServiceName string  `mapstructure:"service_name" validate:"required"`
	TracingURL  string  `mapstructure:"tracing_url" validate:"omitempty,url"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

func setDefaults(v *viper.Viper) {
	def := polar.DefaultConfig()

	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("worker.concurrency", def.Concurrency)
	v.SetDefault("worker.queues", def.Queues)
	v.SetDefault("worker.poll_interval", def.PollInterval)
	v.SetDefault("worker.shutdown_timeout", def.ShutdownTimeout)
	v.SetDefault("worker.max_retries", def.MaxRetries)
	v.SetDefault("worker.min_backoff", def.MinBackoff)
	v.SetDefault("worker.max_backoff", def.MaxBackoff)

	v.SetDefault("database.type", "memory")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.billing_dialect", "")
	v.SetDefault("database.sqlite_path", "")
	v.SetDefault("database.max_conns", 0)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "")

	v.SetDefault("broker.type", "memory")
	v.SetDefault("broker.url", "")
	v.SetDefault("broker.exchange", "polar.events")
	v.SetDefault("broker.project_id", "")
	v.SetDefault("broker.pool_size", 4)

	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("ingress.addr", ":8080")
	v.SetDefault("webhooks.events", []string{})

	v.SetDefault("observability.service_name", "polar-worker")
	v.SetDefault("observability.tracing_url", "")
	v.SetDefault("observability.insecure", false)
	v.SetDefault("observability.sample_ratio", 1.0)
}

// Load reads path, when not empty, then applies environment overrides and
// validates the result.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("polar/settings: read %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("polar/settings: decode: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks every field constraint.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fe.Namespace() + " (" + fe.Tag() + ")"
			}
			return fmt.Errorf("polar/settings: invalid %s: %w", strings.Join(fields, ", "), err)
		}
		return fmt.Errorf("polar/settings: %w", err)
	}
	return nil
}

// RuntimeOptions turns the worker settings into Runtime options.
func (s *Settings) RuntimeOptions() []polar.Option {
	w := s.Worker
	return []polar.Option{
		polar.WithConcurrency(w.Concurrency),
		polar.WithQueues(w.Queues),
		polar.WithPollInterval(w.PollInterval),
		polar.WithShutdownTimeout(w.ShutdownTimeout),
		polar.WithDefaultRetries(w.MaxRetries, w.MinBackoff, w.MaxBackoff),
	}
}

// NewLogger builds the process logger. A nil w writes to stderr.
func (s *Settings) NewLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var level slog.Level
	switch s.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if s.LogFormat == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h).With(slog.String("env", s.Env))
}
