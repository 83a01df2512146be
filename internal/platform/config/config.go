package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Webhooks      WebhooksConfig      `mapstructure:"webhooks"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port" validate:"gte=1,lte=65535"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver" validate:"oneof=sqlite3 postgres"`
	DSN          string `mapstructure:"dsn" validate:"required"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret" validate:"required"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type RateLimitConfig struct {
	APIWritePerMinute int `mapstructure:"api_write_per_minute" validate:"gte=0"`
	VerifyPerMinute   int `mapstructure:"verify_per_minute" validate:"gte=0"`
}

type WebhooksConfig struct {
	WorkerCount           int           `mapstructure:"worker_count" validate:"gte=1"`
	QueueSize             int           `mapstructure:"queue_size" validate:"gte=0"`
	RetryPollInterval     time.Duration `mapstructure:"retry_poll_interval" validate:"gt=0"`
	RetryBatchSize        int           `mapstructure:"retry_batch_size" validate:"gte=1"`
	// ClaimLease must outlast the longest endpoint timeout (60s) with room
	// to persist the outcome.
	ClaimLease            time.Duration `mapstructure:"claim_lease" validate:"gte=90s"`
	BackoffInitial        time.Duration `mapstructure:"backoff_initial" validate:"gt=0"`
	BackoffMax            time.Duration `mapstructure:"backoff_max" validate:"gtfield=BackoffInitial"`
	MaxPayloadBytes       int           `mapstructure:"max_payload_bytes" validate:"gte=1"`
	ResponseSnippetBytes  int           `mapstructure:"response_snippet_bytes" validate:"gte=0"`
	UserAgent             string        `mapstructure:"user_agent"`
	LogRetention          time.Duration `mapstructure:"log_retention" validate:"gte=0"`
	RetentionPollInterval time.Duration `mapstructure:"retention_poll_interval" validate:"gt=0"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

type ObservabilityConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TracingURL  string `mapstructure:"tracing_url"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 90*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "./data/hookline.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_token_ttl", time.Hour)

	v.SetDefault("rate_limit.api_write_per_minute", 100)
	v.SetDefault("rate_limit.verify_per_minute", 10)

	v.SetDefault("webhooks.worker_count", 32)
	v.SetDefault("webhooks.queue_size", 1024)
	v.SetDefault("webhooks.retry_poll_interval", 5*time.Second)
	v.SetDefault("webhooks.retry_batch_size", 100)
	v.SetDefault("webhooks.claim_lease", 2*time.Minute)
	v.SetDefault("webhooks.backoff_initial", 10*time.Second)
	v.SetDefault("webhooks.backoff_max", time.Hour)
	v.SetDefault("webhooks.max_payload_bytes", 256*1024)
	v.SetDefault("webhooks.response_snippet_bytes", 1024)
	v.SetDefault("webhooks.user_agent", "Hookline-Webhooks/1.0")
	v.SetDefault("webhooks.log_retention", 30*24*time.Hour)
	v.SetDefault("webhooks.retention_poll_interval", time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "")

	v.SetDefault("observability.service_name", "hookline")
	v.SetDefault("observability.tracing_url", "")
}

// Load reads the YAML file at path (if present) and applies HOOKLINE_* env overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("HOOKLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
