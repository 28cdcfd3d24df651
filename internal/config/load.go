package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// RELAY_RUNTIME_BACKEND for runtime.backend.
const EnvPrefix = "RELAY"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.url", "")

	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.system_prompt", "")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_lifetime", time.Hour)

	v.SetDefault("runtime.backend", "memory")

	v.SetDefault("runtime.queue.name", "chat-jobs")
	v.SetDefault("runtime.queue.max_size", 0)
	v.SetDefault("runtime.queue.default_timeout", time.Second)

	v.SetDefault("runtime.worker.count", 2)
	v.SetDefault("runtime.worker.poll_timeout", time.Second)
	v.SetDefault("runtime.worker.max_retries", 0)
	v.SetDefault("runtime.worker.stop_on_error", false)
	v.SetDefault("runtime.worker.retry_delay", time.Duration(0))
	v.SetDefault("runtime.worker.stop_timeout", 3*time.Second)

	v.SetDefault("runtime.pool.max_workers", 4)

	v.SetDefault("runtime.buffer.max_size", 0)
	v.SetDefault("runtime.buffer.default_timeout", time.Second)
	v.SetDefault("runtime.buffer.ttl", 10*time.Minute)
	v.SetDefault("runtime.buffer.gc_interval", 30*time.Second)
	v.SetDefault("runtime.buffer.key_prefix", "chat:stream")

	v.SetDefault("runtime.executor.timeout", 180*time.Second)
	v.SetDefault("runtime.executor.persist_retry_limit", 2)
	v.SetDefault("runtime.executor.persist_retry_delay", 500*time.Millisecond)
}

// Load reads configuration from environment variables and an optional
// config.yaml in the working directory. Environment variables take
// precedence over values from the file.
func Load() (*Config, error) {
	return LoadFrom(".")
}

// LoadFrom behaves like Load but looks for config.yaml under dir.
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Runtime.Backend == "redis" && c.Redis.URL == "" {
		return errors.New("invalid configuration: redis.url is required when runtime.backend is redis")
	}
	return nil
}
