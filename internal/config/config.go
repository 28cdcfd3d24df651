package config

import "time"

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Runtime  RuntimeConfig  `mapstructure:"runtime" validate:"required"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	// ReadHeaderTimeout bounds request header reads. Write timeouts are not
	// set because event streams stay open for minutes.
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" validate:"gte=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains Postgres settings. An empty URL selects the
// in-memory message and session stores.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"omitempty,url"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// RedisConfig contains the Redis connection used by the redis backend.
type RedisConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// LLMConfig contains generation settings. Without an API key the service
// falls back to an echo pipeline.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	ModelName    string `mapstructure:"model_name" validate:"required"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

// AuthConfig contains bearer-token settings. An empty secret disables
// authentication on the chat API.
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
	TokenLifetime time.Duration `mapstructure:"token_lifetime" validate:"gt=0"`
}

// RuntimeConfig groups the concurrency core settings.
type RuntimeConfig struct {
	// Backend selects the queue and event buffer implementation.
	Backend  string         `mapstructure:"backend" validate:"required,oneof=memory redis"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Buffer   BufferConfig   `mapstructure:"buffer"`
	Executor ExecutorConfig `mapstructure:"executor"`
}

// QueueConfig configures the job queue.
type QueueConfig struct {
	Name           string        `mapstructure:"name" validate:"required"`
	MaxSize        int           `mapstructure:"max_size" validate:"gte=0"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout" validate:"gte=0"`
}

// WorkerConfig configures the job workers.
type WorkerConfig struct {
	Count       int           `mapstructure:"count" validate:"gt=0"`
	PollTimeout time.Duration `mapstructure:"poll_timeout" validate:"gt=0"`
	MaxRetries  int           `mapstructure:"max_retries" validate:"gte=0"`
	StopOnError bool          `mapstructure:"stop_on_error"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
	StopTimeout time.Duration `mapstructure:"stop_timeout" validate:"gt=0"`
}

// PoolConfig configures the auxiliary task pool.
type PoolConfig struct {
	MaxWorkers int `mapstructure:"max_workers" validate:"gt=0"`
}

// BufferConfig configures the stream event buffer.
type BufferConfig struct {
	MaxSize        int           `mapstructure:"max_size" validate:"gte=0"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout" validate:"gt=0"`
	TTL            time.Duration `mapstructure:"ttl" validate:"gte=0"`
	GCInterval     time.Duration `mapstructure:"gc_interval" validate:"gt=0"`
	KeyPrefix      string        `mapstructure:"key_prefix" validate:"required"`
}

// ExecutorConfig configures the chat executor.
type ExecutorConfig struct {
	Timeout           time.Duration `mapstructure:"timeout" validate:"gte=1s"`
	PersistRetryLimit int           `mapstructure:"persist_retry_limit" validate:"gte=0"`
	PersistRetryDelay time.Duration `mapstructure:"persist_retry_delay" validate:"gte=0"`
}
