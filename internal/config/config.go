package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Storage    StorageConfig
	Tracing    TracingConfig `mapstructure:"tracing"`
	Redis      RedisConfig
	AI         AIConfig
	CORS       CORSConfig       `mapstructure:"cors"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Queue      QueueConfig      `mapstructure:"queue"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ForceMigrate bool `mapstructure:"-"`
	MigrateOnly  bool `mapstructure:"-"`
	WorkerOnly   bool `mapstructure:"-"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

// AIConfig 裁判模型（OpenAI 兼容接口）
type AIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Driver    string
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	ExpireTime time.Duration `mapstructure:"expire_hours"`
}

type StorageConfig struct {
	Type          string `mapstructure:"type"`
	LocalPath     string `mapstructure:"local_path"`
	MinioEndpoint string `mapstructure:"minio_endpoint"`
	MinioAccessID string `mapstructure:"minio_access_key"`
	MinioSecret   string `mapstructure:"minio_secret_key"`
	MinioBucket   string `mapstructure:"minio_bucket"`
	OSSEndpoint   string `mapstructure:"oss_endpoint"`
	OSSAccessKey  string `mapstructure:"oss_access_key"`
	OSSSecretKey  string `mapstructure:"oss_secret_key"`
	OSSBucket     string `mapstructure:"oss_bucket"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type RedisConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	Host     string
	Port     int
	Password string
	DB       int
}

// EvaluationConfig 评测批次执行参数，支持热更新
type EvaluationConfig struct {
	Workers                int           `mapstructure:"workers"`
	UnitTimeout            time.Duration `mapstructure:"unit_timeout"`
	MaxRetries             int           `mapstructure:"max_retries"`
	RetryBackoff           time.Duration `mapstructure:"retry_backoff"`
	PassingThreshold       float64       `mapstructure:"passing_threshold"`
	RequiredMissingCeiling float64       `mapstructure:"required_missing_ceiling"`
	MatchThreshold         float64       `mapstructure:"match_threshold"`
	RationaleInlineLimit   int           `mapstructure:"rationale_inline_limit"`
	StatsCacheTTL          time.Duration `mapstructure:"stats_cache_ttl"`
	Async                  bool          `mapstructure:"async"`
}

// QueueConfig asynq 任务队列
type QueueConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	Concurrency int  `mapstructure:"concurrency"`
}

// DefaultEvaluationConfig 未配置时的评测默认值
func DefaultEvaluationConfig() EvaluationConfig {
	return EvaluationConfig{
		Workers:                4,
		UnitTimeout:            60 * time.Second,
		MaxRetries:             3,
		RetryBackoff:           500 * time.Millisecond,
		PassingThreshold:       0.6,
		RequiredMissingCeiling: 0.5,
		MatchThreshold:         0.6,
		RationaleInlineLimit:   2048,
		StatsCacheTTL:          5 * time.Minute,
	}
}

// Normalize 用默认值补齐缺失或非法的评测参数
func (e EvaluationConfig) Normalize() EvaluationConfig {
	d := DefaultEvaluationConfig()
	if e.Workers <= 0 {
		e.Workers = d.Workers
	}
	if e.UnitTimeout <= 0 {
		e.UnitTimeout = d.UnitTimeout
	}
	if e.MaxRetries < 0 {
		e.MaxRetries = 0
	}
	if e.RetryBackoff <= 0 {
		e.RetryBackoff = d.RetryBackoff
	}
	if e.PassingThreshold <= 0 || e.PassingThreshold > 1 {
		e.PassingThreshold = d.PassingThreshold
	}
	if e.RequiredMissingCeiling < 0 || e.RequiredMissingCeiling > 1 {
		e.RequiredMissingCeiling = d.RequiredMissingCeiling
	}
	if e.MatchThreshold <= 0 || e.MatchThreshold > 1 {
		e.MatchThreshold = d.MatchThreshold
	}
	if e.RationaleInlineLimit <= 0 {
		e.RationaleInlineLimit = d.RationaleInlineLimit
	}
	if e.StatsCacheTTL <= 0 {
		e.StatsCacheTTL = d.StatsCacheTTL
	}
	return e
}

func setDefaults(v *viper.Viper) {
	d := DefaultEvaluationConfig()
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.parsetime", true)
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./uploads")
	v.SetDefault("ai.timeout_seconds", 60)
	v.SetDefault("rate_limit.max_requests", 6000)
	v.SetDefault("rate_limit.window_minutes", 1)
	v.SetDefault("evaluation.workers", d.Workers)
	v.SetDefault("evaluation.unit_timeout", d.UnitTimeout)
	v.SetDefault("evaluation.max_retries", d.MaxRetries)
	v.SetDefault("evaluation.retry_backoff", d.RetryBackoff)
	v.SetDefault("evaluation.passing_threshold", d.PassingThreshold)
	v.SetDefault("evaluation.required_missing_ceiling", d.RequiredMissingCeiling)
	v.SetDefault("evaluation.match_threshold", d.MatchThreshold)
	v.SetDefault("evaluation.rationale_inline_limit", d.RationaleInlineLimit)
	v.SetDefault("evaluation.stats_cache_ttl", d.StatsCacheTTL)
	v.SetDefault("queue.concurrency", 5)
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("LLM_EVAL")
	v.AutomaticEnv()
	setDefaults(v)

	// Database
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	v.BindEnv("server.mode", "SERVER_MODE")
	v.BindEnv("server.port", "SERVER_PORT")

	// 裁判模型
	v.BindEnv("ai.base_url", "AI_BASE_URL")
	v.BindEnv("ai.api_key", "AI_API_KEY")
	v.BindEnv("ai.model", "AI_MODEL")

	// Storage
	v.BindEnv("storage.type", "STORAGE_TYPE")
	v.BindEnv("storage.oss_endpoint", "OSS_ENDPOINT")
	v.BindEnv("storage.oss_access_key", "OSS_ACCESS_KEY")
	v.BindEnv("storage.oss_secret_key", "OSS_SECRET_KEY")
	v.BindEnv("storage.oss_bucket", "OSS_BUCKET")
	v.BindEnv("storage.minio_endpoint", "MINIO_ENDPOINT")
	v.BindEnv("storage.minio_access_key", "MINIO_ACCESS_KEY")
	v.BindEnv("storage.minio_secret_key", "MINIO_SECRET_KEY")
	v.BindEnv("storage.minio_bucket", "MINIO_BUCKET")

	// Tracing
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	// 评测 / 队列
	v.BindEnv("evaluation.workers", "EVALUATION_WORKERS")
	v.BindEnv("evaluation.async", "EVALUATION_ASYNC")
	v.BindEnv("queue.enabled", "QUEUE_ENABLED")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.JWT.ExpireTime = cfg.JWT.ExpireTime * time.Hour
	cfg.Evaluation = cfg.Evaluation.Normalize()

	// 生产环境校验 JWT Secret 强度
	if cfg.Server.Mode == "release" && len(cfg.JWT.Secret) < 32 {
		return nil, fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.JWT.Secret))
	}

	if cfg.Queue.Enabled && !cfg.Redis.Enabled {
		return nil, fmt.Errorf("queue.enabled requires redis.enabled")
	}

	if cfg.Storage.Type == "local" {
		if _, err := os.Stat(cfg.Storage.LocalPath); os.IsNotExist(err) {
			os.MkdirAll(cfg.Storage.LocalPath, 0755)
		}
	}

	return &cfg, nil
}

// RedisAddr host:port
func (c RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
