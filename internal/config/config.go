// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port           int           `yaml:"port" validate:"min=1,max=65535"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
	Migrate  bool   `yaml:"migrate"` // run goose up on start
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type QueueConfig struct {
	Backend       string        `yaml:"backend" validate:"oneof=redis memory"`
	KeyPrefix     string        `yaml:"key_prefix"`
	MaxAttempts   int           `yaml:"max_attempts" validate:"min=1"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	KeepCompleted int           `yaml:"keep_completed" validate:"min=0"`
	KeepFailed    int           `yaml:"keep_failed" validate:"min=0"`
	Retention     time.Duration `yaml:"retention"` // how long finished job hashes stay readable
}

type WorkerConfig struct {
	Concurrency         int           `yaml:"concurrency" validate:"min=1"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	JobTimeout          time.Duration `yaml:"job_timeout"`
	Lease               time.Duration `yaml:"lease"`
	ReaperInterval      time.Duration `yaml:"reaper_interval"`
	ReconcileInterval   time.Duration `yaml:"reconcile_interval"`
	ReconcileStaleAfter time.Duration `yaml:"reconcile_stale_after"`
}

type GenerationConfig struct {
	Provider        string            `yaml:"provider" validate:"oneof=http gemini openai placeholder"`
	ServiceURL      string            `yaml:"service_url"`
	ServiceKey      string            `yaml:"service_key"`
	GeminiKey       string            `yaml:"gemini_key"`
	GeminiURL       string            `yaml:"gemini_url"`
	GeminiModel     string            `yaml:"gemini_model"`
	OpenAIKey       string            `yaml:"openai_key"`
	OpenAIModel     string            `yaml:"openai_model"`
	ModelProviders  map[string]string `yaml:"model_providers"` // model name -> provider
	ConcurrentLimit int               `yaml:"concurrent_limit"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"` // host[:port]
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Complete reports whether a client can be built from c.
func (c MinIOConfig) Complete() bool {
	return c.Endpoint != "" && c.AccessKey != "" && c.SecretKey != ""
}

type StorageConfig struct {
	Backend   string      `yaml:"backend" validate:"oneof=local minio"`
	LocalDir  string      `yaml:"local_dir"`
	PublicURL string      `yaml:"public_url"` // for minio, empty means {scheme}://{endpoint}/{bucket}
	Serve     bool        `yaml:"serve"`      // expose LocalDir under /files/
	MinIO     MinIOConfig `yaml:"minio"`
}

// UseMinIO reports whether objects go to MinIO. An incomplete MinIO section
// falls back to local storage.
func (c StorageConfig) UseMinIO() bool {
	return c.Backend == "minio" && c.MinIO.Complete()
}

type LimitsConfig struct {
	SubmitPerMinute int `yaml:"submit_per_minute" validate:"min=0"`
}

type CacheConfig struct {
	CategoryTTL time.Duration `yaml:"category_ttl"`
	MaxCost     int64         `yaml:"max_cost"`
}

type Config struct {
	Log        LogConfig        `yaml:"log"`
	HTTP       HTTPConfig       `yaml:"http"`
	Auth       AuthConfig       `yaml:"auth"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Queue      QueueConfig      `yaml:"queue"`
	Worker     WorkerConfig     `yaml:"worker"`
	Generation GenerationConfig `yaml:"generation"`
	Storage    StorageConfig    `yaml:"storage"`
	Limits     LimitsConfig     `yaml:"limits"`
	Cache      CacheConfig      `yaml:"cache"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Runtime.Dev = dev
	applyDefaults(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Minimal validation
	if cfg.Database.URL == "" && !dev {
		return nil, errors.New("database.url is required")
	}
	if cfg.Queue.Backend == "redis" && cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required for the redis queue backend")
	}
	if cfg.Auth.JWTSecret == "" && !dev {
		return nil, errors.New("auth.jwt_secret is required")
	}
	if cfg.Worker.Lease <= cfg.Worker.JobTimeout {
		return nil, errors.New("worker.lease must exceed worker.job_timeout")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 15 * time.Second
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	if cfg.Queue.Backend == "" {
		if cfg.Redis.URL == "" && cfg.Runtime.Dev {
			cfg.Queue.Backend = "memory"
		} else {
			cfg.Queue.Backend = "redis"
		}
	}
	if cfg.Queue.KeyPrefix == "" {
		cfg.Queue.KeyPrefix = "image-generation"
	}
	if cfg.Queue.MaxAttempts <= 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Queue.BackoffBase <= 0 {
		cfg.Queue.BackoffBase = 3 * time.Second
	}
	if cfg.Queue.KeepCompleted == 0 {
		cfg.Queue.KeepCompleted = 100
	}
	if cfg.Queue.KeepFailed == 0 {
		cfg.Queue.KeepFailed = 500
	}
	if cfg.Queue.Retention <= 0 {
		cfg.Queue.Retention = 24 * time.Hour
	}

	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = 4
	}
	if cfg.Worker.PollInterval <= 0 {
		cfg.Worker.PollInterval = 500 * time.Millisecond
	}
	if cfg.Worker.JobTimeout <= 0 {
		cfg.Worker.JobTimeout = 2 * time.Minute
	}
	if cfg.Worker.Lease <= 0 {
		cfg.Worker.Lease = cfg.Worker.JobTimeout + time.Minute
	}
	if cfg.Worker.ReaperInterval <= 0 {
		cfg.Worker.ReaperInterval = 30 * time.Second
	}
	if cfg.Worker.ReconcileInterval <= 0 {
		cfg.Worker.ReconcileInterval = time.Minute
	}
	if cfg.Worker.ReconcileStaleAfter <= 0 {
		cfg.Worker.ReconcileStaleAfter = 5 * time.Minute
	}

	if cfg.Generation.Provider == "" {
		switch {
		case cfg.Generation.ServiceURL != "":
			cfg.Generation.Provider = "http"
		case cfg.Generation.GeminiKey != "":
			cfg.Generation.Provider = "gemini"
		case cfg.Generation.OpenAIKey != "":
			cfg.Generation.Provider = "openai"
		default:
			cfg.Generation.Provider = "placeholder"
		}
	}
	if cfg.Generation.GeminiModel == "" {
		cfg.Generation.GeminiModel = "imagen-3.0-generate-002"
	}
	if cfg.Generation.OpenAIModel == "" {
		cfg.Generation.OpenAIModel = "dall-e-3"
	}
	if cfg.Generation.ConcurrentLimit <= 0 {
		cfg.Generation.ConcurrentLimit = cfg.Worker.Concurrency
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	if cfg.Storage.LocalDir == "" {
		cfg.Storage.LocalDir = "./uploads"
	}
	if cfg.Storage.PublicURL == "" && !cfg.Storage.UseMinIO() {
		cfg.Storage.PublicURL = fmt.Sprintf("http://localhost:%d/files", cfg.HTTP.Port)
	}
	if cfg.Storage.MinIO.Bucket == "" {
		cfg.Storage.MinIO.Bucket = "images"
	}
	if cfg.Storage.MinIO.Region == "" {
		cfg.Storage.MinIO.Region = "us-east-1"
	}

	if cfg.Cache.CategoryTTL <= 0 {
		cfg.Cache.CategoryTTL = 5 * time.Minute
	}
	if cfg.Cache.MaxCost <= 0 {
		cfg.Cache.MaxCost = 10_000
	}
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
