package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Env        string `env:"APP_ENV"`
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	AssemblyAI AssemblyAIConfig
	Storage    StorageConfig
	Upload     UploadConfig
}

type ServerConfig struct {
	Host           string   `env:"SERVER_HOST"`
	Port           int      `env:"PORT" validate:"min=1,max=65535"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" validate:"min=1"`
	RateLimitRPS   float64  `env:"RATE_LIMIT_RPS" validate:"gt=0"`
	RateLimitBurst int      `env:"RATE_LIMIT_BURST" validate:"min=1"`
}

type DatabaseConfig struct {
	URL      string `env:"DATABASE_URL" validate:"required"`
	MaxConns int    `env:"DB_MAX_CONNS" validate:"min=1"`
	MinConns int    `env:"DB_MIN_CONNS" validate:"min=0,ltefield=MaxConns"`

	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE" validate:"min=0"`
}

type RedisConfig struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" validate:"min=0"`
	TTL      time.Duration `env:"CACHE_TTL" validate:"gt=0"`
}

type AuthConfig struct {
	JWTSecret string `env:"SUPABASE_JWT_SECRET"`
}

type AssemblyAIConfig struct {
	APIKey          string        `env:"ASSEMBLYAI_API_KEY" validate:"required"`
	BaseURL         string        `env:"ASSEMBLYAI_BASE_URL" validate:"required,url"`
	PollInterval    time.Duration `env:"POLL_INTERVAL" validate:"gt=0"`
	MaxPollAttempts int           `env:"POLL_MAX_ATTEMPTS" validate:"min=1"`
	HTTPTimeout     time.Duration `env:"ASSEMBLYAI_HTTP_TIMEOUT" validate:"gt=0"`
}

type StorageConfig struct {
	SupabaseURL string `env:"SUPABASE_URL" validate:"omitempty,url"`
	SupabaseKey string `env:"SUPABASE_SERVICE_KEY"`
	Bucket      string `env:"STORAGE_BUCKET"`
}

type UploadConfig struct {
	Dir      string `env:"UPLOAD_DIR" validate:"required"`
	MaxBytes int64  `env:"MAX_UPLOAD_MB" validate:"gt=0"`
}

// Load reads configuration from the environment. Outside production a .env
// file in the working directory is loaded first; variables already set win.
func Load() (*Config, error) {
	env := getEnv("APP_ENV", "development")
	if env != "production" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	port, err := getEnvInt("PORT", 5000)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	connIdle, err := getEnvDuration("DB_MAX_CONN_IDLE", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONN_IDLE: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cacheTTL, err := getEnvDuration("CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}

	pollInterval, err := getEnvDuration("POLL_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid POLL_INTERVAL: %w", err)
	}

	pollAttempts, err := getEnvInt("POLL_MAX_ATTEMPTS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid POLL_MAX_ATTEMPTS: %w", err)
	}

	// Covers a full-size upload over a slow link.
	httpTimeout, err := getEnvDuration("ASSEMBLYAI_HTTP_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid ASSEMBLYAI_HTTP_TIMEOUT: %w", err)
	}

	maxUploadMB, err := getEnvInt("MAX_UPLOAD_MB", 100)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_MB: %w", err)
	}

	rps, err := getEnvFloat("RATE_LIMIT_RPS", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}

	burst, err := getEnvInt("RATE_LIMIT_BURST", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
	}

	cfg := &Config{
		Env: env,
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           port,
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			RateLimitRPS:   rps,
			RateLimitBurst: burst,
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: maxConns,
			MinConns: minConns,

			MaxConnIdleTime: connIdle,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
			TTL:      cacheTTL,
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("SUPABASE_JWT_SECRET", ""),
		},
		AssemblyAI: AssemblyAIConfig{
			APIKey:          getEnv("ASSEMBLYAI_API_KEY", ""),
			BaseURL:         getEnv("ASSEMBLYAI_BASE_URL", "https://api.assemblyai.com/v2"),
			PollInterval:    pollInterval,
			MaxPollAttempts: pollAttempts,
			HTTPTimeout:     httpTimeout,
		},
		Storage: StorageConfig{
			SupabaseURL: getEnv("SUPABASE_URL", ""),
			SupabaseKey: getEnv("SUPABASE_SERVICE_KEY", ""),
			Bucket:      getEnv("STORAGE_BUCKET", "audio"),
		},
		Upload: UploadConfig{
			Dir:      getEnv("UPLOAD_DIR", "uploads"),
			MaxBytes: int64(maxUploadMB) << 20,
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ArchiveEnabled reports whether transcribed audio is copied to object storage.
func (c *Config) ArchiveEnabled() bool {
	return c.Storage.SupabaseURL != "" && c.Storage.SupabaseKey != "" && c.Storage.Bucket != ""
}

// PollCeiling is the longest a single run may spend waiting on the provider.
func (c *Config) PollCeiling() time.Duration {
	return c.AssemblyAI.PollInterval * time.Duration(c.AssemblyAI.MaxPollAttempts)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// Validate reports missing or malformed settings by environment variable name.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	var missing, invalid []string
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())
		} else {
			invalid = append(invalid, fe.Field())
		}
	}

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing required env vars: "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		parts = append(parts, "invalid env vars: "+strings.Join(invalid, ", "))
	}
	return errors.New(strings.Join(parts, "; "))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
