package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	JWT        JWTConfig
	RateLimit  RateLimitConfig
	Generation GenerationConfig
	Wrapper    WrapperConfig
	Suno       SunoConfig
	R2         R2Config
	Gateway    GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours

	// Optional external identity provider, verified via JWKS ahead of Secret
	JWKSURL  string
	Issuer   string
	Audience string
}

type RateLimitConfig struct {
	GeneratePerHour int
}

// GenerationConfig bounds the job lifecycle
type GenerationConfig struct {
	PollInterval    time.Duration
	TickBudget      int
	TransientBudget int
	MaxTextLength   int
	CancelTimeout   time.Duration
	Retention       time.Duration
	SnapshotTTL     time.Duration

	// UseQueue routes cancel notifications and result archiving through asynq
	UseQueue           bool
	ManifestLinkExpiry time.Duration
}

// WrapperConfig configures the browser-automation wrapper backend
type WrapperConfig struct {
	Enabled     bool
	BaseURL     string
	Priority    int
	Timeout     int // seconds
	HealthCheck bool
}

// SunoConfig configures the hosted Suno API backend
type SunoConfig struct {
	Enabled     bool
	APIKey      string
	BaseURL     string
	Priority    int
	Model       string
	CallbackURL string
	Degraded    bool
	MaxRetries  int
	Timeout     int // seconds
	HealthCheck bool

	// Redact @ and + in prompts before they leave the service
	SanitizePrompts bool
	MaxConcurrency  int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("SUNO_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("jwt.jwks_url", "JWT_JWKS_URL")
	_ = viper.BindEnv("jwt.issuer", "JWT_ISSUER")
	_ = viper.BindEnv("jwt.audience", "JWT_AUDIENCE")
	_ = viper.BindEnv("ratelimit.generate_per_hour", "RATELIMIT_GENERATE_PER_HOUR")
	_ = viper.BindEnv("generation.poll_interval", "GENERATION_POLL_INTERVAL")
	_ = viper.BindEnv("generation.tick_budget", "GENERATION_TICK_BUDGET")
	_ = viper.BindEnv("generation.transient_budget", "GENERATION_TRANSIENT_BUDGET")
	_ = viper.BindEnv("generation.max_text_length", "GENERATION_MAX_TEXT_LENGTH")
	_ = viper.BindEnv("generation.cancel_timeout", "GENERATION_CANCEL_TIMEOUT")
	_ = viper.BindEnv("generation.retention", "GENERATION_RETENTION")
	_ = viper.BindEnv("generation.snapshot_ttl", "GENERATION_SNAPSHOT_TTL")
	_ = viper.BindEnv("generation.manifest_link_expiry", "GENERATION_MANIFEST_LINK_EXPIRY")
	_ = viper.BindEnv("generation.use_queue", "GENERATION_USE_QUEUE")
	_ = viper.BindEnv("wrapper.enabled", "WRAPPER_ENABLED")
	_ = viper.BindEnv("wrapper.base_url", "WRAPPER_BASE_URL")
	_ = viper.BindEnv("wrapper.priority", "WRAPPER_PRIORITY")
	_ = viper.BindEnv("wrapper.timeout", "WRAPPER_TIMEOUT")
	_ = viper.BindEnv("wrapper.health_check", "WRAPPER_HEALTH_CHECK")
	_ = viper.BindEnv("suno.enabled", "SUNO_ENABLED")
	_ = viper.BindEnv("suno.api_key", "SUNO_API_KEY")
	_ = viper.BindEnv("suno.base_url", "SUNO_BASE_URL")
	_ = viper.BindEnv("suno.priority", "SUNO_PRIORITY")
	_ = viper.BindEnv("suno.model", "SUNO_MODEL")
	_ = viper.BindEnv("suno.callback_url", "SUNO_CALLBACK_URL")
	_ = viper.BindEnv("suno.degraded", "SUNO_DEGRADED")
	_ = viper.BindEnv("suno.max_retries", "SUNO_MAX_RETRIES")
	_ = viper.BindEnv("suno.timeout", "SUNO_TIMEOUT")
	_ = viper.BindEnv("suno.health_check", "SUNO_HEALTH_CHECK")
	_ = viper.BindEnv("suno.sanitize_prompts", "SUNO_SANITIZE_PROMPTS")
	_ = viper.BindEnv("suno.max_concurrency", "SUNO_MAX_CONCURRENCY")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.generate_per_hour", 10)

	// Generation defaults: 300 ticks at 2s is a 10 minute budget
	viper.SetDefault("generation.poll_interval", "2s")
	viper.SetDefault("generation.tick_budget", 300)
	viper.SetDefault("generation.transient_budget", 3)
	viper.SetDefault("generation.max_text_length", 3000)
	viper.SetDefault("generation.cancel_timeout", "10s")
	viper.SetDefault("generation.retention", "1h")
	viper.SetDefault("generation.snapshot_ttl", "24h")
	viper.SetDefault("generation.manifest_link_expiry", "1h")
	viper.SetDefault("generation.use_queue", true)

	// Wrapper defaults
	viper.SetDefault("wrapper.enabled", true)
	viper.SetDefault("wrapper.base_url", "http://localhost:3001")
	viper.SetDefault("wrapper.priority", 0)
	viper.SetDefault("wrapper.timeout", 30)
	viper.SetDefault("wrapper.health_check", true)

	// Suno defaults
	viper.SetDefault("suno.enabled", true)
	viper.SetDefault("suno.base_url", "https://api.sunoapi.org")
	viper.SetDefault("suno.priority", 10)
	viper.SetDefault("suno.model", "V4_5")
	viper.SetDefault("suno.degraded", true)
	viper.SetDefault("suno.max_retries", 4)
	viper.SetDefault("suno.timeout", 60)
	viper.SetDefault("suno.health_check", false)
	viper.SetDefault("suno.sanitize_prompts", true)
	viper.SetDefault("suno.max_concurrency", 20)

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
			JWKSURL:    viper.GetString("jwt.jwks_url"),
			Issuer:     viper.GetString("jwt.issuer"),
			Audience:   viper.GetString("jwt.audience"),
		},
		RateLimit: RateLimitConfig{
			GeneratePerHour: viper.GetInt("ratelimit.generate_per_hour"),
		},
		Generation: GenerationConfig{
			PollInterval:    viper.GetDuration("generation.poll_interval"),
			TickBudget:      viper.GetInt("generation.tick_budget"),
			TransientBudget: viper.GetInt("generation.transient_budget"),
			MaxTextLength:   viper.GetInt("generation.max_text_length"),
			CancelTimeout:   viper.GetDuration("generation.cancel_timeout"),
			Retention:       viper.GetDuration("generation.retention"),
			SnapshotTTL:     viper.GetDuration("generation.snapshot_ttl"),
			UseQueue:        viper.GetBool("generation.use_queue"),

			ManifestLinkExpiry: viper.GetDuration("generation.manifest_link_expiry"),
		},
		Wrapper: WrapperConfig{
			Enabled:     viper.GetBool("wrapper.enabled"),
			BaseURL:     viper.GetString("wrapper.base_url"),
			Priority:    viper.GetInt("wrapper.priority"),
			Timeout:     viper.GetInt("wrapper.timeout"),
			HealthCheck: viper.GetBool("wrapper.health_check"),
		},
		Suno: SunoConfig{
			Enabled:     viper.GetBool("suno.enabled"),
			APIKey:      viper.GetString("suno.api_key"),
			BaseURL:     viper.GetString("suno.base_url"),
			Priority:    viper.GetInt("suno.priority"),
			Model:       viper.GetString("suno.model"),
			CallbackURL: viper.GetString("suno.callback_url"),
			Degraded:    viper.GetBool("suno.degraded"),
			MaxRetries:  viper.GetInt("suno.max_retries"),
			Timeout:     viper.GetInt("suno.timeout"),
			HealthCheck: viper.GetBool("suno.health_check"),

			SanitizePrompts: viper.GetBool("suno.sanitize_prompts"),
			MaxConcurrency:  viper.GetInt("suno.max_concurrency"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}
