package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	JWTSecret      string        `mapstructure:"JWT_SECRET"`
	JWTTTL         time.Duration `mapstructure:"JWT_TTL"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`

	LLMProvider        string        `mapstructure:"LLM_PROVIDER"`
	LLMBaseURL         string        `mapstructure:"LLM_BASE_URL"`
	LLMModel           string        `mapstructure:"LLM_MODEL"`
	LLMAPIKey          string        `mapstructure:"LLM_API_KEY"`
	LLMKeepAlive       string        `mapstructure:"LLM_KEEP_ALIVE"`
	LLMMaxIdleConns    int           `mapstructure:"LLM_MAX_IDLE_CONNS"`
	LLMProbeTimeout    time.Duration `mapstructure:"LLM_PROBE_TIMEOUT"`
	LLMTimeoutFast     time.Duration `mapstructure:"LLM_TIMEOUT_FAST"`
	LLMTimeoutSlow     time.Duration `mapstructure:"LLM_TIMEOUT_SLOW"`
	LLMCacheTTL        time.Duration `mapstructure:"LLM_CACHE_TTL"`
	LLMCacheMaxEntries int           `mapstructure:"LLM_CACHE_MAX_ENTRIES"`
	LLMMaxInflight     int64         `mapstructure:"LLM_MAX_INFLIGHT"`
	LLMEngineVersion   string        `mapstructure:"LLM_ENGINE_VERSION"`
	LLMThreads         int           `mapstructure:"LLM_THREADS"`

	LLMNumPredict        int     `mapstructure:"LLM_NUM_PREDICT"`
	LLMNumPredictFast    int     `mapstructure:"LLM_NUM_PREDICT_FAST"`
	LLMTemperature       float64 `mapstructure:"LLM_TEMPERATURE"`
	LLMTemperatureFast   float64 `mapstructure:"LLM_TEMPERATURE_FAST"`
	LLMNumCtx            int     `mapstructure:"LLM_NUM_CTX"`
	LLMNumCtxFast        int     `mapstructure:"LLM_NUM_CTX_FAST"`
	LLMTopP              float64 `mapstructure:"LLM_TOP_P"`
	LLMTopPFast          float64 `mapstructure:"LLM_TOP_P_FAST"`
	LLMTopK              int     `mapstructure:"LLM_TOP_K"`
	LLMTopKFast          int     `mapstructure:"LLM_TOP_K_FAST"`
	LLMRepeatPenalty     float64 `mapstructure:"LLM_REPEAT_PENALTY"`
	LLMRepeatPenaltyFast float64 `mapstructure:"LLM_REPEAT_PENALTY_FAST"`
}

// GenerationOptions holds the sampling parameters sent with one upstream call.
type GenerationOptions struct {
	NumPredict    int
	Temperature   float64
	NumCtx        int
	TopP          float64
	TopK          int
	RepeatPenalty float64
	NumThread     int
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS",
	"JWT_SECRET", "JWT_TTL", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"LLM_PROVIDER", "LLM_BASE_URL", "LLM_MODEL", "LLM_API_KEY", "LLM_KEEP_ALIVE",
	"LLM_MAX_IDLE_CONNS", "LLM_PROBE_TIMEOUT", "LLM_TIMEOUT_FAST", "LLM_TIMEOUT_SLOW",
	"LLM_CACHE_TTL", "LLM_CACHE_MAX_ENTRIES", "LLM_MAX_INFLIGHT", "LLM_ENGINE_VERSION",
	"LLM_THREADS",
	"LLM_NUM_PREDICT", "LLM_NUM_PREDICT_FAST", "LLM_TEMPERATURE", "LLM_TEMPERATURE_FAST",
	"LLM_NUM_CTX", "LLM_NUM_CTX_FAST", "LLM_TOP_P", "LLM_TOP_P_FAST",
	"LLM_TOP_K", "LLM_TOP_K_FAST", "LLM_REPEAT_PENALTY", "LLM_REPEAT_PENALTY_FAST",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("JWT_TTL", "24h")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)

	v.SetDefault("LLM_PROVIDER", "ollama")
	v.SetDefault("LLM_BASE_URL", "http://localhost:11434")
	v.SetDefault("LLM_MODEL", "signos-vitales-gemma")
	v.SetDefault("LLM_KEEP_ALIVE", "2h")
	v.SetDefault("LLM_MAX_IDLE_CONNS", 10)
	v.SetDefault("LLM_PROBE_TIMEOUT", "30s")
	v.SetDefault("LLM_TIMEOUT_FAST", "30s")
	v.SetDefault("LLM_TIMEOUT_SLOW", "45s")
	v.SetDefault("LLM_CACHE_TTL", "120s")
	v.SetDefault("LLM_CACHE_MAX_ENTRIES", 1024)
	v.SetDefault("LLM_MAX_INFLIGHT", 1)
	v.SetDefault("LLM_ENGINE_VERSION", "v1-2026-10")
	v.SetDefault("LLM_THREADS", 4)

	v.SetDefault("LLM_NUM_PREDICT", 100)
	v.SetDefault("LLM_NUM_PREDICT_FAST", 64)
	v.SetDefault("LLM_TEMPERATURE", 0.2)
	v.SetDefault("LLM_TEMPERATURE_FAST", 0.12)
	v.SetDefault("LLM_NUM_CTX", 384)
	v.SetDefault("LLM_NUM_CTX_FAST", 320)
	v.SetDefault("LLM_TOP_P", 0.9)
	v.SetDefault("LLM_TOP_P_FAST", 0.85)
	v.SetDefault("LLM_TOP_K", 40)
	v.SetDefault("LLM_TOP_K_FAST", 20)
	v.SetDefault("LLM_REPEAT_PENALTY", 1.1)
	v.SetDefault("LLM_REPEAT_PENALTY_FAST", 1.05)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Warn().Msg("server is running in development mode (ENV=development)")
		log.Warn().Msg("requests without a bearer token get admin access")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when ENV=%q", c.Env)
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive, got %s", c.JWTTTL)
	}

	switch c.LLMProvider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("LLM_PROVIDER must be \"ollama\" or \"openai\", got %q", c.LLMProvider)
	}
	if c.LLMBaseURL == "" {
		return fmt.Errorf("LLM_BASE_URL is required")
	}
	if c.LLMMaxInflight < 1 {
		return fmt.Errorf("LLM_MAX_INFLIGHT must be at least 1, got %d", c.LLMMaxInflight)
	}
	if c.LLMTimeoutFast <= 0 || c.LLMTimeoutSlow <= 0 || c.LLMProbeTimeout <= 0 {
		return fmt.Errorf("LLM timeouts must be positive")
	}
	if c.LLMCacheTTL <= 0 {
		return fmt.Errorf("LLM_CACHE_TTL must be positive, got %s", c.LLMCacheTTL)
	}
	if c.LLMCacheMaxEntries < 1 {
		return fmt.Errorf("LLM_CACHE_MAX_ENTRIES must be at least 1, got %d", c.LLMCacheMaxEntries)
	}

	return nil
}

// UpstreamTimeout is the generation deadline for the fast or the full profile.
func (c *Config) UpstreamTimeout(fast bool) time.Duration {
	if fast {
		return c.LLMTimeoutFast
	}
	return c.LLMTimeoutSlow
}

// Generation returns the sampling options for the fast or the full profile.
func (c *Config) Generation(fast bool) GenerationOptions {
	if fast {
		return GenerationOptions{
			NumPredict:    c.LLMNumPredictFast,
			Temperature:   c.LLMTemperatureFast,
			NumCtx:        c.LLMNumCtxFast,
			TopP:          c.LLMTopPFast,
			TopK:          c.LLMTopKFast,
			RepeatPenalty: c.LLMRepeatPenaltyFast,
			NumThread:     c.LLMThreads,
		}
	}
	return GenerationOptions{
		NumPredict:    c.LLMNumPredict,
		Temperature:   c.LLMTemperature,
		NumCtx:        c.LLMNumCtx,
		TopP:          c.LLMTopP,
		TopK:          c.LLMTopK,
		RepeatPenalty: c.LLMRepeatPenalty,
		NumThread:     c.LLMThreads,
	}
}
