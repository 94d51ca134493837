package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	DBMaxConns  int
	JWTSecret   string
	SweepToken  string
	RedisURL    string

	TaskAPIBaseURL  string
	TaskAPIKey      string
	DashScopeAPIKey string
	DashScopeURL    string
	DashScopeModel  string
	LLMAPIKey       string
	LLMBaseURL      string
	LLMModel        string

	ProviderTimeout    time.Duration
	ProviderMaxRetries int

	SweepInterval   time.Duration
	SweepPolicyFile string
	WorkerLockPath  string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
// Values from .env and .env.local are applied first without overriding the real environment.
func LoadConfig() (*Config, error) {
	loadDotEnv(".env.local", ".env")

	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		SweepToken:  os.Getenv("SWEEP_TOKEN"),
		RedisURL:    os.Getenv("REDIS_URL"),

		TaskAPIBaseURL:  getEnv("TASK_API_BASE_URL", "https://api.kie.ai"),
		TaskAPIKey:      os.Getenv("TASK_API_KEY"),
		DashScopeAPIKey: os.Getenv("DASHSCOPE_API_KEY"),
		DashScopeURL:    getEnv("DASHSCOPE_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		DashScopeModel:  getEnv("DASHSCOPE_MODEL", "wanx2.1-t2i-turbo"),
		LLMAPIKey:       os.Getenv("LLM_API_KEY"),
		LLMBaseURL:      getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMModel:        getEnv("LLM_MODEL", "gpt-4o-mini"),

		ProviderTimeout:    time.Second * time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 45)),
		ProviderMaxRetries: getEnvInt("PROVIDER_MAX_RETRIES", 2),

		SweepInterval:   time.Second * time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 60)),
		SweepPolicyFile: os.Getenv("SWEEP_POLICY_FILE"),
		WorkerLockPath:  getEnv("WORKER_LOCK_PATH", os.TempDir()+"/genflow-worker.lock"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("SWEEP_INTERVAL_SECONDS must be positive")
	}
	if cfg.ProviderMaxRetries < 0 {
		cfg.ProviderMaxRetries = 0
	}

	return cfg, nil
}

// RequireAPI validates the settings only the HTTP API needs.
func (c *Config) RequireAPI() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	return nil
}

func loadDotEnv(files ...string) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		// godotenv.Load never overrides variables that are already set.
		_ = godotenv.Load(f)
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
