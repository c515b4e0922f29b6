// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port         string
	FrontendURL  string
	DBDriver     string // "sqlite" or "postgres"
	DBPath       string
	DatabaseURL  string
	SessionStore string // "memory" or "sql"
	Learning     LearningConfig
	Tools        ToolsConfig
	Reasoning    ReasoningConfig
	AnalyticsLog AnalyticsLogConfig
	RateLimit    RateLimitConfig
	Timeout      TimeoutConfig
}

// LearningConfig controls session windows and progress accounting.
type LearningConfig struct {
	SessionWindow      int
	SessionTTL         time.Duration
	SweepInterval      time.Duration
	RecentTurns        int
	ContextBudgetChars int
	ProgressIncrement  int
	MasteryRate        float64
	LowMastery         float64
	MasteredThreshold  float64
	Timezone           string
}

// ToolsConfig controls tool dispatch.
type ToolsConfig struct {
	Timeout           time.Duration
	MaxPerTurn        int
	WebLookupEnabled  bool
	BraveAPIKey       string
	KnowledgeFile     string
	TopicsFile        string
	EmbeddingProvider string // "lexical" or "ollama"
	EmbeddingModel    string
	EmbeddingURL      string
}

// ReasoningConfig selects and tunes the reasoning backend.
type ReasoningConfig struct {
	Provider    string // offline, grpc, ollama, openai, gemini
	Addr        string
	Model       string
	APIKey      string
	BaseURL     string
	MaxAttempts int
	Timeout     time.Duration
	Backoff     time.Duration
}

// AnalyticsLogConfig controls NDJSON turn analytics.
type AnalyticsLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// RateLimitConfig controls per-learner message rate limiting.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// TimeoutConfig holds HTTP-facing timeouts.
type TimeoutConfig struct {
	HealthCheck time.Duration
	Shutdown    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("ANALYTICS_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		FrontendURL:  getEnv("FRONTEND_URL", ""),
		DBDriver:     strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBPath:       getEnv("DB_PATH", "./data/tutor.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		SessionStore: strings.ToLower(getEnv("SESSION_STORE", "memory")),
		Learning: LearningConfig{
			SessionWindow:      getEnvInt("SESSION_WINDOW", 50),
			SessionTTL:         getEnvDuration("SESSION_TTL", 60*time.Minute),
			SweepInterval:      getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
			RecentTurns:        getEnvInt("RECENT_TURNS", 10),
			ContextBudgetChars: getEnvInt("CONTEXT_BUDGET_CHARS", 16000),
			ProgressIncrement:  getEnvInt("PROGRESS_INCREMENT", 15),
			MasteryRate:        getEnvFloat("MASTERY_RATE", 0.1),
			LowMastery:         getEnvFloat("LOW_MASTERY", 0.5),
			MasteredThreshold:  getEnvFloat("MASTERED_THRESHOLD", 0.7),
			Timezone:           getEnv("TIMEZONE", "UTC"),
		},
		Tools: ToolsConfig{
			Timeout:           getEnvDuration("TOOL_TIMEOUT", 5*time.Second),
			MaxPerTurn:        getEnvInt("MAX_TOOLS_PER_TURN", 4),
			WebLookupEnabled:  getEnvBool("WEB_LOOKUP_ENABLED", true),
			BraveAPIKey:       getEnv("BRAVE_API_KEY", ""),
			KnowledgeFile:     getEnv("KNOWLEDGE_FILE", ""),
			TopicsFile:        getEnv("TOPICS_FILE", ""),
			EmbeddingProvider: strings.ToLower(getEnv("EMBEDDING_PROVIDER", "lexical")),
			EmbeddingModel:    getEnv("EMBEDDING_MODEL", "nomic-embed-text"),
			EmbeddingURL:      getEnv("EMBEDDING_URL", "http://localhost:11434/api"),
		},
		Reasoning: ReasoningConfig{
			Provider:    strings.ToLower(getEnv("REASONING_PROVIDER", "offline")),
			Addr:        getEnv("REASONING_ADDR", "localhost:50051"),
			Model:       getEnv("REASONING_MODEL", ""),
			APIKey:      getEnv("REASONING_API_KEY", ""),
			BaseURL:     getEnv("REASONING_BASE_URL", ""),
			MaxAttempts: getEnvInt("REASONING_MAX_ATTEMPTS", 2),
			Timeout:     getEnvDuration("REASONING_TIMEOUT", 30*time.Second),
			Backoff:     getEnvDuration("REASONING_BACKOFF", 250*time.Millisecond),
		},
		AnalyticsLog: AnalyticsLogConfig{
			Enabled:       getEnvBool("ANALYTICS_LOG_ENABLED", true),
			Dir:           getEnv("ANALYTICS_LOG_DIR", "./data/logs/analytics"),
			GlobalEnabled: getEnvBool("ANALYTICS_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("ANALYTICS_LOG_GLOBAL_PATH", "./data/logs/analytics/all.ndjson"),
			QueueSize:     queueSize,
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Timeout: TimeoutConfig{
			HealthCheck: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
			Shutdown:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.DBDriver {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.SessionStore != "memory" && c.SessionStore != "sql" {
		return fmt.Errorf("unsupported SESSION_STORE %q", c.SessionStore)
	}
	if c.Learning.SessionWindow <= 0 {
		return fmt.Errorf("SESSION_WINDOW must be > 0")
	}
	if c.Learning.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Learning.ProgressIncrement < 0 || c.Learning.ProgressIncrement > 100 {
		return fmt.Errorf("PROGRESS_INCREMENT must be within [0,100]")
	}
	if c.Learning.MasteryRate <= 0 || c.Learning.MasteryRate > 1 {
		return fmt.Errorf("MASTERY_RATE must be within (0,1]")
	}
	if _, err := time.LoadLocation(c.Learning.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	if c.Tools.Timeout <= 0 {
		return fmt.Errorf("TOOL_TIMEOUT must be > 0")
	}
	if c.Reasoning.MaxAttempts <= 0 {
		return fmt.Errorf("REASONING_MAX_ATTEMPTS must be > 0")
	}
	if c.AnalyticsLog.Dir == "" {
		return fmt.Errorf("ANALYTICS_LOG_DIR cannot be empty")
	}
	if c.AnalyticsLog.GlobalPath == "" {
		return fmt.Errorf("ANALYTICS_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	return nil
}

// Location returns the time zone used for learning graph dates.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Learning.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
