// Package config provides configuration for the gateway.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the gateway configuration.
type Config struct {
	// Server settings
	HTTPPort int    `yaml:"http_port"`
	WSPath   string `yaml:"ws_path"`

	// Bot identity used to detect mentions in group chats
	BotUsername string `yaml:"bot_username"`
	BotName     string `yaml:"bot_name"`

	// Storage
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	// Model backend
	LLMBaseURL        string        `yaml:"llm_base_url"`
	LLMModel          string        `yaml:"llm_model"`
	LLMAPIKey         string        `yaml:"llm_api_key"`
	LLMTemperature    float64       `yaml:"llm_temperature"`
	LLMMaxTokens      int           `yaml:"llm_max_tokens"`
	LLMAttemptTimeout time.Duration `yaml:"llm_attempt_timeout"`
	LLMRequestTimeout time.Duration `yaml:"llm_request_timeout"`
	LLMRetryAttempts  int           `yaml:"llm_retry_attempts"`
	LLMRetryMinWait   time.Duration `yaml:"llm_retry_min_wait"`
	LLMRetryMaxWait   time.Duration `yaml:"llm_retry_max_wait"`
	BreakerFailures   int           `yaml:"breaker_failures"`
	BreakerCooldown   time.Duration `yaml:"breaker_cooldown"`

	// Admission control
	RateLimitUserRequests   int           `yaml:"rate_limit_user_requests"`
	RateLimitUserWindow     time.Duration `yaml:"rate_limit_user_window"`
	RateLimitGlobalRequests int           `yaml:"rate_limit_global_requests"`
	RateLimitGlobalWindow   time.Duration `yaml:"rate_limit_global_window"`
	RateLimitFailOpen       bool          `yaml:"rate_limit_fail_open"`

	// Context
	MaxContextTokens int `yaml:"max_context_tokens"`
	HistoryLimit     int `yaml:"history_limit"`

	// Tools
	ToolTimeout        time.Duration `yaml:"tool_timeout"`
	FilesystemEnabled  bool          `yaml:"filesystem_enabled"`
	FilesystemBasePath string        `yaml:"filesystem_base_path"`
	DatabaseToolDSN    string        `yaml:"database_tool_dsn"`
	WebSearchEnabled   bool          `yaml:"websearch_enabled"`
	WebSearchURL       string        `yaml:"websearch_url"`
	NewsEnabled        bool          `yaml:"news_enabled"`
	NewsFeeds          []string      `yaml:"news_feeds"`
	ToolPolicyFile     string        `yaml:"tool_policy_file"`

	// Admin
	AdminIDs          []int64       `yaml:"admin_ids"`
	PendingActionTTL  time.Duration `yaml:"pending_action_ttl"`
	AdminAPIKey       string        `yaml:"admin_api_key"`
	WSAPIKey          string        `yaml:"ws_api_key"`
	WSPingInterval    time.Duration `yaml:"ws_ping_interval"`
	WSWriteTimeout    time.Duration `yaml:"ws_write_timeout"`
	WSReadTimeout     time.Duration `yaml:"ws_read_timeout"`
	WSMaxMessageSize  int64         `yaml:"ws_max_message_size"`
	ProcessingTimeout time.Duration `yaml:"processing_timeout"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPPort:                8080,
		WSPath:                  "/ws",
		DatabaseURL:             "file:gateway.db?cache=shared&mode=rwc",
		RedisURL:                "redis://localhost:6379/0",
		LLMBaseURL:              "http://localhost:11434",
		LLMModel:                "llama3.1",
		LLMTemperature:          0.7,
		LLMMaxTokens:            2048,
		LLMAttemptTimeout:       30 * time.Second,
		LLMRequestTimeout:       60 * time.Second,
		LLMRetryAttempts:        3,
		LLMRetryMinWait:         2 * time.Second,
		LLMRetryMaxWait:         10 * time.Second,
		BreakerFailures:         5,
		BreakerCooldown:         60 * time.Second,
		RateLimitUserRequests:   20,
		RateLimitUserWindow:     60 * time.Second,
		RateLimitGlobalRequests: 100,
		RateLimitGlobalWindow:   60 * time.Second,
		MaxContextTokens:        8000,
		HistoryLimit:            10,
		ToolTimeout:             15 * time.Second,
		FilesystemBasePath:      "/tmp/gateway_workspace",
		WebSearchURL:            "https://html.duckduckgo.com/html/",
		NewsFeeds: []string{
			"the_guardian=https://www.theguardian.com/world/rss",
			"wired=https://www.wired.com/feed/rss",
		},
		PendingActionTTL:  5 * time.Minute,
		WSPingInterval:    30 * time.Second,
		WSWriteTimeout:    10 * time.Second,
		WSReadTimeout:     60 * time.Second,
		WSMaxMessageSize:  65536,
		ProcessingTimeout: 3 * time.Minute,
		LogLevel:          "info",
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, in that order of precedence (environment wins).
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTPPort = getEnvInt("HTTP_PORT", c.HTTPPort)
	c.WSPath = getEnv("WS_PATH", c.WSPath)
	c.BotUsername = getEnv("BOT_USERNAME", c.BotUsername)
	c.BotName = getEnv("BOT_NAME", c.BotName)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)

	c.LLMBaseURL = getEnv("LLM_BASE_URL", c.LLMBaseURL)
	c.LLMModel = getEnv("LLM_MODEL_NAME", c.LLMModel)
	c.LLMAPIKey = getEnv("LLM_API_KEY", c.LLMAPIKey)
	c.LLMTemperature = getEnvFloat("LLM_TEMPERATURE", c.LLMTemperature)
	c.LLMMaxTokens = getEnvInt("LLM_MAX_TOKENS", c.LLMMaxTokens)
	c.LLMAttemptTimeout = getEnvSeconds("LLM_REQUEST_TIMEOUT", c.LLMAttemptTimeout)
	c.LLMRequestTimeout = getEnvSeconds("LLM_TIMEOUT", c.LLMRequestTimeout)
	c.LLMRetryAttempts = getEnvInt("LLM_RETRY_ATTEMPTS", c.LLMRetryAttempts)
	c.LLMRetryMinWait = getEnvSeconds("LLM_RETRY_MIN_WAIT", c.LLMRetryMinWait)
	c.LLMRetryMaxWait = getEnvSeconds("LLM_RETRY_MAX_WAIT", c.LLMRetryMaxWait)
	c.BreakerFailures = getEnvInt("LLM_CIRCUIT_BREAKER_FAILURES", c.BreakerFailures)
	c.BreakerCooldown = getEnvSeconds("LLM_CIRCUIT_BREAKER_TIMEOUT", c.BreakerCooldown)

	c.RateLimitUserRequests = getEnvInt("RATE_LIMIT_USER_REQUESTS", c.RateLimitUserRequests)
	c.RateLimitUserWindow = getEnvSeconds("RATE_LIMIT_USER_WINDOW", c.RateLimitUserWindow)
	c.RateLimitGlobalRequests = getEnvInt("RATE_LIMIT_GLOBAL_REQUESTS", c.RateLimitGlobalRequests)
	c.RateLimitGlobalWindow = getEnvSeconds("RATE_LIMIT_GLOBAL_WINDOW", c.RateLimitGlobalWindow)
	c.RateLimitFailOpen = getEnvBool("RATE_LIMIT_FAIL_OPEN", c.RateLimitFailOpen)

	c.MaxContextTokens = getEnvInt("MAX_CONTEXT_TOKENS", c.MaxContextTokens)
	c.HistoryLimit = getEnvInt("HISTORY_LIMIT", c.HistoryLimit)

	c.ToolTimeout = getEnvSeconds("TOOL_EXECUTION_TIMEOUT", c.ToolTimeout)
	c.FilesystemEnabled = getEnvBool("TOOLS_FILESYSTEM_ENABLED", c.FilesystemEnabled)
	c.FilesystemBasePath = getEnv("TOOLS_FILESYSTEM_BASE_PATH", c.FilesystemBasePath)
	c.DatabaseToolDSN = getEnv("TOOLS_DATABASE_URL", c.DatabaseToolDSN)
	c.WebSearchEnabled = getEnvBool("TOOLS_WEBSEARCH_ENABLED", c.WebSearchEnabled)
	c.WebSearchURL = getEnv("TOOLS_WEBSEARCH_URL", c.WebSearchURL)
	c.NewsEnabled = getEnvBool("TOOLS_NEWS_ENABLED", c.NewsEnabled)
	c.NewsFeeds = getEnvList("TOOLS_NEWS_FEEDS", c.NewsFeeds)
	c.ToolPolicyFile = getEnv("TOOL_POLICY_FILE", c.ToolPolicyFile)

	c.AdminIDs = getEnvIDs("ADMIN_USER_IDS", c.AdminIDs)
	c.PendingActionTTL = getEnvSeconds("PENDING_ACTION_TTL", c.PendingActionTTL)
	c.AdminAPIKey = getEnv("ADMIN_API_KEY", c.AdminAPIKey)
	c.WSAPIKey = getEnv("WS_API_KEY", c.WSAPIKey)
	c.WSPingInterval = time.Duration(getEnvInt("WS_PING_INTERVAL_MS", int(c.WSPingInterval/time.Millisecond))) * time.Millisecond
	c.WSWriteTimeout = time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", int(c.WSWriteTimeout/time.Millisecond))) * time.Millisecond
	c.WSReadTimeout = time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", int(c.WSReadTimeout/time.Millisecond))) * time.Millisecond
	c.WSMaxMessageSize = int64(getEnvInt("WS_MAX_MESSAGE_SIZE", int(c.WSMaxMessageSize)))
	c.ProcessingTimeout = getEnvSeconds("PROCESSING_TIMEOUT", c.ProcessingTimeout)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.RateLimitUserRequests <= 0 || c.RateLimitGlobalRequests <= 0:
		return fmt.Errorf("rate limits must be positive")
	case c.RateLimitUserWindow < time.Second || c.RateLimitGlobalWindow < time.Second:
		return fmt.Errorf("rate limit windows must be at least one second")
	case c.MaxContextTokens <= 0:
		return fmt.Errorf("max_context_tokens must be positive")
	case c.LLMRetryAttempts <= 0:
		return fmt.Errorf("llm_retry_attempts must be positive")
	case c.BreakerFailures <= 0:
		return fmt.Errorf("breaker_failures must be positive")
	case c.LLMRetryMinWait > c.LLMRetryMaxWait:
		return fmt.Errorf("llm_retry_min_wait exceeds llm_retry_max_wait")
	case len(c.AdminIDs) > 0 && c.WSAPIKey == "":
		return fmt.Errorf("ws_api_key is required when admin_ids are set")
	}
	return nil
}

// IsAdmin reports whether userID may run admin commands.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvSeconds accepts either a bare number of seconds or a Go duration string.
func getEnvSeconds(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvIDs(key string, defaultVal []int64) []int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var ids []int64
	for _, part := range getEnvList(key, nil) {
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
