/*
Package core provides configuration management and logging initialization
for the cortex server.

Configuration follows the twelve-factor app methodology: every value has a
development default and can be overridden by an environment variable. Rules
and project descriptions live in a separate file named by RULES_FILE.
*/
package core

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds all configurable values of the server.
type Config struct {
	// Server configuration
	Port string // HTTP server port number (default: "8080")

	// LLM provider configuration
	LLMProvider    string // "ollama" or "gemini" (default: "gemini", falls back to "ollama" without an API key)
	OllamaEndpoint string // Base URL of the Ollama API (default: "http://localhost:11434")
	OllamaModel    string // Ollama model name (default: "qwen3")
	GeminiAPIKey   string // Google Gemini API key, required for the gemini provider
	GeminiModel    string // Gemini model name (default: "gemini-2.0-flash")

	// Dispatch configuration
	Streaming      bool          // Answer /chat through the streaming backend (default: false)
	AgentEnabled   bool          // Default agent mode for requests that do not choose (default: true)
	MaxIterations  int           // Maximum model turns of an agent run (default: 10)
	MemoryWindow   int           // Messages the agent remembers across exchanges, 0 disables (default: 0)
	RequestTimeout time.Duration // Timeout of a synchronous request (default: 300s)
	StreamTimeout  time.Duration // Lifetime bound of a streaming session (default: 300s)
	ContextLimit   int           // Maximum past exchanges sent with a session request (default: 10)

	// Collaborators
	RulesFile    string // YAML or TOML rules file, empty for no rules
	UsageDBPath  string // SQLite database for token usage, empty to only count (default: "data/usage.db")
	TokenModel   string // Model name used for token counting (default: the active model)
	WorkspaceDir string // Directory the agent tools may read (default: working directory)

	// Session memory configuration
	SessionMaxAge   time.Duration // How long an idle session is kept (default: 24h)
	CleanupInterval time.Duration // How often expired sessions are removed (default: 1h)

	// Logging and debugging configuration
	LogLevel          string // debug, info, warn, error (default: "info")
	LogTruncateLength int    // Maximum length of logged payloads (default: 500)
	DebugMode         bool   // Log every agent callback (default: false)
}

// LoadConfig loads configuration from environment variables with sensible defaults.
//
// Environment Variables:
//   - PORT, LLM_PROVIDER, OLLAMA_ENDPOINT, OLLAMA_MODEL, GEMINI_API_KEY, GEMINI_MODEL
//   - STREAMING, AGENT_ENABLED, DEBUG_MODE (boolean: "true"/"1")
//   - MAX_ITERATIONS, MEMORY_WINDOW, CONTEXT_LIMIT, LOG_TRUNCATE_LENGTH (integer)
//   - REQUEST_TIMEOUT, STREAM_TIMEOUT (integer seconds)
//   - SESSION_MAX_AGE_HOURS, CLEANUP_INTERVAL_MINUTES (integer)
//   - RULES_FILE, USAGE_DB_PATH, TOKEN_MODEL, WORKSPACE_DIR, LOG_LEVEL (string)
func LoadConfig() *Config {
	config := &Config{
		Port: "8080",

		LLMProvider:    "gemini",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "qwen3",
		GeminiModel:    "gemini-2.0-flash",

		AgentEnabled:   true,
		MaxIterations:  10,
		RequestTimeout: 300 * time.Second,
		StreamTimeout:  300 * time.Second,
		ContextLimit:   10,

		UsageDBPath: "data/usage.db",

		SessionMaxAge:   24 * time.Hour,
		CleanupInterval: 1 * time.Hour,

		LogLevel:          "info",
		LogTruncateLength: 500,
	}

	if port := os.Getenv("PORT"); port != "" {
		config.Port = port
	}

	if provider := os.Getenv("LLM_PROVIDER"); provider == "ollama" || provider == "gemini" {
		config.LLMProvider = provider
	}
	stringFromEnv("OLLAMA_ENDPOINT", &config.OllamaEndpoint)
	stringFromEnv("OLLAMA_MODEL", &config.OllamaModel)
	stringFromEnv("GEMINI_API_KEY", &config.GeminiAPIKey)
	stringFromEnv("GEMINI_MODEL", &config.GeminiModel)

	boolFromEnv("STREAMING", &config.Streaming)
	boolFromEnv("AGENT_ENABLED", &config.AgentEnabled)
	boolFromEnv("DEBUG_MODE", &config.DebugMode)

	positiveIntFromEnv("MAX_ITERATIONS", &config.MaxIterations)
	positiveIntFromEnv("CONTEXT_LIMIT", &config.ContextLimit)
	positiveIntFromEnv("LOG_TRUNCATE_LENGTH", &config.LogTruncateLength)

	// Zero is meaningful for the memory window
	if window := os.Getenv("MEMORY_WINDOW"); window != "" {
		if val, err := strconv.Atoi(window); err == nil && val >= 0 {
			config.MemoryWindow = val
		}
	}

	durationFromEnv("REQUEST_TIMEOUT", time.Second, &config.RequestTimeout)
	durationFromEnv("STREAM_TIMEOUT", time.Second, &config.StreamTimeout)
	durationFromEnv("SESSION_MAX_AGE_HOURS", time.Hour, &config.SessionMaxAge)
	durationFromEnv("CLEANUP_INTERVAL_MINUTES", time.Minute, &config.CleanupInterval)

	stringFromEnv("RULES_FILE", &config.RulesFile)
	if path, ok := os.LookupEnv("USAGE_DB_PATH"); ok {
		config.UsageDBPath = path
	}
	stringFromEnv("TOKEN_MODEL", &config.TokenModel)
	stringFromEnv("WORKSPACE_DIR", &config.WorkspaceDir)
	stringFromEnv("LOG_LEVEL", &config.LogLevel)

	// Fall back to ollama if the Gemini key is missing
	if config.LLMProvider == "gemini" && config.GeminiAPIKey == "" {
		config.LLMProvider = "ollama"
	}

	return config
}

// ModelName returns the model of the active provider.
func (c *Config) ModelName() string {
	if c.LLMProvider == "gemini" {
		return c.GeminiModel
	}
	return c.OllamaModel
}

func stringFromEnv(name string, target *string) {
	if val := os.Getenv(name); val != "" {
		*target = val
	}
}

func boolFromEnv(name string, target *bool) {
	if val := os.Getenv(name); val != "" {
		*target = strings.ToLower(val) == "true" || val == "1"
	}
}

func positiveIntFromEnv(name string, target *int) {
	if val, err := strconv.Atoi(os.Getenv(name)); err == nil && val > 0 {
		*target = val
	}
}

func durationFromEnv(name string, unit time.Duration, target *time.Duration) {
	if val, err := strconv.Atoi(os.Getenv(name)); err == nil && val > 0 {
		*target = time.Duration(val) * unit
	}
}

// InitializeLogger configures the standard logrus logger, which every package
// logs through, and returns it. Output is JSON with RFC3339 timestamps on stdout.
func InitializeLogger(config *Config) *logrus.Logger {
	logger := logrus.StandardLogger()

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	switch strings.ToLower(config.LogLevel) {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	logger.SetOutput(os.Stdout)

	logger.WithFields(logrus.Fields{
		"llmProvider":       config.LLMProvider,
		"model":             config.ModelName(),
		"streaming":         config.Streaming,
		"agentEnabled":      config.AgentEnabled,
		"maxIterations":     config.MaxIterations,
		"memoryWindow":      config.MemoryWindow,
		"requestTimeout":    config.RequestTimeout,
		"streamTimeout":     config.StreamTimeout,
		"contextLimit":      config.ContextLimit,
		"rulesFile":         config.RulesFile,
		"usageDBPath":       config.UsageDBPath,
		"workspaceDir":      config.WorkspaceDir,
		"sessionMaxAge":     config.SessionMaxAge,
		"cleanupInterval":   config.CleanupInterval,
		"logTruncateLength": config.LogTruncateLength,
		"debugMode":         config.DebugMode,
	}).Info("Configuration loaded")

	return logger
}
