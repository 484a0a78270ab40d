/*
Package core implements the Happy Shopper agent gateway: the server-side
relay between the storefront chat widget and the hosted reasoning engine.

This file handles:
- Loading configuration from environment variables with sensible defaults
- Fail-fast validation of the required upstream identifiers
- Structured logging setup with configurable levels

The configuration system follows the twelve-factor app methodology by
prioritizing environment variables for deployment flexibility while
providing reasonable defaults for development. The loaded Config is
immutable and passed by injection to every component — nothing reads
configuration from ambient global state.
*/
package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds all configurable values for the agent gateway.
type Config struct {
	// Server configuration
	Port           string   // HTTP listen port (default: "8080")
	AllowedOrigins []string // CORS origins allowed to call the gateway (default: all)

	// Upstream reasoning engine identifiers. All three are required;
	// the gateway refuses to start without them.
	ProjectID  string // Cloud project hosting the reasoning engine
	Location   string // Region qualifier for the upstream endpoint
	ResourceID string // Reasoning engine resource identifier

	// Relay behavior
	RequestTimeout  time.Duration // Timeout for one upstream call (default: 300s)
	StreamResponses bool          // Proxy send-message as live SSE instead of a buffered array (default: false)

	// Advisor LLM configuration. The advisor nudge generator runs in the
	// gateway using the configured provider.
	AdvisorProvider string // "gemini" or "ollama" (default: "gemini")
	GeminiAPIKey    string // API key for Google Gemini (required when using gemini provider)
	GeminiModel     string // Gemini model name (default: "gemini-2.0-flash")
	OllamaEndpoint  string // Ollama API base URL (default: "http://localhost:11434")
	OllamaModel     string // Ollama model name (default: "qwen3")

	// Logging configuration
	LogLevel          string // Minimum log level: debug, info, warn, error (default: "info")
	LogTruncateLength int    // Maximum payload length echoed into logs (default: 500)
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. The required upstream identifiers (PROJECT_ID, LOCATION,
// RESOURCE_ID) have no defaults: a missing identifier is a startup error
// and the process must refuse to start.
//
// Environment Variables:
//   - PORT: server port (string)
//   - ALLOWED_ORIGINS: comma-separated CORS origins (string)
//   - PROJECT_ID: cloud project identifier (required)
//   - LOCATION: upstream region (required)
//   - RESOURCE_ID: reasoning engine resource identifier (required)
//   - REQUEST_TIMEOUT: upstream call timeout in seconds (integer)
//   - STREAM_RESPONSES: proxy live SSE instead of buffering ("true"/"1")
//   - ADVISOR_PROVIDER: "gemini" or "ollama"
//   - GEMINI_API_KEY, GEMINI_MODEL, OLLAMA_ENDPOINT, OLLAMA_MODEL
//   - LOG_LEVEL, LOG_TRUNCATE_LENGTH
func LoadConfig() (*Config, error) {
	config := &Config{
		Port: "8080",

		RequestTimeout:  300 * time.Second,
		StreamResponses: false,

		AdvisorProvider: "gemini",
		GeminiModel:     "gemini-2.0-flash",
		OllamaEndpoint:  "http://localhost:11434",
		OllamaModel:     "qwen3",

		LogLevel:          "info",
		LogTruncateLength: 500,
	}

	if port := os.Getenv("PORT"); port != "" {
		config.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				config.AllowedOrigins = append(config.AllowedOrigins, origin)
			}
		}
	}

	config.ProjectID = os.Getenv("PROJECT_ID")
	config.Location = os.Getenv("LOCATION")
	config.ResourceID = os.Getenv("RESOURCE_ID")

	// Fail fast: the gateway cannot address the upstream engine without
	// all three identifiers.
	var missing []string
	if config.ProjectID == "" {
		missing = append(missing, "PROJECT_ID")
	}
	if config.Location == "" {
		missing = append(missing, "LOCATION")
	}
	if config.ResourceID == "" {
		missing = append(missing, "RESOURCE_ID")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if timeout := os.Getenv("REQUEST_TIMEOUT"); timeout != "" {
		if val, err := strconv.Atoi(timeout); err == nil && val > 0 {
			config.RequestTimeout = time.Duration(val) * time.Second
		}
	}

	if stream := os.Getenv("STREAM_RESPONSES"); stream != "" {
		config.StreamResponses = strings.ToLower(stream) == "true" || stream == "1"
	}

	if provider := os.Getenv("ADVISOR_PROVIDER"); provider != "" {
		if provider == "ollama" || provider == "gemini" {
			config.AdvisorProvider = provider
		}
	}

	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.GeminiAPIKey = apiKey
	}

	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		config.GeminiModel = model
	}

	if endpoint := os.Getenv("OLLAMA_ENDPOINT"); endpoint != "" {
		config.OllamaEndpoint = endpoint
	}

	if model := os.Getenv("OLLAMA_MODEL"); model != "" {
		config.OllamaModel = model
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.LogLevel = logLevel
	}

	if truncateLen := os.Getenv("LOG_TRUNCATE_LENGTH"); truncateLen != "" {
		if val, err := strconv.Atoi(truncateLen); err == nil && val > 0 {
			config.LogTruncateLength = val
		}
	}

	// The advisor degrades to ollama when no Gemini key is configured, so
	// a storefront without a key still gets nudges from a local model.
	if config.AdvisorProvider == "gemini" && config.GeminiAPIKey == "" {
		config.AdvisorProvider = "ollama"
	}

	return config, nil
}

// EngineBaseURL returns the region-qualified upstream endpoint for the
// configured reasoning engine.
func (c *Config) EngineBaseURL() string {
	return fmt.Sprintf(
		"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/reasoningEngines/%s",
		c.Location, c.ProjectID, c.Location, c.ResourceID,
	)
}

// InitializeLogger configures and returns a structured logger based on the
// provided configuration. The logger uses JSON formatting with RFC3339
// timestamps and writes to stdout for container-friendly log aggregation.
func InitializeLogger(config *Config) *logrus.Logger {
	logger := logrus.New()

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	switch strings.ToLower(config.LogLevel) {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	logger.SetOutput(os.Stdout)

	logger.WithFields(logrus.Fields{
		"projectID":       config.ProjectID,
		"location":        config.Location,
		"resourceID":      config.ResourceID,
		"requestTimeout":  config.RequestTimeout,
		"streamResponses": config.StreamResponses,
		"advisorProvider": config.AdvisorProvider,
		"allowedOrigins":  config.AllowedOrigins,
	}).Info("Configuration loaded")

	return logger
}
