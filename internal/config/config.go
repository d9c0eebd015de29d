// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ametelin/finwatch/internal/domain"
	"github.com/ametelin/finwatch/pkg/logger"
)

const (
	defaultInvestAPIURL    = "https://invest-public-api.tbank.ru/rest"
	defaultInvestSocketURL = "wss://invest-public-api.tbank.ru/ws"
)

// Config holds application configuration
type Config struct {
	DataDir         string // Base directory for the portfolio database (always absolute)
	Port            int
	DevMode         bool
	LogLevel        string
	InvestAPIURL    string        // T-Bank Invest REST base URL (https only)
	InvestSocketURL string        // T-Bank Invest websocket URL (wss/ws only)
	CABundlePath    string        // Optional PEM bundle for outbound brokerage TLS
	StreamEnabled   bool          // Subscribe to the portfolio websocket stream
	SyncInterval    time.Duration // Re-sync connections older than this
	LookbackYears   int           // Operations history window fetched per sync
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("FINWATCH_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	apiURL, err := resolveURL("TBANK_INVEST_API_URL", defaultInvestAPIURL, []string{"https"})
	if err != nil {
		return nil, err
	}

	socketURL, err := resolveURL("TBANK_INVEST_SOCKET_URL", defaultInvestSocketURL, []string{"wss", "ws"})
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:         absDataDir,
		Port:            getEnvAsInt("PORT", 8080),
		DevMode:         getEnvAsBool("DEV_MODE", false),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		InvestAPIURL:    apiURL,
		InvestSocketURL: socketURL,
		CABundlePath:    strings.TrimSpace(getEnv("TBANK_INVEST_CA_BUNDLE", "")),
		StreamEnabled:   getEnvAsBool("TBANK_STREAM_ENABLED", false),
		SyncInterval:    time.Duration(getEnvAsInt("SYNC_INTERVAL_MINUTES", 360)) * time.Minute,
		LookbackYears:   getEnvAsInt("OPERATIONS_LOOKBACK_YEARS", 5),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: PORT must be between 1 and 65535", domain.ErrInvalidConfiguration)
	}
	if c.LookbackYears <= 0 {
		return fmt.Errorf("%w: OPERATIONS_LOOKBACK_YEARS must be positive", domain.ErrInvalidConfiguration)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("%w: SYNC_INTERVAL_MINUTES must be positive", domain.ErrInvalidConfiguration)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: LOG_LEVEL %q is not a valid level", domain.ErrInvalidConfiguration, c.LogLevel)
	}
	return nil
}

// resolveURL reads a base URL from the environment, falling back to the
// default. The URL must parse and use one of the allowed schemes; anything
// else is an InvalidConfiguration error, fatal at startup.
func resolveURL(name, fallback string, allowedSchemes []string) (string, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return removeTrailingSlash(fallback), nil
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s must contain a valid URL: %v", domain.ErrInvalidConfiguration, name, err)
	}

	allowed := false
	for _, scheme := range allowedSchemes {
		if parsed.Scheme == scheme {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", fmt.Errorf("%w: %s must use one of the schemes: %s",
			domain.ErrInvalidConfiguration, name, strings.Join(allowedSchemes, ", "))
	}

	return removeTrailingSlash(parsed.String()), nil
}

func removeTrailingSlash(u string) string {
	return strings.TrimRight(u, "/")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
