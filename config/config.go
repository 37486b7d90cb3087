package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"tradeBridge/internal/adapters/logger" // Import the logger package for LogLevel
	"tradeBridge/internal/execution"
)

// Supported gateway backends.
const (
	BackendPaper   = "paper"
	BackendBridge  = "bridge"
	BackendBinance = "binance"
)

// Config holds all application configuration.
type Config struct {
	// Gateway backend
	Backend          string
	BridgeURL        string        // Base URL of the terminal-side proxy (bridge backend)
	BridgeTimeout    time.Duration // Per-request timeout for the bridge backend
	APIKey           string        // Binance backend
	SecretKey        string
	IsTestnet        bool
	PaperSymbolsFile string // Optional YAML catalogue for the paper backend

	// Terminal login used when AutoConnect is set
	TerminalServer   string
	TerminalLogin    int64
	TerminalPassword string
	AutoConnect      bool
	AutoConnectTries int // Attempts, with exponential backoff, before giving up on auto-connect

	// HTTP API
	HTTPAddr           string
	CORSAllowedOrigins []string

	// Attempt journal
	JournalEnabled bool
	DBPath         string

	// Logging
	LogLevel    logger.LogLevel
	LogEncoding string
	LogFile     string

	// Retry policy
	Deviation          int
	RequoteDeviation   int
	CloseMaxAttempts   int
	CloseDeviationStep int
	CloseRetryDelay    time.Duration
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs error
	var err error

	cfg.Backend = strings.ToLower(getEnv("GATEWAY_BACKEND", BackendPaper))
	cfg.BridgeURL = getEnv("BRIDGE_URL", "http://127.0.0.1:5000")
	timeoutSeconds, err := getEnvAsIntRequired("BRIDGE_TIMEOUT_SECONDS", 10)
	errs = multierr.Append(errs, err)
	cfg.BridgeTimeout = time.Duration(timeoutSeconds) * time.Second
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	cfg.PaperSymbolsFile = getEnv("PAPER_SYMBOLS_FILE", "")

	cfg.TerminalServer = getEnv("TERMINAL_SERVER", "")
	cfg.TerminalPassword = getEnv("TERMINAL_PASSWORD", "")
	login, err := getEnvAsIntRequired("TERMINAL_LOGIN", 0)
	errs = multierr.Append(errs, err)
	cfg.TerminalLogin = int64(login)
	cfg.AutoConnect = getEnvAsBool("AUTO_CONNECT", false)
	cfg.AutoConnectTries, err = getEnvAsIntRequired("AUTO_CONNECT_ATTEMPTS", 5)
	errs = multierr.Append(errs, err)

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":5000")
	cfg.CORSAllowedOrigins = splitList(getEnv("CORS_ALLOWED_ORIGINS", "*"))

	cfg.JournalEnabled = getEnvAsBool("JOURNAL_ENABLED", true)
	cfg.DBPath = getEnv("DB_PATH", "./data/trade_bridge.db")

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogEncoding = strings.ToLower(getEnv("LOG_ENCODING", "json"))
	cfg.LogFile = getEnv("LOG_FILE", "")

	def := execution.DefaultConfig()
	cfg.Deviation, err = getEnvAsIntRequired("DEVIATION_POINTS", def.Deviation)
	errs = multierr.Append(errs, err)
	cfg.RequoteDeviation, err = getEnvAsIntRequired("REQUOTE_DEVIATION_POINTS", def.RequoteDeviation)
	errs = multierr.Append(errs, err)
	cfg.CloseMaxAttempts, err = getEnvAsIntRequired("CLOSE_MAX_ATTEMPTS", def.CloseMaxAttempts)
	errs = multierr.Append(errs, err)
	cfg.CloseDeviationStep, err = getEnvAsIntRequired("CLOSE_DEVIATION_STEP", def.CloseDeviationStep)
	errs = multierr.Append(errs, err)
	delayMs, err := getEnvAsIntRequired("CLOSE_RETRY_DELAY_MS", int(def.CloseRetryDelay/time.Millisecond))
	errs = multierr.Append(errs, err)
	cfg.CloseRetryDelay = time.Duration(delayMs) * time.Millisecond

	errs = multierr.Append(errs, cfg.Validate())
	if errs != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", errs)
	}
	return cfg, nil
}

// Validate checks cross-field constraints. Every violation is reported, not just the first.
func (c *Config) Validate() error {
	var err error
	switch c.Backend {
	case BackendPaper:
	case BackendBridge:
		if u, perr := url.Parse(c.BridgeURL); perr != nil || u.Scheme == "" || u.Host == "" {
			err = multierr.Append(err, fmt.Errorf("BRIDGE_URL %q is not an absolute URL", c.BridgeURL))
		}
		if c.BridgeTimeout <= 0 {
			err = multierr.Append(err, errors.New("BRIDGE_TIMEOUT_SECONDS must be positive"))
		}
	case BackendBinance:
		if c.APIKey == "" {
			err = multierr.Append(err, errors.New("BINANCE_API_KEY must be set for the binance backend"))
		}
		if c.SecretKey == "" {
			err = multierr.Append(err, errors.New("BINANCE_API_SECRET must be set for the binance backend"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("GATEWAY_BACKEND %q must be one of paper, bridge, binance", c.Backend))
	}

	if c.AutoConnect && (c.TerminalServer == "" || c.TerminalLogin == 0 || c.TerminalPassword == "") {
		err = multierr.Append(err, errors.New("AUTO_CONNECT requires TERMINAL_SERVER, TERMINAL_LOGIN and TERMINAL_PASSWORD"))
	}
	if c.AutoConnect && c.AutoConnectTries <= 0 {
		err = multierr.Append(err, errors.New("AUTO_CONNECT_ATTEMPTS must be positive"))
	}
	if c.HTTPAddr == "" {
		err = multierr.Append(err, errors.New("HTTP_ADDR must be set"))
	}
	if c.JournalEnabled && c.DBPath == "" {
		err = multierr.Append(err, errors.New("DB_PATH must be set when the journal is enabled"))
	}
	if c.LogEncoding != "json" && c.LogEncoding != "console" {
		err = multierr.Append(err, fmt.Errorf("LOG_ENCODING %q must be json or console", c.LogEncoding))
	}

	if c.Deviation <= 0 {
		err = multierr.Append(err, errors.New("DEVIATION_POINTS must be positive"))
	}
	if c.RequoteDeviation < c.Deviation {
		err = multierr.Append(err, errors.New("REQUOTE_DEVIATION_POINTS cannot be below DEVIATION_POINTS"))
	}
	if c.CloseMaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("CLOSE_MAX_ATTEMPTS must be positive"))
	}
	if c.CloseDeviationStep < 0 {
		err = multierr.Append(err, errors.New("CLOSE_DEVIATION_STEP cannot be negative"))
	}
	if c.CloseRetryDelay < 0 {
		err = multierr.Append(err, errors.New("CLOSE_RETRY_DELAY_MS cannot be negative"))
	}
	return err
}

// Execution returns the retry policy for the executor.
func (c *Config) Execution() execution.Config {
	return execution.Config{
		Deviation:          c.Deviation,
		RequoteDeviation:   c.RequoteDeviation,
		CloseMaxAttempts:   c.CloseMaxAttempts,
		CloseDeviationStep: c.CloseDeviationStep,
		CloseRetryDelay:    c.CloseRetryDelay,
	}
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		// Return error if env var is set but invalid
		return defaultValue, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
