package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v8"
)

// Backends accepted by DATA_BACKEND.
var validBackends = []string{"memory", "sqlite", "mongo"}

// Auth modes accepted by AUTH_MODE.
var validAuthModes = []string{"header", "token"}

type Config struct {
	// HTTP Server
	Port           string        `env:"PORT" envDefault:"8081"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"7s"`
	RateLimit      int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`

	// Extra proxy networks whose X-Forwarded-For is honored, on top of
	// loopback and private ranges.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// Ledger storage
	DataBackend   string `env:"DATA_BACKEND" envDefault:"memory"`
	SQLiteDBPath  string `env:"SQLITE_DB_PATH" envDefault:"./data/budget.db"`
	MongoURI      string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"budget"`

	// AMQP
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"budget"`
	AMQPQueue    string `env:"AMQP_QUEUE" envDefault:"mirror_transactions"`

	// Google Sheets mirror
	GoogleSpreadsheetID   string `env:"GOOGLE_SPREADSHEET_ID"`
	GoogleSheetName       string `env:"GOOGLE_SHEET_NAME" envDefault:"Transactions"`
	GoogleCredentialsFile string `env:"GOOGLE_CREDENTIALS_FILE"`
	GoogleCredentialsJSON string `env:"GOOGLE_CREDENTIALS_JSON"`

	// Credential resolution
	AuthMode   string   `env:"AUTH_MODE" envDefault:"header"`
	AuthHeader string   `env:"AUTH_HEADER" envDefault:"X-Owner-ID"`
	AuthTokens []string `env:"AUTH_TOKENS" envSeparator:","`

	// Analytics
	Timezone  string        `env:"TIMEZONE" envDefault:"UTC"`
	CacheTTL  time.Duration `env:"CACHE_TTL" envDefault:"1m"`
	CacheSize int           `env:"CACHE_SIZE" envDefault:"500"`

	// Import
	UploadDir      string `env:"UPLOAD_DIR"`
	UploadMaxBytes int64  `env:"UPLOAD_MAX_BYTES" envDefault:"10485760"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Location resolves Timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Tokens returns AUTH_TOKENS as a token to owner map.
func (c *Config) Tokens() (map[string]string, error) {
	tokens := make(map[string]string, len(c.AuthTokens))
	for _, pair := range c.AuthTokens {
		token, owner, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || token == "" || owner == "" {
			return nil, fmt.Errorf("invalid auth token entry %q: want token:owner", pair)
		}
		tokens[token] = owner
	}
	return tokens, nil
}

// MirrorEnabled reports whether the sheet mirror has enough settings to run.
func (c *Config) MirrorEnabled() bool {
	return c.GoogleSpreadsheetID != "" && (c.GoogleCredentialsFile != "" || c.GoogleCredentialsJSON != "")
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	case "mongo":
		if c.MongoURI == "" {
			errors = append(errors, "MONGO_URI is required when using mongo backend")
		}
		if c.MongoDatabase == "" {
			errors = append(errors, "MONGO_DATABASE is required when using mongo backend")
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.GoogleCredentialsFile != "" {
		if _, err := os.Stat(c.GoogleCredentialsFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google credentials file does not exist: %s", c.GoogleCredentialsFile))
		}
	}

	if !slices.Contains(validAuthModes, c.AuthMode) {
		errors = append(errors, fmt.Sprintf("invalid auth mode '%s': must be one of %v", c.AuthMode, validAuthModes))
	}
	switch c.AuthMode {
	case "header":
		if c.AuthHeader == "" {
			errors = append(errors, "AUTH_HEADER cannot be empty when using header auth")
		}
	case "token":
		if len(c.AuthTokens) == 0 {
			errors = append(errors, "AUTH_TOKENS is required when using token auth")
		} else if _, err := c.Tokens(); err != nil {
			errors = append(errors, err.Error())
		}
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	if c.RequestTimeout < 100*time.Millisecond || c.RequestTimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid request timeout %v: must be between 100ms and 5m", c.RequestTimeout))
	}
	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(strings.TrimSpace(cidr)); err != nil {
			errors = append(errors, fmt.Sprintf("invalid trusted proxy '%s': must be a CIDR like 203.0.113.0/24", cidr))
		}
	}
	if c.RateLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1", c.RateLimit))
	}
	if c.CacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid cache size %d: must be at least 1", c.CacheSize))
	}
	if c.UploadMaxBytes < 1024 {
		errors = append(errors, fmt.Sprintf("invalid upload limit %d: must be at least 1024 bytes", c.UploadMaxBytes))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}
