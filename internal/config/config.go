package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	Env      string
	HTTPAddr string
	BaseURL  string

	Store        string
	DBDSN        string
	StoreTimeout time.Duration

	IdentitySecret string
	IdentityIssuer string

	LogLevel string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration // zero disables membership caching

	NotifyWebhookURL string
	NotifyTimeoutMS  int

	RedeemRateLimitRPM int

	OTelEnabled bool

	RetentionInviteDays  int
	RetentionRequestDays int
}

// Load reads configuration from BZ_* environment variables. When BZ_CONFIG_FILE
// names a YAML file its keys (the variable names without the prefix, lower-cased)
// provide values for variables that are unset.
func Load() (*Config, error) {
	src, err := newSource(strings.TrimSpace(os.Getenv("BZ_CONFIG_FILE")))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.Env = src.get("BZ_ENV")
	if cfg.Env == "" {
		return nil, fmt.Errorf("BZ_ENV is required")
	}
	if cfg.Env != "dev" && cfg.Env != "prod" {
		return nil, fmt.Errorf("BZ_ENV must be one of: dev, prod (got: %s)", cfg.Env)
	}

	cfg.HTTPAddr = src.getOrDefault("BZ_HTTP_ADDR", ":8080")
	cfg.BaseURL = strings.TrimRight(src.get("BZ_BASE_URL"), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("BZ_BASE_URL is required")
	}

	cfg.Store = src.getOrDefault("BZ_STORE", StorePostgres)
	switch cfg.Store {
	case StorePostgres:
		cfg.DBDSN = src.get("BZ_DB_DSN")
		if cfg.DBDSN == "" {
			return nil, fmt.Errorf("BZ_DB_DSN is required when BZ_STORE=postgres")
		}
	case StoreMemory:
		if cfg.Env == "prod" {
			return nil, fmt.Errorf("BZ_STORE=memory is not allowed when BZ_ENV=prod")
		}
	default:
		return nil, fmt.Errorf("BZ_STORE must be one of: postgres, memory (got: %s)", cfg.Store)
	}

	storeTimeoutMS, err := src.getIntOrDefault("BZ_STORE_TIMEOUT_MS", 5000)
	if err != nil {
		return nil, err
	}
	if storeTimeoutMS <= 0 || storeTimeoutMS > 60000 {
		return nil, fmt.Errorf("BZ_STORE_TIMEOUT_MS must be between 1 and 60000 (got: %d)", storeTimeoutMS)
	}
	cfg.StoreTimeout = time.Duration(storeTimeoutMS) * time.Millisecond

	cfg.IdentitySecret = src.get("BZ_IDENTITY_SECRET")
	if cfg.IdentitySecret == "" {
		return nil, fmt.Errorf("BZ_IDENTITY_SECRET is required")
	}
	if cfg.Env == "prod" && len(cfg.IdentitySecret) < 32 {
		return nil, fmt.Errorf("BZ_IDENTITY_SECRET must be at least 32 characters (currently %d)", len(cfg.IdentitySecret))
	}
	cfg.IdentityIssuer = src.get("BZ_IDENTITY_ISSUER")

	cfg.LogLevel = src.getOrDefault("BZ_LOG_LEVEL", "info")
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("BZ_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", cfg.LogLevel)
	}

	cfg.RedisAddr = src.get("BZ_REDIS_ADDR")
	cfg.RedisPassword = src.get("BZ_REDIS_PASSWORD")
	cfg.RedisDB, err = src.getIntOrDefault("BZ_REDIS_DB", 0)
	if err != nil {
		return nil, err
	}

	ttlSeconds, err := src.getIntOrDefault("BZ_MEMBERSHIP_CACHE_TTL_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	if ttlSeconds < 0 {
		return nil, fmt.Errorf("BZ_MEMBERSHIP_CACHE_TTL_SECONDS must not be negative (got: %d)", ttlSeconds)
	}
	cfg.CacheTTL = time.Duration(ttlSeconds) * time.Second

	cfg.NotifyWebhookURL = src.get("BZ_NOTIFY_WEBHOOK_URL")
	cfg.NotifyTimeoutMS, err = src.getIntOrDefault("BZ_NOTIFY_TIMEOUT_MS", 2000)
	if err != nil {
		return nil, err
	}
	if cfg.NotifyTimeoutMS <= 0 || cfg.NotifyTimeoutMS > 30000 {
		return nil, fmt.Errorf("BZ_NOTIFY_TIMEOUT_MS must be between 1 and 30000 (got: %d)", cfg.NotifyTimeoutMS)
	}

	cfg.RedeemRateLimitRPM, err = src.getIntOrDefault("BZ_REDEEM_RATE_LIMIT_RPM", 20)
	if err != nil {
		return nil, err
	}
	if cfg.RedeemRateLimitRPM <= 0 {
		return nil, fmt.Errorf("BZ_REDEEM_RATE_LIMIT_RPM must be positive (got: %d)", cfg.RedeemRateLimitRPM)
	}

	cfg.OTelEnabled, err = src.getBoolOrDefault("BZ_OTEL_ENABLED", false)
	if err != nil {
		return nil, err
	}

	cfg.RetentionInviteDays, err = src.getIntOrDefault("BZ_RETENTION_INVITE_DAYS", 30)
	if err != nil {
		return nil, err
	}
	cfg.RetentionRequestDays, err = src.getIntOrDefault("BZ_RETENTION_REQUEST_DAYS", 90)
	if err != nil {
		return nil, err
	}
	if cfg.RetentionInviteDays < 1 || cfg.RetentionRequestDays < 1 {
		return nil, fmt.Errorf("BZ_RETENTION_INVITE_DAYS and BZ_RETENTION_REQUEST_DAYS must be at least 1")
	}

	return cfg, nil
}

// IsDev returns true if running in development mode.
func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

// RedactedValues returns a map of config values with secrets redacted.
func (c *Config) RedactedValues() map[string]string {
	values := map[string]string{
		"BZ_ENV":                          c.Env,
		"BZ_HTTP_ADDR":                    c.HTTPAddr,
		"BZ_BASE_URL":                     c.BaseURL,
		"BZ_STORE":                        c.Store,
		"BZ_DB_DSN":                       redactDSN(c.DBDSN),
		"BZ_STORE_TIMEOUT_MS":             strconv.FormatInt(c.StoreTimeout.Milliseconds(), 10),
		"BZ_IDENTITY_SECRET":              "[REDACTED]",
		"BZ_IDENTITY_ISSUER":              c.IdentityIssuer,
		"BZ_LOG_LEVEL":                    c.LogLevel,
		"BZ_REDIS_ADDR":                   c.RedisAddr,
		"BZ_REDIS_DB":                     strconv.Itoa(c.RedisDB),
		"BZ_MEMBERSHIP_CACHE_TTL_SECONDS": strconv.Itoa(int(c.CacheTTL / time.Second)),
		"BZ_NOTIFY_WEBHOOK_URL":           "",
		"BZ_NOTIFY_TIMEOUT_MS":            strconv.Itoa(c.NotifyTimeoutMS),
		"BZ_REDEEM_RATE_LIMIT_RPM":        strconv.Itoa(c.RedeemRateLimitRPM),
		"BZ_OTEL_ENABLED":                 strconv.FormatBool(c.OTelEnabled),
		"BZ_RETENTION_INVITE_DAYS":        strconv.Itoa(c.RetentionInviteDays),
		"BZ_RETENTION_REQUEST_DAYS":       strconv.Itoa(c.RetentionRequestDays),
	}
	if c.RedisPassword != "" {
		values["BZ_REDIS_PASSWORD"] = "[REDACTED]"
	}
	if c.NotifyWebhookURL != "" {
		// Webhook URLs embed their credential.
		values["BZ_NOTIFY_WEBHOOK_URL"] = "[REDACTED]"
	}
	return values
}

func redactDSN(dsn string) string {
	if start := strings.Index(dsn, "://"); start != -1 {
		if end := strings.Index(dsn[start+3:], "@"); end != -1 {
			return dsn[:start+3] + "[REDACTED]" + dsn[start+3+end:]
		}
	}
	return dsn
}

// source resolves a key from the environment first and the config file second.
type source struct {
	file map[string]string
}

func newSource(path string) (*source, error) {
	src := &source{file: map[string]string{}}
	if path == "" {
		return src, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	for k, v := range raw {
		if v == nil {
			continue
		}
		src.file["BZ_"+strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return src, nil
}

func (s *source) get(key string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return strings.TrimSpace(s.file[key])
}

func (s *source) getOrDefault(key, defaultValue string) string {
	if value := s.get(key); value != "" {
		return value
	}
	return defaultValue
}

func (s *source) getIntOrDefault(key string, defaultValue int) (int, error) {
	value := s.get(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got: %q)", key, value)
	}
	return parsed, nil
}

func (s *source) getBoolOrDefault(key string, defaultValue bool) (bool, error) {
	value := s.get(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean (got: %q)", key, value)
	}
	return parsed, nil
}
