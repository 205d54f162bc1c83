// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Token sources accepted by the WebSocket handshake gate.
const (
	TokenSourceCookie = "cookie"
	TokenSourceQuery  = "query"
	TokenSourceBoth   = "both"
)

// Config holds all application configuration. Both binaries load the same
// struct and validate the part they use.
type Config struct {
	HTTPPort      string
	GRPCPort      string
	MongoURI      string
	MongoDatabase string

	JWT       JWTConfig
	Handshake HandshakeConfig
	Queue     QueueConfig
	Log       LogConfig

	IdentityLookupTimeout time.Duration
	StoreOpTimeout        time.Duration
	RedisURL              string
	MediaBucketURL        string
	RateLimitRPM          int
	AllowedOrigins        []string

	TLSCert    string
	TLSKey     string
	RequireTLS bool
}

// JWTConfig holds token verification settings.
type JWTConfig struct {
	Secret     string
	Keys       map[string]string // kid -> secret, from JWT_KEYS
	ActiveKid  string
	CookieName string
}

// HandshakeConfig controls where the WebSocket gate looks for a token.
type HandshakeConfig struct {
	TokenSource string
	QueryParam  string
}

// QueueConfig holds broker and retry settings for the registration consumer.
type QueueConfig struct {
	URL         string
	MaxRetries  int
	BackoffBase time.Duration
	RetryTTL    time.Duration
}

// LogConfig controls the slog handler and optional file rotation.
type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	keys, err := parseKeys(getEnv("JWT_KEYS", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg := &Config{
		HTTPPort:      getEnv("HTTP_PORT", "8080"),
		GRPCPort:      getEnv("GRPC_PORT", "50051"),
		MongoURI:      getEnv("MONGODB_URI", ""),
		MongoDatabase: getEnv("MONGODB_DATABASE", "chat_db"),
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", ""),
			Keys:       keys,
			ActiveKid:  getEnv("JWT_ACTIVE_KID", ""),
			CookieName: getEnv("ACCESS_COOKIE_NAME", "access_token"),
		},
		Handshake: HandshakeConfig{
			TokenSource: strings.ToLower(getEnv("HANDSHAKE_TOKEN_SOURCE", TokenSourceBoth)),
			QueryParam:  getEnv("TOKEN_QUERY_PARAM", "token"),
		},
		Queue: QueueConfig{
			URL:         getEnv("AMQP_URL", ""),
			MaxRetries:  getEnvInt("QUEUE_MAX_RETRIES", 5),
			BackoffBase: getEnvDuration("QUEUE_BACKOFF_BASE", 2*time.Second),
			RetryTTL:    getEnvDuration("RETRY_QUEUE_TTL", 60*time.Second),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28),
			Compress:   getEnvBool("LOG_COMPRESS", false),
		},
		IdentityLookupTimeout: getEnvDuration("IDENTITY_LOOKUP_TIMEOUT", 3*time.Second),
		StoreOpTimeout:        getEnvDuration("STORE_OP_TIMEOUT", 5*time.Second),
		RedisURL:              getEnv("REDIS_URL", ""),
		MediaBucketURL:        getEnv("MEDIA_BUCKET_URL", "file:///./data/media"),
		RateLimitRPM:          getEnvInt("RATE_LIMIT_RPM", 60),
		AllowedOrigins:        splitList(getEnv("ALLOWED_ORIGINS", "*")),
		TLSCert:               getEnv("TLS_CERT", ""),
		TLSKey:                getEnv("TLS_KEY", ""),
		RequireTLS:            getEnvBool("REQUIRE_TLS", false),
	}

	if err := cfg.validateCommon(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validateCommon() error {
	if c.MongoURI == "" {
		return fmt.Errorf("MONGODB_URI must be set")
	}
	if c.MongoDatabase == "" {
		return fmt.Errorf("MONGODB_DATABASE cannot be empty")
	}
	return nil
}

// ValidateAPI checks the settings the API server needs.
func (c *Config) ValidateAPI() error {
	if c.HTTPPort == "" || c.GRPCPort == "" {
		return fmt.Errorf("HTTP_PORT and GRPC_PORT cannot be empty")
	}
	if c.JWT.Secret == "" && len(c.JWT.Keys) == 0 {
		return fmt.Errorf("either JWT_SECRET or JWT_KEYS must be set")
	}
	if len(c.JWT.Keys) > 0 {
		if _, ok := c.JWT.Keys[c.JWT.ActiveKid]; !ok {
			return fmt.Errorf("JWT_ACTIVE_KID %q is not present in JWT_KEYS", c.JWT.ActiveKid)
		}
	}
	if c.JWT.CookieName == "" {
		return fmt.Errorf("ACCESS_COOKIE_NAME cannot be empty")
	}
	switch c.Handshake.TokenSource {
	case TokenSourceCookie, TokenSourceQuery, TokenSourceBoth:
	default:
		return fmt.Errorf("HANDSHAKE_TOKEN_SOURCE must be cookie, query or both")
	}
	if c.IdentityLookupTimeout <= 0 || c.StoreOpTimeout <= 0 {
		return fmt.Errorf("IDENTITY_LOOKUP_TIMEOUT and STORE_OP_TIMEOUT must be > 0")
	}
	if c.RequireTLS && (c.TLSCert == "" || c.TLSKey == "") {
		return fmt.Errorf("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}
	return nil
}

// ValidateConsumer checks the settings the registration consumer needs.
func (c *Config) ValidateConsumer() error {
	if c.Queue.URL == "" {
		return fmt.Errorf("AMQP_URL must be set")
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("QUEUE_MAX_RETRIES must be >= 0")
	}
	if c.Queue.BackoffBase <= 0 {
		return fmt.Errorf("QUEUE_BACKOFF_BASE must be > 0")
	}
	if c.Queue.RetryTTL <= 0 {
		return fmt.Errorf("RETRY_QUEUE_TTL must be > 0")
	}
	return nil
}

// parseKeys parses "kid:secret,kid2:secret2".
func parseKeys(raw string) (map[string]string, error) {
	keys := map[string]string{}
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid JWT_KEYS entry: %q", p)
		}
		keys[parts[0]] = parts[1]
	}
	return keys, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
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
