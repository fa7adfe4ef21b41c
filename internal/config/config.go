package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Session lock modes.
const (
	LockModeNone   = "none"
	LockModeStrict = "strict"
)

type Config struct {
	// Service configuration
	ServiceName      string
	HTTPAddr         string
	Debug            bool
	DevAuth          bool
	AllowedOrigins   []string
	MetricsNamespace string

	// Session store
	RedisURL           string
	SessionTTL         time.Duration
	MaxSessionsPerUser int
	SessionLockMode    string
	SessionLockTTL     time.Duration
	ClearStaleFields   bool
	PendingPaymentTTL  time.Duration

	// NATS configuration
	NatsURL            string
	NatsRequestSubject string
	NatsEventSubject   string
	NatsTimeout        time.Duration

	// LLM configuration
	LLMProvider      string
	AnthropicAPIKey  string
	AnthropicModel   string
	AnthropicTimeout time.Duration
	OpenAIAPIKey     string
	OpenAIModel      string

	// Knowledge base
	OpenAIEmbeddingModel string
	PineconeAPIKey       string
	PineconeHost         string
	PineconeNamespace    string

	// Persistence
	DatabaseURL         string
	WalletDBPath        string
	WalletEncryptionKey string
	WalletAddress       string
}

func Load() (*Config, error) {
	cfg := &Config{
		// Service settings
		ServiceName:      getEnv("SERVICE_NAME", "defibuddy-intent"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		Debug:            getBoolEnv("DEBUG", false),
		DevAuth:          getBoolEnv("DEV_AUTH", true),
		AllowedOrigins:   getListEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "defibuddy"),

		// Session settings
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SessionTTL:         getDurationEnv("SESSION_TTL", 30*time.Minute),
		MaxSessionsPerUser: getIntEnv("MAX_SESSIONS_PER_USER", 10),
		SessionLockMode:    strings.ToLower(getEnv("SESSION_LOCK_MODE", LockModeNone)),
		SessionLockTTL:     getDurationEnv("SESSION_LOCK_TTL", 30*time.Second),
		ClearStaleFields:   getBoolEnv("CLEAR_STALE_FIELDS", false),
		PendingPaymentTTL:  getDurationEnv("PENDING_PAYMENT_TTL", 5*time.Minute),

		// NATS settings
		NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
		NatsRequestSubject: getEnv("NATS_REQUEST_SUBJECT", "defi.turn"),
		NatsEventSubject:   getEnv("NATS_EVENT_SUBJECT", "defi.tx.executed"),
		NatsTimeout:        getDurationEnv("NATS_TIMEOUT", 30*time.Second),

		// LLM settings
		LLMProvider:      strings.ToLower(getEnv("LLM_PROVIDER", "anthropic")),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:   getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
		AnthropicTimeout: getDurationEnv("ANTHROPIC_TIMEOUT", 30*time.Second),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		// Knowledge settings
		OpenAIEmbeddingModel: getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		PineconeAPIKey:       getEnv("PINECONE_API_KEY", ""),
		PineconeHost:         getEnv("PINECONE_HOST", ""),
		PineconeNamespace:    getEnv("PINECONE_NAMESPACE", ""),

		// Persistence settings
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		WalletDBPath:        getEnv("WALLET_DB_PATH", "data/wallets.db"),
		WalletEncryptionKey: getEnv("WALLET_ENCRYPTION_KEY", ""),
		WalletAddress:       getEnv("WALLET_ADDRESS", "0x0000000000000000000000000000000000000001"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL))
	}
	if c.MaxSessionsPerUser <= 0 {
		errs = append(errs, fmt.Errorf("MAX_SESSIONS_PER_USER must be positive, got %d", c.MaxSessionsPerUser))
	}
	if c.SessionLockMode != LockModeNone && c.SessionLockMode != LockModeStrict {
		errs = append(errs, fmt.Errorf("SESSION_LOCK_MODE must be %q or %q, got %q", LockModeNone, LockModeStrict, c.SessionLockMode))
	}
	if c.PendingPaymentTTL <= 0 {
		errs = append(errs, fmt.Errorf("PENDING_PAYMENT_TTL must be positive, got %s", c.PendingPaymentTTL))
	}
	switch c.LLMProvider {
	case "anthropic", "openai":
	default:
		errs = append(errs, fmt.Errorf("LLM_PROVIDER must be anthropic or openai, got %q", c.LLMProvider))
	}
	return errors.Join(errs...)
}

// LLMConfigured reports whether an API key exists for the selected provider.
func (c *Config) LLMConfigured() bool {
	if c.LLMProvider == "openai" {
		return c.OpenAIAPIKey != ""
	}
	return c.AnthropicAPIKey != ""
}

// KnowledgeConfigured reports whether the vector store can be reached.
func (c *Config) KnowledgeConfigured() bool {
	return c.PineconeAPIKey != "" && c.PineconeHost != "" && c.OpenAIAPIKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
