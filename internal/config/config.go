// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	SigningKey  []byte // HMAC key for delegated token signatures.
	SecretKey   []byte // 32-byte AES-256 key for credential encryption; nil disables the vault.
	ListenAddr  string
	DBPath      string
	SessionTTL  time.Duration
	APITokenTTL time.Duration
}

// HasSecretKey returns true when a credential encryption key is configured.
// Without it the service still issues and verifies tokens, but refuses to
// store or read upstream credentials.
func (c *Config) HasSecretKey() bool {
	return len(c.SecretKey) > 0
}

// Load reads configuration from environment variables and returns a validated
// Config. TEEPROXY_SIGNING_KEY is required. TEEPROXY_SECRET_KEY is optional
// but must be 64 hex characters (a 32-byte AES-256 key) when set.
// Optional variables with defaults: TEEPROXY_LISTEN_ADDR (127.0.0.1:8080),
// TEEPROXY_DB_PATH (teeproxy.db), TEEPROXY_SESSION_TTL (2h),
// TEEPROXY_API_TOKEN_TTL (24h).
func Load() (*Config, error) {
	signingKey := os.Getenv("TEEPROXY_SIGNING_KEY")
	if signingKey == "" {
		return nil, fmt.Errorf("TEEPROXY_SIGNING_KEY is required")
	}

	var secretKey []byte
	if v, ok := os.LookupEnv("TEEPROXY_SECRET_KEY"); ok && v != "" {
		decoded, err := hex.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("TEEPROXY_SECRET_KEY is not valid hex: %w", err)
		}
		if len(decoded) != 32 {
			return nil, fmt.Errorf("TEEPROXY_SECRET_KEY must decode to 32 bytes, got %d", len(decoded))
		}
		secretKey = decoded
	}

	listenAddr := "127.0.0.1:8080"
	if v, ok := os.LookupEnv("TEEPROXY_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	dbPath := "teeproxy.db"
	if v, ok := os.LookupEnv("TEEPROXY_DB_PATH"); ok {
		dbPath = v
	}

	sessionTTL := 2 * time.Hour
	if v, ok := os.LookupEnv("TEEPROXY_SESSION_TTL"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("TEEPROXY_SESSION_TTL has invalid duration %q: %w", v, err)
		}
		sessionTTL = parsed
	}

	apiTokenTTL := 24 * time.Hour
	if v, ok := os.LookupEnv("TEEPROXY_API_TOKEN_TTL"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("TEEPROXY_API_TOKEN_TTL has invalid duration %q: %w", v, err)
		}
		apiTokenTTL = parsed
	}

	return &Config{
		SigningKey:  []byte(signingKey),
		SecretKey:   secretKey,
		ListenAddr:  listenAddr,
		DBPath:      dbPath,
		SessionTTL:  sessionTTL,
		APITokenTTL: apiTokenTTL,
	}, nil
}
