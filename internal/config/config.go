package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port    string
	Mode    string
	BaseURL string

	// Database configuration
	DatabaseURL string

	// Redis configuration
	RedisURL string
	UseRedis bool

	// Opaque voucher token configuration
	VoucherSecret    string
	TokenMaxAgeHours int

	// Access credential configuration
	JWTPrivateKeyPEM []byte
	JWTPublicKeyPEM  []byte
	GraceSeconds     int

	// Admin issuance configuration
	AdminAPIKey string

	// Rate limit configuration
	RateLimit         int
	RateWindowSeconds int
}

// Load resolves configuration from the environment once at startup.
// Signing material is required: the HMAC secret for opaque tokens and the
// RSA key pair for access credentials must resolve or Load fails.
func Load() (*Config, error) {
	// Load .env file if present
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Mode:              getEnv("GIN_MODE", "debug"),
		BaseURL:           getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		UseRedis:          getEnvBool("USE_REDIS", true),
		VoucherSecret:     getEnv("VOUCHER_SECRET", ""),
		TokenMaxAgeHours:  getEnvInt("TOKEN_MAX_AGE_HOURS", 24),
		GraceSeconds:      getEnvInt("CREDENTIAL_GRACE_SECONDS", 60),
		AdminAPIKey:       getEnv("ADMIN_API_KEY", ""),
		RateLimit:         getEnvInt("RATE_LIMIT", 20),
		RateWindowSeconds: getEnvInt("RATE_WINDOW_SECONDS", 60),
	}

	if cfg.VoucherSecret == "" {
		return nil, fmt.Errorf("VOUCHER_SECRET is required")
	}

	privateKey, err := resolveKeyMaterial("JWT_PRIVATE_KEY", "JWT_PRIVATE_KEY_FILE", "jwt.key")
	if err != nil {
		return nil, err
	}
	cfg.JWTPrivateKeyPEM = privateKey

	publicKey, err := resolveKeyMaterial("JWT_PUBLIC_KEY", "JWT_PUBLIC_KEY_FILE", "jwt.pub")
	if err != nil {
		return nil, err
	}
	cfg.JWTPublicKeyPEM = publicKey

	return cfg, nil
}

// resolveKeyMaterial resolves PEM key material in a fixed order: the env
// variable itself, an env-configured file path, then a conventional local
// file. A key that resolves nowhere is a startup error, never a silent skip.
func resolveKeyMaterial(envKey, fileEnvKey, defaultPath string) ([]byte, error) {
	if value := os.Getenv(envKey); value != "" {
		return []byte(value), nil
	}

	path := os.Getenv(fileEnvKey)
	if path == "" {
		path = defaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("no key material for %s: env unset and %s unreadable: %w", envKey, path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no key material for %s: %s is empty", envKey, path)
	}
	return data, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
