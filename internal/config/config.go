package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port string
	Mode string

	// Database configuration
	DatabaseURL string

	// Redis configuration (optional; empty disables the tenant cache)
	RedisURL string

	// Admin API configuration
	AdminAPIKey string

	// Rate limiting and escalation
	EscalationThreshold   int
	EscalationWindowHours int
	IPThrottlePerMinute   int

	// Webhook delivery
	WebhookTimeoutSeconds int
	WebhookMaxFailures    int
	WebhookQueueSize      int

	// Verification
	VerificationMaxAttempts  int
	VerificationTokenTTLDays int

	// Retention
	EventRetentionDays   int
	WindowRetentionHours int

	// Brevo email alerts (optional)
	BrevoAPIKey    string
	BrevoFromEmail string
	BrevoFromName  string

	ServiceName string
}

var AppConfig *Config

func InitConfig() error {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Ignore error if .env file doesn't exist
	}

	AppConfig = &Config{
		Port:                     getEnv("PORT", "8080"),
		Mode:                     getEnv("GIN_MODE", "debug"),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		RedisURL:                 getEnv("REDIS_URL", ""),
		AdminAPIKey:              getEnv("ADMIN_API_KEY", ""),
		EscalationThreshold:      getEnvInt("ESCALATION_THRESHOLD", 3),
		EscalationWindowHours:    getEnvInt("ESCALATION_WINDOW_HOURS", 24),
		IPThrottlePerMinute:      getEnvInt("IP_THROTTLE_PER_MINUTE", 300),
		WebhookTimeoutSeconds:    getEnvInt("WEBHOOK_TIMEOUT_SECONDS", 15),
		WebhookMaxFailures:       getEnvInt("WEBHOOK_MAX_FAILURES", 5),
		WebhookQueueSize:         getEnvInt("WEBHOOK_QUEUE_SIZE", 256),
		VerificationMaxAttempts:  getEnvInt("VERIFICATION_MAX_ATTEMPTS", 5),
		VerificationTokenTTLDays: getEnvInt("VERIFICATION_TOKEN_TTL_DAYS", 7),
		EventRetentionDays:       getEnvInt("EVENT_RETENTION_DAYS", 30),
		WindowRetentionHours:     getEnvInt("WINDOW_RETENTION_HOURS", 48),
		BrevoAPIKey:              getEnv("BREVO_API_KEY", ""),
		BrevoFromEmail:           getEnv("BREVO_FROM_EMAIL", ""),
		BrevoFromName:            getEnv("BREVO_FROM_NAME", "Affiliate Gateway"),
		ServiceName:              getEnv("SERVICE_NAME", "affiliate-gateway"),
	}

	return nil
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
