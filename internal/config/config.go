package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings, loaded once at startup.
type Config struct {
	HTTPPort int
	DataDir  string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	SessionSecret      string

	PollInterval time.Duration
	SendDelay    time.Duration

	// MailTransport selects the outbound transport: "gmail" (REST API),
	// "smtp" (XOAUTH2 to SMTPAddr) or "outlook" (Microsoft Graph).
	MailTransport string
	SMTPAddr      string

	// NATSURL enables event publishing when non-empty.
	NATSURL string
}

func Load() Config {
	_ = godotenv.Load()

	return Config{
		HTTPPort:           getEnvInt("HTTP_PORT", 8080),
		DataDir:            getEnvString("DATA_DIR", "data"),
		GoogleClientID:     getEnvString("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnvString("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:  getEnvString("GOOGLE_REDIRECT_URI", "http://localhost:8080/auth/callback"),
		SessionSecret:      getEnvString("SESSION_SECRET", "change-me-in-production"),
		PollInterval:       getEnvDuration("POLL_INTERVAL", time.Minute),
		SendDelay:          getEnvDuration("SEND_DELAY", 2*time.Second),
		MailTransport:      getEnvString("MAIL_TRANSPORT", "gmail"),
		SMTPAddr:           getEnvString("SMTP_ADDR", "smtp.gmail.com:587"),
		NATSURL:            getEnvString("NATS_URL", ""),
	}
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(strings.TrimSpace(value))
		if err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}
