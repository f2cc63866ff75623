package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type BankCredentials struct {
	Username string
	Password string
	// SecurityAnswers maps a lowercased keyword from a security question to its
	// answer, e.g. "mascota=firulais;colegio=san jose". Banesco only.
	SecurityAnswers map[string]string
	// CardID is the additional card identifier BNC asks for at login.
	CardID string
}

type AppConfig struct {
	Port         string
	DatabasePath string
	LogLevel     string

	// APIJWTSecret signs/validates bearer tokens for the external ingest and
	// admin endpoints. APIKeyHash is a bcrypt hash of a static key accepted as
	// an alternative for simple scripts.
	APIJWTSecret string
	APIKeyHash   string

	SyncInterval  time.Duration
	SyncOnStartup bool

	Banesco BankCredentials
	BNC     BankCredentials

	EmailServiceProvider string

	SMTPServer   string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string

	MailgunDomain        string
	MailgunPrivateAPIKey string

	SenderEmail string
	SenderName  string

	// NotifyEmail receives new-transaction digests. Empty disables the notifier.
	NotifyEmail    string
	NotifyInterval time.Duration
}

var Cfg *AppConfig

func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", errEnv)
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	jwtSecret := getEnv("API_JWT_SECRET", "insecure-development-api-secret-change-me-32b")
	if jwtSecret == "insecure-development-api-secret-change-me-32b" {
		log.Println("WARNING: Using default insecure API_JWT_SECRET. Set API_JWT_SECRET environment variable for production.")
	}

	Cfg = &AppConfig{
		Port:         getEnv("PORT", "8080"),
		DatabasePath: getEnv("DATABASE_PATH", "./banker.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		APIJWTSecret: jwtSecret,
		APIKeyHash:   getEnv("API_KEY_HASH", ""),

		SyncInterval:  getEnvAsDuration("SYNC_INTERVAL", 30*time.Minute),
		SyncOnStartup: getEnv("SYNC_ON_STARTUP", "false") == "true",

		Banesco: BankCredentials{
			Username:        getEnv("BANESCO_USERNAME", ""),
			Password:        getEnv("BANESCO_PASSWORD", ""),
			SecurityAnswers: parseSecurityAnswers(getEnv("BANESCO_SECURITY_ANSWERS", "")),
		},
		BNC: BankCredentials{
			Username: getEnv("BNC_USERNAME", ""),
			Password: getEnv("BNC_PASSWORD", ""),
			CardID:   getEnv("BNC_CARD_ID", ""),
		},

		EmailServiceProvider: getEnv("EMAIL_SERVICE_PROVIDER", "mock"),

		SMTPServer:   getEnv("SMTP_SERVER", ""),
		SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		MailgunDomain:        getEnv("MAILGUN_DOMAIN", ""),
		MailgunPrivateAPIKey: getEnv("MAILGUN_PRIVATE_API_KEY", ""),

		SenderEmail: getEnv("SENDER_EMAIL", "noreply@example.com"),
		SenderName:  getEnv("SENDER_NAME", "Banker"),

		NotifyEmail:    getEnv("NOTIFY_EMAIL", ""),
		NotifyInterval: getEnvAsDuration("NOTIFY_INTERVAL", 5*time.Minute),
	}

	if Cfg.EmailServiceProvider == "mailgun" {
		if Cfg.MailgunDomain == "" {
			log.Fatalf("FATAL: MAILGUN_DOMAIN is required when EMAIL_SERVICE_PROVIDER is 'mailgun', but it's not set in environment or .env file.")
		}
		if Cfg.MailgunPrivateAPIKey == "" {
			log.Fatalf("FATAL: MAILGUN_PRIVATE_API_KEY is required when EMAIL_SERVICE_PROVIDER is 'mailgun', but it's not set in environment or .env file.")
		}
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, SyncInterval=%s, EmailProvider=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.SyncInterval, Cfg.EmailServiceProvider)
}

// parseSecurityAnswers splits "keyword=answer;keyword=answer" into a lookup map.
func parseSecurityAnswers(raw string) map[string]string {
	answers := make(map[string]string)
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			log.Printf("WARNING: Ignoring malformed security answer pair %q", pair)
			continue
		}
		answers[strings.ToLower(strings.TrimSpace(parts[0]))] = strings.TrimSpace(parts[1])
	}
	return answers
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}
