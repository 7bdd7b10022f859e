package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPPort     int
	DBPath       string
	SMTPHost     string
	SMTPPort     int
	SMTPSSL      bool
	SMTPStartTLS bool
	IMAPHost     string
	IMAPPort     int
	IMAPTLS      bool
	MailTimeout  time.Duration
}

func Load() Config {
	return Config{
		HTTPPort:     getEnvInt("HTTP_PORT", 5000),
		DBPath:       getEnvString("DB_PATH", ""),
		SMTPHost:     getEnvString("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPSSL:      getEnvBool("SMTP_SSL", false),
		SMTPStartTLS: getEnvBool("SMTP_STARTTLS", true),
		IMAPHost:     getEnvString("IMAP_HOST", "imap.gmail.com"),
		IMAPPort:     getEnvInt("IMAP_PORT", 993),
		IMAPTLS:      getEnvBool("IMAP_TLS", true),
		MailTimeout:  time.Duration(getEnvInt("MAIL_TIMEOUT_SECONDS", 30)) * time.Second,
	}
}

// SMTPAddr returns the host:port of the mail submission endpoint.
func (c Config) SMTPAddr() string {
	return c.SMTPHost + ":" + strconv.Itoa(c.SMTPPort)
}

// IMAPAddr returns the host:port of the mail retrieval endpoint.
func (c Config) IMAPAddr() string {
	return c.IMAPHost + ":" + strconv.Itoa(c.IMAPPort)
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

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}
