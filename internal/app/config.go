package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/cors"
)

type Config struct {
	Env       string
	HTTPAddr  string
	CORSAllow []string

	// postgres://... selects PostgreSQL, anything else is a SQLite path
	DatabaseURL string

	MaxCodeLength     int
	AutocompleteDelay time.Duration

	SendTimeout    time.Duration
	PersistTimeout time.Duration

	WSMessagesPerSecond float64
	WSMessageBurst      int

	APIRequestsPerSecond float64
	APIRequestBurst      int
}

// LoadConfig reads the environment, falling back to development defaults
func LoadConfig() Config {
	return Config{
		Env:                  getEnv("APP_ENV", "dev"),
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		CORSAllow:            splitCSV(getEnv("CORS_ALLOW", "http://localhost:3000,http://127.0.0.1:3000")),
		DatabaseURL:          getEnv("DATABASE_URL", "sqlite://./data/colab.db"),
		MaxCodeLength:        getEnvInt("MAX_CODE_LENGTH", 100000),
		AutocompleteDelay:    getEnvMillis("AUTOCOMPLETE_DELAY_MS", 600),
		SendTimeout:          getEnvMillis("SEND_TIMEOUT_MS", 1000),
		PersistTimeout:       getEnvMillis("PERSIST_TIMEOUT_MS", 5000),
		WSMessagesPerSecond:  float64(getEnvInt("WS_MESSAGES_PER_SECOND", 100)),
		WSMessageBurst:       getEnvInt("WS_MESSAGE_BURST", 200),
		APIRequestsPerSecond: float64(getEnvInt("API_REQUESTS_PER_SECOND", 10)),
		APIRequestBurst:      getEnvInt("API_REQUEST_BURST", 30),
	}
}

// getEnv returns the env var or a default
// CORSOptions allows the configured origins only. The API uses no cookies or
// auth headers, so credentials are never allowed.
func (c Config) CORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins:   c.CORSAllow,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getEnvInt parses a positive int env var with a fallback
func getEnvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && i > 0 {
			return i
		}
	}
	return def
}

func getEnvMillis(k string, def int) time.Duration {
	return time.Duration(getEnvInt(k, def)) * time.Millisecond
}

// splitCSV trims and filters a comma-separated list
func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
