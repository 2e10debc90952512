package config

import (
	"os"
	"strconv"
)

// Config holds server configuration.
type Config struct {
	Port          string
	LogLevel      string
	DatabaseURL   string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	OTLPEndpoint  string
	RulesDir      string
	ProfilePath   string
	WatchPolicy   bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "data/labels.db"
	}

	redisDB := 0
	if raw := os.Getenv("REDIS_DB"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			redisDB = n
		}
	}

	return &Config{
		Port:     port,
		LogLevel: logLevel,
		// Empty DATABASE_URL selects the sqlite store.
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		SQLitePath:    sqlitePath,
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		OTLPEndpoint:  os.Getenv("OTLP_ENDPOINT"),
		RulesDir:      os.Getenv("RULES_DIR"),
		ProfilePath:   os.Getenv("SPIFMARK_PROFILE"),
		WatchPolicy:   os.Getenv("WATCH_POLICY") == "true",
	}
}
