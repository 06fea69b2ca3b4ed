package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AgentConfig configures a field agent node.
type AgentConfig struct {
	Port        string
	DBPath      string
	RemoteURL   string
	RemoteToken string
	JWTSecret   string

	SyncInterval  time.Duration
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	OpTimeout     time.Duration
	AutoSync      bool
}

// ServerConfig configures the central inventory server.
type ServerConfig struct {
	Port        string
	DatabaseURL string
	JWTSecret   string
	AdminEmail  string
	AdminPass   string
	// EmbeddedDB runs an embedded PostgreSQL when no DATABASE_URL is
	// set, for development and tests.
	EmbeddedDB     bool
	EmbeddedDBPort int
}

// LoadAgent reads agent configuration from the environment, with .env
// support for development.
func LoadAgent() *AgentConfig {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &AgentConfig{
		Port:        getEnv("AGENT_PORT", "8080"),
		DBPath:      getEnv("AGENT_DB_PATH", "agent.db"),
		RemoteURL:   getEnv("REMOTE_URL", ""),
		RemoteToken: getEnv("REMOTE_TOKEN", ""),
		JWTSecret:   getEnv("JWT_SECRET", "dev-secret-change-me"),

		SyncInterval:  getDurationEnv("SYNC_INTERVAL", 60*time.Second),
		CheckInterval: getDurationEnv("CONNECTION_CHECK_INTERVAL", 30*time.Second),
		ProbeTimeout:  getDurationEnv("CONNECTION_PROBE_TIMEOUT", 5*time.Second),
		OpTimeout:     getDurationEnv("SYNC_OP_TIMEOUT", 15*time.Second),
		AutoSync:      getBoolEnv("AUTO_SYNC", true),
	}
}

// LoadServer reads central-server configuration from the environment.
func LoadServer() *ServerConfig {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	dbURL := getEnv("DATABASE_URL", "")
	return &ServerConfig{
		Port:           getEnv("SERVER_PORT", "8090"),
		DatabaseURL:    dbURL,
		JWTSecret:      getEnv("JWT_SECRET", "dev-secret-change-me"),
		AdminEmail:     getEnv("ADMIN_EMAIL", "admin@example.com"),
		AdminPass:      getEnv("ADMIN_PASSWORD", "admin"),
		EmbeddedDB:     dbURL == "" && getBoolEnv("EMBEDDED_DB", true),
		EmbeddedDBPort: getIntEnv("EMBEDDED_DB_PORT", 5433),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
