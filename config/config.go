package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Directory drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Engagement EngagementConfig
	AWS        AWSConfig
	Log        LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/classroom?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	Backplane bool // fan room events out across server processes
	Queue     bool // enqueue session archive jobs
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// EngagementConfig tunes the coordinator and its engines.
type EngagementConfig struct {
	DirectoryDriver  string
	StoreTimeout     time.Duration
	ClientSendBuffer int
	PollMaxOptions   int
	QuestionMaxText  int
	SeedSessions     []SeedSession // created at startup if missing
}

// SeedSession is a session created at startup (SEED_SESSIONS).
type SeedSession struct {
	Code      string
	TeacherID string
	Title     string
}

// AWSConfig holds AWS credentials and the session archive bucket.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ArchiveBucket   string
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	seeds, err := parseSeedSessions(getEnv("SEED_SESSIONS", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "classroom"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 20)),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			Backplane: getEnvBool("REDIS_BACKPLANE", false),
			Queue:     getEnvBool("REDIS_ARCHIVE_QUEUE", true),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Engagement: EngagementConfig{
			DirectoryDriver:  strings.ToLower(getEnv("DIRECTORY_DRIVER", DriverPostgres)),
			StoreTimeout:     time.Duration(getEnvInt("STORE_TIMEOUT_MS", 5000)) * time.Millisecond,
			ClientSendBuffer: getEnvInt("CLIENT_SEND_BUFFER", 256),
			PollMaxOptions:   getEnvInt("POLL_MAX_OPTIONS", 6),
			QuestionMaxText:  getEnvInt("QUESTION_MAX_TEXT", 1000),
			SeedSessions:     seeds,
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:   getEnv("ARCHIVE_BUCKET", "classroom-session-archives"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	switch cfg.Engagement.DirectoryDriver {
	case DriverPostgres, DriverMemory:
	default:
		return nil, fmt.Errorf("DIRECTORY_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, cfg.Engagement.DirectoryDriver)
	}
	if cfg.Engagement.PollMaxOptions < 2 {
		return nil, fmt.Errorf("POLL_MAX_OPTIONS must be at least 2")
	}
	return cfg, nil
}

// parseSeedSessions parses "CODE:teacherId[:title],..." entries.
func parseSeedSessions(s string) ([]SeedSession, error) {
	var out []SeedSession
	for _, entry := range splitTrim(s, ",") {
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("SEED_SESSIONS entry %q: want CODE:teacherId[:title]", entry)
		}
		seed := SeedSession{Code: parts[0], TeacherID: parts[1], Title: parts[0]}
		if len(parts) == 3 && parts[2] != "" {
			seed.Title = parts[2]
		}
		out = append(out, seed)
	}
	return out, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
