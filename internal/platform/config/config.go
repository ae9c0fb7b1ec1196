// Package config loads service configuration from the environment and an
// optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DevTokenSecret is the attendance token secret used when TOKEN_SECRET is unset.
// Load refuses it when APP_ENV=production.
const DevTokenSecret = "dev-attendance-secret-change-in-production"

const devJWTSigningKey = "dev-secret-key-change-in-production"

// Scan store backends.
const (
	ScanStoreMemory   = "memory"
	ScanStorePostgres = "postgres"
	ScanStoreRedis    = "redis"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	JWTSigningKey   string
	JWTIssuer       string
	JWTAudience     string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Database is the Postgres connection. Empty URL keeps every store in memory.
type Database struct {
	URL string
}

// Redis configuration. Empty URL disables Redis.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configuration for the audit pipeline. No brokers disables the relay.
type Kafka struct {
	Brokers       []string
	AuditTopic    string
	ConsumerGroup string
}

// Attendance holds the rotating token parameters.
type Attendance struct {
	Secret    string
	Window    time.Duration
	Rotation  time.Duration
	ScanStore string
}

// Presence holds the aggregation policy.
type Presence struct {
	Location  *time.Location
	Freshness time.Duration
	DayCutoff time.Duration
}

// RateLimit holds per-caller budgets. A zero budget leaves the class unlimited.
type RateLimit struct {
	Disabled        bool
	TokensPerWindow int
	ScansPerWindow  int
	Window          time.Duration
}

type Config struct {
	Env        string
	LogLevel   string
	Server     Server
	Database   Database
	Redis      Redis
	Kafka      Kafka
	Attendance Attendance
	Presence   Presence
	RateLimit  RateLimit
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Load reads .env (if present), then builds and validates Config from the environment.
// Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // a missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("PRACTICUM_ADDR", ":8080")
	v.SetDefault("JWT_SIGNING_KEY", devJWTSigningKey)
	v.SetDefault("JWT_ISSUER", "practicum")
	v.SetDefault("JWT_AUDIENCE", "practicum-api")
	v.SetDefault("REQUEST_TIMEOUT", "10s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 2)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_TOPIC", "practicum-audit")
	v.SetDefault("KAFKA_GROUP_ID", "practicum-audit-materializer")
	v.SetDefault("TOKEN_SECRET", DevTokenSecret)
	v.SetDefault("TOKEN_WINDOW", "60s")
	v.SetDefault("TOKEN_ROTATION", "30s")
	v.SetDefault("SCAN_STORE", ScanStoreMemory)
	v.SetDefault("PRESENCE_TIMEZONE", "UTC")
	v.SetDefault("PRESENCE_FRESHNESS", "8h")
	v.SetDefault("PRESENCE_DAY_CUTOFF", "20h")
	v.SetDefault("RATE_LIMIT_DISABLED", false)
	v.SetDefault("RATE_LIMIT_TOKENS", 10)
	v.SetDefault("RATE_LIMIT_SCANS", 120)
	v.SetDefault("RATE_LIMIT_WINDOW", "1m")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "development")

	cfg := &Config{
		Env:      v.GetString("APP_ENV"),
		LogLevel: v.GetString("LOG_LEVEL"),
		Server: Server{
			Addr:            v.GetString("PRACTICUM_ADDR"),
			JWTSigningKey:   v.GetString("JWT_SIGNING_KEY"),
			JWTIssuer:       v.GetString("JWT_ISSUER"),
			JWTAudience:     v.GetString("JWT_AUDIENCE"),
			RequestTimeout:  v.GetDuration("REQUEST_TIMEOUT"),
			ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
		},
		Database: Database{URL: v.GetString("DATABASE_URL")},
		Redis: Redis{
			URL:          v.GetString("REDIS_URL"),
			PoolSize:     v.GetInt("REDIS_POOL_SIZE"),
			MinIdleConns: v.GetInt("REDIS_MIN_IDLE_CONNS"),
			DialTimeout:  v.GetDuration("REDIS_DIAL_TIMEOUT"),
			ReadTimeout:  v.GetDuration("REDIS_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("REDIS_WRITE_TIMEOUT"),
		},
		Kafka: Kafka{
			Brokers:       splitList(v.GetString("KAFKA_BROKERS")),
			AuditTopic:    v.GetString("AUDIT_TOPIC"),
			ConsumerGroup: v.GetString("KAFKA_GROUP_ID"),
		},
		Attendance: Attendance{
			Secret:    v.GetString("TOKEN_SECRET"),
			Window:    v.GetDuration("TOKEN_WINDOW"),
			Rotation:  v.GetDuration("TOKEN_ROTATION"),
			ScanStore: strings.ToLower(v.GetString("SCAN_STORE")),
		},
		Presence: Presence{
			Freshness: v.GetDuration("PRESENCE_FRESHNESS"),
			DayCutoff: v.GetDuration("PRESENCE_DAY_CUTOFF"),
		},
		RateLimit: RateLimit{
			Disabled:        v.GetBool("RATE_LIMIT_DISABLED"),
			TokensPerWindow: v.GetInt("RATE_LIMIT_TOKENS"),
			ScansPerWindow:  v.GetInt("RATE_LIMIT_SCANS"),
			Window:          v.GetDuration("RATE_LIMIT_WINDOW"),
		},
	}

	loc, err := time.LoadLocation(v.GetString("PRESENCE_TIMEZONE"))
	if err != nil {
		return nil, fmt.Errorf("config: PRESENCE_TIMEZONE: %w", err)
	}
	cfg.Presence.Location = loc

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("config: PRACTICUM_ADDR must be set")
	}
	if c.Attendance.Secret == "" {
		return errors.New("config: TOKEN_SECRET must be set")
	}
	if c.Attendance.Window <= 0 {
		return errors.New("config: TOKEN_WINDOW must be positive")
	}
	if c.Attendance.Rotation <= 0 || c.Attendance.Rotation >= c.Attendance.Window {
		return errors.New("config: TOKEN_ROTATION must be positive and shorter than TOKEN_WINDOW")
	}
	if c.Presence.Freshness <= 0 {
		return errors.New("config: PRESENCE_FRESHNESS must be positive")
	}
	// 0 and 24h both disable the cutoff.
	if c.Presence.DayCutoff < 0 || c.Presence.DayCutoff > 24*time.Hour {
		return errors.New("config: PRESENCE_DAY_CUTOFF must be within [0, 24h]")
	}
	if !c.RateLimit.Disabled && c.RateLimit.Window <= 0 {
		return errors.New("config: RATE_LIMIT_WINDOW must be positive")
	}
	switch c.Attendance.ScanStore {
	case ScanStoreMemory:
	case ScanStorePostgres:
		if c.Database.URL == "" {
			return errors.New("config: SCAN_STORE=postgres requires DATABASE_URL")
		}
	case ScanStoreRedis:
		if c.Redis.URL == "" {
			return errors.New("config: SCAN_STORE=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("config: unknown SCAN_STORE %q", c.Attendance.ScanStore)
	}
	if c.IsProduction() {
		if c.Attendance.Secret == DevTokenSecret {
			return errors.New("config: TOKEN_SECRET must be set when APP_ENV=production")
		}
		if c.Server.JWTSigningKey == devJWTSigningKey {
			return errors.New("config: JWT_SIGNING_KEY must be set when APP_ENV=production")
		}
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
