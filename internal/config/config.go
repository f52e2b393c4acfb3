// Package config provides configuration management for the JEFE COIN coordinator.
// It handles loading configuration from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the global configuration for JEFE COIN services
type Config struct {
	// Service identification
	ServiceName string
	Version     string
	Environment string

	// HTTP API
	ListenAddr string
	ListenPort int

	// Storage backend: "memory" or "redis"
	StorageBackend string
	RedisURL       string

	// Optional collaborators; empty values disable the integration
	PostgresURL  string
	KafkaBrokers []string
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
	ZMQPublish   string

	// Job pool tuning
	TargetActiveJobs int
	JobTTL           time.Duration
	JobSizeTiers     []int
	JobDifficulties  []int
	BaseUnitRate     float64
	ReferenceJobSize int
	BonusTiers       map[int]float64

	// Solo mining
	SoloDifficulty int
	SoloBudget     time.Duration

	// Ledger
	ActivityLogSize int

	// Auth
	SessionTTL   time.Duration
	BcryptCost   int
	SyncGuardTTL time.Duration

	// Performance tuning
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		// Service defaults
		ServiceName: getEnv("SERVICE_NAME", "jefed"),
		Version:     getEnv("VERSION", "dev"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Network defaults
		ListenAddr: getEnv("LISTEN_ADDR", "0.0.0.0"),
		ListenPort: getEnvInt("LISTEN_PORT", 8000),

		// Storage defaults
		StorageBackend: getEnv("STORAGE_BACKEND", "memory"),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// Collaborator defaults (disabled unless configured)
		PostgresURL:  getEnv("POSTGRES_URL", ""),
		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", nil),
		InfluxURL:    getEnv("INFLUX_URL", ""),
		InfluxToken:  getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:    getEnv("INFLUX_ORG", "jefe"),
		InfluxBucket: getEnv("INFLUX_BUCKET", "economy"),
		ZMQPublish:   getEnv("ZMQ_PUBLISH", ""),

		// Job pool defaults
		TargetActiveJobs: getEnvInt("TARGET_ACTIVE_JOBS", 3),
		JobTTL:           getEnvDuration("JOB_TTL", 24*time.Hour),
		JobSizeTiers:     getEnvInts("JOB_SIZE_TIERS", []int{8, 16, 32}),
		JobDifficulties:  getEnvInts("JOB_DIFFICULTIES", []int{4, 5}),
		BaseUnitRate:     getEnvFloat("BASE_UNIT_RATE", 0.003),
		ReferenceJobSize: getEnvInt("REFERENCE_JOB_SIZE", 16),
		BonusTiers: map[int]float64{
			8:  0.005,
			16: 0.01,
			32: 0.02,
		},

		// Solo mining defaults
		SoloDifficulty: getEnvInt("SOLO_DIFFICULTY", 5),
		SoloBudget:     getEnvDuration("SOLO_BUDGET", 5*time.Second),

		// Ledger defaults
		ActivityLogSize: getEnvInt("ACTIVITY_LOG_SIZE", 25),

		// Auth defaults
		SessionTTL:   getEnvDuration("SESSION_TTL", time.Hour),
		BcryptCost:   getEnvInt("BCRYPT_COST", 10),
		SyncGuardTTL: getEnvDuration("SYNC_GUARD_TTL", 30*24*time.Hour),

		// Performance defaults
		ReadTimeout:  getEnvDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getEnvDuration("WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:  getEnvDuration("IDLE_TIMEOUT", 120*time.Second),

		// Logging defaults
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// BonusFor returns the completion bonus pool for a job of the given unit
// count. Sizes between tiers round down to the nearest configured tier.
func (c *Config) BonusFor(size int) float64 {
	bonus := 0.0
	best := -1
	for tier, b := range c.BonusTiers {
		if tier <= size && tier > best {
			best = tier
			bonus = b
		}
	}
	return bonus
}

// RewardPerUnit returns the per-unit reward for a job of the given size.
func (c *Config) RewardPerUnit(size int) float64 {
	return c.BaseUnitRate * float64(size) / float64(c.ReferenceJobSize)
}

// validate performs basic validation of configuration values
func (c *Config) validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("SERVICE_NAME cannot be empty")
	}

	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("LISTEN_PORT must be between 1 and 65535")
	}

	if c.StorageBackend != "memory" && c.StorageBackend != "redis" {
		return fmt.Errorf("STORAGE_BACKEND must be 'memory' or 'redis'")
	}

	if c.TargetActiveJobs <= 0 {
		return fmt.Errorf("TARGET_ACTIVE_JOBS must be positive")
	}

	if c.JobTTL <= 0 {
		return fmt.Errorf("JOB_TTL must be positive")
	}

	if len(c.JobSizeTiers) == 0 {
		return fmt.Errorf("JOB_SIZE_TIERS cannot be empty")
	}
	for _, n := range c.JobSizeTiers {
		if n <= 0 {
			return fmt.Errorf("JOB_SIZE_TIERS entries must be positive")
		}
	}

	if len(c.JobDifficulties) == 0 {
		return fmt.Errorf("JOB_DIFFICULTIES cannot be empty")
	}
	for _, d := range c.JobDifficulties {
		if d <= 0 || d > 16 {
			return fmt.Errorf("JOB_DIFFICULTIES entries must be between 1 and 16")
		}
	}

	if c.BaseUnitRate <= 0 {
		return fmt.Errorf("BASE_UNIT_RATE must be positive")
	}

	if c.ReferenceJobSize <= 0 {
		return fmt.Errorf("REFERENCE_JOB_SIZE must be positive")
	}

	if c.SoloDifficulty <= 0 || c.SoloDifficulty > 16 {
		return fmt.Errorf("SOLO_DIFFICULTY must be between 1 and 16")
	}

	if c.ActivityLogSize <= 0 {
		return fmt.Errorf("ACTIVITY_LOG_SIZE must be positive")
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

func getEnvInts(key string, defaultValue []int) []int {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]int, 0, len(parts))
		for _, p := range parts {
			if parsed, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
				out = append(out, parsed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
