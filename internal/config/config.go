package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"

	DefaultRoom         = "global"
	DefaultHistoryLimit = 50
	DefaultMaxFileSize  = 5 * 1024 * 1024
	DefaultMongoDB      = "chatrelay"
)

var supportedStores = []string{StorePostgres, StoreMongo, StoreMemory}

type RateLimitConfig struct {
	Burst    int
	Interval time.Duration
}

type Config struct {
	ServerAddr     string
	StoreDriver    string
	DatabaseDSN    string
	MongoDatabase  string
	RunMigrations  bool
	AllowedOrigins []string
	DefaultRoom    string
	HistoryLimit   int
	MaxFileSize    int64
	RateLimit      RateLimitConfig
}

func defaultRateLimit() RateLimitConfig {
	return RateLimitConfig{
		Burst:    20,
		Interval: 100 * time.Millisecond,
	}
}

func normalizeOrigins(origins []string) []string {
	normalized := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" && !slices.Contains(normalized, o) {
			normalized = append(normalized, o)
		}
	}
	return normalized
}

func NewConfig(serverAddr, storeDriver, databaseDSN string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}

	if storeDriver == "" {
		storeDriver = StoreMemory
	}
	if !slices.Contains(supportedStores, storeDriver) {
		return nil, fmt.Errorf("unsupported store %q, expected one of %s", storeDriver, strings.Join(supportedStores, ", "))
	}

	if databaseDSN == "" && storeDriver != StoreMemory {
		return nil, fmt.Errorf("database DSN cannot be empty for store %q", storeDriver)
	}

	return &Config{
		ServerAddr:     serverAddr,
		StoreDriver:    storeDriver,
		DatabaseDSN:    databaseDSN,
		MongoDatabase:  DefaultMongoDB,
		AllowedOrigins: normalizeOrigins(allowedOrigins),
		DefaultRoom:    DefaultRoom,
		HistoryLimit:   DefaultHistoryLimit,
		MaxFileSize:    DefaultMaxFileSize,
		RateLimit:      defaultRateLimit(),
	}, nil
}

// Validate checks the fields that may be overridden after NewConfig.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DefaultRoom) == "" {
		return fmt.Errorf("default room cannot be empty")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("history limit must be positive, got %d", c.HistoryLimit)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max file size must be positive, got %d", c.MaxFileSize)
	}
	if c.RateLimit.Burst <= 0 || c.RateLimit.Interval <= 0 {
		return fmt.Errorf("rate limit burst and interval must be positive")
	}
	if c.StoreDriver == StoreMongo && c.MongoDatabase == "" {
		return fmt.Errorf("mongo database name cannot be empty")
	}
	return nil
}
