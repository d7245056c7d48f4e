package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HTTPPort        string        `envconfig:"HTTP_PORT" default:"8080"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`

	CartAPIURL    string `envconfig:"CART_API_URL" default:"http://localhost:3000/api"`
	CatalogAPIURL string `envconfig:"CATALOG_API_URL" default:"http://localhost:3000/api"`
	Currency      string `envconfig:"CURRENCY" default:"USD"`

	// StorageDriver selects the guest cart backend: redis, mongo or memory.
	StorageDriver string        `envconfig:"STORAGE_DRIVER" default:"redis"`
	CartRetention time.Duration `envconfig:"CART_RETENTION" default:"168h"`

	// SyncSessionTTL is how long a finished guest cart migration is remembered.
	SyncSessionTTL time.Duration `envconfig:"SYNC_SESSION_TTL" default:"24h"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`

	MongoURI    string `envconfig:"MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDBName string `envconfig:"MONGO_DB_NAME" default:"storefront"`

	// KafkaBrokers is optional; sync events and catalog invalidation are
	// disabled when empty.
	KafkaBrokers    []string      `envconfig:"KAFKA_BROKERS"`
	CatalogCacheTTL time.Duration `envconfig:"CATALOG_CACHE_TTL" default:"15m"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case "redis", "mongo", "memory":
	default:
		return fmt.Errorf("invalid STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.CartRetention <= 0 {
		return fmt.Errorf("CART_RETENTION must be positive")
	}
	if c.SyncSessionTTL <= 0 {
		return fmt.Errorf("SYNC_SESSION_TTL must be positive")
	}
	return nil
}
