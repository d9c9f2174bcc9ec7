package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	SessionDriverMemory   = "memory"
	SessionDriverRedis    = "redis"
	SessionDriverPostgres = "postgres"
	SessionDriverNone     = "none"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat     string `envconfig:"LOG_FORMAT" default:"json"`
	AuthSecret    string `envconfig:"AUTH_SECRET"`

	// SessionDriver selects where carts are persisted: memory, redis, postgres or none.
	SessionDriver string        `envconfig:"SESSION_DRIVER" default:"memory"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"12h"`
	StoragePrefix string        `envconfig:"CART_STORAGE_PREFIX" default:"cart-storage-"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// DatabaseURL backs the postgres session store and, when set, the product catalog.
	DatabaseURL string `envconfig:"DATABASE_URL"`

	StockPolicy   string `envconfig:"STOCK_POLICY" default:"advisory"`
	DefaultBranch string `envconfig:"DEFAULT_BRANCH_ID" default:"1"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.SessionDriver = strings.ToLower(strings.TrimSpace(cfg.SessionDriver))
	cfg.StockPolicy = strings.ToLower(strings.TrimSpace(cfg.StockPolicy))
	// An exported but empty variable bypasses envconfig defaults.
	if cfg.SessionDriver == "" {
		cfg.SessionDriver = SessionDriverMemory
	}
	if cfg.StockPolicy == "" {
		cfg.StockPolicy = "advisory"
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.SessionDriver {
	case SessionDriverMemory, SessionDriverNone:
	case SessionDriverRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("SESSION_DRIVER=redis requires REDIS_ADDR")
		}
	case SessionDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("SESSION_DRIVER=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown SESSION_DRIVER %q", c.SessionDriver)
	}

	if c.StockPolicy != "advisory" && c.StockPolicy != "enforce" {
		return fmt.Errorf("STOCK_POLICY must be advisory or enforce, got %q", c.StockPolicy)
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("SESSION_TTL cannot be negative")
	}
	if strings.TrimSpace(c.DefaultBranch) == "" {
		return fmt.Errorf("DEFAULT_BRANCH_ID cannot be empty")
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
