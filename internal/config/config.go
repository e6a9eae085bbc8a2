package config

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Port          string `mapstructure:"port"`
	AllowedOrigin string `mapstructure:"allowed_origin"`

	// Store backend. One of "postgres", "badger", "memory".
	StoreBackend string `mapstructure:"store_backend"`
	DatabaseURL  string `mapstructure:"database_url"`
	BadgerDir    string `mapstructure:"badger_dir"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	BusinessTimezone       string `mapstructure:"business_timezone"`
	CatalogRefreshSeconds  int    `mapstructure:"catalog_refresh_seconds"`
	CatalogCacheTTLSeconds int    `mapstructure:"catalog_cache_ttl_seconds"`

	CheckoutMaxAttempts   int `mapstructure:"checkout_max_attempts"`
	CheckoutBackoffMillis int `mapstructure:"checkout_backoff_millis"`

	LowStockThreshold        int   `mapstructure:"low_stock_threshold"`
	UntrackedPricePerKgCents int64 `mapstructure:"untracked_price_per_kg_cents"`

	AuthSecret            string `mapstructure:"auth_secret"`
	AccessTokenTTLMinutes int    `mapstructure:"access_token_ttl_minutes"`
	LoginMaxAttempts      int    `mapstructure:"login_max_attempts"`
	LoginWindowSeconds    int    `mapstructure:"login_window_seconds"`
}

// Settings holds the tunables the register floor adjusts without a restart.
// A config file edit repopulates it through viper's watcher.
type Settings struct {
	mu                       sync.RWMutex
	lowStockThreshold        int
	untrackedPricePerKgCents int64
	checkoutMaxAttempts      int
	checkoutBackoffMillis    int
}

// NewSettings seeds a Settings from a static Config, for callers that do not
// go through Load.
func NewSettings(cfg Config) *Settings {
	s := &Settings{}
	s.apply(cfg)
	return s
}

func (s *Settings) LowStockThreshold() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lowStockThreshold
}

func (s *Settings) UntrackedPricePerKgCents() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.untrackedPricePerKgCents
}

func (s *Settings) CheckoutMaxAttempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkoutMaxAttempts
}

func (s *Settings) CheckoutBackoff() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.checkoutBackoffMillis) * time.Millisecond
}

func (s *Settings) apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lowStockThreshold = cfg.LowStockThreshold
	s.untrackedPricePerKgCents = cfg.UntrackedPricePerKgCents
	s.checkoutMaxAttempts = cfg.CheckoutMaxAttempts
	s.checkoutBackoffMillis = cfg.CheckoutBackoffMillis
}

func newViper(configFile string) *viper.Viper {
	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("allowed_origin", "http://127.0.0.1:3000")
	v.SetDefault("store_backend", "memory")
	v.SetDefault("database_url", "")
	v.SetDefault("badger_dir", "data/kasir")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("business_timezone", "Asia/Jakarta")
	v.SetDefault("catalog_refresh_seconds", 15)
	v.SetDefault("catalog_cache_ttl_seconds", 60)
	v.SetDefault("checkout_max_attempts", 5)
	v.SetDefault("checkout_backoff_millis", 25)
	v.SetDefault("low_stock_threshold", 5)
	v.SetDefault("untracked_price_per_kg_cents", 0)
	// Declared so AutomaticEnv can bind them; no baked-in secret.
	v.SetDefault("auth_secret", "")
	v.SetDefault("access_token_ttl_minutes", 480)
	v.SetDefault("login_max_attempts", 5)
	v.SetDefault("login_window_seconds", 60)

	v.SetEnvPrefix("KASIR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	return v
}

// Load reads configuration from the environment (KASIR_ prefix) and, when
// configFile is non-empty, a yaml file layered under it. The returned
// Settings track later edits to that file.
func Load(configFile string) (Config, *Settings, error) {
	v := newViper(configFile)

	if configFile != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, nil, err
	}

	settings := NewSettings(cfg)

	if configFile != "" {
		v.OnConfigChange(func(fsnotify.Event) {
			var next Config
			if err := v.Unmarshal(&next); err != nil {
				log.Printf("[config] WARN: ignoring config reload: %v", err)
				return
			}
			if err := next.validate(); err != nil {
				log.Printf("[config] WARN: ignoring config reload: %v", err)
				return
			}
			settings.apply(next)
			log.Printf("[config] settings reloaded from %s", configFile)
		})
		v.WatchConfig()
	}

	return cfg, settings, nil
}

func (c Config) validate() error {
	switch c.StoreBackend {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("store_backend=postgres requires database_url")
		}
	case "badger":
		if c.BadgerDir == "" {
			return fmt.Errorf("store_backend=badger requires badger_dir")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store_backend %q", c.StoreBackend)
	}

	if c.CheckoutMaxAttempts < 1 {
		return fmt.Errorf("checkout_max_attempts must be at least 1")
	}
	if c.CheckoutBackoffMillis < 0 {
		return fmt.Errorf("checkout_backoff_millis must not be negative")
	}
	if c.CatalogRefreshSeconds < 1 {
		return fmt.Errorf("catalog_refresh_seconds must be at least 1")
	}
	if c.LoginMaxAttempts < 1 {
		return fmt.Errorf("login_max_attempts must be at least 1")
	}
	if c.LoginWindowSeconds < 1 {
		return fmt.Errorf("login_window_seconds must be at least 1")
	}
	if _, err := time.LoadLocation(c.BusinessTimezone); err != nil {
		return fmt.Errorf("business_timezone %q: %w", c.BusinessTimezone, err)
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
