package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL"`

	CloudRedisAddr     string `envconfig:"CLOUD_REDIS_ADDR"`
	CloudRedisPassword string `envconfig:"CLOUD_REDIS_PASSWORD"`
	CloudRedisDB       int    `envconfig:"CLOUD_REDIS_DB" default:"0"`

	ShopCode         string        `envconfig:"SHOP_CODE" default:"S001"`
	BusinessTimezone string        `envconfig:"BUSINESS_TIMEZONE" default:"Asia/Tokyo"`
	SyncInterval     time.Duration `envconfig:"SYNC_INTERVAL" default:"5m"`

	ShadowDir             string        `envconfig:"SHADOW_DIR" default:"./data/shadow"`
	ShadowRetentionMonths int           `envconfig:"SHADOW_RETENTION_MONTHS" default:"1"`
	ShadowReplayInterval  time.Duration `envconfig:"SHADOW_REPLAY_INTERVAL" default:"1h"`

	AuthSecret            string `envconfig:"AUTH_SECRET"`
	AccessTokenTTLMinutes int    `envconfig:"ACCESS_TOKEN_TTL_MINUTES" default:"480"`
	ManagerPIN            string `envconfig:"MANAGER_PIN"`
	SettingsPassphrase    string `envconfig:"SETTINGS_PASSPHRASE"`

	// BootstrapAdminPassword seeds the first admin of an empty user table.
	BootstrapAdminUsername string `envconfig:"BOOTSTRAP_ADMIN_USERNAME" default:"admin"`
	BootstrapAdminPassword string `envconfig:"BOOTSTRAP_ADMIN_PASSWORD"`

	// ReceiptSpool is a file receipts are appended to. Empty prints to stdout.
	ReceiptSpool string `envconfig:"RECEIPT_SPOOL"`
}

// Load reads an optional .env file, then the process environment. Variables
// already set in the environment win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process config: %w", err)
	}

	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.ManagerPIN = strings.TrimSpace(cfg.ManagerPIN)
	cfg.ShopCode = strings.TrimSpace(cfg.ShopCode)
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 5 * time.Minute
	}
	if cfg.ShadowReplayInterval <= 0 {
		cfg.ShadowReplayInterval = time.Hour
	}
	if cfg.ShadowRetentionMonths < 1 {
		cfg.ShadowRetentionMonths = 1
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Location resolves BusinessTimezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid BUSINESS_TIMEZONE %q: %w", c.BusinessTimezone, err)
	}
	return loc, nil
}
