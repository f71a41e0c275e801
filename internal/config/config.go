package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process configuration, read from the environment after the
// optional .env files have been applied.
type Config struct {
	HTTPAddr               string        `env:"HTTP_ADDR" envDefault:":8081"`
	LogLevel               string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL            string        `env:"DATABASE_URL"`
	SeedFile               string        `env:"SEED_FILE"`
	JWTSecret              string        `env:"JWT_SECRET,required"`
	AccessTokenTTL         time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	ConfirmTokenTTL        time.Duration `env:"CONFIRM_TOKEN_TTL" envDefault:"24h"`
	RedisURL               string        `env:"REDIS_URL"`
	CORSAllowedOrigins     []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	CatalogRefreshInterval time.Duration `env:"CATALOG_REFRESH_INTERVAL" envDefault:"30s"`
	PopupDenyUnconfirmed   bool          `env:"POPUP_DENY_UNCONFIRMED" envDefault:"false"`
	RequestTimeout         time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
}

// DefaultEnvFiles are loaded in order when present; variables already set in
// the process environment win.
var DefaultEnvFiles = []string{".env", ".env.local"}

// LoadEnv applies whichever of files exist and reports how many were read.
func LoadEnv(files []string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Load reads DefaultEnvFiles and parses the process environment.
func Load() (Config, error) {
	if _, err := LoadEnv(DefaultEnvFiles); err != nil {
		return Config{}, fmt.Errorf("load env files: %w", err)
	}
	return parse(env.Options{})
}

// FromMap parses cfg from vars only, ignoring the process environment.
func FromMap(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.AccessTokenTTL <= 0 {
		return errors.New("ACCESS_TOKEN_TTL must be positive")
	}
	if c.ConfirmTokenTTL <= 0 {
		return errors.New("CONFIRM_TOKEN_TTL must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT must be positive")
	}
	if c.DatabaseURL != "" && c.CatalogRefreshInterval <= 0 {
		return errors.New("CATALOG_REFRESH_INTERVAL must be positive when DATABASE_URL is set")
	}
	return nil
}
