// Package config reads server settings from TOURNEY_* environment variables,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const Prefix = "TOURNEY_"

type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	DBDriver    string `env:"DB_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`

	// An empty RedisAddr disables cross-instance fan-out.
	RedisAddr    string `env:"REDIS_ADDR"`
	RedisChannel string `env:"REDIS_CHANNEL" envDefault:"tourney:events"`

	ItemsDir string `env:"ITEMS_DIR" envDefault:"./items"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	TxRetries       int           `env:"TX_RETRIES" envDefault:"5"`
	WSReadTimeout   time.Duration `env:"WS_READ_TIMEOUT" envDefault:"60s"`
	WSWriteTimeout  time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"3s"`
	DefaultLocale   string        `env:"DEFAULT_LOCALE" envDefault:"en"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`
	// Allowed websocket origins, comma separated (e.g. "localhost:*").
	WSOrigins []string `env:"WS_ORIGINS" envSeparator:","`
}

// Load reads the given dotenv files (missing files are skipped) and then the
// environment. Variables already set in the environment win over the files.
func Load(files ...string) (Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported %sDB_DRIVER %q", Prefix, c.DBDriver)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("%sDATABASE_URL is required", Prefix)
	}
	if c.TxRetries < 0 {
		return fmt.Errorf("%sTX_RETRIES must not be negative", Prefix)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("unsupported %sLOG_FORMAT %q", Prefix, c.LogFormat)
	}
	return nil
}
