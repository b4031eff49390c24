package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	appenv "github.com/garrettladley/plata/internal/env"
)

var (
	ErrMissingToken   = errors.New("no provider token configured for the active mode")
	ErrUnknownDriver  = errors.New("unknown database driver")
	ErrInvalidSetting = errors.New("invalid setting")
)

type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

type Config struct {
	Env           appenv.Environment `env:"ENV" envDefault:"development"`
	Port          string             `env:"PORT" envDefault:"8080"`
	Database      Database           `envPrefix:"DATABASE_"`
	Redis         Redis              `envPrefix:"REDIS_"`
	Plata         Plata              `envPrefix:"PLATA_"`
	LedgerTimeout time.Duration      `env:"LEDGER_TIMEOUT" envDefault:"15s"`
	// RateLimit is webhook requests per second per client IP.
	RateLimit int `env:"RATE_LIMIT" envDefault:"20"`
}

type Database struct {
	Driver Driver `env:"DRIVER" envDefault:"sqlite"`
	// URL is a PostgreSQL connection string or a SQLite file path.
	URL string `env:"URL" envDefault:"plata.db"`
}

// Redis is optional; without a URL the key cache and rate limiter stay
// in-process.
type Redis struct {
	URL string `env:"URL"`
}

func (r Redis) Enabled() bool { return r.URL != "" }

type Plata struct {
	BaseURL   string `env:"BASE_URL" envDefault:"https://api.monobank.ua"`
	LiveToken string `env:"LIVE_TOKEN"`
	TestToken string `env:"TEST_TOKEN"`
	TestMode  bool   `env:"TEST_MODE" envDefault:"false"`

	KeyTTL          time.Duration `env:"KEY_TTL" envDefault:"24h"`
	KeyMaxStaleness time.Duration `env:"KEY_MAX_STALENESS" envDefault:"1h"`
	KeyMinRefresh   time.Duration `env:"KEY_MIN_REFRESH" envDefault:"1m"`
	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT" envDefault:"10s"`
}

// Token returns the token for the active mode.
func (p Plata) Token() string {
	if p.TestMode {
		return p.TestToken
	}
	return p.LiveToken
}

// Read parses the process environment.
func Read() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Parse reads configuration from environ instead of the process environment.
func Parse(environ map[string]string) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: environ})
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// ReadDatabase parses only the DATABASE_ settings, for tools that never call
// the provider.
func ReadDatabase() (Database, error) {
	db, err := env.ParseAsWithOptions[Database](env.Options{Prefix: "DATABASE_"})
	if err != nil {
		return Database{}, err
	}
	return db, db.Validate()
}

// ReadPlata parses only the PLATA_ settings.
func ReadPlata() (Plata, error) {
	p, err := env.ParseAsWithOptions[Plata](env.Options{Prefix: "PLATA_"})
	if err != nil {
		return Plata{}, err
	}
	if p.Token() == "" {
		return Plata{}, ErrMissingToken
	}
	return p, nil
}

func (d Database) Validate() error {
	var errs []error
	switch d.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("%w %q", ErrUnknownDriver, string(d.Driver)))
	}
	if d.URL == "" {
		errs = append(errs, fmt.Errorf("%w: DATABASE_URL is empty", ErrInvalidSetting))
	}
	return errors.Join(errs...)
}

func (c Config) Validate() error {
	var errs []error

	if err := c.Env.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: ENV: %w", ErrInvalidSetting, err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Plata.Token() == "" {
		mode := "PLATA_LIVE_TOKEN"
		if c.Plata.TestMode {
			mode = "PLATA_TEST_TOKEN"
		}
		errs = append(errs, fmt.Errorf("%w: set %s", ErrMissingToken, mode))
	}

	for name, d := range map[string]time.Duration{
		"PLATA_KEY_TTL":       c.Plata.KeyTTL,
		"PLATA_FETCH_TIMEOUT": c.Plata.FetchTimeout,
		"LEDGER_TIMEOUT":      c.LedgerTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%w: %s must be positive", ErrInvalidSetting, name))
		}
	}
	if c.Plata.KeyMaxStaleness < 0 || c.Plata.KeyMinRefresh < 0 {
		errs = append(errs, fmt.Errorf("%w: key staleness and refresh interval must not be negative", ErrInvalidSetting))
	}
	if c.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("%w: RATE_LIMIT must be positive", ErrInvalidSetting))
	}

	return errors.Join(errs...)
}
