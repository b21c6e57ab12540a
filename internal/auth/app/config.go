package app

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is populated from the environment at startup. Durations accept the
// usual Go forms ("15m", "1h30m").
type Config struct {
	Issuer   string   `env:"WARDEN_ISSUER" envDefault:"warden-auth"`
	Audience []string `env:"WARDEN_AUDIENCE" envSeparator:" "`

	NumKeys int `env:"WARDEN_NUM_KEYS" envDefault:"3"` // signing keys to generate at startup

	DatabaseFile string `env:"WARDEN_DATABASE_FILE" envDefault:"warden.db"`
	PepperFile   string `env:"WARDEN_PEPPER_FILE" envDefault:"pepper"`

	AccessTokenTTL   time.Duration `env:"WARDEN_ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL  time.Duration `env:"WARDEN_REFRESH_TOKEN_TTL" envDefault:"168h"`
	IdentityTokenTTL time.Duration `env:"WARDEN_IDENTITY_TOKEN_TTL" envDefault:"1h"`

	Env       string `env:"ENV" envDefault:"dev"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	Port      int    `env:"PORT" envDefault:"8080"`

	ShutdownGracePeriod  time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`
	HousekeepingInterval time.Duration `env:"HOUSEKEEPING_INTERVAL" envDefault:"1h"`
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
