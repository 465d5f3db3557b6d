package config

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

const (
	sslModeDisable = "disable"
	sslModeRequire = "require"
)

type (
	Config struct {
		Host       string `mapstructure:"HOST"`
		Port       string `mapstructure:"PORT"`
		DBHost     string `mapstructure:"DB_HOST"`
		DBPort     string `mapstructure:"DB_PORT"`
		DBUser     string `mapstructure:"DB_USER"`
		DBPassword string `mapstructure:"DB_PASSWORD"`
		DBName     string `mapstructure:"DB_NAME"`
		DBSSLMode  string `mapstructure:"DB_SSL_MODE"`

		SessionSecret string `mapstructure:"SESSION_SECRET"`

		DiscogsBaseURL string `mapstructure:"DISCOGS_BASE_URL"`
		DiscogsToken   string `mapstructure:"DISCOGS_TOKEN"`

		ReconcileInterval string `mapstructure:"RECONCILE_INTERVAL"`
	}
)

var Module = fx.Provide(NewConfig)

func NewConfig() (*Config, error) {
	viper.SetEnvPrefix("CHICLANA")

	viper.SetDefault("HOST", "0.0.0.0")
	viper.SetDefault("PORT", "1323")
	viper.SetDefault("DB_HOST", "0.0.0.0")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "db")
	viper.SetDefault("DB_SSL_MODE", sslModeDisable)
	viper.SetDefault("SESSION_SECRET", "insecure-dev-secret")
	viper.SetDefault("DISCOGS_BASE_URL", "https://api.discogs.com")
	viper.SetDefault("DISCOGS_TOKEN", "")
	viper.SetDefault("RECONCILE_INTERVAL", "10m")

	envs := []string{
		"HOST", "PORT",
		"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSL_MODE",
		"SESSION_SECRET",
		"DISCOGS_BASE_URL", "DISCOGS_TOKEN",
		"RECONCILE_INTERVAL",
	}
	for _, key := range envs {
		if err := viper.BindEnv(key); err != nil {
			return nil, err
		}
	}

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	validSSLValues := []string{sslModeDisable, sslModeRequire}
	sslOK := false
	for _, validValue := range validSSLValues {
		if cfg.DBSSLMode == validValue {
			sslOK = true
			break
		}
	}
	if !sslOK {
		return errors.New(fmt.Sprintf("DB SSL mode is invalid: %s", cfg.DBSSLMode))
	}

	if cfg.SessionSecret == "" {
		return errors.New("session secret must not be empty")
	}

	if _, err := time.ParseDuration(cfg.ReconcileInterval); err != nil {
		return errors.Wrap(err, "reconcile interval is invalid")
	}

	return nil
}
