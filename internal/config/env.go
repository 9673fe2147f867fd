package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every structured override, e.g. WHATSCAST_HTTP_ADDR.
const EnvPrefix = "WHATSCAST_"

// deploymentEnv holds the unprefixed variable names common in container
// deployments. They are applied after the prefixed ones.
type deploymentEnv struct {
	Port        string `env:"PORT"`
	FrontendURL string `env:"FRONTEND_URL"`
	JWTSecret   string `env:"JWT_SECRET"`
	DBHost      string `env:"DB_HOST"`
	DBPort      int    `env:"DB_PORT"`
	DBUser      string `env:"DB_USERNAME"`
	DBPassword  string `env:"DB_PASSWORD"`
	DBName      string `env:"DB_DATABASE"`
}

// ApplyEnv overrides cfg with values from the environment.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse %s* environment: %w", EnvPrefix, err)
	}

	var d deploymentEnv
	if err := env.Parse(&d); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	if d.Port != "" {
		if _, err := strconv.Atoi(d.Port); err != nil {
			return fmt.Errorf("invalid PORT %q", d.Port)
		}
		cfg.Gateway.Addr = ":" + d.Port
	}
	if d.FrontendURL != "" {
		cfg.Gateway.FrontendURL = d.FrontendURL
	}
	if d.JWTSecret != "" {
		cfg.Gateway.JWTSecret = d.JWTSecret
	}
	if d.DBHost != "" {
		cfg.Storage.Driver = "postgres"
		cfg.Storage.DSN = ""
		cfg.Storage.Host = strings.TrimSpace(d.DBHost)
		if d.DBPort != 0 {
			cfg.Storage.Port = d.DBPort
		}
		cfg.Storage.User = d.DBUser
		cfg.Storage.Password = d.DBPassword
		cfg.Storage.Database = d.DBName
	}
	return nil
}
