package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load fills the given struct from environment variables using `env` tags:
//
//	type Config struct {
//	    Port     int    `env:"AUTH_HTTP_PORT" envDefault:"8001"`
//	    LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
//	}
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
