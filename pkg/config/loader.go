package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load fills cfg from environment variables described by `env` struct tags.
// Unset variables fall back to their `envDefault` values.
//
//	type Config struct {
//	    Backend string `env:"CART_STORE_BACKEND" envDefault:"redis"`
//	}
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
