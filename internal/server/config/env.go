package config

import (
	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// parseEnv overlays cfg with environment variables. A .env file in the
// working directory is loaded first; variables already set win over it.
// Unset variables leave fields untouched; malformed values panic.
func parseEnv(cfg *Config) {
	_ = godotenv.Load()

	if err := env.Parse(cfg); err != nil {
		panic(err)
	}
}
