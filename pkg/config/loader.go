package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Load parses environment variables into the provided struct. Fields are
// mapped with `env` tags; embedded structs are walked, so a service config can
// share a common block:
//
//	type Config struct {
//	    Common
//	    HTTPPort int `env:"STORE_HTTP_PORT" envDefault:"8010"`
//	}
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// LoadDotenv reads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped so the
// same binary runs unchanged in containers where no .env exists.
func LoadDotenv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load dotenv %s: %w", p, err)
		}
	}
	return nil
}
