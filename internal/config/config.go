// Package config loads the application configuration from environment
// variables.
//
// CONFIGURATION STRATEGY:
// All settings come from the environment (12-factor style). In development
// a .env file is loaded first (see cmd/server/main.go), so `cp .env.example
// .env` is all you need to run locally. The struct below is parsed with
// caarlos0/env — each field's `env` tag names the variable, `envDefault`
// supplies the fallback.
//
// OAuth credentials are deliberately OPTIONAL: a missing client id/secret
// disables that login flow (the handlers redirect with an error instead),
// it never prevents the server from starting.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds every runtime setting for the server.
type Config struct {
	Port   int    `env:"PORT" envDefault:"8080"`
	DBPath string `env:"DB_PATH" envDefault:"data/rankings.db"`

	// FrontendURL is where OAuth callbacks redirect the browser after a
	// login attempt, carrying `login=success&user=...` or `error=...`
	// query parameters.
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000/index.html"`

	// 42 Intra OAuth (primary identity provider — mandatory login).
	IntraClientID     string `env:"INTRA42_CLIENT_ID"`
	IntraClientSecret string `env:"INTRA42_CLIENT_SECRET"`
	IntraCallbackURL  string `env:"INTRA42_CALLBACK_URL"`

	// Codeforces OAuth (secondary provider — optional account linking).
	CFClientID     string `env:"CF_CLIENT_ID"`
	CFClientSecret string `env:"CF_CLIENT_SECRET"`
	CFCallbackURL  string `env:"CF_CALLBACK_URL"`

	// CFAPIBase overrides the public Codeforces API base URL.
	// Only used in tests and local mirrors; the default is the real API.
	CFAPIBase string `env:"CF_API_BASE" envDefault:"https://codeforces.com/api"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}

	// Callback URLs default relative to the local server if unset, so the
	// common dev setup (everything on localhost) works out of the box.
	if cfg.IntraCallbackURL == "" {
		cfg.IntraCallbackURL = fmt.Sprintf("http://localhost:%d/api/auth/42/callback", cfg.Port)
	}
	if cfg.CFCallbackURL == "" {
		cfg.CFCallbackURL = fmt.Sprintf("http://localhost:%d/api/auth/codeforces/callback", cfg.Port)
	}

	return cfg, nil
}
