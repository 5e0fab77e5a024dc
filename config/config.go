/*
Package config loads runtime configuration from the environment.

PURPOSE:
  One place that knows every knob the server accepts. Values come from the
  process environment, optionally seeded from a .env file for local
  development. Missing values fall back to sensible defaults so a bare
  `go run ./cmd/server` works out of the box.
*/
package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds the server's runtime settings.
type Config struct {
	// Port the HTTP API listens on.
	Port string

	// DBPath is the SQLite database file. ":memory:" for ephemeral runs.
	DBPath string

	// BalanceTolerance for declared-vs-computed statement balance checks.
	BalanceTolerance decimal.Decimal

	// LockWait bounds how long a write waits to serialize on an entity key.
	LockWait time.Duration

	// OpeningBalances maps bank account id to its opening balance,
	// parsed from "ACC1=100000,ACC2=2500.50".
	OpeningBalances map[string]decimal.Decimal
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Println("loaded configuration from .env")
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		DBPath:          getEnv("DB_PATH", "./data/pharmacy.db"),
		LockWait:        5 * time.Second,
		OpeningBalances: map[string]decimal.Decimal{},
	}

	if raw := os.Getenv("BALANCE_TOLERANCE"); raw != "" {
		tolerance, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid BALANCE_TOLERANCE %q: %w", raw, err)
		}
		cfg.BalanceTolerance = tolerance
	}

	if raw := os.Getenv("LOCK_WAIT"); raw != "" {
		wait, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid LOCK_WAIT %q: %w", raw, err)
		}
		cfg.LockWait = wait
	}

	if raw := os.Getenv("OPENING_BALANCES"); raw != "" {
		balances, err := parseOpeningBalances(raw)
		if err != nil {
			return nil, err
		}
		cfg.OpeningBalances = balances
	}

	return cfg, nil
}

func parseOpeningBalances(raw string) (map[string]decimal.Decimal, error) {
	out := map[string]decimal.Decimal{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		account, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid OPENING_BALANCES entry %q: want account=amount", pair)
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid opening balance for %q: %w", account, err)
		}
		out[strings.TrimSpace(account)] = amount
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
