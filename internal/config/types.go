// Package config provides shared configuration types for sqlineage.
// This package is decoupled from CLI concerns so the server and watcher
// can take their settings without importing cobra.
package config

import (
	"fmt"
	"strings"
	"time"
)

// ServeConfig holds configuration for the HTTP API.
type ServeConfig struct {
	Addr           string        `koanf:"addr"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	MaxBodyBytes   int64         `koanf:"max_body_bytes"`
	Persist        bool          `koanf:"persist"`
}

// WatchConfig holds configuration for the file watcher.
type WatchConfig struct {
	Debounce   time.Duration `koanf:"debounce"`
	Extensions []string      `koanf:"extensions"`
}

// CatalogConfig holds the database whose views are read by the views command.
type CatalogConfig struct {
	Driver  string   `koanf:"driver"` // postgres, duckdb
	DSN     string   `koanf:"dsn"`
	Schemas []string `koanf:"schemas"`
}

// Validate checks if the catalog configuration is usable.
func (c *CatalogConfig) Validate() error {
	if c.Driver == "" {
		return fmt.Errorf("catalog driver is required")
	}
	switch strings.ToLower(c.Driver) {
	case "postgres", "duckdb":
	default:
		return fmt.Errorf("unknown catalog driver %q (available: duckdb, postgres)", c.Driver)
	}
	if c.DSN == "" && !strings.EqualFold(c.Driver, "duckdb") {
		return fmt.Errorf("catalog dsn is required for %s", c.Driver)
	}
	return nil
}
