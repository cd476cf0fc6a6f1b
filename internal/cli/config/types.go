// Package config provides configuration management for the sqlineage CLI.
//
// This package extends the shared configuration types from internal/config
// with CLI-specific fields. The shared section types are re-exported here via
// type aliases for convenience.
package config

import (
	sharedcfg "github.com/leapstack-labs/sqlineage/internal/config"
)

// ServeConfig is an alias for the shared HTTP API configuration.
type ServeConfig = sharedcfg.ServeConfig

// WatchConfig is an alias for the shared watcher configuration.
type WatchConfig = sharedcfg.WatchConfig

// CatalogConfig is an alias for the shared view catalog configuration.
type CatalogConfig = sharedcfg.CatalogConfig

// Config holds all CLI configuration options.
type Config struct {
	ProjectRoot  string        `koanf:"-"`
	OutputFormat string        `koanf:"output"`
	LogLevel     string        `koanf:"log_level"`
	Verbose      bool          `koanf:"verbose"`
	StatePath    string        `koanf:"state_path"`
	Jobs         int           `koanf:"jobs"`
	Serve        ServeConfig   `koanf:"serve"`
	Watch        WatchConfig   `koanf:"watch"`
	Catalog      CatalogConfig `koanf:"catalog"`
}

// Default configuration values
const (
	DefaultStateFile = ".sqlineage/history.db"
	DefaultOutput    = "auto" // Auto-detect: TTY=text, non-TTY=json
	DefaultLogLevel  = "warn"
	EnvPrefix        = "SQLINEAGE_"
)
