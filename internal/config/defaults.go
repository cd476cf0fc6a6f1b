package config

import "time"

// Default configuration values.
const (
	DefaultServeAddr       = "127.0.0.1:8787"
	DefaultReadTimeout     = 10 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
	DefaultMaxBodyBytes    = 1 << 20
	DefaultWatchDebounce   = 200 * time.Millisecond
	DefaultDuckDBDatabase  = ":memory:"
	DefaultCatalogDriver   = "postgres"
	DefaultWatchExtensions = ".sql"
)

// ApplyServeDefaults applies default values to a ServeConfig.
func ApplyServeDefaults(c *ServeConfig) {
	if c == nil {
		return
	}
	if c.Addr == "" {
		c.Addr = DefaultServeAddr
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// ApplyWatchDefaults applies default values to a WatchConfig.
func ApplyWatchDefaults(c *WatchConfig) {
	if c == nil {
		return
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultWatchDebounce
	}
	if len(c.Extensions) == 0 {
		c.Extensions = []string{DefaultWatchExtensions}
	}
}

// ApplyCatalogDefaults applies default values to a CatalogConfig.
func ApplyCatalogDefaults(c *CatalogConfig) {
	if c == nil {
		return
	}
	if c.Driver == "duckdb" && c.DSN == "" {
		c.DSN = DefaultDuckDBDatabase
	}
}
