// Package config provides configuration management for the overlay node.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config represents the overlay router configuration.
type Config struct {
	// Network settings
	ListenAddr    string // UDP address the link layer binds (default: 0.0.0.0:1090)
	MetricsPort   int    // HTTP metrics server port (default: 0 = disabled)
	EnableMetrics bool   // Enable HTTP metrics endpoint (default: false)
	DataDirectory string // Directory for persistent router keys and RC

	// Link layer (pkg/iwp)
	SessionTimeout    time.Duration // silence before a link session is torn down (default: 10s)
	KeepAliveInterval time.Duration // ALIV cadence on an idle session (default: 5s)

	// Router set membership
	MinConnectedRouters int      // floor on outbound link sessions the node tries to keep (default: 4)
	MaxConnectedRouters int      // ceiling on outbound link sessions (default: 6)
	StrictConnectList   []string // if non-empty, path hops are sampled only from this set (hex router ids)
	Blacklist           []string // router ids excluded from path sampling and inbound acceptance

	// Path subsystem
	PathAlignmentTimeout time.Duration // time budget for a path build to reach Established (default: 10s)
	PathLifetime         time.Duration // default path lifetime (default: 10m)
	PathRebuildMargin    time.Duration // proactive rebuild margin before expiry (default: 1m)
	NumPathHops          int           // hops per path, n (default: 4)

	// Hidden-service flow layer
	PublishInterval         time.Duration // introset publish cadence (default: 2m30s)
	RetryCooldown           time.Duration // introset publish retry cooldown (default: 1s)
	LookupCooldown          time.Duration // introset lookup rate-limit window (default: 250ms)
	MinIntroLookupEndpoints int           // minimum distinct DHT endpoints queried per lookup (default: 2)
	MaxIntroLookupEndpoints int           // maximum distinct DHT endpoints queried per lookup (default: 7)

	// Logging
	LogLevel string // Log level: debug, info, warn, error (default: info)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:    "0.0.0.0:1090",
		MetricsPort:   0,
		EnableMetrics: false,
		DataDirectory: defaultDataDir(),

		SessionTimeout:    10 * time.Second,
		KeepAliveInterval: 5 * time.Second,

		MinConnectedRouters: 4,
		MaxConnectedRouters: 6,
		StrictConnectList:   []string{},
		Blacklist:           []string{},

		PathAlignmentTimeout: 10 * time.Second,
		PathLifetime:         10 * time.Minute,
		PathRebuildMargin:    1 * time.Minute,
		NumPathHops:          4,

		PublishInterval:         150 * time.Second,
		RetryCooldown:           1 * time.Second,
		LookupCooldown:          250 * time.Millisecond,
		MinIntroLookupEndpoints: 2,
		MaxIntroLookupEndpoints: 7,

		LogLevel: "info",
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./go-llarp-data"
	}
	return filepath.Join(home, ".go-llarp")
}

// Validate checks if the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid MetricsPort: %d", c.MetricsPort)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("SessionTimeout must be positive")
	}
	if c.KeepAliveInterval <= 0 || c.KeepAliveInterval >= c.SessionTimeout {
		return fmt.Errorf("KeepAliveInterval must be positive and less than SessionTimeout")
	}
	if c.MinConnectedRouters < 1 {
		return fmt.Errorf("MinConnectedRouters must be at least 1")
	}
	if c.MaxConnectedRouters < c.MinConnectedRouters {
		return fmt.Errorf("MaxConnectedRouters must be >= MinConnectedRouters")
	}
	if c.PathAlignmentTimeout <= 0 {
		return fmt.Errorf("PathAlignmentTimeout must be positive")
	}
	if c.PathLifetime <= 0 {
		return fmt.Errorf("PathLifetime must be positive")
	}
	if c.PathRebuildMargin <= 0 || c.PathRebuildMargin >= c.PathLifetime {
		return fmt.Errorf("PathRebuildMargin must be positive and less than PathLifetime")
	}
	if c.NumPathHops < 1 {
		return fmt.Errorf("NumPathHops must be at least 1")
	}
	if c.PublishInterval <= 0 {
		return fmt.Errorf("PublishInterval must be positive")
	}
	if c.RetryCooldown <= 0 {
		return fmt.Errorf("RetryCooldown must be positive")
	}
	if c.LookupCooldown <= 0 {
		return fmt.Errorf("LookupCooldown must be positive")
	}
	if c.MinIntroLookupEndpoints < 1 {
		return fmt.Errorf("MinIntroLookupEndpoints must be at least 1")
	}
	if c.MaxIntroLookupEndpoints < c.MinIntroLookupEndpoints {
		return fmt.Errorf("MaxIntroLookupEndpoints must be >= MinIntroLookupEndpoints")
	}
	if c.DataDirectory == "" {
		return fmt.Errorf("DataDirectory must not be empty")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid LogLevel: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.StrictConnectList = append([]string{}, c.StrictConnectList...)
	clone.Blacklist = append([]string{}, c.Blacklist...)
	return &clone
}
