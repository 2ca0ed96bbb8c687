// Package config provides configuration file loading for torrc-style files.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LoadFromFile loads configuration from a torrc-style file.
// It parses the file line by line and updates the provided config.
// Lines starting with # are treated as comments and ignored.
// Empty lines are ignored.
// Each configuration line follows the format: Key Value
func LoadFromFile(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validatePath(path); err != nil {
		return fmt.Errorf("path validation failed: %w", err)
	}

	file, err := os.Open(path) // #nosec G304 - path is validated by validatePath
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 1 {
			continue
		}

		key := parts[0]
		value := ""
		if len(parts) > 1 {
			value = strings.Join(parts[1:], " ")
		}

		if err := processConfigOption(cfg, key, value); err != nil {
			return fmt.Errorf("line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// processConfigOption processes a single configuration option.
func processConfigOption(cfg *Config, key, value string) error {
	switch key {
	case "ListenAddr":
		cfg.ListenAddr = value

	case "MetricsPort":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MetricsPort value: %s", value)
		}
		cfg.MetricsPort = port

	case "EnableMetrics":
		cfg.EnableMetrics = parseBool(value)

	case "DataDirectory":
		cfg.DataDirectory = value

	case "SessionTimeout":
		d, err := parseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid SessionTimeout: %w", err)
		}
		cfg.SessionTimeout = d

	case "KeepAliveInterval":
		d, err := parseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid KeepAliveInterval: %w", err)
		}
		cfg.KeepAliveInterval = d

	case "MinConnectedRouters":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MinConnectedRouters value: %s", value)
		}
		cfg.MinConnectedRouters = n

	case "MaxConnectedRouters":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MaxConnectedRouters value: %s", value)
		}
		cfg.MaxConnectedRouters = n

	case "StrictConnect":
		cfg.StrictConnectList = append(cfg.StrictConnectList, value)

	case "Blacklist":
		cfg.Blacklist = append(cfg.Blacklist, value)

	case "PathAlignmentTimeout":
		d, err := parseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid PathAlignmentTimeout: %w", err)
		}
		cfg.PathAlignmentTimeout = d

	case "PathLifetime":
		d, err := parseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid PathLifetime: %w", err)
		}
		cfg.PathLifetime = d

	case "PathRebuildMargin":
		d, err := parseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid PathRebuildMargin: %w", err)
		}
		cfg.PathRebuildMargin = d

	case "NumPathHops":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid NumPathHops value: %s", value)
		}
		cfg.NumPathHops = n

	case "PublishInterval":
		d, err := parseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid PublishInterval: %w", err)
		}
		cfg.PublishInterval = d

	case "RetryCooldown":
		d, err := parseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid RetryCooldown: %w", err)
		}
		cfg.RetryCooldown = d

	case "LookupCooldown":
		d, err := parseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid LookupCooldown: %w", err)
		}
		cfg.LookupCooldown = d

	case "MinIntroLookupEndpoints":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MinIntroLookupEndpoints value: %s", value)
		}
		cfg.MinIntroLookupEndpoints = n

	case "MaxIntroLookupEndpoints":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MaxIntroLookupEndpoints value: %s", value)
		}
		cfg.MaxIntroLookupEndpoints = n

	case "LogLevel":
		cfg.LogLevel = strings.ToLower(value)

	default:
		// Silently ignore unknown options for forward compatibility
	}

	return nil
}

// parseDuration parses a duration string with support for common time units.
// Supports: seconds (s), minutes (m), hours (h), days (d)
// Examples: "60s", "5m", "2h", "1d"
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration format: %s", s)
	}

	suffix := s[len(s)-1:]
	valueStr := s[:len(s)-1]

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", s)
	}

	switch suffix {
	case "s", "S":
		return time.Duration(value) * time.Second, nil
	case "m", "M":
		return time.Duration(value) * time.Minute, nil
	case "h", "H":
		return time.Duration(value) * time.Hour, nil
	case "d", "D":
		return time.Duration(value) * 24 * time.Hour, nil
	default:
		val, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration format: %s", s)
		}
		return time.Duration(val) * time.Second, nil
	}
}

// parseBool parses a boolean value from various string formats.
// Accepts: 1/0, true/false, yes/no, on/off (case-insensitive)
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return false
	}
}

// validatePath validates a file path to prevent directory traversal attacks.
func validatePath(path string) error {
	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("invalid path: directory traversal detected")
	}

	if !filepath.IsAbs(path) && filepath.IsAbs(cleanPath) {
		return fmt.Errorf("invalid path: attempts to escape working directory")
	}

	return nil
}

// SaveToFile saves the configuration to a torrc-style file.
func SaveToFile(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validatePath(path); err != nil {
		return fmt.Errorf("path validation failed: %w", err)
	}

	file, err := os.Create(path) // #nosec G304 - path is validated by validatePath
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	fmt.Fprintf(writer, "# go-llarp configuration file\n")
	fmt.Fprintf(writer, "# Generated automatically - edit with care\n\n")

	fmt.Fprintf(writer, "# Network Settings\n")
	fmt.Fprintf(writer, "ListenAddr %s\n", cfg.ListenAddr)
	fmt.Fprintf(writer, "MetricsPort %d\n", cfg.MetricsPort)
	fmt.Fprintf(writer, "EnableMetrics %s\n", formatBool(cfg.EnableMetrics))
	fmt.Fprintf(writer, "DataDirectory %s\n\n", cfg.DataDirectory)

	fmt.Fprintf(writer, "# Link Layer\n")
	fmt.Fprintf(writer, "SessionTimeout %s\n", formatDuration(cfg.SessionTimeout))
	fmt.Fprintf(writer, "KeepAliveInterval %s\n\n", formatDuration(cfg.KeepAliveInterval))

	fmt.Fprintf(writer, "# Router Set Membership\n")
	fmt.Fprintf(writer, "MinConnectedRouters %d\n", cfg.MinConnectedRouters)
	fmt.Fprintf(writer, "MaxConnectedRouters %d\n", cfg.MaxConnectedRouters)
	for _, id := range cfg.StrictConnectList {
		fmt.Fprintf(writer, "StrictConnect %s\n", id)
	}
	for _, id := range cfg.Blacklist {
		fmt.Fprintf(writer, "Blacklist %s\n", id)
	}
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "# Path Subsystem\n")
	fmt.Fprintf(writer, "PathAlignmentTimeout %s\n", formatDuration(cfg.PathAlignmentTimeout))
	fmt.Fprintf(writer, "PathLifetime %s\n", formatDuration(cfg.PathLifetime))
	fmt.Fprintf(writer, "PathRebuildMargin %s\n", formatDuration(cfg.PathRebuildMargin))
	fmt.Fprintf(writer, "NumPathHops %d\n\n", cfg.NumPathHops)

	fmt.Fprintf(writer, "# Hidden-Service Flow Layer\n")
	fmt.Fprintf(writer, "PublishInterval %s\n", formatDuration(cfg.PublishInterval))
	fmt.Fprintf(writer, "RetryCooldown %s\n", formatDuration(cfg.RetryCooldown))
	fmt.Fprintf(writer, "LookupCooldown %s\n", formatDuration(cfg.LookupCooldown))
	fmt.Fprintf(writer, "MinIntroLookupEndpoints %d\n", cfg.MinIntroLookupEndpoints)
	fmt.Fprintf(writer, "MaxIntroLookupEndpoints %d\n\n", cfg.MaxIntroLookupEndpoints)

	fmt.Fprintf(writer, "# Logging\n")
	fmt.Fprintf(writer, "LogLevel %s\n", cfg.LogLevel)

	return writer.Flush()
}

// formatDuration formats a duration for writing to config file.
func formatDuration(d time.Duration) string {
	if d%(24*time.Hour) == 0 && d >= 24*time.Hour {
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	}
	if d%time.Hour == 0 && d >= time.Hour {
		return fmt.Sprintf("%dh", d/time.Hour)
	}
	if d%time.Minute == 0 && d >= time.Minute {
		return fmt.Sprintf("%dm", d/time.Minute)
	}
	if d%time.Second != 0 {
		return d.String()
	}
	return fmt.Sprintf("%ds", d/time.Second)
}

// formatBool formats a boolean for writing to config file.
func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
