// Package config provides configuration management for the overlay node.
package config

import (
	"encoding/json"
	"fmt"
)

// JSONSchema represents the JSON Schema v7 for the node configuration.
// This enables IDE autocomplete, validation, and documentation.
type JSONSchema struct {
	Schema      string                    `json:"$schema"`
	Title       string                    `json:"title"`
	Description string                    `json:"description"`
	Type        string                    `json:"type"`
	Properties  map[string]PropertySchema `json:"properties"`
	Required    []string                  `json:"required,omitempty"`
}

// PropertySchema represents a property in the JSON schema
type PropertySchema struct {
	Type        string          `json:"type,omitempty"`
	Description string          `json:"description,omitempty"`
	Default     interface{}     `json:"default,omitempty"`
	Minimum     *int            `json:"minimum,omitempty"`
	Maximum     *int            `json:"maximum,omitempty"`
	Enum        []string        `json:"enum,omitempty"`
	Items       *PropertySchema `json:"items,omitempty"`
	Pattern     string          `json:"pattern,omitempty"`
	Examples    []interface{}   `json:"examples,omitempty"`
}

// GenerateJSONSchema creates a JSON Schema v7 for the Config structure.
// This schema can be used for IDE autocomplete, validation, and documentation.
func GenerateJSONSchema() (*JSONSchema, error) {
	minPort := 0
	maxPort := 65535
	minOne := 1

	schema := &JSONSchema{
		Schema:      "http://json-schema.org/draft-07/schema#",
		Title:       "go-llarp Configuration",
		Description: "Configuration schema for the go-llarp overlay router",
		Type:        "object",
		Properties: map[string]PropertySchema{
			"ListenAddr": {
				Type:        "string",
				Description: "UDP address the link layer binds",
				Default:     "0.0.0.0:1090",
				Examples:    []interface{}{"0.0.0.0:1090", "10.0.0.1:9001"},
			},
			"MetricsPort": {
				Type:        "integer",
				Description: "HTTP metrics server port (0 to disable)",
				Default:     0,
				Minimum:     &minPort,
				Maximum:     &maxPort,
				Examples:    []interface{}{9151, 0},
			},
			"EnableMetrics": {
				Type:        "boolean",
				Description: "Enable the HTTP metrics endpoint (Prometheus exposition format)",
				Default:     false,
			},
			"DataDirectory": {
				Type:        "string",
				Description: "Directory for persistent router keys and the most-recent router contact",
				Examples:    []interface{}{"~/.go-llarp", "/var/lib/go-llarp"},
			},
			"SessionTimeout": {
				Type:        "string",
				Description: "Silence before a link session is torn down (duration string)",
				Default:     "10s",
				Pattern:     "^[0-9]+(ns|us|µs|ms|s|m|h|d)$",
				Examples:    []interface{}{"10s", "30s"},
			},
			"KeepAliveInterval": {
				Type:        "string",
				Description: "Keep-alive cadence on an idle session (duration string)",
				Default:     "5s",
				Pattern:     "^[0-9]+(ns|us|µs|ms|s|m|h|d)$",
				Examples:    []interface{}{"5s"},
			},
			"MinConnectedRouters": {
				Type:        "integer",
				Description: "Floor on outbound link sessions the node tries to keep",
				Default:     4,
				Minimum:     &minOne,
				Examples:    []interface{}{4, 6},
			},
			"MaxConnectedRouters": {
				Type:        "integer",
				Description: "Ceiling on outbound link sessions",
				Default:     6,
				Minimum:     &minOne,
				Examples:    []interface{}{6, 10},
			},
			"StrictConnectList": {
				Type:        "array",
				Description: "If non-empty, path hops are sampled only from this set (hex router ids)",
				Items:       &PropertySchema{Type: "string"},
			},
			"Blacklist": {
				Type:        "array",
				Description: "Router ids excluded from path sampling and inbound acceptance",
				Items:       &PropertySchema{Type: "string"},
			},
			"PathAlignmentTimeout": {
				Type:        "string",
				Description: "Time budget for a path build to reach the established state",
				Default:     "10s",
				Pattern:     "^[0-9]+(ns|us|µs|ms|s|m|h|d)$",
			},
			"PathLifetime": {
				Type:        "string",
				Description: "Default path lifetime before rebuild",
				Default:     "10m",
				Pattern:     "^[0-9]+(ns|us|µs|ms|s|m|h|d)$",
			},
			"PathRebuildMargin": {
				Type:        "string",
				Description: "Proactive rebuild margin before path expiry",
				Default:     "1m",
				Pattern:     "^[0-9]+(ns|us|µs|ms|s|m|h|d)$",
			},
			"NumPathHops": {
				Type:        "integer",
				Description: "Hops per path",
				Default:     4,
				Minimum:     &minOne,
				Examples:    []interface{}{3, 4},
			},
			"PublishInterval": {
				Type:        "string",
				Description: "Introset publish cadence",
				Default:     "2m30s",
				Pattern:     "^[0-9]+(ns|us|µs|ms|s|m|h|d)$",
			},
			"RetryCooldown": {
				Type:        "string",
				Description: "Introset publish retry cooldown",
				Default:     "1s",
				Pattern:     "^[0-9]+(ns|us|µs|ms|s|m|h|d)$",
			},
			"LookupCooldown": {
				Type:        "string",
				Description: "Introset lookup rate-limit window",
				Default:     "250ms",
				Pattern:     "^[0-9]+(ns|us|µs|ms|s|m|h|d)$",
			},
			"MinIntroLookupEndpoints": {
				Type:        "integer",
				Description: "Minimum distinct DHT endpoints queried per introset lookup",
				Default:     2,
				Minimum:     &minOne,
			},
			"MaxIntroLookupEndpoints": {
				Type:        "integer",
				Description: "Maximum distinct DHT endpoints queried per introset lookup",
				Default:     7,
				Minimum:     &minOne,
			},
			"LogLevel": {
				Type:        "string",
				Description: "Logging verbosity level",
				Default:     "info",
				Enum:        []string{"debug", "info", "warn", "error"},
			},
		},
	}

	return schema, nil
}

// ToJSON converts the schema to JSON format
func (s *JSONSchema) ToJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// ValidationError represents a configuration validation error with context
type ValidationError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
	Severity   string // "error", "warning"
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	if v.Suggestion != "" {
		return fmt.Sprintf("%s: %s (suggestion: %s)", v.Field, v.Message, v.Suggestion)
	}
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// ValidationResult contains the results of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidateDetailed performs comprehensive validation with detailed feedback,
// beyond the pass/fail of Validate.
func (c *Config) ValidateDetailed() *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:      "MetricsPort",
			Value:      c.MetricsPort,
			Message:    fmt.Sprintf("invalid port number: %d", c.MetricsPort),
			Suggestion: "use a port between 0 and 65535 (0 to disable metrics)",
			Severity:   "error",
		})
	} else if c.MetricsPort > 0 && c.MetricsPort < 1024 {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:      "MetricsPort",
			Value:      c.MetricsPort,
			Message:    "using privileged port (< 1024)",
			Suggestion: "consider using a port >= 1024 to avoid requiring root privileges",
			Severity:   "warning",
		})
	}

	if c.SessionTimeout <= 0 {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:      "SessionTimeout",
			Value:      c.SessionTimeout,
			Message:    "must be positive",
			Suggestion: "recommended: 10s to 30s",
			Severity:   "error",
		})
	}

	if c.KeepAliveInterval <= 0 || c.KeepAliveInterval >= c.SessionTimeout {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:      "KeepAliveInterval",
			Value:      c.KeepAliveInterval,
			Message:    "must be positive and less than SessionTimeout",
			Suggestion: "recommended: half of SessionTimeout",
			Severity:   "error",
		})
	}

	if c.MinConnectedRouters < 1 {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:      "MinConnectedRouters",
			Value:      c.MinConnectedRouters,
			Message:    "must be at least 1",
			Suggestion: "recommended: 4 for path diversity",
			Severity:   "error",
		})
	} else if c.MinConnectedRouters < c.NumPathHops {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:      "MinConnectedRouters",
			Value:      c.MinConnectedRouters,
			Message:    "fewer connected routers than hops per path limits path diversity",
			Suggestion: fmt.Sprintf("consider raising to at least NumPathHops (%d)", c.NumPathHops),
			Severity:   "warning",
		})
	}

	if c.MaxConnectedRouters < c.MinConnectedRouters {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:      "MaxConnectedRouters",
			Value:      c.MaxConnectedRouters,
			Message:    "must be >= MinConnectedRouters",
			Suggestion: fmt.Sprintf("set to at least %d", c.MinConnectedRouters),
			Severity:   "error",
		})
	}

	if c.PathLifetime <= 0 {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:      "PathLifetime",
			Value:      c.PathLifetime,
			Message:    "must be positive",
			Suggestion: "recommended: 10m",
			Severity:   "error",
		})
	}

	if c.PathRebuildMargin <= 0 || c.PathRebuildMargin >= c.PathLifetime {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:      "PathRebuildMargin",
			Value:      c.PathRebuildMargin,
			Message:    "must be positive and less than PathLifetime",
			Suggestion: "recommended: 1m",
			Severity:   "error",
		})
	}

	if c.NumPathHops < 1 {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:      "NumPathHops",
			Value:      c.NumPathHops,
			Message:    "must be at least 1",
			Suggestion: "recommended: 4 for relay-to-relay anonymity",
			Severity:   "error",
		})
	} else if c.NumPathHops < 3 {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:      "NumPathHops",
			Value:      c.NumPathHops,
			Message:    "fewer than 3 hops weakens the anonymity set",
			Suggestion: "recommended: 4",
			Severity:   "warning",
		})
	}

	if c.MinIntroLookupEndpoints < 1 {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:      "MinIntroLookupEndpoints",
			Value:      c.MinIntroLookupEndpoints,
			Message:    "must be at least 1",
			Suggestion: "recommended: 2",
			Severity:   "error",
		})
	}

	if c.MaxIntroLookupEndpoints < c.MinIntroLookupEndpoints {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:      "MaxIntroLookupEndpoints",
			Value:      c.MaxIntroLookupEndpoints,
			Message:    "must be >= MinIntroLookupEndpoints",
			Suggestion: fmt.Sprintf("set to at least %d", c.MinIntroLookupEndpoints),
			Severity:   "error",
		})
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:      "LogLevel",
			Value:      c.LogLevel,
			Message:    "invalid log level",
			Suggestion: "must be one of: debug, info, warn, error",
			Severity:   "error",
		})
	}

	if c.DataDirectory == "" {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:      "DataDirectory",
			Value:      c.DataDirectory,
			Message:    "must not be empty",
			Suggestion: "specify a directory to store router keys and the router contact",
			Severity:   "error",
		})
	}

	return result
}
