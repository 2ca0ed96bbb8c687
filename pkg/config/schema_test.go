package config

import (
	"encoding/json"
	"testing"
	"time"
)

func TestGenerateJSONSchema(t *testing.T) {
	schema, err := GenerateJSONSchema()
	if err != nil {
		t.Fatalf("GenerateJSONSchema() error = %v", err)
	}

	if schema == nil {
		t.Fatal("GenerateJSONSchema() returned nil schema")
	}

	if schema.Schema != "http://json-schema.org/draft-07/schema#" {
		t.Errorf("Schema field = %v, want http://json-schema.org/draft-07/schema#", schema.Schema)
	}

	if schema.Title == "" {
		t.Error("Schema title is empty")
	}

	if schema.Type != "object" {
		t.Errorf("Schema type = %v, want object", schema.Type)
	}

	requiredProps := []string{
		"ListenAddr",
		"DataDirectory",
		"LogLevel",
		"MinConnectedRouters",
		"NumPathHops",
		"PublishInterval",
	}

	for _, prop := range requiredProps {
		if _, exists := schema.Properties[prop]; !exists {
			t.Errorf("Schema missing required property: %s", prop)
		}
	}
}

func TestJSONSchemaToJSON(t *testing.T) {
	schema, err := GenerateJSONSchema()
	if err != nil {
		t.Fatalf("GenerateJSONSchema() error = %v", err)
	}

	jsonData, err := schema.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	if len(jsonData) == 0 {
		t.Fatal("ToJSON() returned empty data")
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(jsonData, &parsed); err != nil {
		t.Fatalf("Generated JSON is invalid: %v", err)
	}

	if parsed["$schema"] != "http://json-schema.org/draft-07/schema#" {
		t.Error("JSON schema $schema field incorrect")
	}
	if parsed["type"] != "object" {
		t.Error("JSON schema type field incorrect")
	}
}

func TestValidateDetailed(t *testing.T) {
	tests := []struct {
		name         string
		config       func() *Config
		wantValid    bool
		wantErrors   int
		wantWarnings int
	}{
		{
			name:      "valid default config",
			config:    DefaultConfig,
			wantValid: true,
		},
		{
			name: "invalid metrics port",
			config: func() *Config {
				c := DefaultConfig()
				c.MetricsPort = 99999
				return c
			},
			wantValid:  false,
			wantErrors: 1,
		},
		{
			name: "privileged metrics port warning",
			config: func() *Config {
				c := DefaultConfig()
				c.MetricsPort = 80
				return c
			},
			wantValid:    true,
			wantWarnings: 1,
		},
		{
			name: "invalid log level",
			config: func() *Config {
				c := DefaultConfig()
				c.LogLevel = "invalid"
				return c
			},
			wantValid:  false,
			wantErrors: 1,
		},
		{
			name: "keep-alive exceeds session timeout",
			config: func() *Config {
				c := DefaultConfig()
				c.KeepAliveInterval = c.SessionTimeout + time.Second
				return c
			},
			wantValid:  false,
			wantErrors: 1,
		},
		{
			name: "max connected routers below min",
			config: func() *Config {
				c := DefaultConfig()
				c.MaxConnectedRouters = c.MinConnectedRouters - 1
				return c
			},
			wantValid:  false,
			wantErrors: 1,
		},
		{
			name: "too few path hops warning",
			config: func() *Config {
				c := DefaultConfig()
				c.NumPathHops = 2
				return c
			},
			wantValid:    true,
			wantWarnings: 1,
		},
		{
			name: "intro lookup endpoints mismatch",
			config: func() *Config {
				c := DefaultConfig()
				c.MaxIntroLookupEndpoints = c.MinIntroLookupEndpoints - 1
				return c
			},
			wantValid:  false,
			wantErrors: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.config().ValidateDetailed()

			if result.Valid != tt.wantValid {
				t.Errorf("ValidateDetailed().Valid = %v, want %v", result.Valid, tt.wantValid)
			}
			if len(result.Errors) != tt.wantErrors {
				t.Errorf("ValidateDetailed() errors = %d, want %d", len(result.Errors), tt.wantErrors)
				for _, err := range result.Errors {
					t.Logf("  Error: %v", err)
				}
			}
			if len(result.Warnings) != tt.wantWarnings {
				t.Errorf("ValidateDetailed() warnings = %d, want %d", len(result.Warnings), tt.wantWarnings)
				for _, warn := range result.Warnings {
					t.Logf("  Warning: %v", warn)
				}
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name    string
		err     ValidationError
		wantMsg string
	}{
		{
			name: "with suggestion",
			err: ValidationError{
				Field:      "MetricsPort",
				Value:      99999,
				Message:    "invalid port",
				Suggestion: "use a port between 0 and 65535",
				Severity:   "error",
			},
			wantMsg: "MetricsPort: invalid port (suggestion: use a port between 0 and 65535)",
		},
		{
			name: "without suggestion",
			err: ValidationError{
				Field:    "LogLevel",
				Value:    "invalid",
				Message:  "invalid log level",
				Severity: "error",
			},
			wantMsg: "LogLevel: invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ValidationError.Error() = %v, want %v", got, tt.wantMsg)
			}
		})
	}
}

func TestJSONSchemaPropertiesComplete(t *testing.T) {
	schema, err := GenerateJSONSchema()
	if err != nil {
		t.Fatalf("GenerateJSONSchema() error = %v", err)
	}

	expectedFields := []string{
		"ListenAddr", "MetricsPort", "EnableMetrics", "DataDirectory",
		"SessionTimeout", "KeepAliveInterval",
		"MinConnectedRouters", "MaxConnectedRouters", "StrictConnectList", "Blacklist",
		"PathAlignmentTimeout", "PathLifetime", "PathRebuildMargin", "NumPathHops",
		"PublishInterval", "RetryCooldown", "LookupCooldown",
		"MinIntroLookupEndpoints", "MaxIntroLookupEndpoints",
		"LogLevel",
	}

	for _, field := range expectedFields {
		if _, exists := schema.Properties[field]; !exists {
			t.Errorf("Schema missing field: %s", field)
		}
	}
}

func TestJSONSchemaEnumValidation(t *testing.T) {
	schema, err := GenerateJSONSchema()
	if err != nil {
		t.Fatalf("GenerateJSONSchema() error = %v", err)
	}

	logLevelProp := schema.Properties["LogLevel"]
	expectedLogLevels := []string{"debug", "info", "warn", "error"}
	if len(logLevelProp.Enum) != len(expectedLogLevels) {
		t.Errorf("LogLevel enum count = %d, want %d", len(logLevelProp.Enum), len(expectedLogLevels))
	}
}
