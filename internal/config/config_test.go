package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:   "defaults",
			mutate: func(c *Config) {},
		},
		{
			name:        "invalid port",
			mutate:      func(c *Config) { c.Server.Port = 70000 },
			expectError: true,
			errorMsg:    "server config",
		},
		{
			name:        "negative upload limit",
			mutate:      func(c *Config) { c.HTTP.MaxUploadBytes = -1 },
			expectError: true,
			errorMsg:    "max_upload_bytes",
		},
		{
			name:        "relative metrics path",
			mutate:      func(c *Config) { c.HTTP.MetricsPath = "metrics" },
			expectError: true,
			errorMsg:    "metrics_path",
		},
		{
			name:        "metrics on the upload path",
			mutate:      func(c *Config) { c.HTTP.MetricsPath = "/upload" },
			expectError: true,
			errorMsg:    "upload path",
		},
		{
			name:        "empty storage directory",
			mutate:      func(c *Config) { c.Storage.Directory = "" },
			expectError: true,
			errorMsg:    "storage config",
		},
		{
			name:        "non-octal file mode",
			mutate:      func(c *Config) { c.Storage.FileMode = "0699" },
			expectError: true,
			errorMsg:    "file_mode",
		},
		{
			name:        "unknown backend",
			mutate:      func(c *Config) { c.Enhancement.Backend = "onnx" },
			expectError: true,
			errorMsg:    "backend must be one of",
		},
		{
			name:        "http backend without endpoint",
			mutate:      func(c *Config) { c.Enhancement.Backend = "http" },
			expectError: true,
			errorMsg:    "endpoint cannot be empty",
		},
		{
			name: "noop backend",
			mutate: func(c *Config) {
				c.Enhancement.Backend = "noop"
				c.Enhancement.Program = ""
			},
		},
		{
			name:        "zero enhancement timeout",
			mutate:      func(c *Config) { c.Enhancement.Timeout = 0 },
			expectError: true,
			errorMsg:    "timeout must be at least 1 second",
		},
		{
			name: "disabled events are not checked",
			mutate: func(c *Config) {
				c.Events.Broker = ""
				c.Events.QoS = 5
			},
		},
		{
			name: "enabled events with bad qos",
			mutate: func(c *Config) {
				c.Events.Enabled = true
				c.Events.QoS = 3
			},
			expectError: true,
			errorMsg:    "qos",
		},
		{
			name: "discovery without instance",
			mutate: func(c *Config) {
				c.Discovery.Enabled = true
				c.Discovery.Instance = ""
			},
			expectError: true,
			errorMsg:    "discovery config",
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "trace" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	configContent := `
server:
  bind_address: "0.0.0.0"
  port: 9000

http:
  max_upload_bytes: 1048576
  expose_errors: true

storage:
  directory: "/var/lib/enhancer"
  file_mode: "0600"

ingest:
  validate_format: true

enhancement:
  backend: "http"
  endpoint: "http://localhost:8081/enhance"
  model_config: "config.yaml"
  checkpoint: "g_best.pt"
  timeout: 120

logging:
  level: "debug"
  format: "json"
`

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Server.Port != 9000 {
		t.Errorf("Expected port 9000, got %d", config.Server.Port)
	}
	if config.HTTP.MaxUploadBytes != 1048576 || !config.HTTP.ExposeErrors {
		t.Errorf("Unexpected http config %+v", config.HTTP)
	}
	if !config.Ingest.ValidateFormat {
		t.Error("Expected validate_format to be set")
	}
	if config.Enhancement.Backend != "http" || config.Enhancement.CheckpointPath != "g_best.pt" {
		t.Errorf("Unexpected enhancement config %+v", config.Enhancement)
	}

	mode, err := config.Storage.Mode()
	if err != nil || mode != 0o600 {
		t.Errorf("Expected mode 0600, got %o (%v)", mode, err)
	}

	// Unset fields keep their defaults
	if config.HTTP.MetricsPath != "/metrics" {
		t.Errorf("Expected default metrics path, got %s", config.HTTP.MetricsPath)
	}
	if config.Logging.Output != "stdout" {
		t.Errorf("Expected default log output, got %s", config.Logging.Output)
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for nonexistent file")
	}
}

func TestConfigLoadInvalidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("enhancement:\n  backend: onnx\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "config validation failed") {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"ENHANCER_PORT":            "8123",
		"ENHANCER_BACKEND":         "noop",
		"ENHANCER_VALIDATE_FORMAT": "true",
		"ENHANCER_MQTT_BROKER":     "tcp://broker:1883",
		"ENHANCER_LOG_LEVEL":       "warn",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	config := Default()
	if err := config.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if config.Server.Port != 8123 {
		t.Errorf("Expected port 8123, got %d", config.Server.Port)
	}
	if config.Enhancement.Backend != "noop" {
		t.Errorf("Expected noop backend, got %s", config.Enhancement.Backend)
	}
	if !config.Ingest.ValidateFormat {
		t.Error("Expected validate_format from environment")
	}
	if config.Events.Broker != "tcp://broker:1883" {
		t.Errorf("Unexpected broker %s", config.Events.Broker)
	}
	if config.Logging.Level != "warn" {
		t.Errorf("Unexpected level %s", config.Logging.Level)
	}
}

func TestApplyEnvInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"non-integer port", "ENHANCER_PORT", "eighty"},
		{"non-boolean flag", "ENHANCER_EXPOSE_ERRORS", "sometimes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := func(key string) (string, bool) {
				if key == tt.key {
					return tt.val, true
				}
				return "", false
			}
			err := Default().ApplyEnv(lookup)
			if err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Errorf("Expected error naming %s, got %v", tt.key, err)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envPath, []byte("ENHANCER_TEST_DOTENV=from-file\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("ENHANCER_TEST_DOTENV") })

	if err := LoadEnvFile(envPath); err != nil {
		t.Fatalf("LoadEnvFile failed: %v", err)
	}
	if got := os.Getenv("ENHANCER_TEST_DOTENV"); got != "from-file" {
		t.Errorf("Expected value from .env, got %q", got)
	}

	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("Expected missing .env to be ignored, got %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	config := Default()

	if d := config.HTTP.GetReadTimeoutDuration(); d != 60*time.Second {
		t.Errorf("Expected 60s read timeout, got %v", d)
	}
	if d := config.HTTP.GetWriteTimeoutDuration(); d != 600*time.Second {
		t.Errorf("Expected 600s write timeout, got %v", d)
	}
	if d := config.HTTP.GetIdleTimeoutDuration(); d != 120*time.Second {
		t.Errorf("Expected 120s idle timeout, got %v", d)
	}
	if d := config.Enhancement.GetTimeoutDuration(); d != 300*time.Second {
		t.Errorf("Expected 300s enhancement timeout, got %v", d)
	}
	if d := config.Events.GetTimeoutDuration(); d != 5*time.Second {
		t.Errorf("Expected 5s publish timeout, got %v", d)
	}
}
