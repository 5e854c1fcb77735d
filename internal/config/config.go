package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "ENHANCER_"

// Config represents the complete service configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	HTTP        HTTPConfig        `yaml:"http"`
	Storage     StorageConfig     `yaml:"storage"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Enhancement EnhancementConfig `yaml:"enhancement"`
	Events      EventsConfig      `yaml:"events"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig contains the listen address
type ServerConfig struct {
	// BindAddress empty means detect the outbound interface address
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
}

// HTTPConfig contains HTTP transport settings
type HTTPConfig struct {
	ReadTimeout    int    `yaml:"read_timeout"`  // seconds
	WriteTimeout   int    `yaml:"write_timeout"` // seconds
	IdleTimeout    int    `yaml:"idle_timeout"`  // seconds
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	ExposeErrors   bool   `yaml:"expose_errors"`
	MetricsPath    string `yaml:"metrics_path"`
}

// StorageConfig contains where uploads are kept
type StorageConfig struct {
	Directory string `yaml:"directory"`
	FileMode  string `yaml:"file_mode"` // octal, e.g. "0644"
}

// IngestConfig contains upload validation settings
type IngestConfig struct {
	ValidateFormat bool `yaml:"validate_format"`
}

// EnhancementConfig selects the enhancement backend. Args may use the
// placeholders {config} {checkpoint} {input} {output}; empty Args run
// inference.py with its default flags.
type EnhancementConfig struct {
	Backend         string   `yaml:"backend"`
	ModelConfigPath string   `yaml:"model_config"`
	CheckpointPath  string   `yaml:"checkpoint"`
	Program         string   `yaml:"program"`
	Args            []string `yaml:"args"`
	Endpoint        string   `yaml:"endpoint"`
	HealthEndpoint  string   `yaml:"health_endpoint"`
	Timeout         int      `yaml:"timeout"` // seconds
	MaxRetries      int      `yaml:"max_retries"`
}

// EventsConfig contains the MQTT result event settings
type EventsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      int    `yaml:"qos"`
	Timeout  int    `yaml:"timeout"` // seconds
}

// DiscoveryConfig contains mDNS advertisement settings
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8000,
		},
		HTTP: HTTPConfig{
			ReadTimeout:    60,
			WriteTimeout:   600,
			IdleTimeout:    120,
			MaxUploadBytes: 256 << 20,
			MetricsPath:    "/metrics",
		},
		Storage: StorageConfig{
			Directory: ".",
			FileMode:  "0644",
		},
		Enhancement: EnhancementConfig{
			Backend:    "command",
			Program:    "python3",
			Timeout:    300,
			MaxRetries: 1,
		},
		Events: EventsConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "edge-audio-enhancer",
			Topic:    "enhancer/results/{request_id}",
			QoS:      1,
			Timeout:  5,
		},
		Discovery: DiscoveryConfig{
			Instance: "edge-audio-enhancer",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadEnvFile loads variables from a .env file into the process environment.
// A missing file is not an error. Variables already set are not overwritten.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from ENHANCER_* variables returned by lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	stringVars := map[string]*string{
		"BIND_ADDRESS":   &c.Server.BindAddress,
		"METRICS_PATH":   &c.HTTP.MetricsPath,
		"STORAGE_DIR":    &c.Storage.Directory,
		"BACKEND":        &c.Enhancement.Backend,
		"MODEL_CONFIG":   &c.Enhancement.ModelConfigPath,
		"CHECKPOINT":     &c.Enhancement.CheckpointPath,
		"PROGRAM":        &c.Enhancement.Program,
		"ENDPOINT":       &c.Enhancement.Endpoint,
		"MQTT_BROKER":    &c.Events.Broker,
		"MQTT_CLIENT_ID": &c.Events.ClientID,
		"MQTT_USERNAME":  &c.Events.Username,
		"MQTT_PASSWORD":  &c.Events.Password,
		"MQTT_TOPIC":     &c.Events.Topic,
		"MDNS_INSTANCE":  &c.Discovery.Instance,
		"LOG_LEVEL":      &c.Logging.Level,
		"LOG_FORMAT":     &c.Logging.Format,
		"LOG_OUTPUT":     &c.Logging.Output,
	}
	for key, field := range stringVars {
		if v, ok := lookup(EnvPrefix + key); ok {
			*field = v
		}
	}

	ints := map[string]*int{
		"PORT":                &c.Server.Port,
		"ENHANCEMENT_TIMEOUT": &c.Enhancement.Timeout,
	}
	for key, field := range ints {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s must be an integer, got %q", EnvPrefix, key, v)
			}
			*field = n
		}
	}

	bools := map[string]*bool{
		"VALIDATE_FORMAT": &c.Ingest.ValidateFormat,
		"EXPOSE_ERRORS":   &c.HTTP.ExposeErrors,
		"EVENTS_ENABLED":  &c.Events.Enabled,
		"MDNS_ENABLED":    &c.Discovery.Enabled,
	}
	for key, field := range bools {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s must be a boolean, got %q", EnvPrefix, key, v)
			}
			*field = b
		}
	}

	return nil
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Enhancement.Validate(); err != nil {
		return fmt.Errorf("enhancement config: %w", err)
	}

	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("events config: %w", err)
	}

	if err := c.Discovery.Validate(); err != nil {
		return fmt.Errorf("discovery config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}
	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.ReadTimeout < 0 || h.WriteTimeout < 0 || h.IdleTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}

	if h.MaxUploadBytes < 0 {
		return fmt.Errorf("max_upload_bytes cannot be negative, got %d", h.MaxUploadBytes)
	}

	if h.MetricsPath != "" && !strings.HasPrefix(h.MetricsPath, "/") {
		return fmt.Errorf("metrics_path must start with '/', got '%s'", h.MetricsPath)
	}

	if h.MetricsPath == "/upload" {
		return fmt.Errorf("metrics_path cannot be the upload path")
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.Directory == "" {
		return fmt.Errorf("directory cannot be empty")
	}

	if _, err := s.Mode(); err != nil {
		return err
	}

	return nil
}

// Mode parses FileMode
func (s *StorageConfig) Mode() (os.FileMode, error) {
	mode, err := strconv.ParseUint(s.FileMode, 8, 32)
	if err != nil || mode > 0o777 {
		return 0, fmt.Errorf("file_mode must be an octal permission like 0644, got '%s'", s.FileMode)
	}
	return os.FileMode(mode), nil
}

// Validate validates enhancement configuration
func (e *EnhancementConfig) Validate() error {
	switch e.Backend {
	case "command":
		if e.Program == "" {
			return fmt.Errorf("program cannot be empty for the command backend")
		}
	case "http":
		if e.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http backend")
		}
	case "noop":
	default:
		return fmt.Errorf("backend must be one of [command, http, noop], got '%s'", e.Backend)
	}

	if e.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", e.Timeout)
	}

	if e.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", e.MaxRetries)
	}

	return nil
}

// Validate validates events configuration
func (e *EventsConfig) Validate() error {
	if !e.Enabled {
		return nil
	}

	if e.Broker == "" {
		return fmt.Errorf("broker cannot be empty when events are enabled")
	}

	if e.Topic == "" {
		return fmt.Errorf("topic cannot be empty when events are enabled")
	}

	if e.QoS < 0 || e.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2, got %d", e.QoS)
	}

	if e.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", e.Timeout)
	}

	return nil
}

// Validate validates discovery configuration
func (d *DiscoveryConfig) Validate() error {
	if d.Enabled && d.Instance == "" {
		return fmt.Errorf("instance cannot be empty when discovery is enabled")
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout or stderr is a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// GetReadTimeoutDuration returns the read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// GetIdleTimeoutDuration returns the idle timeout as a time.Duration
func (h *HTTPConfig) GetIdleTimeoutDuration() time.Duration {
	return time.Duration(h.IdleTimeout) * time.Second
}

// GetTimeoutDuration returns the enhancement timeout as a time.Duration
func (e *EnhancementConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}

// GetTimeoutDuration returns the publish timeout as a time.Duration
func (e *EventsConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}
