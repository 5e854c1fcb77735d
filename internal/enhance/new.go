package enhance

import (
	"fmt"
	"time"
)

// Backend kinds accepted by New
const (
	KindCommand = "command"
	KindHTTP    = "http"
	KindNoop    = "noop"
)

// Config selects and configures a backend
type Config struct {
	Kind            string
	ModelConfigPath string
	CheckpointPath  string

	// command backend
	Program string
	Args    []string

	// http backend
	Endpoint       string
	HealthEndpoint string
	MaxRetries     int

	Timeout time.Duration
}

// New builds the configured backend wrapped in a Serial. The caller owns the
// returned backend and must call Init before use and Close when done.
func New(config Config) (*Serial, error) {
	var (
		backend Backend
		err     error
	)

	switch config.Kind {
	case KindCommand:
		backend, err = NewCommandBackend(CommandConfig{
			Program:         config.Program,
			Args:            config.Args,
			ModelConfigPath: config.ModelConfigPath,
			CheckpointPath:  config.CheckpointPath,
			Timeout:         config.Timeout,
		})
	case KindHTTP:
		backend, err = NewHTTPBackend(HTTPConfig{
			Endpoint:        config.Endpoint,
			HealthEndpoint:  config.HealthEndpoint,
			ModelConfigPath: config.ModelConfigPath,
			CheckpointPath:  config.CheckpointPath,
			Timeout:         config.Timeout,
			MaxRetries:      config.MaxRetries,
		})
	case KindNoop, "":
		backend = Noop{}
	default:
		return nil, fmt.Errorf("unknown enhancement backend %q", config.Kind)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend: %w", config.Kind, err)
	}

	return NewSerial(backend), nil
}
