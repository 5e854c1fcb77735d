package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skypro1111/edge-audio-enhancer/internal/config"
	"github.com/skypro1111/edge-audio-enhancer/internal/discovery"
	"github.com/skypro1111/edge-audio-enhancer/internal/enhance"
	"github.com/skypro1111/edge-audio-enhancer/internal/events"
	"github.com/skypro1111/edge-audio-enhancer/internal/ingest"
	"github.com/skypro1111/edge-audio-enhancer/internal/metrics"
	"github.com/skypro1111/edge-audio-enhancer/internal/server"
)

const (
	serviceName    = "edge-audio-enhancer"
	serviceVersion = "1.0.0"

	shutdownTimeout = 10 * time.Second
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to YAML configuration file")
	envPath := flag.String("env", ".env", "Path to .env file with ENHANCER_* overrides")
	bindIP := flag.String("ip", "", "Address to bind (default: detected outbound interface address)")
	port := flag.Int("port", 0, "Port to listen on (default 8000)")
	modelConfig := flag.String("model-config", "", "Enhancement model config file path")
	checkpoint := flag.String("checkpoint", "", "Enhancement model checkpoint file path")
	flag.Parse()

	if err := config.LoadEnvFile(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment: %v\n", err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags override file and environment
	if *bindIP != "" {
		cfg.Server.BindAddress = *bindIP
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *modelConfig != "" {
		cfg.Enhancement.ModelConfigPath = *modelConfig
	}
	if *checkpoint != "" {
		cfg.Enhancement.CheckpointPath = *checkpoint
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	if cfg.Server.BindAddress == "" {
		cfg.Server.BindAddress = server.DetectBindAddress(logger)
	}

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("port", cfg.Server.Port),
		slog.String("storage_dir", cfg.Storage.Directory),
		slog.String("backend", cfg.Enhancement.Backend),
		slog.String("model_config", cfg.Enhancement.ModelConfigPath),
		slog.String("checkpoint", cfg.Enhancement.CheckpointPath),
		slog.Bool("validate_format", cfg.Ingest.ValidateFormat),
		slog.Bool("events_enabled", cfg.Events.Enabled),
		slog.Bool("discovery_enabled", cfg.Discovery.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// The model is loaded once before any upload is accepted
	backend, err := enhance.New(enhance.Config{
		Kind:            cfg.Enhancement.Backend,
		ModelConfigPath: cfg.Enhancement.ModelConfigPath,
		CheckpointPath:  cfg.Enhancement.CheckpointPath,
		Program:         cfg.Enhancement.Program,
		Args:            cfg.Enhancement.Args,
		Endpoint:        cfg.Enhancement.Endpoint,
		HealthEndpoint:  cfg.Enhancement.HealthEndpoint,
		MaxRetries:      cfg.Enhancement.MaxRetries,
		Timeout:         cfg.Enhancement.GetTimeoutDuration(),
	})
	if err != nil {
		logger.Error("Failed to create enhancement backend", slog.String("error", err.Error()))
		os.Exit(1)
	}

	initCtx, initCancel := context.WithTimeout(context.Background(), cfg.Enhancement.GetTimeoutDuration())
	err = backend.Init(initCtx)
	initCancel()
	if err != nil {
		logger.Error("Failed to initialize enhancement backend",
			slog.String("backend", backend.Name()),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	logger.Info("Enhancement backend initialized", slog.String("backend", backend.Name()))

	mode, _ := cfg.Storage.Mode()
	storage, err := ingest.NewStorage(cfg.Storage.Directory, mode)
	if err != nil {
		logger.Error("Failed to prepare storage", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.Events.Enabled {
		publisher, err = events.NewMQTTPublisher(events.MQTTConfig{
			Broker:   cfg.Events.Broker,
			ClientID: cfg.Events.ClientID,
			Username: cfg.Events.Username,
			Password: cfg.Events.Password,
			Topic:    cfg.Events.Topic,
			QoS:      byte(cfg.Events.QoS),
			Timeout:  cfg.Events.GetTimeoutDuration(),
		}, logger)
		if err != nil {
			logger.Error("Failed to connect to MQTT broker", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Initialize Prometheus metrics
	registry := metrics.NewRegistry()
	appMetrics := metrics.NewMetrics(registry)

	pipeline := ingest.NewPipeline(ingest.Config{ValidateFormat: cfg.Ingest.ValidateFormat},
		storage, backend, publisher, appMetrics, logger)

	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Address:        cfg.Server.BindAddress,
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.HTTP.GetReadTimeoutDuration(),
		WriteTimeout:   cfg.HTTP.GetWriteTimeoutDuration(),
		IdleTimeout:    cfg.HTTP.GetIdleTimeoutDuration(),
		MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
		ExposeErrors:   cfg.HTTP.ExposeErrors,
		MetricsPath:    cfg.HTTP.MetricsPath,
	}, pipeline, appMetrics, registry, logger)

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var advertiser *discovery.Advertiser
	if cfg.Discovery.Enabled {
		advertiser, err = discovery.Advertise(discovery.Config{
			Instance: cfg.Discovery.Instance,
			Port:     cfg.Server.Port,
		}, logger)
		if err != nil {
			// Clients can still be pointed at the address directly
			logger.Warn("Failed to advertise over mDNS", slog.String("error", err.Error()))
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", httpServer.Addr()),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	logger.Info("Starting graceful shutdown...")

	if advertiser != nil {
		if err := advertiser.Shutdown(); err != nil {
			logger.Error("Error stopping mDNS advertisement", slog.String("error", err.Error()))
		}
	}

	// Stop accepting uploads and let in-flight ones finish
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	if err := pipeline.Close(); err != nil {
		logger.Error("Error closing event publisher", slog.String("error", err.Error()))
	}

	if err := backend.Close(); err != nil {
		logger.Error("Error closing enhancement backend", slog.String("error", err.Error()))
	}

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
