package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/edge-audio-enhancer/internal/enhance"
	"github.com/skypro1111/edge-audio-enhancer/internal/ingest"
	"github.com/skypro1111/edge-audio-enhancer/internal/metrics"
	"github.com/skypro1111/edge-audio-enhancer/internal/protocol"
)

// Endpoint labels used in metrics
const (
	endpointUpload  = "/upload"
	endpointHealth  = "health"
	endpointMetrics = "/metrics"
	endpointInvalid = "invalid"
)

// HTTPServerConfig contains HTTP server configuration
type HTTPServerConfig struct {
	Address        string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxUploadBytes int64
	// ExposeErrors puts internal error text in 500 responses
	ExposeErrors bool
	// MetricsPath serves Prometheus metrics on GET; empty disables it
	MetricsPath string
}

// HTTPServer is the ingestion endpoint
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
	config   HTTPServerConfig
	pipeline *ingest.Pipeline
	metrics  *metrics.Metrics
	logger   *slog.Logger

	metricsHandler http.Handler
	startTime      time.Time
}

// NewHTTPServer creates the ingestion server. gatherer backs the metrics endpoint.
func NewHTTPServer(cfg HTTPServerConfig, pipeline *ingest.Pipeline, m *metrics.Metrics,
	gatherer prometheus.Gatherer, logger *slog.Logger) *HTTPServer {

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		config:         cfg,
		pipeline:       pipeline,
		metrics:        m,
		logger:         logger,
		metricsHandler: promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		startTime:      time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port)),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return h
}

// setupRoutes configures routes. Every path is handled: POSTs are uploads,
// GETs are health probes apart from the metrics path.
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", h.withMetrics(h.handle))
}

// Handler returns the root handler, for tests and embedding
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		endpoint := h.endpoint(r)

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

func (h *HTTPServer) endpoint(r *http.Request) string {
	switch r.Method {
	case http.MethodPost:
		if protocol.IsUploadPath(r.URL.Path) {
			return endpointUpload
		}
		return endpointInvalid
	case http.MethodGet, http.MethodHead:
		if h.isMetricsPath(r.URL.Path) {
			return endpointMetrics
		}
		return endpointHealth
	}
	return endpointInvalid
}

func (h *HTTPServer) isMetricsPath(path string) bool {
	return h.config.MetricsPath != "" && path == h.config.MetricsPath
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the listen address and serves in the background
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}
	h.listener = listener

	h.logger.Info("Starting HTTP server",
		slog.String("address", listener.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound address once started
func (h *HTTPServer) Addr() string {
	if h.listener == nil {
		return h.server.Addr
	}
	return h.listener.Addr().String()
}

// Stop gracefully stops the HTTP server, waiting for in-flight uploads
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...",
		slog.Duration("uptime", time.Since(h.startTime)),
	)

	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet, http.MethodHead:
		if h.isMetricsPath(r.URL.Path) {
			h.metricsHandler.ServeHTTP(w, r)
			return
		}
		h.handleHealth(w, r)
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		writeText(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleHealth answers any GET with a static status line
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("Health probe",
		slog.String("path", r.URL.Path),
		slog.String("remote", r.RemoteAddr),
	)
	writeText(w, http.StatusOK, protocol.HealthBody)
}

// handlePost ingests an upload
func (h *HTTPServer) handlePost(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set(protocol.HeaderRequestID, requestID)

	logger := h.logger.With(slog.String("request_id", requestID))
	logger.Info("Received POST request",
		slog.String("remote", r.RemoteAddr),
		slog.String("path", r.URL.Path),
	)

	if err := protocol.CheckUploadPath(r.URL.Path); err != nil {
		logger.Warn("Rejected upload", slog.String("error", err.Error()))
		writeText(w, http.StatusNotFound, protocol.InvalidPathBody)
		return
	}

	headers := protocol.ParseFormatHeaders(r.Header)

	body, err := protocol.ReadBody(r.Body, r.ContentLength, h.config.MaxUploadBytes)
	if err != nil {
		logger.Error("Failed to read upload", slog.String("error", err.Error()))
		switch {
		case errors.Is(err, protocol.ErrBodyTooLarge):
			writeText(w, http.StatusRequestEntityTooLarge, err.Error())
		default:
			h.writeInternalError(w, requestID, err)
		}
		return
	}

	resp, err := h.pipeline.Process(r.Context(), ingest.Request{
		ID:      requestID,
		Headers: headers,
		PCM:     body,
	})
	if err != nil {
		logger.Error("Failed to process upload", slog.String("error", err.Error()))
		if errors.Is(err, ingest.ErrInvalidFormat) {
			writeText(w, http.StatusNotFound, protocol.InvalidHeadersBody)
			return
		}
		h.writeInternalError(w, requestID, err)
		return
	}

	_, enhanced := resp.Result.(enhance.Enhanced)
	logger.Info("Upload processed",
		slog.String("artifact", resp.Result.Artifact()),
		slog.Bool("enhanced", enhanced),
	)

	writeText(w, http.StatusOK, resp.Message)
}

func (h *HTTPServer) writeInternalError(w http.ResponseWriter, requestID string, err error) {
	if h.config.ExposeErrors {
		writeText(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeText(w, http.StatusInternalServerError, fmt.Sprintf("Internal server error (request %s)", requestID))
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", protocol.ContentTypeText)
	w.WriteHeader(status)
	w.Write([]byte(body))
}
