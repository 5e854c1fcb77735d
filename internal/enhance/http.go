package enhance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/skypro1111/edge-audio-enhancer/internal/audio"
)

// HTTPConfig configures a backend that calls a model service over HTTP
type HTTPConfig struct {
	Endpoint        string
	HealthEndpoint  string
	ModelConfigPath string
	CheckpointPath  string
	Timeout         time.Duration
	MaxRetries      int
}

// HTTPBackend posts the input WAV to a model service that keeps the model loaded
// and writes the returned audio to the output path
type HTTPBackend struct {
	config     HTTPConfig
	httpClient *http.Client

	initialized bool
	mu          sync.RWMutex
}

// statusError is a non-2xx response from the model service
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// NewHTTPBackend creates a new model service client
func NewHTTPBackend(config HTTPConfig) (*HTTPBackend, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Minute
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &HTTPBackend{
		config:     config,
		httpClient: httpClient,
	}, nil
}

func (b *HTTPBackend) Name() string { return "http" }

// Init checks that the model service answers its health endpoint, when one is set
func (b *HTTPBackend) Init(ctx context.Context) error {
	if b.config.HealthEndpoint != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.config.HealthEndpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to create health request: %w", err)
		}

		resp, err := b.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("model service unreachable: %w", err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("model service unhealthy: HTTP %d", resp.StatusCode)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.initialized = true

	return nil
}

// Enhance sends inputPath to the model service, retrying transient failures
func (b *HTTPBackend) Enhance(ctx context.Context, inputPath, outputPath string) error {
	b.mu.RLock()
	initialized := b.initialized
	b.mu.RUnlock()

	if !initialized {
		return ErrNotInitialized
	}

	input, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	var lastErr error

	for attempt := 0; attempt <= b.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		enhanced, err := b.doRequest(ctx, filepath.Base(inputPath), input)
		if err == nil {
			return writeAtomic(outputPath, enhanced)
		}

		lastErr = err

		if !isRetryableError(err) {
			break
		}
	}

	return fmt.Errorf("enhancement failed after %d attempts: %w", b.config.MaxRetries+1, lastErr)
}

func (b *HTTPBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initialized = false
	b.httpClient.CloseIdleConnections()
	return nil
}

// doRequest performs a single request and returns the enhanced WAV bytes
func (b *HTTPBackend) doRequest(ctx context.Context, filename string, input []byte) ([]byte, error) {
	body, contentType, err := b.createMultipartRequest(filename, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "audio/wav")
	httpReq.Header.Set("User-Agent", "Edge-Audio-Enhancer/1.0")

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{StatusCode: resp.StatusCode, Body: tail(string(respBody), 256)}
	}

	if err := audio.ValidateWAV(respBody); err != nil {
		return nil, fmt.Errorf("model service returned invalid audio: %w", err)
	}

	return respBody, nil
}

// createMultipartRequest creates a multipart/form-data request body
func (b *HTTPBackend) createMultipartRequest(filename string, input []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := fileWriter.Write(input); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"filename":          filename,
		"model_config":      b.config.ModelConfigPath,
		"checkpoint":        b.config.CheckpointPath,
		"request_timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryableError reports whether a failed request may succeed if repeated
func isRetryableError(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// writeAtomic writes data to a temporary file next to path and renames it into place
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".enhanced-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write enhanced audio: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close enhanced audio: %w", err)
	}

	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set enhanced audio mode: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move enhanced audio into place: %w", err)
	}

	return nil
}
