package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/skypro1111/edge-audio-enhancer/internal/capture"
	"github.com/skypro1111/edge-audio-enhancer/internal/protocol"
)

// maxResponseBody bounds how much of a server response is read
const maxResponseBody = 64 << 10

// Config configures an Uploader
type Config struct {
	// Timeout bounds the whole request, enhancement included
	Timeout time.Duration
	// Chunked sends the body with chunked transfer encoding instead of Content-Length
	Chunked bool
}

// Uploader posts payloads to the ingestion server
type Uploader struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewUploader creates an uploader
func NewUploader(config Config, logger *slog.Logger) *Uploader {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}

	return &Uploader{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			// A redirect is a rejection; following it would re-send the upload as a GET
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

// Endpoint returns the server base URL for host and port
func Endpoint(host string, port int) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// URL returns the upload URL under endpoint
func URL(endpoint string) string {
	return strings.TrimRight(endpoint, "/") + "/" + protocol.UploadPath
}

// Upload sends the payload once. The local file is removed only when the
// server accepts it.
func (u *Uploader) Upload(ctx context.Context, payload capture.Payload, endpoint string) Result {
	url := URL(endpoint)

	file, err := os.Open(payload.Path)
	if err != nil {
		return TransportError{Err: fmt.Errorf("failed to open payload: %w", err)}
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return TransportError{Err: fmt.Errorf("failed to stat payload: %w", err)}
	}

	var body io.Reader = file
	if u.config.Chunked {
		// Hide the file's type so the transport cannot learn its length
		body = struct{ io.Reader }{file}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return TransportError{Err: fmt.Errorf("failed to create request: %w", err)}
	}

	if u.config.Chunked {
		req.ContentLength = -1
	} else {
		req.ContentLength = info.Size()
	}

	req.Header.Set("Content-Type", protocol.ContentTypeWAV)
	protocol.SetFormatHeaders(req.Header, payload.Format)

	u.logger.Info("Uploading recording",
		slog.String("url", url),
		slog.String("file", payload.Path),
		slog.Int64("bytes", info.Size()),
		slog.String("format", payload.Format.String()),
	)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		u.logger.Error("Upload failed",
			slog.String("url", url),
			slog.String("error", err.Error()),
			slog.String("retained", payload.Path),
		)
		return TransportError{Err: fmt.Errorf("upload request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return TransportError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	message := strings.TrimSpace(string(respBody))
	requestID := resp.Header.Get(protocol.HeaderRequestID)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		u.logger.Error("Upload rejected",
			slog.Int("status", resp.StatusCode),
			slog.String("body", message),
			slog.String("request_id", requestID),
			slog.String("retained", payload.Path),
		)
		return Rejected{StatusCode: resp.StatusCode, Body: message, RequestID: requestID}
	}

	artifact, _ := protocol.ParseProcessedMessage(message)

	u.logger.Info("Upload accepted",
		slog.String("response", message),
		slog.String("request_id", requestID),
	)

	file.Close()
	if err := os.Remove(payload.Path); err != nil {
		u.logger.Warn("Failed to remove uploaded recording",
			slog.String("file", payload.Path),
			slog.String("error", err.Error()),
		)
	} else {
		u.logger.Info("Removed temp file", slog.String("file", payload.Path))
	}

	return Accepted{Message: message, Artifact: artifact, RequestID: requestID}
}
