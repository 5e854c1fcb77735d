package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skypro1111/edge-audio-enhancer/internal/audio"
	"github.com/skypro1111/edge-audio-enhancer/internal/capture"
	"github.com/skypro1111/edge-audio-enhancer/internal/enhance"
	"github.com/skypro1111/edge-audio-enhancer/internal/ingest"
	"github.com/skypro1111/edge-audio-enhancer/internal/metrics"
	"github.com/skypro1111/edge-audio-enhancer/internal/protocol"
	"github.com/skypro1111/edge-audio-enhancer/internal/upload"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubBackend copies its input to its output, or fails with err
type stubBackend struct {
	err error
}

func (b stubBackend) Name() string                   { return "stub" }
func (b stubBackend) Init(ctx context.Context) error { return nil }
func (b stubBackend) Close() error                   { return nil }

func (b stubBackend) Enhance(ctx context.Context, in, out string) error {
	if b.err != nil {
		return b.err
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

type testServer struct {
	*httptest.Server
	dir     string
	storage *ingest.Storage
}

func newTestServer(t *testing.T, backend enhance.Backend, cfg HTTPServerConfig) *testServer {
	t.Helper()

	dir := t.TempDir()
	storage, err := ingest.NewStorage(dir, 0o644)
	if err != nil {
		t.Fatal(err)
	}

	reg := metrics.NewRegistry()
	m := metrics.NewMetrics(reg)
	pipeline := ingest.NewPipeline(ingest.Config{}, storage, enhance.NewSerial(backend), nil, m, testLogger())

	h := NewHTTPServer(cfg, pipeline, m, reg, testLogger())
	server := httptest.NewServer(h.Handler())
	t.Cleanup(server.Close)

	return &testServer{Server: server, dir: dir, storage: storage}
}

func postUpload(t *testing.T, url string, body []byte, rate, bits, channels string) (*http.Response, string) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set("x-audio-sample-rates", rate)
	req.Header.Set("x-audio-bits", bits)
	req.Header.Set("x-audio-channel", channels)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	return resp, string(data)
}

func TestUploadBackendFailureNamesOriginal(t *testing.T) {
	server := newTestServer(t, stubBackend{err: errors.New("model exploded")}, HTTPServerConfig{})

	resp, body := postUpload(t, server.URL+"/upload", make([]byte, 320), "16000", "32", "1")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, body)
	}

	name, ok := protocol.ParseProcessedMessage(body)
	if !ok {
		t.Fatalf("Unexpected body %q", body)
	}
	if !strings.HasPrefix(name, "original_") || !strings.HasSuffix(name, "_16000_32_1.wav") {
		t.Errorf("Expected original file name, got %s", name)
	}
	if _, err := os.Stat(filepath.Join(server.dir, name)); err != nil {
		t.Errorf("Expected named file to exist: %v", err)
	}

	if resp.Header.Get(protocol.HeaderRequestID) == "" {
		t.Error("Expected a request ID header")
	}
	if ct := resp.Header.Get("Content-Type"); ct != protocol.ContentTypeText {
		t.Errorf("Unexpected Content-Type %s", ct)
	}
}

func TestUploadBackendSuccessNamesEnhanced(t *testing.T) {
	server := newTestServer(t, stubBackend{}, HTTPServerConfig{})

	resp, body := postUpload(t, server.URL+"/upload", make([]byte, 320), "16000", "32", "1")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, body)
	}

	name, ok := protocol.ParseProcessedMessage(body)
	if !ok || !strings.HasPrefix(name, "enhanced_") {
		t.Fatalf("Expected enhanced file name, got %q", body)
	}

	token := strings.TrimSuffix(strings.TrimPrefix(name, "enhanced_"), ".wav")
	original := filepath.Join(server.dir, fmt.Sprintf("original_%s_16000_32_1.wav", token))
	if _, err := os.Stat(original); err != nil {
		t.Errorf("Expected original to be retained: %v", err)
	}
	if _, err := os.Stat(filepath.Join(server.dir, name)); err != nil {
		t.Errorf("Expected enhanced file: %v", err)
	}
}

func TestInvalidPath(t *testing.T) {
	server := newTestServer(t, stubBackend{}, HTTPServerConfig{})

	for _, path := range []string{"/other", "/upload/extra", "/uploads"} {
		resp, body := postUpload(t, server.URL+path, []byte{1, 2, 3, 4}, "16000", "32", "1")

		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, resp.StatusCode)
		}
		if body != protocol.InvalidPathBody {
			t.Errorf("%s: unexpected body %q", path, body)
		}
	}

	entries, _ := os.ReadDir(server.dir)
	if len(entries) != 0 {
		t.Errorf("Expected nothing stored, found %d files", len(entries))
	}
}

func TestUploadPathSlashes(t *testing.T) {
	server := newTestServer(t, stubBackend{}, HTTPServerConfig{})

	resp, body := postUpload(t, server.URL+"/upload/", make([]byte, 4), "16000", "32", "1")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected /upload/ to be accepted, got %d: %s", resp.StatusCode, body)
	}
}

func TestHealth(t *testing.T) {
	server := newTestServer(t, stubBackend{}, HTTPServerConfig{MetricsPath: "/metrics"})

	for _, path := range []string{"/", "/upload", "/anything/at/all"} {
		resp, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK || string(body) != protocol.HealthBody {
			t.Errorf("GET %s: got %d %q", path, resp.StatusCode, body)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := newTestServer(t, stubBackend{}, HTTPServerConfig{MetricsPath: "/metrics"})

	postUpload(t, server.URL+"/upload", make([]byte, 4), "16000", "32", "1")

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if !strings.Contains(string(body), "enhancer_uploads_received_total 1") {
		t.Errorf("Expected upload counter in metrics output")
	}
	if !strings.Contains(string(body), `enhancer_http_requests_total{endpoint="/upload",method="POST",status_code="200"} 1`) {
		t.Errorf("Expected HTTP request counter in metrics output")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server := newTestServer(t, stubBackend{}, HTTPServerConfig{})

	req, _ := http.NewRequest(http.MethodPut, server.URL+"/upload", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", resp.StatusCode)
	}
}

func TestUploadBadRequests(t *testing.T) {
	tests := []struct {
		name     string
		cfg      HTTPServerConfig
		body     []byte
		rate     string
		expected int
		contains string
	}{
		{"non-integer rate", HTTPServerConfig{}, make([]byte, 4), "16kHz", http.StatusNotFound, protocol.InvalidHeadersBody},
		{"missing rate", HTTPServerConfig{}, make([]byte, 4), "", http.StatusNotFound, protocol.InvalidHeadersBody},
		{"zero rate", HTTPServerConfig{}, make([]byte, 4), "0", http.StatusNotFound, protocol.InvalidHeadersBody},
		{"too large", HTTPServerConfig{MaxUploadBytes: 8}, make([]byte, 16), "16000", http.StatusRequestEntityTooLarge, "too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, stubBackend{}, tt.cfg)

			resp, body := postUpload(t, server.URL+"/upload", tt.body, tt.rate, "32", "1")
			if resp.StatusCode != tt.expected {
				t.Errorf("Expected %d, got %d: %s", tt.expected, resp.StatusCode, body)
			}
			if !strings.Contains(body, tt.contains) {
				t.Errorf("Expected body to contain %q, got %q", tt.contains, body)
			}

			entries, _ := os.ReadDir(server.dir)
			if len(entries) != 0 {
				t.Errorf("Expected nothing stored, found %d files", len(entries))
			}
		})
	}
}

func TestUploadShortBody(t *testing.T) {
	server := newTestServer(t, stubBackend{}, HTTPServerConfig{})
	addr := strings.TrimPrefix(server.URL, "http://")

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	// Declares 100 bytes, sends 4, then closes the sending side
	request := "POST /upload HTTP/1.1\r\nHost: test\r\nX-Audio-Sample-Rates: 16000\r\n" +
		"X-Audio-Bits: 32\r\nX-Audio-Channel: 1\r\nContent-Length: 100\r\n\r\nabcd"
	if _, err := io.WriteString(conn, request); err != nil {
		t.Fatal(err)
	}
	if err := conn.(*net.TCPConn).CloseWrite(); err != nil {
		t.Fatal(err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "Internal server error (request ") {
		t.Errorf("Expected the generic error body, got %q", body)
	}

	entries, _ := os.ReadDir(server.dir)
	if len(entries) != 0 {
		t.Errorf("Expected nothing stored, found %d files", len(entries))
	}
}

func TestPersistFailure(t *testing.T) {
	tests := []struct {
		name         string
		exposeErrors bool
		contains     string
	}{
		{"generic", false, "Internal server error (request "},
		{"exposed", true, "failed to persist upload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, stubBackend{}, HTTPServerConfig{ExposeErrors: tt.exposeErrors})
			os.RemoveAll(server.dir)

			resp, body := postUpload(t, server.URL+"/upload", make([]byte, 4), "16000", "32", "1")

			if resp.StatusCode != http.StatusInternalServerError {
				t.Fatalf("Expected 500, got %d", resp.StatusCode)
			}
			if !strings.Contains(body, tt.contains) {
				t.Errorf("Expected body to contain %q, got %q", tt.contains, body)
			}
		})
	}
}

// rawPost sends a hand-written request and returns the response body
func rawPost(t *testing.T, addr, request string) (int, string) {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	if _, err := io.WriteString(conn, request); err != nil {
		t.Fatal(err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestChunkedEqualsContentLength(t *testing.T) {
	server := newTestServer(t, stubBackend{err: errors.New("keep original")}, HTTPServerConfig{})
	addr := strings.TrimPrefix(server.URL, "http://")

	headers := "Host: test\r\nContent-Type: audio/wav\r\nX-Audio-Sample-Rates: 16000\r\n" +
		"X-Audio-Bits: 16\r\nX-Audio-Channel: 1\r\nConnection: close\r\n"

	chunked := "POST /upload HTTP/1.1\r\n" + headers + "Transfer-Encoding: chunked\r\n\r\n" +
		"3\r\nabc\r\n5\r\ndefgh\r\n0\r\n\r\n"
	plain := "POST /upload HTTP/1.1\r\n" + headers + "Content-Length: 8\r\n\r\nabcdefgh"

	var stored [][]byte
	for _, request := range []string{chunked, plain} {
		status, body := rawPost(t, addr, request)
		if status != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", status, body)
		}

		name, ok := protocol.ParseProcessedMessage(body)
		if !ok {
			t.Fatalf("Unexpected body %q", body)
		}

		pcm, format, err := audio.ReadWAVFile(filepath.Join(server.dir, name))
		if err != nil {
			t.Fatalf("Failed to read %s: %v", name, err)
		}
		if format.BitsPerSample != 16 {
			t.Errorf("Unexpected format %v", format)
		}
		stored = append(stored, pcm)
	}

	if !bytes.Equal(stored[0], stored[1]) || string(stored[0]) != "abcdefgh" {
		t.Errorf("Chunked and Content-Length uploads differ: %q vs %q", stored[0], stored[1])
	}
}

func TestWAVRoundTrip(t *testing.T) {
	server := newTestServer(t, stubBackend{err: errors.New("keep original")}, HTTPServerConfig{})

	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i * 7)
	}

	_, body := postUpload(t, server.URL+"/upload", payload, "16000", "32", "1")
	name, ok := protocol.ParseProcessedMessage(body)
	if !ok {
		t.Fatalf("Unexpected body %q", body)
	}

	pcm, format, err := audio.ReadWAVFile(filepath.Join(server.dir, name))
	if err != nil {
		t.Fatal(err)
	}
	if format != audio.CaptureFormat {
		t.Errorf("Expected %v, got %v", audio.CaptureFormat, format)
	}
	if !bytes.Equal(pcm, payload) {
		t.Error("Stored PCM differs from the upload")
	}
}

func TestClientRetention(t *testing.T) {
	tests := []struct {
		name         string
		breakStorage bool
		expectKept   bool
	}{
		{"deleted after 200", false, false},
		{"kept after 500", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, stubBackend{}, HTTPServerConfig{})
			if tt.breakStorage {
				os.RemoveAll(server.dir)
			}

			path := filepath.Join(t.TempDir(), "recording_20240101_120000.raw")
			os.WriteFile(path, make([]byte, 64), 0o644)

			uploader := upload.NewUploader(upload.Config{}, testLogger())
			result := uploader.Upload(context.Background(), capture.Payload{
				Path:   path,
				Format: audio.CaptureFormat,
				Size:   64,
			}, server.URL)

			_, statErr := os.Stat(path)
			kept := statErr == nil
			if kept != tt.expectKept {
				t.Errorf("Expected kept=%v, got %v (result %#v)", tt.expectKept, kept, result)
			}

			if tt.breakStorage {
				if r, ok := result.(upload.Rejected); !ok || r.StatusCode != http.StatusInternalServerError {
					t.Errorf("Expected Rejected 500, got %#v", result)
				}
			} else if _, ok := result.(upload.Accepted); !ok {
				t.Errorf("Expected Accepted, got %#v", result)
			}
		})
	}
}
