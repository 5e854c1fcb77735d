package protocol

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/skypro1111/edge-audio-enhancer/internal/audio"
)

// Wire constants
const (
	// UploadPath is the only writable resource, compared with surrounding slashes removed
	UploadPath = "upload"

	// Format metadata headers
	HeaderSampleRate = "X-Audio-Sample-Rates"
	HeaderBits       = "X-Audio-Bits"
	HeaderChannels   = "X-Audio-Channel"

	// HeaderRequestID carries the server-assigned request identifier
	HeaderRequestID = "X-Request-ID"

	ContentTypeWAV  = "audio/wav"
	ContentTypeText = "text/html;charset=utf-8"

	// Response bodies
	HealthBody         = "Server is running"
	InvalidPathBody    = "Invalid request path"
	InvalidHeadersBody = "Invalid audio format headers"
	ProcessedPrefix    = "File processed: "
)

var (
	// ErrInvalidPath is returned for POSTs to anything other than the upload path
	ErrInvalidPath = errors.New("invalid request path")
	// ErrMissingHeader is returned when a format header is absent
	ErrMissingHeader = errors.New("missing audio format header")
	// ErrInvalidHeader is returned when a format header is not an integer
	ErrInvalidHeader = errors.New("invalid audio format header")
	// ErrShortBody is returned when the body ends before Content-Length bytes
	ErrShortBody = errors.New("request body shorter than Content-Length")
	// ErrBodyTooLarge is returned when the body exceeds the configured limit
	ErrBodyTooLarge = errors.New("request body too large")
)

// FormatHeaders holds the raw format metadata as sent by the client, lower-cased
type FormatHeaders struct {
	SampleRate string
	Bits       string
	Channels   string
}

// IsUploadPath reports whether a request path addresses the upload resource
func IsUploadPath(path string) bool {
	return strings.Trim(path, "/") == UploadPath
}

// CheckUploadPath returns an error wrapping ErrInvalidPath unless path is the upload path
func CheckUploadPath(path string) error {
	if !IsUploadPath(path) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return nil
}

// ParseFormatHeaders extracts the format metadata headers as opaque strings
func ParseFormatHeaders(h http.Header) FormatHeaders {
	return FormatHeaders{
		SampleRate: strings.ToLower(strings.TrimSpace(h.Get(HeaderSampleRate))),
		Bits:       strings.ToLower(strings.TrimSpace(h.Get(HeaderBits))),
		Channels:   strings.ToLower(strings.TrimSpace(h.Get(HeaderChannels))),
	}
}

// SetFormatHeaders writes f into h as upload metadata
func SetFormatHeaders(h http.Header, f audio.Format) {
	h.Set(HeaderSampleRate, strconv.Itoa(f.SampleRate))
	h.Set(HeaderBits, strconv.Itoa(f.BitsPerSample))
	h.Set(HeaderChannels, strconv.Itoa(f.Channels))
}

// Format converts the headers to integers. It does not check the Format invariant;
// callers that want that call Validate on the result.
func (h FormatHeaders) Format() (audio.Format, error) {
	rate, err := parseField(HeaderSampleRate, h.SampleRate)
	if err != nil {
		return audio.Format{}, err
	}

	bits, err := parseField(HeaderBits, h.Bits)
	if err != nil {
		return audio.Format{}, err
	}

	channels, err := parseField(HeaderChannels, h.Channels)
	if err != nil {
		return audio.Format{}, err
	}

	return audio.Format{SampleRate: rate, BitsPerSample: bits, Channels: channels}, nil
}

func parseField(name, value string) (int, error) {
	if value == "" {
		return 0, fmt.Errorf("%w: %s", ErrMissingHeader, name)
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidHeader, name, value)
	}

	return n, nil
}

// ReadBody reads an upload body. With a known contentLength exactly that many bytes
// are read; a negative contentLength means the body was sent chunked and is read to
// its terminating zero-size chunk. A limit <= 0 disables the size check.
func ReadBody(r io.Reader, contentLength int64, limit int64) ([]byte, error) {
	if contentLength >= 0 {
		if limit > 0 && contentLength > limit {
			return nil, fmt.Errorf("%w: %d bytes declared, limit %d", ErrBodyTooLarge, contentLength, limit)
		}

		data := make([]byte, contentLength)
		n, err := io.ReadFull(r, data)
		if errors.Is(err, io.ErrUnexpectedEOF) || (errors.Is(err, io.EOF) && contentLength > 0) {
			return nil, fmt.Errorf("%w: got %d of %d bytes", ErrShortBody, n, contentLength)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		return data, nil
	}

	reader := r
	if limit > 0 {
		reader = io.LimitReader(r, limit+1)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunked request body: %w", err)
	}

	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}

	return data, nil
}

// ProcessedMessage returns the response body naming the final artifact
func ProcessedMessage(filename string) string {
	return ProcessedPrefix + filename
}

// ParseProcessedMessage extracts the artifact name from a response body
func ParseProcessedMessage(body string) (string, bool) {
	name, ok := strings.CutPrefix(strings.TrimSpace(body), ProcessedPrefix)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}
