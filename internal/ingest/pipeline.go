package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/edge-audio-enhancer/internal/audio"
	"github.com/skypro1111/edge-audio-enhancer/internal/enhance"
	"github.com/skypro1111/edge-audio-enhancer/internal/events"
	"github.com/skypro1111/edge-audio-enhancer/internal/metrics"
	"github.com/skypro1111/edge-audio-enhancer/internal/protocol"
)

var (
	// ErrInvalidFormat means the format headers cannot describe the payload
	ErrInvalidFormat = errors.New("invalid audio format")
	// ErrPersist means the upload could not be stored
	ErrPersist = errors.New("failed to persist upload")
)

// eventTimeout bounds one result event publish
const eventTimeout = 5 * time.Second

// Request is one upload as read off the wire
type Request struct {
	ID      string
	Headers protocol.FormatHeaders
	PCM     []byte
}

// Response is what the pipeline did with a request
type Response struct {
	Stored  Stored
	Format  audio.Format
	Result  enhance.Result
	Message string
}

// Config configures a Pipeline
type Config struct {
	// ValidateFormat rejects formats outside 8/16/24/32 bits and payloads that are
	// not a whole number of frames
	ValidateFormat bool
}

// Pipeline persists uploads and enhances them one at a time
type Pipeline struct {
	config    Config
	storage   *Storage
	backend   enhance.Backend
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// mu makes the pipeline a single logical worker
	mu      sync.Mutex
	pending atomic.Int64
	events  sync.WaitGroup
}

// NewPipeline creates a pipeline. The backend must already be initialized.
func NewPipeline(config Config, storage *Storage, backend enhance.Backend, publisher events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	if publisher == nil {
		publisher = events.Nop{}
	}

	return &Pipeline{
		config:    config,
		storage:   storage,
		backend:   backend,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// Process stores the upload, enhances it and returns the response message.
// Enhancement failures are not errors; the returned error wraps ErrInvalidFormat
// or ErrPersist.
func (p *Pipeline) Process(ctx context.Context, req Request) (Response, error) {
	format, err := p.checkFormat(req)
	if err != nil {
		return Response{}, err
	}

	p.metrics.RecordUpload(len(req.PCM), format.Duration(len(req.PCM)))
	p.metrics.SetEnhancementQueued(int(p.pending.Add(1)))
	defer func() {
		p.metrics.SetEnhancementQueued(int(p.pending.Add(-1)))
	}()

	p.mu.Lock()
	defer p.mu.Unlock()

	stored, err := p.storage.Persist(req.PCM, req.Headers, format)
	if err != nil {
		p.metrics.RecordPersistFailure()
		return Response{}, fmt.Errorf("%w: %v", ErrPersist, err)
	}

	p.logger.Info("Stored upload",
		slog.String("request_id", req.ID),
		slog.String("file", stored.OriginalPath),
		slog.Int("bytes", len(req.PCM)),
		slog.String("format", format.String()),
	)

	// A client disconnect must not abort enhancement of a stored upload
	result := enhance.Run(context.WithoutCancel(ctx), p.backend, stored.OriginalPath, stored.EnhancedPath,
		p.logger.With(slog.String("request_id", req.ID)))

	event := events.Event{
		RequestID:   req.ID,
		Original:    filepath.Base(stored.OriginalPath),
		Result:      filepath.Base(result.Artifact()),
		Bytes:       len(req.PCM),
		Format:      format,
		ProcessedAt: time.Now().UTC(),
	}

	switch r := result.(type) {
	case enhance.Enhanced:
		p.metrics.RecordEnhancementSuccess(r.Duration.Seconds())
		event.Enhanced = true
	case enhance.Fallback:
		p.metrics.RecordEnhancementFallback(r.Duration.Seconds())
		event.Reason = r.Reason.Error()
	}

	p.publish(event)

	return Response{
		Stored:  stored,
		Format:  format,
		Result:  result,
		Message: ComposeResponse(result),
	}, nil
}

func (p *Pipeline) checkFormat(req Request) (audio.Format, error) {
	format, err := req.Headers.Format()
	if err != nil {
		return audio.Format{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	if p.config.ValidateFormat {
		err = format.ValidatePayload(len(req.PCM))
	} else {
		err = audio.CheckWAVFormat(format)
	}
	if err != nil {
		return audio.Format{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	return format, nil
}

func (p *Pipeline) publish(event events.Event) {
	p.events.Add(1)
	go func() {
		defer p.events.Done()

		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()

		err := p.publisher.Publish(ctx, event)
		p.metrics.RecordEvent(err)
		if err != nil {
			p.logger.Warn("Failed to publish result event",
				slog.String("request_id", event.RequestID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Close waits for in-flight events and closes the publisher
func (p *Pipeline) Close() error {
	p.events.Wait()
	return p.publisher.Close()
}

// ComposeResponse returns the response body naming the file the client should
// consider the result
func ComposeResponse(result enhance.Result) string {
	return protocol.ProcessedMessage(filepath.Base(result.Artifact()))
}
