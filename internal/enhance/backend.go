package enhance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

var (
	// ErrNotInitialized is returned by backends used before Init
	ErrNotInitialized = errors.New("enhancement backend not initialized")
	// ErrNoBackend is returned by the noop backend for every call
	ErrNoBackend = errors.New("no enhancement backend configured")
)

// Backend enhances the audio in inputPath and writes the result to outputPath.
// Init is called once before the first Enhance; Close releases whatever Init acquired.
type Backend interface {
	Name() string
	Init(ctx context.Context) error
	Enhance(ctx context.Context, inputPath, outputPath string) error
	Close() error
}

// Result is the outcome of an enhancement attempt: Enhanced or Fallback
type Result interface {
	// Artifact returns the path of the file that should be served to the client
	Artifact() string
	isResult()
}

// Enhanced means the backend produced Path
type Enhanced struct {
	Path     string
	Duration time.Duration
}

// Fallback means the backend failed and the original file is the result
type Fallback struct {
	OriginalPath string
	Reason       error
	Duration     time.Duration
}

func (e Enhanced) Artifact() string { return e.Path }
func (Enhanced) isResult()          {}

func (f Fallback) Artifact() string { return f.OriginalPath }
func (Fallback) isResult()          {}

// Run invokes backend and converts any failure, including a panic or a missing
// output file, into a Fallback to inputPath. It never returns an error.
func Run(ctx context.Context, backend Backend, inputPath, outputPath string, logger *slog.Logger) Result {
	start := time.Now()

	err := safeEnhance(ctx, backend, inputPath, outputPath)
	if err == nil {
		if _, statErr := os.Stat(outputPath); statErr != nil {
			err = fmt.Errorf("backend reported success but output is missing: %w", statErr)
		}
	}

	elapsed := time.Since(start)

	if err != nil {
		logger.Error("Failed to enhance audio",
			slog.String("backend", backend.Name()),
			slog.String("input", inputPath),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()),
		)

		// Drop partial output so the fallback is unambiguous
		if rmErr := os.Remove(outputPath); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("Failed to remove partial enhanced file",
				slog.String("path", outputPath),
				slog.String("error", rmErr.Error()),
			)
		}

		return Fallback{OriginalPath: inputPath, Reason: err, Duration: elapsed}
	}

	logger.Info("Audio enhanced",
		slog.String("backend", backend.Name()),
		slog.String("output", outputPath),
		slog.Duration("duration", elapsed),
	)

	return Enhanced{Path: outputPath, Duration: elapsed}
}

func safeEnhance(ctx context.Context, backend Backend, inputPath, outputPath string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()
	return backend.Enhance(ctx, inputPath, outputPath)
}

// Serial allows one Enhance call in flight at a time on the wrapped backend
type Serial struct {
	backend   Backend
	semaphore chan struct{}
}

// NewSerial wraps backend so concurrent callers queue for it
func NewSerial(backend Backend) *Serial {
	return &Serial{
		backend:   backend,
		semaphore: make(chan struct{}, 1),
	}
}

func (s *Serial) Name() string { return s.backend.Name() }

func (s *Serial) Init(ctx context.Context) error { return s.backend.Init(ctx) }

// Enhance waits for the backend to be free, or for ctx to be done
func (s *Serial) Enhance(ctx context.Context, inputPath, outputPath string) error {
	select {
	case s.semaphore <- struct{}{}:
		defer func() { <-s.semaphore }()
	case <-ctx.Done():
		return ctx.Err()
	}

	return s.backend.Enhance(ctx, inputPath, outputPath)
}

// Close waits for an in-flight call to finish before closing the backend
func (s *Serial) Close() error {
	s.semaphore <- struct{}{}
	defer func() { <-s.semaphore }()
	return s.backend.Close()
}

// Noop is the backend used when no model is configured; every call fails
type Noop struct{}

func (Noop) Name() string                   { return "noop" }
func (Noop) Init(ctx context.Context) error { return nil }
func (Noop) Close() error                   { return nil }

func (Noop) Enhance(ctx context.Context, inputPath, outputPath string) error {
	return ErrNoBackend
}
