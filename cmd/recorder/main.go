package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/skypro1111/edge-audio-enhancer/internal/capture"
	"github.com/skypro1111/edge-audio-enhancer/internal/discovery"
	"github.com/skypro1111/edge-audio-enhancer/internal/ui"
	"github.com/skypro1111/edge-audio-enhancer/internal/upload"
)

// Exit codes
const (
	exitOK          = 0
	exitUsage       = 2
	exitCapture     = 3
	exitInterrupted = 4
	exitUpload      = 5
)

type options struct {
	duration  time.Duration
	host      string
	port      int
	device    string
	dir       string
	discover  bool
	discovery time.Duration
	timeout   time.Duration
	chunked   bool
}

// reporter receives what the client is doing
type reporter interface {
	Progress(p capture.Progress)
	Uploading(endpoint string)
	Done(status string, failed bool)
}

func main() {
	seconds := flag.Float64("d", 5, "Recording duration in seconds")
	host := flag.String("ip", "", "Server IP address")
	port := flag.Int("p", 8000, "Server port")
	device := flag.String("device", capture.DefaultDevice, "ALSA capture device")
	dir := flag.String("dir", ".", "Directory for the temporary recording")
	discover := flag.Bool("discover", false, "Find the server over mDNS when -ip is not set")
	discoveryTimeout := flag.Duration("discovery-timeout", 3*time.Second, "How long to browse for servers")
	timeout := flag.Duration("timeout", 5*time.Minute, "Upload timeout, enhancement included")
	chunked := flag.Bool("chunked", false, "Upload with chunked transfer encoding")
	tui := flag.Bool("tui", false, "Show an interactive progress view")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	opts := options{
		duration:  time.Duration(*seconds * float64(time.Second)),
		host:      *host,
		port:      *port,
		device:    *device,
		dir:       *dir,
		discover:  *discover,
		discovery: *discoveryTimeout,
		timeout:   *timeout,
		chunked:   *chunked,
	}

	if opts.host == "" && !opts.discover {
		fmt.Fprintln(os.Stderr, "either -ip or -discover is required")
		os.Exit(exitUsage)
	}

	if *tui {
		os.Exit(runTUI(opts))
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	os.Exit(run(opts, &lineReporter{}, nil, logger))
}

// run records, then uploads. Signals interrupt the recording only.
// extraCancel, when set, is an additional way to interrupt the recording.
func run(opts options, rep reporter, extraCancel <-chan struct{}, logger *slog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if extraCancel != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-extraCancel:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	endpoint, err := resolveEndpoint(ctx, opts, logger)
	if err != nil {
		rep.Done(fmt.Sprintf("No server: %v", err), true)
		return exitUsage
	}

	recorder := capture.NewRecorder(capture.Config{
		Device: opts.device,
		Dir:    opts.dir,
	}, logger)

	logger.Info("Starting recording",
		slog.Duration("duration", opts.duration),
		slog.String("device", opts.device),
	)

	outcome := recorder.Record(ctx, opts.duration, rep.Progress)
	stop()

	var payload capture.Payload
	switch o := outcome.(type) {
	case capture.Completed:
		logger.Info("Recording completed",
			slog.String("file", o.Payload.Path),
			slog.Int64("bytes", o.Payload.Size),
			slog.Duration("elapsed", o.Elapsed),
		)
		payload = o.Payload
	case capture.Interrupted:
		logger.Warn("Recording interrupted by user",
			slog.String("file", o.Path),
			slog.Bool("partial_file_retained", o.PartialFileRetained),
		)
		rep.Done("Recording interrupted", true)
		return exitInterrupted
	case capture.Failed:
		logger.Error("Recording failed", slog.String("error", o.Error()))
		if errors.Is(o, capture.ErrInvalidDuration) {
			rep.Done("Invalid duration", true)
			return exitUsage
		}
		rep.Done(fmt.Sprintf("Recording failed: %v", o), true)
		return exitCapture
	}

	rep.Uploading(endpoint)
	logger.Info("Uploading file", slog.String("url", upload.URL(endpoint)))

	uploader := upload.NewUploader(upload.Config{Timeout: opts.timeout, Chunked: opts.chunked}, logger)

	switch r := uploader.Upload(context.Background(), payload, endpoint).(type) {
	case upload.Accepted:
		logger.Info("File upload successful",
			slog.String("response", r.Message),
			slog.String("request_id", r.RequestID),
		)
		rep.Done(r.Message, false)
		return exitOK
	case upload.Rejected:
		logger.Error("Upload failed",
			slog.Int("status", r.StatusCode),
			slog.String("body", r.Body),
			slog.String("request_id", r.RequestID),
		)
		logger.Info("File retained", slog.String("file", payload.Path))
		rep.Done(fmt.Sprintf("Upload failed, HTTP status code: %d", r.StatusCode), true)
		return exitUpload
	case upload.TransportError:
		logger.Error("Upload failed", slog.String("error", r.Error()))
		logger.Info("File retained", slog.String("file", payload.Path))
		rep.Done(fmt.Sprintf("Upload failed: %v", r), true)
		return exitUpload
	}

	return exitUpload
}

func resolveEndpoint(ctx context.Context, opts options, logger *slog.Logger) (string, error) {
	if opts.host != "" {
		return upload.Endpoint(opts.host, opts.port), nil
	}

	info, err := discovery.First(ctx, opts.discovery, logger)
	if err != nil {
		return "", err
	}
	logger.Info("Discovered server",
		slog.String("name", info.Name),
		slog.String("host", info.Host),
		slog.Int("port", info.Port),
	)
	return upload.Endpoint(info.Host, info.Port), nil
}

// lineReporter rewrites a single progress line on stdout
type lineReporter struct {
	printed bool
}

func (r *lineReporter) Progress(p capture.Progress) {
	fmt.Printf("\r%s", p)
	r.printed = true
}

func (r *lineReporter) Uploading(endpoint string) {
	r.endLine()
}

func (r *lineReporter) Done(status string, failed bool) {
	r.endLine()
	if !failed {
		fmt.Println(status)
	}
}

func (r *lineReporter) endLine() {
	if r.printed {
		fmt.Println()
		r.printed = false
	}
}

// runTUI runs the client behind a bubbletea progress view
func runTUI(opts options) int {
	interrupt := make(chan struct{})
	var once sync.Once

	server := opts.host
	if server == "" {
		server = "(mDNS)"
	}

	program := ui.Run(ui.NewModel(opts.device, server, opts.duration, func() {
		once.Do(func() { close(interrupt) })
	}))

	// The view owns the terminal; logs are dropped
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	code := make(chan int, 1)
	go func() {
		code <- run(opts, &tuiReporter{reporter: ui.NewReporter(program)}, interrupt, logger)
	}()

	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
	}

	return <-code
}

type tuiReporter struct {
	reporter *ui.Reporter
}

func (r *tuiReporter) Progress(p capture.Progress) {
	r.reporter.Progress(p.Elapsed, p.Duration)
}

func (r *tuiReporter) Uploading(endpoint string) {
	r.reporter.Phase(ui.PhaseUploading, "Uploading to "+endpoint)
}

func (r *tuiReporter) Done(status string, failed bool) {
	r.reporter.Done(status, failed)
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
