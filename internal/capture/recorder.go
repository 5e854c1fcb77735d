package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/skypro1111/edge-audio-enhancer/internal/audio"
)

// ErrInvalidDuration is the Failed reason for a non-positive duration
var ErrInvalidDuration = errors.New("invalid duration")

const (
	DefaultDevice       = "ac108"
	DefaultPollInterval = 100 * time.Millisecond
	DefaultStopGrace    = 2 * time.Second
)

// CommandFunc builds the capture process that writes seconds of audio to path
type CommandFunc func(path string, seconds int) *exec.Cmd

// Config configures a Recorder
type Config struct {
	// Device is the ALSA capture device
	Device string
	// Dir is where recordings are written
	Dir string
	// PollInterval is how often the process is checked and progress reported; capped at 100ms
	PollInterval time.Duration
	// StopGrace is how long a terminated process gets before it is killed
	StopGrace time.Duration
	// Command overrides the arecord invocation
	Command CommandFunc
}

// Progress is reported while recording
type Progress struct {
	Elapsed  time.Duration
	Duration time.Duration
}

// Fraction returns the completed share of the recording in [0, 1]
func (p Progress) Fraction() float64 {
	if p.Duration <= 0 {
		return 0
	}
	return math.Min(float64(p.Elapsed)/float64(p.Duration), 1)
}

// String formats the progress the way the recorder prints it
func (p Progress) String() string {
	return fmt.Sprintf("Recording progress: %.1f%% (%.1f/%gs)",
		p.Fraction()*100, p.Elapsed.Seconds(), p.Duration.Seconds())
}

// ProgressFunc receives progress updates with non-decreasing Elapsed
type ProgressFunc func(Progress)

// Recorder runs one capture process per Record call
type Recorder struct {
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a recorder, filling in defaults for unset fields
func NewRecorder(config Config, logger *slog.Logger) *Recorder {
	if config.Device == "" {
		config.Device = DefaultDevice
	}
	if config.Dir == "" {
		config.Dir = "."
	}
	if config.PollInterval <= 0 || config.PollInterval > DefaultPollInterval {
		config.PollInterval = DefaultPollInterval
	}
	if config.StopGrace <= 0 {
		config.StopGrace = DefaultStopGrace
	}
	if config.Command == nil {
		config.Command = ArecordCommand(config.Device)
	}

	return &Recorder{
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// ArecordCommand returns a CommandFunc recording raw S32_LE mono 16 kHz from device
func ArecordCommand(device string) CommandFunc {
	return func(path string, seconds int) *exec.Cmd {
		return exec.Command("arecord",
			"-D"+device,
			"-f", "S32_LE",
			"-r", strconv.Itoa(audio.CaptureSampleRate),
			"-c", strconv.Itoa(audio.CaptureChannels),
			"-t", "raw",
			"-d", strconv.Itoa(seconds),
			path,
		)
	}
}

// FileName returns the recording file name for a start time
func FileName(start time.Time) string {
	return fmt.Sprintf("recording_%s.raw", start.Format("20060102_150405"))
}

// Record captures duration of audio. It returns when the duration has elapsed,
// the capture process exits, or ctx is cancelled, and never leaves the process
// running.
func (r *Recorder) Record(ctx context.Context, duration time.Duration, progress ProgressFunc) Outcome {
	if duration <= 0 {
		return Failed{Reason: fmt.Errorf("%w: %v", ErrInvalidDuration, duration)}
	}

	start := r.now()
	path := filepath.Join(r.config.Dir, FileName(start))
	seconds := int(math.Ceil(duration.Seconds()))

	cmd := r.config.Command(path, seconds)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	// Own process group so stop reaches anything the command starts
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = r.config.StopGrace

	r.logger.Info("Starting recording",
		slog.Duration("duration", duration),
		slog.String("device", r.config.Device),
		slog.String("file", path),
	)

	if err := cmd.Start(); err != nil {
		return Failed{Reason: fmt.Errorf("failed to start capture: %w", err)}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	exited := false
	defer func() {
		if !exited {
			r.stop(cmd, done)
		}
	}()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(duration)
	defer deadline.Stop()

	var last time.Duration
	report := func(elapsed time.Duration) {
		if elapsed > duration {
			elapsed = duration
		}
		if elapsed < last {
			elapsed = last
		}
		last = elapsed
		if progress != nil {
			progress(Progress{Elapsed: elapsed, Duration: duration})
		}
	}

	for {
		select {
		case <-ctx.Done():
			r.stop(cmd, done)
			exited = true

			_, statErr := os.Stat(path)
			r.logger.Warn("Recording interrupted",
				slog.String("file", path),
				slog.Bool("partial_file_retained", statErr == nil),
			)
			return Interrupted{Path: path, PartialFileRetained: statErr == nil}

		case err := <-done:
			exited = true
			killGroup(cmd, syscall.SIGKILL)
			if errors.Is(err, exec.ErrWaitDelay) {
				err = nil
			}
			if err != nil {
				return Failed{Reason: fmt.Errorf("capture process failed: %w: %s", err, tailOutput(stderr.String()))}
			}
			return r.complete(path, start, report)

		case <-deadline.C:
			r.stop(cmd, done)
			exited = true
			return r.complete(path, start, report)

		case <-ticker.C:
			report(r.now().Sub(start))
		}
	}
}

func (r *Recorder) complete(path string, start time.Time, report func(time.Duration)) Outcome {
	elapsed := r.now().Sub(start)
	report(elapsed)

	info, err := os.Stat(path)
	if err != nil {
		return Failed{Reason: fmt.Errorf("capture produced no file: %w", err)}
	}

	r.logger.Info("Recording completed",
		slog.String("file", path),
		slog.Int64("bytes", info.Size()),
		slog.Duration("elapsed", elapsed),
	)

	return Completed{
		Payload: Payload{Path: path, Format: audio.CaptureFormat, Size: info.Size()},
		Elapsed: elapsed,
	}
}

// stop terminates the process group and waits for the process, killing the
// group after the grace period
func (r *Recorder) stop(cmd *exec.Cmd, done <-chan error) {
	if err := killGroup(cmd, syscall.SIGTERM); err != nil {
		killGroup(cmd, syscall.SIGKILL)
		<-done
		return
	}

	select {
	case <-done:
		killGroup(cmd, syscall.SIGKILL)
	case <-time.After(r.config.StopGrace):
		r.logger.Warn("Capture process ignored SIGTERM, killing it", slog.Int("pid", cmd.Process.Pid))
		killGroup(cmd, syscall.SIGKILL)
		<-done
	}
}

// killGroup signals every process in the command's group. A group that is
// already gone is not an error.
func killGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	err := syscall.Kill(-cmd.Process.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func tailOutput(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 512 {
		s = "..." + s[len(s)-512:]
	}
	return s
}
