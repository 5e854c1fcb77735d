package capture

import (
	"time"

	"github.com/skypro1111/edge-audio-enhancer/internal/audio"
)

// Payload is a finished recording on disk: raw PCM plus the format it was captured in
type Payload struct {
	Path   string
	Format audio.Format
	Size   int64
}

// Outcome is the result of Record: Completed, Interrupted or Failed
type Outcome interface {
	isOutcome()
}

// Completed holds the recorded payload
type Completed struct {
	Payload Payload
	Elapsed time.Duration
}

// Interrupted means the caller cancelled the recording. The capture process has
// been stopped; whatever it wrote is left at Path.
type Interrupted struct {
	Path                string
	PartialFileRetained bool
}

// Failed means the capture could not be started or did not produce a file
type Failed struct {
	Reason error
}

func (Completed) isOutcome()   {}
func (Interrupted) isOutcome() {}
func (Failed) isOutcome()      {}

func (f Failed) Error() string { return f.Reason.Error() }
func (f Failed) Unwrap() error { return f.Reason }
