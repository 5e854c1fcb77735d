package events

import (
	"context"
	"time"

	"github.com/skypro1111/edge-audio-enhancer/internal/audio"
)

// Event describes one processed upload
type Event struct {
	RequestID   string       `json:"request_id"`
	Original    string       `json:"original"`
	Result      string       `json:"result"`
	Enhanced    bool         `json:"enhanced"`
	Reason      string       `json:"reason,omitempty"`
	Bytes       int          `json:"bytes"`
	Format      audio.Format `json:"format"`
	ProcessedAt time.Time    `json:"processed_at"`
}

// Publisher delivers events. Publish failures never affect the upload response.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Nop discards events
type Nop struct{}

func (Nop) Publish(ctx context.Context, event Event) error { return nil }
func (Nop) Close() error                                   { return nil }
