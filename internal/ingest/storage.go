package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/skypro1111/edge-audio-enhancer/internal/audio"
	"github.com/skypro1111/edge-audio-enhancer/internal/protocol"
)

// TimestampLayout formats the UTC timestamp token in stored file names
const TimestampLayout = "20060102T150405Z"

// maxCollisions bounds the suffixes tried for one timestamp
const maxCollisions = 1000

// Stored names the files of one upload. EnhancedPath is where the backend writes;
// it only exists if enhancement succeeded.
type Stored struct {
	Token        string
	OriginalPath string
	EnhancedPath string
}

// Storage writes uploads into a directory
type Storage struct {
	dir  string
	mode os.FileMode
	now  func() time.Time
}

// NewStorage creates dir if needed
func NewStorage(dir string, mode os.FileMode) (*Storage, error) {
	if dir == "" {
		dir = "."
	}
	if mode == 0 {
		mode = 0o644
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}

	return &Storage{dir: dir, mode: mode, now: time.Now}, nil
}

// Dir returns the storage directory
func (s *Storage) Dir() string {
	return s.dir
}

// OriginalName returns the stored name of an upload
func OriginalName(token string, headers protocol.FormatHeaders) string {
	return fmt.Sprintf("original_%s_%s_%s_%s.wav", token, headers.SampleRate, headers.Bits, headers.Channels)
}

// EnhancedName returns the name the enhanced file is written under
func EnhancedName(token string) string {
	return fmt.Sprintf("enhanced_%s.wav", token)
}

// Persist writes pcm as a WAV file named from the current UTC second and the
// header values. Uploads within the same second get a -N suffix on the
// timestamp; an existing file is never overwritten.
func (s *Storage) Persist(pcm []byte, headers protocol.FormatHeaders, format audio.Format) (Stored, error) {
	base := s.now().UTC().Format(TimestampLayout)

	for n := 0; n < maxCollisions; n++ {
		token := base
		if n > 0 {
			token = base + "-" + strconv.Itoa(n)
		}

		stored := Stored{
			Token:        token,
			OriginalPath: filepath.Join(s.dir, OriginalName(token, headers)),
			EnhancedPath: filepath.Join(s.dir, EnhancedName(token)),
		}

		if s.tokenInUse(token) {
			continue
		}

		err := audio.WriteWAVFile(stored.OriginalPath, pcm, format, s.mode)
		if err == nil {
			return stored, nil
		}
		if !os.IsExist(err) {
			return Stored{}, fmt.Errorf("failed to write %s: %w", stored.OriginalPath, err)
		}
	}

	return Stored{}, fmt.Errorf("too many uploads for timestamp %s", base)
}

// tokenInUse reports whether any stored file already carries token, whatever
// format it was uploaded with
func (s *Storage) tokenInUse(token string) bool {
	if _, err := os.Stat(filepath.Join(s.dir, EnhancedName(token))); err == nil {
		return true
	}
	matches, _ := filepath.Glob(filepath.Join(s.dir, "original_"+token+"_*"))
	return len(matches) > 0
}
