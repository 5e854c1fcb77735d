package audio

import "fmt"

// Capture defaults for the ReSpeaker array: 16 kHz, signed 32-bit little-endian, mono.
const (
	CaptureSampleRate    = 16000
	CaptureBitsPerSample = 32
	CaptureChannels      = 1
)

// CaptureFormat is the format produced by the recorder.
var CaptureFormat = Format{
	SampleRate:    CaptureSampleRate,
	BitsPerSample: CaptureBitsPerSample,
	Channels:      CaptureChannels,
}

// Format describes how to interpret raw PCM bytes
type Format struct {
	SampleRate    int `json:"sample_rate"`
	BitsPerSample int `json:"bits_per_sample"`
	Channels      int `json:"channels"`
}

// Validate checks that all three fields are present and consistent
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}

	switch f.BitsPerSample {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("bits per sample must be one of [8, 16, 24, 32], got %d", f.BitsPerSample)
	}

	if f.Channels <= 0 {
		return fmt.Errorf("channel count must be positive, got %d", f.Channels)
	}

	return nil
}

// BlockAlign returns the size in bytes of one frame (one sample for every channel)
func (f Format) BlockAlign() int {
	return f.Channels * ((f.BitsPerSample + 7) / 8)
}

// ByteRate returns the number of PCM bytes per second of audio
func (f Format) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// ValidatePayload checks that a payload of n bytes holds a whole number of frames
func (f Format) ValidatePayload(n int) error {
	if err := f.Validate(); err != nil {
		return err
	}

	if align := f.BlockAlign(); n%align != 0 {
		return fmt.Errorf("payload of %d bytes is not aligned to %d-byte frames", n, align)
	}

	return nil
}

// Duration returns the playback duration of n PCM bytes in seconds
func (f Format) Duration(n int) float64 {
	rate := f.ByteRate()
	if rate <= 0 {
		return 0
	}
	return float64(n) / float64(rate)
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dbit/%dch", f.SampleRate, f.BitsPerSample, f.Channels)
}
