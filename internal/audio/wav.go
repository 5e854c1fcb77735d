package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// HeaderSize is the size of the canonical PCM WAV header written by EncodeWAV
const HeaderSize = 44

// WAVHeader represents the header structure of a canonical PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// NewWAVHeader builds the header for dataSize bytes of PCM in the given format
func NewWAVHeader(f Format, dataSize int) WAVHeader {
	// RIFF chunks are word aligned, an odd data chunk carries one pad byte
	padded := uint32(dataSize + dataSize%2)

	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + padded,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.ByteRate()),
		BlockAlign:    uint16(f.BlockAlign()),
		BitsPerSample: uint16(f.BitsPerSample),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(dataSize),
	}
}

// CheckWAVFormat reports whether f fits in a WAV fmt chunk. It is looser than
// Format.Validate: any bit depth from 1 to 64 is accepted, 64-bit float included.
func CheckWAVFormat(f Format) error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.BitsPerSample <= 0 || f.BitsPerSample > 64 {
		return fmt.Errorf("bits per sample out of range: %d", f.BitsPerSample)
	}
	if f.Channels <= 0 || f.Channels > 0xFFFF {
		return fmt.Errorf("channel count out of range: %d", f.Channels)
	}
	return nil
}

// WriteWAV writes pcm wrapped in a WAV container to w
func WriteWAV(w io.Writer, pcm []byte, f Format) error {
	if err := CheckWAVFormat(f); err != nil {
		return err
	}

	header := NewWAVHeader(f, len(pcm))
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}

	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("failed to write audio data: %w", err)
	}

	if len(pcm)%2 == 1 {
		if _, err := w.Write([]byte{0}); err != nil {
			return fmt.Errorf("failed to write pad byte: %w", err)
		}
	}

	return nil
}

// EncodeWAV wraps raw PCM bytes in a WAV container
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(pcm)+1))
	if err := WriteWAV(buf, pcm, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVFile persists pcm as a WAV file. The file must not already exist.
// A partially written file is removed.
func WriteWAVFile(path string, pcm []byte, f Format, perm os.FileMode) error {
	if err := CheckWAVFormat(f); err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}

	if err := WriteWAV(file, pcm, f); err != nil {
		file.Close()
		os.Remove(path)
		return err
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(path)
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}

	return file.Close()
}

// DecodeWAV extracts the PCM bytes and format from WAV data. Chunks other than
// "fmt " and "data" are skipped.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, Format{}, err
	}

	var (
		format  Format
		haveFmt bool
	)

	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, Format{}, fmt.Errorf("invalid WAV file: truncated fmt chunk")
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			// 0xFFFE is WAVE_FORMAT_EXTENSIBLE, which libsndfile uses for >16 bit PCM
			if audioFormat != 1 && audioFormat != 0xFFFE {
				return nil, Format{}, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", audioFormat)
			}
			format = Format{
				Channels:      int(binary.LittleEndian.Uint16(data[body+2 : body+4])),
				SampleRate:    int(binary.LittleEndian.Uint32(data[body+4 : body+8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(data[body+14 : body+16])),
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, Format{}, fmt.Errorf("invalid WAV file: data chunk before fmt chunk")
			}
			if body+size > len(data) {
				return nil, Format{}, fmt.Errorf("invalid WAV file: data chunk declares %d bytes, %d available",
					size, len(data)-body)
			}
			pcm := make([]byte, size)
			copy(pcm, data[body:body+size])
			return pcm, format, nil
		}

		offset = body + size + size%2
	}

	return nil, Format{}, fmt.Errorf("invalid WAV file: missing data chunk")
}

// ReadWAVFile reads and decodes a WAV file from disk
func ReadWAVFile(path string) ([]byte, Format, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Format{}, err
	}
	return DecodeWAV(data)
}

// ValidateWAV checks the RIFF/WAVE preamble without decoding the audio data
func ValidateWAV(data []byte) error {
	if len(data) < 12 {
		return fmt.Errorf("WAV data too short: need at least 12 bytes, got %d", len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	return nil
}

// WAVInfo holds basic information about a WAV file
type WAVInfo struct {
	Format   Format  `json:"format"`
	Duration float64 `json:"duration_seconds"`
	DataSize int     `json:"data_size_bytes"`
	Frames   int     `json:"frames"`
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	pcm, format, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}

	frames := 0
	if align := format.BlockAlign(); align > 0 {
		frames = len(pcm) / align
	}

	return &WAVInfo{
		Format:   format,
		Duration: format.Duration(len(pcm)),
		DataSize: len(pcm),
		Frames:   frames,
	}, nil
}
