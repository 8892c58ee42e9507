package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/loqalabs/loqa-stt/internal/protocol"
)

// ErrFormatMismatch is returned when a chunk's format differs from the
// format fixed by the session's first chunk.
var ErrFormatMismatch = errors.New("audio format differs from session format")

// Format is the PCM shape declared by the first chunk of an utterance.
type Format struct {
	Rate     int
	Width    int
	Channels int
}

func formatOf(chunk protocol.AudioChunk) Format {
	return Format{Rate: chunk.Rate, Width: chunk.Width, Channels: chunk.Channels}
}

// Spool accumulates one utterance of PCM audio into a temporary WAV file.
// It is owned exclusively by its session and removed on every exit path.
type Spool struct {
	path   string
	file   *os.File
	enc    *wav.Encoder
	format Format
	bytes  int64
}

// OpenSpool creates the temp WAV file and fixes its header from the first
// chunk's format.
func OpenSpool(dir string, format Format) (*Spool, error) {
	if format.Rate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("invalid audio format: rate=%d channels=%d", format.Rate, format.Channels)
	}
	if format.Width != 2 && format.Width != 4 {
		return nil, fmt.Errorf("unsupported sample width: %d bytes", format.Width)
	}
	if dir == "" {
		dir = os.TempDir()
	}

	path := filepath.Join(dir, "loqa_stt_"+uuid.NewString()+".wav")
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}

	enc := wav.NewEncoder(file, format.Rate, format.Width*8, format.Channels, 1)
	return &Spool{
		path:   path,
		file:   file,
		enc:    enc,
		format: format,
	}, nil
}

// Write appends one chunk of frames. The chunk must match the spool's
// declared format.
func (s *Spool) Write(chunk protocol.AudioChunk) error {
	if formatOf(chunk) != s.format {
		return fmt.Errorf("%w: have %+v, got rate=%d width=%d channels=%d",
			ErrFormatMismatch, s.format, chunk.Rate, chunk.Width, chunk.Channels)
	}
	if len(chunk.Audio)%s.format.Width != 0 {
		return fmt.Errorf("pcm payload not aligned to %d-byte samples", s.format.Width)
	}

	samples := make([]int, len(chunk.Audio)/s.format.Width)
	switch s.format.Width {
	case 2:
		for i := range samples {
			samples[i] = int(int16(binary.LittleEndian.Uint16(chunk.Audio[i*2:])))
		}
	case 4:
		for i := range samples {
			samples[i] = int(int32(binary.LittleEndian.Uint32(chunk.Audio[i*4:])))
		}
	}

	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: s.format.Channels, SampleRate: s.format.Rate},
		Data:           samples,
		SourceBitDepth: s.format.Width * 8,
	}
	if err := s.enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav frames: %w", err)
	}
	s.bytes += int64(len(chunk.Audio))
	return nil
}

// Close finalizes the WAV header and closes the file. The file stays on
// disk until Remove.
func (s *Spool) Close() error {
	if s.enc != nil {
		if err := s.enc.Close(); err != nil {
			s.file.Close()
			s.enc = nil
			return fmt.Errorf("close wav encoder: %w", err)
		}
		s.enc = nil
	}
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		if err != nil {
			return fmt.Errorf("close spool file: %w", err)
		}
	}
	return nil
}

// Remove closes the spool if needed and deletes the file.
func (s *Spool) Remove() {
	_ = s.Close()
	_ = os.Remove(s.path)
}

func (s *Spool) Path() string {
	return s.path
}

func (s *Spool) Format() Format {
	return s.format
}

// Duration reports the buffered audio length derived from byte count.
func (s *Spool) Duration() time.Duration {
	bytesPerSecond := int64(s.format.Rate * s.format.Width * s.format.Channels)
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(s.bytes * int64(time.Second) / bytesPerSecond)
}
