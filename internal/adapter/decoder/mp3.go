package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"

	"github.com/tejashwikalptaru/reh/internal/domain"
)

// go-mp3 always yields 16-bit stereo.
const (
	mp3Channels  = 2
	mp3FrameSize = 4
)

type mp3File struct {
	file  *os.File
	dec   *mp3.Decoder
	raw   []byte
	total int64
}

func openMP3(file *os.File) (source, domain.Track, error) {
	dec, err := mp3.NewDecoder(file)
	if err != nil {
		return nil, domain.Track{}, fmt.Errorf("read mp3 stream: %w: %w", domain.ErrUnsupportedFormat, err)
	}
	if dec.SampleRate() <= 0 {
		return nil, domain.Track{}, fmt.Errorf("mp3 without sample rate: %w", domain.ErrUnsupportedFormat)
	}

	m := &mp3File{
		file:  file,
		dec:   dec,
		raw:   make([]byte, BlockFrames*mp3FrameSize),
		total: dec.Length() / mp3FrameSize,
	}
	track := domain.Track{
		Codec:       "mp3",
		SampleRate:  dec.SampleRate(),
		Channels:    mp3Channels,
		TotalFrames: m.total,
	}
	return m, track, nil
}

func (m *mp3File) read(dst []float32) (int, error) {
	frames := min(len(dst)/mp3Channels, len(m.raw)/mp3FrameSize)
	n, err := io.ReadFull(m.dec, m.raw[:frames*mp3FrameSize])
	got := n / mp3FrameSize
	for i := 0; i < got*mp3Channels; i++ {
		dst[i] = float32(int16(binary.LittleEndian.Uint16(m.raw[2*i:]))) / 32768
	}

	switch {
	case err == nil:
		return got, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		if got == 0 {
			return 0, io.EOF
		}
		return got, nil
	case got > 0:
		return got, corrupt(err)
	default:
		return 0, corrupt(err)
	}
}

func (m *mp3File) seek(frame int64) (int64, error) {
	if _, err := m.dec.Seek(frame*mp3FrameSize, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek mp3: %w: %w", domain.ErrIO, err)
	}
	return frame, nil
}

func (m *mp3File) close() error {
	return m.file.Close()
}
