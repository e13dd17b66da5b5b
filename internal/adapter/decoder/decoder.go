// Package decoder opens audio files and decodes them into normalized sample
// blocks. The container is identified by its magic bytes, then the codec is
// picked from the container's own headers.
package decoder

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/tejashwikalptaru/reh/internal/domain"
	"github.com/tejashwikalptaru/reh/internal/ports"
)

// BlockFrames is the number of frames returned by one NextBlock call.
const BlockFrames = 4096

// source is one codec reader producing interleaved float32 frames.
type source interface {
	// read decodes up to len(dst)/channels frames into dst and returns the
	// number of frames written. io.EOF ends the stream.
	read(dst []float32) (int, error)

	// seek positions the reader at or before frame and returns the frame reached.
	seek(frame int64) (int64, error)

	close() error
}

// Factory opens files into decoders.
type Factory struct {
	logger *slog.Logger
}

// NewFactory creates a decoder factory.
func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{logger: logger}
}

// Open probes path and returns a decoder positioned at frame zero.
func (f *Factory) Open(path string) (ports.Decoder, error) {
	if path == "" {
		return nil, domain.ErrInvalidFilePath
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %w", path, domain.ErrIO, err)
	}

	info, err := file.Stat()
	if err != nil || !info.Mode().IsRegular() {
		_ = file.Close()
		return nil, fmt.Errorf("%s is not a regular file: %w", path, domain.ErrInvalidFilePath)
	}

	head := make([]byte, probeSize)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		_ = file.Close()
		return nil, fmt.Errorf("read %s: %w: %w", path, domain.ErrIO, err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("rewind %s: %w: %w", path, domain.ErrIO, err)
	}

	container := probeContainer(head[:n])
	src, track, err := openSource(container, file)
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	track.ID = uuid.NewString()
	track.Path = path
	track.Container = string(container)

	f.logger.Debug("decoder opened",
		slog.String("path", path),
		slog.String("container", track.Container),
		slog.String("codec", track.Codec),
		slog.Int("sample_rate", track.SampleRate),
		slog.Int("channels", track.Channels),
		slog.Int64("frames", track.TotalFrames))

	return newStream(track, src), nil
}

func openSource(c container, file *os.File) (source, domain.Track, error) {
	switch c {
	case containerWAVE:
		return openWAVE(file)
	case containerAIFF:
		return openAIFF(file)
	case containerMP3:
		return openMP3(file)
	case containerOgg:
		return openOgg(file)
	case containerFLAC:
		return openFLAC(file)
	case containerMatroska:
		return openMatroska(file)
	case containerCAF:
		return openCAF(file)
	case containerMP4:
		return openMP4(file)
	case containerWavPack:
		return nil, domain.Track{}, domain.UnsupportedError(string(c), "wavpack")
	default:
		return nil, domain.Track{}, domain.UnsupportedError("unknown", "")
	}
}

// stream adapts a source to ports.Decoder, cutting it into blocks and keeping
// the frame count.
type stream struct {
	track domain.Track
	src   source
	pos   int64
	buf   []float32
	err   error
}

func newStream(track domain.Track, src source) *stream {
	return &stream{
		track: track,
		src:   src,
		buf:   make([]float32, BlockFrames*track.Channels),
	}
}

// Track returns the opened track.
func (s *stream) Track() domain.Track {
	return s.track
}

// NextBlock decodes the next block. Its samples stay valid until the next call.
func (s *stream) NextBlock() (domain.SampleBlock, error) {
	if s.err != nil {
		err := s.err
		s.err = nil
		return domain.SampleBlock{}, s.wrap(err)
	}

	for attempts := 0; attempts < 8; attempts++ {
		n, err := s.src.read(s.buf)
		if n > 0 {
			block := domain.SampleBlock{
				StartFrame: s.pos,
				Channels:   s.track.Channels,
				Samples:    s.buf[:n*s.track.Channels],
			}
			s.pos += int64(n)
			if err != nil && !errors.Is(err, io.EOF) {
				s.err = err
			}
			return block, nil
		}
		if err != nil {
			return domain.SampleBlock{}, s.wrap(err)
		}
	}
	return domain.SampleBlock{}, s.wrap(errors.New("decoder made no progress"))
}

func (s *stream) wrap(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	var de *domain.DecodeError
	if errors.As(err, &de) {
		if de.Frame < 0 {
			de.Frame = s.pos
		}
		return de
	}
	return domain.NewDecodeError(s.pos, false, err)
}

// SeekTo moves to frame or the nearest decodable point before it.
func (s *stream) SeekTo(frame int64) (int64, error) {
	if frame < 0 || frame > s.track.TotalFrames {
		return 0, fmt.Errorf("frame %d of %d: %w", frame, s.track.TotalFrames, domain.ErrSeekOutOfRange)
	}
	reached, err := s.src.seek(frame)
	if err != nil {
		return 0, err
	}
	s.pos = reached
	s.err = nil
	return reached, nil
}

// Close releases the file.
func (s *stream) Close() error {
	return s.src.close()
}

// corrupt reports a block that could not be decoded but can be skipped.
func corrupt(err error) error {
	return domain.NewDecodeError(-1, true, err)
}
