package decoder

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mewkiz/flac"

	"github.com/tejashwikalptaru/reh/internal/domain"
)

// flacFile decodes frame by frame. A seek lands on a frame at or before the
// target and decodes forward, dropping the samples before it.
type flacFile struct {
	stream    *flac.Stream
	channels  int
	scale     float32
	total     int64
	blockSize int64

	exhausted bool

	decoded []float32
	off     int
	have    int
}

func openFLAC(file *os.File) (source, domain.Track, error) {
	stream, err := flac.NewSeek(file)
	if err != nil {
		return nil, domain.Track{}, fmt.Errorf("read flac stream: %w: %w", domain.ErrUnsupportedFormat, err)
	}
	info := stream.Info
	channels := int(info.NChannels)
	bits := int(info.BitsPerSample)
	if channels < 1 || bits < 4 || bits > 32 {
		_ = stream.Close()
		return nil, domain.Track{}, domain.UnsupportedError(string(containerFLAC), fmt.Sprintf("%d-bit %d-channel flac", bits, channels))
	}

	f := &flacFile{
		stream:    stream,
		channels:  channels,
		scale:     intScale(bits),
		total:     int64(info.NSamples),
		blockSize: int64(info.BlockSizeMax),
	}
	track := domain.Track{
		Codec:       "flac",
		SampleRate:  int(info.SampleRate),
		Channels:    channels,
		TotalFrames: f.total,
	}
	return f, track, nil
}

func (f *flacFile) read(dst []float32) (int, error) {
	if f.exhausted {
		return 0, io.EOF
	}
	if f.off >= f.have {
		if err := f.decodeFrame(); err != nil {
			return 0, err
		}
	}
	frames := min(f.have-f.off, len(dst)/f.channels)
	copy(dst, f.decoded[f.off*f.channels:(f.off+frames)*f.channels])
	f.off += frames
	return frames, nil
}

func (f *flacFile) decodeFrame() error {
	fr, err := f.stream.ParseNext()
	if err != nil {
		f.off, f.have = 0, 0
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return io.EOF
		}
		return corrupt(fmt.Errorf("flac frame: %w", err))
	}
	if len(fr.Subframes) != f.channels {
		f.off, f.have = 0, 0
		return corrupt(fmt.Errorf("flac frame with %d subframes", len(fr.Subframes)))
	}

	n := int(fr.BlockSize)
	if need := n * f.channels; cap(f.decoded) < need {
		f.decoded = make([]float32, need)
	}
	f.decoded = f.decoded[:n*f.channels]
	for c, sub := range fr.Subframes {
		for i := 0; i < n && i < len(sub.Samples); i++ {
			f.decoded[i*f.channels+c] = float32(sub.Samples[i]) * f.scale
		}
	}
	f.off, f.have = 0, n
	return nil
}

func (f *flacFile) seek(frame int64) (int64, error) {
	f.exhausted = frame >= f.total
	if f.exhausted {
		f.off, f.have = 0, 0
		return f.total, nil
	}
	// flac.Stream numbers a short final frame of a fixed-blocksize stream
	// as if it were full length, so never ask it for a target inside that
	// frame. Aim into the frame before and decode forward instead.
	aim := frame
	if bs := f.blockSize; bs > 0 {
		if last := (f.total - 1) / bs * bs; last > 0 && frame >= last {
			aim = last - 1
		}
	}
	start, err := f.stream.Seek(uint64(aim))
	if err != nil {
		return 0, fmt.Errorf("seek flac: %w: %w", domain.ErrIO, err)
	}
	f.off, f.have = 0, 0
	pos := int64(start)
	for pos < frame {
		if err := f.decodeFrame(); err != nil {
			f.off, f.have = 0, 0
			return pos, nil
		}
		if pos+int64(f.have) > frame {
			f.off = int(frame - pos)
			return frame, nil
		}
		pos += int64(f.have)
		f.off, f.have = 0, 0
	}
	return pos, nil
}

func (f *flacFile) close() error {
	return f.stream.Close()
}
