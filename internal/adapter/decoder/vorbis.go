package decoder

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jfreymuth/oggvorbis"

	"github.com/tejashwikalptaru/reh/internal/domain"
)

type oggVorbis struct {
	file     *os.File
	dec      *oggvorbis.Reader
	channels int
	total    int64
}

func openOggVorbis(file *os.File) (source, domain.Track, error) {
	dec, err := oggvorbis.NewReader(file)
	if err != nil {
		return nil, domain.Track{}, fmt.Errorf("read vorbis headers: %w: %w", domain.ErrUnsupportedFormat, err)
	}
	if dec.Channels() < 1 {
		return nil, domain.Track{}, fmt.Errorf("vorbis with %d channels: %w", dec.Channels(), domain.ErrUnsupportedFormat)
	}

	v := &oggVorbis{
		file:     file,
		dec:      dec,
		channels: dec.Channels(),
		total:    dec.Length(),
	}
	track := domain.Track{
		Codec:       "vorbis",
		SampleRate:  dec.SampleRate(),
		Channels:    v.channels,
		TotalFrames: v.total,
	}
	return v, track, nil
}

func (v *oggVorbis) read(dst []float32) (int, error) {
	n, err := v.dec.Read(dst[:len(dst)-len(dst)%v.channels])
	frames := n / v.channels
	switch {
	case err == nil:
		return frames, nil
	case errors.Is(err, io.EOF):
		if frames == 0 {
			return 0, io.EOF
		}
		return frames, nil
	default:
		return frames, corrupt(err)
	}
}

func (v *oggVorbis) seek(frame int64) (int64, error) {
	if err := v.dec.SetPosition(frame); err != nil {
		return 0, fmt.Errorf("seek vorbis: %w: %w", domain.ErrIO, err)
	}
	return v.dec.Position(), nil
}

func (v *oggVorbis) close() error {
	return v.file.Close()
}
