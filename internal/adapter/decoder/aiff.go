package decoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/aiff"
	"github.com/go-audio/audio"

	"github.com/tejashwikalptaru/reh/internal/domain"
)

// aiffLayout is what the chunk scan learns about an AIFF file before the
// sample data is handed to go-audio/aiff.
type aiffLayout struct {
	form        []byte // "AIFF" or "AIFC"
	comm        []byte // the whole COMM chunk, header included
	compression string
	channels    int
	frames      int64
	bitDepth    int
	dataStart   int64
	dataSize    int64
}

func scanAIFF(r io.ReadSeeker) (aiffLayout, error) {
	var l aiffLayout
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return l, fmt.Errorf("read form header: %w: %w", domain.ErrIO, err)
	}
	l.form = append([]byte(nil), hdr[8:12]...)
	l.compression = "NONE"

	var haveComm, haveData bool
	for !(haveComm && haveData) {
		var ch [8]byte
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			return l, fmt.Errorf("aiff chunks incomplete: %w: %w", domain.ErrIO, err)
		}
		size := int64(binary.BigEndian.Uint32(ch[4:8]))
		padded := size + size&1

		switch string(ch[0:4]) {
		case "COMM":
			body := make([]byte, padded)
			if _, err := io.ReadFull(r, body); err != nil {
				return l, fmt.Errorf("read COMM: %w: %w", domain.ErrIO, err)
			}
			if size < 18 {
				return l, fmt.Errorf("short COMM chunk: %w", domain.ErrUnsupportedFormat)
			}
			l.comm = append(ch[:], body...)
			l.channels = int(binary.BigEndian.Uint16(body[0:2]))
			l.frames = int64(binary.BigEndian.Uint32(body[2:6]))
			l.bitDepth = int(binary.BigEndian.Uint16(body[6:8]))
			if string(l.form) == "AIFC" && size >= 22 {
				l.compression = string(body[18:22])
			}
			haveComm = true
		case "SSND":
			var off [8]byte
			if _, err := io.ReadFull(r, off[:]); err != nil {
				return l, fmt.Errorf("read SSND: %w: %w", domain.ErrIO, err)
			}
			skip := int64(binary.BigEndian.Uint32(off[0:4]))
			pos, err := r.Seek(0, io.SeekCurrent)
			if err != nil {
				return l, fmt.Errorf("locate SSND: %w: %w", domain.ErrIO, err)
			}
			l.dataStart = pos + skip
			l.dataSize = size - 8 - skip
			if _, err := r.Seek(padded-8, io.SeekCurrent); err != nil {
				return l, fmt.Errorf("skip SSND: %w: %w", domain.ErrIO, err)
			}
			haveData = true
		default:
			if _, err := r.Seek(padded, io.SeekCurrent); err != nil {
				return l, fmt.Errorf("skip aiff chunk: %w: %w", domain.ErrIO, err)
			}
		}
	}
	return l, nil
}

// aiffFile reads big-endian PCM through go-audio/aiff. Seeking builds a new
// decoder over a synthetic header joined to the file at the target offset.
type aiffFile struct {
	file      *os.File
	layout    aiffLayout
	frameSize int64
	dec       *aiff.Decoder
	ints      *audio.IntBuffer
	pos       int64
}

func openAIFF(file *os.File) (source, domain.Track, error) {
	if !aiff.NewDecoder(file).IsValidFile() {
		return nil, domain.Track{}, fmt.Errorf("aiff header rejected: %w", domain.ErrUnsupportedFormat)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, domain.Track{}, fmt.Errorf("rewind aiff: %w: %w", domain.ErrIO, err)
	}

	layout, err := scanAIFF(file)
	if err != nil {
		return nil, domain.Track{}, err
	}
	switch layout.compression {
	case "NONE", "twos":
	default:
		return nil, domain.Track{}, domain.UnsupportedError(string(containerAIFF), layout.compression)
	}
	if layout.channels < 1 {
		return nil, domain.Track{}, fmt.Errorf("aiff with %d channels: %w", layout.channels, domain.ErrUnsupportedFormat)
	}
	switch layout.bitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, domain.Track{}, domain.UnsupportedError(string(containerAIFF), fmt.Sprintf("pcm%d", layout.bitDepth))
	}

	frameSize := int64(layout.channels * layout.bitDepth / 8)
	if avail := layout.dataSize / frameSize; avail < layout.frames {
		layout.frames = avail
	}

	a := &aiffFile{file: file, layout: layout, frameSize: frameSize}
	if _, err := a.seek(0); err != nil {
		return nil, domain.Track{}, err
	}
	format := a.dec.Format()
	if format == nil {
		return nil, domain.Track{}, fmt.Errorf("aiff format unreadable: %w", domain.ErrUnsupportedFormat)
	}
	a.ints = &audio.IntBuffer{Format: format, Data: make([]int, BlockFrames*layout.channels)}

	track := domain.Track{
		Codec:       "pcm",
		SampleRate:  format.SampleRate,
		Channels:    layout.channels,
		TotalFrames: layout.frames,
	}
	return a, track, nil
}

func (a *aiffFile) read(dst []float32) (int, error) {
	ch := a.layout.channels
	frames := int64(len(dst) / ch)
	if remaining := a.layout.frames - a.pos; frames > remaining {
		frames = remaining
	}
	if frames <= 0 {
		return 0, io.EOF
	}

	a.ints.Data = a.ints.Data[:cap(a.ints.Data)]
	if want := int(frames) * ch; want < len(a.ints.Data) {
		a.ints.Data = a.ints.Data[:want]
	}
	n, err := a.dec.PCMBuffer(a.ints)
	n -= n % ch
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}

	scale := intScale(a.layout.bitDepth)
	for i, v := range a.ints.Data[:n] {
		dst[i] = float32(v) * scale
	}
	got := n / ch
	a.pos += int64(got)
	if err != nil && !errors.Is(err, io.EOF) {
		return got, fmt.Errorf("read aiff data: %w", err)
	}
	return got, nil
}

func (a *aiffFile) seek(frame int64) (int64, error) {
	remaining := (a.layout.frames - frame) * a.frameSize
	body := io.NewSectionReader(a.file, a.layout.dataStart+frame*a.frameSize, remaining)

	head := a.header(remaining)
	dec := aiff.NewDecoder(&joinedReader{head: bytes.NewReader(head), body: body, split: int64(len(head))})
	dec.ReadInfo()
	if dec.BitDepth == 0 {
		return 0, fmt.Errorf("reopen aiff at %d: %w", frame, domain.ErrIO)
	}
	a.dec = dec
	a.pos = frame
	return frame, nil
}

// header returns a minimal FORM holding the original COMM chunk and an SSND
// header announcing size bytes of sample data.
func (a *aiffFile) header(size int64) []byte {
	var b bytes.Buffer
	total := 4 + int64(len(a.layout.comm)) + 16 + size
	b.WriteString("FORM")
	_ = binary.Write(&b, binary.BigEndian, uint32(min(total, math.MaxUint32)))
	b.Write(a.layout.form)
	b.Write(a.layout.comm)
	b.WriteString("SSND")
	_ = binary.Write(&b, binary.BigEndian, uint32(min(size+8, math.MaxUint32)))
	_ = binary.Write(&b, binary.BigEndian, [2]uint32{})
	return b.Bytes()
}

func (a *aiffFile) close() error {
	return a.file.Close()
}

// joinedReader presents head followed by body as one seekable stream.
type joinedReader struct {
	head  *bytes.Reader
	body  *io.SectionReader
	split int64
	pos   int64
}

func (j *joinedReader) Read(p []byte) (int, error) {
	if j.pos < j.split {
		n, err := j.head.ReadAt(p[:min(int64(len(p)), j.split-j.pos)], j.pos)
		j.pos += int64(n)
		if err != nil && !errors.Is(err, io.EOF) {
			return n, err
		}
		return n, nil
	}
	n, err := j.body.ReadAt(p, j.pos-j.split)
	j.pos += int64(n)
	if n > 0 && errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

func (j *joinedReader) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = j.pos + offset
	case io.SeekEnd:
		next = j.split + j.body.Size() + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, errors.New("negative position")
	}
	j.pos = next
	return next, nil
}
