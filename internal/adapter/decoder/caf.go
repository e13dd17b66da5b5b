package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/tejashwikalptaru/reh/internal/domain"
)

// Linear PCM flags of a CAF desc chunk.
const (
	cafFlagFloat        = 1 << 0
	cafFlagLittleEndian = 1 << 1
)

// cafFile reads uncompressed linear PCM from a Core Audio Format file.
type cafFile struct {
	file         *os.File
	channels     int
	bytesPer     int
	float        bool
	littleEndian bool
	dataStart    int64
	total        int64
	pos          int64
	raw          []byte
}

func openCAF(file *os.File) (source, domain.Track, error) {
	var fileHeader [8]byte
	if _, err := io.ReadFull(file, fileHeader[:]); err != nil {
		return nil, domain.Track{}, fmt.Errorf("read caf header: %w: %w", domain.ErrIO, err)
	}

	var (
		haveDesc   bool
		rate       float64
		formatID   string
		flags      uint32
		frameBytes uint32
		channels   uint32
		bits       uint32
	)
	for {
		var hdr [12]byte
		if _, err := io.ReadFull(file, hdr[:]); err != nil {
			return nil, domain.Track{}, fmt.Errorf("caf data chunk missing: %w: %w", domain.ErrIO, err)
		}
		kind := string(hdr[0:4])
		size := int64(binary.BigEndian.Uint64(hdr[4:12]))

		switch kind {
		case "desc":
			var desc [32]byte
			if size < int64(len(desc)) {
				return nil, domain.Track{}, fmt.Errorf("short caf desc chunk: %w", domain.ErrUnsupportedFormat)
			}
			if _, err := io.ReadFull(file, desc[:]); err != nil {
				return nil, domain.Track{}, fmt.Errorf("read caf desc: %w: %w", domain.ErrIO, err)
			}
			rate = math.Float64frombits(binary.BigEndian.Uint64(desc[0:8]))
			formatID = string(desc[8:12])
			flags = binary.BigEndian.Uint32(desc[12:16])
			frameBytes = binary.BigEndian.Uint32(desc[16:20])
			channels = binary.BigEndian.Uint32(desc[24:28])
			bits = binary.BigEndian.Uint32(desc[28:32])
			if _, err := file.Seek(size-int64(len(desc)), io.SeekCurrent); err != nil {
				return nil, domain.Track{}, fmt.Errorf("skip caf desc: %w: %w", domain.ErrIO, err)
			}
			haveDesc = true
		case "data":
			if !haveDesc {
				return nil, domain.Track{}, fmt.Errorf("caf data before desc: %w", domain.ErrUnsupportedFormat)
			}
			if formatID != "lpcm" {
				return nil, domain.Track{}, domain.UnsupportedError(string(containerCAF), formatID)
			}
			return newCAF(file, rate, flags, frameBytes, channels, bits, size)
		default:
			if size < 0 {
				return nil, domain.Track{}, fmt.Errorf("caf chunk %q of unknown size: %w", kind, domain.ErrIO)
			}
			if _, err := file.Seek(size, io.SeekCurrent); err != nil {
				return nil, domain.Track{}, fmt.Errorf("skip caf chunk: %w: %w", domain.ErrIO, err)
			}
		}
	}
}

func newCAF(file *os.File, rate float64, flags, frameBytes, channels, bits uint32, size int64) (source, domain.Track, error) {
	isFloat := flags&cafFlagFloat != 0
	switch {
	case channels < 1:
		return nil, domain.Track{}, fmt.Errorf("caf with %d channels: %w", channels, domain.ErrUnsupportedFormat)
	case isFloat && bits != 32 && bits != 64:
		return nil, domain.Track{}, domain.UnsupportedError(string(containerCAF), fmt.Sprintf("float%d", bits))
	case !isFloat && bits != 8 && bits != 16 && bits != 24 && bits != 32:
		return nil, domain.Track{}, domain.UnsupportedError(string(containerCAF), fmt.Sprintf("pcm%d", bits))
	case frameBytes != channels*bits/8:
		return nil, domain.Track{}, domain.UnsupportedError(string(containerCAF), "padded lpcm")
	}

	// The data chunk opens with a 4-byte edit count.
	var edit [4]byte
	if _, err := io.ReadFull(file, edit[:]); err != nil {
		return nil, domain.Track{}, fmt.Errorf("read caf data: %w: %w", domain.ErrIO, err)
	}
	start, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, domain.Track{}, fmt.Errorf("locate caf data: %w: %w", domain.ErrIO, err)
	}
	dataSize := size - 4
	if size < 0 {
		// A size of -1 means the data runs to the end of the file.
		info, err := file.Stat()
		if err != nil {
			return nil, domain.Track{}, fmt.Errorf("stat caf: %w: %w", domain.ErrIO, err)
		}
		dataSize = info.Size() - start
	}

	c := &cafFile{
		file:         file,
		channels:     int(channels),
		bytesPer:     int(bits / 8),
		float:        isFloat,
		littleEndian: flags&cafFlagLittleEndian != 0,
		dataStart:    start,
		total:        dataSize / int64(frameBytes),
		raw:          make([]byte, BlockFrames*int(frameBytes)),
	}
	codec := "pcm"
	if isFloat {
		codec = "float"
	}
	track := domain.Track{
		Codec:       codec,
		SampleRate:  int(math.Round(rate)),
		Channels:    int(channels),
		TotalFrames: c.total,
	}
	return c, track, nil
}

func (c *cafFile) read(dst []float32) (int, error) {
	frameSize := c.channels * c.bytesPer
	frames := min(int64(len(dst)/c.channels), int64(len(c.raw)/frameSize), c.total-c.pos)
	if frames <= 0 {
		return 0, io.EOF
	}
	n, err := io.ReadFull(c.file, c.raw[:frames*int64(frameSize)])
	got := n / frameSize
	if got == 0 {
		if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return 0, err
	}

	var order binary.ByteOrder = binary.BigEndian
	if c.littleEndian {
		order = binary.LittleEndian
	}
	for i := 0; i < got*c.channels; i++ {
		dst[i] = c.sample(c.raw[i*c.bytesPer:], order)
	}
	c.pos += int64(got)
	return got, nil
}

func (c *cafFile) sample(b []byte, order binary.ByteOrder) float32 {
	switch {
	case c.float && c.bytesPer == 8:
		return float32(math.Float64frombits(order.Uint64(b)))
	case c.float:
		return math.Float32frombits(order.Uint32(b))
	case c.bytesPer == 1:
		return float32(int8(b[0])) / 128
	case c.bytesPer == 2:
		return float32(int16(order.Uint16(b))) / 32768
	case c.bytesPer == 3:
		var v int32
		if c.littleEndian {
			v = int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
		} else {
			v = int32(int8(b[0]))<<16 | int32(b[1])<<8 | int32(b[2])
		}
		return float32(v) / (1 << 23)
	default:
		return float32(int32(order.Uint32(b))) / (1 << 31)
	}
}

func (c *cafFile) seek(frame int64) (int64, error) {
	offset := c.dataStart + frame*int64(c.channels*c.bytesPer)
	if _, err := c.file.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek caf data: %w: %w", domain.ErrIO, err)
	}
	c.pos = frame
	return frame, nil
}

func (c *cafFile) close() error {
	return c.file.Close()
}
