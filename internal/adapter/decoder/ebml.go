package decoder

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// EBML and Matroska element IDs, marker bits included.
const (
	ebmlHeaderID      = 0x1a45dfa3
	ebmlDocTypeID     = 0x4282
	mkvSegmentID      = 0x18538067
	mkvInfoID         = 0x1549a966
	mkvTimecodeScale  = 0x2ad7b1
	mkvDurationID     = 0x4489
	mkvTracksID       = 0x1654ae6b
	mkvTrackEntryID   = 0xae
	mkvTrackNumberID  = 0xd7
	mkvTrackTypeID    = 0x83
	mkvCodecID        = 0x86
	mkvCodecPrivateID = 0x63a2
	mkvCodecDelayID   = 0x56aa
	mkvAudioID        = 0xe1
	mkvSamplingFreqID = 0xb5
	mkvChannelsID     = 0x9f
	mkvClusterID      = 0x1f43b675
	mkvTimecodeID     = 0xe7
	mkvSimpleBlockID  = 0xa3
	mkvBlockGroupID   = 0xa0
	mkvBlockID        = 0xa1
)

// ebmlUnknownSize marks an element whose size field is all ones.
const ebmlUnknownSize = -1

// ebmlReader walks EBML elements over a seekable file, tracking the offset.
type ebmlReader struct {
	rs  io.ReadSeeker
	br  *bufio.Reader
	off int64
}

func newEBMLReader(rs io.ReadSeeker) *ebmlReader {
	return &ebmlReader{rs: rs, br: bufio.NewReaderSize(rs, 64<<10)}
}

func (e *ebmlReader) seek(off int64) error {
	if _, err := e.rs.Seek(off, io.SeekStart); err != nil {
		return err
	}
	e.br.Reset(e.rs)
	e.off = off
	return nil
}

func (e *ebmlReader) readByte() (byte, error) {
	b, err := e.br.ReadByte()
	if err == nil {
		e.off++
	}
	return b, err
}

// vint reads a variable length integer. With keepMarker the length marker
// stays in the value, as element IDs are written.
func (e *ebmlReader) vint(keepMarker bool) (uint64, int, error) {
	first, err := e.readByte()
	if err != nil {
		return 0, 0, err
	}
	length := 1
	for mask := byte(0x80); first&mask == 0; mask >>= 1 {
		length++
		if mask == 1 {
			return 0, 0, errors.New("invalid ebml vint")
		}
	}
	value := uint64(first)
	if !keepMarker {
		value &= uint64(0xff >> length)
	}
	for i := 1; i < length; i++ {
		b, err := e.readByte()
		if err != nil {
			return 0, 0, io.ErrUnexpectedEOF
		}
		value = value<<8 | uint64(b)
	}
	return value, length, nil
}

// header reads an element ID and size. The size is ebmlUnknownSize when the
// element leaves it open.
func (e *ebmlReader) header() (id uint32, size int64, err error) {
	rawID, idLen, err := e.vint(true)
	if err != nil {
		return 0, 0, err
	}
	if idLen > 4 {
		return 0, 0, errors.New("ebml id too long")
	}
	rawSize, sizeLen, err := e.vint(false)
	if err != nil {
		return 0, 0, io.ErrUnexpectedEOF
	}
	if rawSize == 1<<(7*uint(sizeLen))-1 {
		return uint32(rawID), ebmlUnknownSize, nil
	}
	if rawSize > math.MaxInt32*16 {
		return 0, 0, fmt.Errorf("ebml element %x too large", rawID)
	}
	return uint32(rawID), int64(rawSize), nil
}

func (e *ebmlReader) read(buf []byte) error {
	n, err := io.ReadFull(e.br, buf)
	e.off += int64(n)
	return err
}

func (e *ebmlReader) body(size int64) ([]byte, error) {
	if size < 0 {
		return nil, errors.New("ebml body of unknown size")
	}
	buf := make([]byte, size)
	return buf, e.read(buf)
}

func (e *ebmlReader) skip(size int64) error {
	if size < 0 {
		return errors.New("cannot skip ebml element of unknown size")
	}
	if size <= int64(e.br.Buffered()) {
		n, err := e.br.Discard(int(size))
		e.off += int64(n)
		return err
	}
	return e.seek(e.off + size)
}

// ebmlChildren iterates over the elements packed in b.
func ebmlChildren(b []byte, fn func(id uint32, data []byte) error) error {
	for len(b) > 0 {
		id, n := ebmlVint(b, true)
		if n == 0 {
			return errors.New("truncated ebml child id")
		}
		b = b[n:]
		size, m := ebmlVint(b, false)
		if m == 0 || uint64(len(b)-m) < size {
			return errors.New("truncated ebml child")
		}
		b = b[m:]
		if err := fn(uint32(id), b[:size]); err != nil {
			return err
		}
		b = b[size:]
	}
	return nil
}

// ebmlVint decodes a vint from b and returns it with its length, or length
// zero when b is too short.
func ebmlVint(b []byte, keepMarker bool) (uint64, int) {
	if len(b) == 0 || b[0] == 0 {
		return 0, 0
	}
	length := 1
	for mask := byte(0x80); b[0]&mask == 0; mask >>= 1 {
		length++
	}
	if len(b) < length {
		return 0, 0
	}
	value := uint64(b[0])
	if !keepMarker {
		value &= uint64(0xff >> length)
	}
	for i := 1; i < length; i++ {
		value = value<<8 | uint64(b[i])
	}
	return value, length
}

func ebmlUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func ebmlFloat(b []byte) float64 {
	switch len(b) {
	case 4:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
	case 8:
		return math.Float64frombits(binary.BigEndian.Uint64(b))
	default:
		return 0
	}
}
