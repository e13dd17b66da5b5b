package decoder

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tejashwikalptaru/reh/internal/domain"
)

// Ogg page header flags.
const (
	oggContinued = 0x01
	oggFirst     = 0x02
)

const (
	oggHeaderSize = 27
	oggScanWindow = 64 << 10
)

var oggCapture = []byte("OggS")

type readSeekerAt interface {
	io.ReadSeeker
	io.ReaderAt
}

// openOgg peeks at the first packet to tell Vorbis from Opus.
func openOgg(file *os.File) (source, domain.Track, error) {
	s := newOggStream(file)
	first, err := s.next()
	if err != nil {
		return nil, domain.Track{}, fmt.Errorf("read first ogg packet: %w: %w", domain.ErrIO, err)
	}

	switch {
	case bytes.HasPrefix(first.data, []byte("\x01vorbis")):
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return nil, domain.Track{}, fmt.Errorf("rewind ogg: %w: %w", domain.ErrIO, err)
		}
		return openOggVorbis(file)
	case bytes.HasPrefix(first.data, []byte("OpusHead")):
		return openOggOpus(file, s, first.data)
	case bytes.HasPrefix(first.data, []byte("\x7fFLAC")):
		return nil, domain.Track{}, domain.UnsupportedError(string(containerOgg), "flac")
	case bytes.HasPrefix(first.data, []byte("Speex")):
		return nil, domain.Track{}, domain.UnsupportedError(string(containerOgg), "speex")
	default:
		return nil, domain.Track{}, domain.UnsupportedError(string(containerOgg), "")
	}
}

type oggPacket struct {
	data    []byte
	granule int64 // granule of the page the packet completed on
	page    int   // pages read since the last reset, counting from 0
}

// oggStream reassembles the packets of the first logical stream in a file.
// Packets from other streams are ignored.
type oggStream struct {
	r        readSeekerAt
	br       *bufio.Reader
	serial   uint32
	haveSer  bool
	pageNo   int
	pageEnd  int64 // file offset following the current page
	granule  int64
	lacing   []byte
	body     []byte
	seg      int
	bodyPos  int
	partial  []byte
	spare    []byte
	fresh    bool
	dropping bool
	header   [oggHeaderSize]byte
}

func newOggStream(r readSeekerAt) *oggStream {
	return &oggStream{
		r:      r,
		br:     bufio.NewReaderSize(r, 32<<10),
		pageNo: -1,
		fresh:  true,
	}
}

// reset positions the stream at a page boundary. A packet continued from the
// previous page is dropped.
func (s *oggStream) reset(offset int64) error {
	if _, err := s.r.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	s.br.Reset(s.r)
	s.pageEnd = offset
	s.pageNo = -1
	s.lacing = nil
	s.seg, s.bodyPos = 0, 0
	s.partial = s.partial[:0]
	s.fresh = true
	s.dropping = false
	return nil
}

func (s *oggStream) next() (oggPacket, error) {
	for {
		for s.seg < len(s.lacing) {
			l := int(s.lacing[s.seg])
			s.seg++
			if s.bodyPos+l > len(s.body) {
				return oggPacket{}, errors.New("ogg lacing exceeds page body")
			}
			chunk := s.body[s.bodyPos : s.bodyPos+l]
			s.bodyPos += l

			if s.dropping {
				s.dropping = l == 255
				continue
			}
			s.partial = append(s.partial, chunk...)
			if l < 255 {
				pkt := oggPacket{data: s.partial, granule: s.granule, page: s.pageNo}
				s.partial, s.spare = s.spare[:0], s.partial
				return pkt, nil
			}
		}
		if err := s.readPage(); err != nil {
			return oggPacket{}, err
		}
	}
}

func (s *oggStream) readPage() error {
	for {
		start := s.pageEnd
		if _, err := io.ReadFull(s.br, s.header[:]); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return io.EOF
			}
			return err
		}
		h := s.header[:]
		if !bytes.Equal(h[0:4], oggCapture) || h[4] != 0 {
			return fmt.Errorf("ogg capture pattern missing at %d", start)
		}
		nseg := int(h[26])
		if cap(s.lacing) < 255 {
			s.lacing = make([]byte, 0, 255)
		}
		s.lacing = s.lacing[:nseg]
		if _, err := io.ReadFull(s.br, s.lacing); err != nil {
			return io.EOF
		}
		size := 0
		for _, l := range s.lacing {
			size += int(l)
		}
		if cap(s.body) < size {
			s.body = make([]byte, size)
		}
		s.body = s.body[:size]
		if _, err := io.ReadFull(s.br, s.body); err != nil {
			return io.EOF
		}
		s.pageEnd = start + int64(oggHeaderSize+nseg+size)

		serial := binary.LittleEndian.Uint32(h[14:18])
		if !s.haveSer {
			s.serial, s.haveSer = serial, true
		}
		if serial != s.serial {
			continue
		}

		s.pageNo++
		s.granule = int64(binary.LittleEndian.Uint64(h[6:14]))
		s.seg, s.bodyPos = 0, 0
		continued := h[5]&oggContinued != 0
		switch {
		case continued && s.fresh:
			s.dropping = true
		case !continued && len(s.partial) > 0:
			s.partial = s.partial[:0]
		}
		s.fresh = false
		return nil
	}
}

// pageAt finds the first page of the stream that starts in [from, limit) and
// carries a granule position.
func (s *oggStream) pageAt(from, limit int64) (offset, granule int64, ok bool) {
	window := make([]byte, oggScanWindow)
	for from < limit {
		n, err := s.r.ReadAt(window, from)
		if n < oggHeaderSize {
			return 0, 0, false
		}
		i := bytes.Index(window[:n], oggCapture)
		if i < 0 {
			if err != nil {
				return 0, 0, false
			}
			from += int64(n - len(oggCapture) + 1)
			continue
		}
		at := from + int64(i)
		if at >= limit {
			return 0, 0, false
		}
		size, g, serial, valid := s.peekPage(at)
		switch {
		case !valid:
			from = at + 1
		case serial != s.serial || g < 0:
			from = at + size
		default:
			return at, g, true
		}
	}
	return 0, 0, false
}

func (s *oggStream) peekPage(at int64) (size, granule int64, serial uint32, ok bool) {
	var h [oggHeaderSize + 255]byte
	n, _ := s.r.ReadAt(h[:], at)
	if n < oggHeaderSize || h[4] != 0 {
		return 0, 0, 0, false
	}
	nseg := int(h[26])
	if n < oggHeaderSize+nseg {
		return 0, 0, 0, false
	}
	body := 0
	for _, l := range h[oggHeaderSize : oggHeaderSize+nseg] {
		body += int(l)
	}
	return int64(oggHeaderSize + nseg + body), int64(binary.LittleEndian.Uint64(h[6:14])), binary.LittleEndian.Uint32(h[14:18]), true
}

// lastGranule returns the granule of the final page of the stream.
func (s *oggStream) lastGranule(size int64) (int64, bool) {
	for window := int64(oggScanWindow); ; window *= 4 {
		from := max(0, size-window)
		last, found := int64(0), false
		for at := from; ; {
			off, g, ok := s.pageAt(at, size)
			if !ok {
				break
			}
			last, found = g, true
			psize, _, _, _ := s.peekPage(off)
			at = off + max(psize, 1)
		}
		if found || from == 0 {
			return last, found
		}
	}
}

// seekGranule bisects for the last page whose granule is at or before goal
// and returns its offset and granule. ok is false when no such page exists.
func (s *oggStream) seekGranule(lo, hi, goal int64) (offset, granule int64, ok bool) {
	for lo < hi {
		mid := lo + (hi-lo)/2
		off, g, found := s.pageAt(mid, hi)
		if !found {
			hi = mid
			continue
		}
		if g <= goal {
			offset, granule, ok = off, g, true
			lo = off + 1
		} else {
			hi = mid
		}
	}
	return offset, granule, ok
}
