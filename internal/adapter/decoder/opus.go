package decoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/hraban/opus.v2"

	"github.com/tejashwikalptaru/reh/internal/domain"
)

const (
	// opusRate is the rate Opus always decodes at.
	opusRate = 48000

	// opusMaxFrame is the longest packet duration, 120 ms at 48 kHz.
	opusMaxFrame = 5760

	// opusPreroll is how far before a seek target decoding restarts so the
	// decoder state has converged by the target.
	opusPreroll = 3840
)

type opusHead struct {
	channels int
	preSkip  int64
}

func parseOpusHead(b []byte) (opusHead, error) {
	if len(b) < 19 || !bytes.HasPrefix(b, []byte("OpusHead")) {
		return opusHead{}, fmt.Errorf("malformed OpusHead: %w", domain.ErrUnsupportedFormat)
	}
	h := opusHead{
		channels: int(b[9]),
		preSkip:  int64(binary.LittleEndian.Uint16(b[10:12])),
	}
	family := b[18]
	if family != 0 || h.channels < 1 || h.channels > 2 {
		return opusHead{}, domain.UnsupportedError("opus", fmt.Sprintf("channel mapping %d with %d channels", family, h.channels))
	}
	return h, nil
}

// opusCore decodes packets and hands out the frames between skipTo and total.
type opusCore struct {
	dec      *opus.Decoder
	channels int
	pcm      []float32
	off      int
	have     int
	cursor   int64 // frame index of pcm[off]
	skipTo   int64
	total    int64
}

func newOpusCore(h opusHead, total int64) (*opusCore, error) {
	c := &opusCore{
		channels: h.channels,
		pcm:      make([]float32, opusMaxFrame*h.channels),
		total:    total,
	}
	if err := c.restart(-h.preSkip, 0); err != nil {
		return nil, err
	}
	return c, nil
}

// restart discards decoder state. The next packet's first frame is cursor.
func (c *opusCore) restart(cursor, skipTo int64) error {
	dec, err := opus.NewDecoder(opusRate, c.channels)
	if err != nil {
		return fmt.Errorf("create opus decoder: %w", err)
	}
	c.dec = dec
	c.off, c.have = 0, 0
	c.cursor = cursor
	c.skipTo = skipTo
	return nil
}

func (c *opusCore) pending() bool {
	return c.off < c.have
}

func (c *opusCore) finished() bool {
	return !c.pending() && c.cursor >= c.total
}

func (c *opusCore) decode(packet []byte) error {
	n, err := c.dec.DecodeFloat32(packet, c.pcm)
	if err != nil {
		return corrupt(fmt.Errorf("opus packet: %w", err))
	}
	c.off, c.have = 0, n
	if c.cursor < c.skipTo {
		drop := min(int64(n), c.skipTo-c.cursor)
		c.off = int(drop)
		c.cursor += drop
	}
	return nil
}

// drain copies pending frames into dst and returns the number copied.
func (c *opusCore) drain(dst []float32) int {
	frames := min(c.have-c.off, len(dst)/c.channels)
	if rest := c.total - c.cursor; int64(frames) > rest {
		frames = int(max(rest, 0))
		c.have = c.off + frames
	}
	copy(dst, c.pcm[c.off*c.channels:(c.off+frames)*c.channels])
	c.off += frames
	c.cursor += int64(frames)
	return frames
}

// read fills dst from next until dst is full or the stream ends.
func (c *opusCore) read(dst []float32, next func() ([]byte, error)) (int, error) {
	written := 0
	want := len(dst) / c.channels
	for written < want {
		if c.pending() {
			written += c.drain(dst[written*c.channels:])
			continue
		}
		if c.finished() {
			break
		}
		packet, err := next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return written, err
		}
		if err := c.decode(packet); err != nil {
			return written, err
		}
	}
	if written == 0 {
		return 0, io.EOF
	}
	return written, nil
}

// oggOpus reads Opus from an Ogg stream. Seeking bisects on page granules.
type oggOpus struct {
	file       *os.File
	stream     *oggStream
	head       opusHead
	core       *opusCore
	dataOffset int64
	size       int64
	skipPage   bool
}

func openOggOpus(file *os.File, s *oggStream, headPacket []byte) (source, domain.Track, error) {
	head, err := parseOpusHead(headPacket)
	if err != nil {
		return nil, domain.Track{}, err
	}
	tags, err := s.next()
	if err != nil || !bytes.HasPrefix(tags.data, []byte("OpusTags")) {
		return nil, domain.Track{}, fmt.Errorf("missing OpusTags: %w", domain.ErrUnsupportedFormat)
	}
	dataOffset := s.pageEnd

	info, err := file.Stat()
	if err != nil {
		return nil, domain.Track{}, fmt.Errorf("stat ogg: %w: %w", domain.ErrIO, err)
	}
	last, ok := s.lastGranule(info.Size())
	if !ok || last <= head.preSkip {
		return nil, domain.Track{}, fmt.Errorf("opus stream without audio pages: %w", domain.ErrIO)
	}

	core, err := newOpusCore(head, last-head.preSkip)
	if err != nil {
		return nil, domain.Track{}, err
	}
	o := &oggOpus{
		file:       file,
		stream:     s,
		head:       head,
		core:       core,
		dataOffset: dataOffset,
		size:       info.Size(),
	}
	track := domain.Track{
		Codec:       "opus",
		SampleRate:  opusRate,
		Channels:    head.channels,
		TotalFrames: core.total,
	}
	return o, track, nil
}

func (o *oggOpus) read(dst []float32) (int, error) {
	return o.core.read(dst, o.nextPacket)
}

func (o *oggOpus) nextPacket() ([]byte, error) {
	for {
		pkt, err := o.stream.next()
		if err != nil {
			return nil, err
		}
		if o.skipPage && pkt.page == 0 {
			continue
		}
		o.skipPage = false
		return pkt.data, nil
	}
}

func (o *oggOpus) seek(frame int64) (int64, error) {
	goal := frame + o.head.preSkip - opusPreroll
	offset, granule, found := int64(0), int64(0), false
	if goal > 0 {
		offset, granule, found = o.stream.seekGranule(o.dataOffset, o.size, goal)
	}

	if !found {
		if err := o.stream.reset(o.dataOffset); err != nil {
			return 0, fmt.Errorf("seek opus: %w: %w", domain.ErrIO, err)
		}
		o.skipPage = false
		return frame, o.core.restart(-o.head.preSkip, frame)
	}

	// Packets completing on the found page end at or before its granule.
	if err := o.stream.reset(offset); err != nil {
		return 0, fmt.Errorf("seek opus: %w: %w", domain.ErrIO, err)
	}
	o.skipPage = true
	return frame, o.core.restart(granule-o.head.preSkip, frame)
}

func (o *oggOpus) close() error {
	return o.file.Close()
}
