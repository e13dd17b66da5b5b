package decoder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/abema/go-mp4"

	"github.com/tejashwikalptaru/reh/internal/domain"
)

var (
	boxTypeALAC = mp4.StrToBoxType("alac")
	boxTypeOpus = mp4.StrToBoxType("Opus")
	boxTypeFLAC = mp4.StrToBoxType("fLaC")
)

// mp4Packet locates one coded sample of the audio track.
type mp4Packet struct {
	offset int64
	size   uint32
	start  int64
}

// mp4Track is the first sound track of an MP4 file with its sample table
// flattened into packets.
type mp4Track struct {
	format    mp4.BoxType
	entry     []byte
	timescale uint32
	packets   []mp4Packet
	total     int64
}

// codec names the sample entry format.
func (t *mp4Track) codec() string {
	switch t.format {
	case mp4.BoxTypeMp4a():
		return "aac"
	case boxTypeALAC:
		return "alac"
	case boxTypeOpus:
		return "opus"
	case boxTypeFLAC:
		return "flac"
	default:
		return strings.TrimSpace(t.format.String())
	}
}

var errNoSoundTrack = errors.New("no sound track")

func stblPath(leaf mp4.BoxType) mp4.BoxPath {
	return mp4.BoxPath{mp4.BoxTypeMdia(), mp4.BoxTypeMinf(), mp4.BoxTypeStbl(), leaf}
}

// readMP4Track finds the first track whose handler is "soun".
func readMP4Track(r io.ReadSeeker) (*mp4Track, error) {
	traks, err := mp4.ExtractBox(r, nil, mp4.BoxPath{mp4.BoxTypeMoov(), mp4.BoxTypeTrak()})
	if err != nil {
		return nil, err
	}
	for _, trak := range traks {
		hdlrs, err := mp4.ExtractBoxWithPayload(r, trak, mp4.BoxPath{mp4.BoxTypeMdia(), mp4.BoxTypeHdlr()})
		if err != nil {
			return nil, err
		}
		if len(hdlrs) == 0 || hdlrs[0].Payload.(*mp4.Hdlr).HandlerType != [4]byte{'s', 'o', 'u', 'n'} {
			continue
		}
		return readSoundTrack(r, trak)
	}
	return nil, errNoSoundTrack
}

func readSoundTrack(r io.ReadSeeker, trak *mp4.BoxInfo) (*mp4Track, error) {
	boxes, err := mp4.ExtractBoxesWithPayload(r, trak, []mp4.BoxPath{
		{mp4.BoxTypeMdia(), mp4.BoxTypeMdhd()},
		stblPath(mp4.BoxTypeStts()),
		stblPath(mp4.BoxTypeStsc()),
		stblPath(mp4.BoxTypeStsz()),
		stblPath(mp4.BoxTypeStco()),
		stblPath(mp4.BoxTypeCo64()),
	})
	if err != nil {
		return nil, err
	}

	track := &mp4Track{}
	var (
		stts    *mp4.Stts
		stsc    *mp4.Stsc
		stsz    *mp4.Stsz
		offsets []uint64
	)
	for _, b := range boxes {
		switch box := b.Payload.(type) {
		case *mp4.Mdhd:
			track.timescale = box.Timescale
		case *mp4.Stts:
			stts = box
		case *mp4.Stsc:
			stsc = box
		case *mp4.Stsz:
			stsz = box
		case *mp4.Stco:
			for _, off := range box.ChunkOffset {
				offsets = append(offsets, uint64(off))
			}
		case *mp4.Co64:
			offsets = box.ChunkOffset
		}
	}
	if track.timescale == 0 || stts == nil || stsc == nil || stsz == nil || len(offsets) == 0 {
		return nil, errors.New("incomplete sample table")
	}

	entries, err := mp4.ExtractBox(r, trak, append(stblPath(mp4.BoxTypeStsd()), mp4.BoxTypeAny()))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.New("empty sample description")
	}
	entry := entries[0]
	track.format = entry.Type
	track.entry = make([]byte, entry.Size-entry.HeaderSize)
	if _, err := entry.SeekToPayload(r); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, track.entry); err != nil {
		return nil, err
	}

	if err := track.buildPackets(stts, stsc, stsz, offsets); err != nil {
		return nil, err
	}
	return track, nil
}

// buildPackets joins the time, chunk and size tables into one packet list.
func (t *mp4Track) buildPackets(stts *mp4.Stts, stsc *mp4.Stsc, stsz *mp4.Stsz, offsets []uint64) error {
	count := int(stsz.SampleCount)
	sizeOf := func(i int) uint32 {
		if stsz.SampleSize != 0 {
			return stsz.SampleSize
		}
		return stsz.EntrySize[i]
	}
	if stsz.SampleSize == 0 && len(stsz.EntrySize) < count {
		return fmt.Errorf("stsz lists %d of %d samples", len(stsz.EntrySize), count)
	}

	t.packets = make([]mp4Packet, 0, count)
	sample := 0
	for ci, off := range offsets {
		perChunk := samplesInChunk(stsc, uint32(ci+1))
		pos := int64(off)
		for j := uint32(0); j < perChunk && sample < count; j++ {
			size := sizeOf(sample)
			t.packets = append(t.packets, mp4Packet{offset: pos, size: size})
			pos += int64(size)
			sample++
		}
	}
	if sample < count {
		return fmt.Errorf("chunks hold %d of %d samples", sample, count)
	}

	var ticks uint64
	i := 0
	for _, e := range stts.Entries {
		for n := uint32(0); n < e.SampleCount && i < len(t.packets); n++ {
			t.packets[i].start = int64(ticks)
			ticks += uint64(e.SampleDelta)
			i++
		}
	}
	if i < len(t.packets) {
		return fmt.Errorf("stts times %d of %d samples", i, len(t.packets))
	}
	t.total = int64(ticks)
	return nil
}

func samplesInChunk(stsc *mp4.Stsc, chunk uint32) uint32 {
	var n uint32
	for _, e := range stsc.Entries {
		if e.FirstChunk > chunk {
			break
		}
		n = e.SamplesPerChunk
	}
	return n
}

// packetAt returns the index of the packet holding tick.
func (t *mp4Track) packetAt(tick int64) int {
	return sort.Search(len(t.packets), func(i int) bool {
		return t.packets[i].start > tick
	}) - 1
}

func openMP4(file *os.File) (source, domain.Track, error) {
	track, err := readMP4Track(file)
	if err != nil {
		return nil, domain.Track{}, fmt.Errorf("read mp4 boxes: %w: %w", domain.ErrUnsupportedFormat, err)
	}
	if track.format != boxTypeALAC {
		return nil, domain.Track{}, domain.UnsupportedError(string(containerMP4), track.codec())
	}
	return openMP4ALAC(file, track)
}

// mp4ALAC reads ALAC packets through the sample table. Every packet decodes
// on its own, so seeks are exact.
type mp4ALAC struct {
	file     *os.File
	track    *mp4Track
	dec      *alacDecoder
	channels int
	scale    float32

	next   int
	packet []byte
	off    int
	have   int
}

func openMP4ALAC(file *os.File, track *mp4Track) (source, domain.Track, error) {
	cookie, ok := findALACCookie(track.entry)
	if !ok {
		return nil, domain.Track{}, fmt.Errorf("alac config missing: %w", domain.ErrUnsupportedFormat)
	}
	cfg, err := parseALACConfig(cookie)
	if err != nil {
		return nil, domain.Track{}, domain.UnsupportedError(string(containerMP4), err.Error())
	}
	if track.timescale != cfg.sampleRate {
		return nil, domain.Track{}, domain.UnsupportedError(string(containerMP4),
			fmt.Sprintf("alac at %d Hz in a %d Hz track", cfg.sampleRate, track.timescale))
	}

	a := &mp4ALAC{
		file:     file,
		track:    track,
		dec:      newALACDecoder(cfg),
		channels: int(cfg.channels),
		scale:    intScale(int(cfg.bitDepth)),
	}
	info := domain.Track{
		Codec:       "alac",
		SampleRate:  int(cfg.sampleRate),
		Channels:    a.channels,
		TotalFrames: track.total,
	}
	return a, info, nil
}

func (a *mp4ALAC) read(dst []float32) (int, error) {
	if a.off >= a.have {
		if err := a.decodePacket(); err != nil {
			return 0, err
		}
	}
	frames := min(a.have-a.off, len(dst)/a.channels)
	samples := a.dec.out[a.off*a.channels : (a.off+frames)*a.channels]
	for i, v := range samples {
		dst[i] = float32(v) * a.scale
	}
	a.off += frames
	return frames, nil
}

func (a *mp4ALAC) decodePacket() error {
	a.off, a.have = 0, 0
	if a.next >= len(a.track.packets) {
		return io.EOF
	}
	p := a.track.packets[a.next]
	a.next++

	if cap(a.packet) < int(p.size) {
		a.packet = make([]byte, p.size)
	}
	a.packet = a.packet[:p.size]
	if _, err := a.file.ReadAt(a.packet, p.offset); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("read alac packet %d: %w: %w", a.next-1, domain.ErrIO, err)
	}

	n, err := a.dec.decode(a.packet)
	if err != nil {
		return corrupt(fmt.Errorf("alac packet %d: %w", a.next-1, err))
	}
	a.have = n
	return nil
}

func (a *mp4ALAC) seek(frame int64) (int64, error) {
	a.off, a.have = 0, 0
	if frame >= a.track.total {
		a.next = len(a.track.packets)
		return a.track.total, nil
	}
	i := max(a.track.packetAt(frame), 0)
	a.next = i
	start := a.track.packets[i].start
	if frame == start {
		return start, nil
	}
	if err := a.decodePacket(); err != nil {
		a.next = i
		return start, nil
	}
	a.off = int(min(frame-start, int64(a.have)))
	return start + int64(a.off), nil
}

func (a *mp4ALAC) close() error {
	return a.file.Close()
}
