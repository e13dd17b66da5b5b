package decoder

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/jfreymuth/vorbis"

	"github.com/tejashwikalptaru/reh/internal/domain"
)

// vorbisPreroll covers the longest Vorbis block, which decodes to nothing
// until its successor arrives.
const vorbisPreroll = 4096

type mkvTrack struct {
	number     uint64
	codecID    string
	private    []byte
	codecDelay int64 // ns
	rate       float64
	channels   int
}

type mkvCluster struct {
	offset int64
	time   int64 // ticks
}

// mkvDemuxer yields the packets of one audio track in file order.
type mkvDemuxer struct {
	file     *os.File
	r        *ebmlReader
	track    uint64
	tickNS   int64
	rate     int64
	clusters []mkvCluster

	clusterTime int64
	body        []byte
	laces       [][]byte
	lace        int
	laceFrame   int64
}

// frames converts ticks to frames at the track rate.
func (d *mkvDemuxer) frames(ticks int64) int64 {
	return ticks * d.tickNS * d.rate / 1e9
}

// clusterBefore returns the index of the last cluster starting at or before frame.
func (d *mkvDemuxer) clusterBefore(frame int64) int {
	i := sort.Search(len(d.clusters), func(i int) bool {
		return d.frames(d.clusters[i].time) > frame
	})
	return max(i-1, 0)
}

func (d *mkvDemuxer) seekCluster(i int) error {
	d.laces, d.lace = nil, 0
	return d.r.seek(d.clusters[i].offset)
}

// next returns the next packet and the frame it starts at, or -1 when only
// the block's first lace carries a timestamp.
func (d *mkvDemuxer) next() ([]byte, int64, error) {
	for {
		if d.lace < len(d.laces) {
			frame := int64(-1)
			if d.lace == 0 {
				frame = d.laceFrame
			}
			p := d.laces[d.lace]
			d.lace++
			return p, frame, nil
		}

		id, size, err := d.r.header()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, 0, io.EOF
			}
			return nil, 0, err
		}
		switch id {
		case mkvSegmentID, mkvClusterID:
			// Entered; children follow.
		case mkvTimecodeID:
			b, err := d.r.body(size)
			if err != nil {
				return nil, 0, io.EOF
			}
			d.clusterTime = int64(ebmlUint(b))
		case mkvSimpleBlockID:
			if err := d.readBlock(size); err != nil {
				return nil, 0, err
			}
		case mkvBlockGroupID:
			b, err := d.r.body(size)
			if err != nil {
				return nil, 0, io.EOF
			}
			err = ebmlChildren(b, func(cid uint32, data []byte) error {
				if cid == mkvBlockID {
					return d.parseBlock(data)
				}
				return nil
			})
			if err != nil {
				return nil, 0, corrupt(err)
			}
		default:
			if size == ebmlUnknownSize {
				continue
			}
			if err := d.r.skip(size); err != nil {
				return nil, 0, io.EOF
			}
		}
	}
}

func (d *mkvDemuxer) readBlock(size int64) error {
	if size < 0 {
		return corrupt(errors.New("simple block of unknown size"))
	}
	if int64(cap(d.body)) < size {
		d.body = make([]byte, size)
	}
	d.body = d.body[:size]
	if err := d.r.read(d.body); err != nil {
		return io.EOF
	}
	if err := d.parseBlock(d.body); err != nil {
		return corrupt(err)
	}
	return nil
}

func (d *mkvDemuxer) parseBlock(b []byte) error {
	track, n := ebmlVint(b, false)
	if n == 0 || len(b) < n+3 {
		return errors.New("truncated block header")
	}
	if track != d.track {
		return nil
	}
	rel := int64(int16(uint16(b[n])<<8 | uint16(b[n+1])))
	flags := b[n+2]
	laces, err := unlace(b[n+3:], flags>>1&0x3)
	if err != nil {
		return err
	}
	d.laces, d.lace = laces, 0
	d.laceFrame = d.frames(d.clusterTime + rel)
	return nil
}

// unlace splits a block payload into frames per its lacing mode.
func unlace(b []byte, mode byte) ([][]byte, error) {
	if mode == 0 {
		return [][]byte{b}, nil
	}
	if len(b) < 1 {
		return nil, errors.New("truncated lace count")
	}
	count := int(b[0]) + 1
	b = b[1:]
	sizes := make([]int, count)

	switch mode {
	case 1: // Xiph
		for i := 0; i < count-1; i++ {
			for {
				if len(b) == 0 {
					return nil, errors.New("truncated xiph lace")
				}
				v := int(b[0])
				b = b[1:]
				sizes[i] += v
				if v < 255 {
					break
				}
			}
		}
	case 2: // fixed
		if len(b)%count != 0 {
			return nil, errors.New("uneven fixed lacing")
		}
		for i := range sizes {
			sizes[i] = len(b) / count
		}
		count = 0
	case 3: // EBML
		first, n := ebmlVint(b, false)
		if n == 0 {
			return nil, errors.New("truncated ebml lace")
		}
		b = b[n:]
		sizes[0] = int(first)
		for i := 1; i < count-1; i++ {
			raw, m := ebmlVint(b, false)
			if m == 0 {
				return nil, errors.New("truncated ebml lace")
			}
			b = b[m:]
			bias := int64(1)<<(7*m-1) - 1
			sizes[i] = sizes[i-1] + int(int64(raw)-bias)
		}
	}

	if count > 0 {
		used := 0
		for _, s := range sizes[:count-1] {
			if s < 0 {
				return nil, errors.New("negative lace size")
			}
			used += s
		}
		if used > len(b) {
			return nil, errors.New("lace sizes exceed block")
		}
		sizes[count-1] = len(b) - used
	}

	out := make([][]byte, len(sizes))
	for i, s := range sizes {
		out[i], b = b[:s], b[s:]
	}
	return out, nil
}

// openMatroska indexes clusters and picks the first audio track.
func openMatroska(file *os.File) (source, domain.Track, error) {
	r := newEBMLReader(file)
	id, size, err := r.header()
	if err != nil || id != ebmlHeaderID {
		return nil, domain.Track{}, fmt.Errorf("read ebml header: %w", domain.ErrUnsupportedFormat)
	}
	hdr, err := r.body(size)
	if err != nil {
		return nil, domain.Track{}, fmt.Errorf("read ebml header: %w: %w", domain.ErrIO, err)
	}
	var docType string
	_ = ebmlChildren(hdr, func(cid uint32, data []byte) error {
		if cid == ebmlDocTypeID {
			docType = string(data)
		}
		return nil
	})
	if docType != "matroska" && docType != "webm" {
		return nil, domain.Track{}, domain.UnsupportedError(string(containerMatroska), "doctype "+docType)
	}

	d := &mkvDemuxer{file: file, r: r, tickNS: 1_000_000}
	var tracks []mkvTrack
	var duration float64
	var knownEnd int64 = -1

scan:
	for {
		start := r.off
		id, size, err := r.header()
		if err != nil {
			break
		}
		switch id {
		case mkvSegmentID:
		case mkvInfoID:
			b, err := r.body(size)
			if err != nil {
				return nil, domain.Track{}, fmt.Errorf("read segment info: %w: %w", domain.ErrIO, err)
			}
			_ = ebmlChildren(b, func(cid uint32, data []byte) error {
				switch cid {
				case mkvTimecodeScale:
					d.tickNS = int64(ebmlUint(data))
				case mkvDurationID:
					duration = ebmlFloat(data)
				}
				return nil
			})
		case mkvTracksID:
			b, err := r.body(size)
			if err != nil {
				return nil, domain.Track{}, fmt.Errorf("read tracks: %w: %w", domain.ErrIO, err)
			}
			tracks = parseTracks(b)
		case mkvClusterID:
			d.clusters = append(d.clusters, mkvCluster{offset: start, time: -1})
			knownEnd = -1
			if size != ebmlUnknownSize {
				knownEnd = r.off + size
			}
		case mkvTimecodeID:
			b, err := r.body(size)
			if err != nil {
				break scan
			}
			if n := len(d.clusters); n > 0 && d.clusters[n-1].time < 0 {
				d.clusters[n-1].time = int64(ebmlUint(b))
			}
			// The rest of a sized cluster is blocks; jump over it.
			if knownEnd >= 0 {
				if err := r.seek(knownEnd); err != nil {
					break scan
				}
				knownEnd = -1
			}
		default:
			if size == ebmlUnknownSize {
				continue
			}
			if err := r.skip(size); err != nil {
				break scan
			}
		}
	}

	if len(tracks) == 0 {
		return nil, domain.Track{}, domain.UnsupportedError(string(containerMatroska), "no audio track")
	}
	audio := &tracks[0]
	clusters := d.clusters[:0]
	for _, c := range d.clusters {
		if c.time >= 0 {
			clusters = append(clusters, c)
		}
	}
	d.clusters = clusters
	if len(d.clusters) == 0 {
		return nil, domain.Track{}, fmt.Errorf("matroska without clusters: %w", domain.ErrIO)
	}
	if d.tickNS <= 0 {
		d.tickNS = 1_000_000
	}
	d.track = audio.number

	switch audio.codecID {
	case "A_OPUS":
		return openMatroskaOpus(d, audio, duration)
	case "A_VORBIS":
		return openMatroskaVorbis(d, audio, duration)
	default:
		return nil, domain.Track{}, domain.UnsupportedError(string(containerMatroska), audio.codecID)
	}
}

func parseTracks(b []byte) []mkvTrack {
	var tracks []mkvTrack
	_ = ebmlChildren(b, func(id uint32, entry []byte) error {
		if id != mkvTrackEntryID {
			return nil
		}
		t := mkvTrack{rate: 8000}
		audio := false
		_ = ebmlChildren(entry, func(cid uint32, data []byte) error {
			switch cid {
			case mkvTrackNumberID:
				t.number = ebmlUint(data)
			case mkvTrackTypeID:
				audio = ebmlUint(data) == 2
			case mkvCodecID:
				t.codecID = string(data)
			case mkvCodecPrivateID:
				t.private = data
			case mkvCodecDelayID:
				t.codecDelay = int64(ebmlUint(data))
			case mkvAudioID:
				t.channels = 1
				_ = ebmlChildren(data, func(aid uint32, v []byte) error {
					switch aid {
					case mkvSamplingFreqID:
						t.rate = ebmlFloat(v)
					case mkvChannelsID:
						t.channels = int(ebmlUint(v))
					}
					return nil
				})
			}
			return nil
		})
		if audio {
			tracks = append(tracks, t)
		}
		return nil
	})
	return tracks
}

// durationFrames converts the segment duration in ticks to frames.
func (d *mkvDemuxer) durationFrames(duration float64) int64 {
	return int64(math.Round(duration * float64(d.tickNS) * float64(d.rate) / 1e9))
}

type mkvOpus struct {
	demux *mkvDemuxer
	head  opusHead
	core  *opusCore
}

func openMatroskaOpus(d *mkvDemuxer, t *mkvTrack, duration float64) (source, domain.Track, error) {
	head, err := parseOpusHead(t.private)
	if err != nil {
		return nil, domain.Track{}, err
	}
	if t.codecDelay > 0 {
		head.preSkip = t.codecDelay * opusRate / 1e9
	}
	d.rate = opusRate
	total := d.durationFrames(duration)
	if total <= 0 {
		return nil, domain.Track{}, fmt.Errorf("opus track without duration: %w", domain.ErrUnsupportedFormat)
	}
	core, err := newOpusCore(head, total)
	if err != nil {
		return nil, domain.Track{}, err
	}
	o := &mkvOpus{demux: d, head: head, core: core}
	if _, err := o.seek(0); err != nil {
		return nil, domain.Track{}, err
	}
	track := domain.Track{
		Codec:       "opus",
		SampleRate:  opusRate,
		Channels:    head.channels,
		TotalFrames: total,
	}
	return o, track, nil
}

func (o *mkvOpus) read(dst []float32) (int, error) {
	return o.core.read(dst, func() ([]byte, error) {
		p, _, err := o.demux.next()
		return p, err
	})
}

func (o *mkvOpus) seek(frame int64) (int64, error) {
	i := o.demux.clusterBefore(frame + o.head.preSkip - opusPreroll)
	if err := o.demux.seekCluster(i); err != nil {
		return 0, fmt.Errorf("seek matroska: %w: %w", domain.ErrIO, err)
	}
	start := o.demux.frames(o.demux.clusters[i].time) - o.head.preSkip
	return frame, o.core.restart(start, frame)
}

func (o *mkvOpus) close() error {
	return o.demux.file.Close()
}

// mkvVorbis decodes Vorbis packets. Its position follows block timestamps,
// re-anchored on the first output after a seek.
type mkvVorbis struct {
	demux    *mkvDemuxer
	dec      vorbis.Decoder
	channels int
	total    int64

	pcm    []float32
	off    int
	cursor int64
	skipTo int64
	resync bool
}

func openMatroskaVorbis(d *mkvDemuxer, t *mkvTrack, duration float64) (source, domain.Track, error) {
	// CodecPrivate holds the three header packets, Xiph laced.
	headers, err := unlace(t.private, 1)
	if err != nil || len(headers) != 3 {
		return nil, domain.Track{}, fmt.Errorf("vorbis codec private: %w", domain.ErrUnsupportedFormat)
	}
	v := &mkvVorbis{demux: d}
	for _, h := range headers {
		if err := v.dec.ReadHeader(h); err != nil {
			return nil, domain.Track{}, fmt.Errorf("vorbis header: %w: %w", domain.ErrUnsupportedFormat, err)
		}
	}
	if !v.dec.HeadersRead() {
		return nil, domain.Track{}, fmt.Errorf("vorbis headers incomplete: %w", domain.ErrUnsupportedFormat)
	}
	v.channels = v.dec.Channels()
	d.rate = int64(v.dec.SampleRate())
	v.total = d.durationFrames(duration)
	if v.total <= 0 {
		return nil, domain.Track{}, fmt.Errorf("vorbis track without duration: %w", domain.ErrUnsupportedFormat)
	}
	if _, err := v.seek(0); err != nil {
		return nil, domain.Track{}, err
	}
	track := domain.Track{
		Codec:       "vorbis",
		SampleRate:  v.dec.SampleRate(),
		Channels:    v.channels,
		TotalFrames: v.total,
	}
	return v, track, nil
}

func (v *mkvVorbis) read(dst []float32) (int, error) {
	written := 0
	want := len(dst) / v.channels
	for written < want {
		if v.off < len(v.pcm)/v.channels {
			frames := min(len(v.pcm)/v.channels-v.off, want-written)
			if rest := v.total - v.cursor; int64(frames) > rest {
				frames = int(max(rest, 0))
				v.pcm = v.pcm[:(v.off+frames)*v.channels]
			}
			copy(dst[written*v.channels:], v.pcm[v.off*v.channels:(v.off+frames)*v.channels])
			v.off += frames
			v.cursor += int64(frames)
			written += frames
			continue
		}
		if v.cursor >= v.total && !v.resync {
			break
		}
		packet, frame, err := v.demux.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return written, err
		}
		out, err := v.dec.Decode(packet)
		if err != nil {
			return written, corrupt(fmt.Errorf("vorbis packet: %w", err))
		}
		if len(out) == 0 {
			continue
		}
		if v.resync && frame >= 0 {
			v.cursor = frame
		}
		v.resync = false
		v.pcm, v.off = out, 0
		if v.cursor < v.skipTo {
			drop := min(int64(len(out)/v.channels), v.skipTo-v.cursor)
			v.off = int(drop)
			v.cursor += drop
		}
	}
	if written == 0 {
		return 0, io.EOF
	}
	return written, nil
}

func (v *mkvVorbis) seek(frame int64) (int64, error) {
	i := v.demux.clusterBefore(frame - vorbisPreroll)
	if err := v.demux.seekCluster(i); err != nil {
		return 0, fmt.Errorf("seek matroska: %w: %w", domain.ErrIO, err)
	}
	v.dec.Clear()
	v.pcm, v.off = nil, 0
	v.cursor = v.demux.frames(v.demux.clusters[i].time)
	v.skipTo = frame
	v.resync = true
	return frame, nil
}

func (v *mkvVorbis) close() error {
	return v.demux.file.Close()
}
