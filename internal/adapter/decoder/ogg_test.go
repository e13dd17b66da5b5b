package decoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// oggPageBytes builds one page. Segments longer than 255 bytes are laced.
// When open is set, the final segment is left unterminated so the packet
// continues on the next page; its length must then be a multiple of 255.
func oggPageBytes(serial uint32, flags byte, granule int64, segments [][]byte, open bool) []byte {
	var lacing []byte
	var body []byte
	for i, seg := range segments {
		n := len(seg)
		for n >= 255 {
			lacing = append(lacing, 255)
			n -= 255
		}
		if !(open && i == len(segments)-1) {
			lacing = append(lacing, byte(n))
		}
		body = append(body, seg...)
	}

	var b bytes.Buffer
	b.WriteString("OggS")
	b.WriteByte(0)
	b.WriteByte(flags)
	_ = binary.Write(&b, binary.LittleEndian, granule)
	_ = binary.Write(&b, binary.LittleEndian, serial)
	_ = binary.Write(&b, binary.LittleEndian, uint32(0))
	_ = binary.Write(&b, binary.LittleEndian, uint32(0))
	b.WriteByte(byte(len(lacing)))
	b.Write(lacing)
	b.Write(body)
	return b.Bytes()
}

func TestOggStream_ReassemblesPacketsAcrossPages(t *testing.T) {
	long := bytes.Repeat([]byte{7}, 510)
	file := bytes.Join([][]byte{
		oggPageBytes(1, oggFirst, 0, [][]byte{[]byte("head")}, false),
		oggPageBytes(2, oggFirst, 0, [][]byte{[]byte("other stream")}, false),
		oggPageBytes(1, 0, 100, [][]byte{[]byte("one"), long}, true),
		oggPageBytes(1, oggContinued, 200, [][]byte{[]byte("tail"), []byte("two")}, false),
	}, nil)

	s := newOggStream(bytes.NewReader(file))
	var got []string
	var granules []int64
	for {
		pkt, err := s.next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, string(pkt.data[:min(len(pkt.data), 4)]))
		granules = append(granules, pkt.granule)
		if len(pkt.data) > 500 {
			assert.Len(t, pkt.data, 514)
		}
	}

	assert.Equal(t, []string{"head", "one", "\x07\x07\x07\x07", "two"}, got)
	assert.Equal(t, []int64{0, 100, 200, 200}, granules)
}

func TestOggStream_ResetDropsContinuedPacket(t *testing.T) {
	split := bytes.Repeat([]byte("s"), 255)
	first := oggPageBytes(1, 0, 100, [][]byte{[]byte("one"), split}, true)
	second := oggPageBytes(1, oggContinued, 200, [][]byte{[]byte("it"), []byte("two")}, false)
	file := append(append([]byte(nil), first...), second...)

	s := newOggStream(bytes.NewReader(file))
	_, err := s.next()
	require.NoError(t, err)

	require.NoError(t, s.reset(int64(len(first))))
	pkt, err := s.next()
	require.NoError(t, err)
	assert.Equal(t, "two", string(pkt.data))
	assert.Equal(t, 0, pkt.page)
}

func TestOggStream_SeekGranule(t *testing.T) {
	var pages [][]byte
	pages = append(pages, oggPageBytes(9, oggFirst, 0, [][]byte{[]byte("head")}, false))
	for i := 1; i <= 50; i++ {
		pages = append(pages, oggPageBytes(9, 0, int64(i*1000), [][]byte{bytes.Repeat([]byte{byte(i)}, 300)}, false))
	}
	file := bytes.Join(pages, nil)
	offsets := make([]int64, len(pages))
	for i := 1; i < len(pages); i++ {
		offsets[i] = offsets[i-1] + int64(len(pages[i-1]))
	}

	s := newOggStream(bytes.NewReader(file))
	_, err := s.next()
	require.NoError(t, err)

	off, g, ok := s.seekGranule(offsets[1], int64(len(file)), 25500)
	require.True(t, ok)
	assert.Equal(t, int64(25000), g)
	assert.Equal(t, offsets[25], off)

	_, _, ok = s.seekGranule(offsets[1], int64(len(file)), 500)
	assert.False(t, ok)

	last, ok := s.lastGranule(int64(len(file)))
	require.True(t, ok)
	assert.Equal(t, int64(50000), last)
}

func TestParseOpusHead(t *testing.T) {
	head := append([]byte("OpusHead"), 1, 2)
	head = binary.LittleEndian.AppendUint16(head, 312)
	head = binary.LittleEndian.AppendUint32(head, 44100)
	head = append(head, 0, 0, 0)

	h, err := parseOpusHead(head)
	require.NoError(t, err)
	assert.Equal(t, 2, h.channels)
	assert.Equal(t, int64(312), h.preSkip)

	surround := append([]byte(nil), head...)
	surround[9], surround[18] = 6, 1
	_, err = parseOpusHead(surround)
	assert.Error(t, err)

	_, err = parseOpusHead([]byte("OpusHead"))
	assert.Error(t, err)
}
